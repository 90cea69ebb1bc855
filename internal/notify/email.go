package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// EmailSender delivers one email. Implementations can be swapped (SendGrid,
// SES, stub) without changing the dispatcher.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Body    string
	HTML    string
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    zerolog.Logger
}

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(cfg SendGridConfig, logger zerolog.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	return &SendGridSender{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

const defaultFromName = "Clinica"

func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.To)

	html := msg.HTML
	if html == "" {
		html = msg.Body
	}
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Body, html)

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("notify: sendgrid send failed: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	}

	s.logger.Debug().Str("to", msg.To).Int("status", response.StatusCode).Msg("email sent via sendgrid")
	return nil
}

// StubEmailSender logs instead of sending. Development default.
type StubEmailSender struct {
	logger zerolog.Logger
}

func NewStubEmailSender(logger zerolog.Logger) *StubEmailSender {
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(_ context.Context, msg EmailMessage) error {
	s.logger.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg("stub email sender: would send email")
	return nil
}

var (
	_ EmailSender = (*SendGridSender)(nil)
	_ EmailSender = (*StubEmailSender)(nil)
)
