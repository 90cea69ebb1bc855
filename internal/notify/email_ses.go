package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/rs/zerolog"
)

// SESAPI is the part of *sesv2.Client the sender uses.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type SESConfig struct {
	FromEmail string
	FromName  string
}

type SESSender struct {
	client    SESAPI
	fromEmail string
	fromName  string
	logger    zerolog.Logger
}

func NewSESSender(client SESAPI, cfg SESConfig, logger zerolog.Logger) *SESSender {
	if client == nil {
		return nil
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	return &SESSender{client: client, fromEmail: cfg.FromEmail, fromName: cfg.FromName, logger: logger}
}

func (s *SESSender) Send(ctx context.Context, msg EmailMessage) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("notify: SES client not configured")
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    &types.Body{},
			},
		},
	}
	if msg.Body != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")}
	}
	if msg.HTML != "" {
		input.Content.Simple.Body.Html = &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")}
	}

	output, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("notify: SES send failed: %w", err)
	}

	s.logger.Debug().Str("to", msg.To).Str("message_id", aws.ToString(output.MessageId)).Msg("email sent via SES")
	return nil
}

var _ EmailSender = (*SESSender)(nil)
