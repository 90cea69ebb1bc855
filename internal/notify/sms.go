package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// SMSSender delivers one text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

type HTTPSMSConfig struct {
	BaseURL    string
	APIKey     string
	From       string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// HTTPSMSSender posts messages to a JSON SMS gateway:
// POST {BaseURL}/messages {"from","to","text"} with a bearer token.
type HTTPSMSSender struct {
	baseURL    string
	apiKey     string
	from       string
	httpClient *http.Client
}

func NewHTTPSMSSender(cfg HTTPSMSConfig) (*HTTPSMSSender, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("notify: sms gateway url is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("notify: sms gateway api key is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &HTTPSMSSender{baseURL: baseURL, apiKey: cfg.APIKey, from: cfg.From, httpClient: httpClient}, nil
}

func (s *HTTPSMSSender) SendSMS(ctx context.Context, to, body string) error {
	payload, err := json.Marshal(struct {
		From string `json:"from,omitempty"`
		To   string `json:"to"`
		Text string `json:"text"`
	}{From: s.from, To: to, Text: body})
	if err != nil {
		return fmt.Errorf("notify: encode sms: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: build sms request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: sms gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notify: sms gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type StubSMSSender struct {
	logger zerolog.Logger
}

func NewStubSMSSender(logger zerolog.Logger) *StubSMSSender {
	return &StubSMSSender{logger: logger}
}

func (s *StubSMSSender) SendSMS(_ context.Context, to, body string) error {
	s.logger.Info().Str("to", to).Int("chars", len(body)).Msg("stub sms sender: would send sms")
	return nil
}

var (
	_ SMSSender = (*HTTPSMSSender)(nil)
	_ SMSSender = (*StubSMSSender)(nil)
)
