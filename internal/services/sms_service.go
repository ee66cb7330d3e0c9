package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BradenHooton/trustgate/internal/config"
	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/BradenHooton/trustgate/pkg/logger"
)

// CodeSender delivers a human-readable one-time code. ttl is how long the
// code stays valid and is quoted in the message.
type CodeSender interface {
	SendCode(ctx context.Context, to, code string, ttl time.Duration) error
}

// SMSGatewaySender posts codes to an HTTP SMS gateway
type SMSGatewaySender struct {
	gatewayURL string
	apiKey     string
	senderID   string
	client     *http.Client
	logger     *slog.Logger
}

// NewSMSGatewaySender creates a new SMSGatewaySender
func NewSMSGatewaySender(cfg config.SMSConfig, logger *slog.Logger) *SMSGatewaySender {
	return &SMSGatewaySender{
		gatewayURL: cfg.GatewayURL,
		apiKey:     cfg.APIKey,
		senderID:   cfg.SenderID,
		client:     &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// SendCode sends the code as a text message. to is the national subscriber
// number; the gateway only delivers domestically.
func (s *SMSGatewaySender) SendCode(ctx context.Context, to, code string, ttl time.Duration) error {
	if s.gatewayURL == "" || s.apiKey == "" {
		return models.ErrMisconfigured
	}

	form := url.Values{}
	form.Set("auth_token", s.apiKey)
	form.Set("to", to)
	form.Set("text", fmt.Sprintf("Your verification code is %s. It expires in %s.", code, expiryText(ttl)))
	if s.senderID != "" {
		form.Set("from", s.senderID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		reason := "transport"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		s.logger.Error("sms gateway request failed",
			slog.String("to", logger.SanitizedPhone(to)),
			slog.String("reason", reason),
			slog.Any("error", err))
		return fmt.Errorf("sms gateway: %w", models.ErrProviderFailed)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Error("sms gateway rejected message",
			slog.String("to", logger.SanitizedPhone(to)),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)))
		return fmt.Errorf("sms gateway status %d: %w", resp.StatusCode, models.ErrProviderFailed)
	}

	s.logger.Info("sms code sent", slog.String("to", logger.SanitizedPhone(to)))
	return nil
}
