package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/BradenHooton/trustgate/pkg/logger"
)

// SESAPI is the subset of the SES client used to send mail
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESEmailSender emails one-time codes through AWS SES
type SESEmailSender struct {
	client      SESAPI
	fromAddress string
	logger      *slog.Logger
}

// NewSESEmailSender loads the default AWS config for region and creates a sender
func NewSESEmailSender(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESEmailSender, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSESEmailSenderWithClient(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

// NewSESEmailSenderWithClient creates a sender around an existing SES client
func NewSESEmailSenderWithClient(client SESAPI, fromAddress string, logger *slog.Logger) *SESEmailSender {
	return &SESEmailSender{
		client:      client,
		fromAddress: fromAddress,
		logger:      logger,
	}
}

// SendCode emails the code to the address
func (s *SESEmailSender) SendCode(ctx context.Context, to, code string, ttl time.Duration) error {
	if s.fromAddress == "" {
		return models.ErrMisconfigured
	}

	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <p>Your verification code is:</p>
    <p style="font-size: 28px; letter-spacing: 6px; font-weight: bold;">%s</p>
    <p>The code expires in %s. If you did not request it, you can ignore this email.</p>
</body>
</html>
`, code, expiryText(ttl))

	textBody := fmt.Sprintf(`Your verification code is %s

The code expires in %s. If you did not request it, you can ignore this email.
`, code, expiryText(ttl))

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(fmt.Sprintf("%s is your verification code", code)),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send code via SES",
			slog.String("email", logger.SanitizedEmail(to)),
			slog.Any("error", err))
		return fmt.Errorf("ses send: %w", models.ErrProviderFailed)
	}

	s.logger.Info("email code sent",
		slog.String("email", logger.SanitizedEmail(to)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}
