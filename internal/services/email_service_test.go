package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/trustgate/internal/models"
)

type fakeSES struct {
	input *ses.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESEmailSender_SendCode(t *testing.T) {
	client := &fakeSES{}
	sender := NewSESEmailSenderWithClient(client, "no-reply@example.org", newTestLogger())

	require.NoError(t, sender.SendCode(context.Background(), "alice@example.com", "482913", 10*time.Minute))
	require.NotNil(t, client.input)
	assert.Equal(t, "no-reply@example.org", aws.ToString(client.input.Source))
	assert.Equal(t, []string{"alice@example.com"}, client.input.Destination.ToAddresses)
	assert.Contains(t, aws.ToString(client.input.Message.Body.Text.Data), "482913")
	assert.Contains(t, aws.ToString(client.input.Message.Body.Text.Data), "expires in 10 minutes")
	assert.Contains(t, aws.ToString(client.input.Message.Body.Html.Data), "expires in 10 minutes")
	assert.Contains(t, aws.ToString(client.input.Message.Subject.Data), "482913")
}

func TestSESEmailSender_ProviderError(t *testing.T) {
	sender := NewSESEmailSenderWithClient(&fakeSES{err: errors.New("throttled")}, "no-reply@example.org", newTestLogger())

	err := sender.SendCode(context.Background(), "alice@example.com", "482913", 5*time.Minute)
	assert.ErrorIs(t, err, models.ErrProviderFailed)
}

func TestSESEmailSender_NoFromAddress(t *testing.T) {
	client := &fakeSES{}
	sender := NewSESEmailSenderWithClient(client, "", newTestLogger())

	err := sender.SendCode(context.Background(), "alice@example.com", "482913", 5*time.Minute)
	assert.ErrorIs(t, err, models.ErrMisconfigured)
	assert.Nil(t, client.input)
}
