package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/trustgate/internal/config"
	"github.com/BradenHooton/trustgate/internal/identifier"
	"github.com/BradenHooton/trustgate/internal/models"
)

const (
	testPhone    = "+9779812345678"
	testNational = "9812345678"
)

type otpFixture struct {
	svc       *OTPService
	otps      *FakeOTPRepository
	cooldowns *FakeCooldownStore
	profiles  *MockProfileRepository
	identity  *MockIdentityProvider
	sms       *MockCodeSender
	email     *MockCodeSender
}

func newOTPFixture(t *testing.T, emailMode string) *otpFixture {
	t.Helper()

	f := &otpFixture{
		otps:      NewFakeOTPRepository(),
		cooldowns: NewFakeCooldownStore(),
		profiles:  NewMockProfileRepository(),
		identity:  &MockIdentityProvider{},
		sms:       NewMockCodeSender(),
		email:     NewMockCodeSender(),
	}
	f.svc = NewOTPService(
		f.otps,
		f.cooldowns,
		f.profiles,
		f.identity,
		map[models.Channel]CodeSender{
			models.ChannelSMS:   f.sms,
			models.ChannelEmail: f.email,
		},
		newTestNormalizer(),
		OTPConfig{
			Pepper:         "otp-test-pepper-0123456789",
			TTL:            5 * time.Minute,
			ResendCooldown: 30 * time.Second,
			MaxAttempts:    5,
			SendTimeout:    time.Second,
			EmailMode:      emailMode,
		},
		newTestLogger(),
	)
	return f
}

func phoneInput() identifier.Input {
	return identifier.Input{Phone: testPhone}
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestOTPSend_StoresHashAndDelivers(t *testing.T) {
	f := newOTPFixture(t, config.EmailOTPModeSES)

	id, err := f.svc.Send(context.Background(), identifier.Input{PhoneNumber: "981-234-5678"})
	require.NoError(t, err)
	assert.Equal(t, testPhone, id.Value)

	code := f.sms.LastCode(testNational)
	require.Len(t, code, CodeLength)

	records := f.otps.Records(testPhone)
	require.Len(t, records, 1)
	assert.NotContains(t, records[0].CodeHash, code)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), records[0].ExpiresAt, 5*time.Second)
}

func TestOTPSend_SMSGetsNationalNumberAndTTL(t *testing.T) {
	f := newOTPFixture(t, config.EmailOTPModeSES)
	f.svc.cfg.TTL = 3 * time.Minute

	var gotTo string
	var gotTTL time.Duration
	f.sms.SendCodeFunc = func(ctx context.Context, to, code string, ttl time.Duration) error {
		gotTo, gotTTL = to, ttl
		return nil
	}

	_, err := f.svc.Send(context.Background(), phoneInput())
	require.NoError(t, err)
	assert.Equal(t, testNational, gotTo)
	assert.Equal(t, 3*time.Minute, gotTTL)
	assert.Equal(t, 0, f.sms.Count(testPhone))

	// records stay keyed by the full E.164 form
	assert.Len(t, f.otps.Records(testPhone), 1)
}

func TestOTPSend_InvalidIdentifier(t *testing.T) {
	f := newOTPFixture(t, config.EmailOTPModeSES)

	_, err := f.svc.Send(context.Background(), identifier.Input{Phone: "+14155550100"})
	assert.ErrorIs(t, err, models.ErrInvalidPhone)

	_, err = f.svc.Send(context.Background(), identifier.Input{Email: "not-an-email"})
	assert.ErrorIs(t, err, models.ErrInvalidEmail)

	assert.Equal(t, 0, f.sms.Count(testNational))
}

func TestOTPSend_CooldownSuppressesResend(t *testing.T) {
	f := newOTPFixture(t, config.EmailOTPModeSES)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, phoneInput())
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, phoneInput())
	require.NoError(t, err, "resend inside cooldown must look like success")

	assert.Equal(t, 1, f.sms.Count(testNational))
	assert.Len(t, f.otps.Records(testPhone), 1)
}

func TestOTPSend_DeliveryFailureRollsBack(t *testing.T) {
	f := newOTPFixture(t, config.EmailOTPModeSES)
	f.sms.SendCodeFunc = func(ctx context.Context, to, code string, ttl time.Duration) error {
		return models.ErrProviderFailed
	}

	_, err := f.svc.Send(context.Background(), phoneInput())
	assert.ErrorIs(t, err, models.ErrProviderFailed)
	assert.Empty(t, f.otps.Records(testPhone))
	assert.Contains(t, f.cooldowns.released, testPhone)

	// cooldown released, so a retry goes through
	f.sms.SendCodeFunc = nil
	_, err = f.svc.Send(context.Background(), phoneInput())
	require.NoError(t, err)
	assert.Equal(t, 1, f.sms.Count(testNational))
}

func TestOTPSend_DeliveryTimeout(t *testing.T) {
	f := newOTPFixture(t, config.EmailOTPModeSES)
	f.svc.cfg.SendTimeout = 10 * time.Millisecond
	f.sms.SendCodeFunc = func(ctx context.Context, to, code string, ttl time.Duration) error {
		<-ctx.Done()
		return ctx.Err()
	}

	_, err := f.svc.Send(context.Background(), phoneInput())
	assert.ErrorIs(t, err, models.ErrProviderFailed)
	assert.Empty(t, f.otps.Records(testPhone))
}

func TestOTPSend_MissingPepper(t *testing.T) {
	f := newOTPFixture(t, config.EmailOTPModeSES)
	f.svc.cfg.Pepper = ""

	_, err := f.svc.Send(context.Background(), phoneInput())
	assert.ErrorIs(t, err, models.ErrMisconfigured)
	assert.Equal(t, 0, f.sms.Count(testNational))
}

func TestOTPSend_ProviderEmailMode(t *testing.T) {
	f := newOTPFixture(t, config.EmailOTPModeProvider)
	var sentTo string
	f.identity.SendEmailOTPFunc = func(ctx context.Context, email string) error {
		sentTo = email
		return nil
	}

	_, err := f.svc.Send(context.Background(), identifier.Input{Email: "Alice@Example.com"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", sentTo)
	assert.Empty(t, f.otps.Records("alice@example.com"))
	assert.Equal(t, 0, f.email.Count("alice@example.com"))
}

func TestOTPVerify_SuccessIsAtMostOnce(t *testing.T) {
	f := newOTPFixture(t, config.EmailOTPModeSES)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, phoneInput())
	require.NoError(t, err)
	code := f.sms.LastCode(testNational)

	_, session, err := f.svc.Verify(ctx, phoneInput(), code)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "user-new", session.UserID)

	profile, err := f.profiles.GetByPhone(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, "user-new", profile.AuthUserID)

	_, _, err = f.svc.Verify(ctx, phoneInput(), code)
	assert.ErrorIs(t, err, models.ErrInvalidCode)
}

func TestOTPVerify_ConcurrentCorrectCodesSucceedOnce(t *testing.T) {
	f := newOTPFixture(t, config.EmailOTPModeSES)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, phoneInput())
	require.NoError(t, err)
	code := f.sms.LastCode(testNational)

	const workers = 16
	var successes, failures int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _, err := f.svc.Verify(ctx, phoneInput(), code)
			if err == nil {
				atomic.AddInt32(&successes, 1)
			} else if errors.Is(err, models.ErrInvalidCode) {
				atomic.AddInt32(&failures, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), successes)
	assert.Equal(t, int32(workers-1), failures)
}

func TestOTPVerify_ExpiredFailsWithCorrectCode(t *testing.T) {
	f := newOTPFixture(t, config.EmailOTPModeSES)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, phoneInput())
	require.NoError(t, err)
	code := f.sms.LastCode(testNational)
	rec := f.otps.Records(testPhone)[0]
	f.otps.Expire(rec.ID)

	_, _, err = f.svc.Verify(ctx, phoneInput(), code)
	assert.ErrorIs(t, err, models.ErrInvalidCode)

	records := f.otps.Records(testPhone)
	require.Len(t, records, 1, "expired records are kept")
	assert.NotNil(t, records[0].ConsumedAt)
}

func TestOTPVerify_FiveWrongCodesThenThrottled(t *testing.T) {
	f := newOTPFixture(t, config.EmailOTPModeSES)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, phoneInput())
	require.NoError(t, err)
	code := f.sms.LastCode(testNational)

	for i := 0; i < 5; i++ {
		_, _, err := f.svc.Verify(ctx, phoneInput(), wrongCode(code))
		assert.ErrorIs(t, err, models.ErrInvalidCode, "attempt %d", i+1)
	}
	assert.Equal(t, 5, f.otps.Records(testPhone)[0].AttemptCount)

	_, _, err = f.svc.Verify(ctx, phoneInput(), code)
	assert.ErrorIs(t, err, models.ErrTooManyAttempts)
}

func TestOTPVerify_NoRecord(t *testing.T) {
	f := newOTPFixture(t, config.EmailOTPModeSES)

	_, _, err := f.svc.Verify(context.Background(), phoneInput(), "123456")
	assert.ErrorIs(t, err, models.ErrInvalidCode)
}

func TestOTPVerify_CodeFormat(t *testing.T) {
	f := newOTPFixture(t, config.EmailOTPModeSES)

	for _, code := range []string{"", "12345", "1234567", "12a456"} {
		_, _, err := f.svc.Verify(context.Background(), phoneInput(), code)
		assert.ErrorIs(t, err, models.ErrInvalidCodeFormat, "code %q", code)
	}
}

func TestOTPVerify_ExistingProfileReused(t *testing.T) {
	f := newOTPFixture(t, config.EmailOTPModeSES)
	f.profiles = NewMockProfileRepository(&models.Profile{AuthUserID: "user-1", Phone: testPhone})
	f.svc.profiles = f.profiles
	f.identity.CreateUserFunc = func(ctx context.Context, email, phone string) (*models.IdentityUser, error) {
		t.Fatal("CreateUser must not be called for a known phone")
		return nil, nil
	}
	ctx := context.Background()

	_, err := f.svc.Send(ctx, phoneInput())
	require.NoError(t, err)

	_, session, err := f.svc.Verify(ctx, phoneInput(), f.sms.LastCode(testNational))
	require.NoError(t, err)
	assert.Equal(t, "user-1", session.UserID)
}

func TestOTPVerify_ProviderFailureAfterConsume(t *testing.T) {
	f := newOTPFixture(t, config.EmailOTPModeSES)
	f.identity.IssueSessionFunc = func(ctx context.Context, user *models.IdentityUser) (*models.Session, error) {
		return nil, models.ErrProviderFailed
	}
	ctx := context.Background()

	_, err := f.svc.Send(ctx, phoneInput())
	require.NoError(t, err)

	_, _, err = f.svc.Verify(ctx, phoneInput(), f.sms.LastCode(testNational))
	assert.ErrorIs(t, err, models.ErrProviderFailed)
}

func TestOTPVerify_ConsumptionSurvivesCancelledContext(t *testing.T) {
	f := newOTPFixture(t, config.EmailOTPModeSES)

	_, err := f.svc.Send(context.Background(), phoneInput())
	require.NoError(t, err)
	code := f.sms.LastCode(testNational)

	ctx, cancel := context.WithCancel(context.Background())
	f.identity.IssueSessionFunc = func(ctx context.Context, user *models.IdentityUser) (*models.Session, error) {
		return nil, ctx.Err()
	}
	cancel()

	_, _, _ = f.svc.Verify(ctx, phoneInput(), code)

	records := f.otps.Records(testPhone)
	require.Len(t, records, 1)
	assert.NotNil(t, records[0].ConsumedAt)
}

func TestOTPVerify_ProviderEmailMode(t *testing.T) {
	f := newOTPFixture(t, config.EmailOTPModeProvider)
	f.identity.VerifyEmailOTPFunc = func(ctx context.Context, email, code string) (*models.Session, error) {
		if code != "123456" {
			return nil, models.ErrInvalidCode
		}
		return &models.Session{AccessToken: "access", UserID: "user-9"}, nil
	}
	ctx := context.Background()
	in := identifier.Input{Email: "bob@example.com"}

	_, _, err := f.svc.Verify(ctx, in, "654321")
	assert.ErrorIs(t, err, models.ErrInvalidCode)

	_, session, err := f.svc.Verify(ctx, in, "123456")
	require.NoError(t, err)
	assert.Equal(t, "user-9", session.UserID)

	profile, err := f.profiles.GetByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user-9", profile.AuthUserID)
}

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		require.True(t, isNumericCode(code), "code %q", code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 40)
}
