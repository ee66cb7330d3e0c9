package services

import (
	"context"
	"encoding/base32"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"

	"github.com/BradenHooton/trustgate/internal/config"
	"github.com/BradenHooton/trustgate/internal/identifier"
	"github.com/BradenHooton/trustgate/internal/models"
	pkgauth "github.com/BradenHooton/trustgate/pkg/auth"
	"github.com/BradenHooton/trustgate/pkg/logger"
)

// CodeLength is the number of digits in a one-time code
const CodeLength = 6

// OTPRepository defines the interface for one-time code persistence
type OTPRepository interface {
	Create(ctx context.Context, identifier string, channel models.Channel, codeHash string, expiresAt time.Time) (*models.OTPRecord, error)
	GetLatestUnconsumed(ctx context.Context, identifier string) (*models.OTPRecord, error)
	IncrementAttempts(ctx context.Context, id string, maxAttempts int) (bool, error)
	Consume(ctx context.Context, id string, maxAttempts int) (bool, error)
	Retire(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// CooldownStore throttles sends per identifier
type CooldownStore interface {
	Acquire(ctx context.Context, identifier string, window time.Duration) (bool, error)
	Release(ctx context.Context, identifier string) error
}

// ProfileRepository defines the interface for profile lookups
type ProfileRepository interface {
	GetByID(ctx context.Context, authUserID string) (*models.Profile, error)
	GetByPhone(ctx context.Context, phone string) (*models.Profile, error)
	GetByEmail(ctx context.Context, email string) (*models.Profile, error)
	Upsert(ctx context.Context, authUserID, phone, email string) (*models.Profile, error)
}

// IdentityProvider is the external account and session authority
type IdentityProvider interface {
	CreateUser(ctx context.Context, email, phone string) (*models.IdentityUser, error)
	UpdatePassword(ctx context.Context, userID, password string) error
	SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error)
	SendEmailOTP(ctx context.Context, email string) error
	VerifyEmailOTP(ctx context.Context, email, code string) (*models.Session, error)
	IssueSession(ctx context.Context, user *models.IdentityUser) (*models.Session, error)
	SyntheticEmail(phone string) string
}

// OTPConfig holds the tunables of the OTP service
type OTPConfig struct {
	Pepper         string
	TTL            time.Duration
	ResendCooldown time.Duration
	MaxAttempts    int
	SendTimeout    time.Duration
	EmailMode      string
}

// OTPService issues and verifies one-time codes
type OTPService struct {
	otps       OTPRepository
	cooldowns  CooldownStore
	profiles   ProfileRepository
	identity   IdentityProvider
	senders    map[models.Channel]CodeSender
	normalizer *identifier.Normalizer
	cfg        OTPConfig
	logger     *slog.Logger
	now        func() time.Time
}

// NewOTPService creates a new OTPService. senders maps each channel to its
// delivery adapter; a missing entry makes that channel report ErrMisconfigured.
func NewOTPService(
	otps OTPRepository,
	cooldowns CooldownStore,
	profiles ProfileRepository,
	identity IdentityProvider,
	senders map[models.Channel]CodeSender,
	normalizer *identifier.Normalizer,
	cfg OTPConfig,
	logger *slog.Logger,
) *OTPService {
	return &OTPService{
		otps:       otps,
		cooldowns:  cooldowns,
		profiles:   profiles,
		identity:   identity,
		senders:    senders,
		normalizer: normalizer,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *OTPService) providerEmail(id identifier.Identifier) bool {
	return id.Channel == models.ChannelEmail && s.cfg.EmailMode == config.EmailOTPModeProvider
}

// Send delivers a fresh code to the identifier. A send inside the resend
// cooldown succeeds without issuing a code, so callers cannot tell the cases
// apart.
func (s *OTPService) Send(ctx context.Context, in identifier.Input) (identifier.Identifier, error) {
	id, err := s.normalizer.Normalize(in)
	if err != nil {
		return identifier.Identifier{}, err
	}

	var sender CodeSender
	if !s.providerEmail(id) {
		if s.cfg.Pepper == "" {
			s.logger.Error("OTP_PEPPER is not configured")
			return id, models.ErrMisconfigured
		}
		sender = s.senders[id.Channel]
		if sender == nil {
			s.logger.Error("no delivery adapter configured", slog.String("channel", string(id.Channel)))
			return id, models.ErrMisconfigured
		}
	}

	acquired, err := s.cooldowns.Acquire(ctx, id.Value, s.cfg.ResendCooldown)
	if err != nil {
		return id, fmt.Errorf("failed to check resend cooldown: %w", err)
	}
	if !acquired {
		s.logger.Info("otp resend suppressed by cooldown",
			slog.String("identifier", logger.SanitizedIdentifier(id.Value)))
		return id, nil
	}

	if s.providerEmail(id) {
		sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		defer cancel()

		if err := s.identity.SendEmailOTP(sendCtx, id.Value); err != nil {
			s.releaseCooldown(ctx, id)
			if errors.Is(err, models.ErrRateLimitExceeded) {
				// the provider applies its own throttle; stay uniform
				return id, nil
			}
			return id, err
		}
		return id, nil
	}

	code, err := generateCode()
	if err != nil {
		s.releaseCooldown(ctx, id)
		return id, fmt.Errorf("failed to generate code: %w", err)
	}

	rec, err := s.otps.Create(ctx, id.Value, id.Channel, pkgauth.HashCode(code, s.cfg.Pepper), s.now().Add(s.cfg.TTL))
	if err != nil {
		s.releaseCooldown(ctx, id)
		return id, fmt.Errorf("failed to store code: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	if err := sender.SendCode(sendCtx, recipient(id), code, s.cfg.TTL); err != nil {
		cleanupCtx := context.WithoutCancel(ctx)
		if delErr := s.otps.Delete(cleanupCtx, rec.ID); delErr != nil {
			s.logger.Error("failed to delete undelivered code", slog.String("otp_id", rec.ID), slog.Any("error", delErr))
		}
		s.releaseCooldown(cleanupCtx, id)

		if errors.Is(err, models.ErrMisconfigured) {
			return id, err
		}
		if !errors.Is(err, models.ErrProviderFailed) {
			err = fmt.Errorf("%w: %v", models.ErrProviderFailed, err)
		}
		return id, err
	}

	return id, nil
}

func (s *OTPService) releaseCooldown(ctx context.Context, id identifier.Identifier) {
	if err := s.cooldowns.Release(context.WithoutCancel(ctx), id.Value); err != nil {
		s.logger.Warn("failed to release resend cooldown",
			slog.String("identifier", logger.SanitizedIdentifier(id.Value)),
			slog.Any("error", err))
	}
}

// Verify checks a code and, on the first successful match only, returns a
// provider session for the identifier's account.
func (s *OTPService) Verify(ctx context.Context, in identifier.Input, code string) (identifier.Identifier, *models.Session, error) {
	id, err := s.normalizer.Normalize(in)
	if err != nil {
		return identifier.Identifier{}, nil, err
	}
	if !isNumericCode(code) {
		return id, nil, models.ErrInvalidCodeFormat
	}

	if s.providerEmail(id) {
		session, err := s.identity.VerifyEmailOTP(ctx, id.Value, code)
		if err != nil {
			return id, nil, err
		}
		if session.UserID != "" {
			if _, err := s.profiles.Upsert(ctx, session.UserID, "", id.Value); err != nil {
				s.logger.Warn("failed to record profile after email verification",
					slog.String("user_id", session.UserID),
					slog.Any("error", err))
			}
		}
		return id, session, nil
	}

	if s.cfg.Pepper == "" {
		s.logger.Error("OTP_PEPPER is not configured")
		return id, nil, models.ErrMisconfigured
	}

	rec, err := s.otps.GetLatestUnconsumed(ctx, id.Value)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return id, nil, models.ErrInvalidCode
		}
		return id, nil, fmt.Errorf("failed to load code: %w", err)
	}

	// state changes below must survive a client disconnect
	durable := context.WithoutCancel(ctx)

	if rec.IsExpired(s.now()) {
		if err := s.otps.Retire(durable, rec.ID); err != nil {
			s.logger.Warn("failed to retire expired code", slog.String("otp_id", rec.ID), slog.Any("error", err))
		}
		return id, nil, models.ErrInvalidCode
	}

	if rec.AttemptCount >= s.cfg.MaxAttempts {
		return id, nil, models.ErrTooManyAttempts
	}

	if !pkgauth.VerifyCode(rec.CodeHash, code, s.cfg.Pepper) {
		if _, err := s.otps.IncrementAttempts(durable, rec.ID, s.cfg.MaxAttempts); err != nil {
			return id, nil, fmt.Errorf("failed to record attempt: %w", err)
		}
		return id, nil, models.ErrInvalidCode
	}

	consumed, err := s.otps.Consume(durable, rec.ID, s.cfg.MaxAttempts)
	if err != nil {
		return id, nil, fmt.Errorf("failed to consume code: %w", err)
	}
	if !consumed {
		s.logger.Info("otp consumption lost a race", slog.String("otp_id", rec.ID))
		return id, nil, models.ErrInvalidCode
	}

	user, err := s.ensureAccount(ctx, id)
	if err != nil {
		return id, nil, err
	}

	session, err := s.identity.IssueSession(ctx, user)
	if err != nil {
		return id, nil, fmt.Errorf("failed to issue session: %w", err)
	}

	return id, session, nil
}

// ensureAccount returns the provider account for a verified identifier,
// creating the account and its profile on first sight.
func (s *OTPService) ensureAccount(ctx context.Context, id identifier.Identifier) (*models.IdentityUser, error) {
	var (
		profile *models.Profile
		err     error
	)
	if id.IsPhone() {
		profile, err = s.profiles.GetByPhone(ctx, id.Value)
	} else {
		profile, err = s.profiles.GetByEmail(ctx, id.Value)
	}
	if err == nil {
		return &models.IdentityUser{ID: profile.AuthUserID, Email: profile.Email, Phone: profile.Phone}, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	phone, email := "", ""
	if id.IsPhone() {
		phone = id.Value
	} else {
		email = id.Value
	}

	user, err := s.identity.CreateUser(ctx, email, phone)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			s.logger.Error("provider account exists without a profile",
				slog.String("identifier", logger.SanitizedIdentifier(id.Value)))
			return nil, fmt.Errorf("%w: account exists without profile", models.ErrProviderFailed)
		}
		return nil, err
	}

	if _, err := s.profiles.Upsert(ctx, user.ID, phone, email); err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	return &models.IdentityUser{ID: user.ID, Email: email, Phone: phone}, nil
}

// recipient is the address handed to the delivery adapter. SMS gets the
// national number; email gets the normalized address.
func recipient(id identifier.Identifier) string {
	if id.IsPhone() {
		return id.National
	}
	return id.Value
}

// expiryText renders a code lifetime for message bodies, e.g. "5 minutes".
func expiryText(ttl time.Duration) string {
	if ttl < time.Minute {
		secs := int(ttl.Round(time.Second) / time.Second)
		if secs == 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", secs)
	}
	mins := int(ttl.Round(time.Minute) / time.Minute)
	if mins == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", mins)
}

// generateCode returns a uniformly random 6-digit code: HOTP over a fresh
// 160-bit secret, so nothing about it depends on the clock.
func generateCode() (string, error) {
	secret, err := pkgauth.RandomBytes(20)
	if err != nil {
		return "", err
	}

	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(secret)
	return hotp.GenerateCodeCustom(encoded, 0, hotp.ValidateOpts{
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

func isNumericCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
