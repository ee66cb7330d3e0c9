package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/trustgate/internal/identifier"
	"github.com/BradenHooton/trustgate/internal/models"
	pkgauth "github.com/BradenHooton/trustgate/pkg/auth"
	"github.com/BradenHooton/trustgate/pkg/logger"
)

// PINRepository defines the interface for PIN factor persistence
type PINRepository interface {
	GetFactor(ctx context.Context, authUserID string) (*models.TrustedFactor, error)
	GetCredential(ctx context.Context, authUserID string) (*models.PinCredential, error)
	RecordFailure(ctx context.Context, authUserID string, maxAttempts int, lockout time.Duration) (*models.TrustedFactor, error)
	ResetFailures(ctx context.Context, authUserID string) error
	ReplacePin(ctx context.Context, authUserID, salt, pinHash string, commit func(context.Context) error) error
}

// FailureDelay pads failed attempts so they take a similar amount of time
type FailureDelay interface {
	WaitFrom(start time.Time, success bool)
}

// PINConfig holds the tunables of the PIN service
type PINConfig struct {
	Pepper          string
	MaxAttempts     int
	LockoutDuration time.Duration
}

// PIN login methods
const (
	PINMethodPhone = "phone"
	PINMethodEmail = "email"
)

// PINService lets a short PIN stand in for the provider password
type PINService struct {
	pins       PINRepository
	profiles   ProfileRepository
	identity   IdentityProvider
	normalizer *identifier.Normalizer
	delay      FailureDelay
	cfg        PINConfig
	logger     *slog.Logger
	now        func() time.Time
}

// NewPINService creates a new PINService
func NewPINService(
	pins PINRepository,
	profiles ProfileRepository,
	identity IdentityProvider,
	normalizer *identifier.Normalizer,
	delay FailureDelay,
	cfg PINConfig,
	logger *slog.Logger,
) *PINService {
	return &PINService{
		pins:       pins,
		profiles:   profiles,
		identity:   identity,
		normalizer: normalizer,
		delay:      delay,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// SetPin stores a new PIN for the user and rewrites the provider password to
// the value derived from it. Nothing is stored unless the provider accepts
// the new password.
func (s *PINService) SetPin(ctx context.Context, userID, pin string) error {
	if userID == "" {
		return models.ErrUnauthorized
	}
	if !pkgauth.ValidPIN(pin) {
		return models.ErrInvalidPinFormat
	}
	if s.cfg.Pepper == "" {
		s.logger.Error("PIN_PEPPER is not configured")
		return models.ErrMisconfigured
	}

	salt, err := pkgauth.GenerateSalt()
	if err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	derived, err := pkgauth.DeriveCredential(pin, userID, salt, s.cfg.Pepper)
	if err != nil {
		return fmt.Errorf("failed to derive credential: %w", err)
	}

	pinHash, err := pkgauth.HashPIN(pin)
	if err != nil {
		return err
	}

	err = s.pins.ReplacePin(ctx, userID, base64.StdEncoding.EncodeToString(salt), pinHash, func(ctx context.Context) error {
		return s.identity.UpdatePassword(ctx, userID, derived)
	})
	if err != nil {
		if errors.Is(err, models.ErrProviderFailed) || errors.Is(err, models.ErrMisconfigured) {
			s.logger.Error("provider rejected derived password", slog.String("user_id", userID), slog.Any("error", err))
			return err
		}
		return fmt.Errorf("failed to store pin: %w", err)
	}

	s.logger.Info("pin set", slog.String("user_id", userID))
	return nil
}

// LoginWithPin authenticates by phone or email plus PIN and returns a
// provider session. Unknown users and users without a PIN get the same error.
func (s *PINService) LoginWithPin(ctx context.Context, method, user, pin string) (*models.Session, error) {
	start := s.now()

	session, err := s.loginWithPin(ctx, method, user, pin)
	if err != nil && s.delay != nil {
		s.delay.WaitFrom(start, false)
	}
	return session, err
}

func (s *PINService) loginWithPin(ctx context.Context, method, user, pin string) (*models.Session, error) {
	var (
		id  identifier.Identifier
		err error
	)
	switch strings.ToLower(strings.TrimSpace(method)) {
	case PINMethodPhone, "sms":
		id, err = s.normalizer.Phone(user)
	case PINMethodEmail:
		id, err = s.normalizer.Email(user)
	default:
		err = models.ErrInvalidIdentifier
	}
	if err != nil {
		return nil, err
	}
	if !pkgauth.ValidPIN(pin) {
		return nil, models.ErrInvalidPinFormat
	}
	if s.cfg.Pepper == "" {
		s.logger.Error("PIN_PEPPER is not configured")
		return nil, models.ErrMisconfigured
	}

	var profile *models.Profile
	if id.IsPhone() {
		profile, err = s.profiles.GetByPhone(ctx, id.Value)
	} else {
		profile, err = s.profiles.GetByEmail(ctx, id.Value)
	}
	if err != nil {
		return nil, s.notSet(err)
	}

	factor, err := s.pins.GetFactor(ctx, profile.AuthUserID)
	if err != nil {
		return nil, s.notSet(err)
	}
	cred, err := s.pins.GetCredential(ctx, profile.AuthUserID)
	if err != nil {
		return nil, s.notSet(err)
	}

	now := s.now()
	if factor.IsLocked(now) {
		return nil, &models.LockoutError{Until: *factor.LockedUntil}
	}

	ok, err := pkgauth.VerifySecret(factor.PinHash, pin)
	if err != nil {
		return nil, fmt.Errorf("failed to verify pin: %w", err)
	}
	if !ok {
		updated, err := s.pins.RecordFailure(context.WithoutCancel(ctx), profile.AuthUserID, s.cfg.MaxAttempts, s.cfg.LockoutDuration)
		if err != nil {
			return nil, fmt.Errorf("failed to record pin failure: %w", err)
		}
		s.logger.Warn("pin mismatch",
			slog.String("user_id", profile.AuthUserID),
			slog.Int("failed_attempts", updated.FailedAttempts))
		if updated.IsLocked(now) {
			return nil, &models.LockoutError{Until: *updated.LockedUntil}
		}
		return nil, models.ErrInvalidPin
	}

	if factor.FailedAttempts > 0 || factor.LockedUntil != nil {
		if err := s.pins.ResetFailures(context.WithoutCancel(ctx), profile.AuthUserID); err != nil {
			return nil, fmt.Errorf("failed to reset pin failures: %w", err)
		}
	}

	salt, err := base64.StdEncoding.DecodeString(cred.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to decode salt: %w", err)
	}

	derived, err := pkgauth.DeriveCredential(pin, profile.AuthUserID, salt, s.cfg.Pepper)
	if err != nil {
		return nil, fmt.Errorf("failed to derive credential: %w", err)
	}

	email := profile.Email
	if email == "" {
		email = s.identity.SyntheticEmail(profile.Phone)
	}

	session, err := s.identity.SignInWithPassword(ctx, email, derived)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			// PIN matched locally, so the provider password is out of sync
			s.logger.Error("provider rejected derived credential",
				slog.String("user_id", profile.AuthUserID),
				slog.String("email", logger.SanitizedEmail(email)))
			return nil, fmt.Errorf("%w: derived credential rejected", models.ErrProviderFailed)
		}
		return nil, err
	}

	return session, nil
}

func (s *PINService) notSet(err error) error {
	if errors.Is(err, models.ErrNotFound) {
		return models.ErrPinNotSet
	}
	return fmt.Errorf("failed to load pin: %w", err)
}
