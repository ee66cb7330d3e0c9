package models

import (
	"errors"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Validation errors (user-correctable)
	ErrInvalidPhone      = errors.New("invalid phone number")
	ErrInvalidEmail      = errors.New("invalid email address")
	ErrInvalidIdentifier = errors.New("phone or email is required")
	ErrInvalidPinFormat  = errors.New("pin must be 4 to 8 digits")
	ErrInvalidCodeFormat = errors.New("code must be 6 digits")

	// Verification outcomes. Not-found, expired and wrong-code share one error
	// so responses cannot be used as an oracle.
	ErrInvalidCode         = errors.New("invalid or expired code")
	ErrTooManyAttempts     = errors.New("too many attempts")
	ErrInvalidPin          = errors.New("invalid pin")
	ErrPinNotSet           = errors.New("pin not set")
	ErrAccountLocked       = errors.New("account is temporarily locked")
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
	ErrMissingChallenge    = errors.New("missing challenge")
	ErrBadPayload          = errors.New("malformed credential payload")
	ErrVerificationFailed  = errors.New("verification failed")
	ErrUnknownRelyingParty = errors.New("unknown relying party")

	// Infrastructure
	ErrProviderFailed = errors.New("upstream provider failed")
	ErrMisconfigured  = errors.New("service misconfigured")
)

// LockoutError is ErrAccountLocked with the time the lock ends.
type LockoutError struct {
	Until time.Time
}

func (e *LockoutError) Error() string { return ErrAccountLocked.Error() }

func (e *LockoutError) Unwrap() error { return ErrAccountLocked }

// RetryAfter returns the remaining lock time rounded up to whole seconds.
func (e *LockoutError) RetryAfter(now time.Time) int {
	remaining := e.Until.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Second - 1) / time.Second)
}
