package models

import (
	"time"
)

// FactorTypePIN is the only trusted factor type currently issued.
const FactorTypePIN = "pin"

// TrustedFactor holds the PIN hash and its lockout counter for a provider user.
type TrustedFactor struct {
	AuthUserID     string
	FactorType     string
	PinHash        string
	FailedAttempts int
	LockedUntil    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsLocked reports whether the factor is inside a lockout window.
func (f *TrustedFactor) IsLocked(now time.Time) bool {
	return f.LockedUntil != nil && now.Before(*f.LockedUntil)
}

// PinCredential is the per-user salt for the PIN-derived provider password.
// The derived password itself is never stored.
type PinCredential struct {
	AuthUserID string
	Salt       string
	UpdatedAt  time.Time
}
