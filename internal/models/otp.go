package models

import (
	"time"
)

// Channel identifies how a one-time code is delivered.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// OTPRecord is an issued one-time code. Only the hash of the code is stored.
type OTPRecord struct {
	ID           string     `json:"id"`
	Identifier   string     `json:"identifier"`
	Channel      Channel    `json:"channel"`
	CodeHash     string     `json:"-"`
	ExpiresAt    time.Time  `json:"expires_at"`
	AttemptCount int        `json:"attempt_count"`
	ConsumedAt   *time.Time `json:"consumed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// IsExpired checks if the code has expired
func (r *OTPRecord) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// IsConsumed checks if the code has already been used
func (r *OTPRecord) IsConsumed() bool {
	return r.ConsumedAt != nil
}
