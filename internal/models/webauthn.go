package models

import (
	"time"
)

// Passkey device types as reported by the backup-eligible flag.
const (
	DeviceTypeSingle = "single_device"
	DeviceTypeMulti  = "multi_device"
)

// WebAuthnCredential is a registered passkey. CredentialID is base64url and
// globally unique; SignCount only ever increases.
type WebAuthnCredential struct {
	CredentialID    string     `json:"credential_id"`
	AuthUserID      string     `json:"user_id"`
	PublicKey       []byte     `json:"-"`
	AttestationType string     `json:"attestation_type"`
	AAGUID          []byte     `json:"-"`
	SignCount       uint32     `json:"sign_count"`
	CloneWarning    bool       `json:"clone_warning"`
	DeviceType      string     `json:"device_type"`
	BackedUp        bool       `json:"backed_up"`
	Transports      []string   `json:"transports,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`
}
