package models

import (
	"time"
)

// Profile links a phone number or email to an identity-provider user.
type Profile struct {
	AuthUserID     string
	Phone          string
	Email          string
	PasskeyEnabled bool
	CredentialIDs  []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IdentityUser is the identity provider's view of an account.
type IdentityUser struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Session is a provider-issued session. The service only relays it.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	UserID       string `json:"user_id,omitempty"`
}
