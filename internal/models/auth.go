package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims are the claims carried by identity-provider access tokens.
type SessionClaims struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the provider user id (the token subject).
func (c *SessionClaims) UserID() string {
	return c.Subject
}
