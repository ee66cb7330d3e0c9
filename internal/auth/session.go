package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/BradenHooton/trustgate/internal/models"
)

// SessionVerifier validates access tokens issued by the identity provider
type SessionVerifier struct {
	secret []byte
	leeway time.Duration
}

// NewSessionVerifier creates a verifier for HS256 tokens signed with secret
func NewSessionVerifier(secret string) *SessionVerifier {
	return &SessionVerifier{
		secret: []byte(secret),
		leeway: 30 * time.Second,
	}
}

// Verify parses an access token and returns its claims. Tokens without a
// subject or expiry are rejected.
func (v *SessionVerifier) Verify(tokenString string) (*models.SessionClaims, error) {
	if len(v.secret) == 0 {
		return nil, models.ErrMisconfigured
	}

	claims := &models.SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}

	if !token.Valid || claims.Subject == "" {
		return nil, models.ErrUnauthorized
	}

	return claims, nil
}
