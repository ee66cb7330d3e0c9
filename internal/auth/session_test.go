package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/trustgate/internal/models"
)

const testJWTSecret = "session-test-secret-0123456789abcdef"

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims *models.SessionClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims(subject string) *models.SessionClaims {
	return &models.SessionClaims{
		Phone: "+9779812345678",
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestSessionVerifier_Valid(t *testing.T) {
	v := NewSessionVerifier(testJWTSecret)

	claims, err := v.Verify(signToken(t, jwt.SigningMethodHS256, []byte(testJWTSecret), validClaims("user-1")))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID())
	assert.Equal(t, "+9779812345678", claims.Phone)
}

func TestSessionVerifier_Rejects(t *testing.T) {
	v := NewSessionVerifier(testJWTSecret)

	expired := validClaims("user-1")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	noExpiry := validClaims("user-1")
	noExpiry.ExpiresAt = nil

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", signToken(t, jwt.SigningMethodHS256, []byte("another-secret-0123456789abcdef"), validClaims("user-1"))},
		{"expired", signToken(t, jwt.SigningMethodHS256, []byte(testJWTSecret), expired)},
		{"no expiry", signToken(t, jwt.SigningMethodHS256, []byte(testJWTSecret), noExpiry)},
		{"no subject", signToken(t, jwt.SigningMethodHS256, []byte(testJWTSecret), validClaims(""))},
		{"hs512", signToken(t, jwt.SigningMethodHS512, []byte(testJWTSecret), validClaims("user-1"))},
		{"garbage", "not.a.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			assert.ErrorIs(t, err, models.ErrUnauthorized)
		})
	}
}

func TestSessionVerifier_NoSecret(t *testing.T) {
	v := NewSessionVerifier("")

	_, err := v.Verify("anything")
	assert.ErrorIs(t, err, models.ErrMisconfigured)
}
