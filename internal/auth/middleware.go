package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/BradenHooton/trustgate/internal/models"
	pkghttp "github.com/BradenHooton/trustgate/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// UserContextKey is the key for storing session claims in context
	UserContextKey contextKey = "user"
)

// TokenVerifier validates provider access tokens
type TokenVerifier interface {
	Verify(tokenString string) (*models.SessionClaims, error)
}

// AuthMiddleware requires a valid provider access token, read from the
// Authorization header or the access-token cookie, and injects its claims.
func AuthMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := extractToken(r)
			if !ok {
				pkghttp.WriteUnauthorized(w, "missing access token")
				return
			}

			claims, err := verifier.Verify(tokenString)
			if err != nil {
				if errors.Is(err, models.ErrMisconfigured) {
					pkghttp.WriteInternalError(w, "authentication is not configured")
					return
				}
				pkghttp.WriteUnauthorized(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", false
		}
		return strings.TrimSpace(parts[1]), true
	}

	if cookie, err := r.Cookie(AccessTokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}

	return "", false
}

// GetUserFromContext extracts session claims from request context
func GetUserFromContext(r *http.Request) *models.SessionClaims {
	claims, ok := r.Context().Value(UserContextKey).(*models.SessionClaims)
	if !ok {
		return nil
	}
	return claims
}

// WithUser returns ctx carrying claims, as AuthMiddleware would
func WithUser(ctx context.Context, claims *models.SessionClaims) context.Context {
	return context.WithValue(ctx, UserContextKey, claims)
}
