package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	pkghttp "github.com/BradenHooton/trustgate/pkg/http"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// OTPRateLimit is the per-IP limit for /otp/send and /otp/verify
func OTPRateLimit() RateLimitConfig {
	return RateLimitConfig{Requests: 10, Window: time.Minute}
}

// PINLoginRateLimit is the per-IP limit for /pin/login. Per-account lockout
// is enforced separately by the PIN service.
func PINLoginRateLimit() RateLimitConfig {
	return RateLimitConfig{Requests: 20, Window: time.Minute}
}

// RateLimitByIP creates a middleware that rate limits requests by client IP.
// Forwarding headers count only when they come from a trusted proxy.
func RateLimitByIP(config RateLimitConfig, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	retryAfter := int(config.Window / time.Second)
	if retryAfter < 1 {
		retryAfter = 1
	}

	return httprate.Limit(
		config.Requests,
		config.Window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, ipConfig), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Rate limit exceeded", retryAfter)
		}),
	)
}
