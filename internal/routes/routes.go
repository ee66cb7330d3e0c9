package routes

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/trustgate/internal/auth"
	"github.com/BradenHooton/trustgate/internal/handlers"
	"github.com/BradenHooton/trustgate/internal/middleware"
	pkghttp "github.com/BradenHooton/trustgate/pkg/http"
)

// Handlers bundles the HTTP handlers served by the router
type Handlers struct {
	Health   *handlers.HealthHandler
	OTP      *handlers.OTPHandler
	PIN      *handlers.PINHandler
	WebAuthn *handlers.WebAuthnHandler
}

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	h Handlers,
	verifier auth.TokenVerifier,
	allowedOrigins []string,
	ipConfig *pkghttp.IPConfig,
	logger *slog.Logger,
) {
	router.Get("/health", h.Health.Health)

	router.Group(func(r chi.Router) {
		r.Use(middleware.OriginProtection(allowedOrigins, logger))

		// Public routes - no session required
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(middleware.OTPRateLimit(), ipConfig))
			r.Post("/otp/send", h.OTP.Send)
			r.Post("/otp/verify", h.OTP.Verify)
		})
		r.With(middleware.RateLimitByIP(middleware.PINLoginRateLimit(), ipConfig)).Post("/pin/login", h.PIN.Login)
		r.Post("/webauthn/login/options", h.WebAuthn.LoginOptions)
		r.Post("/webauthn/login/verify", h.WebAuthn.LoginVerify)

		// Protected routes - a provider session is required
		r.Group(func(r chi.Router) {
			r.Use(auth.AuthMiddleware(verifier))
			r.Post("/pin/set", h.PIN.Set)
			r.Post("/webauthn/options", h.WebAuthn.Options)
			r.Post("/webauthn/verify", h.WebAuthn.Verify)
		})
	})
}
