package middleware

import (
	"log/slog"
	"net/http"

	pkghttp "github.com/BradenHooton/trustgate/pkg/http"
)

// OriginProtection rejects state-changing requests whose Origin header names
// a site outside the allow list. Session and challenge cookies are SameSite=Lax,
// which still lets same-site subdomains post; this closes that gap. Requests
// without an Origin header (non-browser clients) pass through.
func OriginProtection(allowedOrigins []string, logger *slog.Logger) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isStateChangingMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if _, ok := allowed[origin]; !ok {
				logger.Warn("request from disallowed origin",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("origin", origin))
				pkghttp.WriteError(w, http.StatusForbidden, "forbidden", "Origin not allowed")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isStateChangingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	default:
		return false
	}
}
