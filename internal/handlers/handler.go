package handlers

import (
	"context"
	"net/http"

	pkghttp "github.com/BradenHooton/trustgate/pkg/http"
	"github.com/BradenHooton/trustgate/pkg/logger"
)

// OKResponse is the success body shared by the auth endpoints
type OKResponse struct {
	OK bool `json:"ok"`
}

type requestMeta struct {
	ip        string
	userAgent string
}

func metaFrom(r *http.Request, ipConfig *pkghttp.IPConfig) requestMeta {
	return requestMeta{
		ip:        pkghttp.ExtractClientIP(r, ipConfig),
		userAgent: r.Header.Get("User-Agent"),
	}
}

func audit(ctx context.Context, al *logger.AuditLogger, meta requestMeta, event logger.AuditEvent) {
	event.IPAddress = meta.ip
	event.UserAgent = meta.userAgent
	al.Log(ctx, event)
}

// HealthChecker reports whether the database is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler serves GET /health
type HealthHandler struct {
	db HealthChecker
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(db HealthChecker) *HealthHandler {
	return &HealthHandler{db: db}
}

// Health pings the database
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.HealthCheck(r.Context()); err != nil {
		pkghttp.WriteServiceUnavailable(w, "Database unavailable")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
