package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/BradenHooton/trustgate/internal/auth"
	"github.com/BradenHooton/trustgate/internal/models"
	pkghttp "github.com/BradenHooton/trustgate/pkg/http"
	"github.com/BradenHooton/trustgate/pkg/logger"
)

// PINServiceInterface defines the interface for PIN flows
type PINServiceInterface interface {
	SetPin(ctx context.Context, userID, pin string) error
	LoginWithPin(ctx context.Context, method, user, pin string) (*models.Session, error)
}

// PINHandler handles PIN HTTP requests
type PINHandler struct {
	service  PINServiceInterface
	audit    *logger.AuditLogger
	cookies  auth.CookieConfig
	ipConfig *pkghttp.IPConfig
	now      func() time.Time
}

// NewPINHandler creates a new PINHandler
func NewPINHandler(service PINServiceInterface, audit *logger.AuditLogger, cookies auth.CookieConfig, ipConfig *pkghttp.IPConfig) *PINHandler {
	return &PINHandler{
		service:  service,
		audit:    audit,
		cookies:  cookies,
		ipConfig: ipConfig,
		now:      time.Now,
	}
}

// SetPINRequest represents the request body for setting a PIN
type SetPINRequest struct {
	PIN string `json:"pin" validate:"required"`
}

// PINLoginRequest represents the request body for a PIN login
type PINLoginRequest struct {
	Method string `json:"method" validate:"required,oneof=phone sms email"`
	User   string `json:"user" validate:"required,max=254"`
	PIN    string `json:"pin" validate:"required"`
}

// Set handles POST /pin/set
func (h *PINHandler) Set(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req SetPINRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	meta := metaFrom(r, h.ipConfig)
	err := h.service.SetPin(r.Context(), claims.UserID(), req.PIN)
	audit(r.Context(), h.audit, meta, logger.AuditEvent{
		EventType:     logger.EventPINSet,
		UserID:        claims.UserID(),
		Success:       err == nil,
		FailureReason: errorReason(err),
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidPinFormat):
			pkghttp.WriteBadRequest(w, err.Error())
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Unauthorized")
		default:
			pkghttp.WriteInternalError(w, "Could not set PIN")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, OKResponse{OK: true})
}

// Login handles POST /pin/login
func (h *PINHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req PINLoginRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	meta := metaFrom(r, h.ipConfig)
	session, err := h.service.LoginWithPin(r.Context(), req.Method, req.User, req.PIN)
	if err != nil {
		audit(r.Context(), h.audit, meta, logger.AuditEvent{
			EventType:     logger.EventPINLogin,
			Identifier:    req.User,
			FailureReason: err.Error(),
			Metadata:      map[string]string{"method": req.Method},
		})

		var lockout *models.LockoutError
		switch {
		case isIdentifierError(err), errors.Is(err, models.ErrInvalidPinFormat):
			pkghttp.WriteBadRequest(w, err.Error())
		case errors.Is(err, models.ErrPinNotSet):
			pkghttp.WriteNotFound(w, "PIN login is not set up for this account")
		case errors.As(err, &lockout):
			pkghttp.WriteTooManyRequests(w, "Too many failed attempts. Please try again later.", lockout.RetryAfter(h.now()))
		case errors.Is(err, models.ErrAccountLocked):
			pkghttp.WriteTooManyRequests(w, "Too many failed attempts. Please try again later.", 0)
		case errors.Is(err, models.ErrInvalidPin):
			pkghttp.WriteUnauthorized(w, "Incorrect PIN")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	audit(r.Context(), h.audit, meta, logger.AuditEvent{
		EventType:  logger.EventPINLogin,
		UserID:     session.UserID,
		Identifier: req.User,
		Success:    true,
		Metadata:   map[string]string{"method": req.Method},
	})
	auth.SetSessionCookies(w, session, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, SessionResponse{OK: true, Session: session})
}

func errorReason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
