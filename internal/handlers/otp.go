package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/BradenHooton/trustgate/internal/auth"
	"github.com/BradenHooton/trustgate/internal/identifier"
	"github.com/BradenHooton/trustgate/internal/models"
	pkghttp "github.com/BradenHooton/trustgate/pkg/http"
	"github.com/BradenHooton/trustgate/pkg/logger"
)

// Reasons returned by POST /otp/verify
const (
	ReasonInvalidCode     = "invalid_code"
	ReasonTooManyAttempts = "too_many_attempts"
	ReasonValidation      = "validation"
)

// OTPServiceInterface defines the interface for one-time code flows
type OTPServiceInterface interface {
	Send(ctx context.Context, in identifier.Input) (identifier.Identifier, error)
	Verify(ctx context.Context, in identifier.Input, code string) (identifier.Identifier, *models.Session, error)
}

// OTPHandler handles one-time code HTTP requests
type OTPHandler struct {
	service  OTPServiceInterface
	audit    *logger.AuditLogger
	cookies  auth.CookieConfig
	ipConfig *pkghttp.IPConfig
}

// NewOTPHandler creates a new OTPHandler
func NewOTPHandler(service OTPServiceInterface, audit *logger.AuditLogger, cookies auth.CookieConfig, ipConfig *pkghttp.IPConfig) *OTPHandler {
	return &OTPHandler{
		service:  service,
		audit:    audit,
		cookies:  cookies,
		ipConfig: ipConfig,
	}
}

// SendOTPRequest accepts the phone under any of its aliases, or an email
type SendOTPRequest struct {
	identifier.Input
}

// VerifyOTPRequest is a send request plus the code
type VerifyOTPRequest struct {
	identifier.Input
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// SessionResponse carries a provider session back to the client
type SessionResponse struct {
	OK      bool            `json:"ok"`
	Session *models.Session `json:"session,omitempty"`
}

// Send handles POST /otp/send
func (h *OTPHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendOTPRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	meta := metaFrom(r, h.ipConfig)
	id, err := h.service.Send(r.Context(), req.Input)
	if err != nil {
		audit(r.Context(), h.audit, meta, logger.AuditEvent{
			EventType:     logger.EventOTPSent,
			Identifier:    id.Value,
			FailureReason: err.Error(),
		})

		switch {
		case isIdentifierError(err):
			pkghttp.WriteBadRequest(w, err.Error())
		case errors.Is(err, models.ErrProviderFailed):
			pkghttp.WriteServiceUnavailable(w, "Could not deliver the code. Please try again.")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	audit(r.Context(), h.audit, meta, logger.AuditEvent{
		EventType:  logger.EventOTPSent,
		Identifier: id.Value,
		Success:    true,
		Metadata:   map[string]string{"channel": string(id.Channel)},
	})
	pkghttp.WriteJSON(w, http.StatusOK, OKResponse{OK: true})
}

// Verify handles POST /otp/verify
func (h *OTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		pkghttp.WriteReason(w, http.StatusBadRequest, ReasonValidation)
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteReason(w, http.StatusBadRequest, ReasonValidation)
		return
	}

	meta := metaFrom(r, h.ipConfig)
	id, session, err := h.service.Verify(r.Context(), req.Input, req.Code)
	if err != nil {
		audit(r.Context(), h.audit, meta, logger.AuditEvent{
			EventType:     logger.EventOTPVerified,
			Identifier:    id.Value,
			FailureReason: err.Error(),
		})

		switch {
		case isIdentifierError(err), errors.Is(err, models.ErrInvalidCodeFormat):
			pkghttp.WriteReason(w, http.StatusBadRequest, ReasonValidation)
		case errors.Is(err, models.ErrInvalidCode):
			pkghttp.WriteReason(w, http.StatusBadRequest, ReasonInvalidCode)
		case errors.Is(err, models.ErrTooManyAttempts):
			pkghttp.WriteReason(w, http.StatusBadRequest, ReasonTooManyAttempts)
		case errors.Is(err, models.ErrProviderFailed):
			pkghttp.WriteServiceUnavailable(w, "Sign-in is temporarily unavailable")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	audit(r.Context(), h.audit, meta, logger.AuditEvent{
		EventType:  logger.EventOTPVerified,
		UserID:     session.UserID,
		Identifier: id.Value,
		Success:    true,
	})
	auth.SetSessionCookies(w, session, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, SessionResponse{OK: true, Session: session})
}

func isIdentifierError(err error) bool {
	return errors.Is(err, models.ErrInvalidPhone) ||
		errors.Is(err, models.ErrInvalidEmail) ||
		errors.Is(err, models.ErrInvalidIdentifier)
}
