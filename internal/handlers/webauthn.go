package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/BradenHooton/trustgate/internal/auth"
	"github.com/BradenHooton/trustgate/internal/models"
	pkghttp "github.com/BradenHooton/trustgate/pkg/http"
	"github.com/BradenHooton/trustgate/pkg/logger"
)

// WebAuthnServiceInterface defines the interface for passkey ceremonies
type WebAuthnServiceInterface interface {
	RegistrationOptions(ctx context.Context, userID, host string) (*protocol.CredentialCreation, string, error)
	VerifyRegistration(ctx context.Context, userID, host, challenge string, body []byte) (string, error)
	LoginOptions(ctx context.Context, host string) (*protocol.CredentialAssertion, string, error)
	FinishLogin(ctx context.Context, host, challenge string, body []byte) (string, *models.Session, error)
}

// WebAuthnHandler handles passkey HTTP requests. Challenges travel only in
// the challenge cookie and are cleared by every verify call.
type WebAuthnHandler struct {
	service      WebAuthnServiceInterface
	audit        *logger.AuditLogger
	cookies      auth.CookieConfig
	challengeTTL time.Duration
	ipConfig     *pkghttp.IPConfig
}

// NewWebAuthnHandler creates a new WebAuthnHandler
func NewWebAuthnHandler(
	service WebAuthnServiceInterface,
	audit *logger.AuditLogger,
	cookies auth.CookieConfig,
	challengeTTL time.Duration,
	ipConfig *pkghttp.IPConfig,
) *WebAuthnHandler {
	return &WebAuthnHandler{
		service:      service,
		audit:        audit,
		cookies:      cookies,
		challengeTTL: challengeTTL,
		ipConfig:     ipConfig,
	}
}

// RegisterVerifyResponse is returned after a passkey is stored
type RegisterVerifyResponse struct {
	OK           bool   `json:"ok"`
	CredentialID string `json:"credential_id"`
}

// Options handles POST /webauthn/options
func (h *WebAuthnHandler) Options(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	creation, challenge, err := h.service.RegistrationOptions(r.Context(), claims.UserID(), pkghttp.RequestHost(r, h.ipConfig))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Unauthorized")
		case errors.Is(err, models.ErrUnknownRelyingParty):
			pkghttp.WriteBadRequest(w, "Passkeys are not available on this host")
		default:
			pkghttp.WriteInternalError(w, "Could not start passkey registration")
		}
		return
	}

	auth.SetChallengeCookie(w, challenge, h.challengeTTL, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, creation)
}

// Verify handles POST /webauthn/verify
func (h *WebAuthnHandler) Verify(w http.ResponseWriter, r *http.Request) {
	challenge := auth.GetChallengeCookie(r)
	auth.ClearChallengeCookie(w, h.cookies)

	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	body, err := pkghttp.ReadBody(w, r)
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	meta := metaFrom(r, h.ipConfig)
	credentialID, err := h.service.VerifyRegistration(r.Context(), claims.UserID(), pkghttp.RequestHost(r, h.ipConfig), challenge, body)
	audit(r.Context(), h.audit, meta, logger.AuditEvent{
		EventType:     logger.EventPasskeyRegistered,
		UserID:        claims.UserID(),
		Success:       err == nil,
		FailureReason: errorReason(err),
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrMissingChallenge):
			pkghttp.WriteBadRequest(w, "Registration session expired. Please start again.")
		case errors.Is(err, models.ErrBadPayload), errors.Is(err, models.ErrUnknownRelyingParty):
			pkghttp.WriteBadRequest(w, "Malformed credential")
		case errors.Is(err, models.ErrVerificationFailed):
			pkghttp.WriteBadRequest(w, "Passkey verification failed")
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "This passkey is already registered")
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Unauthorized")
		default:
			pkghttp.WriteInternalError(w, "Could not register passkey")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, RegisterVerifyResponse{OK: true, CredentialID: credentialID})
}

// LoginOptions handles POST /webauthn/login/options
func (h *WebAuthnHandler) LoginOptions(w http.ResponseWriter, r *http.Request) {
	assertion, challenge, err := h.service.LoginOptions(r.Context(), pkghttp.RequestHost(r, h.ipConfig))
	if err != nil {
		if errors.Is(err, models.ErrUnknownRelyingParty) {
			pkghttp.WriteBadRequest(w, "Passkeys are not available on this host")
			return
		}
		pkghttp.WriteInternalError(w, "Could not start passkey login")
		return
	}

	auth.SetChallengeCookie(w, challenge, h.challengeTTL, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, assertion)
}

// LoginVerify handles POST /webauthn/login/verify
func (h *WebAuthnHandler) LoginVerify(w http.ResponseWriter, r *http.Request) {
	challenge := auth.GetChallengeCookie(r)
	auth.ClearChallengeCookie(w, h.cookies)

	body, err := pkghttp.ReadBody(w, r)
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	meta := metaFrom(r, h.ipConfig)
	userID, session, err := h.service.FinishLogin(r.Context(), pkghttp.RequestHost(r, h.ipConfig), challenge, body)
	audit(r.Context(), h.audit, meta, logger.AuditEvent{
		EventType:     logger.EventPasskeyLogin,
		UserID:        userID,
		Success:       err == nil,
		FailureReason: errorReason(err),
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrMissingChallenge):
			pkghttp.WriteBadRequest(w, "Login session expired. Please start again.")
		case errors.Is(err, models.ErrBadPayload), errors.Is(err, models.ErrUnknownRelyingParty):
			pkghttp.WriteBadRequest(w, "Malformed credential")
		case errors.Is(err, models.ErrVerificationFailed):
			pkghttp.WriteUnauthorized(w, "Passkey verification failed")
		case errors.Is(err, models.ErrProviderFailed):
			pkghttp.WriteServiceUnavailable(w, "Sign-in is temporarily unavailable")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	auth.SetSessionCookies(w, session, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, SessionResponse{OK: true, Session: session})
}
