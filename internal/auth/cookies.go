package auth

import (
	"net/http"
	"time"

	"github.com/BradenHooton/trustgate/internal/models"
)

// Cookie names
const (
	ChallengeCookieName    = "webauthn_challenge"
	AccessTokenCookieName  = "sb_access_token"
	RefreshTokenCookieName = "sb_refresh_token"
)

// CookieConfig holds cookie configuration settings
type CookieConfig struct {
	Domain string // Empty string = current host only
	Secure bool   // HTTPS only
}

func (c CookieConfig) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge > 0 {
		cookie.MaxAge = int(maxAge / time.Second)
		cookie.Expires = time.Now().Add(maxAge)
	} else {
		cookie.MaxAge = -1
	}
	return cookie
}

// SetChallengeCookie stores a WebAuthn challenge for one ceremony
func SetChallengeCookie(w http.ResponseWriter, challenge string, ttl time.Duration, config CookieConfig) {
	http.SetCookie(w, config.cookie(ChallengeCookieName, challenge, ttl))
}

// ClearChallengeCookie expires the challenge cookie
func ClearChallengeCookie(w http.ResponseWriter, config CookieConfig) {
	http.SetCookie(w, config.cookie(ChallengeCookieName, "", 0))
}

// GetChallengeCookie returns the challenge, or "" when the cookie is absent
func GetChallengeCookie(r *http.Request) string {
	cookie, err := r.Cookie(ChallengeCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// SetSessionCookies writes the provider session tokens as httpOnly cookies
func SetSessionCookies(w http.ResponseWriter, session *models.Session, config CookieConfig) {
	if session == nil || session.AccessToken == "" {
		return
	}

	accessTTL := time.Duration(session.ExpiresIn) * time.Second
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	http.SetCookie(w, config.cookie(AccessTokenCookieName, session.AccessToken, accessTTL))

	if session.RefreshToken != "" {
		http.SetCookie(w, config.cookie(RefreshTokenCookieName, session.RefreshToken, 30*24*time.Hour))
	}
}
