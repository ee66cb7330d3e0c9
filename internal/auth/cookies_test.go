package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/trustgate/internal/models"
)

func findCookie(t *testing.T, w *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %s not set", name)
	return nil
}

func TestChallengeCookie(t *testing.T) {
	cfg := CookieConfig{Secure: true}
	w := httptest.NewRecorder()

	SetChallengeCookie(w, "abc123", 5*time.Minute, cfg)

	c := findCookie(t, w, ChallengeCookieName)
	assert.Equal(t, "abc123", c.Value)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 300, c.MaxAge)

	req := httptest.NewRequest("POST", "/webauthn/verify", nil)
	req.AddCookie(c)
	assert.Equal(t, "abc123", GetChallengeCookie(req))
}

func TestClearChallengeCookie(t *testing.T) {
	w := httptest.NewRecorder()

	ClearChallengeCookie(w, CookieConfig{})

	c := findCookie(t, w, ChallengeCookieName)
	assert.Empty(t, c.Value)
	assert.Less(t, c.MaxAge, 0)
}

func TestGetChallengeCookie_Missing(t *testing.T) {
	req := httptest.NewRequest("POST", "/webauthn/verify", nil)
	assert.Empty(t, GetChallengeCookie(req))
}

func TestSetSessionCookies(t *testing.T) {
	w := httptest.NewRecorder()

	SetSessionCookies(w, &models.Session{AccessToken: "at", RefreshToken: "rt", ExpiresIn: 3600}, CookieConfig{Domain: "example.org"})

	access := findCookie(t, w, AccessTokenCookieName)
	assert.Equal(t, "at", access.Value)
	assert.Equal(t, 3600, access.MaxAge)
	assert.Equal(t, "example.org", access.Domain)

	refresh := findCookie(t, w, RefreshTokenCookieName)
	assert.Equal(t, "rt", refresh.Value)
	require.True(t, refresh.HttpOnly)
}

func TestSetSessionCookies_NoSession(t *testing.T) {
	w := httptest.NewRecorder()

	SetSessionCookies(w, nil, CookieConfig{})

	assert.Empty(t, w.Result().Cookies())
}
