package routes_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/trustgate/internal/auth"
	"github.com/BradenHooton/trustgate/internal/handlers"
	"github.com/BradenHooton/trustgate/internal/routes"
	pkghttp "github.com/BradenHooton/trustgate/pkg/http"
)

const testSecret = "routes-test-secret-0123456789abcdef"

type routerFixture struct {
	router chi.Router
	pins   *handlers.MockPINService
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	pins := &handlers.MockPINService{}
	cookies := auth.CookieConfig{}
	ipConfig := &pkghttp.IPConfig{}

	h := routes.Handlers{
		Health:   handlers.NewHealthHandler(&handlers.MockHealthChecker{}),
		OTP:      handlers.NewOTPHandler(&handlers.MockOTPService{}, nil, cookies, ipConfig),
		PIN:      handlers.NewPINHandler(pins, nil, cookies, ipConfig),
		WebAuthn: handlers.NewWebAuthnHandler(&handlers.MockWebAuthnService{}, nil, cookies, 5*time.Minute, ipConfig),
	}

	router := chi.NewRouter()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	routes.RegisterRoutes(router, h, auth.NewSessionVerifier(testSecret), []string{"https://app.example.com"}, ipConfig, logger)

	return &routerFixture{router: router, pins: pins}
}

func (f *routerFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func signedToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestHealthRoute(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	f := newRouterFixture(t)

	for _, path := range []string{"/pin/set", "/webauthn/options", "/webauthn/verify"} {
		rec := f.do(httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`)))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestPinSetWithSession(t *testing.T) {
	f := newRouterFixture(t)

	var gotUser string
	f.pins.SetPinFunc = func(ctx context.Context, userID, pin string) error {
		gotUser = userID
		return nil
	}

	req := httptest.NewRequest(http.MethodPost, "/pin/set", strings.NewReader(`{"pin":"4821"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "user-1"))
	rec := f.do(req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", gotUser)
}

func TestForeignOriginRejected(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/otp/send", strings.NewReader(`{"phone":"9812345678"}`))
	req.Header.Set("Origin", "https://evil.example.com")
	rec := f.do(req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestOTPRoutesRateLimited(t *testing.T) {
	f := newRouterFixture(t)

	var last int
	for i := 0; i < 11; i++ {
		req := httptest.NewRequest(http.MethodPost, "/otp/send", strings.NewReader(`{"phone":"9812345678"}`))
		req.RemoteAddr = "198.51.100.9:4000"
		last = f.do(req).Code
	}

	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestPublicPasskeyLoginRoutes(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodPost, "/webauthn/login/options", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Set-Cookie"), auth.ChallengeCookieName)
}
