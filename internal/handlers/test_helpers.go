package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"

	"github.com/BradenHooton/trustgate/internal/auth"
	"github.com/BradenHooton/trustgate/internal/identifier"
	"github.com/BradenHooton/trustgate/internal/models"
	pkghttp "github.com/BradenHooton/trustgate/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds session claims to request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, userID string) *http.Request {
	claims := &models.SessionClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: userID}}
	return req.WithContext(auth.WithUser(req.Context(), claims))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// AssertReasonResponse checks an {ok:false, reason} body
func AssertReasonResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedReason string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ReasonResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode reason response")
	assert.False(t, resp.OK)
	assert.Equal(t, expectedReason, resp.Reason, "Reason mismatch")
}

// MockOTPService implements OTPServiceInterface for testing
type MockOTPService struct {
	SendFunc   func(ctx context.Context, in identifier.Input) (identifier.Identifier, error)
	VerifyFunc func(ctx context.Context, in identifier.Input, code string) (identifier.Identifier, *models.Session, error)
}

func (m *MockOTPService) Send(ctx context.Context, in identifier.Input) (identifier.Identifier, error) {
	if m.SendFunc != nil {
		return m.SendFunc(ctx, in)
	}
	return identifier.Identifier{}, nil
}

func (m *MockOTPService) Verify(ctx context.Context, in identifier.Input, code string) (identifier.Identifier, *models.Session, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, in, code)
	}
	return identifier.Identifier{}, nil, models.ErrInvalidCode
}

// MockPINService implements PINServiceInterface for testing
type MockPINService struct {
	SetPinFunc       func(ctx context.Context, userID, pin string) error
	LoginWithPinFunc func(ctx context.Context, method, user, pin string) (*models.Session, error)
}

func (m *MockPINService) SetPin(ctx context.Context, userID, pin string) error {
	if m.SetPinFunc != nil {
		return m.SetPinFunc(ctx, userID, pin)
	}
	return nil
}

func (m *MockPINService) LoginWithPin(ctx context.Context, method, user, pin string) (*models.Session, error) {
	if m.LoginWithPinFunc != nil {
		return m.LoginWithPinFunc(ctx, method, user, pin)
	}
	return nil, models.ErrPinNotSet
}

// MockWebAuthnService implements WebAuthnServiceInterface for testing
type MockWebAuthnService struct {
	RegistrationOptionsFunc func(ctx context.Context, userID, host string) (*protocol.CredentialCreation, string, error)
	VerifyRegistrationFunc  func(ctx context.Context, userID, host, challenge string, body []byte) (string, error)
	LoginOptionsFunc        func(ctx context.Context, host string) (*protocol.CredentialAssertion, string, error)
	FinishLoginFunc         func(ctx context.Context, host, challenge string, body []byte) (string, *models.Session, error)
}

func (m *MockWebAuthnService) RegistrationOptions(ctx context.Context, userID, host string) (*protocol.CredentialCreation, string, error) {
	if m.RegistrationOptionsFunc != nil {
		return m.RegistrationOptionsFunc(ctx, userID, host)
	}
	return &protocol.CredentialCreation{}, "challenge", nil
}

func (m *MockWebAuthnService) VerifyRegistration(ctx context.Context, userID, host, challenge string, body []byte) (string, error) {
	if m.VerifyRegistrationFunc != nil {
		return m.VerifyRegistrationFunc(ctx, userID, host, challenge, body)
	}
	return "", models.ErrVerificationFailed
}

func (m *MockWebAuthnService) LoginOptions(ctx context.Context, host string) (*protocol.CredentialAssertion, string, error) {
	if m.LoginOptionsFunc != nil {
		return m.LoginOptionsFunc(ctx, host)
	}
	return &protocol.CredentialAssertion{}, "challenge", nil
}

func (m *MockWebAuthnService) FinishLogin(ctx context.Context, host, challenge string, body []byte) (string, *models.Session, error) {
	if m.FinishLoginFunc != nil {
		return m.FinishLoginFunc(ctx, host, challenge, body)
	}
	return "", nil, models.ErrVerificationFailed
}

// MockHealthChecker implements HealthChecker for testing
type MockHealthChecker struct {
	Err error
}

func (m *MockHealthChecker) HealthCheck(ctx context.Context) error {
	return m.Err
}
