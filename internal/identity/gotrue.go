// Package identity is a client for the hosted GoTrue-compatible auth backend
// that owns user accounts, passwords and session issuance.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BradenHooton/trustgate/internal/config"
	"github.com/BradenHooton/trustgate/internal/models"
)

const maxResponseBytes = 1 << 20

// Client talks to the identity provider REST API.
type Client struct {
	baseURL     string
	serviceKey  string
	anonKey     string
	emailDomain string
	http        *http.Client
	logger      *slog.Logger
}

// New creates a provider client. Requests time out after cfg.Timeout.
func New(cfg config.IdentityConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL:     strings.TrimRight(cfg.URL, "/"),
		serviceKey:  cfg.ServiceKey,
		anonKey:     cfg.AnonKey,
		emailDomain: cfg.PhoneEmailDomain,
		http:        &http.Client{Timeout: cfg.Timeout},
		logger:      logger,
	}
}

// apiError is the provider's error body. Different endpoints use different keys.
type apiError struct {
	Code        any    `json:"code"`
	ErrorCode   string `json:"error_code"`
	Msg         string `json:"msg"`
	Message     string `json:"message"`
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

func (e apiError) String() string {
	for _, s := range []string{e.Msg, e.Message, e.Description, e.Error, e.ErrorCode} {
		if s != "" {
			return s
		}
	}
	return "unknown error"
}

// statusError carries a non-2xx response so callers can classify it.
type statusError struct {
	Status int
	Body   apiError
}

func (e *statusError) Error() string {
	return fmt.Sprintf("identity provider returned %d: %s", e.Status, e.Body)
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func (u userResponse) toModel() *models.IdentityUser {
	return &models.IdentityUser{ID: u.ID, Email: u.Email, Phone: u.Phone}
}

type sessionResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int          `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	User         userResponse `json:"user"`
}

func (s sessionResponse) toModel() *models.Session {
	expiresAt := s.ExpiresAt
	if expiresAt == 0 && s.ExpiresIn > 0 {
		expiresAt = time.Now().Add(time.Duration(s.ExpiresIn) * time.Second).Unix()
	}
	return &models.Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		ExpiresIn:    s.ExpiresIn,
		ExpiresAt:    expiresAt,
		UserID:       s.User.ID,
	}
}

// SyntheticEmail returns the provider login email for a phone-only account.
func (c *Client) SyntheticEmail(phone string) string {
	digits := strings.TrimPrefix(phone, "+")
	return "p" + digits + "@" + c.emailDomain
}

// CreateUser creates a confirmed account. Phone-only accounts get a synthetic
// email so they can sign in with a password. An existing account yields
// models.ErrConflict.
func (c *Client) CreateUser(ctx context.Context, email, phone string) (*models.IdentityUser, error) {
	body := map[string]any{"email_confirm": true}
	if email == "" {
		email = c.SyntheticEmail(phone)
	}
	body["email"] = email
	if phone != "" {
		body["phone"] = strings.TrimPrefix(phone, "+")
		body["phone_confirm"] = true
	}

	var user userResponse
	err := c.do(ctx, http.MethodPost, "/admin/users", c.serviceKey, body, &user)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && (se.Status == http.StatusUnprocessableEntity || se.Status == http.StatusConflict) {
			return nil, models.ErrConflict
		}
		return nil, c.classify("create user", err)
	}

	return user.toModel(), nil
}

// UpdatePassword overwrites the account password.
func (c *Client) UpdatePassword(ctx context.Context, userID, password string) error {
	path := "/admin/users/" + url.PathEscape(userID)
	if err := c.do(ctx, http.MethodPut, path, c.serviceKey, map[string]any{"password": password}, nil); err != nil {
		return c.classify("update password", err)
	}
	return nil
}

// SignInWithPassword exchanges email and password for a session. Rejected
// credentials yield models.ErrUnauthorized.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error) {
	var resp sessionResponse
	body := map[string]any{"email": email, "password": password}
	err := c.do(ctx, http.MethodPost, "/token?grant_type=password", c.anonKey, body, &resp)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && (se.Status == http.StatusBadRequest || se.Status == http.StatusUnauthorized) {
			return nil, models.ErrUnauthorized
		}
		return nil, c.classify("password sign-in", err)
	}
	return resp.toModel(), nil
}

// SendEmailOTP asks the provider to email a one-time code.
func (c *Client) SendEmailOTP(ctx context.Context, email string) error {
	body := map[string]any{"email": email, "create_user": true}
	if err := c.do(ctx, http.MethodPost, "/otp", c.anonKey, body, nil); err != nil {
		var se *statusError
		if errors.As(err, &se) && se.Status == http.StatusTooManyRequests {
			return models.ErrRateLimitExceeded
		}
		return c.classify("send email otp", err)
	}
	return nil
}

// VerifyEmailOTP checks a provider-issued email code. A rejected code yields
// models.ErrInvalidCode.
func (c *Client) VerifyEmailOTP(ctx context.Context, email, code string) (*models.Session, error) {
	var resp sessionResponse
	body := map[string]any{"type": "email", "email": email, "token": code}
	err := c.do(ctx, http.MethodPost, "/verify", c.anonKey, body, &resp)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.Status >= 400 && se.Status < 500 && se.Status != http.StatusTooManyRequests {
			return nil, models.ErrInvalidCode
		}
		return nil, c.classify("verify email otp", err)
	}
	return resp.toModel(), nil
}

type generateLinkResponse struct {
	HashedToken string `json:"hashed_token"`
	Properties  struct {
		HashedToken string `json:"hashed_token"`
	} `json:"properties"`
}

// IssueSession mints a session for an already verified user by generating a
// magic link server-side and redeeming its token immediately.
func (c *Client) IssueSession(ctx context.Context, user *models.IdentityUser) (*models.Session, error) {
	email := user.Email
	if email == "" {
		email = c.SyntheticEmail(user.Phone)
	}

	var link generateLinkResponse
	body := map[string]any{"type": "magiclink", "email": email}
	if err := c.do(ctx, http.MethodPost, "/admin/generate_link", c.serviceKey, body, &link); err != nil {
		return nil, c.classify("generate link", err)
	}

	tokenHash := link.HashedToken
	if tokenHash == "" {
		tokenHash = link.Properties.HashedToken
	}
	if tokenHash == "" {
		return nil, fmt.Errorf("generate link: empty token hash: %w", models.ErrProviderFailed)
	}

	var resp sessionResponse
	verify := map[string]any{"type": "magiclink", "token_hash": tokenHash}
	if err := c.do(ctx, http.MethodPost, "/verify", c.anonKey, verify, &resp); err != nil {
		return nil, c.classify("redeem link", err)
	}

	session := resp.toModel()
	if session.UserID == "" {
		session.UserID = user.ID
	}
	return session, nil
}

// classify maps anything that is not a recognised client error to
// ErrProviderFailed, keeping the underlying detail in the chain for logs.
func (c *Client) classify(op string, err error) error {
	if errors.Is(err, models.ErrMisconfigured) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var se *statusError
	if errors.As(err, &se) && (se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden) {
		c.logger.Error("identity provider rejected service credentials",
			slog.String("op", op),
			slog.Int("status", se.Status),
		)
		return fmt.Errorf("%s: %w: %v", op, models.ErrMisconfigured, err)
	}
	return fmt.Errorf("%s: %w: %v", op, models.ErrProviderFailed, err)
}

func (c *Client) do(ctx context.Context, method, path, key string, body, out any) error {
	if c.baseURL == "" || key == "" {
		return models.ErrMisconfigured
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", key)
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxResponseBytes)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		_ = json.NewDecoder(limited).Decode(&apiErr)
		return &statusError{Status: resp.StatusCode, Body: apiErr}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, limited)
		return nil
	}

	if err := json.NewDecoder(limited).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
