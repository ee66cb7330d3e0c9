package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DB_PASSWORD", "test")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	tests := []struct {
		name     string
		actual   time.Duration
		expected time.Duration
	}{
		{"ReadTimeout", cfg.Server.ReadTimeout, 15 * time.Second},
		{"WriteTimeout", cfg.Server.WriteTimeout, 15 * time.Second},
		{"IdleTimeout", cfg.Server.IdleTimeout, 60 * time.Second},
		{"OTP.TTL", cfg.OTP.TTL, 5 * time.Minute},
		{"OTP.ResendCooldown", cfg.OTP.ResendCooldown, 30 * time.Second},
		{"PIN.LockoutDuration", cfg.PIN.LockoutDuration, 15 * time.Minute},
		{"WebAuthn.ChallengeTTL", cfg.WebAuthn.ChallengeTTL, 5 * time.Minute},
		{"SMS.Timeout", cfg.SMS.Timeout, 5 * time.Second},
		{"Database.StatementTimeout", cfg.Database.StatementTimeout, 5 * time.Second},
	}

	for _, tt := range tests {
		if tt.actual != tt.expected {
			t.Errorf("%s: got %v, want %v", tt.name, tt.actual, tt.expected)
		}
	}

	if cfg.OTP.MaxAttempts != 5 {
		t.Errorf("OTP.MaxAttempts: got %d, want 5", cfg.OTP.MaxAttempts)
	}
	if cfg.PIN.MaxAttempts != 5 {
		t.Errorf("PIN.MaxAttempts: got %d, want 5", cfg.PIN.MaxAttempts)
	}
	if cfg.Email.OTPMode != EmailOTPModeProvider {
		t.Errorf("Email.OTPMode: got %q, want %q", cfg.Email.OTPMode, EmailOTPModeProvider)
	}
	if cfg.Database.ApplicationName != "trustgate" {
		t.Errorf("Database.ApplicationName: got %q, want trustgate", cfg.Database.ApplicationName)
	}
	if cfg.OTP.PhoneCountryCode != "977" || cfg.OTP.PhoneSubscriberLength != 10 {
		t.Errorf("phone plan: got +%s/%d", cfg.OTP.PhoneCountryCode, cfg.OTP.PhoneSubscriberLength)
	}
}

func TestLoad_MissingDBPassword(t *testing.T) {
	t.Setenv("DB_PASSWORD", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil, want error for missing DB_PASSWORD")
	}
}

func TestLoad_MissingSecretsDoNotFailLoad(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.SMSConfigured() {
		t.Error("SMSConfigured() = true with no gateway settings")
	}
	if cfg.IdentityConfigured() {
		t.Error("IdentityConfigured() = true with no identity settings")
	}
	if cfg.OTP.Pepper != "" || cfg.PIN.Pepper != "" {
		t.Error("peppers should be empty when unset")
	}
}

func TestLoad_WeakPepperRejected(t *testing.T) {
	setRequired(t)
	t.Setenv("OTP_PEPPER", "short")

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil, want error for short OTP_PEPPER")
	}
}

func TestLoad_ProductionPepperLength(t *testing.T) {
	setRequired(t)
	t.Setenv("ENV", "production")
	t.Setenv("PIN_PEPPER", "twenty-characters-xx")

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil, want error for 20-char pepper in production")
	}
}

func TestLoad_InvalidEmailMode(t *testing.T) {
	setRequired(t)
	t.Setenv("EMAIL_OTP_MODE", "carrier-pigeon")

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil, want error for unknown EMAIL_OTP_MODE")
	}
}

func TestLoad_ChallengeTTLBounds(t *testing.T) {
	setRequired(t)
	t.Setenv("WEBAUTHN_CHALLENGE_TTL", "30m")

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil, want error for 30m challenge TTL")
	}
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	setRequired(t)
	t.Setenv("OTP_TTL", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.OTP.TTL != 5*time.Minute {
		t.Errorf("OTP.TTL with invalid value: got %v, want %v", cfg.OTP.TTL, 5*time.Minute)
	}
}

func TestWebAuthnOrigins(t *testing.T) {
	cfg := &Config{WebAuthn: WebAuthnConfig{CanonicalDomain: "example.org"}}

	got := cfg.WebAuthnOrigins()
	want := []string{"https://example.org", "https://www.example.org"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("WebAuthnOrigins() = %v, want %v", got, want)
	}

	cfg.WebAuthn.Origins = []string{"https://app.example.org"}
	if got := cfg.WebAuthnOrigins(); len(got) != 1 || got[0] != "https://app.example.org" {
		t.Errorf("WebAuthnOrigins() with explicit list = %v", got)
	}
}

func TestGetEnvAsList(t *testing.T) {
	t.Setenv("TEST_LIST", " a, b ,,c ")

	got := getEnvAsList("TEST_LIST")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("getEnvAsList() = %v, want [a b c]", got)
	}
}
