package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Redis    RedisConfig
	OTP      OTPConfig
	SMS      SMSConfig
	Email    EmailConfig
	PIN      PINConfig
	WebAuthn WebAuthnConfig
	Identity IdentityConfig
	Cookie   CookieConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ApplicationName   string
	StatementTimeout  time.Duration
}

type ServerConfig struct {
	Port            string
	Env             string
	LogLevel        string
	AllowedOrigins  []string
	TrustedProxies  []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
}

// RedisConfig is optional; an empty URL keeps resend cooldowns in Postgres.
type RedisConfig struct {
	URL string
}

type OTPConfig struct {
	Pepper         string
	TTL            time.Duration
	ResendCooldown time.Duration
	MaxAttempts    int
	Retention      time.Duration

	// Supported mobile numbering plan.
	PhoneCountryCode       string
	PhoneSubscriberLength  int
	PhoneSubscriberPattern string
}

type SMSConfig struct {
	GatewayURL string
	APIKey     string
	SenderID   string
	Timeout    time.Duration
}

// EmailOTPMode selects how email one-time codes are delivered.
const (
	EmailOTPModeProvider = "provider"
	EmailOTPModeSES      = "ses"
)

type EmailConfig struct {
	OTPMode     string
	AWSRegion   string
	FromAddress string
	Timeout     time.Duration
}

type PINConfig struct {
	Pepper          string
	MaxAttempts     int
	LockoutDuration time.Duration
}

type WebAuthnConfig struct {
	RPName          string
	CanonicalDomain string
	Origins         []string
	ChallengeTTL    time.Duration
}

type IdentityConfig struct {
	URL              string
	ServiceKey       string
	AnonKey          string
	JWTSecret        string
	Timeout          time.Duration
	PhoneEmailDomain string
}

type CookieConfig struct {
	Domain string
	Secure bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "trustgate"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			ApplicationName:   getEnv("DB_APPLICATION_NAME", "trustgate"),
			StatementTimeout:  getEnvAsDuration("DB_STATEMENT_TIMEOUT", 5*time.Second),
		},
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Env:             env,
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			AllowedOrigins:  parseAllowedOrigins(env),
			TrustedProxies:  getEnvAsList("TRUSTED_PROXIES"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			CleanupInterval: getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		OTP: OTPConfig{
			Pepper:                 getEnv("OTP_PEPPER", ""),
			TTL:                    getEnvAsDuration("OTP_TTL", 5*time.Minute),
			ResendCooldown:         getEnvAsDuration("OTP_RESEND_COOLDOWN", 30*time.Second),
			MaxAttempts:            getEnvAsInt("OTP_MAX_ATTEMPTS", 5),
			Retention:              getEnvAsDuration("OTP_RETENTION", 30*24*time.Hour),
			PhoneCountryCode:       getEnv("PHONE_COUNTRY_CODE", "977"),
			PhoneSubscriberLength:  getEnvAsInt("PHONE_SUBSCRIBER_LENGTH", 10),
			PhoneSubscriberPattern: getEnv("PHONE_SUBSCRIBER_PATTERN", `^9[678]`),
		},
		SMS: SMSConfig{
			GatewayURL: getEnv("SMS_GATEWAY_URL", ""),
			APIKey:     getEnv("SMS_API_KEY", ""),
			SenderID:   getEnv("SMS_SENDER_ID", ""),
			Timeout:    getEnvAsDuration("SMS_TIMEOUT", 5*time.Second),
		},
		Email: EmailConfig{
			OTPMode:     strings.ToLower(getEnv("EMAIL_OTP_MODE", EmailOTPModeProvider)),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
			Timeout:     getEnvAsDuration("EMAIL_TIMEOUT", 5*time.Second),
		},
		PIN: PINConfig{
			Pepper:          getEnv("PIN_PEPPER", ""),
			MaxAttempts:     getEnvAsInt("PIN_MAX_ATTEMPTS", 5),
			LockoutDuration: getEnvAsDuration("PIN_LOCKOUT_DURATION", 15*time.Minute),
		},
		WebAuthn: WebAuthnConfig{
			RPName:          getEnv("WEBAUTHN_RP_NAME", "Trustgate"),
			CanonicalDomain: strings.ToLower(getEnv("WEBAUTHN_CANONICAL_DOMAIN", "localhost")),
			Origins:         getEnvAsList("WEBAUTHN_ORIGINS"),
			ChallengeTTL:    getEnvAsDuration("WEBAUTHN_CHALLENGE_TTL", 5*time.Minute),
		},
		Identity: IdentityConfig{
			URL:              strings.TrimRight(getEnv("IDENTITY_URL", ""), "/"),
			ServiceKey:       getEnv("IDENTITY_SERVICE_KEY", ""),
			AnonKey:          getEnv("IDENTITY_ANON_KEY", ""),
			JWTSecret:        getEnv("IDENTITY_JWT_SECRET", ""),
			Timeout:          getEnvAsDuration("IDENTITY_TIMEOUT", 5*time.Second),
			PhoneEmailDomain: getEnv("PHONE_EMAIL_DOMAIN", "phone.invalid"),
		},
		Cookie: CookieConfig{
			Domain: getEnv("COOKIE_DOMAIN", ""),
			Secure: getEnvAsBool("COOKIE_SECURE", env == "production"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if cfg.Email.OTPMode != EmailOTPModeProvider && cfg.Email.OTPMode != EmailOTPModeSES {
		return nil, fmt.Errorf("EMAIL_OTP_MODE must be %q or %q", EmailOTPModeProvider, EmailOTPModeSES)
	}

	if cfg.WebAuthn.ChallengeTTL < 3*time.Minute || cfg.WebAuthn.ChallengeTTL > 10*time.Minute {
		return nil, fmt.Errorf("WEBAUTHN_CHALLENGE_TTL must be between 3m and 10m (got %s)", cfg.WebAuthn.ChallengeTTL)
	}

	if err := validateSecret("OTP_PEPPER", cfg.OTP.Pepper, env); err != nil {
		return nil, err
	}
	if err := validateSecret("PIN_PEPPER", cfg.PIN.Pepper, env); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecret rejects short or well-known secrets. An empty value is allowed
// here; the services that need it report ErrMisconfigured at call time.
func validateSecret(name, secret, env string) error {
	if secret == "" {
		return nil
	}

	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("%s must be at least %d characters in %s environment (got %d)",
			name, minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("%s cannot be a common weak value", name)
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// SMSConfigured reports whether the SMS gateway can be called.
func (c *Config) SMSConfigured() bool {
	return c.SMS.GatewayURL != "" && c.SMS.APIKey != ""
}

// IdentityConfigured reports whether the identity provider admin API can be called.
func (c *Config) IdentityConfigured() bool {
	return c.Identity.URL != "" && c.Identity.ServiceKey != ""
}

// WebAuthnOrigins returns the configured origins, falling back to the canonical
// apex and its www host over https.
func (c *Config) WebAuthnOrigins() []string {
	if len(c.WebAuthn.Origins) > 0 {
		return c.WebAuthn.Origins
	}
	if c.WebAuthn.CanonicalDomain == "localhost" {
		return []string{"http://localhost:3000", "http://localhost:8080"}
	}
	return []string{
		"https://" + c.WebAuthn.CanonicalDomain,
		"https://www." + c.WebAuthn.CanonicalDomain,
	}
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	items := make([]string, 0)
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		origins := getEnvAsList("ALLOWED_ORIGINS")
		if origins == nil {
			return []string{} // Default to no origins in production
		}
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
