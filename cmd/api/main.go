package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/BradenHooton/trustgate/internal/auth"
	"github.com/BradenHooton/trustgate/internal/background"
	"github.com/BradenHooton/trustgate/internal/config"
	"github.com/BradenHooton/trustgate/internal/database"
	"github.com/BradenHooton/trustgate/internal/handlers"
	"github.com/BradenHooton/trustgate/internal/identifier"
	"github.com/BradenHooton/trustgate/internal/identity"
	middlewareCustom "github.com/BradenHooton/trustgate/internal/middleware"
	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/BradenHooton/trustgate/internal/repositories"
	"github.com/BradenHooton/trustgate/internal/routes"
	"github.com/BradenHooton/trustgate/internal/services"
	pkghttp "github.com/BradenHooton/trustgate/pkg/http"
	pkglogger "github.com/BradenHooton/trustgate/pkg/logger"
)

// cooldownStore is satisfied by both the Postgres and the Redis cooldown repositories
type cooldownStore interface {
	services.CooldownStore
	background.CooldownCleaner
}

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	if err := level.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
		logger.Warn("invalid LOG_LEVEL, using info", slog.String("log_level", cfg.Server.LogLevel))
	}

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("email_otp_mode", cfg.Email.OTPMode),
		slog.Bool("sms_configured", cfg.SMSConfigured()),
		slog.Bool("identity_configured", cfg.IdentityConfigured()))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	otpRepo := repositories.NewOTPRepository(db)
	profileRepo := repositories.NewProfileRepository(db)
	pinRepo := repositories.NewPINRepository(db)
	webauthnRepo := repositories.NewWebAuthnRepository(db)

	var cooldowns cooldownStore = repositories.NewCooldownRepository(db)
	if cfg.Redis.URL != "" {
		redisClient, err := database.NewRedisClient(cfg.Redis.URL, logger)
		if err != nil {
			logger.Error("failed to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer redisClient.Close()
		cooldowns = repositories.NewRedisCooldownRepository(redisClient)
	}

	normalizer, err := identifier.NewNormalizer(
		cfg.OTP.PhoneCountryCode,
		cfg.OTP.PhoneSubscriberLength,
		cfg.OTP.PhoneSubscriberPattern,
	)
	if err != nil {
		logger.Error("invalid phone numbering plan", slog.Any("error", err))
		os.Exit(1)
	}

	identityProvider := identity.New(cfg.Identity, logger)

	// Delivery adapters
	senders := map[models.Channel]services.CodeSender{
		models.ChannelSMS: services.NewSMSGatewaySender(cfg.SMS, logger),
	}
	if cfg.Email.OTPMode == config.EmailOTPModeSES {
		initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		emailSender, err := services.NewSESEmailSender(initCtx, cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
		cancel()
		if err != nil {
			logger.Error("failed to initialize email sender", slog.Any("error", err))
			os.Exit(1)
		}
		senders[models.ChannelEmail] = emailSender
	}

	// Initialize services
	otpService := services.NewOTPService(otpRepo, cooldowns, profileRepo, identityProvider, senders, normalizer,
		services.OTPConfig{
			Pepper:         cfg.OTP.Pepper,
			TTL:            cfg.OTP.TTL,
			ResendCooldown: cfg.OTP.ResendCooldown,
			MaxAttempts:    cfg.OTP.MaxAttempts,
			SendTimeout:    max(cfg.SMS.Timeout, cfg.Email.Timeout),
			EmailMode:      cfg.Email.OTPMode,
		}, logger)

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelay:   300 * time.Millisecond,
		RandomDelay: 100 * time.Millisecond,
	})
	pinService := services.NewPINService(pinRepo, profileRepo, identityProvider, normalizer, timingDelay,
		services.PINConfig{
			Pepper:          cfg.PIN.Pepper,
			MaxAttempts:     cfg.PIN.MaxAttempts,
			LockoutDuration: cfg.PIN.LockoutDuration,
		}, logger)

	webauthnService := services.NewWebAuthnService(webauthnRepo, profileRepo, identityProvider,
		services.WebAuthnConfig{
			RPName:          cfg.WebAuthn.RPName,
			CanonicalDomain: cfg.WebAuthn.CanonicalDomain,
			Origins:         cfg.WebAuthnOrigins(),
		}, logger)

	// Initialize handlers
	auditLogger := pkglogger.NewAuditLogger(logger)
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	cookies := auth.CookieConfig{Domain: cfg.Cookie.Domain, Secure: cfg.Cookie.Secure}

	h := routes.Handlers{
		Health:   handlers.NewHealthHandler(db),
		OTP:      handlers.NewOTPHandler(otpService, auditLogger, cookies, ipConfig),
		PIN:      handlers.NewPINHandler(pinService, auditLogger, cookies, ipConfig),
		WebAuthn: handlers.NewWebAuthnHandler(webauthnService, auditLogger, cookies, cfg.WebAuthn.ChallengeTTL, ipConfig),
	}

	// Browser origins: the app origins plus the passkey origins
	origins := append([]string{}, cfg.Server.AllowedOrigins...)
	for _, origin := range cfg.WebAuthnOrigins() {
		if !contains(origins, origin) {
			origins = append(origins, origin)
		}
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(origins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	routes.RegisterRoutes(router, h, auth.NewSessionVerifier(cfg.Identity.JWTSecret), origins, ipConfig, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	cleanupManager := background.NewCleanupManager(otpRepo, cooldowns, background.CleanupConfig{
		Interval:       cfg.Server.CleanupInterval,
		CodeRetention:  cfg.OTP.Retention,
		CooldownWindow: cfg.OTP.ResendCooldown,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		cleanupManager.Start(gctx)
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
