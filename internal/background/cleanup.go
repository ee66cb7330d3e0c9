package background

import (
	"context"
	"log/slog"
	"time"
)

// ExpiredCodeCleaner removes one-time code records past their retention
type ExpiredCodeCleaner interface {
	CleanupExpired(ctx context.Context, retention time.Duration) (int64, error)
}

// CooldownCleaner removes resend cooldown entries older than the window
type CooldownCleaner interface {
	Cleanup(ctx context.Context, window time.Duration) (int64, error)
}

// CleanupConfig holds the cleanup schedule and retention windows
type CleanupConfig struct {
	Interval       time.Duration
	CodeRetention  time.Duration
	CooldownWindow time.Duration
}

// CleanupManager periodically prunes expired codes and stale cooldowns
type CleanupManager struct {
	codes     ExpiredCodeCleaner
	cooldowns CooldownCleaner
	config    CleanupConfig
	logger    *slog.Logger
	stopCh    chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	codes ExpiredCodeCleaner,
	cooldowns CooldownCleaner,
	config CleanupConfig,
	logger *slog.Logger,
) *CleanupManager {
	return &CleanupManager{
		codes:     codes,
		cooldowns: cooldowns,
		config:    config,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start runs a cleanup immediately and then on every interval until ctx is
// cancelled or Stop is called.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.config.Interval)
	defer ticker.Stop()

	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	codes, err := cm.codes.CleanupExpired(cleanupCtx, cm.config.CodeRetention)
	if err != nil {
		cm.logger.Error("failed to cleanup expired codes", slog.Any("error", err))
	} else if codes > 0 {
		cm.logger.Info("expired code cleanup completed", slog.Int64("rows_deleted", codes))
	}

	cooldowns, err := cm.cooldowns.Cleanup(cleanupCtx, cm.config.CooldownWindow)
	if err != nil {
		cm.logger.Error("failed to cleanup resend cooldowns", slog.Any("error", err))
	} else if cooldowns > 0 {
		cm.logger.Info("cooldown cleanup completed", slog.Int64("rows_deleted", cooldowns))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
