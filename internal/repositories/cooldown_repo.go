package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/trustgate/internal/database"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CooldownRepository tracks the last send time per identifier
type CooldownRepository struct {
	pool *pgxpool.Pool
}

// NewCooldownRepository creates a new CooldownRepository
func NewCooldownRepository(db *database.DB) *CooldownRepository {
	return &CooldownRepository{pool: db.Pool}
}

// Acquire claims the send slot for identifier. It returns false when the
// previous send is still inside window.
func (r *CooldownRepository) Acquire(ctx context.Context, identifier string, window time.Duration) (bool, error) {
	query := `
		INSERT INTO otp_cooldowns (identifier, last_sent_at)
		VALUES ($1, NOW())
		ON CONFLICT (identifier) DO UPDATE
		SET last_sent_at = EXCLUDED.last_sent_at
		WHERE otp_cooldowns.last_sent_at <= NOW() - make_interval(secs => $2)
	`

	result, err := r.pool.Exec(ctx, query, identifier, window.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to acquire send cooldown: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// Release drops the cooldown so a failed delivery can be retried at once
func (r *CooldownRepository) Release(ctx context.Context, identifier string) error {
	query := `DELETE FROM otp_cooldowns WHERE identifier = $1`

	if _, err := r.pool.Exec(ctx, query, identifier); err != nil {
		return fmt.Errorf("failed to release send cooldown: %w", err)
	}

	return nil
}

// Cleanup deletes cooldown rows older than window
func (r *CooldownRepository) Cleanup(ctx context.Context, window time.Duration) (int64, error) {
	query := `DELETE FROM otp_cooldowns WHERE last_sent_at < $1`

	result, err := r.pool.Exec(ctx, query, time.Now().Add(-window))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup send cooldowns: %w", err)
	}

	return result.RowsAffected(), nil
}
