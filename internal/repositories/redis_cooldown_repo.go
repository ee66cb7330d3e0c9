package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cooldownKeyPrefix = "otp_cooldown:"

// RedisCooldownRepository keeps send cooldowns as expiring Redis keys.
type RedisCooldownRepository struct {
	client redis.Cmdable
}

// NewRedisCooldownRepository creates a new RedisCooldownRepository
func NewRedisCooldownRepository(client redis.Cmdable) *RedisCooldownRepository {
	return &RedisCooldownRepository{client: client}
}

// Acquire sets the cooldown key only if it does not exist yet.
func (r *RedisCooldownRepository) Acquire(ctx context.Context, identifier string, window time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, cooldownKeyPrefix+identifier, "1", window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire send cooldown: %w", err)
	}
	return ok, nil
}

// Release deletes the cooldown key
func (r *RedisCooldownRepository) Release(ctx context.Context, identifier string) error {
	if err := r.client.Del(ctx, cooldownKeyPrefix+identifier).Err(); err != nil {
		return fmt.Errorf("failed to release send cooldown: %w", err)
	}
	return nil
}

// Cleanup is a no-op; Redis expires keys on its own.
func (r *RedisCooldownRepository) Cleanup(context.Context, time.Duration) (int64, error) {
	return 0, nil
}
