package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCooldown_Acquire(t *testing.T) {
	db, mock := redismock.NewClientMock()
	repo := NewRedisCooldownRepository(db)
	ctx := context.Background()

	mock.ExpectSetNX("otp_cooldown:+9779812345678", "1", 30*time.Second).SetVal(true)
	mock.ExpectSetNX("otp_cooldown:+9779812345678", "1", 30*time.Second).SetVal(false)

	ok, err := repo.Acquire(ctx, "+9779812345678", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Acquire(ctx, "+9779812345678", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCooldown_AcquireError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	repo := NewRedisCooldownRepository(db)

	mock.ExpectSetNX("otp_cooldown:a@example.com", "1", time.Minute).SetErr(errors.New("connection refused"))

	ok, err := repo.Acquire(context.Background(), "a@example.com", time.Minute)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestRedisCooldown_Release(t *testing.T) {
	db, mock := redismock.NewClientMock()
	repo := NewRedisCooldownRepository(db)

	mock.ExpectDel("otp_cooldown:a@example.com").SetVal(1)

	require.NoError(t, repo.Release(context.Background(), "a@example.com"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
