package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/trustgate/internal/database"
	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OTPRepository handles one-time code data access
type OTPRepository struct {
	pool *pgxpool.Pool
}

// NewOTPRepository creates a new OTPRepository
func NewOTPRepository(db *database.DB) *OTPRepository {
	return &OTPRepository{pool: db.Pool}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const otpColumns = `id, identifier, channel, code_hash, expires_at, attempt_count, consumed_at, created_at`

// scanOTPRow handles nullable fields and populates an OTPRecord from a database row
func scanOTPRow(row rowScanner) (*models.OTPRecord, error) {
	var rec models.OTPRecord
	var consumedAt *time.Time

	err := row.Scan(
		&rec.ID, &rec.Identifier, &rec.Channel, &rec.CodeHash,
		&rec.ExpiresAt, &rec.AttemptCount, &consumedAt, &rec.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	rec.ConsumedAt = consumedAt
	return &rec, nil
}

// Create inserts a new code record
func (r *OTPRepository) Create(ctx context.Context, identifier string, channel models.Channel, codeHash string, expiresAt time.Time) (*models.OTPRecord, error) {
	query := `
		INSERT INTO otp_codes (id, identifier, channel, code_hash, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + otpColumns

	rec, err := scanOTPRow(r.pool.QueryRow(ctx, query, uuid.NewString(), identifier, channel, codeHash, expiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create otp record: %w", err)
	}

	return rec, nil
}

// GetLatestUnconsumed returns the most recent record not yet consumed for the
// identifier. Expiry is left to the caller so an expired record can be retired.
func (r *OTPRepository) GetLatestUnconsumed(ctx context.Context, identifier string) (*models.OTPRecord, error) {
	query := `
		SELECT ` + otpColumns + `
		FROM otp_codes
		WHERE identifier = $1 AND consumed_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`

	return scanOTPRow(r.pool.QueryRow(ctx, query, identifier))
}

// IncrementAttempts records a failed match. Returns false once the record has
// reached maxAttempts or was consumed concurrently.
func (r *OTPRepository) IncrementAttempts(ctx context.Context, id string, maxAttempts int) (bool, error) {
	query := `
		UPDATE otp_codes
		SET attempt_count = attempt_count + 1
		WHERE id = $1 AND consumed_at IS NULL AND attempt_count < $2
	`

	result, err := r.pool.Exec(ctx, query, id, maxAttempts)
	if err != nil {
		return false, fmt.Errorf("failed to increment otp attempts: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// Consume marks a live record as used. Exactly one concurrent caller can get true.
func (r *OTPRepository) Consume(ctx context.Context, id string, maxAttempts int) (bool, error) {
	query := `
		UPDATE otp_codes
		SET consumed_at = NOW()
		WHERE id = $1
		  AND consumed_at IS NULL
		  AND attempt_count < $2
		  AND expires_at > NOW()
	`

	result, err := r.pool.Exec(ctx, query, id, maxAttempts)
	if err != nil {
		return false, fmt.Errorf("failed to consume otp: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// Retire marks an expired record consumed so it is no longer selected.
func (r *OTPRepository) Retire(ctx context.Context, id string) error {
	query := `
		UPDATE otp_codes
		SET consumed_at = NOW()
		WHERE id = $1 AND consumed_at IS NULL AND expires_at <= NOW()
	`

	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to retire otp: %w", err)
	}

	return nil
}

// Delete removes a record whose delivery failed
func (r *OTPRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM otp_codes WHERE id = $1 AND consumed_at IS NULL`

	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete otp record: %w", err)
	}

	return nil
}

// CleanupExpired deletes records created before the retention window
func (r *OTPRepository) CleanupExpired(ctx context.Context, retention time.Duration) (int64, error) {
	query := `DELETE FROM otp_codes WHERE created_at < $1`

	result, err := r.pool.Exec(ctx, query, time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup otp records: %w", err)
	}

	return result.RowsAffected(), nil
}
