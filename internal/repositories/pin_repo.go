package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/trustgate/internal/database"
	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/jackc/pgx/v5"
)

// PINRepository stores PIN factors and the salts of PIN-derived credentials
type PINRepository struct {
	db *database.DB
}

// NewPINRepository creates a new PINRepository
func NewPINRepository(db *database.DB) *PINRepository {
	return &PINRepository{db: db}
}

const factorColumns = `auth_user_id, factor_type, pin_hash, failed_attempts, locked_until, created_at, updated_at`

func scanFactorRow(row rowScanner) (*models.TrustedFactor, error) {
	var f models.TrustedFactor
	var lockedUntil *time.Time

	err := row.Scan(
		&f.AuthUserID, &f.FactorType, &f.PinHash, &f.FailedAttempts,
		&lockedUntil, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	f.LockedUntil = lockedUntil
	return &f, nil
}

// GetFactor returns the PIN factor for a user
func (r *PINRepository) GetFactor(ctx context.Context, authUserID string) (*models.TrustedFactor, error) {
	query := `SELECT ` + factorColumns + ` FROM trusted_factors WHERE auth_user_id = $1 AND factor_type = $2`
	return scanFactorRow(r.db.Pool.QueryRow(ctx, query, authUserID, models.FactorTypePIN))
}

// GetCredential returns the derived-credential salt for a user
func (r *PINRepository) GetCredential(ctx context.Context, authUserID string) (*models.PinCredential, error) {
	query := `SELECT auth_user_id, salt, updated_at FROM pin_credentials WHERE auth_user_id = $1`

	var c models.PinCredential
	err := r.db.Pool.QueryRow(ctx, query, authUserID).Scan(&c.AuthUserID, &c.Salt, &c.UpdatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &c, nil
}

// RecordFailure increments failed_attempts and sets locked_until once the count
// reaches maxAttempts, in one statement. A failure after an elapsed lock starts
// a new count at 1.
func (r *PINRepository) RecordFailure(ctx context.Context, authUserID string, maxAttempts int, lockout time.Duration) (*models.TrustedFactor, error) {
	query := `
		UPDATE trusted_factors
		SET failed_attempts = CASE
				WHEN locked_until IS NOT NULL AND locked_until <= NOW() THEN 1
				ELSE failed_attempts + 1
			END,
			locked_until = CASE
				WHEN (CASE
					WHEN locked_until IS NOT NULL AND locked_until <= NOW() THEN 1
					ELSE failed_attempts + 1
				END) >= $3 THEN NOW() + make_interval(secs => $4)
				WHEN locked_until IS NOT NULL AND locked_until <= NOW() THEN NULL
				ELSE locked_until
			END,
			updated_at = NOW()
		WHERE auth_user_id = $1 AND factor_type = $2
		RETURNING ` + factorColumns

	factor, err := scanFactorRow(r.db.Pool.QueryRow(ctx, query, authUserID, models.FactorTypePIN, maxAttempts, lockout.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("failed to record pin failure: %w", err)
	}

	return factor, nil
}

// ResetFailures clears the failure counter and any lock
func (r *PINRepository) ResetFailures(ctx context.Context, authUserID string) error {
	query := `
		UPDATE trusted_factors
		SET failed_attempts = 0, locked_until = NULL, updated_at = NOW()
		WHERE auth_user_id = $1 AND factor_type = $2
		  AND (failed_attempts <> 0 OR locked_until IS NOT NULL)
	`

	if _, err := r.db.Pool.Exec(ctx, query, authUserID, models.FactorTypePIN); err != nil {
		return fmt.Errorf("failed to reset pin failures: %w", err)
	}

	return nil
}

// ReplacePin writes the salt and PIN hash in one transaction. commit runs
// inside the transaction after both writes; an error from it rolls them back.
func (r *PINRepository) ReplacePin(ctx context.Context, authUserID, salt, pinHash string, commit func(context.Context) error) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO pin_credentials (auth_user_id, salt, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (auth_user_id) DO UPDATE
			SET salt = EXCLUDED.salt, updated_at = NOW()
		`, authUserID, salt)
		if err != nil {
			return fmt.Errorf("failed to store pin salt: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO trusted_factors (auth_user_id, factor_type, pin_hash)
			VALUES ($1, $2, $3)
			ON CONFLICT (auth_user_id, factor_type) DO UPDATE
			SET pin_hash = EXCLUDED.pin_hash,
			    failed_attempts = 0,
			    locked_until = NULL,
			    updated_at = NOW()
		`, authUserID, models.FactorTypePIN, pinHash)
		if err != nil {
			return fmt.Errorf("failed to store pin factor: %w", err)
		}

		return commit(ctx)
	})
}
