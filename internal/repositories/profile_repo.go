package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/trustgate/internal/database"
	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProfileRepository maps phone numbers and emails to identity-provider users
type ProfileRepository struct {
	pool *pgxpool.Pool
}

// NewProfileRepository creates a new ProfileRepository
func NewProfileRepository(db *database.DB) *ProfileRepository {
	return &ProfileRepository{pool: db.Pool}
}

const profileColumns = `auth_user_id, phone, email, passkey_enabled, credential_ids, created_at, updated_at`

func scanProfileRow(row rowScanner) (*models.Profile, error) {
	var p models.Profile
	var phone, email *string
	var createdAt, updatedAt time.Time

	err := row.Scan(
		&p.AuthUserID, &phone, &email, &p.PasskeyEnabled,
		&p.CredentialIDs, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if phone != nil {
		p.Phone = *phone
	}
	if email != nil {
		p.Email = *email
	}
	p.CreatedAt = createdAt
	p.UpdatedAt = updatedAt
	return &p, nil
}

// GetByID returns the profile for a provider user id
func (r *ProfileRepository) GetByID(ctx context.Context, authUserID string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE auth_user_id = $1`
	return scanProfileRow(r.pool.QueryRow(ctx, query, authUserID))
}

// GetByPhone returns the profile owning an E.164 phone number
func (r *ProfileRepository) GetByPhone(ctx context.Context, phone string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE phone = $1`
	return scanProfileRow(r.pool.QueryRow(ctx, query, phone))
}

// GetByEmail returns the profile owning a lower-cased email
func (r *ProfileRepository) GetByEmail(ctx context.Context, email string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE email = $1`
	return scanProfileRow(r.pool.QueryRow(ctx, query, email))
}

// Upsert creates the profile or fills in a missing phone/email. Existing
// values are never overwritten.
func (r *ProfileRepository) Upsert(ctx context.Context, authUserID, phone, email string) (*models.Profile, error) {
	query := `
		INSERT INTO profiles (auth_user_id, phone, email)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''))
		ON CONFLICT (auth_user_id) DO UPDATE
		SET phone = COALESCE(profiles.phone, EXCLUDED.phone),
		    email = COALESCE(profiles.email, EXCLUDED.email),
		    updated_at = NOW()
		RETURNING ` + profileColumns

	p, err := scanProfileRow(r.pool.QueryRow(ctx, query, authUserID, phone, email))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert profile: %w", err)
	}

	return p, nil
}
