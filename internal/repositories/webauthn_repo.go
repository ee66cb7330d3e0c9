package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/trustgate/internal/database"
	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/jackc/pgx/v5"
)

// WebAuthnRepository stores registered passkeys
type WebAuthnRepository struct {
	db *database.DB
}

// NewWebAuthnRepository creates a new WebAuthnRepository
func NewWebAuthnRepository(db *database.DB) *WebAuthnRepository {
	return &WebAuthnRepository{db: db}
}

const credentialColumns = `credential_id, auth_user_id, public_key, attestation_type, aaguid, sign_count,
	clone_warning, device_type, backed_up, transports, created_at, last_used_at`

func scanCredentialRow(row rowScanner) (*models.WebAuthnCredential, error) {
	var c models.WebAuthnCredential
	var signCount int64
	var lastUsedAt *time.Time

	err := row.Scan(
		&c.CredentialID, &c.AuthUserID, &c.PublicKey, &c.AttestationType, &c.AAGUID, &signCount,
		&c.CloneWarning, &c.DeviceType, &c.BackedUp, &c.Transports, &c.CreatedAt, &lastUsedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	c.SignCount = uint32(signCount)
	c.LastUsedAt = lastUsedAt
	return &c, nil
}

// Get returns a credential by its base64url id
func (r *WebAuthnRepository) Get(ctx context.Context, credentialID string) (*models.WebAuthnCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM webauthn_credentials WHERE credential_id = $1`
	return scanCredentialRow(r.db.Pool.QueryRow(ctx, query, credentialID))
}

// ListByUser returns all credentials registered by a user, oldest first
func (r *WebAuthnRepository) ListByUser(ctx context.Context, authUserID string) ([]*models.WebAuthnCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM webauthn_credentials WHERE auth_user_id = $1 ORDER BY created_at`

	rows, err := r.db.Pool.Query(ctx, query, authUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	creds := make([]*models.WebAuthnCredential, 0)
	for rows.Next() {
		c, err := scanCredentialRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		creds = append(creds, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating credential rows: %w", err)
	}

	return creds, nil
}

// SaveRegistration upserts the credential and links it to the user's profile
// in one transaction. A credential id already owned by another user is
// rejected with models.ErrConflict.
func (r *WebAuthnRepository) SaveRegistration(ctx context.Context, cred *models.WebAuthnCredential) error {
	transports := cred.Transports
	if transports == nil {
		transports = []string{}
	}

	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			INSERT INTO webauthn_credentials (
				credential_id, auth_user_id, public_key, attestation_type, aaguid, sign_count,
				clone_warning, device_type, backed_up, transports
			)
			VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $8, $9)
			ON CONFLICT (credential_id) DO UPDATE
			SET public_key = EXCLUDED.public_key,
			    attestation_type = EXCLUDED.attestation_type,
			    aaguid = EXCLUDED.aaguid,
			    sign_count = EXCLUDED.sign_count,
			    clone_warning = FALSE,
			    device_type = EXCLUDED.device_type,
			    backed_up = EXCLUDED.backed_up,
			    transports = EXCLUDED.transports
			WHERE webauthn_credentials.auth_user_id = EXCLUDED.auth_user_id
		`,
			cred.CredentialID, cred.AuthUserID, cred.PublicKey, cred.AttestationType, cred.AAGUID,
			int64(cred.SignCount), cred.DeviceType, cred.BackedUp, transports,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert credential: %w", database.MapPostgresError(err))
		}
		if result.RowsAffected() == 0 {
			return models.ErrConflict
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO profiles (auth_user_id, passkey_enabled, credential_ids)
			VALUES ($1, TRUE, ARRAY[$2::text])
			ON CONFLICT (auth_user_id) DO UPDATE
			SET passkey_enabled = TRUE,
			    credential_ids = CASE
			        WHEN $2 = ANY(profiles.credential_ids) THEN profiles.credential_ids
			        ELSE array_append(profiles.credential_ids, $2::text)
			    END,
			    updated_at = NOW()
		`, cred.AuthUserID, cred.CredentialID)
		if err != nil {
			return fmt.Errorf("failed to link credential to profile: %w", err)
		}

		return nil
	})
}

// RecordUse raises sign_count and touches last_used_at. Authenticators without
// a counter always report zero, which is accepted while the stored count is
// also zero. Returns false when the counter did not advance.
func (r *WebAuthnRepository) RecordUse(ctx context.Context, credentialID string, signCount uint32) (bool, error) {
	query := `
		UPDATE webauthn_credentials
		SET sign_count = $2, last_used_at = NOW()
		WHERE credential_id = $1
		  AND clone_warning = FALSE
		  AND (sign_count < $2 OR (sign_count = 0 AND $2 = 0))
	`

	result, err := r.db.Pool.Exec(ctx, query, credentialID, int64(signCount))
	if err != nil {
		return false, fmt.Errorf("failed to record credential use: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// MarkCloneWarning flags a credential whose counter went backwards
func (r *WebAuthnRepository) MarkCloneWarning(ctx context.Context, credentialID string) error {
	query := `UPDATE webauthn_credentials SET clone_warning = TRUE WHERE credential_id = $1`

	if _, err := r.db.Pool.Exec(ctx, query, credentialID); err != nil {
		return fmt.Errorf("failed to flag credential: %w", err)
	}

	return nil
}
