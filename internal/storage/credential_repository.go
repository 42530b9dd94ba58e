package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"api_gateway/internal/models"
)

const credentialColumns = `id, owner_id, name, public_key, secret_hash, active, created_at, expires_at, last_used_at`

// CredentialRepository handles credential database operations
type CredentialRepository struct {
	db *DB
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func credentialCacheKey(publicKey string) string {
	return "credential:" + publicKey
}

// GetByPublicKey retrieves a credential by its public key (with caching)
func (r *CredentialRepository) GetByPublicKey(ctx context.Context, publicKey string) (*models.Credential, error) {
	cacheKey := credentialCacheKey(publicKey)
	if cached, found := r.db.credentialCache.Get(cacheKey); found {
		c := *cached.(*models.Credential)
		return &c, nil
	}

	var cred models.Credential
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE public_key = $1`

	err := r.db.conn.GetContext(ctx, &cred, query, publicKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	cached := cred
	r.db.credentialCache.Set(cacheKey, &cached)
	return &cred, nil
}

// GetByID retrieves a credential by ID for the given owner
func (r *CredentialRepository) GetByID(ctx context.Context, ownerID, id uuid.UUID) (*models.Credential, error) {
	var cred models.Credential
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE id = $1 AND owner_id = $2`

	err := r.db.conn.GetContext(ctx, &cred, query, id, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	return &cred, nil
}

// ListByOwner returns every credential of an owner, newest first
func (r *CredentialRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Credential, error) {
	var creds []*models.Credential
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE owner_id = $1 ORDER BY created_at DESC`

	if err := r.db.conn.SelectContext(ctx, &creds, query, ownerID); err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	return creds, nil
}

// Create inserts a new credential. Only the secret hash is persisted.
func (r *CredentialRepository) Create(ctx context.Context, cred *models.Credential) error {
	query := `
		INSERT INTO credentials (id, owner_id, name, public_key, secret_hash, active, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	if cred.ID == uuid.Nil {
		cred.ID = uuid.New()
	}

	err := r.db.conn.QueryRowContext(
		ctx, query,
		cred.ID, cred.OwnerID, cred.Name, cred.PublicKey, cred.SecretHash, cred.Active, cred.ExpiresAt,
	).Scan(&cred.CreatedAt)

	if err != nil {
		switch {
		case isUniqueViolation(err, "credentials_public_key_key"):
			return ErrDuplicatePublicKey
		case isPQCode(err, pqForeignKeyViolation):
			return ErrAccountNotFound
		}
		return fmt.Errorf("failed to create credential: %w", err)
	}

	return nil
}

// Revoke soft-deletes a credential by clearing its active flag. There is no
// inverse operation.
func (r *CredentialRepository) Revoke(ctx context.Context, ownerID, id uuid.UUID) (*models.Credential, error) {
	var cred models.Credential
	query := `
		UPDATE credentials SET active = FALSE
		WHERE id = $1 AND owner_id = $2
		RETURNING ` + credentialColumns

	err := r.db.conn.GetContext(ctx, &cred, query, id, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to revoke credential: %w", err)
	}

	r.db.evictCredential(ctx, cred.PublicKey)
	return &cred, nil
}

// UpdateLastUsed records the last successful validation time
func (r *CredentialRepository) UpdateLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE credentials SET last_used_at = $2 WHERE id = $1 AND (last_used_at IS NULL OR last_used_at < $2)`

	if _, err := r.db.conn.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to update credential last used: %w", err)
	}
	return nil
}
