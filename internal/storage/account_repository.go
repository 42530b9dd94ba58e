package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"api_gateway/internal/models"
)

// AccountRepository handles account database operations. Account state is
// never cached: blocking an account must take effect on the next request.
type AccountRepository struct {
	db *DB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// GetByID retrieves an account by ID
func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	query := `
		SELECT id, email, active, blocked, blocked_reason, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`

	err := r.db.conn.GetContext(ctx, &account, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return &account, nil
}

// Create inserts a new account
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (id, email, active, blocked, blocked_reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`

	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}

	err := r.db.conn.QueryRowContext(
		ctx, query,
		account.ID, account.Email, account.Active, account.Blocked, account.BlockedReason,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	return nil
}

// SetBlocked blocks or unblocks an account
func (r *AccountRepository) SetBlocked(ctx context.Context, id uuid.UUID, blocked bool, reason *string) error {
	if !blocked {
		reason = nil
	}
	query := `UPDATE accounts SET blocked = $2, blocked_reason = $3, updated_at = NOW() WHERE id = $1`
	return r.execUpdate(ctx, "block account", query, id, blocked, reason)
}

// SetActive activates or deactivates an account
func (r *AccountRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `UPDATE accounts SET active = $2, updated_at = NOW() WHERE id = $1`
	return r.execUpdate(ctx, "update account", query, id, active)
}

func (r *AccountRepository) execUpdate(ctx context.Context, op, query string, args ...interface{}) error {
	result, err := r.db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}
