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

const subscriptionColumns = `id, owner_id, tier_id, status, start_date, end_date, approval_date, rejection_reason, created_at, updated_at`

const oneActivePerOwnerIndex = "subscriptions_one_active_per_owner"

// SubscriptionRepository handles subscription database operations.
// At most one row per owner may be in the active state; a partial unique
// index backs the check performed in Request and Approve.
type SubscriptionRepository struct {
	db *DB
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// ListActiveByOwner returns the owner's subscriptions whose stored status is
// active, most recently created first. Callers re-check the dates.
func (r *SubscriptionRepository) ListActiveByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Subscription, error) {
	var subs []*models.Subscription
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE owner_id = $1 AND status = 'active'
		ORDER BY created_at DESC
	`

	if err := r.db.conn.SelectContext(ctx, &subs, query, ownerID); err != nil {
		return nil, fmt.Errorf("failed to list active subscriptions: %w", err)
	}
	return subs, nil
}

// GetLatestByOwner returns the owner's most recently created subscription in any state
func (r *SubscriptionRepository) GetLatestByOwner(ctx context.Context, ownerID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	err := r.db.conn.GetContext(ctx, &sub, query, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

// Request creates a pending subscription. It fails with
// ErrActiveSubscriptionExists while the owner holds an effectively active one.
func (r *SubscriptionRepository) Request(ctx context.Context, sub *models.Subscription) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Serialize concurrent requests of the same owner on the account row.
	var locked uuid.UUID
	err = tx.GetContext(ctx, &locked, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, sub.OwnerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("failed to lock account: %w", err)
	}

	var active int
	err = tx.GetContext(ctx, &active, `
		SELECT COUNT(*) FROM subscriptions
		WHERE owner_id = $1 AND status = 'active' AND (end_date IS NULL OR end_date > NOW())
	`, sub.OwnerID)
	if err != nil {
		return fmt.Errorf("failed to check active subscriptions: %w", err)
	}
	if active > 0 {
		return ErrActiveSubscriptionExists
	}

	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	sub.Status = models.SubscriptionPending
	if sub.StartDate.IsZero() {
		sub.StartDate = time.Now().UTC()
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO subscriptions (id, owner_id, tier_id, status, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, sub.ID, sub.OwnerID, sub.TierID, sub.Status, sub.StartDate, sub.EndDate).Scan(&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if isPQCode(err, pqForeignKeyViolation) {
			return ErrTierNotFound
		}
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit subscription: %w", err)
	}
	return nil
}

// Approve moves a pending subscription to active. Active rows of the same
// owner whose end date already passed are expired first.
func (r *SubscriptionRepository) Approve(ctx context.Context, id uuid.UUID, startDate time.Time, endDate *time.Time) (*models.Subscription, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE subscriptions SET status = 'expired', updated_at = NOW()
		WHERE owner_id = (SELECT owner_id FROM subscriptions WHERE id = $1)
		  AND status = 'active' AND end_date IS NOT NULL AND end_date <= NOW()
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to expire stale subscriptions: %w", err)
	}

	var sub models.Subscription
	err = tx.GetContext(ctx, &sub, `
		UPDATE subscriptions
		SET status = 'active', approval_date = NOW(), start_date = $2, end_date = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+subscriptionColumns, id, startDate, endDate)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrSubscriptionNotFound
		case isUniqueViolation(err, oneActivePerOwnerIndex):
			return nil, ErrActiveSubscriptionExists
		}
		return nil, fmt.Errorf("failed to approve subscription: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit approval: %w", err)
	}
	return &sub, nil
}

// Cancel marks a pending or active subscription of ownerID as cancelled.
func (r *SubscriptionRepository) Cancel(ctx context.Context, ownerID, id uuid.UUID, reason *string) error {
	query := `
		UPDATE subscriptions
		SET status = 'cancelled', rejection_reason = $3, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2 AND status IN ('pending', 'active')
	`

	result, err := r.db.conn.ExecContext(ctx, query, id, ownerID, reason)
	if err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// ExpireDue marks active subscriptions whose end date is at or before now as expired
func (r *SubscriptionRepository) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE subscriptions SET status = 'expired', updated_at = NOW()
		WHERE status = 'active' AND end_date IS NOT NULL AND end_date <= $1
	`

	result, err := r.db.conn.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire subscriptions: %w", err)
	}
	return result.RowsAffected()
}
