package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"api_gateway/internal/models"
)

// TierRepository handles tier database operations
type TierRepository struct {
	db *DB
}

// NewTierRepository creates a new tier repository
func NewTierRepository(db *DB) *TierRepository {
	return &TierRepository{db: db}
}

// GetByID retrieves a tier by ID (with caching)
func (r *TierRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Tier, error) {
	cacheKey := "tier:" + id.String()
	if cached, found := r.db.tierCache.Get(cacheKey); found {
		t := *cached.(*models.Tier)
		return &t, nil
	}

	var tier models.Tier
	query := `SELECT id, name, monthly_call_limit, price, features, created_at FROM tiers WHERE id = $1`

	err := r.db.conn.GetContext(ctx, &tier, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTierNotFound
		}
		return nil, fmt.Errorf("failed to get tier: %w", err)
	}

	cached := tier
	r.db.tierCache.Set(cacheKey, &cached)
	return &tier, nil
}

// List returns all tiers ordered by price
func (r *TierRepository) List(ctx context.Context) ([]*models.Tier, error) {
	var tiers []*models.Tier
	query := `SELECT id, name, monthly_call_limit, price, features, created_at FROM tiers ORDER BY price, name`

	if err := r.db.conn.SelectContext(ctx, &tiers, query); err != nil {
		return nil, fmt.Errorf("failed to list tiers: %w", err)
	}
	return tiers, nil
}

// Create inserts a new tier
func (r *TierRepository) Create(ctx context.Context, tier *models.Tier) error {
	query := `
		INSERT INTO tiers (id, name, monthly_call_limit, price, features)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	if tier.ID == uuid.Nil {
		tier.ID = uuid.New()
	}
	if tier.Features == nil {
		tier.Features = []string{}
	}

	err := r.db.conn.QueryRowContext(
		ctx, query,
		tier.ID, tier.Name, tier.MonthlyCallLimit, tier.Price, tier.Features,
	).Scan(&tier.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create tier: %w", err)
	}

	return nil
}
