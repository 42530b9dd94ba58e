package metering

import (
	"context"

	"github.com/google/uuid"

	"api_gateway/internal/models"
	"api_gateway/internal/storage"
)

// Counter is the monthly usage counter of a credential. Increment must be
// atomic at the storage layer and return the total after the increment.
type Counter interface {
	CurrentUsage(ctx context.Context, credentialID uuid.UUID, period models.UsagePeriod) (int64, error)
	Increment(ctx context.Context, inc storage.UsageIncrement) (int64, error)
	Stats(ctx context.Context, credentialID uuid.UUID, period models.UsagePeriod) (*models.UsageRecord, error)
}

// UsageStore is the durable usage table.
type UsageStore interface {
	Increment(ctx context.Context, inc storage.UsageIncrement) (int64, error)
	GetTotal(ctx context.Context, credentialID uuid.UUID, period models.UsagePeriod) (int64, error)
	Get(ctx context.Context, credentialID uuid.UUID, period models.UsagePeriod) (*models.UsageRecord, error)
	UpsertSnapshot(ctx context.Context, rec *models.UsageRecord) error
}

// PostgresCounter counts directly in usage_records with an atomic upsert.
type PostgresCounter struct {
	store UsageStore
}

// NewPostgresCounter creates a counter backed by the usage table
func NewPostgresCounter(store UsageStore) *PostgresCounter {
	return &PostgresCounter{store: store}
}

func (c *PostgresCounter) CurrentUsage(ctx context.Context, credentialID uuid.UUID, period models.UsagePeriod) (int64, error) {
	return c.store.GetTotal(ctx, credentialID, period)
}

func (c *PostgresCounter) Increment(ctx context.Context, inc storage.UsageIncrement) (int64, error) {
	return c.store.Increment(ctx, inc)
}

func (c *PostgresCounter) Stats(ctx context.Context, credentialID uuid.UUID, period models.UsagePeriod) (*models.UsageRecord, error) {
	return c.store.Get(ctx, credentialID, period)
}
