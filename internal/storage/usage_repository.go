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

const usageColumns = `credential_id, owner_id, year, month, total_requests, successful_requests, failed_requests,
	total_response_time_ms, min_response_time_ms, max_response_time_ms, last_request_at, created_at, updated_at`

// UsageIncrement is one recorded call.
type UsageIncrement struct {
	CredentialID   uuid.UUID
	OwnerID        uuid.UUID
	Period         models.UsagePeriod
	ResponseTimeMs int64
	Success        bool
	At             time.Time
}

// UsageRepository handles monthly usage records
type UsageRepository struct {
	db *DB
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Increment adds one call to the (credential, year, month) row in a single
// INSERT ... ON CONFLICT statement and returns the new total. The row is
// created on the first call of a period.
func (r *UsageRepository) Increment(ctx context.Context, inc UsageIncrement) (int64, error) {
	var success, failed int64
	if inc.Success {
		success = 1
	} else {
		failed = 1
	}

	query := `
		INSERT INTO usage_records (
			credential_id, owner_id, year, month,
			total_requests, successful_requests, failed_requests,
			total_response_time_ms, min_response_time_ms, max_response_time_ms, last_request_at
		)
		VALUES ($1, $2, $3, $4, 1, $5, $6, $7, $7, $7, $8)
		ON CONFLICT (credential_id, year, month)
		DO UPDATE SET
			total_requests = usage_records.total_requests + 1,
			successful_requests = usage_records.successful_requests + EXCLUDED.successful_requests,
			failed_requests = usage_records.failed_requests + EXCLUDED.failed_requests,
			total_response_time_ms = usage_records.total_response_time_ms + EXCLUDED.total_response_time_ms,
			min_response_time_ms = LEAST(usage_records.min_response_time_ms, EXCLUDED.min_response_time_ms),
			max_response_time_ms = GREATEST(usage_records.max_response_time_ms, EXCLUDED.max_response_time_ms),
			last_request_at = GREATEST(usage_records.last_request_at, EXCLUDED.last_request_at),
			updated_at = NOW()
		RETURNING total_requests
	`

	var total int64
	err := r.db.conn.QueryRowContext(
		ctx, query,
		inc.CredentialID, inc.OwnerID, inc.Period.Year, inc.Period.Month,
		success, failed, inc.ResponseTimeMs, inc.At,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}
	return total, nil
}

// GetTotal returns total_requests for a period, 0 when no row exists yet
func (r *UsageRepository) GetTotal(ctx context.Context, credentialID uuid.UUID, period models.UsagePeriod) (int64, error) {
	var total int64
	query := `SELECT total_requests FROM usage_records WHERE credential_id = $1 AND year = $2 AND month = $3`

	err := r.db.conn.GetContext(ctx, &total, query, credentialID, period.Year, period.Month)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get usage total: %w", err)
	}
	return total, nil
}

// Get returns the usage record of a period
func (r *UsageRepository) Get(ctx context.Context, credentialID uuid.UUID, period models.UsagePeriod) (*models.UsageRecord, error) {
	var record models.UsageRecord
	query := `SELECT ` + usageColumns + ` FROM usage_records WHERE credential_id = $1 AND year = $2 AND month = $3`

	err := r.db.conn.GetContext(ctx, &record, query, credentialID, period.Year, period.Month)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUsageRecordNotFound
		}
		return nil, fmt.Errorf("failed to get usage record: %w", err)
	}
	return &record, nil
}

// UpsertSnapshot writes absolute counters computed elsewhere (the Redis hot
// counter). Counters only move forward so a stale snapshot never lowers usage.
func (r *UsageRepository) UpsertSnapshot(ctx context.Context, rec *models.UsageRecord) error {
	query := `
		INSERT INTO usage_records (
			credential_id, owner_id, year, month,
			total_requests, successful_requests, failed_requests,
			total_response_time_ms, min_response_time_ms, max_response_time_ms, last_request_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (credential_id, year, month)
		DO UPDATE SET
			total_requests = GREATEST(usage_records.total_requests, EXCLUDED.total_requests),
			successful_requests = GREATEST(usage_records.successful_requests, EXCLUDED.successful_requests),
			failed_requests = GREATEST(usage_records.failed_requests, EXCLUDED.failed_requests),
			total_response_time_ms = GREATEST(usage_records.total_response_time_ms, EXCLUDED.total_response_time_ms),
			min_response_time_ms = LEAST(usage_records.min_response_time_ms, EXCLUDED.min_response_time_ms),
			max_response_time_ms = GREATEST(usage_records.max_response_time_ms, EXCLUDED.max_response_time_ms),
			last_request_at = GREATEST(usage_records.last_request_at, EXCLUDED.last_request_at),
			updated_at = NOW()
	`

	_, err := r.db.conn.ExecContext(
		ctx, query,
		rec.CredentialID, rec.OwnerID, rec.Year, rec.Month,
		rec.TotalRequests, rec.SuccessfulRequests, rec.FailedRequests,
		rec.TotalResponseTimeMs, rec.MinResponseTimeMs, rec.MaxResponseTimeMs, rec.LastRequestAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert usage snapshot: %w", err)
	}
	return nil
}
