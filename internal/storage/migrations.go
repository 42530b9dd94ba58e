package storage

import (
	"context"
	"fmt"
)

// migrations are idempotent and applied in order at startup.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id UUID PRIMARY KEY,
		email VARCHAR(255) NOT NULL UNIQUE,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		blocked BOOLEAN NOT NULL DEFAULT FALSE,
		blocked_reason TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS tiers (
		id UUID PRIMARY KEY,
		name VARCHAR(100) NOT NULL UNIQUE,
		monthly_call_limit BIGINT NOT NULL CHECK (monthly_call_limit >= 0),
		price NUMERIC(12, 2) NOT NULL DEFAULT 0,
		features TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS subscriptions (
		id UUID PRIMARY KEY,
		owner_id UUID NOT NULL REFERENCES accounts(id),
		tier_id UUID NOT NULL REFERENCES tiers(id),
		status VARCHAR(16) NOT NULL CHECK (status IN ('pending', 'active', 'expired', 'cancelled')),
		start_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		end_date TIMESTAMPTZ,
		approval_date TIMESTAMPTZ,
		rejection_reason TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS subscriptions_one_active_per_owner
		ON subscriptions (owner_id) WHERE status = 'active'`,

	`CREATE INDEX IF NOT EXISTS subscriptions_owner_created_idx
		ON subscriptions (owner_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS credentials (
		id UUID PRIMARY KEY,
		owner_id UUID NOT NULL REFERENCES accounts(id),
		name VARCHAR(255) NOT NULL DEFAULT '',
		public_key VARCHAR(64) NOT NULL,
		secret_hash TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ,
		last_used_at TIMESTAMPTZ,
		CONSTRAINT credentials_public_key_key UNIQUE (public_key)
	)`,

	`CREATE INDEX IF NOT EXISTS credentials_owner_idx ON credentials (owner_id)`,

	`CREATE TABLE IF NOT EXISTS usage_records (
		credential_id UUID NOT NULL REFERENCES credentials(id),
		owner_id UUID NOT NULL,
		year SMALLINT NOT NULL,
		month SMALLINT NOT NULL CHECK (month BETWEEN 1 AND 12),
		total_requests BIGINT NOT NULL DEFAULT 0,
		successful_requests BIGINT NOT NULL DEFAULT 0,
		failed_requests BIGINT NOT NULL DEFAULT 0,
		total_response_time_ms BIGINT NOT NULL DEFAULT 0,
		min_response_time_ms BIGINT,
		max_response_time_ms BIGINT,
		last_request_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (credential_id, year, month)
	)`,

	// credential_id carries no foreign key: failed lookups log NULL and the
	// retention sweep must not be blocked by credential rows.
	`CREATE TABLE IF NOT EXISTS audit_log (
		id UUID PRIMARY KEY,
		credential_id UUID,
		owner_id UUID,
		request_id VARCHAR(64) NOT NULL DEFAULT '',
		endpoint TEXT NOT NULL DEFAULT '',
		method VARCHAR(16) NOT NULL DEFAULT '',
		status_code INT NOT NULL,
		reason_code VARCHAR(32),
		response_time_ms BIGINT NOT NULL DEFAULT 0,
		source_ip VARCHAR(64) NOT NULL DEFAULT '',
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS audit_log_created_at_idx ON audit_log (created_at)`,
	`CREATE INDEX IF NOT EXISTS audit_log_credential_idx ON audit_log (credential_id, created_at DESC)`,
}

// Migrate applies the schema.
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", i+1, err)
		}
	}
	return nil
}
