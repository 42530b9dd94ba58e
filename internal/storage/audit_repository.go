package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"api_gateway/internal/models"
)

const auditColumns = `id, credential_id, owner_id, request_id, endpoint, method, status_code, reason_code,
	response_time_ms, source_ip, error_message, created_at`

const insertAuditQuery = `
	INSERT INTO audit_log (` + auditColumns + `)
	VALUES (:id, :credential_id, :owner_id, :request_id, :endpoint, :method, :status_code, :reason_code,
		:response_time_ms, :source_ip, :error_message, :created_at)
	ON CONFLICT (id) DO NOTHING
`

// AuditLogRepository appends and sweeps audit log entries. Inserts are
// idempotent on id so a retried batch never duplicates entries.
type AuditLogRepository struct {
	db *DB
}

// NewAuditLogRepository creates a new audit log repository
func NewAuditLogRepository(db *DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

// Create inserts a single entry
func (r *AuditLogRepository) Create(ctx context.Context, entry *models.AuditLogEntry) error {
	prepareAuditEntry(entry)
	if _, err := r.db.conn.NamedExecContext(ctx, insertAuditQuery, entry); err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// CreateBatch inserts entries in a single transaction
func (r *AuditLogRepository) CreateBatch(ctx context.Context, entries []*models.AuditLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, entry := range entries {
		prepareAuditEntry(entry)
		if _, err := tx.NamedExecContext(ctx, insertAuditQuery, entry); err != nil {
			return fmt.Errorf("failed to insert audit entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func prepareAuditEntry(entry *models.AuditLogEntry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
}

// ListBefore returns up to limit entries created before cutoff, oldest first
func (r *AuditLogRepository) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.AuditLogEntry, error) {
	var entries []*models.AuditLogEntry
	query := `SELECT ` + auditColumns + ` FROM audit_log WHERE created_at < $1 ORDER BY created_at LIMIT $2`

	if err := r.db.conn.SelectContext(ctx, &entries, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to list expired audit entries: %w", err)
	}
	return entries, nil
}

// DeleteByIDs removes the given entries (after they were archived)
func (r *AuditLogRepository) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	strIDs := make(pq.StringArray, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}

	result, err := r.db.conn.ExecContext(ctx, `DELETE FROM audit_log WHERE id = ANY($1::uuid[])`, strIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit entries: %w", err)
	}
	return result.RowsAffected()
}

// DeleteBefore removes up to limit entries created before cutoff
func (r *AuditLogRepository) DeleteBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	query := `
		DELETE FROM audit_log
		WHERE id IN (SELECT id FROM audit_log WHERE created_at < $1 ORDER BY created_at LIMIT $2)
	`

	result, err := r.db.conn.ExecContext(ctx, query, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired audit entries: %w", err)
	}
	return result.RowsAffected()
}
