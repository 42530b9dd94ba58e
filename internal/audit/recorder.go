package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"api_gateway/internal/metrics"
	"api_gateway/internal/models"
	"api_gateway/internal/queue"
	"api_gateway/internal/utils"
)

// EntryWriter persists audit entries.
type EntryWriter interface {
	Create(ctx context.Context, entry *models.AuditLogEntry) error
	CreateBatch(ctx context.Context, entries []*models.AuditLogEntry) error
}

// QueueRecorder hands entries to the audit worker through a queue. When the
// queue does not accept the entry in time it writes it directly, and when
// that fails too the full entry goes to the audit-ops log.
type QueueRecorder struct {
	queue          queue.Queue
	writer         EntryWriter
	enqueueTimeout time.Duration
	writeTimeout   time.Duration
	metrics        *metrics.Metrics
	ops            *utils.Logger
}

// NewQueueRecorder creates the recorder. m may be nil.
func NewQueueRecorder(q queue.Queue, writer EntryWriter, enqueueTimeout time.Duration, m *metrics.Metrics) *QueueRecorder {
	if enqueueTimeout <= 0 {
		enqueueTimeout = 100 * time.Millisecond
	}
	return &QueueRecorder{
		queue:          q,
		writer:         writer,
		enqueueTimeout: enqueueTimeout,
		writeTimeout:   2 * time.Second,
		metrics:        m,
		ops:            utils.NewLogger("audit-ops"),
	}
}

// Record assigns the entry an id and enqueues it. It never returns an error;
// the caller's decision does not depend on the audit write.
func (r *QueueRecorder) Record(ctx context.Context, entry *models.AuditLogEntry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.enqueueTimeout)
	err := r.queue.Enqueue(qctx, entry)
	cancel()
	if err == nil {
		r.metrics.IncAudit("queued")
		return
	}

	r.ops.Warn("Audit queue rejected entry, writing directly", "entry_id", entry.ID, "error", err)
	r.writeDirect(ctx, entry, err)
}

func (r *QueueRecorder) writeDirect(ctx context.Context, entry *models.AuditLogEntry, cause error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
	defer cancel()

	if err := r.writer.Create(wctx, entry); err != nil {
		LogLostEntry(r.ops, entry, err)
		r.metrics.IncAudit("lost")
		return
	}
	r.metrics.IncAudit("written_direct")
}

// LogLostEntry writes an entry that could not be persisted to the
// operational log with its full payload so it can be replayed.
func LogLostEntry(ops *utils.Logger, entry *models.AuditLogEntry, err error) {
	payload, merr := json.Marshal(entry)
	if merr != nil {
		ops.Error("Audit entry not persisted", "entry_id", entry.ID, "error", err, "marshal_error", merr)
		return
	}
	ops.Error("Audit entry not persisted", "entry_id", entry.ID, "error", err, "entry", string(payload))
}
