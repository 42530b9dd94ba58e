package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"api_gateway/internal/metrics"
	"api_gateway/internal/models"
	"api_gateway/internal/queue"
	"api_gateway/internal/utils"
)

// Worker drains the audit queue into the audit_log table in batches.
type Worker struct {
	queue   queue.Queue
	dlq     queue.DeadLetterQueue
	writer  EntryWriter
	config  *queue.Config
	metrics *metrics.Metrics
	logger  *utils.Logger
	ops     *utils.Logger
	sleep   func(time.Duration)

	stopOnce    sync.Once
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewWorker creates a new audit queue worker
func NewWorker(q queue.Queue, dlq queue.DeadLetterQueue, writer EntryWriter, config *queue.Config, m *metrics.Metrics) *Worker {
	if config == nil {
		config = queue.DefaultConfig("audit-log")
	}

	return &Worker{
		queue:       q,
		dlq:         dlq,
		writer:      writer,
		config:      config,
		metrics:     m,
		logger:      utils.NewLogger("audit-worker"),
		ops:         utils.NewLogger("audit-ops"),
		sleep:       time.Sleep,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop drains what is left in the queue and waits for the worker to exit
func (w *Worker) Stop() error {
	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.stoppedChan
	return nil
}

// run is the main worker loop
func (w *Worker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-w.stopChan:
			w.drain()
			w.logger.Info("Audit worker stopped")
			return
		case <-ctx.Done():
			w.drain()
			w.logger.Info("Audit worker context cancelled")
			return
		default:
			w.processBatch(ctx)
		}
	}
}

// drain flushes remaining items on a fresh context so shutdown does not lose them
func (w *Worker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for ctx.Err() == nil {
		items, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, 10*time.Millisecond)
		if err != nil || len(items) == 0 {
			if mq, ok := w.queue.(*queue.MemoryQueue); ok {
				items = mq.Drain()
			}
			if len(items) == 0 {
				return
			}
		}
		w.handleItems(ctx, items)
	}
}

// processBatch processes a batch of audit entries
func (w *Worker) processBatch(ctx context.Context) {
	items, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, w.config.BatchTimeout)
	if errors.Is(err, queue.ErrQueueClosed) {
		// Nothing more will arrive; wait for Stop to drain the buffer.
		select {
		case <-w.stopChan:
		case <-ctx.Done():
		}
		return
	}
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("Failed to dequeue audit entries", "error", err)
			w.sleep(time.Second) // Back off on error
		}
		return
	}
	w.handleItems(ctx, items)
}

func (w *Worker) handleItems(ctx context.Context, items []interface{}) {
	if len(items) == 0 {
		return
	}

	entries := make([]*models.AuditLogEntry, 0, len(items))
	for _, item := range items {
		entry, err := unmarshalItem(item)
		if err != nil {
			w.ops.Error("Undecodable audit queue item", "error", err)
			w.deadLetter(ctx, item, err)
			continue
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return
	}

	wctx := context.WithoutCancel(ctx)
	if err := w.writer.CreateBatch(wctx, entries); err != nil {
		w.logger.Warn("Failed to insert audit batch, falling back to individual inserts", "count", len(entries), "error", err)
		for _, entry := range entries {
			_ = w.processEntry(wctx, entry)
		}
		return
	}

	w.metrics.AddAudit("written", len(entries))
	w.logger.Debug("Inserted audit batch", "count", len(entries))
}

// processEntry writes one entry with exponential backoff. Errors that are
// not recoverable skip the retries and go straight to the dead letter queue.
func (w *Worker) processEntry(ctx context.Context, entry *models.AuditLogEntry) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			w.logger.Debug("Retrying audit entry", "entry_id", entry.ID, "attempt", attempt, "backoff", backoff)
			w.sleep(backoff)
		}

		lastErr = w.writer.Create(ctx, entry)
		if lastErr == nil {
			w.metrics.IncAudit("written")
			return nil
		}
		if !utils.IsRecoverableError(lastErr) {
			break
		}
	}

	w.deadLetter(ctx, entry, lastErr)
	return fmt.Errorf("failed to write audit entry %s: %w", entry.ID, lastErr)
}

func (w *Worker) deadLetter(ctx context.Context, item interface{}, cause error) {
	w.metrics.IncAudit("dead_lettered")

	if w.dlq != nil {
		if err := w.dlq.Add(ctx, item, cause); err == nil {
			w.ops.Warn("Audit entry moved to DLQ", "error", cause)
			return
		}
	}
	if entry, ok := item.(*models.AuditLogEntry); ok {
		LogLostEntry(w.ops, entry, cause)
		return
	}
	w.ops.Error("Audit queue item not persisted", "item", fmt.Sprintf("%s", item), "error", cause)
}

// unmarshalItem decodes a queue item; memory queues hand back the pointer,
// Redis queues the JSON.
func unmarshalItem(item interface{}) (*models.AuditLogEntry, error) {
	switch v := item.(type) {
	case *models.AuditLogEntry:
		return v, nil
	case models.AuditLogEntry:
		return &v, nil
	case json.RawMessage:
		return decodeEntry(v)
	case []byte:
		return decodeEntry(v)
	case string:
		return decodeEntry([]byte(v))
	default:
		data, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal item: %w", err)
		}
		return decodeEntry(data)
	}
}

func decodeEntry(data []byte) (*models.AuditLogEntry, error) {
	var entry models.AuditLogEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode audit entry: %w", err)
	}
	return &entry, nil
}

// GetQueueLength returns the current queue length
func (w *Worker) GetQueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// GetDeadLetterItems returns items from the dead letter queue
func (w *Worker) GetDeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetterItem, error) {
	if w.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return w.dlq.List(ctx, maxItems)
}

// RetryDeadLetterItem re-enqueues a failed item and removes it from the DLQ
func (w *Worker) RetryDeadLetterItem(ctx context.Context, id string) error {
	if w.dlq == nil {
		return fmt.Errorf("dead letter queue not configured")
	}

	items, err := w.dlq.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list dead letter items: %w", err)
	}

	for _, dlItem := range items {
		if dlItem.ID != id {
			continue
		}
		if err := w.queue.Enqueue(ctx, dlItem.Item); err != nil {
			return fmt.Errorf("failed to re-enqueue item: %w", err)
		}
		if err := w.dlq.Remove(ctx, id); err != nil {
			return fmt.Errorf("failed to remove from DLQ: %w", err)
		}
		return nil
	}

	return queue.ErrItemNotFound
}
