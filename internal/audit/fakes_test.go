package audit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"api_gateway/internal/models"
)

// memoryStore is an in-memory audit_log table.
type memoryStore struct {
	mu       sync.Mutex
	entries  map[uuid.UUID]*models.AuditLogEntry
	batchErr error
	createFn func(entry *models.AuditLogEntry) error
	creates  int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: map[uuid.UUID]*models.AuditLogEntry{}}
}

func (s *memoryStore) Create(ctx context.Context, entry *models.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creates++
	if s.createFn != nil {
		if err := s.createFn(entry); err != nil {
			return err
		}
	}
	s.entries[entry.ID] = entry
	return nil
}

func (s *memoryStore) CreateBatch(ctx context.Context, entries []*models.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.batchErr != nil {
		return s.batchErr
	}
	for _, e := range entries {
		s.entries[e.ID] = e
	}
	return nil
}

func (s *memoryStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.AuditLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.AuditLogEntry
	for _, e := range s.entries {
		if e.CreatedAt.Before(cutoff) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, id := range ids {
		if _, ok := s.entries[id]; ok {
			delete(s.entries, id)
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) DeleteBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	expired, _ := s.ListBefore(ctx, cutoff, limit)
	ids := make([]uuid.UUID, len(expired))
	for i, e := range expired {
		ids[i] = e.ID
	}
	return s.DeleteByIDs(ctx, ids)
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *memoryStore) has(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// fakeArchiver records the batches it was given.
type fakeArchiver struct {
	batches [][]*models.AuditLogEntry
	err     error
}

func (a *fakeArchiver) WriteBatch(ctx context.Context, entries []*models.AuditLogEntry) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.batches = append(a.batches, entries)
	return "audit/batch-" + uuid.NewString() + ".jsonl", nil
}

// failingQueue rejects every enqueue.
type failingQueue struct{}

var errQueueDown = errors.New("queue down")

func (failingQueue) Enqueue(ctx context.Context, item interface{}) error { return errQueueDown }
func (failingQueue) Dequeue(ctx context.Context, maxItems int) ([]interface{}, error) {
	return nil, errQueueDown
}
func (failingQueue) DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]interface{}, error) {
	return nil, errQueueDown
}
func (failingQueue) Length(ctx context.Context) (int, error) { return 0, errQueueDown }
func (failingQueue) Close() error                            { return nil }

func newEntry(status int, at time.Time) *models.AuditLogEntry {
	return &models.AuditLogEntry{
		ID:         uuid.New(),
		RequestID:  uuid.NewString(),
		Endpoint:   "/proxy/orders",
		Method:     "GET",
		StatusCode: status,
		SourceIP:   "10.0.0.1",
		CreatedAt:  at,
	}
}
