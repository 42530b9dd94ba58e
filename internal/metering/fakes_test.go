package metering

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"api_gateway/internal/events"
	"api_gateway/internal/models"
	"api_gateway/internal/storage"
)

type recordKey struct {
	id     uuid.UUID
	period models.UsagePeriod
}

// memoryStore mirrors the upsert semantics of the usage table.
type memoryStore struct {
	mu        sync.Mutex
	records   map[recordKey]*models.UsageRecord
	snapshots int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: map[recordKey]*models.UsageRecord{}}
}

func (m *memoryStore) Increment(ctx context.Context, inc storage.UsageIncrement) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := recordKey{inc.CredentialID, inc.Period}
	rec, ok := m.records[k]
	if !ok {
		rec = &models.UsageRecord{CredentialID: inc.CredentialID, OwnerID: inc.OwnerID, Year: inc.Period.Year, Month: inc.Period.Month}
		m.records[k] = rec
	}
	rec.TotalRequests++
	if inc.Success {
		rec.SuccessfulRequests++
	} else {
		rec.FailedRequests++
	}
	rec.TotalResponseTimeMs += inc.ResponseTimeMs
	return rec.TotalRequests, nil
}

func (m *memoryStore) GetTotal(ctx context.Context, id uuid.UUID, period models.UsagePeriod) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[recordKey{id, period}]; ok {
		return rec.TotalRequests, nil
	}
	return 0, nil
}

func (m *memoryStore) Get(ctx context.Context, id uuid.UUID, period models.UsagePeriod) (*models.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordKey{id, period}]
	if !ok {
		return nil, storage.ErrUsageRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memoryStore) UpsertSnapshot(ctx context.Context, rec *models.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots++
	k := recordKey{rec.CredentialID, rec.Period()}
	existing, ok := m.records[k]
	if !ok || existing.TotalRequests < rec.TotalRequests {
		cp := *rec
		m.records[k] = &cp
	}
	return nil
}

type captureEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureEmitter) Emit(ctx context.Context, ev events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captureEmitter) Close() error { return nil }

func (c *captureEmitter) types() []events.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Type, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}
