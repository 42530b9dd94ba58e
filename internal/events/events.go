package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names a lifecycle event.
type Type string

const (
	QuotaWarning   Type = "quota.warning"
	QuotaExhausted Type = "quota.exhausted"
)

// Event is a lifecycle notification for the external webhook dispatcher.
type Event struct {
	ID           string    `json:"id"`
	Type         Type      `json:"type"`
	OwnerID      uuid.UUID `json:"owner_id"`
	CredentialID uuid.UUID `json:"credential_id"`
	Period       string    `json:"period"`
	Used         int64     `json:"used"`
	Limit        int64     `json:"limit"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// NewEvent fills in the id and timestamp.
func NewEvent(t Type, ownerID, credentialID uuid.UUID, period string, used, limit int64) Event {
	return Event{
		ID:           uuid.NewString(),
		Type:         t,
		OwnerID:      ownerID,
		CredentialID: credentialID,
		Period:       period,
		Used:         used,
		Limit:        limit,
		OccurredAt:   time.Now().UTC(),
	}
}

// Emitter publishes lifecycle events. Delivery, retries and signing are the
// consumer's concern.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
	Close() error
}

// NoopEmitter discards events.
type NoopEmitter struct{}

func NewNoopEmitter() *NoopEmitter {
	return &NoopEmitter{}
}

func (NoopEmitter) Emit(ctx context.Context, event Event) error { return nil }

func (NoopEmitter) Close() error { return nil }
