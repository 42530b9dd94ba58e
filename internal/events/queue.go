package events

import (
	"context"
	"fmt"

	"api_gateway/internal/queue"
)

// QueueEmitter pushes events onto a queue drained by an external dispatcher.
type QueueEmitter struct {
	q queue.Queue
}

// NewQueueEmitter creates an emitter on top of q
func NewQueueEmitter(q queue.Queue) *QueueEmitter {
	return &QueueEmitter{q: q}
}

func (e *QueueEmitter) Emit(ctx context.Context, event Event) error {
	if err := e.q.Enqueue(ctx, event); err != nil {
		return fmt.Errorf("failed to enqueue event: %w", err)
	}
	return nil
}

func (e *QueueEmitter) Close() error {
	return e.q.Close()
}

// MultiEmitter fans an event out to several emitters and returns the
// first error after trying all of them.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(ctx context.Context, event Event) error {
	var firstErr error
	for _, e := range m {
		if err := e.Emit(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m MultiEmitter) Close() error {
	var firstErr error
	for _, e := range m {
		if err := e.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
