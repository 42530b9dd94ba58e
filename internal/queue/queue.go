package queue

import (
	"context"
	"time"
)

// Package queue provides the asynchronous hand-off used by the audit log and
// lifecycle events, with two backends:
//
// 1. Memory Queue (in-memory, channel-based):
//    - No persistence, pending items are lost on crash
//    - Suitable for single-instance and development deployments
//
// 2. Redis Queue (Redis list-based):
//    - Survives gateway restarts
//    - Shared by every replica, consumable by external workers
//
// Architecture:
//
//	┌─────────────────────┐
//	│ Validation pipeline │
//	└──────────┬──────────┘
//	           │
//	           ├──────────────────────────┐
//	           ▼                          ▼
//	┌──────────────────┐       ┌──────────────────┐
//	│ Audit queue      │       │ Lifecycle events │
//	└────────┬─────────┘       │ queue            │
//	         ▼                 └────────┬─────────┘
//	┌──────────────────┐                ▼
//	│ Audit worker     │        webhook dispatcher
//	│ (batches)        │        (external)
//	└────────┬─────────┘
//	         │ (retry)
//	         ├──────────┐
//	         ▼          ▼
//	 ┌────────────┐ ┌─────┐
//	 │ audit_log  │ │ DLQ │
//	 └────────────┘ └─────┘

// Queue defines the interface for message queuing
type Queue interface {
	// Enqueue adds an item to the queue
	Enqueue(ctx context.Context, item interface{}) error

	// Dequeue retrieves items from the queue (up to maxItems)
	// Blocks until at least one item is available or context is cancelled
	Dequeue(ctx context.Context, maxItems int) ([]interface{}, error)

	// DequeueWithTimeout retrieves items with a timeout
	// Returns items if available before timeout, empty slice otherwise
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]interface{}, error)

	// Length returns the current queue length
	Length(ctx context.Context) (int, error)

	// Close shuts down the queue
	Close() error
}

// DeadLetterQueue defines the interface for handling failed items
type DeadLetterQueue interface {
	// Add adds a failed item to the dead letter queue with error info
	Add(ctx context.Context, item interface{}, err error) error

	// List retrieves items from the dead letter queue, oldest first
	List(ctx context.Context, maxItems int) ([]DeadLetterItem, error)

	// Remove removes an item from the dead letter queue
	Remove(ctx context.Context, id string) error

	// Close shuts down the dead letter queue
	Close() error
}

// DeadLetterItem represents an item in the dead letter queue
type DeadLetterItem struct {
	ID        string
	Item      interface{}
	Error     string
	Timestamp time.Time
	Retries   int
}

// Config holds queue configuration
type Config struct {
	// BatchSize is the maximum number of items to process in a batch
	BatchSize int

	// BatchTimeout is how long to wait before processing a partial batch
	BatchTimeout time.Duration

	// MaxRetries is the maximum number of retry attempts
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries
	RetryBackoff time.Duration

	// Capacity bounds the in-memory queue; 0 means ten batches
	Capacity int

	// QueueName is the name/key for the queue
	QueueName string
}

// DefaultConfig returns default queue configuration
func DefaultConfig(queueName string) *Config {
	return &Config{
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
		QueueName:    queueName,
	}
}
