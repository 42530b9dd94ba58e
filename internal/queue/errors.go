package queue

import "errors"

var (
	// ErrQueueClosed is returned by Enqueue and Dequeue once Close was called.
	// Items already buffered can still be drained.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrItemNotFound is returned by DeadLetterQueue.Remove for an unknown id.
	ErrItemNotFound = errors.New("dead letter item not found")
)
