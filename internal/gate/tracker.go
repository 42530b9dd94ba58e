package gate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"api_gateway/internal/utils"
)

// LastUsedWriter persists the last successful use of a credential.
type LastUsedWriter interface {
	UpdateLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error
}

type touch struct {
	id uuid.UUID
	at time.Time
}

// LastUsedTracker applies lastUsedAt updates in the background. Touch never
// blocks; when the buffer is full the update is dropped.
type LastUsedTracker struct {
	writer  LastUsedWriter
	timeout time.Duration
	touches chan touch
	logger  *utils.Logger

	stopOnce    sync.Once
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewLastUsedTracker creates a tracker with the given buffer size
func NewLastUsedTracker(writer LastUsedWriter, bufferSize int) *LastUsedTracker {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &LastUsedTracker{
		writer:      writer,
		timeout:     2 * time.Second,
		touches:     make(chan touch, bufferSize),
		logger:      utils.NewLogger("last-used"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Touch schedules an update. It reports whether the update was accepted.
func (t *LastUsedTracker) Touch(id uuid.UUID, at time.Time) bool {
	select {
	case t.touches <- touch{id: id, at: at}:
		return true
	default:
		t.logger.Debug("Dropping lastUsedAt update, buffer full", "credential_id", id)
		return false
	}
}

// Start runs the writer loop until Stop is called or ctx is done
func (t *LastUsedTracker) Start(ctx context.Context) {
	go t.run(ctx)
}

// Stop flushes buffered updates and waits for the loop to exit
func (t *LastUsedTracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopChan) })
	<-t.stoppedChan
}

func (t *LastUsedTracker) run(ctx context.Context) {
	defer close(t.stoppedChan)

	for {
		select {
		case tc := <-t.touches:
			t.write(tc)
		case <-t.stopChan:
			t.flush()
			return
		case <-ctx.Done():
			t.flush()
			return
		}
	}
}

func (t *LastUsedTracker) flush() {
	for {
		select {
		case tc := <-t.touches:
			t.write(tc)
		default:
			return
		}
	}
}

func (t *LastUsedTracker) write(tc touch) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	if err := t.writer.UpdateLastUsed(ctx, tc.id, tc.at); err != nil {
		t.logger.Warn("Failed to update lastUsedAt", "credential_id", tc.id, "error", err)
	}
}
