package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStore(store *memoryStore, now time.Time, old, recent int) {
	for i := 0; i < old; i++ {
		e := newEntry(200, now.AddDate(0, 0, -40).Add(time.Duration(i)*time.Second))
		store.entries[e.ID] = e
	}
	for i := 0; i < recent; i++ {
		e := newEntry(200, now.AddDate(0, 0, -5))
		store.entries[e.ID] = e
	}
}

func TestRetentionSweeper_ArchivesThenDeletes(t *testing.T) {
	now := time.Date(2025, 6, 15, 3, 0, 0, 0, time.UTC)
	store := newMemoryStore()
	seedStore(store, now, 25, 3)
	archiver := &fakeArchiver{}

	s := NewRetentionSweeper(store, archiver, 30, 10)
	s.SetClock(func() time.Time { return now })

	result, err := s.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, now.AddDate(0, 0, -30), result.Cutoff)
	assert.Equal(t, 25, result.Archived)
	assert.Equal(t, int64(25), result.Deleted)
	assert.Len(t, result.Objects, 3)
	require.Len(t, archiver.batches, 3)
	assert.Len(t, archiver.batches[0], 10)
	assert.Len(t, archiver.batches[2], 5)
	assert.Equal(t, 3, store.count())
}

func TestRetentionSweeper_DeletesWithoutArchiver(t *testing.T) {
	now := time.Now().UTC()
	store := newMemoryStore()
	seedStore(store, now, 7, 2)

	s := NewRetentionSweeper(store, nil, 30, 5)
	s.SetClock(func() time.Time { return now })

	result, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), result.Deleted)
	assert.Zero(t, result.Archived)
	assert.Equal(t, 2, store.count())
}

func TestRetentionSweeper_ArchiveFailureKeepsEntries(t *testing.T) {
	now := time.Now().UTC()
	store := newMemoryStore()
	seedStore(store, now, 4, 0)

	s := NewRetentionSweeper(store, &fakeArchiver{err: errors.New("bucket missing")}, 30, 10)
	s.SetClock(func() time.Time { return now })

	_, err := s.Sweep(context.Background())
	require.Error(t, err)
	assert.Equal(t, 4, store.count())
}

func TestRetentionSweeper_StopsOnCancelledContext(t *testing.T) {
	store := newMemoryStore()
	seedStore(store, time.Now().UTC(), 3, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRetentionSweeper(store, nil, 30, 10).Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, store.count())
}
