package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffSnapshots(t *testing.T) {
	prev := Snapshot{
		"keep.txt":    {ModifiedAt: 1, ContentHash: "k"},
		"touch.txt":   {ModifiedAt: 1, ContentHash: "t"},
		"edit.txt":    {ModifiedAt: 1, ContentHash: "e1"},
		"removed.txt": {ModifiedAt: 1, ContentHash: "r"},
	}
	current := Snapshot{
		"keep.txt":  {ModifiedAt: 1, ContentHash: "k"},
		"touch.txt": {ModifiedAt: 9, ContentHash: "t"},
		"edit.txt":  {ModifiedAt: 2, ContentHash: "e2"},
		"added.txt": {ModifiedAt: 2, ContentHash: "a"},
	}

	assert.Equal(t, []RawEvent{
		{Kind: EventCreated, Path: "added.txt"},
		{Kind: EventModified, Path: "edit.txt"},
		{Kind: EventDeleted, Path: "removed.txt"},
	}, diffSnapshots(prev, current))

	assert.Empty(t, diffSnapshots(current, current))
	assert.Empty(t, diffSnapshots(Snapshot{}, Snapshot{}))
}

func receiveRaw(t *testing.T, ch <-chan RawEvent) RawEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timeout waiting for event")
	}
	return RawEvent{}
}

func TestPollingBackend(t *testing.T) {
	lfs, mem := newMemLocalFS(t)
	clock := clockwork.NewFakeClock()
	require.NoError(t, afero.WriteFile(mem, "/old.txt", []byte("old"), 0o644))

	backend := NewPollingBackend(lfs, time.Second, clock)
	require.NoError(t, backend.Start(context.Background()))
	defer backend.Stop()

	// the initial scan is the reference, nothing is reported for it
	require.NoError(t, afero.WriteFile(mem, "/new.txt", []byte("new file"), 0o644))
	require.NoError(t, mem.Remove("/old.txt"))
	clock.Advance(time.Second)

	assert.Equal(t, RawEvent{Kind: EventCreated, Path: filepath.Join("/watched", "new.txt")}, receiveRaw(t, backend.Events()))
	assert.Equal(t, RawEvent{Kind: EventDeleted, Path: filepath.Join("/watched", "old.txt")}, receiveRaw(t, backend.Events()))
}

func TestPollingBackend_Stop(t *testing.T) {
	lfs, _ := newMemLocalFS(t)

	backend := NewPollingBackend(lfs, 0, clockwork.NewFakeClock())
	assert.Equal(t, DefaultPollInterval, backend.interval)
	require.NoError(t, backend.Start(context.Background()))

	backend.Stop()
	backend.Stop()

	_, ok := <-backend.Events()
	assert.False(t, ok)
	_, ok = <-backend.Errors()
	assert.False(t, ok)
}

func TestPollingBackend_ContextCancel(t *testing.T) {
	lfs, _ := newMemLocalFS(t)
	ctx, cancel := context.WithCancel(context.Background())

	backend := NewPollingBackend(lfs, time.Second, clockwork.NewFakeClock())
	require.NoError(t, backend.Start(ctx))
	cancel()

	select {
	case _, ok := <-backend.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "backend did not exit on cancel")
	}
	backend.Stop()
}
