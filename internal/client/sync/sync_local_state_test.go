package sync

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fp(ts Timestamp, hash string) *Fingerprint {
	return &Fingerprint{ModifiedAt: ts, ContentHash: hash}
}

func TestMetadataStore_Empty(t *testing.T) {
	store := NewMetadataStore()

	assert.False(t, store.IsLocallyModifiedSinceLastSync())
	assert.Equal(t, Timestamp(0), store.Baseline().LastSyncTimestamp)
	assert.Equal(t, AggregateHash(Snapshot{}), store.Baseline().AggregateHash)
	assert.Equal(t, 0, store.Len())
}

func TestMetadataStore_RecordEvent(t *testing.T) {
	store := NewMetadataStore()

	require.NoError(t, store.RecordEvent(Event{Kind: EventCreated, Path: "a.txt"}, fp(1, "h1")))
	require.NoError(t, store.RecordEvent(Event{Kind: EventCreated, Path: "dir/b.txt"}, fp(1, "h2")))
	assert.True(t, store.IsLocallyModifiedSinceLastSync())

	require.NoError(t, store.RecordEvent(Event{Kind: EventModified, Path: "a.txt"}, fp(2, "h3")))
	got, ok := store.Get("a.txt")
	require.True(t, ok)
	assert.Equal(t, Fingerprint{ModifiedAt: 2, ContentHash: "h3"}, got)

	require.NoError(t, store.RecordEvent(Event{Kind: EventMoved, Path: "a.txt", DestPath: "c.txt"}, fp(2, "h3")))
	_, ok = store.Get("a.txt")
	assert.False(t, ok)
	_, ok = store.Get("c.txt")
	assert.True(t, ok)

	require.NoError(t, store.RecordEvent(Event{Kind: EventDeleted, Path: "dir/b.txt"}, nil))
	assert.Equal(t, 1, store.Len())

	// deleting something unknown is fine
	require.NoError(t, store.RecordEvent(Event{Kind: EventDeleted, Path: "never.txt"}, nil))
	assert.Equal(t, 1, store.Len())
}

func TestMetadataStore_MoveOntoTrackedPath(t *testing.T) {
	store := NewMetadataStore()
	require.NoError(t, store.RecordEvent(Event{Kind: EventCreated, Path: "a.txt"}, fp(1, "moved")))
	require.NoError(t, store.RecordEvent(Event{Kind: EventCreated, Path: "c.txt"}, fp(1, "old")))
	require.Equal(t, 2, store.Len())

	require.NoError(t, store.RecordEvent(Event{Kind: EventMoved, Path: "a.txt", DestPath: "c.txt"}, fp(2, "moved")))

	assert.Equal(t, 1, store.Len())
	_, ok := store.Get("a.txt")
	assert.False(t, ok)
	got, ok := store.Get("c.txt")
	require.True(t, ok)
	assert.Equal(t, Fingerprint{ModifiedAt: 2, ContentHash: "moved"}, got)
}

func TestMetadataStore_RecordSynced(t *testing.T) {
	t.Run("clean store stays clean", func(t *testing.T) {
		store := NewMetadataStore()
		require.NoError(t, store.RecordEvent(Event{Kind: EventCreated, Path: "a.txt"}, fp(1, "h1")))
		require.NoError(t, store.CommitBaseline(1))
		committed := store.Baseline()

		require.NoError(t, store.recordSynced(Event{Kind: EventCreated, Path: "b.txt"}, fp(2, "h2")))
		require.NoError(t, store.recordSynced(Event{Kind: EventDeleted, Path: "a.txt"}, nil))

		assert.False(t, store.IsLocallyModifiedSinceLastSync())
		assert.Equal(t, committed.LastSyncTimestamp, store.Baseline().LastSyncTimestamp)
		assert.Equal(t, AggregateHash(Snapshot{"b.txt": *fp(2, "h2")}), store.Baseline().AggregateHash)
	})

	t.Run("local edits are kept", func(t *testing.T) {
		store := NewMetadataStore()
		require.NoError(t, store.RecordEvent(Event{Kind: EventCreated, Path: "a.txt"}, fp(1, "h1")))
		require.NoError(t, store.recordSynced(Event{Kind: EventCreated, Path: "b.txt"}, fp(2, "h2")))

		assert.True(t, store.IsLocallyModifiedSinceLastSync())
		assert.Equal(t, AggregateHash(Snapshot{}), store.Baseline().AggregateHash)
	})
}

func TestMetadataStore_RecordEventErrors(t *testing.T) {
	store := NewMetadataStore()

	tests := []struct {
		name string
		ev   Event
		fp   *Fingerprint
		err  error
	}{
		{"created without fingerprint", Event{Kind: EventCreated, Path: "a"}, nil, ErrMissingFingerprint},
		{"moved without fingerprint", Event{Kind: EventMoved, Path: "a", DestPath: "b"}, nil, ErrMissingFingerprint},
		{"absolute path", Event{Kind: EventCreated, Path: "/etc/passwd"}, fp(1, "x"), ErrAbsolutePath},
		{"escaping path", Event{Kind: EventCreated, Path: "../x"}, fp(1, "x"), ErrAbsolutePath},
		{"absolute move target", Event{Kind: EventMoved, Path: "a", DestPath: "/b"}, fp(1, "x"), ErrAbsolutePath},
		{"empty path", Event{Kind: EventDeleted, Path: ""}, nil, ErrEmptyPath},
		{"unknown kind", Event{Kind: "renamed", Path: "a"}, nil, ErrUnknownEventKind},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, store.RecordEvent(tc.ev, tc.fp), tc.err)
		})
	}
	assert.Equal(t, 0, store.Len())
}

func TestMetadataStore_NormalizesKeys(t *testing.T) {
	store := NewMetadataStore()
	require.NoError(t, store.RecordEvent(Event{Kind: EventCreated, Path: "./Pytt//diaco.txt"}, fp(1, "h")))
	require.NoError(t, store.RecordEvent(Event{Kind: EventCreated, Path: `win\path.txt`}, fp(1, "h2")))

	view := store.View()
	assert.Equal(t, []string{"Pytt/diaco.txt", "win/path.txt"}, view.Snapshot.SortedPaths())
}

func TestMetadataStore_ModifiedIsContentBased(t *testing.T) {
	store := NewMetadataStore()
	require.NoError(t, store.RecordEvent(Event{Kind: EventCreated, Path: "a.txt"}, fp(1, "h1")))
	require.NoError(t, store.CommitBaseline(5))
	assert.False(t, store.IsLocallyModifiedSinceLastSync())

	// touch: same content, newer mtime
	require.NoError(t, store.RecordEvent(Event{Kind: EventModified, Path: "a.txt"}, fp(9, "h1")))
	assert.False(t, store.IsLocallyModifiedSinceLastSync())

	// edit and revert
	require.NoError(t, store.RecordEvent(Event{Kind: EventModified, Path: "a.txt"}, fp(10, "h2")))
	assert.True(t, store.IsLocallyModifiedSinceLastSync())
	require.NoError(t, store.RecordEvent(Event{Kind: EventModified, Path: "a.txt"}, fp(11, "h1")))
	assert.False(t, store.IsLocallyModifiedSinceLastSync())
}

func TestMetadataStore_CommitBaseline(t *testing.T) {
	store := NewMetadataStore()
	require.NoError(t, store.RecordEvent(Event{Kind: EventCreated, Path: "a.txt"}, fp(1, "h1")))

	require.NoError(t, store.CommitBaseline(7))
	assert.Equal(t, Timestamp(7), store.Baseline().LastSyncTimestamp)
	assert.False(t, store.IsLocallyModifiedSinceLastSync())

	require.NoError(t, store.CommitBaseline(7), "same timestamp is allowed")
	assert.ErrorIs(t, store.CommitBaseline(6), ErrBaselineRegression)
	assert.Equal(t, Timestamp(7), store.Baseline().LastSyncTimestamp)
}

func TestMetadataStore_CommitIfUnchanged(t *testing.T) {
	store := NewMetadataStore()
	view := store.View()

	// the coordinator's own updates do not block the commit
	require.NoError(t, store.recordSynced(Event{Kind: EventCreated, Path: "dl.txt"}, fp(3, "h")))
	committed, err := store.commitIfUnchanged(3, view.Generation)
	require.NoError(t, err)
	assert.True(t, committed)
	assert.False(t, store.IsLocallyModifiedSinceLastSync())

	view = store.View()
	require.NoError(t, store.RecordEvent(Event{Kind: EventCreated, Path: "user.txt"}, fp(4, "u")))
	committed, err = store.commitIfUnchanged(4, view.Generation)
	require.NoError(t, err)
	assert.False(t, committed)
	assert.Equal(t, Timestamp(3), store.Baseline().LastSyncTimestamp)
	assert.True(t, store.IsLocallyModifiedSinceLastSync())
}

func TestMetadataStore_ViewIsACopy(t *testing.T) {
	store := NewMetadataStore()
	require.NoError(t, store.RecordEvent(Event{Kind: EventCreated, Path: "a.txt"}, fp(1, "h1")))

	view := store.View()
	view.Snapshot["b.txt"] = Fingerprint{}
	delete(view.Snapshot, "a.txt")

	assert.Equal(t, 1, store.Len())
	_, ok := store.Get("a.txt")
	assert.True(t, ok)
	assert.True(t, view.LocalModified)
}

func TestMetadataStore_ReplaceAndRestore(t *testing.T) {
	scanned := Snapshot{"x.txt": {ModifiedAt: 1, ContentHash: "hx"}}
	baseline := SyncBaseline{LastSyncTimestamp: 12, AggregateHash: AggregateHash(scanned)}

	store := RestoreMetadataStore(scanned, baseline)
	assert.False(t, store.IsLocallyModifiedSinceLastSync())
	assert.Equal(t, baseline, store.Baseline())

	store.Replace(Snapshot{"x.txt": {ModifiedAt: 1, ContentHash: "hx"}, "y.txt": {ModifiedAt: 2, ContentHash: "hy"}})
	assert.True(t, store.IsLocallyModifiedSinceLastSync())
	assert.Equal(t, 2, store.Len())
}

func TestMetadataStore_PathsUnder(t *testing.T) {
	store := NewMetadataStore()
	for _, p := range []string{"dir/a.txt", "dir/sub/b.txt", "dirty.txt", "other/c.txt"} {
		require.NoError(t, store.RecordEvent(Event{Kind: EventCreated, Path: p}, fp(1, p)))
	}

	assert.Equal(t, []string{"dir/a.txt", "dir/sub/b.txt"}, store.PathsUnder("dir"))
	assert.Equal(t, []string{"dir/sub/b.txt"}, store.PathsUnder("dir/sub/"))
	assert.Empty(t, store.PathsUnder("missing"))
}

func TestMetadataStore_ConcurrentRecord(t *testing.T) {
	store := NewMetadataStore()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				path := fmt.Sprintf("w%d/f%d", w, i)
				assert.NoError(t, store.RecordEvent(Event{Kind: EventCreated, Path: path}, fp(1, path)))
				_ = store.View()
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 400, store.Len())
	assert.Equal(t, AggregateHash(store.View().Snapshot), store.aggregate)
}
