package sync

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrMissingFingerprint = errors.New("event requires a fingerprint")
	ErrUnknownEventKind   = errors.New("unknown event kind")
	ErrBaselineRegression = errors.New("baseline timestamp cannot go backwards")
)

// StoreView is a consistent copy of the store taken under its lock.
type StoreView struct {
	Snapshot      Snapshot
	Baseline      SyncBaseline
	LocalModified bool
	// Generation counts events recorded from the watcher. It lets a sync cycle
	// notice that the tree changed while it was running.
	Generation uint64
}

// MetadataStore owns the live local snapshot and the sync baseline. There is
// exactly one per daemon.
type MetadataStore struct {
	mu         sync.Mutex
	snapshot   Snapshot
	baseline   SyncBaseline
	aggregate  string
	generation uint64
}

// NewMetadataStore returns an empty store whose baseline is the empty tree at
// timestamp zero, which forces a full initial reconciliation.
func NewMetadataStore() *MetadataStore {
	empty := Snapshot{}
	aggregate := AggregateHash(empty)
	return &MetadataStore{
		snapshot:  empty,
		aggregate: aggregate,
		baseline:  SyncBaseline{LastSyncTimestamp: 0, AggregateHash: aggregate},
	}
}

// RestoreMetadataStore rebuilds a store from persisted state.
func RestoreMetadataStore(snapshot Snapshot, baseline SyncBaseline) *MetadataStore {
	snapshot = snapshot.Clone()
	return &MetadataStore{
		snapshot:  snapshot,
		baseline:  baseline,
		aggregate: AggregateHash(snapshot),
	}
}

// RecordEvent applies a watcher event to the snapshot. fp is required for
// created, modified and moved events and ignored for deletes.
func (m *MetadataStore) RecordEvent(ev Event, fp *Fingerprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.apply(ev, fp); err != nil {
		return err
	}
	m.generation++
	return nil
}

// recordSynced applies the local effect of an action the coordinator just
// executed. Unlike RecordEvent it does not count as a foreign change: if the
// store matched the baseline before, the baseline hash follows the change so
// a failed batch does not look like a local edit on the retry.
func (m *MetadataStore) recordSynced(ev Event, fp *Fingerprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clean := m.aggregate == m.baseline.AggregateHash
	if err := m.apply(ev, fp); err != nil {
		return err
	}
	if clean {
		m.baseline.AggregateHash = m.aggregate
	}
	return nil
}

func (m *MetadataStore) apply(ev Event, fp *Fingerprint) error {
	path, err := NormPath(ev.Path)
	if err != nil {
		return fmt.Errorf("record %s %q: %w", ev.Kind, ev.Path, err)
	}

	switch ev.Kind {
	case EventCreated, EventModified:
		if fp == nil {
			return fmt.Errorf("record %s %q: %w", ev.Kind, path, ErrMissingFingerprint)
		}
		m.snapshot[path] = *fp

	case EventDeleted:
		// backends may repeat or race deletes, a missing path is fine
		delete(m.snapshot, path)

	case EventMoved:
		if fp == nil {
			return fmt.Errorf("record %s %q: %w", ev.Kind, path, ErrMissingFingerprint)
		}
		dest, err := NormPath(ev.DestPath)
		if err != nil {
			return fmt.Errorf("record %s %q: %w", ev.Kind, ev.DestPath, err)
		}
		delete(m.snapshot, path)
		m.snapshot[dest] = *fp

	default:
		return fmt.Errorf("record %q: %w", ev.Kind, ErrUnknownEventKind)
	}

	m.aggregate = AggregateHash(m.snapshot)
	return nil
}

// IsLocallyModifiedSinceLastSync compares the current aggregate hash with the
// one recorded at the last successful sync.
func (m *MetadataStore) IsLocallyModifiedSinceLastSync() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aggregate != m.baseline.AggregateHash
}

// CommitBaseline records a successful reconciliation at the given remote
// timestamp together with the current aggregate hash.
func (m *MetadataStore) CommitBaseline(ts Timestamp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commit(ts)
}

// commitIfUnchanged commits only if no watcher event was recorded since the
// view with the given generation was taken. It reports whether it committed.
func (m *MetadataStore) commitIfUnchanged(ts Timestamp, generation uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.generation != generation {
		return false, nil
	}
	if err := m.commit(ts); err != nil {
		return false, err
	}
	return true, nil
}

func (m *MetadataStore) commit(ts Timestamp) error {
	if ts < m.baseline.LastSyncTimestamp {
		return fmt.Errorf("commit %d after %d: %w", ts, m.baseline.LastSyncTimestamp, ErrBaselineRegression)
	}
	m.baseline = SyncBaseline{LastSyncTimestamp: ts, AggregateHash: m.aggregate}
	return nil
}

// View copies the snapshot and baseline under the lock and releases it right
// away, so event recording is never blocked longer than the copy.
func (m *MetadataStore) View() StoreView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return StoreView{
		Snapshot:      m.snapshot.Clone(),
		Baseline:      m.baseline,
		LocalModified: m.aggregate != m.baseline.AggregateHash,
		Generation:    m.generation,
	}
}

// Replace swaps in a freshly scanned snapshot, used after a watcher outage.
func (m *MetadataStore) Replace(snapshot Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = snapshot.Clone()
	m.aggregate = AggregateHash(m.snapshot)
	m.generation++
}

// PathsUnder returns the tracked paths inside dir, sorted.
func (m *MetadataStore) PathsUnder(dir string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := strings.TrimSuffix(dir, "/") + "/"
	var paths []string
	for _, p := range m.snapshot.SortedPaths() {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	return paths
}

// Get returns the fingerprint tracked for path.
func (m *MetadataStore) Get(path string) (Fingerprint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fp, ok := m.snapshot[path]
	return fp, ok
}

func (m *MetadataStore) Baseline() SyncBaseline {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baseline
}

func (m *MetadataStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshot)
}
