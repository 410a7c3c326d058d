package sync

import (
	"maps"
	"slices"
)

// Timestamp is the remote global counter. It is maintained by the server and
// only ever grows; it is not wall clock time.
type Timestamp int64

// Fingerprint is the state of one file at a point in time.
type Fingerprint struct {
	ModifiedAt  Timestamp `json:"modified_at"`
	ContentHash string    `json:"content_hash"`
}

// Equal reports whether both the timestamp and the content hash match.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.ModifiedAt == other.ModifiedAt && f.ContentHash == other.ContentHash
}

// SameContent reports whether the content hashes match. A file that was only
// touched keeps the same content.
func (f Fingerprint) SameContent(other Fingerprint) bool {
	return f.ContentHash == other.ContentHash
}

// Snapshot maps a relative, slash separated path to its fingerprint.
type Snapshot map[string]Fingerprint

// Clone returns a copy that shares nothing with s.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	return maps.Clone(s)
}

// SortedPaths returns the keys of s in lexicographic order.
func (s Snapshot) SortedPaths() []string {
	return slices.Sorted(maps.Keys(s))
}

// hasContentElsewhere reports whether any path other than exclude holds a
// file with the given content hash.
func (s Snapshot) hasContentElsewhere(hash string, exclude string) bool {
	for path, fp := range s {
		if path != exclude && fp.ContentHash == hash {
			return true
		}
	}
	return false
}

// SyncBaseline is what was known at the last successful reconciliation.
type SyncBaseline struct {
	LastSyncTimestamp Timestamp `json:"last_sync_timestamp"`
	AggregateHash     string    `json:"aggregate_hash"`
}
