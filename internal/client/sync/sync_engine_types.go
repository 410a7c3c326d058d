package sync

// ReconcileInput is everything Reconcile looks at. Local and Remote are read
// only for the duration of the call.
type ReconcileInput struct {
	Local           Snapshot
	Remote          Snapshot
	Baseline        SyncBaseline
	RemoteTimestamp Timestamp
	// LocalModified comes from MetadataStore.IsLocallyModifiedSinceLastSync.
	LocalModified bool
}

// RemoteModified reports whether the server counter moved since the baseline.
func (in ReconcileInput) RemoteModified() bool {
	return in.RemoteTimestamp != in.Baseline.LastSyncTimestamp
}

// ReconcileResult is the outcome of one reconciliation.
type ReconcileResult struct {
	// Actions are ordered lexicographically by path.
	Actions []SyncAction
	// Duplicates lists remote-only paths whose content already exists locally
	// under another path. No action is taken for them.
	Duplicates []string
	// Unchanged counts paths that are present on both sides with the same content.
	Unchanged int
}

// HasChanges returns true if there is at least one action to execute.
func (r *ReconcileResult) HasChanges() bool {
	return len(r.Actions) > 0
}

// Count returns the number of actions of the given kind.
func (r *ReconcileResult) Count(kind ActionKind) int {
	n := 0
	for _, a := range r.Actions {
		if a.Kind == kind {
			n++
		}
	}
	return n
}
