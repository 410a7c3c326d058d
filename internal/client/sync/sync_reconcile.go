package sync

import (
	"fmt"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
)

// Reconcile computes the actions that bring the local tree and the remote
// listing back in sync. It is a pure function: identical input always yields
// the same, path ordered, result.
//
// Malformed input (negative timestamps) is a caller bug and panics.
func Reconcile(in ReconcileInput) *ReconcileResult {
	validateInput(in)

	result := &ReconcileResult{}
	localModified := in.LocalModified
	remoteModified := in.RemoteModified()

	if !localModified && !remoteModified {
		return result
	}

	paths := mapset.NewThreadUnsafeSetWithSize[string](len(in.Local) + len(in.Remote))
	for path := range in.Local {
		paths.Add(path)
	}
	for path := range in.Remote {
		paths.Add(path)
	}
	sorted := paths.ToSlice()
	slices.Sort(sorted)

	for _, path := range sorted {
		local, localExists := in.Local[path]
		remote, remoteExists := in.Remote[path]

		if localExists && remoteExists && local.SameContent(remote) {
			result.Unchanged++
			continue
		}

		var action *SyncAction
		switch {
		case remoteModified && !localModified:
			action = reconcileRemoteOnly(in, result, path, localExists, remoteExists)
		case localModified && !remoteModified:
			action = reconcileLocalOnly(path, localExists, remoteExists)
		default:
			action = reconcileBoth(in, result, path, localExists, remoteExists)
		}

		if action != nil {
			result.Actions = append(result.Actions, *action)
		}
	}

	return result
}

// reconcileRemoteOnly handles a moved server counter with an untouched local
// tree: the remote listing wins.
func reconcileRemoteOnly(in ReconcileInput, result *ReconcileResult, path string, localExists, remoteExists bool) *SyncAction {
	switch {
	case remoteExists && !localExists:
		if in.Local.hasContentElsewhere(in.Remote[path].ContentHash, path) {
			result.Duplicates = append(result.Duplicates, path)
			return nil
		}
		return ptr(Download(path))
	case remoteExists && localExists:
		return ptr(Download(path))
	default:
		// the server stopped listing a synced path
		return ptr(DeleteLocal(path))
	}
}

// reconcileLocalOnly handles local edits against an unchanged server: the
// local snapshot wins.
func reconcileLocalOnly(path string, localExists, remoteExists bool) *SyncAction {
	switch {
	case remoteExists && !localExists:
		return ptr(DeleteRemote(path))
	case remoteExists && localExists:
		return ptr(PushModify(path))
	default:
		return ptr(Upload(path))
	}
}

// reconcileBoth is the three-way merge. Remote entry timestamps are compared
// against the baseline to tell what the server changed since the last sync.
func reconcileBoth(in ReconcileInput, result *ReconcileResult, path string, localExists, remoteExists bool) *SyncAction {
	last := in.Baseline.LastSyncTimestamp

	switch {
	case remoteExists && !localExists:
		remote := in.Remote[path]
		if in.Local.hasContentElsewhere(remote.ContentHash, path) {
			result.Duplicates = append(result.Duplicates, path)
			return nil
		}
		if remote.ModifiedAt > last {
			return ptr(Download(path))
		}
		return ptr(DeleteRemote(path))
	case localExists && !remoteExists:
		return ptr(Upload(path))
	default:
		if in.Remote[path].ModifiedAt > last {
			return ptr(UploadConflicted(path))
		}
		return ptr(PushModify(path))
	}
}

func validateInput(in ReconcileInput) {
	if in.RemoteTimestamp < 0 {
		panic(fmt.Sprintf("reconcile: negative remote timestamp %d", in.RemoteTimestamp))
	}
	if in.Baseline.LastSyncTimestamp < 0 {
		panic(fmt.Sprintf("reconcile: negative baseline timestamp %d", in.Baseline.LastSyncTimestamp))
	}
	for path, fp := range in.Remote {
		if fp.ModifiedAt < 0 {
			panic(fmt.Sprintf("reconcile: negative timestamp %d for %q", fp.ModifiedAt, path))
		}
	}
}

func ptr[T any](v T) *T {
	return &v
}
