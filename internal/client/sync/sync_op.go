package sync

import "fmt"

const conflictedSuffix = ".conflicted"

type ActionKind string

const (
	ActionDownload         ActionKind = "download"
	ActionUpload           ActionKind = "upload"
	ActionDelete           ActionKind = "delete"
	ActionPushModify       ActionKind = "modify"
	ActionUploadConflicted ActionKind = "upload_conflicted"
)

// Side tells where a delete has to be applied.
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// SyncAction is a directive produced by Reconcile. It has no side effects on
// its own; the coordinator executes it.
type SyncAction struct {
	Kind ActionKind
	// Path is the relative path the action reads from.
	Path string
	// Target is the relative path the action writes to. It equals Path for
	// every kind except ActionUploadConflicted.
	Target string
	// Side is only meaningful for ActionDelete.
	Side Side
}

func (a SyncAction) String() string {
	switch {
	case a.Kind == ActionDelete:
		return fmt.Sprintf("%s(%s@%s)", a.Kind, a.Path, a.Side)
	case a.Target != a.Path:
		return fmt.Sprintf("%s(%s->%s)", a.Kind, a.Path, a.Target)
	default:
		return fmt.Sprintf("%s(%s)", a.Kind, a.Path)
	}
}

func Download(path string) SyncAction {
	return SyncAction{Kind: ActionDownload, Path: path, Target: path, Side: SideLocal}
}

func Upload(path string) SyncAction {
	return SyncAction{Kind: ActionUpload, Path: path, Target: path, Side: SideRemote}
}

func PushModify(path string) SyncAction {
	return SyncAction{Kind: ActionPushModify, Path: path, Target: path, Side: SideRemote}
}

// DeleteLocal propagates a remote deletion to the watched directory.
func DeleteLocal(path string) SyncAction {
	return SyncAction{Kind: ActionDelete, Path: path, Target: path, Side: SideLocal}
}

// DeleteRemote removes a path from the server.
func DeleteRemote(path string) SyncAction {
	return SyncAction{Kind: ActionDelete, Path: path, Target: path, Side: SideRemote}
}

// UploadConflicted uploads the local copy of path under path+".conflicted",
// leaving the remote version at the original path.
func UploadConflicted(path string) SyncAction {
	return SyncAction{Kind: ActionUploadConflicted, Path: path, Target: path + conflictedSuffix, Side: SideRemote}
}
