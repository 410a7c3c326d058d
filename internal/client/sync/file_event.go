package sync

import "fmt"

type EventKind string

const (
	EventCreated  EventKind = "created"
	EventModified EventKind = "modified"
	EventDeleted  EventKind = "deleted"
	EventMoved    EventKind = "moved"
)

// Event is a normalized filesystem notification. Paths are relative to the
// watched root.
type Event struct {
	Kind EventKind
	Path string
	// DestPath is only set for EventMoved.
	DestPath string
	IsDir    bool
}

func (e Event) String() string {
	if e.Kind == EventMoved {
		return fmt.Sprintf("%s %s -> %s", e.Kind, e.Path, e.DestPath)
	}
	return fmt.Sprintf("%s %s", e.Kind, e.Path)
}

// RawEvent is what a backend reports, with absolute paths.
type RawEvent struct {
	Kind     EventKind
	Path     string
	DestPath string
	IsDir    bool
}
