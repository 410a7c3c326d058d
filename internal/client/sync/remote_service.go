package sync

import (
	"context"
	"errors"
	"io"

	"github.com/gobox/gobox/internal/client/control"
)

var (
	ErrRemoteNotFound = errors.New("remote file not found")
	ErrRemoteExists   = errors.New("remote file already exists")
)

// RemoteService is the server side of a sync. Every mutation returns the
// global timestamp the server assigned to it.
type RemoteService interface {
	GetGlobalTimestamp(ctx context.Context) (Timestamp, error)
	// GetListing returns the full remote tree and the global timestamp it
	// was taken at.
	GetListing(ctx context.Context) (Snapshot, Timestamp, error)
	Upload(ctx context.Context, path string, content io.Reader) (Timestamp, error)
	Modify(ctx context.Context, path string, content io.Reader) (Timestamp, error)
	Download(ctx context.Context, path string) (io.ReadCloser, Fingerprint, error)
	Delete(ctx context.Context, path string) (Timestamp, error)
	// Dispatch forwards an account command and returns the JSON result.
	Dispatch(ctx context.Context, cmd control.Command) ([]byte, error)
}

// ChangeNotifier is implemented by remotes that can push the global
// timestamp whenever it moves.
type ChangeNotifier interface {
	Subscribe(ctx context.Context) (<-chan Timestamp, error)
}

// CommandSource feeds control requests to the coordinator.
type CommandSource interface {
	Requests() <-chan *control.Request
	StopAccepting()
	Close()
}
