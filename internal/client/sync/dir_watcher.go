package sync

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
)

var ErrWatcherRunning = errors.New("watcher already running")

// BackendFactory builds a fresh backend for every (re)start.
type BackendFactory func() FileWatcher

type ignoreOncer interface {
	IgnoreOnce(path string)
}

// DirectoryWatcher turns backend events into normalized Events relative to the
// watched root and delivers them one at a time, in backend order.
type DirectoryWatcher struct {
	root       string
	newBackend BackendFactory
	ignore     *SyncIgnoreList

	mu      sync.Mutex
	backend FileWatcher
	done    chan struct{}
	wg      sync.WaitGroup
	onEvent func(Event)

	events chan Event
	errors chan error
}

// NewDirectoryWatcher watches root, which must be an absolute, cleaned path.
func NewDirectoryWatcher(root string, newBackend BackendFactory, ignore *SyncIgnoreList) *DirectoryWatcher {
	return &DirectoryWatcher{
		root:       filepath.Clean(root),
		newBackend: newBackend,
		ignore:     ignore,
		events:     make(chan Event, eventBufferSize),
		errors:     make(chan error, 1),
	}
}

// OnEvent installs a callback that receives events instead of the Events
// channel. It must be set before Start.
func (w *DirectoryWatcher) OnEvent(cb func(Event)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onEvent = cb
}

// Events stays valid across restarts.
func (w *DirectoryWatcher) Events() <-chan Event {
	return w.events
}

// Errors stays valid across restarts.
func (w *DirectoryWatcher) Errors() <-chan error {
	return w.errors
}

func (w *DirectoryWatcher) Root() string {
	return w.root
}

func (w *DirectoryWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.backend != nil {
		return ErrWatcherRunning
	}

	backend := w.newBackend()
	if err := backend.Start(ctx); err != nil {
		return err
	}

	w.backend = backend
	w.done = make(chan struct{})
	w.wg.Add(1)
	go w.pump(backend, w.done, w.onEvent)
	return nil
}

// Stop asks the backend to stop. It does not wait; use Join for that.
func (w *DirectoryWatcher) Stop() {
	w.mu.Lock()
	backend := w.backend
	done := w.done
	w.backend = nil
	w.mu.Unlock()

	if backend == nil {
		return
	}
	close(done)
	backend.Stop()
}

// Join waits until the event pump has exited.
func (w *DirectoryWatcher) Join() {
	w.wg.Wait()
}

// Restart replaces a dead backend with a new one.
func (w *DirectoryWatcher) Restart(ctx context.Context) error {
	w.Stop()
	w.Join()
	return w.Start(ctx)
}

// IgnoreOnce suppresses the next backend event for a relative path, for
// backends that support it.
func (w *DirectoryWatcher) IgnoreOnce(rel string) {
	w.mu.Lock()
	backend := w.backend
	w.mu.Unlock()

	if b, ok := backend.(ignoreOncer); ok {
		b.IgnoreOnce(filepath.Join(w.root, filepath.FromSlash(rel)))
	}
}

func (w *DirectoryWatcher) pump(backend FileWatcher, done chan struct{}, onEvent func(Event)) {
	defer w.wg.Done()

	events := backend.Events()
	errs := backend.Errors()
	for events != nil || errs != nil {
		select {
		case <-done:
			return
		case raw, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			ev, ok := w.normalize(raw)
			if !ok {
				continue
			}
			if onEvent != nil {
				onEvent(ev)
				continue
			}
			select {
			case w.events <- ev:
			case <-done:
				return
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}

	// the backend died without being asked to
	select {
	case <-done:
	default:
		select {
		case w.errors <- errors.New("watcher backend exited"):
		default:
		}
	}
}

// normalize strips the root prefix and applies the ignore list. Events that
// fall outside the root are dropped; moves across the root boundary become
// a plain create or delete.
func (w *DirectoryWatcher) normalize(raw RawEvent) (Event, bool) {
	rel, inRoot := w.relative(raw.Path)

	if raw.Kind == EventMoved {
		dest, destInRoot := w.relative(raw.DestPath)
		switch {
		case inRoot && destInRoot:
			return Event{Kind: EventMoved, Path: rel, DestPath: dest, IsDir: raw.IsDir}, true
		case inRoot:
			return Event{Kind: EventDeleted, Path: rel, IsDir: raw.IsDir}, true
		case destInRoot:
			return Event{Kind: EventCreated, Path: dest, IsDir: raw.IsDir}, true
		default:
			slog.Debug("watcher drop", "reason", "outside root", "path", raw.Path)
			return Event{}, false
		}
	}

	if !inRoot {
		slog.Debug("watcher drop", "reason", "outside root", "path", raw.Path)
		return Event{}, false
	}
	return Event{Kind: raw.Kind, Path: rel, IsDir: raw.IsDir}, true
}

// relative reports false for paths outside the root and for ignored paths.
func (w *DirectoryWatcher) relative(abs string) (string, bool) {
	if abs == "" {
		return "", false
	}
	rel, ok := relativize(w.root, abs)
	if !ok {
		return "", false
	}
	if w.ignore != nil && w.ignore.ShouldIgnore(rel) {
		return "", false
	}
	return rel, true
}
