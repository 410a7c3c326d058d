package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	DefaultIgnoreTimeout   = time.Second
	defaultCleanupInterval = 15 * time.Second
	eventBufferSize        = 256
	defaultDebounceTimeout = 50 * time.Millisecond
)

var ErrEventsDropped = errors.New("watcher dropped events")

// FileWatcher is a source of raw filesystem events with absolute paths.
type FileWatcher interface {
	Start(ctx context.Context) error
	Events() <-chan RawEvent
	// Errors reports backend failures. Any error means events may have been
	// lost and the tree has to be re-scanned.
	Errors() <-chan error
	Stop()
}

// FilterCallback returns true if the event for path should be dropped
type FilterCallback func(path string) bool

// NotifyBackend watches a directory tree with OS notifications.
type NotifyBackend struct {
	watchDir        string
	events          chan RawEvent
	errors          chan error
	rawEvents       chan notify.EventInfo
	ignore          map[string]time.Time
	ignoreMu        sync.RWMutex
	cleanupInterval time.Duration
	done            chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
	// debouncing
	pendingEvents   map[string]notify.Event
	eventTimers     map[string]*time.Timer
	debounceMu      sync.Mutex
	debounceTimeout time.Duration
	stopped         bool
	// raw event filtering
	ignoreCallback FilterCallback
	callbackMu     sync.RWMutex
}

func NewNotifyBackend(watchDir string) *NotifyBackend {
	return &NotifyBackend{
		watchDir:        watchDir,
		ignore:          make(map[string]time.Time),
		cleanupInterval: defaultCleanupInterval,
		done:            make(chan struct{}),
		pendingEvents:   make(map[string]notify.Event),
		eventTimers:     make(map[string]*time.Timer),
		debounceTimeout: defaultDebounceTimeout,
	}
}

func (fw *NotifyBackend) SetCleanupInterval(interval time.Duration) {
	fw.cleanupInterval = interval
}

func (fw *NotifyBackend) SetDebounceTimeout(timeout time.Duration) {
	fw.debounceTimeout = timeout
}

// FilterPaths sets a callback that drops raw events before debouncing
func (fw *NotifyBackend) FilterPaths(callback FilterCallback) {
	fw.callbackMu.Lock()
	defer fw.callbackMu.Unlock()
	fw.ignoreCallback = callback
}

func (fw *NotifyBackend) Start(ctx context.Context) error {
	slog.Info("notify watcher start", "dir", fw.watchDir)

	fw.rawEvents = make(chan notify.EventInfo, eventBufferSize)
	fw.events = make(chan RawEvent, eventBufferSize)
	fw.errors = make(chan error, 1)

	recursivePath := filepath.Join(fw.watchDir, "...")
	if err := notify.Watch(recursivePath, fw.rawEvents, notify.Create, notify.Write, notify.Remove, notify.Rename); err != nil {
		close(fw.events)
		close(fw.errors)
		return fmt.Errorf("notify watch %s: %w", fw.watchDir, err)
	}

	fw.wg.Add(1)
	go fw.filterEvents(ctx)

	fw.wg.Add(1)
	go fw.cleanupExpiredEntries(ctx)

	return nil
}

func (fw *NotifyBackend) Stop() {
	fw.stopOnce.Do(func() {
		slog.Debug("notify watcher stopping")
		close(fw.done)
		if fw.rawEvents != nil {
			notify.Stop(fw.rawEvents)
		}
		fw.wg.Wait()
		slog.Debug("notify watcher stopped")
	})
}

func (fw *NotifyBackend) Events() <-chan RawEvent {
	return fw.events
}

func (fw *NotifyBackend) Errors() <-chan error {
	return fw.errors
}

// IgnoreOnce suppresses the next event for path, used for files the daemon
// writes itself.
func (fw *NotifyBackend) IgnoreOnce(path string) {
	fw.IgnoreOnceWithTimeout(path, DefaultIgnoreTimeout)
}

func (fw *NotifyBackend) IgnoreOnceWithTimeout(path string, timeout time.Duration) {
	fw.ignoreMu.Lock()
	defer fw.ignoreMu.Unlock()
	fw.ignore[path] = time.Now().Add(timeout)
}

// isPathTemporarilyIgnored consumes an unexpired ignore entry for path
func (fw *NotifyBackend) isPathTemporarilyIgnored(path string) bool {
	fw.ignoreMu.Lock()
	defer fw.ignoreMu.Unlock()

	expiry, exists := fw.ignore[path]
	if !exists {
		return false
	}
	delete(fw.ignore, path)
	return !time.Now().After(expiry)
}

func (fw *NotifyBackend) filterEvents(ctx context.Context) {
	defer func() {
		fw.debounceMu.Lock()
		fw.stopped = true
		for path, timer := range fw.eventTimers {
			timer.Stop()
			delete(fw.eventTimers, path)
		}
		// pending events are dropped on exit; the next start re-scans
		fw.pendingEvents = make(map[string]notify.Event)
		fw.debounceMu.Unlock()

		close(fw.events)
		close(fw.errors)
		fw.wg.Done()
		slog.Debug("notify watcher filter events done")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case event, ok := <-fw.rawEvents:
			if !ok {
				fw.reportError(errors.New("notify channel closed"))
				return
			}

			fw.callbackMu.RLock()
			filter := fw.ignoreCallback
			fw.callbackMu.RUnlock()
			if filter != nil && filter(event.Path()) {
				continue
			}

			// inotify fires a burst of writes while a file is being written
			fw.debounceEvent(event)
		}
	}
}

func (fw *NotifyBackend) debounceEvent(event notify.EventInfo) {
	path := event.Path()

	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	if timer, exists := fw.eventTimers[path]; exists {
		timer.Stop()
	}

	// a create followed by writes is still a create
	op := event.Event()
	if prev, exists := fw.pendingEvents[path]; exists && prev == notify.Create && op == notify.Write {
		op = notify.Create
	}
	fw.pendingEvents[path] = op

	fw.eventTimers[path] = time.AfterFunc(fw.debounceTimeout, func() {
		fw.flushEvent(path)
	})
}

// flushEvent turns the last raw event for a path into a RawEvent. The kind is
// decided by looking at the filesystem now, which also resolves renames.
func (fw *NotifyBackend) flushEvent(path string) {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	op, exists := fw.pendingEvents[path]
	if !exists || fw.stopped {
		return
	}
	delete(fw.pendingEvents, path)
	delete(fw.eventTimers, path)

	if fw.isPathTemporarilyIgnored(path) {
		return
	}

	ev := RawEvent{Path: path}
	info, err := os.Stat(path)
	switch {
	case err != nil:
		ev.Kind = EventDeleted
	case op == notify.Write:
		ev.Kind = EventModified
		ev.IsDir = info.IsDir()
	default:
		ev.Kind = EventCreated
		ev.IsDir = info.IsDir()
	}

	select {
	case fw.events <- ev:
		slog.Debug("notify watcher", "event", ev.Kind, "path", path)
	default:
		slog.Warn("notify watcher dropped", "reason", "channel full", "path", path)
		fw.reportError(ErrEventsDropped)
	}
}

func (fw *NotifyBackend) reportError(err error) {
	select {
	case fw.errors <- err:
	default:
	}
}

// cleanupExpiredEntries periodically removes expired entries from the ignore list
func (fw *NotifyBackend) cleanupExpiredEntries(ctx context.Context) {
	defer fw.wg.Done()

	ticker := time.NewTicker(fw.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case <-ticker.C:
			fw.ignoreMu.Lock()
			now := time.Now()
			for path, expiry := range fw.ignore {
				if now.After(expiry) {
					delete(fw.ignore, path)
				}
			}
			fw.ignoreMu.Unlock()
		}
	}
}
