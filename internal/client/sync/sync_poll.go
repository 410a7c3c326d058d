package sync

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const DefaultPollInterval = 2 * time.Second

// PollingBackend finds changes by re-scanning the tree on an interval and
// diffing against the previous scan. It works on filesystems without change
// notifications.
type PollingBackend struct {
	fs       *LocalFS
	interval time.Duration
	clock    clockwork.Clock

	events   chan RawEvent
	errors   chan error
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	prev Snapshot
}

func NewPollingBackend(fs *LocalFS, interval time.Duration, clock clockwork.Clock) *PollingBackend {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PollingBackend{
		fs:       fs,
		interval: interval,
		clock:    clock,
		done:     make(chan struct{}),
	}
}

// Start takes the reference scan synchronously. Changes are reported relative
// to it from the first tick on.
func (p *PollingBackend) Start(ctx context.Context) error {
	slog.Info("poll watcher start", "dir", p.fs.Root(), "interval", p.interval)

	p.events = make(chan RawEvent, eventBufferSize)
	p.errors = make(chan error, 1)

	initial, err := p.fs.Scan(ctx)
	if err != nil {
		close(p.events)
		close(p.errors)
		return fmt.Errorf("poll watcher initial scan: %w", err)
	}
	p.prev = initial

	ticker := p.clock.NewTicker(p.interval)
	p.wg.Add(1)
	go p.loop(ctx, ticker)
	return nil
}

func (p *PollingBackend) loop(ctx context.Context, ticker clockwork.Ticker) {
	defer func() {
		ticker.Stop()
		close(p.events)
		close(p.errors)
		p.wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.Chan():
			if !p.poll(ctx) {
				return
			}
		}
	}
}

// poll returns false when the backend is shutting down.
func (p *PollingBackend) poll(ctx context.Context) bool {
	current, err := p.fs.Scan(ctx)
	if err != nil {
		slog.Warn("poll watcher scan", "error", err)
		return ctx.Err() == nil
	}

	for _, ev := range diffSnapshots(p.prev, current) {
		ev.Path = filepath.Join(p.fs.Root(), filepath.FromSlash(ev.Path))
		select {
		case p.events <- ev:
		case <-p.done:
			return false
		case <-ctx.Done():
			return false
		}
	}
	p.prev = current
	return true
}

func (p *PollingBackend) Events() <-chan RawEvent {
	return p.events
}

func (p *PollingBackend) Errors() <-chan error {
	return p.errors
}

func (p *PollingBackend) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		slog.Debug("poll watcher stopped")
	})
}

// diffSnapshots returns events with relative paths, ordered by path.
func diffSnapshots(prev, current Snapshot) []RawEvent {
	var events []RawEvent
	for _, path := range current.SortedPaths() {
		old, existed := prev[path]
		switch {
		case !existed:
			events = append(events, RawEvent{Kind: EventCreated, Path: path})
		case !old.SameContent(current[path]):
			events = append(events, RawEvent{Kind: EventModified, Path: path})
		}
	}
	for _, path := range prev.SortedPaths() {
		if _, exists := current[path]; !exists {
			events = append(events, RawEvent{Kind: EventDeleted, Path: path})
		}
	}
	return events
}
