package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/gobox/gobox/internal/client/control"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultSyncInterval = 30 * time.Second
	DefaultDebounce     = 500 * time.Millisecond

	watcherRetryMin = time.Second
	watcherRetryMax = 30 * time.Second
)

var (
	ErrSyncAlreadyRunning = errors.New("sync already running")
	ErrCoordinatorStopped = errors.New("coordinator stopped")
	ErrLocalChanged       = errors.New("local file changed during sync")
)

type CoordinatorOptions struct {
	// SyncInterval is the period of the safety net sync.
	SyncInterval time.Duration
	// Debounce delays the sync triggered by local events.
	Debounce time.Duration
	Clock    clockwork.Clock
}

// SyncCoordinator owns the daemon's sync loop. Control commands, watcher
// events, remote notifications and timers are all handled on the goroutine
// running Run, one at a time.
type SyncCoordinator struct {
	store    *MetadataStore
	fs       *LocalFS
	remote   RemoteService
	watcher  *DirectoryWatcher
	journal  *SyncJournal
	commands CommandSource
	status   *SyncStatus

	clock        clockwork.Clock
	syncInterval time.Duration
	debounce     time.Duration

	muSync  sync.Mutex
	stopped chan struct{}
}

// NewSyncCoordinator wires the coordinator. journal and commands may be nil.
func NewSyncCoordinator(
	store *MetadataStore,
	localFS *LocalFS,
	remote RemoteService,
	watcher *DirectoryWatcher,
	journal *SyncJournal,
	commands CommandSource,
	opts CoordinatorOptions,
) *SyncCoordinator {
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = DefaultSyncInterval
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	return &SyncCoordinator{
		store:        store,
		fs:           localFS,
		remote:       remote,
		watcher:      watcher,
		journal:      journal,
		commands:     commands,
		status:       NewSyncStatus(localFS.Root()),
		clock:        opts.Clock,
		syncInterval: opts.SyncInterval,
		debounce:     opts.Debounce,
		stopped:      make(chan struct{}),
	}
}

func (c *SyncCoordinator) Store() *MetadataStore {
	return c.store
}

func (c *SyncCoordinator) SyncStatus() *SyncStatus {
	return c.status
}

// State is the current lifecycle state.
func (c *SyncCoordinator) State() CoordinatorState {
	return c.status.State()
}

// Stopped is closed once Run has returned.
func (c *SyncCoordinator) Stopped() <-chan struct{} {
	return c.stopped
}

// Status returns a report for the status command.
func (c *SyncCoordinator) Status() StatusReport {
	return c.status.Report(c.store.View())
}

// Run starts the watcher and loops until a shutdown command arrives or ctx is
// canceled. Either way the shutdown sequence runs before Run returns.
func (c *SyncCoordinator) Run(ctx context.Context) error {
	defer close(c.stopped)
	slog.Info("sync coordinator start", "dir", c.fs.Root(), "interval", c.syncInterval)

	if err := c.watcher.Start(ctx); err != nil {
		c.shutdown()
		return fmt.Errorf("start watcher: %w", err)
	}

	// scan after the watcher is up so nothing falls in between
	if err := c.rescan(ctx); err != nil {
		c.shutdown()
		return err
	}

	var notifications <-chan Timestamp
	if notifier, ok := c.remote.(ChangeNotifier); ok {
		ch, err := notifier.Subscribe(ctx)
		if err != nil {
			slog.Warn("remote notifications unavailable", "error", err)
		} else {
			notifications = ch
		}
	}

	var requests <-chan *control.Request
	if c.commands != nil {
		requests = c.commands.Requests()
	}

	ticker := c.clock.NewTicker(c.syncInterval)
	defer ticker.Stop()

	var (
		debounce     clockwork.Timer
		debounceC    <-chan time.Time
		retry        clockwork.Timer
		retryC       <-chan time.Time
		retryBackoff = watcherRetryMin
	)
	armDebounce := func() {
		if debounce == nil {
			debounce = c.clock.NewTimer(c.debounce)
		} else {
			debounce.Stop()
			debounce.Reset(c.debounce)
		}
		debounceC = debounce.Chan()
	}
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
		if retry != nil {
			retry.Stop()
		}
	}()

	c.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync coordinator interrupted")
			c.shutdown()
			return nil

		case req := <-requests:
			if c.handleRequest(ctx, req) {
				c.shutdown()
				return nil
			}

		case ev := <-c.watcher.Events():
			c.handleEvent(ctx, ev)
			armDebounce()

		case err := <-c.watcher.Errors():
			slog.Error("watcher failed", "error", err)
			if c.recoverWatcher(ctx) {
				retryBackoff = watcherRetryMin
				armDebounce()
			} else {
				retry = c.clock.NewTimer(retryBackoff)
				retryC = retry.Chan()
				retryBackoff = min(retryBackoff*2, watcherRetryMax)
			}

		case <-retryC:
			retryC = nil
			if c.recoverWatcher(ctx) {
				retryBackoff = watcherRetryMin
				armDebounce()
			} else {
				retry = c.clock.NewTimer(retryBackoff)
				retryC = retry.Chan()
				retryBackoff = min(retryBackoff*2, watcherRetryMax)
			}

		case ts, ok := <-notifications:
			if !ok {
				slog.Warn("remote notifications closed")
				notifications = nil
				continue
			}
			if ts != c.store.Baseline().LastSyncTimestamp {
				c.runCycle(ctx)
			}

		case <-ticker.Chan():
			c.runCycle(ctx)

		case <-debounceC:
			debounceC = nil
			c.runCycle(ctx)
		}
	}
}

// handleRequest executes one control command and reports whether the loop
// has to stop.
func (c *SyncCoordinator) handleRequest(ctx context.Context, req *control.Request) bool {
	cmd := req.Command
	slog.Debug("control command", "cmd", cmd.Name)

	switch cmd.Name {
	case control.CmdShutdown:
		req.Reply(control.OK(nil))
		return true

	case control.CmdSync:
		report, err := c.RunSync(ctx)
		if err != nil {
			req.Reply(control.Error(err))
		} else {
			req.Reply(control.OK(report))
		}

	case control.CmdStatus:
		req.Reply(control.OK(c.Status()))

	case control.CmdRegister, control.CmdActivate:
		data, err := c.remote.Dispatch(ctx, cmd)
		if err != nil {
			req.Reply(control.Error(err))
		} else {
			req.Reply(control.Response{OK: true, Data: data})
		}

	default:
		req.Reply(control.Error(fmt.Errorf("%w: %q", control.ErrUnknownCommand, cmd.Name)))
	}
	return false
}

// shutdown stops intake in order: no new connections, no new events, then the
// control connections themselves.
func (c *SyncCoordinator) shutdown() {
	slog.Info("sync coordinator stopping")
	if c.commands != nil {
		c.commands.StopAccepting()
	}
	c.watcher.Stop()
	c.watcher.Join()
	if c.commands != nil {
		c.commands.Close()
	}
	c.status.SetState(StateStopped)
	slog.Info("sync coordinator stopped")
}

func (c *SyncCoordinator) runCycle(ctx context.Context) {
	if _, err := c.RunSync(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("sync failed", "error", err)
	}
}

// handleEvent applies one watcher event to the store.
func (c *SyncCoordinator) handleEvent(ctx context.Context, ev Event) {
	slog.Debug("local event", "event", ev.String())

	var err error
	switch ev.Kind {
	case EventDeleted:
		err = c.recordDelete(ev.Path)

	case EventCreated, EventModified:
		err = c.recordPresent(ctx, ev.Kind, ev.Path)

	case EventMoved:
		if err = c.recordDelete(ev.Path); err == nil {
			err = c.recordPresent(ctx, EventCreated, ev.DestPath)
		}

	default:
		err = fmt.Errorf("%w: %q", ErrUnknownEventKind, ev.Kind)
	}

	if err != nil {
		slog.Warn("local event dropped", "event", ev.String(), "error", err)
	}
}

// recordDelete removes path and, if it was a directory, everything below it.
func (c *SyncCoordinator) recordDelete(path string) error {
	if err := c.store.RecordEvent(Event{Kind: EventDeleted, Path: path}, nil); err != nil {
		return err
	}
	for _, child := range c.store.PathsUnder(path) {
		if err := c.store.RecordEvent(Event{Kind: EventDeleted, Path: child}, nil); err != nil {
			return err
		}
	}
	return nil
}

// recordPresent fingerprints path as it is on disk now. A path that is gone
// again is recorded as deleted; a directory is scanned as a whole.
func (c *SyncCoordinator) recordPresent(ctx context.Context, kind EventKind, path string) error {
	fp, err := c.fs.Fingerprint(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return c.recordDelete(path)

	case errors.Is(err, ErrIsDir):
		snapshot, err := c.fs.ScanDir(ctx, path)
		if err != nil {
			return err
		}
		for _, p := range snapshot.SortedPaths() {
			fp := snapshot[p]
			if err := c.store.RecordEvent(Event{Kind: EventCreated, Path: p}, &fp); err != nil {
				return err
			}
		}
		return nil

	case err != nil:
		return err
	}

	return c.store.RecordEvent(Event{Kind: kind, Path: path}, &fp)
}

// recoverWatcher restarts a failed watcher and re-scans, since events were
// lost while it was down.
func (c *SyncCoordinator) recoverWatcher(ctx context.Context) bool {
	if err := c.watcher.Restart(ctx); err != nil {
		slog.Error("watcher restart", "error", err)
		return false
	}
	if err := c.rescan(ctx); err != nil {
		slog.Error("rescan after watcher restart", "error", err)
		return false
	}
	slog.Info("watcher restarted")
	return true
}

func (c *SyncCoordinator) rescan(ctx context.Context) error {
	snapshot, err := c.fs.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan local tree: %w", err)
	}
	c.store.Replace(snapshot)
	slog.Info("local scan", "files", len(snapshot), "modified", c.store.IsLocallyModifiedSinceLastSync())
	return nil
}

// Persist saves the store to the journal, if there is one.
func (c *SyncCoordinator) Persist(ctx context.Context) error {
	if c.journal == nil {
		return nil
	}
	view := c.store.View()
	return c.journal.Save(ctx, view.Snapshot, view.Baseline)
}
