package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gobox/gobox/internal/client/config"
	"github.com/gobox/gobox/internal/client/control"
	"github.com/gobox/gobox/internal/client/remote"
	boxsync "github.com/gobox/gobox/internal/client/sync"
	"github.com/gobox/gobox/internal/client/workspace"
	"github.com/gobox/gobox/internal/db"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

const persistTimeout = 10 * time.Second

// Daemon owns everything one running sync client needs. It is built once by
// NewDaemon and torn down when Start returns.
type Daemon struct {
	config    *config.Config
	workspace *workspace.Workspace
	journal   *boxsync.SyncJournal
	remote    *remote.HTTPRemote
	control   *control.Server
	coord     *boxsync.SyncCoordinator
}

// NewDaemon locks the workspace, restores the persisted state and binds the
// control address. Nothing runs until Start.
func NewDaemon(cfg *config.Config) (d *Daemon, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ws, err := workspace.NewWorkspace(cfg.WatchDir, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if err := ws.Setup(); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			ws.Unlock()
		}
	}()

	journal := boxsync.NewSyncJournal(ws.JournalPath)
	if err := journal.Open(); err != nil {
		return nil, err
	}
	slog.Debug("sync journal open", "path", ws.JournalPath, "driver", db.DriverID())
	defer func() {
		if err != nil {
			journal.Close()
		}
	}()

	store, err := restoreStore(journal)
	if err != nil {
		return nil, err
	}

	ignore := boxsync.NewSyncIgnoreList(ws.WatchDir)
	ignore.Load()
	localFS := boxsync.NewLocalFS(ws.WatchDir, ignore)
	watcher := boxsync.NewDirectoryWatcher(ws.WatchDir, newBackendFactory(cfg, localFS), ignore)

	httpRemote, err := remote.New(remote.Config{
		ServerURL: cfg.ServerURL,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, err
	}

	ctrl, err := control.Listen(cfg.ControlAddr)
	if err != nil {
		return nil, err
	}

	coord := boxsync.NewSyncCoordinator(store, localFS, httpRemote, watcher, journal, ctrl, boxsync.CoordinatorOptions{
		SyncInterval: cfg.SyncInterval,
		Debounce:     cfg.Debounce,
	})

	return &Daemon{
		config:    cfg,
		workspace: ws,
		journal:   journal,
		remote:    httpRemote,
		control:   ctrl,
		coord:     coord,
	}, nil
}

func restoreStore(journal *boxsync.SyncJournal) (*boxsync.MetadataStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	snapshot, baseline, found, err := journal.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		slog.Info("sync journal empty, starting fresh")
		return boxsync.NewMetadataStore(), nil
	}
	slog.Info("sync journal restored", "files", len(snapshot), "lastSync", baseline.LastSyncTimestamp)
	return boxsync.RestoreMetadataStore(snapshot, baseline), nil
}

func newBackendFactory(cfg *config.Config, localFS *boxsync.LocalFS) boxsync.BackendFactory {
	if cfg.Watcher == config.WatcherPoll {
		return func() boxsync.FileWatcher {
			return boxsync.NewPollingBackend(localFS, cfg.PollInterval, clockwork.NewRealClock())
		}
	}
	return func() boxsync.FileWatcher {
		return boxsync.NewNotifyBackend(cfg.WatchDir)
	}
}

// ControlAddr is the address the control server is bound to.
func (d *Daemon) ControlAddr() net.Addr {
	return d.control.Addr()
}

func (d *Daemon) Coordinator() *boxsync.SyncCoordinator {
	return d.coord
}

// Start runs until a shutdown command arrives or ctx is canceled. The state
// is persisted and the workspace unlocked before it returns.
func (d *Daemon) Start(ctx context.Context) error {
	slog.Info("gobox daemon start", "watchDir", d.workspace.WatchDir, "server", d.remote.BaseURL(), "control", d.ControlAddr().String())

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := d.control.Serve(egCtx); err != nil {
			return fmt.Errorf("control server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		if err := d.coord.Run(egCtx); err != nil {
			return fmt.Errorf("sync coordinator: %w", err)
		}
		return nil
	})

	err := eg.Wait()
	if serr := d.stop(); serr != nil {
		err = errors.Join(err, serr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("gobox daemon failure", "error", err)
		return err
	}
	slog.Info("gobox daemon stopped")
	return nil
}

func (d *Daemon) stop() error {
	// make sure the control server is down even if the coordinator never ran
	d.control.Close()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	var errs []error
	if err := d.coord.Persist(ctx); err != nil {
		errs = append(errs, fmt.Errorf("persist state: %w", err))
	}
	if err := d.journal.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := d.workspace.Unlock(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
