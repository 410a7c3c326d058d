package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/gobox/gobox/internal/utils"
)

const (
	logsDir     = "logs"
	journalFile = "state.db"
	lockFile    = "gobox.lock"
)

var (
	ErrWorkspaceLocked = errors.New("workspace locked by another process")
	ErrDataDirInWatch  = errors.New("data dir must not be inside the watched directory")
)

// Workspace is the on-disk layout of one daemon: the watched tree and the
// data directory holding its state, logs and lock.
type Workspace struct {
	WatchDir    string
	DataDir     string
	LogsDir     string
	JournalPath string

	flock *flock.Flock
}

func NewWorkspace(watchDir, dataDir string) (*Workspace, error) {
	watch, err := utils.ResolvePath(watchDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", watchDir, err)
	}
	data, err := utils.ResolvePath(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", dataDir, err)
	}
	if isWithin(watch, data) {
		return nil, fmt.Errorf("%w: %s in %s", ErrDataDirInWatch, data, watch)
	}

	return &Workspace{
		WatchDir:    watch,
		DataDir:     data,
		LogsDir:     filepath.Join(data, logsDir),
		JournalPath: filepath.Join(data, journalFile),
		flock:       flock.New(filepath.Join(data, lockFile)),
	}, nil
}

// Lock takes the data dir lock so a second daemon cannot share the state.
func (w *Workspace) Lock() error {
	if err := utils.EnsureDir(w.DataDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.DataDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}
	return nil
}

func (w *Workspace) Unlock() error {
	// if this process hasn't locked the workspace, then don't delete the lock file
	if !w.flock.Locked() {
		return nil
	}

	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock workspace: %w", err)
	}
	return os.Remove(w.flock.Path())
}

// Setup locks the workspace and creates the directories it needs.
func (w *Workspace) Setup() error {
	if !utils.DirExists(w.WatchDir) {
		return fmt.Errorf("watch dir %s does not exist", w.WatchDir)
	}

	if err := w.Lock(); err != nil {
		return err
	}

	if err := utils.EnsureDir(w.LogsDir); err != nil {
		w.Unlock()
		return fmt.Errorf("failed to create directory %s: %w", w.LogsDir, err)
	}

	slog.Info("workspace", "watchDir", w.WatchDir, "dataDir", w.DataDir)
	return nil
}

func isWithin(parent, path string) bool {
	rel, err := filepath.Rel(parent, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
