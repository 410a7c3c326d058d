package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"slices"

	"github.com/google/uuid"
)

// CycleReport summarizes one sync cycle. It is the reply to the sync command.
type CycleReport struct {
	CycleID     string             `json:"cycle_id"`
	Skipped     bool               `json:"skipped"`
	Actions     map[ActionKind]int `json:"actions,omitempty"`
	Failed      int                `json:"failed"`
	Duplicates  []string           `json:"duplicates,omitempty"`
	Committed   bool               `json:"committed"`
	Timestamp   Timestamp          `json:"timestamp"`
	DurationMs  int64              `json:"duration_ms"`
	LocalFiles  int                `json:"local_files"`
	RemoteFiles int                `json:"remote_files"`
}

// RunSync performs one full reconciliation cycle. Individual action failures
// do not stop the cycle; they are joined into the returned error and leave the
// baseline untouched so the next cycle retries them.
func (c *SyncCoordinator) RunSync(ctx context.Context) (*CycleReport, error) {
	if !c.muSync.TryLock() {
		return nil, ErrSyncAlreadyRunning
	}
	defer c.muSync.Unlock()

	if c.status.State() == StateStopped {
		return nil, ErrCoordinatorStopped
	}

	start := c.clock.Now()
	report := &CycleReport{CycleID: uuid.NewString()[:8]}
	log := slog.With("cycle", report.CycleID)

	c.status.transition(StateIdle, StateSyncing)
	defer c.status.transition(StateSyncing, StateIdle)

	err := c.runSync(ctx, log, report)
	report.DurationMs = c.clock.Since(start).Milliseconds()
	c.status.CycleDone(report.CycleID, c.clock.Now(), report.Duplicates, err)
	if err != nil {
		return report, err
	}
	return report, nil
}

func (c *SyncCoordinator) runSync(ctx context.Context, log *slog.Logger, report *CycleReport) error {
	view := c.store.View()
	report.LocalFiles = len(view.Snapshot)
	report.Timestamp = view.Baseline.LastSyncTimestamp

	remoteTs, err := c.remote.GetGlobalTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("get remote timestamp: %w", err)
	}

	if !view.LocalModified && remoteTs == view.Baseline.LastSyncTimestamp {
		report.Skipped = true
		report.Committed = true
		return nil
	}

	listing, listingTs, err := c.remote.GetListing(ctx)
	if err != nil {
		return fmt.Errorf("get remote listing: %w", err)
	}
	report.RemoteFiles = len(listing)

	result := Reconcile(ReconcileInput{
		Local:           view.Snapshot,
		Remote:          listing,
		Baseline:        view.Baseline,
		RemoteTimestamp: listingTs,
		LocalModified:   view.LocalModified,
	})
	report.Duplicates = result.Duplicates
	if len(result.Duplicates) > 0 {
		// content already present under another local path; nothing is renamed
		log.Info("sync skip duplicates", "paths", result.Duplicates)
	}

	log.Info("sync start",
		"localModified", view.LocalModified,
		"baseline", view.Baseline.LastSyncTimestamp,
		"remote", listingTs,
		"actions", len(result.Actions),
		"unchanged", result.Unchanged,
	)

	report.Actions = make(map[ActionKind]int)
	var (
		errs      []error
		mutations []Timestamp
	)
	for _, action := range result.Actions {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		ts, err := c.execute(ctx, action, view.Snapshot)
		if err != nil {
			log.Error("sync action", "action", action.String(), "error", err)
			c.status.ActionFailed(action, err, c.clock.Now())
			report.Failed++
			errs = append(errs, fmt.Errorf("%s: %w", action, err))
			continue
		}

		log.Debug("sync action", "action", action.String(), "timestamp", ts)
		c.status.ActionSucceeded(action)
		report.Actions[action.Kind]++
		mutations = append(mutations, ts...)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	commitTs := commitTimestamp(listingTs, mutations)
	committed, err := c.store.commitIfUnchanged(commitTs, view.Generation)
	if err != nil {
		return fmt.Errorf("commit baseline: %w", err)
	}
	report.Committed = committed
	if !committed {
		// local events arrived during the cycle, the next cycle picks them up
		log.Info("sync commit deferred", "reason", "local changes during sync")
		return nil
	}
	report.Timestamp = commitTs

	if err := c.Persist(ctx); err != nil {
		log.Warn("sync journal save", "error", err)
	}

	log.Info("sync done", "timestamp", commitTs, "actions", len(result.Actions))
	return nil
}

// commitTimestamp picks the timestamp the baseline can be committed at. If the
// cycle's own mutations are the only ones the server saw after the listing,
// they are contiguous and the last one is safe to commit. Otherwise someone
// else wrote in between, and only the listing timestamp is known to be
// reconciled.
func commitTimestamp(listingTs Timestamp, mutations []Timestamp) Timestamp {
	sorted := slices.Clone(mutations)
	slices.Sort(sorted)

	next := listingTs
	for _, ts := range sorted {
		if ts != next+1 {
			return listingTs
		}
		next = ts
	}
	return next
}

// execute applies one action and returns the remote timestamps it produced.
// known is the local snapshot the action was planned from.
func (c *SyncCoordinator) execute(ctx context.Context, action SyncAction, known Snapshot) ([]Timestamp, error) {
	switch action.Kind {
	case ActionDownload:
		return nil, c.download(ctx, action.Path, known)

	case ActionUpload:
		ts, err := c.push(ctx, action.Path, action.Target, c.remote.Upload)
		return single(ts, err)

	case ActionPushModify:
		ts, err := c.push(ctx, action.Path, action.Target, c.remote.Modify)
		return single(ts, err)

	case ActionDelete:
		if action.Side == SideLocal {
			return nil, c.deleteLocal(action.Path, known)
		}
		ts, err := c.remote.Delete(ctx, action.Path)
		if errors.Is(err, ErrRemoteNotFound) {
			return nil, nil
		}
		return single(ts, err)

	case ActionUploadConflicted:
		return c.uploadConflicted(ctx, action)

	default:
		return nil, fmt.Errorf("unknown action %q", action.Kind)
	}
}

type pushFunc func(ctx context.Context, path string, content io.Reader) (Timestamp, error)

// push sends the local file at path to the remote path target.
func (c *SyncCoordinator) push(ctx context.Context, path, target string, fn pushFunc) (Timestamp, error) {
	file, err := c.fs.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open local: %w", err)
	}
	defer file.Close()

	return fn(ctx, target, file)
}

// ensureUnchanged fails with ErrLocalChanged if the file on disk no longer
// matches known, so a cycle never overwrites an edit it has not seen.
func (c *SyncCoordinator) ensureUnchanged(path string, known Snapshot) error {
	want, tracked := known[path]
	got, err := c.fs.Fingerprint(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if !tracked {
			return nil
		}
	case err != nil:
		return err
	case tracked && got.SameContent(want):
		return nil
	}
	return fmt.Errorf("%s: %w", path, ErrLocalChanged)
}

func (c *SyncCoordinator) download(ctx context.Context, path string, known Snapshot) error {
	if err := c.ensureUnchanged(path, known); err != nil {
		return err
	}

	body, remoteFp, err := c.remote.Download(ctx, path)
	if errors.Is(err, ErrRemoteNotFound) {
		// deleted after the listing was taken, the next cycle sees it
		return nil
	} else if err != nil {
		return err
	}
	defer body.Close()

	c.watcher.IgnoreOnce(path)
	hash, err := c.fs.Write(path, body)
	if err != nil {
		return err
	}
	if remoteFp.ContentHash != "" && remoteFp.ContentHash != hash {
		slog.Warn("download hash mismatch", "path", path, "remote", remoteFp.ContentHash, "local", hash)
	}

	fp := Fingerprint{ModifiedAt: remoteFp.ModifiedAt, ContentHash: hash}
	return c.store.recordSynced(Event{Kind: EventCreated, Path: path}, &fp)
}

func (c *SyncCoordinator) deleteLocal(path string, known Snapshot) error {
	if c.fs.Exists(path) {
		if err := c.ensureUnchanged(path, known); err != nil {
			return err
		}
		c.watcher.IgnoreOnce(path)
		if err := c.fs.Remove(path); err != nil {
			return err
		}
		c.fs.RemoveEmptyParents(path)
	}
	return c.store.recordSynced(Event{Kind: EventDeleted, Path: path}, nil)
}

// uploadConflicted keeps both versions of a file both sides changed: the
// local one moves to the conflicted path on both sides and the remote one
// takes its place locally.
func (c *SyncCoordinator) uploadConflicted(ctx context.Context, action SyncAction) ([]Timestamp, error) {
	localFp, ok := c.store.Get(action.Path)
	if !ok {
		return nil, fmt.Errorf("conflicted %s: %w", action.Path, ErrRemoteNotFound)
	}

	ts, err := c.push(ctx, action.Path, action.Target, c.remote.Upload)
	if errors.Is(err, ErrRemoteExists) {
		// an older conflicted copy is in the way
		ts, err = c.push(ctx, action.Path, action.Target, c.remote.Modify)
	}
	if err != nil {
		return nil, fmt.Errorf("upload conflicted copy: %w", err)
	}

	c.watcher.IgnoreOnce(action.Path)
	c.watcher.IgnoreOnce(action.Target)
	if err := c.fs.Rename(action.Path, action.Target); err != nil {
		return []Timestamp{ts}, err
	}
	moved := Event{Kind: EventMoved, Path: action.Path, DestPath: action.Target}
	if err := c.store.recordSynced(moved, &localFp); err != nil {
		return []Timestamp{ts}, err
	}

	// the path was just moved away, nothing may have taken its place
	if err := c.download(ctx, action.Path, nil); err != nil {
		return []Timestamp{ts}, fmt.Errorf("download remote version: %w", err)
	}
	return []Timestamp{ts}, nil
}

func single(ts Timestamp, err error) ([]Timestamp, error) {
	if err != nil {
		return nil, err
	}
	return []Timestamp{ts}, nil
}
