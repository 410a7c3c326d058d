package sync

import (
	"maps"
	"sync"
	"time"
)

const statusEventBufferSize = 16

// CoordinatorState is the lifecycle state of the SyncCoordinator.
type CoordinatorState string

const (
	StateIdle    CoordinatorState = "idle"
	StateSyncing CoordinatorState = "syncing"
	StateStopped CoordinatorState = "stopped"
)

// PathError is the last failure seen for one path.
type PathError struct {
	Action     ActionKind `json:"action"`
	Error      string     `json:"error"`
	ErrorCount int        `json:"error_count"`
	LastSeen   time.Time  `json:"last_seen"`
}

// StatusReport is a point in time copy of SyncStatus, served to the control
// interface.
type StatusReport struct {
	State           CoordinatorState      `json:"state"`
	WatchDir        string                `json:"watch_dir"`
	Files           int                   `json:"files"`
	LocalModified   bool                  `json:"local_modified"`
	LastSyncTs      Timestamp             `json:"last_sync_timestamp"`
	LastSyncAt      time.Time             `json:"last_sync_at"`
	LastCycleID     string                `json:"last_cycle_id,omitempty"`
	LastError       string                `json:"last_error,omitempty"`
	Cycles          int                   `json:"cycles"`
	ActionsExecuted map[ActionKind]int    `json:"actions_executed"`
	Failed          map[string]*PathError `json:"failed,omitempty"`
	Duplicates      []string              `json:"duplicates,omitempty"`
}

// SyncStatus tracks the outcome of sync cycles.
type SyncStatus struct {
	mu         sync.RWMutex
	state      CoordinatorState
	watchDir   string
	lastSyncAt time.Time
	lastCycle  string
	lastError  string
	cycles     int
	executed   map[ActionKind]int
	failed     map[string]*PathError
	duplicates []string

	subs  []chan StatusReport
	subMu sync.RWMutex
}

func NewSyncStatus(watchDir string) *SyncStatus {
	return &SyncStatus{
		state:    StateIdle,
		watchDir: watchDir,
		executed: make(map[ActionKind]int),
		failed:   make(map[string]*PathError),
	}
}

func (s *SyncStatus) State() CoordinatorState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *SyncStatus) SetState(state CoordinatorState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.broadcast()
}

// transition moves from one state to another, and does nothing if the
// current state is not from.
func (s *SyncStatus) transition(from, to CoordinatorState) {
	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.mu.Unlock()
	s.broadcast()
}

// CycleDone records a finished sync cycle.
func (s *SyncStatus) CycleDone(cycleID string, at time.Time, duplicates []string, err error) {
	s.mu.Lock()
	s.cycles++
	s.lastCycle = cycleID
	s.duplicates = duplicates
	if err != nil {
		s.lastError = err.Error()
	} else {
		s.lastError = ""
		s.lastSyncAt = at
	}
	s.mu.Unlock()
	s.broadcast()
}

func (s *SyncStatus) ActionSucceeded(action SyncAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed[action.Kind]++
	delete(s.failed, action.Path)
}

func (s *SyncStatus) ActionFailed(action SyncAction, err error, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pe, ok := s.failed[action.Path]
	if !ok {
		pe = &PathError{}
		s.failed[action.Path] = pe
	}
	pe.Action = action.Kind
	pe.Error = err.Error()
	pe.ErrorCount++
	pe.LastSeen = at
}

// Report copies the status and fills in the store derived fields from view.
func (s *SyncStatus) Report(view StoreView) StatusReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	failed := make(map[string]*PathError, len(s.failed))
	for path, pe := range s.failed {
		cp := *pe
		failed[path] = &cp
	}

	return StatusReport{
		State:           s.state,
		WatchDir:        s.watchDir,
		Files:           len(view.Snapshot),
		LocalModified:   view.LocalModified,
		LastSyncTs:      view.Baseline.LastSyncTimestamp,
		LastSyncAt:      s.lastSyncAt,
		LastCycleID:     s.lastCycle,
		LastError:       s.lastError,
		Cycles:          s.cycles,
		ActionsExecuted: maps.Clone(s.executed),
		Failed:          failed,
		Duplicates:      append([]string(nil), s.duplicates...),
	}
}

// Subscribe returns a channel receiving a report after every state change.
// Slow subscribers miss reports.
func (s *SyncStatus) Subscribe() <-chan StatusReport {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	ch := make(chan StatusReport, statusEventBufferSize)
	s.subs = append(s.subs, ch)
	return ch
}

func (s *SyncStatus) Unsubscribe(ch <-chan StatusReport) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for i, sub := range s.subs {
		if sub == ch {
			close(sub)
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			break
		}
	}
}

func (s *SyncStatus) broadcast() {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	if len(s.subs) == 0 {
		return
	}

	report := s.Report(StoreView{})
	for _, sub := range s.subs {
		select {
		case sub <- report:
		default:
		}
	}
}
