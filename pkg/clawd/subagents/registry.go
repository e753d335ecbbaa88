// Package subagents tracks asynchronously spawned units of work ("runs")
// delegated to child agent sessions. Callers register a run, wait on it with
// a timeout, and mark it started/ended; the registry persists its table on
// every mutation and resumes outstanding runs after a restart.
package subagents

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRunNotFound is returned when waiting on an unknown run ID.
	ErrRunNotFound = errors.New("subagent run not found")

	// ErrWaitTimeout is returned to the caller whose wait expired. As a
	// side effect the run is marked ended with a timeout outcome so later
	// waiters observe it immediately instead of waiting again.
	ErrWaitTimeout = errors.New("subagent wait timed out")
)

// CleanupPolicy controls what happens to the child session once a run ends.
type CleanupPolicy string

const (
	CleanupDelete CleanupPolicy = "delete"
	CleanupKeep   CleanupPolicy = "keep"
)

// Outcome is the terminal result of a run.
type Outcome struct {
	// Status is "ok", "error", or "timeout".
	Status string `json:"status"`

	// Message is the run's final text, if any.
	Message string `json:"message,omitempty"`

	// Error describes the failure for non-ok statuses.
	Error string `json:"error,omitempty"`
}

// RunRecord is one asynchronously spawned unit of work. A record with
// EndedAt set is terminal and immutable except for the CleanupHandled flag.
type RunRecord struct {
	ID                  string        `json:"id"`
	ChildSessionKey     string        `json:"child_session_key"`
	RequesterSessionKey string        `json:"requester_session_key"`
	Task                string        `json:"task"`
	Cleanup             CleanupPolicy `json:"cleanup"`
	CreatedAt           time.Time     `json:"created_at"`
	StartedAt           *time.Time    `json:"started_at,omitempty"`
	EndedAt             *time.Time    `json:"ended_at,omitempty"`
	Outcome             *Outcome      `json:"outcome,omitempty"`
	CleanupHandled      bool          `json:"cleanup_handled,omitempty"`
}

// Ended reports whether the record is terminal.
func (r *RunRecord) Ended() bool { return r.EndedAt != nil }

func (r *RunRecord) clone() *RunRecord {
	c := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		c.EndedAt = &t
	}
	if r.Outcome != nil {
		o := *r.Outcome
		c.Outcome = &o
	}
	return &c
}

// AnnounceFunc is called (on its own goroutine) when a run ends, so the
// requester session can be notified push-style instead of polling.
type AnnounceFunc func(run *RunRecord)

// ResumeFunc handles a run reloaded from the snapshot on restart.
type ResumeFunc func(run *RunRecord)

// Registry is the subagent completion registry. All table mutations happen
// under one mutex held only for the in-memory change; persistence runs
// outside the lock so a slow disk never blocks unrelated reads.
type Registry struct {
	store  Store
	logger *slog.Logger

	mu       sync.Mutex
	runs     map[string]*RunRecord
	waiters  map[string]chan struct{} // run ID → broadcast wake, closed once on end
	restored bool

	announce        AnnounceFunc
	onResumeWait    ResumeFunc
	onResumeCleanup ResumeFunc
}

// NewRegistry creates a registry backed by the given store. A nil store
// keeps the table in memory only (lost on restart).
func NewRegistry(store Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:   store,
		logger:  logger.With("component", "subagents"),
		runs:    make(map[string]*RunRecord),
		waiters: make(map[string]chan struct{}),
	}
}

// SetAnnounceFunc registers the completion announcement callback.
func (g *Registry) SetAnnounceFunc(fn AnnounceFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.announce = fn
}

// SetResumeHandlers registers the restart-recovery paths: wait for runs that
// were still in flight, cleanup for runs that ended but were never cleaned up.
func (g *Registry) SetResumeHandlers(wait, cleanup ResumeFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onResumeWait = wait
	g.onResumeCleanup = cleanup
}

// Register creates and persists a new run record with a fresh unique ID.
func (g *Registry) Register(childSessionKey, requesterSessionKey, task string, cleanup CleanupPolicy) *RunRecord {
	if cleanup == "" {
		cleanup = CleanupKeep
	}
	rec := &RunRecord{
		ID:                  uuid.New().String()[:8],
		ChildSessionKey:     childSessionKey,
		RequesterSessionKey: requesterSessionKey,
		Task:                task,
		Cleanup:             cleanup,
		CreatedAt:           time.Now().UTC(),
	}

	g.mu.Lock()
	g.runs[rec.ID] = rec
	out := rec.clone()
	g.mu.Unlock()

	g.persist()
	g.logger.Info("subagent run registered",
		"run_id", rec.ID,
		"child", childSessionKey,
		"requester", requesterSessionKey,
		"cleanup", cleanup,
	)
	return out
}

// Get returns a copy of a run record.
func (g *Registry) Get(runID string) (*RunRecord, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.runs[runID]
	if !ok {
		return nil, false
	}
	return rec.clone(), true
}

// List returns copies of all run records.
func (g *Registry) List() []*RunRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*RunRecord, 0, len(g.runs))
	for _, rec := range g.runs {
		out = append(out, rec.clone())
	}
	return out
}

// Wait blocks until the run ends or the timeout elapses.
//
// If the run has already ended it returns the outcome immediately. Otherwise
// the caller joins the run's broadcast wake channel: every waiter for the
// same ID observes the single MarkEnded. A timed-out wait marks the run
// ended with a timeout outcome, so a later waiter on the same ID returns
// immediately rather than hanging again.
func (g *Registry) Wait(runID string, timeout time.Duration) (*Outcome, error) {
	g.mu.Lock()
	rec, ok := g.runs[runID]
	if !ok {
		g.mu.Unlock()
		return nil, ErrRunNotFound
	}
	if rec.Ended() {
		out := *rec.Outcome
		g.mu.Unlock()
		return &out, nil
	}
	wake, ok := g.waiters[runID]
	if !ok {
		wake = make(chan struct{})
		g.waiters[runID] = wake
	}
	g.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-wake:
		g.mu.Lock()
		var out *Outcome
		// The record may already be gone if a delete-policy cleanup ran
		// between the wake and this read.
		if rec, ok := g.runs[runID]; ok && rec.Outcome != nil {
			o := *rec.Outcome
			out = &o
		}
		g.mu.Unlock()
		if out == nil {
			return nil, ErrRunNotFound
		}
		return out, nil
	case <-timer.C:
		g.MarkEnded(runID, Outcome{Status: "timeout", Error: "wait timed out"})
		return nil, ErrWaitTimeout
	}
}

// MarkStarted records the run's execution start time.
func (g *Registry) MarkStarted(runID string) error {
	g.mu.Lock()
	rec, ok := g.runs[runID]
	if !ok {
		g.mu.Unlock()
		return ErrRunNotFound
	}
	if rec.StartedAt == nil && !rec.Ended() {
		now := time.Now().UTC()
		rec.StartedAt = &now
	}
	g.mu.Unlock()

	g.persist()
	return nil
}

// MarkEnded records the terminal outcome and wakes every waiter. A second
// call for an already-ended run is a no-op: terminal records are immutable.
func (g *Registry) MarkEnded(runID string, outcome Outcome) error {
	g.mu.Lock()
	rec, ok := g.runs[runID]
	if !ok {
		g.mu.Unlock()
		return ErrRunNotFound
	}
	if rec.Ended() {
		g.mu.Unlock()
		return nil
	}
	now := time.Now().UTC()
	rec.EndedAt = &now
	rec.Outcome = &outcome

	wake, hasWaiters := g.waiters[runID]
	delete(g.waiters, runID)
	announce := g.announce
	snapshot := rec.clone()
	g.mu.Unlock()

	if hasWaiters {
		close(wake)
	}
	g.persist()
	g.logger.Info("subagent run ended",
		"run_id", runID,
		"status", outcome.Status,
		"duration", now.Sub(snapshot.CreatedAt),
	)
	if announce != nil {
		go announce(snapshot)
	}
	return nil
}

// MarkCleanupCompleted flags the run's cleanup as handled. If the cleanup
// policy is delete, the record itself is dropped from the table.
func (g *Registry) MarkCleanupCompleted(runID string) error {
	g.mu.Lock()
	rec, ok := g.runs[runID]
	if !ok {
		g.mu.Unlock()
		return ErrRunNotFound
	}
	rec.CleanupHandled = true
	if rec.Cleanup == CleanupDelete && rec.Ended() {
		delete(g.runs, runID)
	}
	g.mu.Unlock()

	g.persist()
	return nil
}

// RestoreOnce loads the persisted table and dispatches recovery for every
// record that still needs attention. Idempotent: a no-op after the first
// successful call, and safe when no snapshot exists yet.
func (g *Registry) RestoreOnce() error {
	g.mu.Lock()
	if g.restored || g.store == nil {
		g.restored = true
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	snap, err := g.store.Load()
	if err != nil {
		return err
	}

	var resumeWait, resumeCleanup []*RunRecord
	g.mu.Lock()
	if g.restored {
		g.mu.Unlock()
		return nil
	}
	g.restored = true
	for id, rec := range snap.Runs {
		g.runs[id] = rec
		if rec.CleanupHandled {
			continue
		}
		if rec.Ended() {
			resumeCleanup = append(resumeCleanup, rec.clone())
		} else {
			resumeWait = append(resumeWait, rec.clone())
		}
	}
	waitFn, cleanupFn := g.onResumeWait, g.onResumeCleanup
	g.mu.Unlock()

	if len(snap.Runs) > 0 {
		g.logger.Info("subagent runs restored",
			"total", len(snap.Runs),
			"resume_wait", len(resumeWait),
			"resume_cleanup", len(resumeCleanup),
		)
	}
	if waitFn != nil {
		for _, rec := range resumeWait {
			waitFn(rec)
		}
	}
	if cleanupFn != nil {
		for _, rec := range resumeCleanup {
			cleanupFn(rec)
		}
	}
	return nil
}

// persist writes the full table to the store. Best-effort: failures are
// logged and the in-memory operation stands; a restart may lose the most
// recent unwritten mutation.
func (g *Registry) persist() {
	if g.store == nil {
		return
	}

	g.mu.Lock()
	snap := &Snapshot{Version: SnapshotVersion, Runs: make(map[string]*RunRecord, len(g.runs))}
	for id, rec := range g.runs {
		snap.Runs[id] = rec.clone()
	}
	g.mu.Unlock()

	if err := g.store.Save(snap); err != nil {
		g.logger.Warn("failed to persist subagent runs", "error", err)
	}
}
