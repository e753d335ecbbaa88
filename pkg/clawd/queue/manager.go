package queue

import (
	"context"
	"log/slog"
	"sync"
)

// Config holds lane concurrency settings.
type Config struct {
	// SessionConcurrency is the max concurrent tasks per session lane.
	// Default 1 — strictly sequential per conversation.
	SessionConcurrency int `yaml:"session_concurrency"`

	// GlobalConcurrency is the max concurrent tasks across all sessions.
	// Default 4.
	GlobalConcurrency int `yaml:"global_concurrency"`
}

// DefaultConfig returns safe defaults.
func DefaultConfig() Config {
	return Config{
		SessionConcurrency: 1,
		GlobalConcurrency:  4,
	}
}

// Manager owns one lane per session plus the shared global lane, and
// composes them so every session task is admitted by both.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	global *Lane

	mu    sync.Mutex
	lanes map[string]*Lane
}

// NewManager creates a lane manager. Zero config values get defaults.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SessionConcurrency < 1 {
		cfg.SessionConcurrency = 1
	}
	if cfg.GlobalConcurrency < 1 {
		cfg.GlobalConcurrency = DefaultConfig().GlobalConcurrency
	}
	return &Manager{
		cfg:    cfg,
		logger: logger.With("component", "queue"),
		global: NewLane("global", cfg.GlobalConcurrency, logger),
		lanes:  make(map[string]*Lane),
	}
}

// sessionLane returns the lane for a session key, creating it lazily.
func (m *Manager) sessionLane(key string) *Lane {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.lanes[key]; ok {
		return l
	}
	l := NewLane(key, m.cfg.SessionConcurrency, m.logger)
	m.lanes[key] = l
	return l
}

// EnqueueSession admits a task into the session's lane and, once that lane
// admits it, additionally into the shared global lane before it runs. The
// two-level admission bounds both per-session and system-wide concurrency.
//
// The caller's wait is raced against ctx: on expiry the caller gets ctx.Err()
// but the task keeps its place in line and runs to completion.
func (m *Manager) EnqueueSession(ctx context.Context, key string, task Task) error {
	lane := m.sessionLane(key)
	result := lane.Enqueue(func(context.Context) error {
		// Holding the session slot while waiting for a global slot is
		// the invariant: the session stays serialized even when the
		// global lane is saturated.
		return m.global.Run(task)
	})
	return m.wait(ctx, result)
}

// EnqueueGlobal admits a task into the global lane only, for work with no
// session affinity.
func (m *Manager) EnqueueGlobal(ctx context.Context, task Task) error {
	return m.wait(ctx, m.global.Enqueue(task))
}

func (m *Manager) wait(ctx context.Context, result <-chan error) error {
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		m.logger.Debug("caller abandoned lane wait", "reason", ctx.Err())
		return ctx.Err()
	}
}

// CleanupSession stops and discards a session's lane. Queued-but-unstarted
// callers resolve with ErrLaneClosed; an executing task finishes on its own.
func (m *Manager) CleanupSession(key string) {
	m.mu.Lock()
	lane, ok := m.lanes[key]
	delete(m.lanes, key)
	m.mu.Unlock()

	if ok {
		lane.Close()
		m.logger.Info("session lane cleaned up", "session", key)
	}
}

// LaneStats describes one lane's load for status reporting.
type LaneStats struct {
	Key     string `json:"key"`
	Pending int    `json:"pending"`
	Active  int    `json:"active"`
}

// Stats returns the global lane stats followed by every session lane.
func (m *Manager) Stats() []LaneStats {
	pending, active := m.global.Stats()
	out := []LaneStats{{Key: "global", Pending: pending, Active: active}}

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, lane := range m.lanes {
		p, a := lane.Stats()
		out = append(out, LaneStats{Key: key, Pending: p, Active: a})
	}
	return out
}

// Close shuts down every lane, global last.
func (m *Manager) Close() {
	m.mu.Lock()
	lanes := make([]*Lane, 0, len(m.lanes))
	for _, l := range m.lanes {
		lanes = append(lanes, l)
	}
	m.lanes = make(map[string]*Lane)
	m.mu.Unlock()

	for _, l := range lanes {
		l.Close()
	}
	m.global.Close()
}
