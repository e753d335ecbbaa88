// Package queue implements bounded-concurrency FIFO admission lanes.
//
// A Lane is a single work queue with a maximum concurrency (1 = strictly
// sequential). The Manager composes one lane per session with a shared
// global lane so that every unit of work is admitted by both: at most one
// task per session runs concurrently, and at most N tasks run system-wide,
// no matter how many sessions are active.
//
// Caller timeouts abandon only the caller's wait — the underlying task
// always runs to completion so ordering for later tasks in the same lane
// stays intact.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrLaneClosed is resolved to callers whose work was still queued when the
// lane was cleaned up.
var ErrLaneClosed = errors.New("lane closed")

// Task is a unit of work admitted through a lane. The context is the lane's
// lifecycle context, not the enqueuing caller's — a caller abandoning its
// wait does not cancel the task.
type Task func(ctx context.Context) error

// Lane is a FIFO admission queue with bounded concurrency.
//
// Admission is driven by a single worker goroutine that pulls the next
// pending item, blocks until a concurrency slot frees up, and launches it.
// The worker stops itself when the queue drains and is restarted lazily on
// the next enqueue — an explicit idle/running flag, no polling.
type Lane struct {
	key           string
	maxConcurrent int
	logger        *slog.Logger

	// slots holds the admission tokens; capacity == maxConcurrent.
	slots chan struct{}

	// done is closed when the lane is closed, releasing a worker blocked
	// on slot acquisition.
	done chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending []*item
	active  int
	running bool // worker state: false = idle, true = admission loop live
	closed  bool
}

type item struct {
	task Task

	// result is buffered so completion never blocks on a caller that
	// abandoned its wait.
	result chan error
}

// NewLane creates a lane. maxConcurrent values below 1 are clamped to 1.
func NewLane(key string, maxConcurrent int, logger *slog.Logger) *Lane {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Lane{
		key:           key,
		maxConcurrent: maxConcurrent,
		logger:        logger.With("component", "lane", "lane", key),
		slots:         make(chan struct{}, maxConcurrent),
		done:          make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Enqueue appends a task to the lane and returns a channel that receives the
// task's result exactly once. The channel is buffered: the task completes and
// the lane moves on whether or not the caller is still listening.
func (l *Lane) Enqueue(task Task) <-chan error {
	it := &item{task: task, result: make(chan error, 1)}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		it.result <- ErrLaneClosed
		return it.result
	}
	l.pending = append(l.pending, it)
	if !l.running {
		l.running = true
		go l.worker()
	}
	l.mu.Unlock()

	return it.result
}

// Run enqueues a task and blocks until it completes, ignoring any deadline.
// Used for inner admissions (session lane → global lane) where the caller's
// timeout is raced at the outer level only.
func (l *Lane) Run(task Task) error {
	return <-l.Enqueue(task)
}

// worker is the admission loop: pull the next item in FIFO order, wait for a
// concurrency slot, launch it. Exits when the queue drains or the lane closes.
func (l *Lane) worker() {
	for {
		l.mu.Lock()
		if l.closed || len(l.pending) == 0 {
			l.running = false
			l.mu.Unlock()
			return
		}
		it := l.pending[0]
		l.pending = l.pending[1:]
		l.mu.Unlock()

		// Block until a slot frees up. This parks only this lane's
		// worker; other lanes admit independently.
		select {
		case l.slots <- struct{}{}:
		case <-l.done:
			it.result <- ErrLaneClosed
			continue
		}

		l.mu.Lock()
		l.active++
		l.mu.Unlock()

		go l.execute(it)
	}
}

func (l *Lane) execute(it *item) {
	err := runTask(l.ctx, it.task)
	if err != nil {
		l.logger.Debug("lane task failed", "error", err)
	}

	l.mu.Lock()
	l.active--
	l.mu.Unlock()
	<-l.slots

	it.result <- err
}

// runTask invokes the task with panic containment so one bad task never
// kills the lane's admission loop.
func runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return task(ctx)
}

// Close stops the lane and discards queued work. Pending callers resolve
// with ErrLaneClosed; tasks already executing run to completion.
func (l *Lane) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	dropped := l.pending
	l.pending = nil
	l.mu.Unlock()

	close(l.done)
	l.cancel()

	for _, it := range dropped {
		it.result <- ErrLaneClosed
	}
	if len(dropped) > 0 {
		l.logger.Debug("discarded queued tasks on close", "count", len(dropped))
	}
}

// Stats returns the current queue depth and active count.
func (l *Lane) Stats() (pending, active int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending), l.active
}
