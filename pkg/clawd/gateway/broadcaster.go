package gateway

import (
	"log/slog"
	"sync"
)

// defaultMaxQueued bounds the pre-connection event queue.
const defaultMaxQueued = 100

// EventOptions tunes per-event delivery behavior.
type EventOptions struct {
	// DropIfSlow skips a connection whose outbound queue is full instead
	// of treating it as a delivery failure. Advisory backpressure hint
	// for high-volume streams (deltas, typing indicators).
	DropIfSlow bool
}

type queuedEvent struct {
	name    string
	payload any
	opts    EventOptions
}

// eventSink is the per-connection delivery target. Satisfied by *Connection;
// narrow so tests can substitute fakes.
type eventSink interface {
	ID() string
	sendEvent(event string, payload any, seq int64, dropIfSlow bool) error
}

// Broadcaster fans named events out to every live control connection.
//
// Events broadcast before any connection has ever attached are held in a
// bounded queue (oldest dropped with a warning) and flushed in original
// order the first time a connection attaches; after that the broadcaster is
// permanently in immediate-delivery mode. Delivery is independent per
// connection: a failing connection is removed from the live set as a side
// effect and never blocks the rest.
type Broadcaster struct {
	logger    *slog.Logger
	maxQueued int

	mu       sync.Mutex
	sinks    map[string]eventSink
	queue    []queuedEvent
	attached bool // true once any connection has ever attached
	seq      int64
}

// NewBroadcaster creates a broadcaster. maxQueued <= 0 uses the default.
func NewBroadcaster(maxQueued int, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if maxQueued <= 0 {
		maxQueued = defaultMaxQueued
	}
	return &Broadcaster{
		logger:    logger.With("component", "broadcaster"),
		maxQueued: maxQueued,
		sinks:     make(map[string]eventSink),
	}
}

// Broadcast delivers the event to every live connection, or queues it when
// no connection has ever attached.
//
// The lock is held across the per-sink sends: each send is a non-blocking
// channel enqueue (the connection's writer goroutine does the I/O), and
// serializing here keeps seq order consistent on every connection.
func (b *Broadcaster) Broadcast(event string, payload any, opts ...EventOptions) {
	var o EventOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		b.queue = append(b.queue, queuedEvent{name: event, payload: payload, opts: o})
		if len(b.queue) > b.maxQueued {
			dropped := b.queue[0]
			b.queue = b.queue[1:]
			b.logger.Warn("event queue full, dropped oldest",
				"dropped", dropped.name,
				"capacity", b.maxQueued,
			)
		}
		return
	}

	b.seq++
	b.deliverLocked(queuedEvent{name: event, payload: payload, opts: o}, b.seq)
}

// deliverLocked sends one event to every sink, pruning the ones that fail.
// Caller holds b.mu.
func (b *Broadcaster) deliverLocked(ev queuedEvent, seq int64) {
	for id, sink := range b.sinks {
		if err := sink.sendEvent(ev.name, ev.payload, seq, ev.opts.DropIfSlow); err != nil {
			delete(b.sinks, id)
			b.logger.Warn("removing connection after failed event delivery",
				"conn", id,
				"event", ev.name,
				"error", err,
			)
			if c, ok := sink.(*Connection); ok {
				go c.Close()
			}
		}
	}
}

// attach registers a live connection. The first attach ever flushes the
// queued events in insertion order and switches permanently to
// immediate-delivery mode.
func (b *Broadcaster) attach(sink eventSink) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sinks[sink.ID()] = sink

	if b.attached {
		return
	}
	b.attached = true
	flush := b.queue
	b.queue = nil
	if len(flush) > 0 {
		b.logger.Info("flushing queued events to first connection", "count", len(flush))
	}
	for _, ev := range flush {
		b.seq++
		b.deliverLocked(ev, b.seq)
	}
}

// detach removes a connection from the live set.
func (b *Broadcaster) detach(sink eventSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sinks, sink.ID())
}

// ConnectionCount returns the number of live connections.
func (b *Broadcaster) ConnectionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sinks)
}
