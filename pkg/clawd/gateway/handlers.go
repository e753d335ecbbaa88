// Package gateway – handlers.go implements the built-in control methods.
// The business-logic layer builds the final method map; this file covers the
// operations backed by components that live in this repository (lanes,
// subagent runs, cron jobs).
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jholhewres/clawd/pkg/clawd/queue"
	"github.com/jholhewres/clawd/pkg/clawd/scheduler"
	"github.com/jholhewres/clawd/pkg/clawd/sessions"
	"github.com/jholhewres/clawd/pkg/clawd/subagents"
)

// Delivery sends text to a resolved session (channel + target). Implemented
// by the channel layer; a gateway-only deployment can back it with an event
// broadcast to the web chat.
type Delivery interface {
	Deliver(ctx context.Context, sessionKey, text string) error
}

// Handlers bundles the components behind the built-in methods.
type Handlers struct {
	Queue     *queue.Manager
	Runs      *subagents.Registry
	Scheduler *scheduler.Scheduler
	Delivery  Delivery
	Logger    *slog.Logger
}

// Methods builds the method table. Nil components simply leave their
// methods unregistered, so callers get METHOD_NOT_FOUND instead of panics.
func (h *Handlers) Methods() map[string]HandlerFunc {
	if h.Logger == nil {
		h.Logger = slog.Default()
	}
	m := map[string]HandlerFunc{
		methodPing: h.ping,
	}
	if h.Queue != nil {
		m["status"] = h.status
		m["sessions.reset"] = h.sessionsReset
		if h.Delivery != nil {
			m["send"] = h.send
		}
	}
	if h.Runs != nil {
		m["subagents.register"] = h.subagentsRegister
		m["subagents.wait"] = h.subagentsWait
		m["subagents.list"] = h.subagentsList
	}
	if h.Scheduler != nil {
		m["cron.list"] = h.cronList
		m["cron.add"] = h.cronAdd
		m["cron.remove"] = h.cronRemove
	}
	return m
}

func (h *Handlers) ping(_ context.Context, _ *Connection, _ json.RawMessage) (any, error) {
	return map[string]any{"pong": true, "ts": time.Now().UnixMilli()}, nil
}

func (h *Handlers) status(_ context.Context, _ *Connection, _ json.RawMessage) (any, error) {
	payload := map[string]any{
		"lanes": h.Queue.Stats(),
	}
	if h.Runs != nil {
		runs := h.Runs.List()
		active := 0
		for _, r := range runs {
			if !r.Ended() {
				active++
			}
		}
		payload["subagents"] = map[string]any{"total": len(runs), "active": active}
	}
	if h.Scheduler != nil {
		payload["cron_jobs"] = len(h.Scheduler.List())
	}
	return payload, nil
}

type sendParams struct {
	Session   string `json:"session"`
	Text      string `json:"text"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// send admits a delivery into the session's lane so it serializes with any
// agent work on the same conversation.
func (h *Handlers) send(ctx context.Context, _ *Connection, raw json.RawMessage) (any, error) {
	var p sendParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, Errorf(ErrCodeInvalidParams, "invalid send params: %v", err)
	}
	key := sessions.Parse(p.Session)
	if key.IsZero() || p.Text == "" {
		return nil, Errorf(ErrCodeInvalidParams, "session and text are required")
	}

	if p.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(p.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	err := h.Queue.EnqueueSession(ctx, key.String(), func(taskCtx context.Context) error {
		return h.Delivery.Deliver(taskCtx, key.String(), p.Text)
	})
	switch {
	case err == nil:
		return map[string]any{"delivered": true}, nil
	case errors.Is(err, context.DeadlineExceeded):
		// The delivery still runs; only this caller's wait expired.
		return map[string]any{"delivered": false, "queued": true}, nil
	case errors.Is(err, queue.ErrLaneClosed):
		return nil, Errorf(ErrCodeUnavailable, "session lane closed")
	default:
		return nil, err
	}
}

type sessionParams struct {
	Session string `json:"session"`
}

func (h *Handlers) sessionsReset(_ context.Context, _ *Connection, raw json.RawMessage) (any, error) {
	var p sessionParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, Errorf(ErrCodeInvalidParams, "invalid params: %v", err)
	}
	key := sessions.Parse(p.Session)
	if key.IsZero() {
		return nil, Errorf(ErrCodeInvalidParams, "session is required")
	}
	h.Queue.CleanupSession(key.String())
	return map[string]any{"reset": true}, nil
}

type subagentRegisterParams struct {
	ChildSession     string `json:"childSession"`
	RequesterSession string `json:"requesterSession"`
	Task             string `json:"task"`
	Cleanup          string `json:"cleanup,omitempty"`
}

func (h *Handlers) subagentsRegister(_ context.Context, _ *Connection, raw json.RawMessage) (any, error) {
	var p subagentRegisterParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, Errorf(ErrCodeInvalidParams, "invalid params: %v", err)
	}
	child := sessions.Parse(p.ChildSession)
	if child.IsZero() || p.Task == "" {
		return nil, Errorf(ErrCodeInvalidParams, "childSession and task are required")
	}
	rec := h.Runs.Register(child.String(), p.RequesterSession, p.Task, subagents.CleanupPolicy(p.Cleanup))
	return rec, nil
}

type subagentWaitParams struct {
	RunID     string `json:"runId"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

func (h *Handlers) subagentsWait(_ context.Context, _ *Connection, raw json.RawMessage) (any, error) {
	var p subagentWaitParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, Errorf(ErrCodeInvalidParams, "invalid params: %v", err)
	}
	timeout := 30 * time.Second
	if p.TimeoutMs > 0 {
		timeout = time.Duration(p.TimeoutMs) * time.Millisecond
	}

	outcome, err := h.Runs.Wait(p.RunID, timeout)
	switch {
	case err == nil:
		return map[string]any{"success": true, "outcome": outcome}, nil
	case errors.Is(err, subagents.ErrWaitTimeout):
		return map[string]any{"success": false, "timeout": true}, nil
	case errors.Is(err, subagents.ErrRunNotFound):
		return nil, Errorf(ErrCodeInvalidParams, "unknown run %q", p.RunID)
	default:
		return nil, err
	}
}

func (h *Handlers) subagentsList(_ context.Context, _ *Connection, _ json.RawMessage) (any, error) {
	return map[string]any{"runs": h.Runs.List()}, nil
}

func (h *Handlers) cronList(_ context.Context, _ *Connection, _ json.RawMessage) (any, error) {
	return map[string]any{"jobs": h.Scheduler.List()}, nil
}

type cronAddParams struct {
	ID       string `json:"id,omitempty"`
	Schedule string `json:"schedule"`
	Command  string `json:"command"`
	Session  string `json:"session,omitempty"`
}

func (h *Handlers) cronAdd(_ context.Context, _ *Connection, raw json.RawMessage) (any, error) {
	var p cronAddParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, Errorf(ErrCodeInvalidParams, "invalid params: %v", err)
	}
	job := &scheduler.Job{
		ID:       p.ID,
		Schedule: p.Schedule,
		Command:  p.Command,
		Session:  p.Session,
		Enabled:  true,
	}
	if err := h.Scheduler.Add(job); err != nil {
		return nil, Errorf(ErrCodeInvalidParams, "%v", err)
	}
	return job, nil
}

type cronRemoveParams struct {
	ID string `json:"id"`
}

func (h *Handlers) cronRemove(_ context.Context, _ *Connection, raw json.RawMessage) (any, error) {
	var p cronRemoveParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, Errorf(ErrCodeInvalidParams, "invalid params: %v", err)
	}
	if err := h.Scheduler.Remove(p.ID); err != nil {
		return nil, Errorf(ErrCodeInvalidParams, "%v", err)
	}
	return map[string]any{"removed": true}, nil
}
