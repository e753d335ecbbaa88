package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jholhewres/clawd/pkg/clawd/queue"
	"github.com/jholhewres/clawd/pkg/clawd/subagents"
)

type recordingDelivery struct {
	mu   sync.Mutex
	sent []string
}

func (d *recordingDelivery) Deliver(_ context.Context, sessionKey, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sessionKey+"|"+text)
	return nil
}

func newTestHandlers(t *testing.T) (*Handlers, *recordingDelivery) {
	t.Helper()
	mgr := queue.NewManager(queue.DefaultConfig(), nil)
	t.Cleanup(mgr.Close)

	store, err := subagents.NewFileStore(filepath.Join(t.TempDir(), "runs.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	reg := subagents.NewRegistry(store, nil)

	delivery := &recordingDelivery{}
	h := &Handlers{Queue: mgr, Runs: reg, Delivery: delivery}
	return h, delivery
}

func call(t *testing.T, h HandlerFunc, params any) (any, error) {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return h(context.Background(), nil, raw)
}

func TestMethodsOmitMissingComponents(t *testing.T) {
	t.Parallel()
	h := &Handlers{} // nothing wired
	m := h.Methods()
	if _, ok := m["ping"]; !ok {
		t.Error("ping must always be present")
	}
	for _, name := range []string{"send", "status", "subagents.wait", "cron.add"} {
		if _, ok := m[name]; ok {
			t.Errorf("method %q registered without its component", name)
		}
	}
}

func TestSendDeliversThroughLane(t *testing.T) {
	t.Parallel()
	h, delivery := newTestHandlers(t)
	methods := h.Methods()

	res, err := call(t, methods["send"], sendParams{Session: "telegram:42", Text: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	payload := res.(map[string]any)
	if payload["delivered"] != true {
		t.Errorf("payload = %v", payload)
	}

	delivery.mu.Lock()
	defer delivery.mu.Unlock()
	if len(delivery.sent) != 1 || delivery.sent[0] != "telegram:42|hello" {
		t.Errorf("sent = %v", delivery.sent)
	}
}

func TestSendRejectsEmptyParams(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandlers(t)
	methods := h.Methods()

	_, err := call(t, methods["send"], sendParams{Session: "", Text: ""})
	var me *MethodError
	if !errors.As(err, &me) || me.Code != ErrCodeInvalidParams {
		t.Errorf("err = %v, want INVALID_PARAMS", err)
	}
}

func TestSubagentRegisterWaitFlow(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandlers(t)
	methods := h.Methods()

	res, err := call(t, methods["subagents.register"], subagentRegisterParams{
		ChildSession:     "subagent:r1",
		RequesterSession: "telegram:42",
		Task:             "research the weather",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	rec := res.(*subagents.RunRecord)
	if rec.ID == "" {
		t.Fatal("expected run ID")
	}

	h.Runs.MarkEnded(rec.ID, subagents.Outcome{Status: "ok", Message: "sunny"})

	res, err = call(t, methods["subagents.wait"], subagentWaitParams{RunID: rec.ID, TimeoutMs: 1000})
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	payload := res.(map[string]any)
	if payload["success"] != true {
		t.Errorf("wait payload = %v", payload)
	}
	outcome := payload["outcome"].(*subagents.Outcome)
	if outcome.Status != "ok" || outcome.Message != "sunny" {
		t.Errorf("outcome = %+v", outcome)
	}
}

func TestSubagentWaitUnknownRun(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandlers(t)
	methods := h.Methods()

	_, err := call(t, methods["subagents.wait"], subagentWaitParams{RunID: "nope"})
	var me *MethodError
	if !errors.As(err, &me) || me.Code != ErrCodeInvalidParams {
		t.Errorf("err = %v, want INVALID_PARAMS", err)
	}
}

func TestStatusReportsComponents(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandlers(t)
	methods := h.Methods()

	res, err := call(t, methods["status"], nil)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	payload := res.(map[string]any)
	if _, ok := payload["lanes"]; !ok {
		t.Error("status missing lanes")
	}
	if _, ok := payload["subagents"]; !ok {
		t.Error("status missing subagents")
	}
}
