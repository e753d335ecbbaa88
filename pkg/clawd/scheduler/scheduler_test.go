package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestScheduler(t *testing.T, handler JobHandler) *Scheduler {
	t.Helper()
	s := New(DefaultConfig(), nil, handler, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func TestAddValidation(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, nil)

	tests := []struct {
		name    string
		job     *Job
		wantErr string
	}{
		{"missing schedule", &Job{Command: "do it"}, "schedule is required"},
		{"missing command", &Job{Schedule: "@hourly"}, "command is required"},
		{"bad cron expression", &Job{Schedule: "not a cron", Command: "x", Enabled: true}, "invalid schedule"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Add(tt.job)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Add() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestAddGeneratesIDAndRejectsDuplicate(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, nil)

	job := &Job{Schedule: "@hourly", Command: "summarize inbox", Enabled: true}
	if err := s.Add(job); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected generated job ID")
	}
	if job.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	dup := &Job{ID: job.ID, Schedule: "@daily", Command: "other"}
	if err := s.Add(dup); err == nil {
		t.Error("expected error adding duplicate job ID")
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, nil)

	job := &Job{ID: "job1", Schedule: "@hourly", Command: "x", Enabled: true}
	if err := s.Add(job); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Remove("job1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := s.Get("job1"); ok {
		t.Error("job still present after Remove")
	}
	if err := s.Remove("job1"); err == nil {
		t.Error("expected error removing unknown job")
	}
}

func TestExecuteRecordsOutcome(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	s := newTestScheduler(t, func(_ context.Context, job *Job) (string, error) {
		calls.Add(1)
		if job.Command == "fail" {
			return "", errors.New("agent unavailable")
		}
		return "done", nil
	})

	good := &Job{ID: "good", Schedule: "@hourly", Command: "report"}
	bad := &Job{ID: "bad", Schedule: "@hourly", Command: "fail"}
	for _, j := range []*Job{good, bad} {
		if err := s.Add(j); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	s.execute(good)
	s.execute(bad)

	if got := calls.Load(); got != 2 {
		t.Fatalf("handler calls = %d, want 2", got)
	}
	if good.LastError != "" {
		t.Errorf("good.LastError = %q, want empty", good.LastError)
	}
	if good.RunCount != 1 || good.LastRunAt == nil {
		t.Errorf("good run bookkeeping not updated: count=%d lastRun=%v", good.RunCount, good.LastRunAt)
	}
	if bad.LastError != "agent unavailable" {
		t.Errorf("bad.LastError = %q", bad.LastError)
	}
}

func TestExecuteSkipsRecentRun(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	s := newTestScheduler(t, func(context.Context, *Job) (string, error) {
		calls.Add(1)
		return "", nil
	})

	job := &Job{ID: "j", Schedule: "@hourly", Command: "x"}
	if err := s.Add(job); err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.execute(job)
	s.execute(job) // same-second refire must be ignored

	if got := calls.Load(); got != 1 {
		t.Errorf("handler calls = %d, want 1 (refire guard)", got)
	}
}

func TestExecutePanicContained(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, func(context.Context, *Job) (string, error) {
		panic("boom")
	})

	job := &Job{ID: "p", Schedule: "@hourly", Command: "x"}
	if err := s.Add(job); err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.execute(job) // must not propagate the panic
	if !strings.Contains(job.LastError, "panic") {
		t.Errorf("LastError = %q, want panic recorded", job.LastError)
	}
	if s.running["p"] {
		t.Error("running flag leaked after panic")
	}
}

func TestExecuteRespectsJobTimeout(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, JobTimeoutSeconds: 1}, nil, func(ctx context.Context, _ *Job) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
			return "too late", nil
		}
	}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)

	job := &Job{ID: "slow", Schedule: "@hourly", Command: "x"}
	if err := s.Add(job); err != nil {
		t.Fatalf("Add: %v", err)
	}

	start := time.Now()
	s.execute(job)
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("execute took %v, timeout not applied", elapsed)
	}
	if !strings.Contains(job.LastError, "context deadline exceeded") {
		t.Errorf("LastError = %q, want deadline error", job.LastError)
	}
}
