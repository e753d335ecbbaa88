package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestFileJobStorageRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "jobs.json")
	storage, err := NewFileJobStorage(path)
	if err != nil {
		t.Fatalf("NewFileJobStorage: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	job := &Job{
		ID:        "morning-brief",
		Schedule:  "0 8 * * *",
		Command:   "summarize overnight messages",
		Session:   "telegram:12345",
		Enabled:   true,
		CreatedAt: now,
		RunCount:  3,
		LastRunAt: &now,
		LastError: "rate limited",
	}
	if err := storage.Save(job); err != nil {
		t.Fatalf("Save: %v", err)
	}

	jobs, err := storage.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("LoadAll returned %d jobs, want 1", len(jobs))
	}
	got := jobs[0]
	if got.ID != job.ID || got.Schedule != job.Schedule || got.Command != job.Command ||
		got.Session != job.Session || got.RunCount != 3 || got.LastError != "rate limited" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(now) {
		t.Errorf("LastRunAt = %v, want %v", got.LastRunAt, now)
	}
}

func TestFileJobStorageDelete(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "jobs.json")
	storage, err := NewFileJobStorage(path)
	if err != nil {
		t.Fatalf("NewFileJobStorage: %v", err)
	}

	for _, id := range []string{"a", "b"} {
		if err := storage.Save(&Job{ID: id, Schedule: "@hourly", Command: "x", CreatedAt: time.Now()}); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}
	if err := storage.Delete("a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	jobs, err := storage.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "b" {
		t.Errorf("after delete got %d jobs, want just %q", len(jobs), "b")
	}
}

func TestFileJobStorageMissingFile(t *testing.T) {
	t.Parallel()
	storage, err := NewFileJobStorage(filepath.Join(t.TempDir(), "never-written.json"))
	if err != nil {
		t.Fatalf("NewFileJobStorage: %v", err)
	}
	jobs, err := storage.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("LoadAll on missing file = %d jobs, want 0", len(jobs))
	}
}

func TestSchedulerLoadsPersistedJobsOnStart(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "jobs.json")
	storage, err := NewFileJobStorage(path)
	if err != nil {
		t.Fatalf("NewFileJobStorage: %v", err)
	}
	if err := storage.Save(&Job{ID: "persisted", Schedule: "@daily", Command: "backup", Enabled: true, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	s := New(DefaultConfig(), storage, nil, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if _, ok := s.Get("persisted"); !ok {
		t.Error("persisted job not loaded on Start")
	}
}
