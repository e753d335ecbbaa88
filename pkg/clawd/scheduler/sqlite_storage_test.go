package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jholhewres/clawd/pkg/clawd/store"
)

func TestSQLiteJobStorageRoundTrip(t *testing.T) {
	t.Parallel()
	db, err := store.Open(filepath.Join(t.TempDir(), "clawd.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer db.Close()

	storage := NewSQLiteJobStorage(db)
	now := time.Now().UTC().Truncate(time.Second)
	job := &Job{
		ID:             "nightly",
		Schedule:       "0 2 * * *",
		Command:        "rotate logs",
		Session:        "cron:nightly",
		Enabled:        true,
		TimeoutSeconds: 120,
		CreatedAt:      now,
		LastRunAt:      &now,
		LastError:      "",
		RunCount:       7,
	}
	if err := storage.Save(job); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Save again with updated state: must upsert, not duplicate.
	job.RunCount = 8
	job.LastError = "flaky"
	if err := storage.Save(job); err != nil {
		t.Fatalf("Save (update): %v", err)
	}

	jobs, err := storage.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("LoadAll returned %d jobs, want 1", len(jobs))
	}
	got := jobs[0]
	if got.ID != "nightly" || got.Schedule != "0 2 * * *" || got.Session != "cron:nightly" {
		t.Errorf("identity fields mismatch: %+v", got)
	}
	if !got.Enabled || got.TimeoutSeconds != 120 || got.RunCount != 8 || got.LastError != "flaky" {
		t.Errorf("state fields mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(now) {
		t.Errorf("LastRunAt = %v, want %v", got.LastRunAt, now)
	}
}

func TestSQLiteJobStorageDelete(t *testing.T) {
	t.Parallel()
	db, err := store.Open(filepath.Join(t.TempDir(), "clawd.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer db.Close()

	storage := NewSQLiteJobStorage(db)
	if err := storage.Save(&Job{ID: "gone", Schedule: "@hourly", Command: "x", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := storage.Delete("gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	jobs, err := storage.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("LoadAll after delete = %d jobs, want 0", len(jobs))
	}
}
