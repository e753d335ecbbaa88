// Package subagents – store.go provides durable storage for the run table.
// The snapshot is a versioned JSON document written atomically (temp file +
// rename) so a crash mid-write never corrupts the previous snapshot.
package subagents

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// SnapshotVersion is the current on-disk document version.
const SnapshotVersion = 1

// Snapshot is the persisted run table.
type Snapshot struct {
	Version int                   `json:"version"`
	Runs    map[string]*RunRecord `json:"runs"`
}

// Store is the durable key-value persistence consumed by the registry.
// Implementations must replace the whole snapshot atomically.
type Store interface {
	Save(snap *Snapshot) error
	Load() (*Snapshot, error)
}

// FileStore persists the snapshot as a JSON file on disk.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a file-backed store at the given path, creating the
// parent directory if needed.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Save writes the snapshot to a temporary file and renames it over the
// destination.
func (s *FileStore) Save(snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot. A missing file yields an empty snapshot, not an
// error, so first runs need no special casing.
func (s *FileStore) Load() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Snapshot{Version: SnapshotVersion, Runs: map[string]*RunRecord{}}, nil
		}
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	if snap.Runs == nil {
		snap.Runs = map[string]*RunRecord{}
	}
	return &snap, nil
}
