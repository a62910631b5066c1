package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore snapshots the job set to a JSON file so jobs survive
// restarts. Writes go through a temp file and rename to avoid leaving
// a torn snapshot behind.
type FileStore struct {
	path string
}

// NewFileStore creates a store writing to the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save writes the full job set.
func (fs *FileStore) Save(jobs []*Job) error {
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode jobs: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(fs.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}

	return nil
}

// Load reads the persisted job set. A missing file is an empty set.
func (fs *FileStore) Load() ([]*Job, error) {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var jobs []*Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	return jobs, nil
}
