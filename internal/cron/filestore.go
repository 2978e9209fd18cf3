package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileJobStore persists registered jobs to a single JSON index file,
// the same read-or-create/corrupt-file-backup/indented-write idiom
// internal/policy.ToggleStore uses for toggles.json (itself grounded
// on internal/marketplace/store.go's loadIndex/saveIndex pair). It
// gives cmd/conduit a JobStore that survives a process restart without
// requiring a database, filling the gap the Scheduler's JobStore
// interface otherwise leaves unimplemented in-process.
type FileJobStore struct {
	mu   sync.Mutex
	path string
}

// NewFileJobStore loads (or initializes) the job index at path.
func NewFileJobStore(path string) (*FileJobStore, error) {
	s := &FileJobStore{path: path}
	if _, err := s.readIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileJobStore) readIndex() (map[string]*Job, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]*Job{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cron job index: %w", err)
	}

	var index map[string]*Job
	if err := json.Unmarshal(data, &index); err != nil {
		corruptPath := fmt.Sprintf("%s.corrupt-%s", s.path, time.Now().Format("20060102-150405"))
		if renameErr := os.Rename(s.path, corruptPath); renameErr != nil {
			return map[string]*Job{}, fmt.Errorf("backup corrupted cron job index: %w", renameErr)
		}
		return map[string]*Job{}, nil
	}
	if index == nil {
		index = map[string]*Job{}
	}
	return index, nil
}

func (s *FileJobStore) writeIndex(index map[string]*Job) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cron job index: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create cron job index dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write cron job index: %w", err)
	}
	return nil
}

// LoadJobs implements cron.JobStore.
func (s *FileJobStore) LoadJobs(ctx context.Context) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	out := make([]*Job, 0, len(index))
	for _, job := range index {
		out = append(out, job)
	}
	return out, nil
}

// SaveJob implements cron.JobStore. Per the interface's
// persistence-before-execute contract, this must return before the
// scheduler hands the job to a runner, so it writes the whole index
// synchronously rather than batching.
func (s *FileJobStore) SaveJob(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	index, err := s.readIndex()
	if err != nil {
		return err
	}
	index[job.ID] = job
	return s.writeIndex(index)
}

// DeleteJob implements cron.JobStore.
func (s *FileJobStore) DeleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	index, err := s.readIndex()
	if err != nil {
		return err
	}
	if _, ok := index[id]; !ok {
		return nil
	}
	delete(index, id)
	return s.writeIndex(index)
}
