// Package cache is the local job cache: one serialized descriptor per
// job id, giving instant offline access to the last known state of every
// tracked job. Synchronization reconciles it against the cluster.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gridlink-labs/gridlink/internal/errdefs"
	"github.com/gridlink-labs/gridlink/internal/models"
)

// Store persists job descriptors as JSON files under dir, keyed by
// job id. Writes are atomic (temp file + rename) so a crash never leaves
// a truncated entry.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(jobID string) string {
	return filepath.Join(s.dir, jobID+".json")
}

// Get returns the cached descriptor for jobID, or errdefs.ErrNotFound.
func (s *Store) Get(jobID string) (*models.JobDescriptor, error) {
	data, err := os.ReadFile(s.path(jobID))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("job %s: %w", jobID, errdefs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry %s: %w", jobID, err)
	}
	desc := &models.JobDescriptor{}
	if err := json.Unmarshal(data, desc); err != nil {
		return nil, fmt.Errorf("corrupt cache entry %s: %w", jobID, err)
	}
	return desc, nil
}

// Put writes (or overwrites) the cache entry for desc. Last writer wins.
func (s *Store) Put(desc *models.JobDescriptor) error {
	if desc.JobID == "" {
		return &errdefs.ValidationError{Field: "job_id", Msg: "cannot be empty"}
	}
	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor: %w", err)
	}

	tmp := s.path(desc.JobID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := os.Rename(tmp, s.path(desc.JobID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit cache entry: %w", err)
	}
	return nil
}

// Delete removes the cache entry for jobID. Deleting a missing entry is
// not an error.
func (s *Store) Delete(jobID string) error {
	err := os.Remove(s.path(jobID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete cache entry %s: %w", jobID, err)
	}
	return nil
}

// List returns all cached descriptors sorted by creation time, newest
// last. Corrupt entries are skipped rather than failing the whole list.
func (s *Store) List() ([]*models.JobDescriptor, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache directory: %w", err)
	}

	var jobs []*models.JobDescriptor
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		desc, err := s.Get(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		jobs = append(jobs, desc)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// Len returns the number of cached entries.
func (s *Store) Len() (int, error) {
	jobs, err := s.List()
	if err != nil {
		return 0, err
	}
	return len(jobs), nil
}
