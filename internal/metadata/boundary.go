// Package metadata manages the canonical remote job descriptor file.
//
// The descriptor is written only at lifecycle boundaries (creation,
// submission and completion), never while a job is executing. The
// Boundary type makes that restriction part of the API: synchronization
// has no boundary value to pass and therefore cannot write.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/gridlink-labs/gridlink/internal/constants"
	"github.com/gridlink-labs/gridlink/internal/errdefs"
	"github.com/gridlink-labs/gridlink/internal/models"
)

// FileStore is the slice of the remote session the boundary manager
// needs. Implemented by *remote.Session.
type FileStore interface {
	ReadFile(ctx context.Context, remotePath string) ([]byte, error)
	WriteFile(ctx context.Context, remotePath string, data []byte) error
}

// Boundary identifies which lifecycle transition is being persisted.
type Boundary int

const (
	BoundaryCreation Boundary = iota + 1
	BoundarySubmission
	BoundaryCompletion
)

func (b Boundary) String() string {
	switch b {
	case BoundaryCreation:
		return "creation"
	case BoundarySubmission:
		return "submission"
	case BoundaryCompletion:
		return "completion"
	}
	return "unknown"
}

// Manager reads and writes the remote job_info file.
type Manager struct {
	fs FileStore
}

// NewManager returns a boundary manager over the given file store.
func NewManager(fs FileStore) *Manager {
	return &Manager{fs: fs}
}

// Path returns the remote metadata file path for a job directory.
func Path(projectDir string) string {
	return path.Join(projectDir, constants.MetadataFileName)
}

// WriteBoundary serializes the descriptor snapshot and uploads it to the
// job's remote directory. The descriptor must already reflect the state
// the boundary persists; mismatches are programming errors surfaced as
// validation failures.
func (m *Manager) WriteBoundary(ctx context.Context, b Boundary, desc *models.JobDescriptor) error {
	if desc.ProjectDir == "" {
		return &errdefs.ValidationError{Field: "project_dir", Msg: "descriptor has no remote directory"}
	}
	if err := checkBoundaryState(b, desc); err != nil {
		return err
	}

	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor: %w", err)
	}
	if err := m.fs.WriteFile(ctx, Path(desc.ProjectDir), data); err != nil {
		return fmt.Errorf("boundary %s write failed: %w", b, err)
	}
	return nil
}

// Read fetches and parses the metadata file from a job's remote
// directory. A missing file maps to errdefs.ErrNotFound; a file that
// does not deserialize is a RemoteStateError requiring manual attention.
func (m *Manager) Read(ctx context.Context, projectDir string) (*models.JobDescriptor, error) {
	data, err := m.fs.ReadFile(ctx, Path(projectDir))
	if err != nil {
		if errors.Is(err, errdefs.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read boundary metadata: %w", err)
	}

	desc := &models.JobDescriptor{}
	if err := json.Unmarshal(data, desc); err != nil {
		return nil, &errdefs.RemoteStateError{
			Op:   "read metadata",
			Path: Path(projectDir),
			Msg:  fmt.Sprintf("corrupt descriptor: %v", err),
		}
	}
	if desc.JobID == "" {
		return nil, &errdefs.RemoteStateError{
			Op:   "read metadata",
			Path: Path(projectDir),
			Msg:  "descriptor missing job_id",
		}
	}
	return desc, nil
}

func checkBoundaryState(b Boundary, desc *models.JobDescriptor) error {
	switch b {
	case BoundaryCreation:
		if desc.Status != models.StatusCreated {
			return &errdefs.ValidationError{Field: "status", Msg: fmt.Sprintf("creation boundary requires CREATED, have %s", desc.Status)}
		}
	case BoundarySubmission:
		if desc.Status != models.StatusPending {
			return &errdefs.ValidationError{Field: "status", Msg: fmt.Sprintf("submission boundary requires PENDING, have %s", desc.Status)}
		}
		if desc.SchedulerJobID == "" {
			return &errdefs.ValidationError{Field: "scheduler_job_id", Msg: "submission boundary requires a scheduler job id"}
		}
		if desc.SubmittedAt == nil {
			return &errdefs.ValidationError{Field: "submitted_at", Msg: "submission boundary requires a submission timestamp"}
		}
	case BoundaryCompletion:
		if !desc.Status.Terminal() {
			return &errdefs.ValidationError{Field: "status", Msg: fmt.Sprintf("completion boundary requires a terminal status, have %s", desc.Status)}
		}
		if desc.CompletedAt == nil {
			return &errdefs.ValidationError{Field: "completed_at", Msg: "completion boundary requires a completion timestamp"}
		}
	default:
		return &errdefs.ValidationError{Field: "boundary", Msg: "unknown boundary"}
	}
	return nil
}
