// Package models defines the data structures shared across gridlink.
package models

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	StatusCreated   JobStatus = "CREATED"
	StatusPending   JobStatus = "PENDING"
	StatusRunning   JobStatus = "RUNNING"
	StatusCompleted JobStatus = "COMPLETED"
	StatusFailed    JobStatus = "FAILED"
	StatusCancelled JobStatus = "CANCELLED"

	// StatusUnknown means the scheduler reported a state we do not
	// recognize. It is never persisted to a boundary; the next sync
	// re-polls the job.
	StatusUnknown JobStatus = "UNKNOWN"
)

// Terminal reports whether s is a final scheduler state.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ResourceRequest describes the hardware a job asks the scheduler for.
type ResourceRequest struct {
	Cores     int    `json:"cores"`
	MemoryMB  int    `json:"memory_mb,omitempty"`
	Walltime  string `json:"walltime"` // HH:MM:SS
	Partition string `json:"partition,omitempty"`
}

// TemplateRef records which template a job's configuration was rendered
// from, along with the resolved substitution values.
type TemplateRef struct {
	TemplateID string            `json:"template_id"`
	Values     map[string]string `json:"values,omitempty"`
}

// JobDescriptor is the canonical description of a job. It is owned by the
// automation engine; other layers only read snapshots. The same structure
// is serialized to the remote boundary metadata file and to the local
// cache entry.
type JobDescriptor struct {
	JobID          string          `json:"job_id"`
	JobName        string          `json:"job_name"`
	Status         JobStatus       `json:"status"`
	SchedulerJobID string          `json:"scheduler_job_id,omitempty"`
	Template       TemplateRef     `json:"template"`
	Resources      ResourceRequest `json:"resources"`
	InputFiles     []string        `json:"input_files,omitempty"`

	// Remote directory paths. ProjectDir is persistent storage holding
	// config and preserved results; ScratchDir is the execution
	// directory mirrored back on completion.
	ProjectDir string `json:"project_dir"`
	ScratchDir string `json:"scratch_dir,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the descriptor, safe to hand to consumers.
func (d *JobDescriptor) Clone() *JobDescriptor {
	c := *d
	if d.SubmittedAt != nil {
		t := *d.SubmittedAt
		c.SubmittedAt = &t
	}
	if d.CompletedAt != nil {
		t := *d.CompletedAt
		c.CompletedAt = &t
	}
	c.InputFiles = append([]string(nil), d.InputFiles...)
	if d.Template.Values != nil {
		c.Template.Values = make(map[string]string, len(d.Template.Values))
		for k, v := range d.Template.Values {
			c.Template.Values[k] = v
		}
	}
	return &c
}

// NewJobID returns a short random hex identifier. Combined with the job
// name it forms the remote directory name ({name}_{id}).
func NewJobID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms; fall back to
		// a fixed-width timestamp fragment rather than panic.
		return hex.EncodeToString([]byte(time.Now().Format("150405.000"))[:4])
	}
	return hex.EncodeToString(b)
}

// CreateParams is the presentation-layer input to job creation.
type CreateParams struct {
	JobName    string
	TemplateID string
	Values     map[string]string
	Resources  ResourceRequest
	InputFiles []string // local paths
}
