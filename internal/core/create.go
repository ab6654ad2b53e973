package core

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/gridlink-labs/gridlink/internal/constants"
	"github.com/gridlink-labs/gridlink/internal/errdefs"
	"github.com/gridlink-labs/gridlink/internal/metadata"
	"github.com/gridlink-labs/gridlink/internal/models"
	"github.com/gridlink-labs/gridlink/internal/script"
	"github.com/gridlink-labs/gridlink/internal/validation"
)

// CreateJob runs the creation chain: validate the request, build the
// remote project directory, upload input files, render and stage the
// batch script, then persist the creation boundary and finally the
// cache entry. There is no rollback; a failed creation may leave a
// partial remote directory that the deletion chain can clean up.
func (e *Engine) CreateJob(ctx context.Context, params models.CreateParams) (desc *models.JobDescriptor, err error) {
	started := time.Now()
	jobID := models.NewJobID()
	defer func() { e.finish(jobID, ChainCreate, err, started) }()

	if params.Resources.Partition == "" {
		params.Resources.Partition = e.cfg.DefaultPartition
	}

	e.step(jobID, ChainCreate, "validate", "validating request")
	if err = validation.ValidateJobName(params.JobName); err != nil {
		return nil, e.fail(jobID, ChainCreate, "validate", err)
	}
	if err = script.ValidateResources(params.Resources); err != nil {
		return nil, e.fail(jobID, ChainCreate, "validate", err)
	}
	for _, local := range params.InputFiles {
		if verr := validation.ValidateFilename(filepath.Base(local)); verr != nil {
			err = fmt.Errorf("input file %s: %w", local, verr)
			return nil, e.fail(jobID, ChainCreate, "validate", err)
		}
	}
	body, err := e.loadTmpl(params.TemplateID)
	if err != nil {
		return nil, e.fail(jobID, ChainCreate, "validate", err)
	}

	desc = &models.JobDescriptor{
		JobID:   jobID,
		JobName: params.JobName,
		Status:  models.StatusCreated,
		Template: models.TemplateRef{
			TemplateID: params.TemplateID,
			Values:     params.Values,
		},
		Resources: params.Resources,
		CreatedAt: started.UTC(),
	}
	desc.ProjectDir = e.projectDir(desc)
	desc.ScratchDir = e.scratchDir(desc)
	for _, local := range params.InputFiles {
		desc.InputFiles = append(desc.InputFiles, filepath.Base(local))
	}

	// Render before any remote call so template errors cost nothing.
	rendered, err := script.Render(desc, body)
	if err != nil {
		return nil, e.fail(jobID, ChainCreate, "render", err)
	}

	e.step(jobID, ChainCreate, "mkdir", "creating remote directories")
	for _, dir := range []string{
		desc.ProjectDir,
		path.Join(desc.ProjectDir, constants.InputFilesDirName),
		path.Join(desc.ProjectDir, constants.OutputsDirName),
	} {
		dir := dir
		if err = e.withRetry(ctx, "mkdir "+dir, func() error {
			return e.session.MkdirAll(ctx, dir)
		}); err != nil {
			return nil, e.fail(jobID, ChainCreate, "mkdir", err)
		}
	}

	for _, local := range params.InputFiles {
		local := local
		name := filepath.Base(local)
		target := path.Join(desc.ProjectDir, constants.InputFilesDirName, name)
		e.step(jobID, ChainCreate, "upload", "uploading "+name)
		if err = e.withRetry(ctx, "upload "+name, func() error {
			return e.session.Upload(ctx, local, target, func(pct float64) {
				e.events.PublishProgress(jobID, ChainCreate, "upload", name, pct)
			})
		}); err != nil {
			return nil, e.fail(jobID, ChainCreate, "upload", err)
		}
	}

	e.step(jobID, ChainCreate, "script", "staging batch script")
	scriptPath := path.Join(desc.ProjectDir, constants.ScriptFileName)
	if err = e.withRetry(ctx, "write script", func() error {
		return e.session.WriteFile(ctx, scriptPath, []byte(rendered))
	}); err != nil {
		return nil, e.fail(jobID, ChainCreate, "script", err)
	}

	e.step(jobID, ChainCreate, "metadata", "writing job metadata")
	if err = e.withRetry(ctx, "write creation metadata", func() error {
		return e.meta.WriteBoundary(ctx, metadata.BoundaryCreation, desc)
	}); err != nil {
		return nil, e.fail(jobID, ChainCreate, "metadata", err)
	}

	// Cache last: the remote record is authoritative and must never
	// lag behind the local one.
	if err = e.store.Put(desc); err != nil {
		return nil, e.fail(jobID, ChainCreate, "cache", err)
	}
	e.events.PublishStateChange(jobID, desc.JobName, "", string(models.StatusCreated), ChainCreate)
	e.log.Info().Str("job", jobID).Str("name", desc.JobName).Msg("job created")
	return desc.Clone(), nil
}

// rejectTransition is a shorthand for precondition failures that must
// surface before any remote traffic.
func rejectTransition(jobID string, have models.JobStatus, want string) error {
	return &errdefs.ValidationError{
		Field: "status",
		Msg:   fmt.Sprintf("job %s is %s, expected %s", jobID, have, want),
	}
}
