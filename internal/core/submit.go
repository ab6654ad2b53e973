package core

import (
	"context"
	"path"
	"time"

	"github.com/gridlink-labs/gridlink/internal/constants"
	"github.com/gridlink-labs/gridlink/internal/metadata"
	"github.com/gridlink-labs/gridlink/internal/models"
	"github.com/gridlink-labs/gridlink/internal/remote"
	"github.com/gridlink-labs/gridlink/internal/script"
)

// SubmitJob runs the submission chain: mirror the project directory to
// scratch, hand the script to the scheduler, then persist the
// submission boundary and the cache entry. Only CREATED jobs (or FAILED
// jobs being resubmitted) are accepted; the check runs before any
// remote traffic so double submissions never reach the cluster.
//
// The scheduler submit call itself is never retried. A timed-out sbatch
// may still have enqueued the job, and retrying could enqueue it twice;
// the caller re-runs submission by hand after checking the queue.
func (e *Engine) SubmitJob(ctx context.Context, jobID string) (err error) {
	started := time.Now()
	defer func() { e.finish(jobID, ChainSubmit, err, started) }()
	unlock := e.lockJob(jobID)
	defer unlock()

	desc, err := e.store.Get(jobID)
	if err != nil {
		return e.fail(jobID, ChainSubmit, "load", err)
	}
	if desc.Status != models.StatusCreated && desc.Status != models.StatusFailed {
		err = rejectTransition(jobID, desc.Status, "CREATED or FAILED")
		return e.fail(jobID, ChainSubmit, "precondition", err)
	}

	e.step(jobID, ChainSubmit, "stage", "staging scratch directory")
	if err = e.withRetry(ctx, "mkdir scratch", func() error {
		return e.session.MkdirAll(ctx, desc.ScratchDir)
	}); err != nil {
		return e.fail(jobID, ChainSubmit, "stage", err)
	}

	// Server-side copy keeps the inputs off the wire a second time.
	inputsDir := path.Join(desc.ProjectDir, constants.InputFilesDirName)
	cp := "cp -r " + remote.ShellQuote(inputsDir) + "/. " + remote.ShellQuote(desc.ScratchDir) + "/"
	if err = e.withRetry(ctx, "mirror inputs", func() error {
		exit, _, stderr, xerr := e.session.Execute(ctx, cp)
		if xerr != nil {
			return xerr
		}
		if exit != 0 {
			return remoteStateErr("mirror inputs", desc.ScratchDir, stderr, exit)
		}
		return nil
	}); err != nil {
		return e.fail(jobID, ChainSubmit, "stage", err)
	}

	e.step(jobID, ChainSubmit, "script", "staging batch script")
	body, err := e.loadTmpl(desc.Template.TemplateID)
	if err != nil {
		return e.fail(jobID, ChainSubmit, "script", err)
	}
	rendered, err := script.Render(desc, body)
	if err != nil {
		return e.fail(jobID, ChainSubmit, "script", err)
	}
	scriptPath := path.Join(desc.ScratchDir, constants.ScriptFileName)
	if err = e.withRetry(ctx, "write script", func() error {
		return e.session.WriteFile(ctx, scriptPath, []byte(rendered))
	}); err != nil {
		return e.fail(jobID, ChainSubmit, "script", err)
	}

	e.step(jobID, ChainSubmit, "sbatch", "submitting to scheduler")
	schedID, err := e.sched.Submit(ctx, desc.ScratchDir, scriptPath)
	if err != nil {
		return e.fail(jobID, ChainSubmit, "sbatch", err)
	}

	now := time.Now().UTC()
	oldStatus := desc.Status
	desc.SchedulerJobID = schedID
	desc.SubmittedAt = &now
	desc.Status = models.StatusPending

	e.step(jobID, ChainSubmit, "metadata", "writing job metadata")
	if err = e.withRetry(ctx, "write submission metadata", func() error {
		return e.meta.WriteBoundary(ctx, metadata.BoundarySubmission, desc)
	}); err != nil {
		return e.fail(jobID, ChainSubmit, "metadata", err)
	}

	if err = e.store.Put(desc); err != nil {
		return e.fail(jobID, ChainSubmit, "cache", err)
	}
	e.events.PublishStateChange(jobID, desc.JobName, string(oldStatus), string(models.StatusPending), ChainSubmit)
	e.log.Info().Str("job", jobID).Str("scheduler_id", schedID).Msg("job submitted")
	return nil
}
