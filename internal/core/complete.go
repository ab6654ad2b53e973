package core

import (
	"context"
	"time"

	"github.com/gridlink-labs/gridlink/internal/constants"
	"github.com/gridlink-labs/gridlink/internal/errdefs"
	"github.com/gridlink-labs/gridlink/internal/metadata"
	"github.com/gridlink-labs/gridlink/internal/models"
	"github.com/gridlink-labs/gridlink/internal/remote"
	"github.com/gridlink-labs/gridlink/internal/scheduler"
)

// CompleteJob runs the completion chain for a job the scheduler reports
// finished: confirm the terminal state, copy results from scratch back
// into the project outputs directory, then persist the completion
// boundary and the cache entry. Results are copied before the boundary
// is written, so a completion record always implies the outputs exist.
func (e *Engine) CompleteJob(ctx context.Context, jobID string) (err error) {
	started := time.Now()
	defer func() { e.finish(jobID, ChainComplete, err, started) }()
	unlock := e.lockJob(jobID)
	defer unlock()

	desc, err := e.store.Get(jobID)
	if err != nil {
		return e.fail(jobID, ChainComplete, "load", err)
	}
	if desc.Status == models.StatusCompleted {
		// Already completed, nothing left to do.
		return nil
	}
	if desc.Status != models.StatusPending && desc.Status != models.StatusRunning {
		err = rejectTransition(jobID, desc.Status, "PENDING or RUNNING")
		return e.fail(jobID, ChainComplete, "precondition", err)
	}

	e.step(jobID, ChainComplete, "confirm", "confirming terminal state")
	var rows []scheduler.StatusRow
	if err = e.withRetry(ctx, "confirm completion", func() error {
		got, qerr := e.sched.Query(ctx, []string{desc.SchedulerJobID})
		if qerr != nil {
			return qerr
		}
		rows = rows[:0]
		for _, r := range got {
			if r.SchedulerJobID == desc.SchedulerJobID {
				rows = append(rows, r)
			}
		}
		return nil
	}); err != nil {
		return e.fail(jobID, ChainComplete, "confirm", err)
	}
	if len(rows) == 0 || rows[0].State != models.StatusCompleted {
		observed := models.StatusUnknown
		if len(rows) > 0 {
			observed = rows[0].State
		}
		err = &errdefs.RemoteStateError{
			Op:   "confirm completion",
			Path: desc.ScratchDir,
			Msg:  "scheduler reports " + string(observed) + ", not COMPLETED",
		}
		return e.fail(jobID, ChainComplete, "confirm", err)
	}

	e.step(jobID, ChainComplete, "copy", "copying results to project outputs")
	outputsDir := desc.ProjectDir + "/" + constants.OutputsDirName
	cp := "cp -r " + remote.ShellQuote(desc.ScratchDir) + "/. " + remote.ShellQuote(outputsDir) + "/"
	if err = e.withRetry(ctx, "copy results", func() error {
		exit, _, stderr, xerr := e.session.Execute(ctx, cp)
		if xerr != nil {
			return xerr
		}
		if exit != 0 {
			return remoteStateErr("copy results", outputsDir, stderr, exit)
		}
		return nil
	}); err != nil {
		return e.fail(jobID, ChainComplete, "copy", err)
	}

	now := time.Now().UTC()
	oldStatus := desc.Status
	desc.Status = models.StatusCompleted
	desc.CompletedAt = &now

	e.step(jobID, ChainComplete, "metadata", "writing job metadata")
	if err = e.withRetry(ctx, "write completion metadata", func() error {
		return e.meta.WriteBoundary(ctx, metadata.BoundaryCompletion, desc)
	}); err != nil {
		return e.fail(jobID, ChainComplete, "metadata", err)
	}

	if err = e.store.Put(desc); err != nil {
		return e.fail(jobID, ChainComplete, "cache", err)
	}
	e.events.PublishStateChange(jobID, desc.JobName, string(oldStatus), string(models.StatusCompleted), ChainComplete)
	e.log.Info().Str("job", jobID).Msg("job completed")
	return nil
}
