package core

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/gridlink-labs/gridlink/internal/errdefs"
	"github.com/gridlink-labs/gridlink/internal/models"
	"github.com/gridlink-labs/gridlink/internal/remote"
	"github.com/gridlink-labs/gridlink/internal/validation"
)

// DeleteJob runs the deletion chain. With deleteRemote set, the job's
// remote directories are removed first and the cache entry only after
// that succeeds, so a cached job always still exists remotely. Active
// jobs are cancelled with the scheduler before their directories go.
func (e *Engine) DeleteJob(ctx context.Context, jobID string, deleteRemote bool) (err error) {
	started := time.Now()
	defer func() { e.finish(jobID, ChainDelete, err, started) }()
	unlock := e.lockJob(jobID)
	defer unlock()

	desc, err := e.store.Get(jobID)
	if err != nil {
		if errors.Is(err, errdefs.ErrNotFound) {
			return nil
		}
		return e.fail(jobID, ChainDelete, "load", err)
	}

	if deleteRemote {
		if desc.Status == models.StatusPending || desc.Status == models.StatusRunning {
			e.step(jobID, ChainDelete, "cancel", "cancelling scheduler job "+desc.SchedulerJobID)
			if err = e.sched.Cancel(ctx, desc.SchedulerJobID); err != nil {
				return e.fail(jobID, ChainDelete, "cancel", err)
			}
		}

		for _, target := range []struct {
			dir  string
			root string
		}{
			{desc.ProjectDir, e.cfg.RemoteProjectRoot},
			{desc.ScratchDir, e.cfg.RemoteScratchRoot},
		} {
			if target.dir == "" {
				continue
			}
			if err = e.checkDeletable(desc, target.dir, target.root); err != nil {
				return e.fail(jobID, ChainDelete, "validate", err)
			}
			dir := target.dir
			e.step(jobID, ChainDelete, "remove", "removing "+dir)
			if err = e.withRetry(ctx, "remove "+dir, func() error {
				exit, _, stderr, xerr := e.session.Execute(ctx, "rm -rf -- "+remote.ShellQuote(dir))
				if xerr != nil {
					return xerr
				}
				if exit != 0 {
					return remoteStateErr("remove", dir, stderr, exit)
				}
				return nil
			}); err != nil {
				return e.fail(jobID, ChainDelete, "remove", err)
			}
		}
	}

	if err = e.store.Delete(jobID); err != nil {
		return e.fail(jobID, ChainDelete, "cache", err)
	}
	e.log.Info().Str("job", jobID).Bool("remote", deleteRemote).Msg("job deleted")
	return nil
}

// checkDeletable refuses any recursive removal target that is not the
// job's own directory strictly inside the configured root.
func (e *Engine) checkDeletable(desc *models.JobDescriptor, dir, root string) error {
	if err := validation.ValidateRemotePathInDir(dir, root); err != nil {
		return err
	}
	if path.Clean(dir) == path.Clean(root) {
		return &errdefs.ValidationError{Field: "remote_dir", Msg: "refusing to remove the configured root " + root}
	}
	want := desc.JobName + "_" + desc.JobID
	if path.Base(path.Clean(dir)) != want {
		return &errdefs.ValidationError{
			Field: "remote_dir",
			Msg:   fmt.Sprintf("directory %s does not match job %s", dir, want),
		}
	}
	return nil
}

// CancelJob asks the scheduler to stop an active job without touching
// its directories or metadata. The cached status moves to CANCELLED;
// the next completion-style cleanup is left to deletion.
func (e *Engine) CancelJob(ctx context.Context, jobID string) (err error) {
	started := time.Now()
	defer func() { e.finish(jobID, ChainCancel, err, started) }()
	unlock := e.lockJob(jobID)
	defer unlock()

	desc, err := e.store.Get(jobID)
	if err != nil {
		return e.fail(jobID, ChainCancel, "load", err)
	}
	if desc.Status != models.StatusPending && desc.Status != models.StatusRunning {
		err = rejectTransition(jobID, desc.Status, "PENDING or RUNNING")
		return e.fail(jobID, ChainCancel, "precondition", err)
	}

	e.step(jobID, ChainCancel, "scancel", "cancelling scheduler job "+desc.SchedulerJobID)
	if err = e.sched.Cancel(ctx, desc.SchedulerJobID); err != nil {
		return e.fail(jobID, ChainCancel, "scancel", err)
	}

	if err = e.setStatus(desc, models.StatusCancelled, ChainCancel); err != nil {
		return e.fail(jobID, ChainCancel, "cache", err)
	}
	e.log.Info().Str("job", jobID).Msg("job cancelled")
	return nil
}
