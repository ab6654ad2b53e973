package core

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/gridlink-labs/gridlink/internal/errdefs"
	"github.com/gridlink-labs/gridlink/internal/models"
	"github.com/gridlink-labs/gridlink/internal/scheduler"
)

// SyncResult summarizes one synchronization pass.
type SyncResult struct {
	Jobs      []*models.JobDescriptor // cache contents after the pass
	Updated   int                     // jobs whose cached status changed
	Completed int                     // jobs auto-completed this pass
	Errors    []error                 // per-job failures, pass continues past them
}

// Sync runs the synchronization chain: rebuild the cache from remote
// metadata if it is empty, poll the scheduler for every active job, and
// apply observed transitions. Jobs the scheduler reports COMPLETED are
// handed to the completion chain. Synchronization itself never writes
// remote metadata.
func (e *Engine) Sync(ctx context.Context) (*SyncResult, error) {
	started := time.Now()
	res := &SyncResult{}
	var passErr error
	defer func() { e.finish("", ChainSync, passErr, started) }()

	descs, err := e.store.List()
	if err != nil {
		passErr = e.fail("", ChainSync, "load", err)
		return nil, passErr
	}
	if len(descs) == 0 {
		if err := e.discoverJobs(ctx, res); err != nil {
			passErr = e.fail("", ChainSync, "discover", err)
			return nil, passErr
		}
		if descs, err = e.store.List(); err != nil {
			passErr = e.fail("", ChainSync, "load", err)
			return nil, passErr
		}
	}

	// Only jobs the scheduler could still know about get polled.
	byScheduler := make(map[string]*models.JobDescriptor)
	var ids []string
	for _, d := range descs {
		if d.SchedulerJobID == "" {
			continue
		}
		switch d.Status {
		case models.StatusPending, models.StatusRunning, models.StatusUnknown:
			byScheduler[d.SchedulerJobID] = d
			ids = append(ids, d.SchedulerJobID)
		}
	}

	if len(ids) > 0 {
		e.step("", ChainSync, "query", fmt.Sprintf("polling %d active jobs", len(ids)))
		var rows []scheduler.StatusRow
		if err := e.withRetry(ctx, "query scheduler", func() error {
			got, qerr := e.sched.Query(ctx, ids)
			if qerr != nil {
				return qerr
			}
			rows = got
			return nil
		}); err != nil {
			passErr = e.fail("", ChainSync, "query", err)
			return nil, passErr
		}

		var toComplete []string
		for _, row := range rows {
			desc, ok := byScheduler[row.SchedulerJobID]
			if !ok {
				continue
			}
			switch row.State {
			case models.StatusUnknown:
				// Unrecognized scheduler state, poll again next pass.
			case models.StatusCompleted:
				toComplete = append(toComplete, desc.JobID)
			case models.StatusPending, models.StatusRunning:
				if desc.Status != row.State {
					if err := e.setStatus(desc, row.State, ChainSync); err != nil {
						res.Errors = append(res.Errors, fmt.Errorf("job %s: %w", desc.JobID, err))
						continue
					}
					res.Updated++
				}
			case models.StatusFailed, models.StatusCancelled:
				// Terminal failure: cache only, no output copy and no
				// metadata rewrite. Resubmission stays possible.
				if err := e.setStatus(desc, row.State, ChainSync); err != nil {
					res.Errors = append(res.Errors, fmt.Errorf("job %s: %w", desc.JobID, err))
					continue
				}
				res.Updated++
			}
		}

		// Completion runs outside the polling loop; it takes the per-job
		// lock itself.
		for _, jobID := range toComplete {
			if err := e.CompleteJob(ctx, jobID); err != nil {
				res.Errors = append(res.Errors, fmt.Errorf("job %s: %w", jobID, err))
				continue
			}
			res.Updated++
			res.Completed++
		}
	}

	res.Jobs, err = e.Jobs()
	if err != nil {
		passErr = e.fail("", ChainSync, "load", err)
		return nil, passErr
	}
	e.log.Info().Int("jobs", len(res.Jobs)).Int("updated", res.Updated).Msg("synchronization pass done")
	return res, nil
}

// discoverJobs rebuilds an empty cache from the remote project root.
// Every directory carrying a readable metadata file becomes a cache
// entry again. Directories without metadata are ignored; corrupt
// metadata aborts discovery so the operator can inspect it.
func (e *Engine) discoverJobs(ctx context.Context, res *SyncResult) error {
	e.step("", ChainSync, "discover", "rebuilding cache from "+e.cfg.RemoteProjectRoot)
	entries, err := e.session.ReadDir(ctx, e.cfg.RemoteProjectRoot)
	if err != nil {
		if errors.Is(err, errdefs.ErrNotFound) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := path.Join(e.cfg.RemoteProjectRoot, entry.Name())
		desc, err := e.meta.Read(ctx, dir)
		if err != nil {
			if errors.Is(err, errdefs.ErrNotFound) {
				continue
			}
			return fmt.Errorf("discover %s: %w", dir, err)
		}
		if _, err := e.store.Get(desc.JobID); err == nil {
			continue
		}
		if err := e.store.Put(desc); err != nil {
			return fmt.Errorf("discover %s: %w", dir, err)
		}
		e.log.Info().Str("job", desc.JobID).Str("name", desc.JobName).Msg("recovered job from remote metadata")
	}
	return nil
}
