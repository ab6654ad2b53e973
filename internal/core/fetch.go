package core

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/gridlink-labs/gridlink/internal/constants"
	"github.com/gridlink-labs/gridlink/internal/models"
)

// FetchResults downloads a completed job's outputs directory into
// localDir. Files arrive through the same atomic transfer path as
// uploads, so an interrupted fetch never leaves a truncated file under
// its final name. Returns the local paths written.
func (e *Engine) FetchResults(ctx context.Context, jobID, localDir string) (paths []string, err error) {
	started := time.Now()
	defer func() { e.finish(jobID, ChainFetch, err, started) }()
	unlock := e.lockJob(jobID)
	defer unlock()

	desc, err := e.store.Get(jobID)
	if err != nil {
		return nil, e.fail(jobID, ChainFetch, "load", err)
	}
	if desc.Status != models.StatusCompleted {
		err = rejectTransition(jobID, desc.Status, "COMPLETED")
		return nil, e.fail(jobID, ChainFetch, "precondition", err)
	}
	if err = os.MkdirAll(localDir, 0755); err != nil {
		return nil, e.fail(jobID, ChainFetch, "prepare", err)
	}

	outputsDir := path.Join(desc.ProjectDir, constants.OutputsDirName)
	entries, err := e.session.ReadDir(ctx, outputsDir)
	if err != nil {
		return nil, e.fail(jobID, ChainFetch, "list", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		remotePath := path.Join(outputsDir, name)
		localPath := filepath.Join(localDir, name)
		e.step(jobID, ChainFetch, "download", "downloading "+name)
		if err = e.withRetry(ctx, "download "+name, func() error {
			return e.session.Download(ctx, remotePath, localPath, func(pct float64) {
				e.events.PublishProgress(jobID, ChainFetch, "download", name, pct)
			})
		}); err != nil {
			return nil, e.fail(jobID, ChainFetch, "download", err)
		}
		paths = append(paths, localPath)
	}

	e.log.Info().Str("job", jobID).Str("dir", localDir).Int("files", len(paths)).Msg("results fetched")
	return paths, nil
}
