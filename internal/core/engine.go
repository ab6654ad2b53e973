// Package core implements the job-lifecycle automation engine: five
// fixed chains (creation, submission, synchronization, completion,
// deletion) driving the remote session and the scheduler CLI while
// keeping the local job cache consistent with the authoritative remote
// state.
package core

import (
	"context"
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"github.com/gridlink-labs/gridlink/internal/cache"
	"github.com/gridlink-labs/gridlink/internal/config"
	"github.com/gridlink-labs/gridlink/internal/errdefs"
	"github.com/gridlink-labs/gridlink/internal/events"
	"github.com/gridlink-labs/gridlink/internal/logging"
	"github.com/gridlink-labs/gridlink/internal/metadata"
	"github.com/gridlink-labs/gridlink/internal/models"
	"github.com/gridlink-labs/gridlink/internal/remote"
	"github.com/gridlink-labs/gridlink/internal/retry"
	"github.com/gridlink-labs/gridlink/internal/scheduler"
)

// Chain names used in progress events.
const (
	ChainCreate   = "create"
	ChainSubmit   = "submit"
	ChainSync     = "sync"
	ChainComplete = "complete"
	ChainDelete   = "delete"
	ChainCancel   = "cancel"
	ChainFetch    = "fetch"
)

// RemoteSession is the slice of the connection manager the engine
// drives. Implemented by *remote.Session; tests substitute a fake.
type RemoteSession interface {
	Execute(ctx context.Context, cmd string) (exitCode int, stdout, stderr string, err error)
	Upload(ctx context.Context, localPath, remotePath string, onProgress remote.ProgressFunc) error
	Download(ctx context.Context, remotePath, localPath string, onProgress remote.ProgressFunc) error
	MkdirAll(ctx context.Context, remotePath string) error
	ReadFile(ctx context.Context, remotePath string) ([]byte, error)
	WriteFile(ctx context.Context, remotePath string, data []byte) error
	ReadDir(ctx context.Context, remotePath string) ([]os.FileInfo, error)
}

// Scheduler is the batch scheduler CLI collaborator. Implemented by
// *scheduler.CLI.
type Scheduler interface {
	Submit(ctx context.Context, workDir, scriptPath string) (string, error)
	Query(ctx context.Context, ids []string) ([]scheduler.StatusRow, error)
	Cancel(ctx context.Context, schedulerJobID string) error
}

// JobStore is the local persistent cache collaborator. Implemented by
// *cache.Store.
type JobStore interface {
	Get(jobID string) (*models.JobDescriptor, error)
	Put(desc *models.JobDescriptor) error
	Delete(jobID string) error
	List() ([]*models.JobDescriptor, error)
}

// TemplateLoader resolves a template id to its body text.
type TemplateLoader func(templateID string) (string, error)

// Engine owns the automation chains. All remote traffic flows through
// one session (serialized inside the session itself); chains touching
// the same job are additionally serialized by a per-job-id lock.
type Engine struct {
	cfg      *config.Config
	session  RemoteSession
	sched    Scheduler
	meta     *metadata.Manager
	store    JobStore
	events   *events.EventBus
	log      *logging.Logger
	loadTmpl TemplateLoader
	retryCfg retry.Config

	mu       sync.Mutex
	jobLocks map[string]*sync.Mutex
}

// NewEngine wires the engine from its collaborators. The session handle
// is threaded explicitly; there is no hidden global connection.
func NewEngine(cfg *config.Config, session RemoteSession, sched Scheduler, store JobStore, bus *events.EventBus, log *logging.Logger, loadTmpl TemplateLoader) *Engine {
	if bus == nil {
		bus = events.NewEventBus(0)
	}
	if log == nil {
		log = logging.NewDefaultLogger()
	}
	return &Engine{
		cfg:      cfg,
		session:  session,
		sched:    sched,
		meta:     metadata.NewManager(session),
		store:    store,
		events:   bus,
		log:      log,
		loadTmpl: loadTmpl,
		retryCfg: retryConfigFrom(cfg.Retry),
		jobLocks: make(map[string]*sync.Mutex),
	}
}

// NewEngineWithStore builds an engine using the default on-disk cache
// location.
func NewEngineWithStore(cfg *config.Config, session RemoteSession, sched Scheduler, bus *events.EventBus, log *logging.Logger, loadTmpl TemplateLoader) (*Engine, error) {
	dir, err := config.JobCacheDir()
	if err != nil {
		return nil, err
	}
	store, err := cache.NewStore(dir)
	if err != nil {
		return nil, err
	}
	return NewEngine(cfg, session, sched, store, bus, log, loadTmpl), nil
}

func retryConfigFrom(rc config.RetryConfig) retry.Config {
	cfg := retry.DefaultConfig()
	if rc.MaxAttempts > 0 {
		cfg.MaxAttempts = rc.MaxAttempts
	}
	if rc.InitialDelayMS > 0 {
		cfg.InitialDelay = time.Duration(rc.InitialDelayMS) * time.Millisecond
	}
	if rc.Multiplier > 0 {
		cfg.Multiplier = rc.Multiplier
	}
	if rc.MaxDelayMS > 0 {
		cfg.MaxDelay = time.Duration(rc.MaxDelayMS) * time.Millisecond
	}
	if rc.MaxElapsedSec > 0 {
		cfg.MaxElapsed = time.Duration(rc.MaxElapsedSec) * time.Second
	}
	return cfg
}

// Events returns the engine's event bus for subscriptions.
func (e *Engine) Events() *events.EventBus { return e.events }

// Jobs returns snapshots of all cached descriptors.
func (e *Engine) Jobs() ([]*models.JobDescriptor, error) {
	descs, err := e.store.List()
	if err != nil {
		return nil, err
	}
	out := make([]*models.JobDescriptor, len(descs))
	for i, d := range descs {
		out[i] = d.Clone()
	}
	return out, nil
}

// Job returns a snapshot of one cached descriptor.
func (e *Engine) Job(jobID string) (*models.JobDescriptor, error) {
	desc, err := e.store.Get(jobID)
	if err != nil {
		return nil, err
	}
	return desc.Clone(), nil
}

// lockJob serializes chains per job id. The returned func releases.
func (e *Engine) lockJob(jobID string) func() {
	e.mu.Lock()
	l, ok := e.jobLocks[jobID]
	if !ok {
		l = &sync.Mutex{}
		e.jobLocks[jobID] = l
	}
	e.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// withRetry wraps a remote operation with the engine's retry policy.
func (e *Engine) withRetry(ctx context.Context, opName string, op func() error) error {
	cfg := e.retryCfg
	cfg.OnRetry = func(attempt int, err error) {
		e.log.Warnf("%s: transient failure (attempt %d): %v", opName, attempt, err)
	}
	return retry.Do(ctx, cfg, opName, op)
}

// step publishes a progress event for a chain step.
func (e *Engine) step(jobID, chain, step, msg string) {
	e.events.PublishProgress(jobID, chain, step, msg, -1)
}

// fail publishes an error event and returns err annotated with the step.
func (e *Engine) fail(jobID, chain, step string, err error) error {
	e.events.PublishError(jobID, chain, step, err)
	e.log.Error().Str("job", jobID).Str("chain", chain).Str("step", step).Err(err).Msg("chain step failed")
	return fmt.Errorf("%s/%s: %w", chain, step, err)
}

// finish publishes the terminal event for a chain invocation.
func (e *Engine) finish(jobID, chain string, err error, started time.Time) {
	e.events.PublishComplete(jobID, chain, err, time.Since(started))
}

// projectDir returns the job's persistent remote directory.
func (e *Engine) projectDir(desc *models.JobDescriptor) string {
	return path.Join(e.cfg.RemoteProjectRoot, desc.JobName+"_"+desc.JobID)
}

// scratchDir returns the job's ephemeral remote execution directory.
func (e *Engine) scratchDir(desc *models.JobDescriptor) string {
	return path.Join(e.cfg.RemoteScratchRoot, desc.JobName+"_"+desc.JobID)
}

// setStatus updates the cached status and publishes the transition.
func (e *Engine) setStatus(desc *models.JobDescriptor, next models.JobStatus, chain string) error {
	old := desc.Status
	desc.Status = next
	if err := e.store.Put(desc); err != nil {
		desc.Status = old
		return err
	}
	if old != next {
		e.events.PublishStateChange(desc.JobID, desc.JobName, string(old), string(next), chain)
	}
	return nil
}

// remoteStateErr builds a RemoteStateError from a failed remote command.
func remoteStateErr(op, p, stderr string, exit int) error {
	return &errdefs.RemoteStateError{
		Op:   op,
		Path: p,
		Msg:  fmt.Sprintf("exit %d: %s", exit, stderr),
	}
}
