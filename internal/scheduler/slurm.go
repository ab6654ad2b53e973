package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gridlink-labs/gridlink/internal/config"
	"github.com/gridlink-labs/gridlink/internal/errdefs"
	"github.com/gridlink-labs/gridlink/internal/remote"
)

// Runner executes a command on the remote host. Implemented by
// remote.Session; tests substitute a stub.
type Runner interface {
	Execute(ctx context.Context, cmd string) (exitCode int, stdout, stderr string, err error)
}

// CLI drives the SLURM command-line tools through a remote session.
type CLI struct {
	run Runner
	cfg config.SchedulerConfig
}

// New returns a scheduler CLI using the given runner. Zero-valued cfg
// fields fall back to the standard SLURM binary names.
func New(run Runner, cfg config.SchedulerConfig) *CLI {
	if cfg.SubmitCmd == "" {
		cfg.SubmitCmd = "sbatch"
	}
	if cfg.QueueCmd == "" {
		cfg.QueueCmd = "squeue"
	}
	if cfg.AcctCmd == "" {
		cfg.AcctCmd = "sacct"
	}
	if cfg.CancelCmd == "" {
		cfg.CancelCmd = "scancel"
	}
	return &CLI{run: run, cfg: cfg}
}

// Submit submits the script at scriptPath (a remote path) from workDir
// and returns the scheduler job id. A non-zero exit is surfaced as a
// SchedulerRejection carrying the scheduler's raw output.
func (c *CLI) Submit(ctx context.Context, workDir, scriptPath string) (string, error) {
	cmd := fmt.Sprintf("cd %s && %s --parsable %s",
		remote.ShellQuote(workDir), c.cfg.SubmitCmd, remote.ShellQuote(scriptPath))
	code, stdout, stderr, err := c.run.Execute(ctx, cmd)
	if err != nil {
		return "", err
	}
	if code != 0 {
		reason := strings.TrimSpace(stderr)
		if reason == "" {
			reason = strings.TrimSpace(stdout)
		}
		return "", &errdefs.SchedulerRejection{Op: "submit", Reason: reason}
	}

	// --parsable prints "jobid" or "jobid;cluster".
	id := strings.TrimSpace(stdout)
	if i := strings.IndexByte(id, ';'); i >= 0 {
		id = id[:i]
	}
	if id == "" {
		return "", &errdefs.RemoteStateError{Op: "submit", Msg: "scheduler returned no job id"}
	}
	return id, nil
}

// Query returns the current state of the given scheduler job ids. Ids the
// queue no longer knows are looked up in accounting, so recently finished
// jobs still resolve. Ids absent from both sources are simply missing
// from the result; the caller treats them as unknown-for-now.
func (c *CLI) Query(ctx context.Context, ids []string) ([]StatusRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	joined := strings.Join(ids, ",")

	cmd := fmt.Sprintf("%s -h -o '%%i %%T' -j %s", c.cfg.QueueCmd, remote.ShellQuote(joined))
	code, stdout, stderr, err := c.run.Execute(ctx, cmd)
	if err != nil {
		return nil, err
	}
	var rows []StatusRow
	// squeue exits non-zero when none of the ids is queued anymore;
	// that is not an error, accounting covers those below.
	if code == 0 {
		rows = ParseQueryOutput(stdout)
	}

	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		seen[r.SchedulerJobID] = true
	}
	var missing []string
	for _, id := range ids {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return rows, nil
	}

	cmd = fmt.Sprintf("%s -n -X -P -o JobID,State -j %s", c.cfg.AcctCmd, remote.ShellQuote(strings.Join(missing, ",")))
	code, stdout, stderr, err = c.run.Execute(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, &errdefs.RemoteStateError{Op: "query", Msg: fmt.Sprintf("accounting query failed: %s", strings.TrimSpace(stderr))}
	}
	rows = append(rows, ParseQueryOutput(stdout)...)
	return rows, nil
}

// Cancel asks the scheduler to cancel a job. scancel exits 0 when the
// job is already gone, so repeated cancels are harmless.
func (c *CLI) Cancel(ctx context.Context, schedulerJobID string) error {
	cmd := fmt.Sprintf("%s %s", c.cfg.CancelCmd, remote.ShellQuote(schedulerJobID))
	code, _, stderr, err := c.run.Execute(ctx, cmd)
	if err != nil {
		return err
	}
	if code != 0 {
		return &errdefs.SchedulerRejection{Op: "cancel", Reason: strings.TrimSpace(stderr)}
	}
	return nil
}
