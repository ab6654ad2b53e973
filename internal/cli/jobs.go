// Package cli: job lifecycle commands.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gridlink-labs/gridlink/internal/cache"
	"github.com/gridlink-labs/gridlink/internal/config"
	"github.com/gridlink-labs/gridlink/internal/core"
	"github.com/gridlink-labs/gridlink/internal/events"
	"github.com/gridlink-labs/gridlink/internal/models"
	"github.com/gridlink-labs/gridlink/internal/remote"
	"github.com/gridlink-labs/gridlink/internal/scheduler"
	"github.com/gridlink-labs/gridlink/internal/script"
)

// newJobsCmd creates the 'jobs' command group.
func newJobsCmd() *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Job operations (create, submit, sync, list, cancel, delete)",
		Long:  `Commands for driving the job lifecycle on the remote cluster.`,
	}

	jobsCmd.AddCommand(newJobsCreateCmd())
	jobsCmd.AddCommand(newJobsSubmitCmd())
	jobsCmd.AddCommand(newJobsSyncCmd())
	jobsCmd.AddCommand(newJobsListCmd())
	jobsCmd.AddCommand(newJobsFetchCmd())
	jobsCmd.AddCommand(newJobsCancelCmd())
	jobsCmd.AddCommand(newJobsDeleteCmd())

	return jobsCmd
}

// connectEngine loads config, establishes the SSH session and wires the
// engine. The returned cleanup closes the session and the event
// renderer.
func connectEngine() (*core.Engine, func(), error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	password, err := resolvePassword(cfg.Host, cfg.Username)
	if err != nil {
		return nil, nil, err
	}

	GetLogger().Info().Str("host", cfg.Host).Str("user", cfg.Username).Msg("Connecting")
	sess, err := remote.Establish(cfg.Host, cfg.Username, password, remote.Options{
		Port:           cfg.Port,
		KnownHostsFile: cfg.KnownHostsFile,
		CommandTimeout: cfg.CommandTimeout(),
	})
	if err != nil {
		return nil, nil, err
	}

	cacheDir, err := config.JobCacheDir()
	if err != nil {
		sess.Close()
		return nil, nil, err
	}
	store, err := cache.NewStore(cacheDir)
	if err != nil {
		sess.Close()
		return nil, nil, err
	}

	templateDir, err := config.TemplateDir()
	if err != nil {
		sess.Close()
		return nil, nil, err
	}
	loader := func(id string) (string, error) {
		return script.LoadTemplate(templateDir, id)
	}

	bus := events.NewEventBus(0)
	r := startRenderer(bus, jsonOutput)
	eng := core.NewEngine(cfg, sess, scheduler.New(sess, cfg.Scheduler), store, bus, GetLogger(), loader)

	cleanup := func() {
		r.stop()
		bus.Close()
		sess.Close()
	}
	return eng, cleanup, nil
}

// newJobsCreateCmd creates the 'jobs create' command.
func newJobsCreateCmd() *cobra.Command {
	var (
		name      string
		template  string
		values    []string
		inputs    []string
		cores     int
		memoryMB  int
		walltime  string
		partition string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new job on the cluster",
		Long: `Create a job: build its remote directory, upload input files, render
the batch script from a local template and write the job metadata.

Templates live under ~/.gridlink/templates/; --value KEY=VAL pairs are
exported to the script environment and available to the template.

Example:
  gridlink jobs create --name wing-v3 --template openfoam \
    --cores 16 --walltime 02:00:00 --input mesh.unv --value CASE=wing`,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := models.CreateParams{
				JobName:    name,
				TemplateID: template,
				Values:     map[string]string{},
				InputFiles: inputs,
				Resources: models.ResourceRequest{
					Cores:     cores,
					MemoryMB:  memoryMB,
					Walltime:  walltime,
					Partition: partition,
				},
			}
			for _, kv := range values {
				parts := strings.SplitN(kv, "=", 2)
				if len(parts) != 2 || parts[0] == "" {
					return fmt.Errorf("invalid --value %q, want KEY=VAL", kv)
				}
				params.Values[parts[0]] = parts[1]
			}

			eng, cleanup, err := connectEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			desc, err := eng.CreateJob(GetContext(), params)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(desc)
			}
			fmt.Printf("Created job %s (%s) at %s\n", desc.JobID, desc.JobName, desc.ProjectDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Job name (required)")
	cmd.Flags().StringVar(&template, "template", "", "Script template id (required)")
	cmd.Flags().StringArrayVar(&values, "value", nil, "Template value KEY=VAL (repeatable)")
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "Local input file to upload (repeatable)")
	cmd.Flags().IntVar(&cores, "cores", 1, "CPU cores to request")
	cmd.Flags().IntVar(&memoryMB, "mem", 0, "Memory in MB (0 = scheduler default)")
	cmd.Flags().StringVar(&walltime, "walltime", "01:00:00", "Walltime limit (HH:MM:SS)")
	cmd.Flags().StringVar(&partition, "partition", "", "Scheduler partition (default from config)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("template")

	return cmd
}

// newJobsSubmitCmd creates the 'jobs submit' command.
func newJobsSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <job-id>",
		Short: "Submit a created job to the scheduler",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := connectEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			jobID := args[0]
			if err := eng.SubmitJob(GetContext(), jobID); err != nil {
				return err
			}
			desc, err := eng.Job(jobID)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(desc)
			}
			fmt.Printf("Submitted job %s as scheduler job %s\n", jobID, desc.SchedulerJobID)
			return nil
		},
	}
	return cmd
}

// newJobsSyncCmd creates the 'jobs sync' command.
func newJobsSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Poll the scheduler and reconcile all cached jobs",
		Long: `Poll the scheduler for every active job and apply the observed
transitions. Jobs that finished successfully have their results copied
back and their completion recorded. With an empty local cache, the job
list is rebuilt from the metadata files on the cluster.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := connectEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := eng.Sync(GetContext())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(res)
			}
			fmt.Printf("%d job(s), %d updated, %d completed\n", len(res.Jobs), res.Updated, res.Completed)
			for _, serr := range res.Errors {
				fmt.Fprintf(os.Stderr, "warning: %v\n", serr)
			}
			printJobTable(res.Jobs)
			return nil
		},
	}
	return cmd
}

// newJobsListCmd creates the 'jobs list' command. It reads only the
// local cache and never connects.
func newJobsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached jobs (no remote connection)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cacheDir, err := config.JobCacheDir()
			if err != nil {
				return err
			}
			store, err := cache.NewStore(cacheDir)
			if err != nil {
				return err
			}
			jobs, err := store.List()
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(jobs)
			}
			if len(jobs) == 0 {
				fmt.Println("No jobs in the local cache. Run 'gridlink jobs sync' to rebuild it.")
				return nil
			}
			printJobTable(jobs)
			return nil
		},
	}
	return cmd
}

// newJobsFetchCmd creates the 'jobs fetch' command.
func newJobsFetchCmd() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "fetch <job-id>",
		Short: "Download a completed job's output files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := connectEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			dir := outDir
			if dir == "" {
				dir = args[0] + "-outputs"
			}
			paths, err := eng.FetchResults(GetContext(), args[0], dir)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(paths)
			}
			fmt.Printf("Fetched %d file(s) to %s\n", len(paths), dir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Local output directory (default <job-id>-outputs)")

	return cmd
}

// newJobsCancelCmd creates the 'jobs cancel' command.
func newJobsCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := connectEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := eng.CancelJob(GetContext(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Cancelled job %s\n", args[0])
			return nil
		},
	}
	return cmd
}

// newJobsDeleteCmd creates the 'jobs delete' command.
func newJobsDeleteCmd() *cobra.Command {
	var (
		keepRemote bool
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a job's remote directories and its cache entry",
		Long: `Delete a job. The remote project and scratch directories are removed
first; the local cache entry goes only after that succeeds. Active jobs
are cancelled with the scheduler before removal.

Use --keep-remote to drop only the local cache entry.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			if !yes && !keepRemote {
				ok, err := promptConfirm(fmt.Sprintf("Permanently delete job %s and its remote data?", jobID))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("Aborted.")
					return nil
				}
			}

			if keepRemote {
				cacheDir, err := config.JobCacheDir()
				if err != nil {
					return err
				}
				store, err := cache.NewStore(cacheDir)
				if err != nil {
					return err
				}
				if err := store.Delete(jobID); err != nil {
					return err
				}
				fmt.Printf("Removed job %s from the local cache\n", jobID)
				return nil
			}

			eng, cleanup, err := connectEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := eng.DeleteJob(GetContext(), jobID, true); err != nil {
				return err
			}
			fmt.Printf("Deleted job %s\n", jobID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&keepRemote, "keep-remote", false, "Remove only the local cache entry")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

// printJobTable renders jobs in a fixed-width table on stdout.
func printJobTable(jobs []*models.JobDescriptor) {
	if len(jobs) == 0 {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB ID\tNAME\tSTATUS\tSCHED ID\tCREATED")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			j.JobID, j.JobName, j.Status, orDash(j.SchedulerJobID),
			j.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
