package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"chromdm/internal/download"
	"chromdm/internal/job"
	"chromdm/internal/logging"
	"chromdm/internal/notifications"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Run downloads in a detached background process",
	}
	cmd.AddCommand(newJobStartCommand(ctx))
	cmd.AddCommand(newJobListCommand(ctx))
	cmd.AddCommand(newJobStatusCommand(ctx))
	cmd.AddCommand(newJobStopCommand(ctx))
	cmd.AddCommand(newJobDeleteCommand(ctx))
	cmd.AddCommand(newJobReconcileCommand(ctx))
	cmd.AddCommand(newJobRunCommand(ctx))
	return cmd
}

func (c *commandContext) jobManager() (*job.Manager, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	executable, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	opts := []job.ManagerOption{job.WithManagerLogger(logging.NewComponentLogger(c.log(), "jobs"))}
	if c.configPath != "" {
		opts = append(opts, job.WithExtraArgs("--config", c.configPath))
	}
	return job.NewManager(cfg.JobsDir(), executable, opts...), nil
}

func newJobStartCommand(ctx *commandContext) *cobra.Command {
	var sel taskSelection

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Resolve files from the ledger and download them in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			tasks, err := sel.resolve(cmd, ctx, store)
			// The background process never opens the ledger; release it first.
			store.Close()
			if err != nil {
				return err
			}

			manager, err := ctx.jobManager()
			if err != nil {
				return err
			}
			st, err := manager.Start(cmd.Context(), tasks)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Started job %s (pid %d): %s\n", st.JobID, st.PID, describeTasks(tasks))
			fmt.Fprintf(out, "Follow with: chromdm job status %s\n", st.JobID)
			return nil
		},
	}
	sel.bind(cmd)
	return cmd
}

func newJobListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List background jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := ctx.jobManager()
			if err != nil {
				return err
			}
			states, err := manager.List(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				if states == nil {
					states = []job.State{}
				}
				return writeJSON(cmd, states)
			}
			out := cmd.OutOrStdout()
			if len(states) == 0 {
				fmt.Fprintln(out, "No jobs")
				return nil
			}
			rows := make([][]string, 0, len(states))
			for _, st := range states {
				rows = append(rows, []string{
					st.JobID,
					string(st.Status),
					fmt.Sprintf("%d/%d", st.Completed+st.Failed, st.TotalTasks),
					formatPercent(st.Progress()),
					formatGB(st.TotalGB),
					formatAge(st.StartedAt),
					orDash(strings.Join(st.CellLines, ", ")),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Job", "Status", "Tasks", "Progress", "GB", "Started", "Cell lines"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	return cmd
}

func newJobStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show one job with its recent log lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := ctx.jobManager()
			if err != nil {
				return err
			}
			st, err := manager.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, st)
			}
			renderJobStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	return cmd
}

func renderJobStatus(out io.Writer, st job.State) {
	fmt.Fprintf(out, "Job:       %s\n", st.JobID)
	fmt.Fprintf(out, "Status:    %s\n", st.Status)
	if st.PID > 0 {
		fmt.Fprintf(out, "PID:       %d\n", st.PID)
	}
	fmt.Fprintf(out, "Progress:  %d/%d (%s), %d failed\n", st.Completed+st.Failed, st.TotalTasks, formatPercent(st.Progress()), st.Failed)
	fmt.Fprintf(out, "Size:      %s GB\n", formatGB(st.TotalGB))
	fmt.Fprintf(out, "Started:   %s\n", formatAge(st.StartedAt))
	if st.FinishedAt != nil {
		fmt.Fprintf(out, "Finished:  %s\n", formatAge(*st.FinishedAt))
	}
	if st.Current != "" {
		fmt.Fprintf(out, "Current:   %s\n", st.Current)
	}
	if st.Error != "" {
		fmt.Fprintf(out, "Error:     %s\n", st.Error)
	}

	if len(st.Results) > 0 {
		rows := make([][]string, 0, len(st.Results))
		for _, r := range st.Results {
			result := "ok"
			if !r.Success {
				result = "failed: " + r.Error
			}
			rows = append(rows, []string{r.Identity, string(r.Kind), r.Accession, formatGB(r.SizeGB), result})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Cell line", "Type", "Accession", "GB", "Result"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
		))
	}
	if len(st.LogTail) > 0 {
		fmt.Fprintf(out, "\nLog (%s):\n", st.LogFile)
		for _, line := range st.LogTail {
			fmt.Fprintf(out, "  %s\n", line)
		}
	}
}

func newJobStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <job-id>",
		Short: "Cancel a job after its current file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := ctx.jobManager()
			if err != nil {
				return err
			}
			st, err := manager.Stop(cmd.Context(), args[0])
			if err != nil {
				if errors.Is(err, job.ErrNotActive) {
					return fmt.Errorf("job %s is %s: %w", args[0], st.Status, err)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stop requested for job %s; the current file will finish first\n", st.JobID)
			return nil
		},
	}
}

func newJobDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Remove the files of a finished job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := ctx.jobManager()
			if err != nil {
				return err
			}
			if err := manager.Delete(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, job.ErrJobRunning) {
					return fmt.Errorf("%w: stop job %s first", err, args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted job %s\n", args[0])
			return nil
		},
	}
}

func newJobReconcileCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <job-id>",
		Short: "Mark the files a job downloaded in the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := ctx.jobManager()
			if err != nil {
				return err
			}
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			marked, err := manager.Reconcile(cmd.Context(), args[0], store)
			fmt.Fprintf(cmd.OutOrStdout(), "Marked %d files as downloaded\n", marked)
			return err
		},
	}
}

// newJobRunCommand is the entry point of the detached process. Its stdout
// and stderr are the job log.
func newJobRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:    "run <job-id> <state-file> <tasks-file>",
		Hidden: true,
		Args:   cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Level:            cfg.Logging.Level,
				Format:           cfg.Logging.Format,
				OutputPaths:      []string{"stdout"},
				ErrorOutputPaths: []string{"stderr"},
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			logger = logging.NewComponentLogger(logger, "job")

			engine := download.NewEngine(download.Options{
				ChunkSize:   cfg.Jobs.ChunkMiB << 20,
				Timeout:     cfg.JobTimeout(),
				Credentials: ctx.credentials(),
				Logger:      logger,
			})
			supervisor := job.NewSupervisor(engine,
				job.WithSupervisorLogger(logger),
				job.WithNotifier(notifications.NewService(cfg)),
			)
			if code := supervisor.RunFromFiles(signalCtx, args[0], args[1], args[2]); code != 0 {
				return exitError{code: code}
			}
			return nil
		},
	}
}
