package main

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"chromdm/internal/download"
	"chromdm/internal/logging"
	"chromdm/internal/notifications"
	"chromdm/internal/task"
)

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var sel taskSelection
	var workers int
	var noResume bool
	var dryRun bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download paired mcool and cCRE files in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			tasks, err := sel.resolve(cmd, ctx, store)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if dryRun {
				renderTasks(out, tasks)
				return nil
			}
			if !cfg.HasFourDNCredentials() {
				logging.WarnWithContext(ctx.log(), "4DN credentials not configured", "credentials_missing",
					logging.String(logging.FieldErrorHint, "set FOURDN_ACCESS_ID and FOURDN_SECRET_KEY"),
					logging.String(logging.FieldImpact, "restricted mcool files will fail with 403"),
				)
			}

			logger := logging.NewComponentLogger(ctx.log(), "download")
			engine := download.NewEngine(download.Options{
				ChunkSize:   cfg.Downloads.ChunkMiB << 20,
				Timeout:     cfg.DownloadTimeout(),
				Credentials: ctx.credentials(),
				Logger:      logger,
			})
			maxParallel := cfg.Downloads.MaxParallel
			if workers > 0 {
				maxParallel = workers
			}
			reporter := newProgressReporter(cmd.ErrOrStderr(), logger)
			coordinator := download.NewCoordinator(engine,
				download.WithMarker(store),
				download.WithMaxParallel(maxParallel),
				download.WithResume(cfg.Downloads.Resume && !noResume),
				download.WithProgress(reporter.report),
				download.WithCoordinatorLogger(logger),
			)

			fmt.Fprintf(out, "Downloading %s with %d workers\n", describeTasks(tasks), maxParallel)
			started := time.Now()
			outcomes := coordinator.Run(cmd.Context(), tasks)
			reporter.finish()
			succeeded, failed := download.Summarize(outcomes)
			if err := notifications.NewService(cfg).NotifyDownloadsCompleted(cmd.Context(), succeeded, failed, time.Since(started)); err != nil {
				logging.WarnWithContext(logger, "download notification failed", "notification_failed", logging.Error(err))
			}

			if jsonOut {
				if err := writeJSON(cmd, outcomeRows(outcomes)); err != nil {
					return err
				}
			} else {
				renderOutcomes(out, outcomes)
			}
			if failed > 0 {
				return exitError{code: 1}
			}
			return nil
		},
	}
	sel.bind(cmd)
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent transfers (defaults to downloads.max_parallel)")
	cmd.Flags().BoolVar(&noResume, "no-resume", false, "Restart partial files from the beginning")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List the files without downloading")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit outcomes as JSON")
	return cmd
}

// progressReporter redraws one status line on a terminal and falls back to
// sampled log lines otherwise.
type progressReporter struct {
	mu       sync.Mutex
	out      io.Writer
	tty      bool
	logger   *slog.Logger
	sampler  *logging.ProgressSampler
	lastLine int
}

func newProgressReporter(out io.Writer, logger *slog.Logger) *progressReporter {
	return &progressReporter{
		out:     out,
		tty:     isTerminal(out),
		logger:  logger,
		sampler: logging.NewProgressSampler(10),
	}
}

func (r *progressReporter) report(p download.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tty {
		line := fmt.Sprintf("%s %5.1f%% %s/%s %.1f MB/s", p.Accession, p.Percent,
			formatBytes(p.BytesWritten), formatBytes(p.BytesTotal), p.SpeedMBps)
		pad := max(r.lastLine-len(line), 0)
		fmt.Fprintf(r.out, "\r%s%*s", line, pad, "")
		r.lastLine = len(line)
		return
	}
	if !r.sampler.ShouldLog(p.Accession, p.Percent) {
		return
	}
	r.logger.Info("download progress",
		logging.String(logging.FieldAccession, p.Accession),
		logging.Float64("percent", p.Percent),
		logging.Int64("bytes_written", p.BytesWritten),
		logging.Float64("speed_mbps", p.SpeedMBps),
	)
	if p.Percent >= 100 {
		r.sampler.Forget(p.Accession)
	}
}

func (r *progressReporter) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tty && r.lastLine > 0 {
		fmt.Fprintln(r.out)
	}
	r.lastLine = 0
	r.sampler.Reset()
}

type outcomeRow struct {
	task.Task
	Success bool    `json:"success"`
	Path    string  `json:"local_path,omitempty"`
	Error   string  `json:"error,omitempty"`
	Seconds float64 `json:"elapsed_seconds"`
}

func outcomeRows(outcomes []download.Outcome) []outcomeRow {
	rows := make([]outcomeRow, 0, len(outcomes))
	for _, o := range outcomes {
		rows = append(rows, outcomeRow{
			Task:    o.Task,
			Success: o.Success,
			Path:    o.Path,
			Error:   o.Error(),
			Seconds: o.Elapsed.Seconds(),
		})
	}
	return rows
}

func renderOutcomes(out io.Writer, outcomes []download.Outcome) {
	sorted := append([]download.Outcome(nil), outcomes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Task.Identity != sorted[j].Task.Identity {
			return sorted[i].Task.Identity < sorted[j].Task.Identity
		}
		return sorted[i].Task.Accession < sorted[j].Task.Accession
	})
	rows := make([][]string, 0, len(sorted))
	for _, o := range sorted {
		status := "ok"
		if !o.Success {
			status = "failed: " + o.Error()
		}
		rows = append(rows, []string{
			o.Task.Identity,
			string(o.Task.Kind),
			o.Task.Accession,
			formatBytes(o.Task.SizeBytes),
			status,
		})
	}
	succeeded, failed := download.Summarize(outcomes)
	spec := tableSpec{
		headers: []string{"Cell line", "Type", "Accession", "Size", "Result"},
		aligns:  []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
		footer:  []string{fmt.Sprintf("%d ok, %d failed", succeeded, failed)},
	}
	fmt.Fprintln(out, spec.render(rows))
}

func renderTasks(out io.Writer, tasks []task.Task) {
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, []string{t.Identity, string(t.Kind), t.Accession, formatBytes(t.SizeBytes), t.Path})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Cell line", "Type", "Accession", "Size", "Destination"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
	fmt.Fprintln(out, describeTasks(tasks))
}
