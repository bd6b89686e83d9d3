package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chromdm/internal/config"
	"chromdm/internal/pairing"
	"chromdm/internal/report"
)

func newReportCommand(ctx *commandContext) *cobra.Command {
	var flags filterFlags
	var outDir string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write the paired selection and a per-cell summary as CSV",
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

			result, err := ctx.pairer(store, flags.refresh).FindPaired(cmd.Context(), flags.filters(cmd), pairing.NewResolutionCache())
			if err != nil {
				return err
			}

			dir := cfg.ReportsDir()
			if strings.TrimSpace(outDir) != "" {
				if dir, err = config.ExpandPath(outDir); err != nil {
					return fmt.Errorf("resolve output directory: %w", err)
				}
			}
			files, err := report.Export(dir, result.Datasets, time.Now())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote %d paired rows to %s\n", len(result.Datasets), files.Paired)
			fmt.Fprintf(out, "Wrote %d cell lines to %s\n", len(report.Summarize(result.Datasets)), files.Summary)
			printCounters(cmd, result.Counters)
			return nil
		},
	}
	flags.bind(cmd, true)
	cmd.Flags().StringVar(&outDir, "out", "", "Output directory (defaults to <data_dir>/reports)")
	return cmd
}
