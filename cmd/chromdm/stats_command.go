package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"chromdm/internal/catalog"
	"chromdm/internal/ledger"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var perCell bool
	var duplicates bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if perCell || duplicates {
				var rows []ledger.IdentityStat
				if duplicates {
					rows, err = store.Duplicates(cmd.Context())
				} else {
					rows, err = store.IdentityStats(cmd.Context())
				}
				if err != nil {
					return err
				}
				if jsonOut {
					if rows == nil {
						rows = []ledger.IdentityStat{}
					}
					return writeJSON(cmd, rows)
				}
				renderIdentityStats(out, rows)
				return nil
			}

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, stats)
			}
			renderStats(out, stats)
			return nil
		},
	}
	cmd.Flags().BoolVar(&perCell, "cells", false, "Per cell line rollup")
	cmd.Flags().BoolVar(&duplicates, "duplicates", false, "Cell lines with more than one mcool")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	return cmd
}

func renderStats(out io.Writer, st ledger.Stats) {
	fmt.Fprintln(out, renderTable(
		[]string{"Metric", "Value"},
		[][]string{
			{"Cell lines", formatCount(st.Identities)},
			{"Cell lines with cCRE", formatCount(st.PairedIdentities)},
			{"mcool records", formatCount(st.Primaries)},
			{"mcool total", formatBytes(st.PrimaryBytes)},
			{"cCRE records", formatCount(st.Companions)},
			{"cCRE total", formatBytes(st.CompanionBytes)},
		},
		[]columnAlignment{alignLeft, alignRight},
	))

	for _, section := range []struct {
		title  string
		counts []ledger.Count
	}{
		{"Species", st.Species},
		{"Treatment", st.Treatments},
		{"Tissue", st.Tissues},
		{"mcool size", st.SizeBuckets},
	} {
		if len(section.counts) == 0 {
			continue
		}
		rows := make([][]string, 0, len(section.counts))
		for _, c := range section.counts {
			rows = append(rows, []string{c.Label, formatCount(c.Count)})
		}
		fmt.Fprintln(out, renderTable([]string{section.title, "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
	}

	if len(st.Download) == 0 {
		return
	}
	kinds := make([]string, 0, len(st.Download))
	for kind := range st.Download {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	rows := make([][]string, 0, len(kinds))
	for _, kind := range kinds {
		counts := st.Download[catalog.Kind(kind)]
		rows = append(rows, []string{
			kind,
			formatCount(counts[ledger.StatusPending]),
			formatCount(counts[ledger.StatusDownloaded]),
			formatCount(counts[ledger.StatusFailed]),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Type", "Pending", "Downloaded", "Failed"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
	))
}

func renderIdentityStats(out io.Writer, rows []ledger.IdentityStat) {
	if len(rows) == 0 {
		fmt.Fprintln(out, "No cell lines")
		return
	}
	table := make([][]string, 0, len(rows))
	for _, st := range rows {
		table = append(table, []string{
			st.CellLine,
			st.Species,
			orDash(st.Tissue),
			formatCount(st.Replicates),
			formatCount(st.Downloaded),
			formatBytes(st.PrimaryBytes),
			yesNo(st.HasCompanion),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Cell line", "Species", "Tissue", "mcool", "Downloaded", "Size", "cCRE"},
		table,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
	))
}
