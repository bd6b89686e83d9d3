package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"chromdm/internal/catalog"
	"chromdm/internal/identity"
	"chromdm/internal/logging"
	"chromdm/internal/pairing"
)

type filterFlags struct {
	label         string
	tissues       []string
	minGB         float64
	maxGB         float64
	onePerCell    bool
	minReplicates int
	maxReplicates int
	refresh       bool
}

func (f *filterFlags) bind(cmd *cobra.Command, full bool) {
	cmd.Flags().StringVar(&f.label, "label", "", "Only records whose raw label contains TEXT (case-insensitive)")
	cmd.Flags().BoolVar(&f.refresh, "refresh", false, "Ignore the cached 4DN inventory")
	cmd.Flags().StringSliceVar(&f.tissues, "tissue", nil, "Allowed tissues, matched whole and ignoring case (repeatable, e.g. \"Leukemia (CML)\")")
	cmd.Flags().Float64Var(&f.minGB, "min-gb", 0, "Minimum mcool size in GB")
	cmd.Flags().Float64Var(&f.maxGB, "max-gb", 0, "Maximum mcool size in GB")
	if !full {
		return
	}
	cmd.Flags().BoolVar(&f.onePerCell, "one-per-cell", false, "Keep only the largest mcool per cell line")
	cmd.Flags().IntVar(&f.minReplicates, "min-replicates", 0, "Minimum mcool files per cell line")
	cmd.Flags().IntVar(&f.maxReplicates, "max-replicates", 0, "Maximum mcool files per cell line")
}

// filters maps flags onto pairing.Filters; a bound is set only when its flag
// was given.
func (f *filterFlags) filters(cmd *cobra.Command) pairing.Filters {
	out := pairing.Filters{
		Label:          strings.TrimSpace(f.label),
		Tissues:        f.tissues,
		OnePerIdentity: f.onePerCell,
	}
	changed := func(name string) bool {
		flag := cmd.Flags().Lookup(name)
		return flag != nil && flag.Changed
	}
	if changed("min-gb") {
		out.MinSizeGB = pairing.Float(f.minGB)
	}
	if changed("max-gb") {
		out.MaxSizeGB = pairing.Float(f.maxGB)
	}
	if changed("min-replicates") {
		out.MinReplicates = pairing.Int(f.minReplicates)
	}
	if changed("max-replicates") {
		out.MaxReplicates = pairing.Int(f.maxReplicates)
	}
	return out
}

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var label string
	var refresh bool

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "List the 4DN mcool catalog and record it in the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			logger := ctx.log()
			records, listErr := ctx.primarySource(refresh).ListAll(cmd.Context(), catalog.LabelContains(label))
			var partial *catalog.PartialError
			if listErr != nil && !errors.As(listErr, &partial) {
				return fmt.Errorf("list 4DN catalog: %w", listErr)
			}

			var stored, unknown, malformed int
			for _, rec := range records {
				if identity.IsUnknown(rec.Identity.Canonical) {
					unknown++
					continue
				}
				if strings.TrimSpace(rec.Accession) == "" {
					malformed++
					continue
				}
				if err := store.UpsertIdentity(cmd.Context(), rec.Identity); err != nil {
					return err
				}
				if err := store.UpsertPrimaryRecord(cmd.Context(), rec); err != nil {
					return err
				}
				stored++
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Recorded %s mcool records (%s skipped as unknown, %s without accession)\n",
				formatCount(stored), formatCount(unknown), formatCount(malformed))
			if partial != nil {
				logging.WarnWithContext(logger, "4DN listing incomplete", "catalog_partial",
					logging.Int("fetched", partial.Fetched),
					logging.Int("total", partial.Total),
					logging.Error(partial.Err),
					logging.String(logging.FieldErrorHint, "run fetch --refresh to retry"),
				)
				fmt.Fprintf(out, "Warning: listing stopped early at %d of %d experiment sets\n", partial.Fetched, partial.Total)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "Only records whose raw label contains TEXT (case-insensitive)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Ignore the cached 4DN inventory")
	return cmd
}

func newPairedCommand(ctx *commandContext) *cobra.Command {
	var flags filterFlags
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "paired",
		Short: "List mcool experiments that have a cCRE annotation for their cell line",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := ctx.pairer(store, flags.refresh).FindPaired(cmd.Context(), flags.filters(cmd), pairing.NewResolutionCache())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, result)
			}
			renderPaired(cmd, result)
			return nil
		},
	}
	flags.bind(cmd, true)
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	return cmd
}

func renderPaired(cmd *cobra.Command, result pairing.PairedResult) {
	out := cmd.OutOrStdout()
	if len(result.Datasets) == 0 {
		fmt.Fprintln(out, "No paired datasets")
		printCounters(cmd, result.Counters)
		return
	}
	rows := make([][]string, 0, len(result.Datasets))
	var total int64
	for _, p := range result.Datasets {
		total += p.TotalSize
		rows = append(rows, []string{
			p.Identity.Canonical,
			p.Identity.Species,
			p.Primary.Accession,
			formatBytes(p.Primary.SizeBytes),
			p.Companion.Accession,
			formatBytes(p.TotalSize),
			orDash(p.Primary.Tissue()),
			orDash(p.Primary.Treatment),
		})
	}
	spec := tableSpec{
		headers: []string{"Cell line", "Species", "mcool", "Size", "cCRE", "Total", "Tissue", "Treatment"},
		aligns:  []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft, alignLeft},
		footer:  []string{fmt.Sprintf("%d datasets", len(rows)), "", "", "", "", formatBytes(total), "", ""},
	}
	fmt.Fprintln(out, spec.render(rows))
	printCounters(cmd, result.Counters)
}

func newUnpairedCommand(ctx *commandContext) *cobra.Command {
	var flags filterFlags
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "unpaired",
		Short: "List mcool experiments without a cCRE annotation",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := ctx.pairer(store, flags.refresh).FindNonPaired(cmd.Context(), flags.filters(cmd), pairing.NewResolutionCache())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, result)
			}
			out := cmd.OutOrStdout()
			if len(result.Records) == 0 {
				fmt.Fprintln(out, "No unpaired records")
				printCounters(cmd, result.Counters)
				return nil
			}
			rows := make([][]string, 0, len(result.Records))
			for _, u := range result.Records {
				rows = append(rows, []string{
					u.Record.Identity.Canonical,
					u.Record.Identity.Species,
					u.Record.Accession,
					formatBytes(u.Record.SizeBytes),
					u.Reason,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Cell line", "Species", "mcool", "Size", "Reason"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			printCounters(cmd, result.Counters)
			return nil
		},
	}
	flags.bind(cmd, false)
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	return cmd
}

func printCounters(cmd *cobra.Command, c pairing.Counters) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d cell lines checked", c.Identities)
	if c.LookupFailures > 0 {
		fmt.Fprintf(out, ", %d cCRE lookups failed", c.LookupFailures)
	}
	if c.Malformed > 0 {
		fmt.Fprintf(out, ", %d records without accession", c.Malformed)
	}
	if c.RecordFailures > 0 {
		fmt.Fprintf(out, ", %d ledger writes failed", c.RecordFailures)
	}
	if c.Incomplete {
		fmt.Fprint(out, " (4DN listing incomplete)")
	}
	fmt.Fprintln(out)
}
