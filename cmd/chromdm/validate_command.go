package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"chromdm/internal/validate"
)

func newValidateCommand(ctx *commandContext) *cobra.Command {
	var species string
	var jsonOut bool
	var invalidOnly bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check ledger entries for assembly, companion, and file integrity",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			report, err := validate.Run(cmd.Context(), store, species)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, report)
			}

			out := cmd.OutOrStdout()
			rows := make([][]string, 0, len(report.Entries))
			for _, entry := range report.Entries {
				if invalidOnly && entry.Valid {
					continue
				}
				rows = append(rows, []string{
					entry.CellLine,
					entry.Assembly,
					entry.PrimaryAccession,
					orDash(entry.CompanionAccession),
					checkStatus(entry, validate.CheckPrimaryIntegrity),
					checkStatus(entry, validate.CheckCompanionIntegrity),
					yesNo(entry.Valid),
				})
			}
			if len(rows) > 0 {
				fmt.Fprintln(out, renderTable(
					[]string{"Cell line", "Assembly", "mcool", "cCRE", "mcool file", "cCRE file", "Valid"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				))
			}
			s := report.Summary
			fmt.Fprintf(out, "Checked %d: %d valid, %d invalid, %d assembly mismatches, %d missing cCRE, %d missing mcool files\n",
				s.TotalChecked, s.Valid, s.Invalid, s.AssemblyMismatches, s.MissingCompanion, s.MissingPrimary)
			return nil
		},
	}
	cmd.Flags().StringVar(&species, "species", "", "Only this species (substring match)")
	cmd.Flags().BoolVar(&invalidOnly, "invalid", false, "Only show entries that failed a check")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	return cmd
}

func checkStatus(entry validate.Entry, name string) string {
	for _, c := range entry.Checks {
		if c.Name == name {
			return string(c.Status)
		}
	}
	return "-"
}
