package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"chromdm/internal/catalog"
	"chromdm/internal/ledger"
	"chromdm/internal/pairing"
	"chromdm/internal/task"
)

var errNothingSelected = errors.New("no files matched the selection")

// taskSelection picks the files for download and job start. Cell lines and
// pending mode read the ledger only; otherwise the catalogs are paired live.
type taskSelection struct {
	filters     filterFlags
	cells       []string
	accessions  []string
	pending     bool
	noCompanion bool
}

func (s *taskSelection) bind(cmd *cobra.Command) {
	s.filters.bind(cmd, true)
	cmd.Flags().StringSliceVar(&s.cells, "cell", nil, "Cell line to download (repeatable, resolved from the ledger)")
	cmd.Flags().StringSliceVar(&s.accessions, "accession", nil, "Limit --cell to these mcool accessions")
	cmd.Flags().BoolVar(&s.pending, "pending", false, "Every paired mcool not yet downloaded")
	cmd.Flags().BoolVar(&s.noCompanion, "no-ccre", false, "Skip cCRE annotations")
}

func (s *taskSelection) resolve(cmd *cobra.Command, ctx *commandContext, store *ledger.Store) ([]task.Task, error) {
	if len(s.accessions) > 0 && len(s.cells) != 1 {
		return nil, errors.New("--accession needs exactly one --cell")
	}
	if s.pending && len(s.cells) > 0 {
		return nil, errors.New("--pending and --cell are mutually exclusive")
	}

	var (
		tasks []task.Task
		err   error
	)
	switch {
	case len(s.cells) > 0:
		items := make([]task.Item, 0, len(s.cells))
		for _, cell := range s.cells {
			items = append(items, task.Item{
				CellLine:         strings.TrimSpace(cell),
				Accessions:       s.accessions,
				IncludeCompanion: !s.noCompanion,
			})
		}
		tasks, err = task.FromLedger(cmd.Context(), store, items, ctx.layout())
	case s.pending:
		rows, qerr := store.PendingPaired(cmd.Context())
		if qerr != nil {
			return nil, fmt.Errorf("load pending records: %w", qerr)
		}
		tasks, err = task.FromLedger(cmd.Context(), store, task.ItemsFromRows(rows, !s.noCompanion), ctx.layout())
	default:
		result, perr := ctx.pairer(store, s.filters.refresh).FindPaired(cmd.Context(), s.filters.filters(cmd), pairing.NewResolutionCache())
		if perr != nil {
			return nil, perr
		}
		tasks = task.FromPaired(result.Datasets, ctx.layout())
		if s.noCompanion {
			tasks = primariesOnly(tasks)
		}
	}
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, errNothingSelected
	}
	return tasks, nil
}

func primariesOnly(tasks []task.Task) []task.Task {
	out := tasks[:0]
	for _, t := range tasks {
		if t.Kind == catalog.KindPrimary {
			out = append(out, t)
		}
	}
	return out
}

func describeTasks(tasks []task.Task) string {
	kinds := task.Kinds(tasks)
	return fmt.Sprintf("%d mcool + %d cCRE files, %s GB across %d cell lines",
		kinds[catalog.KindPrimary], kinds[catalog.KindCompanion],
		formatGB(task.TotalGB(tasks)), len(task.Identities(tasks)))
}
