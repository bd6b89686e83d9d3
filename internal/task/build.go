package task

import (
	"context"
	"fmt"
	"strings"

	"chromdm/internal/catalog"
	"chromdm/internal/ledger"
	"chromdm/internal/pairing"
)

// FromPaired turns paired rows into tasks: one per primary, plus one per
// distinct companion, placed right after the first primary of its identity.
func FromPaired(rows []pairing.Paired, layout Layout) []Task {
	var out []Task
	seen := make(map[string]bool)
	for _, row := range rows {
		out = append(out, layout.Primary(row.Primary))
		if row.Companion.Accession == "" || seen[row.Companion.Accession] {
			continue
		}
		seen[row.Companion.Accession] = true
		out = append(out, layout.Companion(row.Companion))
	}
	return out
}

// Item selects ledger rows for one identity.
type Item struct {
	CellLine         string   `json:"cell_line"`
	Accessions       []string `json:"accessions,omitempty"`
	IncludeCompanion bool     `json:"include_ccre"`
}

// LedgerSource is the read side of the ledger used to pre-resolve tasks.
type LedgerSource interface {
	PrimariesFor(ctx context.Context, cellLine string, accessions []string) ([]ledger.PrimaryRow, error)
	CompanionFor(ctx context.Context, cellLine string) (*ledger.CompanionRow, error)
}

// FromLedger resolves items into a self-contained task list so background
// jobs never need the ledger. Primaries come largest first when no
// accessions are named.
func FromLedger(ctx context.Context, src LedgerSource, items []Item, layout Layout) ([]Task, error) {
	var out []Task
	seen := make(map[string]bool)
	add := func(t Task) {
		key := string(t.Kind) + ":" + t.Accession
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, t)
	}

	for _, item := range items {
		name := strings.TrimSpace(item.CellLine)
		if name == "" {
			continue
		}
		rows, err := src.PrimariesFor(ctx, name, item.Accessions)
		if err != nil {
			return nil, fmt.Errorf("resolve primaries for %s: %w", name, err)
		}
		for _, row := range rows {
			add(layout.Primary(row.PrimaryRecord))
		}
		if !item.IncludeCompanion {
			continue
		}
		comp, err := src.CompanionFor(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("resolve companion for %s: %w", name, err)
		}
		if comp != nil {
			add(layout.Companion(comp.CompanionRecord))
		}
	}
	return out, nil
}

// ItemsFromRows groups ledger rows into one item per identity, keeping the
// given accessions.
func ItemsFromRows(rows []ledger.PrimaryRow, includeCompanion bool) []Item {
	index := make(map[string]int)
	var items []Item
	for _, row := range rows {
		name := row.Identity.Canonical
		i, ok := index[name]
		if !ok {
			i = len(items)
			index[name] = i
			items = append(items, Item{CellLine: name, IncludeCompanion: includeCompanion})
		}
		items[i].Accessions = append(items[i].Accessions, row.Accession)
	}
	return items
}

// Kinds counts tasks per kind.
func Kinds(tasks []Task) map[catalog.Kind]int {
	out := make(map[catalog.Kind]int)
	for _, t := range tasks {
		out[t.Kind]++
	}
	return out
}
