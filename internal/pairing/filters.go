package pairing

import (
	"strings"

	"chromdm/internal/catalog"
)

// Filters narrows pairing output. Nil bounds are absent, which is distinct
// from a zero bound.
type Filters struct {
	Label          string
	Tissues        []string
	MinSizeGB      *float64
	MaxSizeGB      *float64
	OnePerIdentity bool
	MinReplicates  *int
	MaxReplicates  *int
}

// Float returns a pointer to v for use as a Filters bound.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v for use as a Filters bound.
func Int(v int) *int { return &v }

// matchTissue reports whether the identity's table tissue is one of the
// allow-listed tissues, ignoring case. The catalog's own tissue text plays no
// part. An empty allow-list matches everything.
func (f Filters) matchTissue(rec catalog.PrimaryRecord) bool {
	if len(f.Tissues) == 0 {
		return true
	}
	tissue := strings.ToLower(strings.TrimSpace(rec.Identity.Tissue))
	for _, want := range f.Tissues {
		if strings.ToLower(strings.TrimSpace(want)) == tissue {
			return true
		}
	}
	return false
}

func (f Filters) matchSize(rec catalog.PrimaryRecord) bool {
	gb := rec.SizeGB()
	if f.MinSizeGB != nil && gb < *f.MinSizeGB {
		return false
	}
	if f.MaxSizeGB != nil && gb > *f.MaxSizeGB {
		return false
	}
	return true
}

func (f Filters) matchReplicates(n int) bool {
	if f.MinReplicates != nil && n < *f.MinReplicates {
		return false
	}
	if f.MaxReplicates != nil && n > *f.MaxReplicates {
		return false
	}
	return true
}

// tissueAndSize runs stages (a) and (b), preserving order.
func (f Filters) tissueAndSize(records []catalog.PrimaryRecord) []catalog.PrimaryRecord {
	out := make([]catalog.PrimaryRecord, 0, len(records))
	for _, rec := range records {
		if f.matchTissue(rec) && f.matchSize(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// reduce runs stages (c) and (d) over paired rows. The largest primary wins
// per identity; ties keep the earlier row. Replicate counts are taken after
// the reduction.
func (f Filters) reduce(rows []Paired) []Paired {
	if f.OnePerIdentity {
		best := make(map[string]int, len(rows))
		var order []string
		for i, row := range rows {
			name := row.Identity.Canonical
			j, ok := best[name]
			if !ok {
				best[name] = i
				order = append(order, name)
				continue
			}
			if row.Primary.SizeBytes > rows[j].Primary.SizeBytes {
				best[name] = i
			}
		}
		reduced := make([]Paired, 0, len(order))
		for _, name := range order {
			reduced = append(reduced, rows[best[name]])
		}
		rows = reduced
	}

	if f.MinReplicates == nil && f.MaxReplicates == nil {
		return rows
	}
	counts := make(map[string]int)
	for _, row := range rows {
		counts[row.Identity.Canonical]++
	}
	out := make([]Paired, 0, len(rows))
	for _, row := range rows {
		if f.matchReplicates(counts[row.Identity.Canonical]) {
			out = append(out, row)
		}
	}
	return out
}
