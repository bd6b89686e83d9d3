package ledger

import (
	"context"
	"fmt"
	"strings"

	"chromdm/internal/catalog"
	"chromdm/internal/identity"
)

// Count is one labelled tally.
type Count struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Stats summarizes the ledger contents.
type Stats struct {
	Identities       int                             `json:"identities"`
	PairedIdentities int                             `json:"paired_identities"`
	Primaries        int                             `json:"primary_records"`
	Companions       int                             `json:"companion_records"`
	PrimaryBytes     int64                           `json:"primary_bytes"`
	CompanionBytes   int64                           `json:"companion_bytes"`
	Species          []Count                         `json:"species"`
	Treatments       []Count                         `json:"treatments"`
	Tissues          []Count                         `json:"tissues"`
	SizeBuckets      []Count                         `json:"size_distribution"`
	Download         map[catalog.Kind]map[Status]int `json:"download_status"`
}

// IdentityStat is the per-identity rollup.
type IdentityStat struct {
	CellLine     string `json:"cell_line"`
	Species      string `json:"species"`
	Tissue       string `json:"tissue"`
	Replicates   int    `json:"replicates"`
	Downloaded   int    `json:"downloaded"`
	PrimaryBytes int64  `json:"primary_bytes"`
	HasCompanion bool   `json:"has_ccre"`
}

// Readiness groups everything the validator needs for one identity.
type Readiness struct {
	Identity  identity.Identity `json:"identity"`
	Primaries []PrimaryRow      `json:"primaries"`
	Companion *CompanionRow     `json:"companion,omitempty"`
}

var sizeBucketLabels = []string{"<1 GB", "1-10 GB", "10-30 GB", "30-50 GB", ">50 GB"}

// Stats computes summary counts over the whole ledger.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `SELECT
        (SELECT COUNT(1) FROM identities),
        (SELECT COUNT(DISTINCT p.cell_line) FROM primary_records p
            WHERE EXISTS (SELECT 1 FROM companion_records c WHERE c.cell_line = p.cell_line)),
        (SELECT COUNT(1) FROM primary_records),
        (SELECT COUNT(1) FROM companion_records),
        (SELECT COALESCE(SUM(file_size), 0) FROM primary_records),
        (SELECT COALESCE(SUM(file_size), 0) FROM companion_records)`,
	).Scan(&st.Identities, &st.PairedIdentities, &st.Primaries, &st.Companions, &st.PrimaryBytes, &st.CompanionBytes)
	if err != nil {
		return Stats{}, fmt.Errorf("summary counts: %w", err)
	}

	if st.Species, err = s.counts(ctx,
		`SELECT species, COUNT(1) FROM identities GROUP BY species ORDER BY COUNT(1) DESC, species`); err != nil {
		return Stats{}, err
	}
	if st.Treatments, err = s.counts(ctx,
		`SELECT treatment, COUNT(1) FROM primary_records WHERE treatment IS NOT NULL AND treatment != ''
         GROUP BY treatment ORDER BY COUNT(1) DESC, treatment`); err != nil {
		return Stats{}, err
	}
	if st.Tissues, err = s.counts(ctx,
		`SELECT COALESCE(NULLIF(p.tissue, ''), i.tissue, 'Unknown'), COUNT(1)
         FROM primary_records p JOIN identities i ON i.cell_line = p.cell_line
         GROUP BY 1 ORDER BY COUNT(1) DESC, 1`); err != nil {
		return Stats{}, err
	}

	buckets, err := s.counts(ctx, `SELECT CASE
            WHEN file_size < 1073741824 THEN 0
            WHEN file_size < 10737418240 THEN 1
            WHEN file_size < 32212254720 THEN 2
            WHEN file_size < 53687091200 THEN 3
            ELSE 4 END AS bucket, COUNT(1)
        FROM primary_records GROUP BY bucket ORDER BY bucket`)
	if err != nil {
		return Stats{}, err
	}
	st.SizeBuckets = make([]Count, len(sizeBucketLabels))
	for i, label := range sizeBucketLabels {
		st.SizeBuckets[i] = Count{Label: label}
	}
	for _, b := range buckets {
		var idx int
		if _, scanErr := fmt.Sscanf(b.Label, "%d", &idx); scanErr == nil && idx >= 0 && idx < len(st.SizeBuckets) {
			st.SizeBuckets[idx].Count = b.Count
		}
	}

	st.Download = map[catalog.Kind]map[Status]int{
		catalog.KindPrimary:   {},
		catalog.KindCompanion: {},
	}
	for kind, table := range map[catalog.Kind]string{
		catalog.KindPrimary:   "primary_records",
		catalog.KindCompanion: "companion_records",
	} {
		rows, err := s.counts(ctx, `SELECT download_status, COUNT(1) FROM `+table+` GROUP BY download_status`)
		if err != nil {
			return Stats{}, err
		}
		for _, r := range rows {
			st.Download[kind][Status(r.Label)] = r.Count
		}
	}
	return st, nil
}

func (s *Store) counts(ctx context.Context, query string, args ...any) ([]Count, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count query: %w", err)
	}
	defer rows.Close()
	var out []Count
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.Label, &c.Count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// IdentityStats returns one rollup per identity that has primaries, most
// replicates first.
func (s *Store) IdentityStats(ctx context.Context) ([]IdentityStat, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
            i.cell_line, i.species, COALESCE(i.tissue, ''),
            COUNT(p.accession),
            SUM(CASE WHEN p.download_status = 'downloaded' THEN 1 ELSE 0 END),
            COALESCE(SUM(p.file_size), 0),
            EXISTS (SELECT 1 FROM companion_records c WHERE c.cell_line = i.cell_line)
        FROM identities i JOIN primary_records p ON p.cell_line = i.cell_line
        GROUP BY i.cell_line
        ORDER BY COUNT(p.accession) DESC, i.cell_line`)
	if err != nil {
		return nil, fmt.Errorf("identity stats: %w", err)
	}
	defer rows.Close()

	var out []IdentityStat
	for rows.Next() {
		var st IdentityStat
		if err := rows.Scan(&st.CellLine, &st.Species, &st.Tissue, &st.Replicates, &st.Downloaded, &st.PrimaryBytes, &st.HasCompanion); err != nil {
			return nil, fmt.Errorf("scan identity stats: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Duplicates returns identities with more than one primary record.
func (s *Store) Duplicates(ctx context.Context) ([]IdentityStat, error) {
	all, err := s.IdentityStats(ctx)
	if err != nil {
		return nil, err
	}
	var out []IdentityStat
	for _, st := range all {
		if st.Replicates > 1 {
			out = append(out, st)
		}
	}
	return out, nil
}

// ReadinessRows gathers primaries and companion per identity. A non-empty
// species restricts the result by case-insensitive substring.
func (s *Store) ReadinessRows(ctx context.Context, species string) ([]Readiness, error) {
	stats, err := s.IdentityStats(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(species))

	var out []Readiness
	for _, st := range stats {
		if needle != "" && !strings.Contains(strings.ToLower(st.Species), needle) {
			continue
		}
		id, ok, err := s.Identity(ctx, st.CellLine)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		primaries, err := s.PrimariesFor(ctx, st.CellLine, nil)
		if err != nil {
			return nil, err
		}
		companion, err := s.CompanionFor(ctx, st.CellLine)
		if err != nil {
			return nil, err
		}
		out = append(out, Readiness{Identity: id, Primaries: primaries, Companion: companion})
	}
	return out, nil
}
