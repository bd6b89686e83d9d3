package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"chromdm/internal/catalog"
	"chromdm/internal/identity"
)

// Status is the download state of a ledger row.
type Status string

const (
	StatusPending    Status = "pending"
	StatusDownloaded Status = "downloaded"
	StatusFailed     Status = "failed"
)

// ErrMissingAccession rejects records that cannot be keyed.
var ErrMissingAccession = errors.New("record has no accession")

// PrimaryRow is a primary record together with its download state.
type PrimaryRow struct {
	catalog.PrimaryRecord
	Status    Status `json:"download_status"`
	LocalPath string `json:"local_path,omitempty"`
}

// CompanionRow is a companion record together with its download state.
type CompanionRow struct {
	catalog.CompanionRecord
	Status    Status `json:"download_status"`
	LocalPath string `json:"local_path,omitempty"`
}

// UpsertIdentity inserts or refreshes an identity.
func (s *Store) UpsertIdentity(ctx context.Context, id identity.Identity) error {
	if strings.TrimSpace(id.Canonical) == "" {
		return errors.New("identity has no canonical name")
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO identities (cell_line, species, tissue, genome_assembly, updated_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(cell_line) DO UPDATE SET
            species = excluded.species,
            tissue = excluded.tissue,
            genome_assembly = excluded.genome_assembly,
            updated_at = excluded.updated_at`,
		id.Canonical, id.Species, nullableString(id.Tissue), id.Assembly, timestamp(),
	)
	if err != nil {
		return fmt.Errorf("upsert identity %s: %w", id.Canonical, err)
	}
	return nil
}

// UpsertPrimaryRecord inserts or refreshes a primary record. Catalog fields
// are overwritten; download state is preserved.
func (s *Store) UpsertPrimaryRecord(ctx context.Context, rec catalog.PrimaryRecord) error {
	if strings.TrimSpace(rec.Accession) == "" {
		return ErrMissingAccession
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO primary_records (
            accession, cell_line, raw_label, experiment_set, treatment, modification,
            condition, biosample_type, study, dataset_label, tissue, organism,
            href, download_url, file_size, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(accession) DO UPDATE SET
            cell_line = excluded.cell_line,
            raw_label = excluded.raw_label,
            experiment_set = excluded.experiment_set,
            treatment = excluded.treatment,
            modification = excluded.modification,
            condition = excluded.condition,
            biosample_type = excluded.biosample_type,
            study = excluded.study,
            dataset_label = excluded.dataset_label,
            tissue = excluded.tissue,
            organism = excluded.organism,
            href = excluded.href,
            download_url = excluded.download_url,
            file_size = excluded.file_size,
            updated_at = excluded.updated_at`,
		rec.Accession,
		rec.Identity.Canonical,
		nullableString(rec.RawLabel),
		nullableString(rec.ExperimentSet),
		nullableString(rec.Treatment),
		nullableString(rec.Modification),
		nullableString(rec.Condition),
		nullableString(rec.BiosampleType),
		nullableString(rec.Study),
		nullableString(rec.DatasetLabel),
		nullableString(rec.APITissue),
		nullableString(rec.OrganismHint),
		nullableString(rec.Href),
		nullableString(rec.URL),
		rec.SizeBytes,
		timestamp(),
	)
	if err != nil {
		return fmt.Errorf("upsert primary %s: %w", rec.Accession, err)
	}
	return nil
}

// UpsertCompanionRecord inserts or refreshes a companion record. The
// identity row must already exist.
func (s *Store) UpsertCompanionRecord(ctx context.Context, rec catalog.CompanionRecord) error {
	if strings.TrimSpace(rec.Accession) == "" {
		return ErrMissingAccession
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO companion_records (
            accession, cell_line, assembly, output_type, href, download_url, file_size, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(accession) DO UPDATE SET
            cell_line = excluded.cell_line,
            assembly = excluded.assembly,
            output_type = excluded.output_type,
            href = excluded.href,
            download_url = excluded.download_url,
            file_size = excluded.file_size,
            updated_at = excluded.updated_at`,
		rec.Accession,
		rec.Identity,
		nullableString(rec.Assembly),
		nullableString(rec.OutputType),
		nullableString(rec.Href),
		nullableString(rec.URL),
		rec.SizeBytes,
		timestamp(),
	)
	if err != nil {
		return fmt.Errorf("upsert companion %s: %w", rec.Accession, err)
	}
	return nil
}

// MarkDownloaded records a successful transfer.
func (s *Store) MarkDownloaded(ctx context.Context, kind catalog.Kind, accession, path string) error {
	return s.setStatus(ctx, kind, accession, StatusDownloaded, path)
}

// MarkFailed records a failed transfer. Any previous local path is kept.
func (s *Store) MarkFailed(ctx context.Context, kind catalog.Kind, accession string) error {
	return s.setStatus(ctx, kind, accession, StatusFailed, "")
}

func (s *Store) setStatus(ctx context.Context, kind catalog.Kind, accession string, status Status, path string) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE `+table+` SET download_status = ?, local_path = COALESCE(?, local_path), updated_at = ?
         WHERE accession = ?`,
		status, nullableString(path), timestamp(), accession,
	)
	if err != nil {
		return fmt.Errorf("mark %s %s %s: %w", kind, accession, status, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("mark %s %s: %w", kind, accession, sql.ErrNoRows)
	}
	return nil
}

func tableFor(kind catalog.Kind) (string, error) {
	switch kind {
	case catalog.KindPrimary:
		return "primary_records", nil
	case catalog.KindCompanion:
		return "companion_records", nil
	default:
		return "", fmt.Errorf("unknown record kind %q", kind)
	}
}

const primaryColumns = `p.accession, p.cell_line, p.raw_label, p.experiment_set, p.treatment, p.modification,
    p.condition, p.biosample_type, p.study, p.dataset_label, p.tissue, p.organism, p.href,
    p.download_url, p.file_size, p.download_status, p.local_path,
    i.species, i.tissue, i.genome_assembly`

const companionColumns = `c.accession, c.cell_line, c.assembly, c.output_type, c.href, c.download_url,
    c.file_size, c.download_status, c.local_path`

type rowScanner interface{ Scan(dest ...any) error }

func scanPrimary(scanner rowScanner) (PrimaryRow, error) {
	var (
		row                                                                   PrimaryRow
		rawLabel, expSet, treatment, modification, condition, biosampleType   sql.NullString
		study, datasetLabel, apiTissue, organism, href, url, status, localPth sql.NullString
		species, tissue, assembly                                             sql.NullString
	)
	if err := scanner.Scan(
		&row.Accession, &row.Identity.Canonical, &rawLabel, &expSet, &treatment, &modification,
		&condition, &biosampleType, &study, &datasetLabel, &apiTissue, &organism, &href,
		&url, &row.SizeBytes, &status, &localPth,
		&species, &tissue, &assembly,
	); err != nil {
		return PrimaryRow{}, err
	}
	row.RawLabel = rawLabel.String
	row.ExperimentSet = expSet.String
	row.Treatment = treatment.String
	row.Modification = modification.String
	row.Condition = condition.String
	row.BiosampleType = biosampleType.String
	row.Study = study.String
	row.DatasetLabel = datasetLabel.String
	row.APITissue = apiTissue.String
	row.OrganismHint = organism.String
	row.Href = href.String
	row.URL = url.String
	row.Status = Status(status.String)
	row.LocalPath = localPth.String
	row.Identity.Species = species.String
	row.Identity.Tissue = tissue.String
	row.Identity.Assembly = assembly.String
	return row, nil
}

func scanCompanion(scanner rowScanner) (CompanionRow, error) {
	var (
		row                                         CompanionRow
		assembly, outputType, href, url, status, lp sql.NullString
	)
	if err := scanner.Scan(
		&row.Accession, &row.Identity, &assembly, &outputType, &href, &url,
		&row.SizeBytes, &status, &lp,
	); err != nil {
		return CompanionRow{}, err
	}
	row.Assembly = assembly.String
	row.OutputType = outputType.String
	row.Href = href.String
	row.URL = url.String
	row.Status = Status(status.String)
	row.LocalPath = lp.String
	return row, nil
}

// Identity returns the stored identity for a canonical name.
func (s *Store) Identity(ctx context.Context, cellLine string) (identity.Identity, bool, error) {
	var (
		id     identity.Identity
		tissue sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT cell_line, species, tissue, genome_assembly FROM identities WHERE cell_line = ?`,
		cellLine,
	).Scan(&id.Canonical, &id.Species, &tissue, &id.Assembly)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Identity{}, false, nil
	}
	if err != nil {
		return identity.Identity{}, false, fmt.Errorf("load identity %s: %w", cellLine, err)
	}
	id.Tissue = tissue.String
	return id, true, nil
}

// PrimariesFor returns primaries of one identity, largest first. A non-empty
// accessions list restricts the result to those accessions.
func (s *Store) PrimariesFor(ctx context.Context, cellLine string, accessions []string) ([]PrimaryRow, error) {
	query := `SELECT ` + primaryColumns + `
        FROM primary_records p JOIN identities i ON i.cell_line = p.cell_line
        WHERE p.cell_line = ?`
	args := []any{cellLine}
	if len(accessions) > 0 {
		query += ` AND p.accession IN (?` + strings.Repeat(", ?", len(accessions)-1) + `)`
		for _, acc := range accessions {
			args = append(args, acc)
		}
	}
	query += ` ORDER BY p.file_size DESC, p.accession`
	return s.queryPrimaries(ctx, query, args...)
}

// CompanionFor returns the companion of one identity, if any.
func (s *Store) CompanionFor(ctx context.Context, cellLine string) (*CompanionRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+companionColumns+` FROM companion_records c WHERE c.cell_line = ?
         ORDER BY c.updated_at DESC LIMIT 1`,
		cellLine,
	)
	rec, err := scanCompanion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load companion for %s: %w", cellLine, err)
	}
	return &rec, nil
}

// PendingPaired returns primaries not yet downloaded whose identity has a
// companion, largest first.
func (s *Store) PendingPaired(ctx context.Context) ([]PrimaryRow, error) {
	return s.queryPrimaries(ctx, `SELECT `+primaryColumns+`
        FROM primary_records p JOIN identities i ON i.cell_line = p.cell_line
        WHERE p.download_status != ?
          AND EXISTS (SELECT 1 FROM companion_records c WHERE c.cell_line = p.cell_line)
        ORDER BY p.cell_line, p.file_size DESC`,
		StatusDownloaded,
	)
}

func (s *Store) queryPrimaries(ctx context.Context, query string, args ...any) ([]PrimaryRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query primaries: %w", err)
	}
	defer rows.Close()

	var out []PrimaryRow
	for rows.Next() {
		row, err := scanPrimary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan primary: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate primaries: %w", err)
	}
	return out, nil
}
