// Package report exports paired datasets as CSV files.
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"chromdm/internal/catalog"
	"chromdm/internal/fileutil"
	"chromdm/internal/pairing"
)

var pairedHeader = []string{
	"cell_line", "species", "genome_assembly", "tissue",
	"mcool_accession", "mcool_size_gb", "mcool_url",
	"ccre_accession", "ccre_size_gb", "ccre_url",
	"total_size_gb", "treatment", "condition", "study",
}

var summaryHeader = []string{
	"cell_line", "species", "tissue", "mcool_files", "mcool_total_gb", "ccre_accession", "total_gb",
}

// CellSummary rolls paired rows up per identity.
type CellSummary struct {
	CellLine           string
	Species            string
	Tissue             string
	Primaries          int
	PrimaryBytes       int64
	CompanionAccession string
	CompanionBytes     int64
}

// TotalBytes counts the companion once.
func (s CellSummary) TotalBytes() int64 {
	return s.PrimaryBytes + s.CompanionBytes
}

// Summarize groups rows by canonical identity, sorted by name.
func Summarize(rows []pairing.Paired) []CellSummary {
	index := make(map[string]int)
	var out []CellSummary
	for _, row := range rows {
		name := row.Identity.Canonical
		i, ok := index[name]
		if !ok {
			i = len(out)
			index[name] = i
			out = append(out, CellSummary{
				CellLine:           name,
				Species:            row.Identity.Species,
				Tissue:             row.Primary.Tissue(),
				CompanionAccession: row.Companion.Accession,
				CompanionBytes:     row.Companion.SizeBytes,
			})
		}
		out[i].Primaries++
		out[i].PrimaryBytes += row.Primary.SizeBytes
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CellLine < out[j].CellLine })
	return out
}

// WritePaired writes one CSV line per paired row.
func WritePaired(w io.Writer, rows []pairing.Paired) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(pairedHeader); err != nil {
		return err
	}
	for _, row := range rows {
		if err := cw.Write([]string{
			row.Identity.Canonical,
			row.Identity.Species,
			row.Identity.Assembly,
			row.Primary.Tissue(),
			row.Primary.Accession,
			gb(row.Primary.SizeBytes),
			row.Primary.URL,
			row.Companion.Accession,
			gb(row.Companion.SizeBytes),
			row.Companion.URL,
			gb(row.TotalSize),
			row.Primary.Treatment,
			row.Primary.Condition,
			row.Primary.Study,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSummary writes one CSV line per identity.
func WriteSummary(w io.Writer, summaries []CellSummary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(summaryHeader); err != nil {
		return err
	}
	for _, s := range summaries {
		if err := cw.Write([]string{
			s.CellLine,
			s.Species,
			s.Tissue,
			strconv.Itoa(s.Primaries),
			gb(s.PrimaryBytes),
			s.CompanionAccession,
			gb(s.TotalBytes()),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Files names the two CSVs of one export.
type Files struct {
	Paired  string `json:"paired"`
	Summary string `json:"summary"`
}

// Export writes both CSVs into dir, stamped with at.
func Export(dir string, rows []pairing.Paired, at time.Time) (Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Files{}, fmt.Errorf("create report directory: %w", err)
	}
	stamp := at.UTC().Format("20060102_150405")
	files := Files{
		Paired:  filepath.Join(dir, "paired_"+stamp+".csv"),
		Summary: filepath.Join(dir, "summary_"+stamp+".csv"),
	}
	if err := writeFile(files.Paired, func(w io.Writer) error { return WritePaired(w, rows) }); err != nil {
		return Files{}, err
	}
	if err := writeFile(files.Summary, func(w io.Writer) error { return WriteSummary(w, Summarize(rows)) }); err != nil {
		return Files{}, err
	}
	return files, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		return fmt.Errorf("render %s: %w", filepath.Base(path), err)
	}
	if err := fileutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func gb(n int64) string {
	if n <= 0 {
		return "0"
	}
	return strconv.FormatFloat(catalog.BytesToGB(n), 'f', 2, 64)
}
