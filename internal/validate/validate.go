package validate

import (
	"context"
	"fmt"

	"chromdm/internal/fileutil"
	"chromdm/internal/ledger"
	"chromdm/internal/textutil"
)

// Status grades one check.
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusMissing Status = "missing"
	StatusError   Status = "error"
	StatusPending Status = "pending"
	StatusInfo    Status = "info"
)

// Check names.
const (
	CheckAssembly           = "assembly_match"
	CheckCompanion          = "ccre_available"
	CheckPrimaryIntegrity   = "mcool_integrity"
	CheckCompanionIntegrity = "ccre_integrity"
	CheckTreatment          = "treatment"
)

const treatmentNoteLimit = 60

// Check is one graded observation.
type Check struct {
	Name    string `json:"check"`
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// Entry covers one primary record and the companion of its identity.
type Entry struct {
	CellLine           string  `json:"cell_line"`
	Species            string  `json:"species"`
	Assembly           string  `json:"genome_assembly"`
	PrimaryAccession   string  `json:"mcool_accession"`
	CompanionAccession string  `json:"ccre_accession,omitempty"`
	Checks             []Check `json:"checks"`
	Valid              bool    `json:"valid"`
	TreatmentWarning   string  `json:"treatment_warning,omitempty"`
}

// Summary aggregates a report.
type Summary struct {
	TotalChecked       int `json:"total_checked"`
	Valid              int `json:"valid"`
	Invalid            int `json:"invalid"`
	AssemblyMismatches int `json:"assembly_mismatches"`
	MissingCompanion   int `json:"missing_ccre"`
	MissingPrimary     int `json:"missing_mcool"`
}

// Report is the result of a readiness pass.
type Report struct {
	Entries []Entry `json:"validated"`
	Summary Summary `json:"summary"`
}

// Source supplies readiness rows, normally the ledger.
type Source interface {
	ReadinessRows(ctx context.Context, species string) ([]ledger.Readiness, error)
}

// Run checks every primary record known to src. A non-empty species narrows
// the pass by case-insensitive substring.
func Run(ctx context.Context, src Source, species string) (Report, error) {
	rows, err := src.ReadinessRows(ctx, species)
	if err != nil {
		return Report{}, fmt.Errorf("load readiness rows: %w", err)
	}
	report := Report{Entries: []Entry{}}
	for _, row := range rows {
		for _, primary := range row.Primaries {
			entry := checkEntry(row, primary, &report.Summary)
			report.Summary.TotalChecked++
			if entry.Valid {
				report.Summary.Valid++
			} else {
				report.Summary.Invalid++
			}
			report.Entries = append(report.Entries, entry)
		}
	}
	return report, nil
}

func checkEntry(row ledger.Readiness, primary ledger.PrimaryRow, summary *Summary) Entry {
	id := row.Identity
	entry := Entry{
		CellLine:         id.Canonical,
		Species:          id.Species,
		Assembly:         id.Assembly,
		PrimaryAccession: primary.Accession,
		Valid:            true,
	}
	add := func(name string, status Status, format string, args ...any) {
		entry.Checks = append(entry.Checks, Check{Name: name, Status: status, Message: fmt.Sprintf(format, args...)})
	}
	comp := row.Companion

	if comp != nil && comp.Assembly != "" && comp.Assembly != id.Assembly {
		add(CheckAssembly, StatusWarning, "cCRE assembly (%s) differs from expected (%s)", comp.Assembly, id.Assembly)
		summary.AssemblyMismatches++
	} else {
		add(CheckAssembly, StatusOK, "Assembly: %s", id.Assembly)
	}

	if comp == nil {
		add(CheckCompanion, StatusMissing, "No cCRE annotation found for this cell line")
		entry.Valid = false
		summary.MissingCompanion++
	} else {
		entry.CompanionAccession = comp.Accession
		add(CheckCompanion, StatusOK, "cCRE: %s", comp.Accession)
	}

	switch {
	case primary.LocalPath != "" && fileutil.Exists(primary.LocalPath):
		if err := CheckMcool(primary.LocalPath); err != nil {
			add(CheckPrimaryIntegrity, StatusError, "Invalid mcool: %v", err)
			entry.Valid = false
		} else {
			add(CheckPrimaryIntegrity, StatusOK, "HDF5 valid")
		}
	case primary.Status == ledger.StatusDownloaded:
		add(CheckPrimaryIntegrity, StatusWarning, "Marked downloaded but file not found")
		summary.MissingPrimary++
	default:
		add(CheckPrimaryIntegrity, StatusPending, "Not yet downloaded")
	}

	if comp != nil {
		if comp.LocalPath != "" && fileutil.Exists(comp.LocalPath) {
			if cols, err := CheckBedGz(comp.LocalPath); err != nil {
				add(CheckCompanionIntegrity, StatusError, "Invalid BED: %v", err)
				entry.Valid = false
			} else {
				add(CheckCompanionIntegrity, StatusOK, "BED valid (%d cols)", cols)
			}
		} else {
			add(CheckCompanionIntegrity, StatusPending, "Not yet downloaded")
		}
	}

	if primary.Treatment != "" {
		add(CheckTreatment, StatusInfo, "Treatment: %s", textutil.Truncate(primary.Treatment, treatmentNoteLimit))
		entry.TreatmentWarning = "cCRE may not match treated chromatin state"
	}
	return entry
}
