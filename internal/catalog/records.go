package catalog

import (
	"strings"

	"chromdm/internal/identity"
)

// Kind distinguishes the two record families.
type Kind string

const (
	KindPrimary   Kind = "mcool"
	KindCompanion Kind = "ccre"
)

// PrimaryRecord is one .mcool processed file from the 4DN catalog.
type PrimaryRecord struct {
	Accession     string            `json:"accession"`
	RawLabel      string            `json:"cell_line"`
	Identity      identity.Identity `json:"identity"`
	SizeBytes     int64             `json:"file_size"`
	Href          string            `json:"href"`
	URL           string            `json:"download_url"`
	ExperimentSet string            `json:"experiment_set"`
	Treatment     string            `json:"treatment,omitempty"`
	Modification  string            `json:"modification,omitempty"`
	Condition     string            `json:"condition,omitempty"`
	BiosampleType string            `json:"biosample_type,omitempty"`
	Study         string            `json:"study,omitempty"`
	DatasetLabel  string            `json:"dataset_label,omitempty"`
	APITissue     string            `json:"tissue_from_api,omitempty"`
	OrganismHint  string            `json:"organism,omitempty"`
}

// SizeGB reports the file size in GiB.
func (r PrimaryRecord) SizeGB() float64 {
	return BytesToGB(r.SizeBytes)
}

// Tissue is the display tissue: the catalog's text when present, else the
// static table value. Filtering uses Identity.Tissue only.
func (r PrimaryRecord) Tissue() string {
	if t := strings.TrimSpace(r.APITissue); t != "" {
		return t
	}
	return r.Identity.Tissue
}

// CompanionRecord is one cCRE BED annotation from the ENCODE catalog.
type CompanionRecord struct {
	Accession  string `json:"accession"`
	Identity   string `json:"cell_line"`
	SizeBytes  int64  `json:"file_size"`
	Href       string `json:"href"`
	URL        string `json:"download_url"`
	Assembly   string `json:"assembly"`
	OutputType string `json:"output_type"`
}

// Predicate filters primary records during listing.
type Predicate func(PrimaryRecord) bool

// LabelContains matches records whose raw label contains sub, ignoring case.
// An empty sub matches everything.
func LabelContains(sub string) Predicate {
	needle := strings.ToLower(strings.TrimSpace(sub))
	return func(r PrimaryRecord) bool {
		if needle == "" {
			return true
		}
		return strings.Contains(strings.ToLower(r.RawLabel), needle)
	}
}

func applyPredicate(records []PrimaryRecord, predicate Predicate) []PrimaryRecord {
	if predicate == nil {
		return records
	}
	out := make([]PrimaryRecord, 0, len(records))
	for _, r := range records {
		if predicate(r) {
			out = append(out, r)
		}
	}
	return out
}

const bytesPerGB = 1024 * 1024 * 1024

// BytesToGB converts a byte count to GiB.
func BytesToGB(n int64) float64 {
	return float64(n) / bytesPerGB
}

// GBToBytes converts GiB to a byte count.
func GBToBytes(gb float64) int64 {
	return int64(gb * bytesPerGB)
}
