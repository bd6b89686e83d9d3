package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chromdm/internal/identity"
	"chromdm/internal/logging"
)

const (
	defaultFourDNBase     = "https://data.4dnucleome.org"
	defaultFourDNPageSize = 100
)

// PartialError reports a listing that stopped early. The records fetched
// before the failure are still returned alongside it.
type PartialError struct {
	Fetched int
	Total   int
	Err     error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("4dn listing stopped after %d of %d experiment sets: %v", e.Fetched, e.Total, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// FourDN lists Hi-C experiment sets from the 4DN data portal and flattens
// their .mcool processed files into PrimaryRecords.
type FourDN struct {
	baseURL   string
	client    HTTPDoer
	pageSize  int
	pageDelay time.Duration
	logger    *slog.Logger
}

// FourDNOption customizes a FourDN client.
type FourDNOption func(*FourDN)

// WithFourDNHTTPClient overrides the HTTP client.
func WithFourDNHTTPClient(client HTTPDoer) FourDNOption {
	return func(c *FourDN) {
		if client != nil {
			c.client = client
		}
	}
}

// WithPageSize sets the search page size.
func WithPageSize(n int) FourDNOption {
	return func(c *FourDN) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithPageDelay pauses between page requests.
func WithPageDelay(d time.Duration) FourDNOption {
	return func(c *FourDN) {
		if d >= 0 {
			c.pageDelay = d
		}
	}
}

// WithFourDNLogger attaches a logger.
func WithFourDNLogger(logger *slog.Logger) FourDNOption {
	return func(c *FourDN) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewFourDN constructs a 4DN catalog client. An empty baseURL selects the
// public portal.
func NewFourDN(baseURL string, opts ...FourDNOption) *FourDN {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = defaultFourDNBase
	}
	c := &FourDN{
		baseURL:  base,
		client:   &http.Client{Timeout: 60 * time.Second},
		pageSize: defaultFourDNPageSize,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the portal root used for building download URLs.
func (c *FourDN) BaseURL() string {
	return c.baseURL
}

type fourDNPage struct {
	Graph []experimentSet `json:"@graph"`
	Total int             `json:"total"`
}

type experimentSet struct {
	Accession        string                    `json:"accession"`
	BiosourceSummary string                    `json:"biosource_summary"`
	Condition        string                    `json:"condition"`
	Study            string                    `json:"study"`
	DatasetLabel     string                    `json:"dataset_label"`
	ExperimentsInSet []oneOf[experiment]       `json:"experiments_in_set"`
	ProcessedFiles   []oneOf[processedFileDoc] `json:"processed_files"`
}

type experiment struct {
	Biosample oneOf[biosample] `json:"biosample"`
}

type biosample struct {
	BiosourceSummary string             `json:"biosource_summary"`
	Treatments       titled             `json:"treatments_summary"`
	Modifications    titled             `json:"modifications_summary"`
	BiosampleType    string             `json:"biosample_type"`
	Biosource        oneOf[biosource]   `json:"biosource"`
	Tissue           oneOf[tissueTerm]  `json:"tissue"`
	Organism         oneOf[organismDoc] `json:"organism"`
}

type biosource struct {
	Organism oneOf[organismDoc] `json:"organism"`
	Tissue   oneOf[tissueTerm]  `json:"tissue"`
}

type organismDoc struct {
	Name           string `json:"name"`
	ScientificName string `json:"scientific_name"`
}

type tissueTerm struct {
	TermName string `json:"term_name"`
}

type processedFileDoc struct {
	Accession  string `json:"accession"`
	Href       string `json:"href"`
	FileSize   size   `json:"file_size"`
	FileFormat titled `json:"file_format"`
}

// ListAll pages through every released Hi-C experiment set and returns the
// .mcool files that satisfy predicate. A page failure after the first page
// yields the records gathered so far together with a *PartialError.
func (c *FourDN) ListAll(ctx context.Context, predicate Predicate) ([]PrimaryRecord, error) {
	var (
		records []PrimaryRecord
		from    int
		seen    int
		total   int
	)
	for {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		page, err := c.fetchPage(ctx, from)
		if err != nil {
			if errors.Is(err, context.Canceled) || from == 0 {
				return records, err
			}
			c.logger.Warn("4dn paging stopped early",
				logging.Int("from", from),
				logging.Int("total", total),
				logging.Error(err),
				logging.String(logging.FieldEventType, "catalog_partial"),
				logging.String(logging.FieldErrorHint, "re-run fetch with --refresh once the portal recovers"),
			)
			return records, &PartialError{Fetched: seen, Total: total, Err: err}
		}
		if len(page.Graph) == 0 {
			break
		}
		total = page.Total
		for _, set := range page.Graph {
			records = append(records, applyPredicate(c.flatten(set), predicate)...)
		}
		seen += len(page.Graph)
		from += len(page.Graph)
		c.logger.Debug("4dn page fetched",
			logging.Int("seen", seen),
			logging.Int("total", total),
			logging.Int("records", len(records)),
		)
		if from >= total {
			break
		}
		if c.pageDelay > 0 {
			select {
			case <-ctx.Done():
				return records, ctx.Err()
			case <-time.After(c.pageDelay):
			}
		}
	}
	return records, nil
}

func (c *FourDN) fetchPage(ctx context.Context, from int) (fourDNPage, error) {
	params := url.Values{}
	params.Set("type", "ExperimentSetReplicate")
	params.Set("experiments_in_set.experiment_type.display_title", "in situ Hi-C")
	params.Set("status", "released")
	params.Set("format", "json")
	params.Set("limit", fmt.Sprintf("%d", c.pageSize))
	params.Set("from", fmt.Sprintf("%d", from))
	endpoint := c.baseURL + "/search/?" + params.Encode()

	var page fourDNPage
	if err := getJSON(ctx, c.client, endpoint, &page); err != nil {
		if errors.Is(err, errNoResults) {
			return fourDNPage{}, nil
		}
		return fourDNPage{}, err
	}
	return page, nil
}

func (c *FourDN) flatten(set experimentSet) []PrimaryRecord {
	var sample biosample
	var haveSample bool
	for _, exp := range set.ExperimentsInSet {
		if exp.OK && exp.Value.Biosample.OK {
			sample = exp.Value.Biosample.Value
			haveSample = true
			break
		}
	}

	label := strings.TrimSpace(set.BiosourceSummary)
	if label == "" && haveSample {
		label = strings.TrimSpace(sample.BiosourceSummary)
	}
	if label == "" {
		label = identity.Unknown
	}

	base := PrimaryRecord{
		RawLabel:      label,
		ExperimentSet: set.Accession,
		Condition:     strings.TrimSpace(set.Condition),
		Study:         strings.TrimSpace(set.Study),
		DatasetLabel:  strings.TrimSpace(set.DatasetLabel),
	}
	if haveSample {
		base.Treatment = treatmentText(string(sample.Treatments))
		base.Modification = strings.TrimSpace(string(sample.Modifications))
		base.BiosampleType = strings.TrimSpace(sample.BiosampleType)
		base.OrganismHint = organismName(sample)
		base.APITissue = tissueName(sample)
	}
	base.Identity = identity.Resolve(label, base.OrganismHint)

	var out []PrimaryRecord
	for _, entry := range set.ProcessedFiles {
		if !entry.OK {
			continue
		}
		file := entry.Value
		if !isMcool(file) {
			continue
		}
		rec := base
		rec.Accession = strings.TrimSpace(file.Accession)
		rec.Href = file.Href
		rec.SizeBytes = int64(file.FileSize)
		if file.Href != "" {
			rec.URL = c.baseURL + file.Href
		}
		out = append(out, rec)
	}
	return out
}

func isMcool(file processedFileDoc) bool {
	if strings.Contains(strings.ToLower(string(file.FileFormat)), "mcool") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(file.Href), ".mcool")
}

func treatmentText(raw string) string {
	t := strings.TrimSpace(raw)
	switch strings.ToLower(t) {
	case "", "none", "no treatment":
		return ""
	}
	return t
}

func organismName(sample biosample) string {
	org := sample.Organism
	if sample.Biosource.OK && sample.Biosource.Value.Organism.OK {
		org = sample.Biosource.Value.Organism
	}
	if !org.OK {
		return ""
	}
	if name := strings.TrimSpace(org.Value.Name); name != "" {
		return name
	}
	return strings.TrimSpace(org.Value.ScientificName)
}

func tissueName(sample biosample) string {
	if sample.Biosource.OK && sample.Biosource.Value.Tissue.OK {
		if name := strings.TrimSpace(sample.Biosource.Value.Tissue.Value.TermName); name != "" {
			return name
		}
	}
	if sample.Tissue.OK {
		return strings.TrimSpace(sample.Tissue.Value.TermName)
	}
	return ""
}
