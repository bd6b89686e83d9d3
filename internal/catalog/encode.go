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

	"chromdm/internal/logging"
)

const (
	defaultENCODEBase     = "https://www.encodeproject.org"
	defaultENCODEAssembly = "GRCh38"
	ccreAnnotationType    = "candidate Cis-Regulatory Elements"
	annotationSearchLimit = 5
	fileSearchLimit       = 3
)

// ENCODE resolves cCRE annotations for a canonical cell line.
type ENCODE struct {
	baseURL  string
	assembly string
	client   HTTPDoer
	delay    time.Duration
	logger   *slog.Logger
}

// ENCODEOption customizes an ENCODE client.
type ENCODEOption func(*ENCODE)

// WithENCODEHTTPClient overrides the HTTP client.
func WithENCODEHTTPClient(client HTTPDoer) ENCODEOption {
	return func(c *ENCODE) {
		if client != nil {
			c.client = client
		}
	}
}

// WithAssembly overrides the genome assembly queried.
func WithAssembly(assembly string) ENCODEOption {
	return func(c *ENCODE) {
		if a := strings.TrimSpace(assembly); a != "" {
			c.assembly = a
		}
	}
}

// WithRequestDelay pauses before each identity lookup.
func WithRequestDelay(d time.Duration) ENCODEOption {
	return func(c *ENCODE) {
		if d >= 0 {
			c.delay = d
		}
	}
}

// WithENCODELogger attaches a logger.
func WithENCODELogger(logger *slog.Logger) ENCODEOption {
	return func(c *ENCODE) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewENCODE constructs an ENCODE client. An empty baseURL selects the public
// portal.
func NewENCODE(baseURL string, opts ...ENCODEOption) *ENCODE {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = defaultENCODEBase
	}
	c := &ENCODE{
		baseURL:  base,
		assembly: defaultENCODEAssembly,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type encodeSearch struct {
	Graph []encodeObject `json:"@graph"`
}

type encodeObject struct {
	ID         string  `json:"@id"`
	Accession  string  `json:"accession"`
	Href       string  `json:"href"`
	FileSize   size    `json:"file_size"`
	FileFormat string  `json:"file_format"`
	Status     string  `json:"status"`
	OutputType string  `json:"output_type"`
	Assembly   string  `json:"assembly"`
	Files      []idRef `json:"files"`
}

// Resolve returns the cCRE annotation for canonical. A nil record with a nil
// error is a confirmed miss; a non-nil error means the lookup itself failed
// and the answer is unknown.
func (c *ENCODE) Resolve(ctx context.Context, canonical string) (*CompanionRecord, error) {
	if c.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.delay):
		}
	}

	rec, annErr := c.viaAnnotations(ctx, canonical)
	if rec != nil {
		return rec, nil
	}
	if errors.Is(annErr, context.Canceled) {
		return nil, annErr
	}
	if annErr != nil {
		c.logger.Debug("annotation lookup failed, trying file search",
			logging.String(logging.FieldCellLine, canonical),
			logging.Error(annErr),
		)
	}

	rec, fileErr := c.viaFiles(ctx, canonical)
	if rec != nil {
		return rec, nil
	}
	if annErr != nil || fileErr != nil {
		return nil, fmt.Errorf("resolve ccre for %s: %w", canonical, errors.Join(annErr, fileErr))
	}
	return nil, nil
}

func (c *ENCODE) viaAnnotations(ctx context.Context, canonical string) (*CompanionRecord, error) {
	params := url.Values{}
	params.Set("type", "Annotation")
	params.Set("annotation_type", ccreAnnotationType)
	params.Set("biosample_ontology.term_name", canonical)
	params.Set("assembly", c.assembly)
	params.Set("status", "released")
	params.Set("format", "json")
	params.Set("limit", fmt.Sprintf("%d", annotationSearchLimit))

	var search encodeSearch
	if err := getJSON(ctx, c.client, c.baseURL+"/search/?"+params.Encode(), &search); err != nil {
		if errors.Is(err, errNoResults) {
			return nil, nil
		}
		return nil, err
	}

	var lastErr error
	for _, ann := range search.Graph {
		if ann.ID == "" {
			continue
		}
		var detail encodeObject
		if err := getJSON(ctx, c.client, c.objectURL(ann.ID), &detail); err != nil {
			if !errors.Is(err, errNoResults) {
				lastErr = err
			}
			continue
		}
		for _, ref := range detail.Files {
			if ref == "" {
				continue
			}
			var file encodeObject
			if err := getJSON(ctx, c.client, c.objectURL(string(ref)), &file); err != nil {
				if !errors.Is(err, errNoResults) {
					lastErr = err
				}
				continue
			}
			if isCCREBed(file) {
				return c.toRecord(canonical, file), nil
			}
		}
	}
	return nil, lastErr
}

func (c *ENCODE) viaFiles(ctx context.Context, canonical string) (*CompanionRecord, error) {
	params := url.Values{}
	params.Set("type", "File")
	params.Set("file_format", "bed")
	params.Set("output_type", "candidate Cis-Regulatory Elements")
	params.Set("biosample_ontology.term_name", canonical)
	params.Set("assembly", c.assembly)
	params.Set("status", "released")
	params.Set("format", "json")
	params.Set("limit", fmt.Sprintf("%d", fileSearchLimit))

	var search encodeSearch
	if err := getJSON(ctx, c.client, c.baseURL+"/search/?"+params.Encode(), &search); err != nil {
		if errors.Is(err, errNoResults) {
			return nil, nil
		}
		return nil, err
	}
	if len(search.Graph) == 0 {
		return nil, nil
	}
	return c.toRecord(canonical, search.Graph[0]), nil
}

func (c *ENCODE) objectURL(id string) string {
	return c.baseURL + id + "?format=json"
}

func (c *ENCODE) toRecord(canonical string, file encodeObject) *CompanionRecord {
	rec := &CompanionRecord{
		Accession:  strings.TrimSpace(file.Accession),
		Identity:   canonical,
		SizeBytes:  int64(file.FileSize),
		Href:       file.Href,
		Assembly:   file.Assembly,
		OutputType: file.OutputType,
	}
	if rec.Assembly == "" {
		rec.Assembly = c.assembly
	}
	if file.Href != "" {
		rec.URL = c.baseURL + file.Href
	}
	return rec
}

func isCCREBed(file encodeObject) bool {
	return file.FileFormat == "bed" &&
		file.Status == "released" &&
		strings.Contains(strings.ToLower(file.OutputType), "cis")
}
