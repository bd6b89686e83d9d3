package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"chromdm/internal/catalog"
	"chromdm/internal/identity"
	"chromdm/internal/logging"
)

// PrimarySource lists primary catalog records.
type PrimarySource interface {
	ListAll(ctx context.Context, predicate catalog.Predicate) ([]catalog.PrimaryRecord, error)
}

// CompanionSource resolves the companion for one canonical identity.
type CompanionSource interface {
	Resolve(ctx context.Context, canonical string) (*catalog.CompanionRecord, error)
}

// Recorder persists what a pairing run observed.
type Recorder interface {
	UpsertIdentity(ctx context.Context, id identity.Identity) error
	UpsertPrimaryRecord(ctx context.Context, rec catalog.PrimaryRecord) error
	UpsertCompanionRecord(ctx context.Context, rec catalog.CompanionRecord) error
}

// Paired joins a primary record with the companion of its identity.
type Paired struct {
	Identity  identity.Identity       `json:"identity"`
	Primary   catalog.PrimaryRecord   `json:"mcool"`
	Companion catalog.CompanionRecord `json:"ccre"`
	TotalSize int64                   `json:"total_size"`
}

// Non-paired reasons.
const (
	ReasonNoCompanion  = "no_ccre"
	ReasonLookupFailed = "lookup_failed"
)

// Unpaired is a primary record whose identity has no resolved companion.
type Unpaired struct {
	Record catalog.PrimaryRecord `json:"mcool"`
	Reason string                `json:"reason"`
}

// Counters are shared by both result kinds.
type Counters struct {
	Identities     int `json:"identities"`
	LookupFailures int `json:"lookup_failures"`
	Malformed      int `json:"malformed_records"`
	RecordFailures int `json:"ledger_failures"`
	// Incomplete is set when the primary listing stopped early.
	Incomplete bool `json:"incomplete,omitempty"`
}

// PairedResult is the output of FindPaired.
type PairedResult struct {
	Datasets []Paired `json:"datasets"`
	Counters
}

// NonPairedResult is the output of FindNonPaired.
type NonPairedResult struct {
	Records []Unpaired `json:"records"`
	Counters
}

// Pairer joins the primary and companion catalogs by canonical identity.
type Pairer struct {
	primary   PrimarySource
	companion CompanionSource
	recorder  Recorder
	logger    *slog.Logger
}

// Option customizes a Pairer.
type Option func(*Pairer)

// WithLedger persists retained records through rec.
func WithLedger(rec Recorder) Option {
	return func(p *Pairer) {
		p.recorder = rec
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pairer) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New constructs a Pairer.
func New(primary PrimarySource, companion CompanionSource, opts ...Option) *Pairer {
	p := &Pairer{
		primary:   primary,
		companion: companion,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FindPaired returns every retained primary record joined with its
// identity's companion, filtered in order: tissue, size, one-per-identity,
// replicate count.
func (p *Pairer) FindPaired(ctx context.Context, filters Filters, cache *ResolutionCache) (PairedResult, error) {
	paired, _, err := p.Partition(ctx, filters, cache)
	return paired, err
}

// FindNonPaired returns the primary records whose identity has no resolved
// companion, after the tissue and size stages.
func (p *Pairer) FindNonPaired(ctx context.Context, filters Filters, cache *ResolutionCache) (NonPairedResult, error) {
	_, unpaired, err := p.Partition(ctx, filters, cache)
	return unpaired, err
}

// Partition runs both sides against a single listing. Before the
// one-per-identity and replicate stages, every record that survived the
// tissue and size stages lands in exactly one of the two results.
func (p *Pairer) Partition(ctx context.Context, filters Filters, cache *ResolutionCache) (PairedResult, NonPairedResult, error) {
	if cache == nil {
		cache = NewResolutionCache()
	}

	records, counters, err := p.collect(ctx, filters.Label)
	if err != nil {
		return PairedResult{}, NonPairedResult{}, err
	}

	names := distinctIdentities(records)
	counters.Identities = len(names)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return PairedResult{}, NonPairedResult{}, err
		}
		res := p.resolve(ctx, name, cache)
		if res.Malformed {
			counters.Malformed++
		}
		if res.Err != nil {
			if errors.Is(res.Err, context.Canceled) {
				return PairedResult{}, NonPairedResult{}, res.Err
			}
			counters.LookupFailures++
			continue
		}
		if res.Companion != nil && p.recorder != nil {
			if err := p.recorder.UpsertCompanionRecord(ctx, *res.Companion); err != nil {
				counters.RecordFailures++
				p.logRecordFailure(res.Companion.Accession, err)
			}
		}
	}

	kept := filters.tissueAndSize(records)
	var (
		rows     []Paired
		unpaired []Unpaired
	)
	for _, rec := range kept {
		res, _ := cache.Lookup(rec.Identity.Canonical)
		switch {
		case res.Found():
			rows = append(rows, Paired{
				Identity:  rec.Identity,
				Primary:   rec,
				Companion: *res.Companion,
				TotalSize: rec.SizeBytes + res.Companion.SizeBytes,
			})
		case res.Err != nil:
			unpaired = append(unpaired, Unpaired{Record: rec, Reason: ReasonLookupFailed})
		default:
			unpaired = append(unpaired, Unpaired{Record: rec, Reason: ReasonNoCompanion})
		}
	}
	rows = filters.reduce(rows)

	p.logger.Info("pairing complete",
		logging.Int("records", len(records)),
		logging.Int("identities", counters.Identities),
		logging.Int("paired", len(rows)),
		logging.Int("unpaired", len(unpaired)),
		logging.Int("lookup_failures", counters.LookupFailures),
		logging.Int("malformed", counters.Malformed),
	)

	return PairedResult{Datasets: rows, Counters: counters},
		NonPairedResult{Records: unpaired, Counters: counters},
		nil
}

// collect lists primaries, drops unknown and unkeyed records, and persists
// the rest when a recorder is configured.
func (p *Pairer) collect(ctx context.Context, label string) ([]catalog.PrimaryRecord, Counters, error) {
	var counters Counters
	listed, err := p.primary.ListAll(ctx, catalog.LabelContains(label))
	if err != nil {
		var partial *catalog.PartialError
		if !errors.As(err, &partial) {
			return nil, counters, fmt.Errorf("list primary catalog: %w", err)
		}
		counters.Incomplete = true
		logging.WarnWithContext(p.logger, "primary listing incomplete; pairing the records fetched so far", "catalog_partial",
			logging.Int("fetched", partial.Fetched),
			logging.Int("total", partial.Total),
			logging.Error(partial.Err),
			logging.String(logging.FieldImpact, "some experiment sets are missing from this run"),
		)
	}

	records := make([]catalog.PrimaryRecord, 0, len(listed))
	seen := make(map[string]bool)
	for _, rec := range listed {
		if identity.IsUnknown(rec.RawLabel) || identity.IsUnknown(rec.Identity.Canonical) {
			continue
		}
		if rec.Identity.Canonical == "" {
			rec.Identity = identity.Resolve(rec.RawLabel, rec.OrganismHint)
		}
		if strings.TrimSpace(rec.Accession) == "" || strings.TrimSpace(rec.URL) == "" {
			counters.Malformed++
			continue
		}
		records = append(records, rec)

		if p.recorder == nil {
			continue
		}
		if !seen[rec.Identity.Canonical] {
			seen[rec.Identity.Canonical] = true
			if err := p.recorder.UpsertIdentity(ctx, rec.Identity); err != nil {
				counters.RecordFailures++
				p.logRecordFailure(rec.Identity.Canonical, err)
			}
		}
		if err := p.recorder.UpsertPrimaryRecord(ctx, rec); err != nil {
			counters.RecordFailures++
			p.logRecordFailure(rec.Accession, err)
		}
	}
	if counters.Malformed > 0 {
		p.logger.Warn("skipped catalog records without accession or download url",
			logging.Int("count", counters.Malformed),
			logging.String(logging.FieldEventType, "malformed_catalog_record"),
			logging.String(logging.FieldImpact, "records excluded from pairing and ledger"),
		)
	}
	return records, counters, nil
}

func (p *Pairer) resolve(ctx context.Context, name string, cache *ResolutionCache) Resolution {
	if res, ok := cache.Lookup(name); ok {
		return res
	}
	rec, err := p.companion.Resolve(ctx, name)
	res := Resolution{Companion: rec, Err: err}
	if err == nil && rec != nil && (strings.TrimSpace(rec.Accession) == "" || strings.TrimSpace(rec.URL) == "") {
		logging.WarnWithContext(p.logger, "companion record lacks accession or download url", "malformed_catalog_record",
			logging.String(logging.FieldCellLine, name),
			logging.String(logging.FieldImpact, "identity reported as non-paired"),
		)
		res = Resolution{Malformed: true}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.WarnWithContext(p.logger, "companion lookup failed", "companion_lookup_failed",
			logging.String(logging.FieldCellLine, name),
			logging.Error(err),
			logging.String(logging.FieldImpact, "identity reported as non-paired for this run"),
			logging.String(logging.FieldErrorHint, "re-run once the ENCODE portal is reachable"),
		)
	}
	if !errors.Is(err, context.Canceled) {
		cache.Store(name, res)
	}
	return res
}

func (p *Pairer) logRecordFailure(key string, err error) {
	logging.WarnWithContext(p.logger, "ledger upsert failed", "ledger_upsert_failed",
		logging.String("key", key),
		logging.Error(err),
	)
}

func distinctIdentities(records []catalog.PrimaryRecord) []string {
	set := make(map[string]struct{}, len(records))
	for _, rec := range records {
		set[rec.Identity.Canonical] = struct{}{}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
