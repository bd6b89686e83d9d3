package catalog

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"

	"chromdm/internal/fileutil"
	"chromdm/internal/logging"
)

const (
	inventoryCacheFile = "4dn_mcool_inventory.json"
	companionCacheFile = "ccre_by_cell.json"
)

// PrimaryLister lists primary records.
type PrimaryLister interface {
	ListAll(ctx context.Context, predicate Predicate) ([]PrimaryRecord, error)
}

// CompanionResolver resolves the companion annotation for a canonical
// identity.
type CompanionResolver interface {
	Resolve(ctx context.Context, canonical string) (*CompanionRecord, error)
}

type inventoryDoc struct {
	FetchedAt time.Time       `json:"fetched_at"`
	Records   []PrimaryRecord `json:"records"`
}

// CachedPrimary serves the full 4DN inventory from a JSON file under the
// cache directory while it is younger than ttl. Partial listings are
// returned but never written.
type CachedPrimary struct {
	inner   PrimaryLister
	path    string
	ttl     time.Duration
	refresh bool
	now     func() time.Time
	logger  *slog.Logger
}

// NewCachedPrimary wraps inner with a disk cache in dir. A zero ttl disables
// reads but still refreshes the file.
func NewCachedPrimary(inner PrimaryLister, dir string, ttl time.Duration, logger *slog.Logger) *CachedPrimary {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CachedPrimary{
		inner:  inner,
		path:   filepath.Join(dir, inventoryCacheFile),
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

// ForceRefresh makes the next ListAll ignore the cached inventory.
func (c *CachedPrimary) ForceRefresh() {
	c.refresh = true
}

// ListAll implements PrimaryLister.
func (c *CachedPrimary) ListAll(ctx context.Context, predicate Predicate) ([]PrimaryRecord, error) {
	if !c.refresh && c.ttl > 0 {
		var doc inventoryDoc
		err := fileutil.ReadJSON(c.path, &doc)
		switch {
		case err == nil && c.now().Sub(doc.FetchedAt) < c.ttl:
			c.logger.Debug("4dn inventory served from cache",
				logging.Int("records", len(doc.Records)),
				logging.String("cache_file", c.path),
			)
			return applyPredicate(doc.Records, predicate), nil
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			logging.WarnWithContext(c.logger, "4dn inventory cache unreadable", "cache_load_failed",
				logging.String("cache_file", c.path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the cache will be rebuilt from the portal"),
			)
		}
	}

	records, err := c.inner.ListAll(ctx, nil)
	var partial *PartialError
	if errors.As(err, &partial) {
		return applyPredicate(records, predicate), nil
	}
	if err != nil {
		return nil, err
	}
	doc := inventoryDoc{FetchedAt: c.now().UTC(), Records: records}
	if err := fileutil.WriteJSONAtomic(c.path, doc); err != nil {
		logging.WarnWithContext(c.logger, "4dn inventory cache not written", "cache_write_failed",
			logging.String("cache_file", c.path),
			logging.Error(err),
		)
	}
	c.refresh = false
	return applyPredicate(records, predicate), nil
}

type companionEntry struct {
	Record   *CompanionRecord `json:"record"`
	CachedAt time.Time        `json:"cached_at"`
}

// CachedCompanion remembers resolved companions and confirmed misses per
// case-folded identity. Lookup errors are never persisted.
type CachedCompanion struct {
	inner  CompanionResolver
	path   string
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	loaded  bool
	entries map[string]companionEntry
}

// NewCachedCompanion wraps inner with a disk cache in dir. A zero ttl keeps
// entries forever.
func NewCachedCompanion(inner CompanionResolver, dir string, ttl time.Duration, logger *slog.Logger) *CachedCompanion {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CachedCompanion{
		inner:  inner,
		path:   filepath.Join(dir, companionCacheFile),
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

func companionKey(canonical string) string {
	return cases.Fold().String(strings.TrimSpace(canonical))
}

// Resolve implements CompanionResolver.
func (c *CachedCompanion) Resolve(ctx context.Context, canonical string) (*CompanionRecord, error) {
	key := companionKey(canonical)

	c.mu.Lock()
	c.loadLocked()
	entry, ok := c.entries[key]
	c.mu.Unlock()
	if ok && (c.ttl <= 0 || c.now().Sub(entry.CachedAt) < c.ttl) {
		return entry.Record, nil
	}

	rec, err := c.inner.Resolve(ctx, canonical)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = companionEntry{Record: rec, CachedAt: c.now().UTC()}
	if err := fileutil.WriteJSONAtomic(c.path, c.entries); err != nil {
		logging.WarnWithContext(c.logger, "ccre cache not written", "cache_write_failed",
			logging.String("cache_file", c.path),
			logging.Error(err),
		)
	}
	return rec, nil
}

func (c *CachedCompanion) loadLocked() {
	if c.loaded {
		return
	}
	c.loaded = true
	c.entries = make(map[string]companionEntry)
	err := fileutil.ReadJSON(c.path, &c.entries)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		if c.entries == nil {
			c.entries = make(map[string]companionEntry)
		}
		return
	}
	c.entries = make(map[string]companionEntry)
	logging.WarnWithContext(c.logger, "ccre cache unreadable", "cache_load_failed",
		logging.String("cache_file", c.path),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "annotations will be looked up again"),
	)
}
