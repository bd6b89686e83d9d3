package testsupport

import (
	"context"
	"testing"

	"chromdm/internal/catalog"
	"chromdm/internal/config"
	"chromdm/internal/identity"
	"chromdm/internal/ledger"
)

// MustOpenStore opens a ledger.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *ledger.Store {
	t.Helper()

	store, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// Primary builds a primary record for a raw label, resolving its identity.
func Primary(accession, label string, sizeGB float64) catalog.PrimaryRecord {
	return catalog.PrimaryRecord{
		Accession: accession,
		RawLabel:  label,
		Identity:  identity.Resolve(label, ""),
		SizeBytes: catalog.GBToBytes(sizeGB),
		Href:      "/files-processed/" + accession + "/@@download/" + accession + ".mcool",
		URL:       "https://data.4dnucleome.org/files-processed/" + accession + "/@@download/" + accession + ".mcool",
	}
}

// Companion builds a companion record for a canonical identity.
func Companion(accession, canonical string, sizeBytes int64) catalog.CompanionRecord {
	return catalog.CompanionRecord{
		Accession: accession,
		Identity:  canonical,
		SizeBytes: sizeBytes,
		Href:      "/files/" + accession + "/@@download/" + accession + ".bed.gz",
		URL:       "https://www.encodeproject.org/files/" + accession + "/@@download/" + accession + ".bed.gz",
		Assembly:  "GRCh38",
	}
}

// Seed upserts primaries (with their identities) and companions.
func Seed(t testing.TB, store *ledger.Store, primaries []catalog.PrimaryRecord, companions []catalog.CompanionRecord) {
	t.Helper()

	ctx := context.Background()
	for _, rec := range primaries {
		if err := store.UpsertIdentity(ctx, rec.Identity); err != nil {
			t.Fatalf("UpsertIdentity: %v", err)
		}
		if err := store.UpsertPrimaryRecord(ctx, rec); err != nil {
			t.Fatalf("UpsertPrimaryRecord: %v", err)
		}
	}
	for _, rec := range companions {
		if err := store.UpsertCompanionRecord(ctx, rec); err != nil {
			t.Fatalf("UpsertCompanionRecord: %v", err)
		}
	}
}
