package catalog_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chromdm/internal/catalog"
	"chromdm/internal/identity"
)

type fakeLister struct {
	calls   int
	records []catalog.PrimaryRecord
	err     error
}

func (f *fakeLister) ListAll(_ context.Context, _ catalog.Predicate) ([]catalog.PrimaryRecord, error) {
	f.calls++
	return f.records, f.err
}

type fakeResolver struct {
	calls map[string]int
	hits  map[string]*catalog.CompanionRecord
	errs  map[string]error
}

func (f *fakeResolver) Resolve(_ context.Context, canonical string) (*catalog.CompanionRecord, error) {
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[canonical]++
	if err := f.errs[canonical]; err != nil {
		return nil, err
	}
	return f.hits[canonical], nil
}

func primary(acc, label string) catalog.PrimaryRecord {
	return catalog.PrimaryRecord{Accession: acc, RawLabel: label, Identity: identity.Resolve(label, "")}
}

func TestCachedPrimaryServesWithinTTL(t *testing.T) {
	dir := t.TempDir()
	inner := &fakeLister{records: []catalog.PrimaryRecord{primary("A1", "K562"), primary("A2", "HepG2")}}

	cached := catalog.NewCachedPrimary(inner, dir, time.Hour, nil)
	if _, err := cached.ListAll(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	again := catalog.NewCachedPrimary(inner, dir, time.Hour, nil)
	got, err := again.ListAll(context.Background(), catalog.LabelContains("hepg2"))
	if err != nil {
		t.Fatal(err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected one upstream listing, got %d", inner.calls)
	}
	if len(got) != 1 || got[0].Accession != "A2" {
		t.Fatalf("expected predicate applied to cached records, got %+v", got)
	}

	again.ForceRefresh()
	if _, err := again.ListAll(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected refresh to bypass cache, got %d calls", inner.calls)
	}
}

func TestCachedPrimaryDoesNotPersistPartial(t *testing.T) {
	dir := t.TempDir()
	inner := &fakeLister{
		records: []catalog.PrimaryRecord{primary("A1", "K562")},
		err:     &catalog.PartialError{Fetched: 1, Total: 5, Err: errors.New("timeout")},
	}
	cached := catalog.NewCachedPrimary(inner, dir, time.Hour, nil)
	got, err := cached.ListAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("partial listings should not fail: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected partial records, got %d", len(got))
	}
	if _, err := os.Stat(filepath.Join(dir, "4dn_mcool_inventory.json")); !os.IsNotExist(err) {
		t.Fatalf("partial inventory must not be cached, stat err=%v", err)
	}
}

func TestCachedCompanionRemembersHitsAndMisses(t *testing.T) {
	dir := t.TempDir()
	inner := &fakeResolver{hits: map[string]*catalog.CompanionRecord{
		"K562": {Accession: "ENCFF0001", Identity: "K562"},
	}}

	cached := catalog.NewCachedCompanion(inner, dir, 0, nil)
	rec, err := cached.Resolve(context.Background(), "K562")
	if err != nil || rec == nil || rec.Accession != "ENCFF0001" {
		t.Fatalf("unexpected hit rec=%+v err=%v", rec, err)
	}
	if rec, err := cached.Resolve(context.Background(), "Unseen"); err != nil || rec != nil {
		t.Fatalf("expected miss, rec=%+v err=%v", rec, err)
	}

	reloaded := catalog.NewCachedCompanion(inner, dir, 0, nil)
	if rec, _ := reloaded.Resolve(context.Background(), "k562"); rec == nil || rec.Accession != "ENCFF0001" {
		t.Fatalf("expected case-insensitive cached hit, got %+v", rec)
	}
	if rec, _ := reloaded.Resolve(context.Background(), "UNSEEN"); rec != nil {
		t.Fatalf("expected cached miss, got %+v", rec)
	}
	if inner.calls["K562"] != 1 || inner.calls["Unseen"] != 1 {
		t.Fatalf("expected one upstream call per identity, got %v", inner.calls)
	}
}

func TestCachedCompanionDoesNotPersistErrors(t *testing.T) {
	dir := t.TempDir()
	inner := &fakeResolver{errs: map[string]error{"K562": errors.New("portal down")}}

	cached := catalog.NewCachedCompanion(inner, dir, 0, nil)
	if _, err := cached.Resolve(context.Background(), "K562"); err == nil {
		t.Fatal("expected lookup error")
	}
	inner.errs = nil
	inner.hits = map[string]*catalog.CompanionRecord{"K562": {Accession: "ENCFF0001"}}
	rec, err := cached.Resolve(context.Background(), "K562")
	if err != nil || rec == nil {
		t.Fatalf("expected retry after error, rec=%+v err=%v", rec, err)
	}
	if inner.calls["K562"] != 2 {
		t.Fatalf("expected two upstream calls, got %d", inner.calls["K562"])
	}
}
