package catalog_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"chromdm/internal/catalog"
)

func TestENCODEResolveViaAnnotation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search/":
			if r.URL.Query().Get("type") != "Annotation" {
				t.Errorf("file search should not run, got %s", r.URL.RawQuery)
			}
			if got := r.URL.Query().Get("biosample_ontology.term_name"); got != "K562" {
				t.Errorf("unexpected term name %q", got)
			}
			fmt.Fprint(w, `{"@graph": [{"@id": "/annotations/ENCSR0001/"}]}`)
		case "/annotations/ENCSR0001/":
			fmt.Fprint(w, `{"files": ["/files/ENCFF_SKIP/", {"@id": "/files/ENCFF0001/"}]}`)
		case "/files/ENCFF_SKIP/":
			fmt.Fprint(w, `{"accession": "ENCFF_SKIP", "file_format": "bigBed", "status": "released", "output_type": "candidate Cis-Regulatory Elements"}`)
		case "/files/ENCFF0001/":
			fmt.Fprint(w, `{"accession": "ENCFF0001", "file_format": "bed", "status": "released",
				"output_type": "candidate Cis-Regulatory Elements", "assembly": "GRCh38",
				"href": "/files/ENCFF0001/@@download/ENCFF0001.bed.gz", "file_size": 2097152}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	rec, err := catalog.NewENCODE(srv.URL).Resolve(context.Background(), "K562")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rec == nil || rec.Accession != "ENCFF0001" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Identity != "K562" || rec.Assembly != "GRCh38" || rec.SizeBytes != 2097152 {
		t.Fatalf("unexpected record fields %+v", rec)
	}
	if rec.URL != srv.URL+"/files/ENCFF0001/@@download/ENCFF0001.bed.gz" {
		t.Fatalf("unexpected url %q", rec.URL)
	}
}

func TestENCODEResolveFallsBackToFileSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search/" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("type") == "Annotation" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"@graph": [
			{"accession": "ENCFF0002", "href": "/files/ENCFF0002/@@download/ENCFF0002.bed.gz"},
			{"accession": "ENCFF0003"}
		]}`)
	}))
	defer srv.Close()

	rec, err := catalog.NewENCODE(srv.URL).Resolve(context.Background(), "HepG2")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rec == nil || rec.Accession != "ENCFF0002" {
		t.Fatalf("expected first file search hit, got %+v", rec)
	}
	if rec.Assembly != "GRCh38" {
		t.Fatalf("expected assembly default, got %q", rec.Assembly)
	}
}

func TestENCODEResolveConfirmedMiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	rec, err := catalog.NewENCODE(srv.URL).Resolve(context.Background(), "Nonexistent")
	if err != nil || rec != nil {
		t.Fatalf("expected confirmed miss, got rec=%+v err=%v", rec, err)
	}
}

func TestENCODEResolveReportsLookupFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rec, err := catalog.NewENCODE(srv.URL).Resolve(context.Background(), "K562")
	if rec != nil {
		t.Fatalf("expected no record, got %+v", rec)
	}
	if !errors.Is(err, catalog.ErrUnexpectedStatus) {
		t.Fatalf("expected status error, got %v", err)
	}
}
