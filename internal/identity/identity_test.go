package identity

import "testing"

func TestAliasesOrderedLongestFirst(t *testing.T) {
	for i := 1; i < len(aliases); i++ {
		if len(aliases[i].key) > len(aliases[i-1].key) {
			t.Fatalf("alias %q (len %d) follows shorter %q", aliases[i].key, len(aliases[i].key), aliases[i-1].key)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", ""},
		{"Unknown", "Unknown"},
		{"K562", "K562"},
		{"  gm12878  ", "GM12878"},
		{"HeLa-S3", "HeLa-S3"},
		{"H1-hESC", "H1"},
		{"ES-E14TG2a", "ES-E14"},
		{"es-e14tg2a (mouse ESC)", "ES-E14"},
		{"ES-E14 mouse line", "ES-E14"},
		{"HFF-hTERT clone 6", "foreskin fibroblast"},
		{"K562 treated with DMSO", "K562"},
		{"HCT116/RAD21-mAC", "HCT116"},
		{"IMR-90_rep2", "IMR-90"},
		{"CC-2551", "IMR-90"},
		{"LNCaP", "LNCaP clone FGC"},
		{"HUVEC cell line", "HUVEC"},
		{"K5620", "K5620"},
		{"H9 differentiated to neural progenitor", "H9"},
		{"mouse cortex neurons", "mouse cortex neurons"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.raw); got != tt.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestNormalizeExactBeatsPrefix(t *testing.T) {
	// "hela-s3" is an exact key; no shorter key may claim it.
	if got := Normalize("HELA-S3"); got != "HeLa-S3" {
		t.Fatalf("expected exact match, got %q", got)
	}
	// "es-e14tg2a" must win over the shorter "es-e14" prefix.
	if got := Normalize("es-e14tg2a-derived"); got != "ES-E14" {
		t.Fatalf("expected longest prefix, got %q", got)
	}
	if got := Normalize("hff-htert"); got != "foreskin fibroblast" {
		t.Fatalf("expected hff-htert alias, got %q", got)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"", "Unknown", "unknown", "K562", "gm12878 rep1", "H1-hESC", "hff-htert",
		"LNCaP", "HUVEC cell", "cc-2551", "WTC-11", "random sample",
		"  spaced  ", "H9 differentiated to cardiomyocyte", "Caco-2 (ATCC)",
	}
	for _, raw := range inputs {
		once := Normalize(raw)
		twice := Normalize(once)
		if once != twice {
			t.Fatalf("Normalize not idempotent for %q: %q then %q", raw, once, twice)
		}
	}
}

func TestIsUnknown(t *testing.T) {
	for _, v := range []string{"Unknown", "unknown", " UNKNOWN "} {
		if !IsUnknown(v) {
			t.Fatalf("expected %q to be unknown", v)
		}
	}
	if IsUnknown("K562") {
		t.Fatal("K562 is not unknown")
	}
}

func TestDetectSpecies(t *testing.T) {
	tests := []struct {
		raw, hint, want string
	}{
		{"K562", "", SpeciesHuman},
		{"CH12.LX", "", SpeciesMouse},
		{"mESC E14", "", SpeciesMouse},
		{"zebrafish embryo", "", SpeciesMouse}, // "embryo" is a mouse indicator and mouse is checked first
		{"zebrafish fin", "", SpeciesZebrafish},
		{"drosophila Kc167", "", SpeciesFly},
		{"anything", "", SpeciesHuman},
		{"K562", "mouse", SpeciesMouse},
		{"ES-E14", "human", SpeciesHuman},
		{"S2R+", "Drosophila melanogaster", SpeciesFly},
		{"N2", "C. elegans", "Caenorhabditis elegans"},
	}
	for _, tt := range tests {
		if got := DetectSpecies(tt.raw, tt.hint); got != tt.want {
			t.Fatalf("DetectSpecies(%q, %q) = %q, want %q", tt.raw, tt.hint, got, tt.want)
		}
	}
}

func TestTissueAndAssemblyDefaults(t *testing.T) {
	if got := Tissue("K562"); got != "Leukemia (CML)" {
		t.Fatalf("unexpected K562 tissue %q", got)
	}
	if got := Tissue("not-a-line"); got != Unknown {
		t.Fatalf("expected Unknown tissue, got %q", got)
	}
	if got := Assembly(SpeciesMouse); got != "mm10" {
		t.Fatalf("unexpected mouse assembly %q", got)
	}
	if got := Assembly("Rattus norvegicus"); got != "GRCh38" {
		t.Fatalf("expected GRCh38 default, got %q", got)
	}
}

func TestResolve(t *testing.T) {
	id := Resolve("CH12.LX", "mouse")
	if id.Canonical != "CH12.LX" || id.Species != SpeciesMouse || id.Assembly != "mm10" {
		t.Fatalf("unexpected identity %+v", id)
	}
	if id.Tissue != "B-cell lymphoma (mouse)" {
		t.Fatalf("unexpected tissue %q", id.Tissue)
	}
}
