package identity

import (
	"strings"

	"golang.org/x/text/cases"
)

const (
	// Unknown is the sentinel label for records without a usable sample name.
	Unknown = "Unknown"

	SpeciesHuman     = "Homo sapiens"
	SpeciesMouse     = "Mus musculus"
	SpeciesFly       = "Drosophila melanogaster"
	SpeciesZebrafish = "Danio rerio"

	defaultAssembly = "GRCh38"
)

// Identity is the canonical description of one biological sample.
type Identity struct {
	Canonical string `json:"cell_line"`
	Species   string `json:"species"`
	Tissue    string `json:"tissue"`
	Assembly  string `json:"genome_assembly"`
}

// fold returns a case-folded copy of value. A Caser carries state, so each
// call builds its own.
func fold(value string) string {
	return cases.Fold().String(value)
}

func lookupExact(key string) (string, bool) {
	for _, a := range aliases {
		if a.key == key {
			return a.canonical, true
		}
	}
	return "", false
}

// Normalize maps a raw sample label to its canonical cell line name. Labels
// that match nothing are returned unchanged, so the mapping is total.
func Normalize(raw string) string {
	if raw == "" || raw == Unknown {
		return raw
	}
	trimmed := strings.TrimSpace(raw)
	folded := fold(trimmed)

	if canonical, ok := lookupExact(folded); ok {
		return canonical
	}

	for _, a := range aliases {
		if !strings.HasPrefix(folded, a.key) {
			continue
		}
		rest := folded[len(a.key):]
		if rest == "" || strings.ContainsRune(prefixBoundaries, rune(rest[0])) {
			return a.canonical
		}
	}

	for _, delim := range delimiters {
		idx := strings.Index(folded, delim)
		if idx <= 0 {
			continue
		}
		if canonical, ok := lookupExact(strings.TrimSpace(folded[:idx])); ok {
			return canonical
		}
	}

	return raw
}

// IsUnknown reports whether name is the unknown sentinel in any casing.
func IsUnknown(name string) bool {
	return fold(strings.TrimSpace(name)) == fold(Unknown)
}

// DetectSpecies infers the species of a sample. An organism hint from the
// catalog wins over keyword scanning of the label.
func DetectSpecies(raw, organismHint string) string {
	if hint := fold(strings.TrimSpace(organismHint)); hint != "" {
		for _, h := range organismHints {
			if strings.Contains(hint, h.keyword) {
				return h.species
			}
		}
	}

	label := fold(raw)
	if containsAny(label, humanIndicators) {
		return SpeciesHuman
	}
	if containsAny(label, mouseIndicators) {
		return SpeciesMouse
	}
	if strings.Contains(label, "zebrafish") {
		return SpeciesZebrafish
	}
	if strings.Contains(label, "drosophila") {
		return SpeciesFly
	}
	return SpeciesHuman
}

func containsAny(value string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(value, needle) {
			return true
		}
	}
	return false
}

// Tissue returns the tissue of origin for a canonical cell line.
func Tissue(canonical string) string {
	if tissue, ok := tissues[canonical]; ok {
		return tissue
	}
	return Unknown
}

// Assembly returns the reference genome assembly used for a species.
func Assembly(species string) string {
	if asm, ok := assemblies[species]; ok {
		return asm
	}
	return defaultAssembly
}

// Resolve derives the full identity of a raw label.
func Resolve(raw, organismHint string) Identity {
	canonical := Normalize(raw)
	species := DetectSpecies(raw, organismHint)
	return Identity{
		Canonical: canonical,
		Species:   species,
		Tissue:    Tissue(canonical),
		Assembly:  Assembly(species),
	}
}
