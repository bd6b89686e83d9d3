package task

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"chromdm/internal/catalog"
	"chromdm/internal/fileutil"
	"chromdm/internal/textutil"
)

// Task is one file transfer. Tasks are built once and never modified.
type Task struct {
	Kind      catalog.Kind `json:"type"`
	Identity  string       `json:"cell_line"`
	Accession string       `json:"accession"`
	URL       string       `json:"url"`
	Path      string       `json:"path"`
	SizeBytes int64        `json:"size_bytes"`
	SizeGB    float64      `json:"size_gb"`
}

// Layout names the destination directories per kind.
type Layout struct {
	PrimaryDir   string
	CompanionDir string
}

// PrimaryPath is the destination of a primary file.
func (l Layout) PrimaryPath(identity, accession string) string {
	return filepath.Join(l.PrimaryDir, textutil.PathSegment(identity)+"_"+accession+".mcool")
}

// CompanionPath is the destination of a companion file.
func (l Layout) CompanionPath(identity, accession string) string {
	return filepath.Join(l.CompanionDir, textutil.PathSegment(identity)+"_"+accession+".bed.gz")
}

// Primary builds the task for a primary record.
func (l Layout) Primary(rec catalog.PrimaryRecord) Task {
	return Task{
		Kind:      catalog.KindPrimary,
		Identity:  rec.Identity.Canonical,
		Accession: rec.Accession,
		URL:       rec.URL,
		Path:      l.PrimaryPath(rec.Identity.Canonical, rec.Accession),
		SizeBytes: rec.SizeBytes,
		SizeGB:    roundGB(rec.SizeBytes),
	}
}

// Companion builds the task for a companion record.
func (l Layout) Companion(rec catalog.CompanionRecord) Task {
	return Task{
		Kind:      catalog.KindCompanion,
		Identity:  rec.Identity,
		Accession: rec.Accession,
		URL:       rec.URL,
		Path:      l.CompanionPath(rec.Identity, rec.Accession),
		SizeBytes: rec.SizeBytes,
		SizeGB:    roundGB(rec.SizeBytes),
	}
}

// Validate checks the fields a transfer needs.
func (t Task) Validate() error {
	switch t.Kind {
	case catalog.KindPrimary, catalog.KindCompanion:
	default:
		return fmt.Errorf("task %s: unknown type %q", t.Accession, t.Kind)
	}
	if strings.TrimSpace(t.Accession) == "" {
		return errors.New("task has no accession")
	}
	if strings.TrimSpace(t.URL) == "" {
		return fmt.Errorf("task %s: missing url", t.Accession)
	}
	if strings.TrimSpace(t.Path) == "" {
		return fmt.Errorf("task %s: missing path", t.Accession)
	}
	return nil
}

// LoadFile reads and validates a task list.
func LoadFile(path string) ([]Task, error) {
	var tasks []Task
	if err := fileutil.ReadJSON(path, &tasks); err != nil {
		return nil, err
	}
	for i, t := range tasks {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
	}
	return tasks, nil
}

// WriteFile stores a task list atomically.
func WriteFile(path string, tasks []Task) error {
	if tasks == nil {
		tasks = []Task{}
	}
	return fileutil.WriteJSONAtomic(path, tasks)
}

// TotalBytes sums expected sizes.
func TotalBytes(tasks []Task) int64 {
	var total int64
	for _, t := range tasks {
		total += t.SizeBytes
	}
	return total
}

// TotalGB sums expected sizes in GiB, rounded to two places.
func TotalGB(tasks []Task) float64 {
	return roundGB(TotalBytes(tasks))
}

// Identities returns the sorted distinct identities in tasks.
func Identities(tasks []Task) []string {
	set := make(map[string]struct{})
	for _, t := range tasks {
		set[t.Identity] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func roundGB(n int64) float64 {
	return math.Round(catalog.BytesToGB(n)*100) / 100
}
