package job

import (
	"errors"
	"fmt"
	"time"

	"chromdm/internal/catalog"
	"chromdm/internal/fileutil"
)

// Status is the lifecycle position of a job.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusRunning    Status = "running"
	StatusCancelling Status = "cancelling"
	StatusCancelled  Status = "cancelled"
	StatusDone       Status = "done"
	StatusCrashed    Status = "crashed"
	StatusError      Status = "error"
)

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusCancelled, StatusCrashed, StatusError:
		return true
	}
	return false
}

// Active reports whether a live process is expected behind the job.
func (s Status) Active() bool {
	switch s {
	case StatusStarting, StatusRunning, StatusCancelling:
		return true
	}
	return false
}

// Result records the outcome of one task, in submission order.
type Result struct {
	Kind      catalog.Kind `json:"type"`
	Identity  string       `json:"cell_line"`
	Accession string       `json:"accession"`
	Success   bool         `json:"success"`
	Path      string       `json:"path,omitempty"`
	SizeGB    float64      `json:"size_gb"`
	Error     string       `json:"error,omitempty"`
}

// State is the pollable snapshot of a job. The launcher writes the first
// snapshot; afterwards only the background process writes it.
type State struct {
	JobID      string     `json:"job_id"`
	Status     Status     `json:"status"`
	PID        int        `json:"pid"`
	StartedAt  time.Time  `json:"started_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	TotalTasks int        `json:"total_tasks"`
	TotalGB    float64    `json:"total_gb"`
	Completed  int        `json:"completed"`
	Failed     int        `json:"failed"`
	Current    string     `json:"current"`
	CurrentIdx int        `json:"current_idx"`
	Results    []Result   `json:"results"`
	CellLines  []string   `json:"cell_lines"`
	Error      string     `json:"error,omitempty"`
	LogFile    string     `json:"log_file,omitempty"`

	// LogTail is filled by Manager.Get and never persisted.
	LogTail []string `json:"log_tail,omitempty"`
}

// Progress returns the fraction of tasks finished, in percent.
func (s State) Progress() float64 {
	if s.TotalTasks == 0 {
		return 0
	}
	return float64(s.Completed+s.Failed) / float64(s.TotalTasks) * 100
}

// Load reads a state snapshot.
func Load(path string) (State, error) {
	var st State
	if err := fileutil.ReadJSON(path, &st); err != nil {
		return State{}, err
	}
	if st.JobID == "" {
		return State{}, errors.New("state file has no job_id")
	}
	return st, nil
}

// Save writes a snapshot with write-temp-then-rename, so readers see either
// the previous or the new document.
func Save(path string, st State) error {
	if st.Results == nil {
		st.Results = []Result{}
	}
	if st.CellLines == nil {
		st.CellLines = []string{}
	}
	st.LogTail = nil
	if err := fileutil.WriteJSONAtomic(path, st); err != nil {
		return fmt.Errorf("save job state: %w", err)
	}
	return nil
}
