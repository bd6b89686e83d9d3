package download

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"chromdm/internal/catalog"
	"chromdm/internal/logging"
	"chromdm/internal/task"
)

const defaultMaxParallel = 3

// Downloader is the single-transfer contract the coordinator drives.
type Downloader interface {
	Download(ctx context.Context, req Request, progress ProgressFunc) (string, error)
}

// Marker records transfer outcomes, typically in the ledger.
type Marker interface {
	MarkDownloaded(ctx context.Context, kind catalog.Kind, accession, path string) error
	MarkFailed(ctx context.Context, kind catalog.Kind, accession string) error
}

// Outcome is the result of one task.
type Outcome struct {
	Task    task.Task     `json:"task"`
	Success bool          `json:"success"`
	Path    string        `json:"path,omitempty"`
	Err     error         `json:"-"`
	MarkErr error         `json:"-"`
	Elapsed time.Duration `json:"elapsed"`
}

// Error returns the transfer error text, if any.
func (o Outcome) Error() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Coordinator fans tasks across a bounded worker pool.
type Coordinator struct {
	engine      Downloader
	maxParallel int
	resume      bool
	marker      Marker
	progress    ProgressFunc
	logger      *slog.Logger
}

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithMaxParallel bounds concurrent transfers.
func WithMaxParallel(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxParallel = n
		}
	}
}

// WithResume toggles Range resume for every task.
func WithResume(resume bool) CoordinatorOption {
	return func(c *Coordinator) {
		c.resume = resume
	}
}

// WithMarker records outcomes through m.
func WithMarker(m Marker) CoordinatorOption {
	return func(c *Coordinator) {
		c.marker = m
	}
}

// WithProgress forwards per-chunk progress. The callback runs on worker
// goroutines and must be safe for concurrent use.
func WithProgress(fn ProgressFunc) CoordinatorOption {
	return func(c *Coordinator) {
		c.progress = fn
	}
}

// WithCoordinatorLogger attaches a logger.
func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCoordinator constructs a Coordinator around engine.
func NewCoordinator(engine Downloader, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		engine:      engine,
		maxParallel: defaultMaxParallel,
		resume:      true,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes every task and returns outcomes in completion order. A
// failing task never cancels its siblings, and cancelling ctx does not
// interrupt transfers already submitted.
func (c *Coordinator) Run(ctx context.Context, tasks []task.Task) []Outcome {
	ctx = context.WithoutCancel(ctx)

	var (
		mu       sync.Mutex
		outcomes = make([]Outcome, 0, len(tasks))
	)
	var group errgroup.Group
	group.SetLimit(c.maxParallel)

	for _, t := range tasks {
		group.Go(func() error {
			outcome := c.runOne(ctx, t)
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()
	return outcomes
}

func (c *Coordinator) runOne(ctx context.Context, t task.Task) Outcome {
	logger := c.logger.With(
		logging.String(logging.FieldAccession, t.Accession),
		logging.String(logging.FieldKind, string(t.Kind)),
		logging.String(logging.FieldCellLine, t.Identity),
	)
	start := time.Now()
	path, err := c.engine.Download(ctx, Request{
		URL:       t.URL,
		Dest:      t.Path,
		Accession: t.Accession,
		Resume:    c.resume,
	}, c.progress)

	outcome := Outcome{Task: t, Path: path, Err: err, Success: err == nil, Elapsed: time.Since(start)}
	if err != nil {
		logging.WarnWithContext(logger, "download failed", "download_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "re-run the download; partial files resume"),
		)
		if c.marker != nil {
			outcome.MarkErr = c.marker.MarkFailed(ctx, t.Kind, t.Accession)
		}
	} else {
		logger.Info("download complete",
			logging.String("path", path),
			logging.Duration("elapsed", outcome.Elapsed),
		)
		if c.marker != nil {
			outcome.MarkErr = c.marker.MarkDownloaded(ctx, t.Kind, t.Accession, path)
		}
	}
	if outcome.MarkErr != nil {
		logging.WarnWithContext(logger, "ledger update failed", "ledger_mark_failed",
			logging.Error(outcome.MarkErr),
		)
	}
	return outcome
}

// Summarize counts successes and failures.
func Summarize(outcomes []Outcome) (succeeded, failed int) {
	for _, o := range outcomes {
		if o.Success {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}
