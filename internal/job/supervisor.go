package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"chromdm/internal/download"
	"chromdm/internal/logging"
	"chromdm/internal/task"
)

// ErrInvalidTasks marks an unreadable or malformed task list.
var ErrInvalidTasks = errors.New("invalid task list")

// Supervisor executes a task list sequentially inside the background process.
// It never touches the catalog or the ledger; everything it needs is in the
// task list.
type Supervisor struct {
	engine   download.Downloader
	logger   *slog.Logger
	notifier Notifier
	sampler  *logging.ProgressSampler
	now      func() time.Time
	pid      int
}

// Notifier is told when a job reaches a terminal status.
type Notifier interface {
	NotifyJobFinished(ctx context.Context, jobID, status string, completed, failed int, elapsed time.Duration) error
}

// SupervisorOption customizes a Supervisor.
type SupervisorOption func(*Supervisor)

// WithSupervisorLogger attaches a logger.
func WithSupervisorLogger(logger *slog.Logger) SupervisorOption {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNotifier reports terminal statuses through n.
func WithNotifier(n Notifier) SupervisorOption {
	return func(s *Supervisor) {
		s.notifier = n
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) SupervisorOption {
	return func(s *Supervisor) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSupervisor constructs a Supervisor around engine.
func NewSupervisor(engine download.Downloader, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		engine:  engine,
		logger:  logging.NewNop(),
		sampler: logging.NewProgressSampler(10),
		now:     func() time.Time { return time.Now().UTC() },
		pid:     os.Getpid(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// run holds the mutable snapshot for one Run call. The watcher goroutine and
// the task loop both write through it.
type run struct {
	mu     sync.Mutex
	path   string
	state  State
	logger *slog.Logger
	now    func() time.Time
}

func (r *run) update(fn func(*State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.state)
	r.state.UpdatedAt = r.now()
	if err := Save(r.path, r.state); err != nil {
		logging.WarnWithContext(r.logger, "job state write failed", "job_state_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "pollers see the previous snapshot"),
		)
	}
}

func (r *run) markCancelling() bool {
	r.mu.Lock()
	terminal := r.state.Status.Terminal()
	r.mu.Unlock()
	if terminal {
		return false
	}
	r.update(func(st *State) {
		if !st.Status.Terminal() {
			st.Status = StatusCancelling
		}
	})
	return true
}

func (r *run) snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state
	st.Results = append([]Result(nil), r.state.Results...)
	return st
}

// Run executes tasks one at a time and persists a snapshot after each.
// Cancelling ctx requests a stop: the task in flight finishes, then the job
// ends as cancelled. The returned error is non-nil only when the initial
// snapshot cannot be written.
func (s *Supervisor) Run(ctx context.Context, jobID, statePath string, tasks []task.Task) (State, error) {
	ctx = logging.WithJobID(ctx, jobID)
	logger := logging.WithContext(ctx, s.logger)

	initial := State{}
	if prev, err := Load(statePath); err == nil {
		initial.LogFile = prev.LogFile
	}
	now := s.now()
	initial.JobID = jobID
	initial.Status = StatusRunning
	initial.PID = s.pid
	initial.StartedAt = now
	initial.UpdatedAt = now
	initial.TotalTasks = len(tasks)
	initial.TotalGB = task.TotalGB(tasks)
	initial.CellLines = task.Identities(tasks)
	initial.Results = make([]Result, 0, len(tasks))

	r := &run{path: statePath, state: initial, logger: logger, now: s.now}
	if err := Save(statePath, initial); err != nil {
		return initial, err
	}
	logger.Info("job started",
		logging.String(logging.FieldEventType, "job_started"),
		logging.Int("total_tasks", initial.TotalTasks),
		logging.Float64("total_gb", initial.TotalGB),
	)

	stop := make(chan struct{})
	var watcher sync.WaitGroup
	watcher.Add(1)
	go func() {
		defer watcher.Done()
		select {
		case <-ctx.Done():
			if !r.markCancelling() {
				return
			}
			logger.Info("cancellation requested; finishing current task",
				logging.String(logging.FieldEventType, "job_cancelling"),
			)
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		watcher.Wait()
	}()

	transferCtx := context.WithoutCancel(ctx)
	for i, t := range tasks {
		if ctx.Err() != nil {
			return s.finish(ctx, r, logger, StatusCancelled), nil
		}
		r.update(func(st *State) {
			st.Current = fmt.Sprintf("[%d/%d] %s %s (%s)", i+1, len(tasks), t.Kind, t.Identity, t.Accession)
			st.CurrentIdx = i
		})

		result := s.execute(transferCtx, logger, t)
		r.update(func(st *State) {
			st.Results = append(st.Results, result)
			if result.Success {
				st.Completed++
			} else {
				st.Failed++
			}
		})
	}
	return s.finish(ctx, r, logger, StatusDone), nil
}

func (s *Supervisor) execute(ctx context.Context, logger *slog.Logger, t task.Task) Result {
	taskLogger := logger.With(
		logging.String(logging.FieldAccession, t.Accession),
		logging.String(logging.FieldKind, string(t.Kind)),
		logging.String(logging.FieldCellLine, t.Identity),
	)
	defer s.sampler.Forget(t.Accession)

	path, err := s.engine.Download(ctx, download.Request{
		URL:       t.URL,
		Dest:      t.Path,
		Accession: t.Accession,
		Resume:    true,
	}, func(p download.Progress) {
		if s.sampler.ShouldLog(p.Accession, p.Percent) {
			taskLogger.Info("download progress",
				logging.Float64("percent", p.Percent),
				logging.Int64("bytes_written", p.BytesWritten),
				logging.Float64("speed_mbps", p.SpeedMBps),
			)
		}
	})

	result := Result{
		Kind:      t.Kind,
		Identity:  t.Identity,
		Accession: t.Accession,
		SizeGB:    t.SizeGB,
		Success:   err == nil,
	}
	if err != nil {
		result.Error = err.Error()
		logging.WarnWithContext(taskLogger, "task failed", "job_task_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "start a new job for the failed accessions; partial files resume"),
		)
		return result
	}
	result.Path = path
	taskLogger.Info("task complete", logging.String("path", path))
	return result
}

func (s *Supervisor) finish(ctx context.Context, r *run, logger *slog.Logger, status Status) State {
	r.update(func(st *State) {
		finished := s.now()
		st.Status = status
		st.Current = ""
		st.FinishedAt = &finished
	})
	st := r.snapshot()
	logger.Info("job finished",
		logging.String(logging.FieldEventType, "job_"+string(status)),
		logging.Int("completed", st.Completed),
		logging.Int("failed", st.Failed),
		logging.Int("remaining", st.TotalTasks-len(st.Results)),
	)
	if s.notifier != nil {
		var elapsed time.Duration
		if st.FinishedAt != nil {
			elapsed = st.FinishedAt.Sub(st.StartedAt)
		}
		if err := s.notifier.NotifyJobFinished(context.WithoutCancel(ctx), st.JobID, string(status), st.Completed, st.Failed, elapsed); err != nil {
			logging.WarnWithContext(logger, "job notification failed", "notification_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "job finished normally; only the notification was lost"),
			)
		}
	}
	return st
}

// RunFromFiles is the background process entry point. It returns the
// process exit code: 0 when the job ran to completion or was cancelled, 1
// when the task list could not be used.
func (s *Supervisor) RunFromFiles(ctx context.Context, jobID, statePath, tasksPath string) int {
	logger := logging.WithContext(logging.WithJobID(ctx, jobID), s.logger)

	tasks, err := task.LoadFile(tasksPath)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidTasks, err)
		logging.ErrorWithContext(logger, "job input unusable", "job_input_error",
			logging.Error(err),
			logging.String("tasks_file", tasksPath),
		)
		st, loadErr := Load(statePath)
		if loadErr != nil {
			st = State{JobID: jobID, StartedAt: s.now()}
		}
		finished := s.now()
		st.Status = StatusError
		st.Error = err.Error()
		st.PID = s.pid
		st.UpdatedAt = finished
		st.FinishedAt = &finished
		if saveErr := Save(statePath, st); saveErr != nil {
			logger.Error("job state write failed", logging.Error(saveErr))
		}
		return 1
	}

	if _, err := s.Run(ctx, jobID, statePath, tasks); err != nil {
		logger.Error("job could not start", logging.Error(err))
		return 1
	}
	return 0
}
