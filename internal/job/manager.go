package job

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"chromdm/internal/download"
	"chromdm/internal/fileutil"
	"chromdm/internal/logging"
	"chromdm/internal/task"
)

const (
	logTailLines   = 20
	tasksSuffix    = "_tasks.json"
	stateSuffix    = ".json"
	runSubcommand  = "run"
	jobSubcommand  = "job"
	defaultDirMode = 0o755
)

var (
	// ErrNotFound means no state file exists for the job id.
	ErrNotFound = errors.New("job not found")
	// ErrJobRunning means the job process is still alive.
	ErrJobRunning = errors.New("job is still running")
	// ErrNotActive means the job has already reached a terminal status.
	ErrNotActive = errors.New("job is not running")
)

// LaunchSpec describes the detached process Start spawns.
type LaunchSpec struct {
	Executable string
	Args       []string
	LogPath    string
}

// Launcher starts a detached process and returns its pid.
type Launcher func(spec LaunchSpec) (int, error)

// Manager is the launcher and poller side of background jobs. It reads
// state files but never writes them after the background process starts.
type Manager struct {
	dir        string
	executable string
	prober     Prober
	launch     Launcher
	terminate  func(pid int) error
	extraArgs  []string
	logger     *slog.Logger
	now        func() time.Time
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithProber replaces the liveness probe.
func WithProber(p Prober) ManagerOption {
	return func(m *Manager) {
		if p != nil {
			m.prober = p
		}
	}
}

// WithLauncher replaces the process spawner.
func WithLauncher(l Launcher) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.launch = l
		}
	}
}

// WithTerminator replaces the SIGTERM sender.
func WithTerminator(fn func(pid int) error) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.terminate = fn
		}
	}
}

// WithExtraArgs appends flags to the background command line, such as the
// config file the launcher itself used.
func WithExtraArgs(args ...string) ManagerOption {
	return func(m *Manager) {
		m.extraArgs = append(m.extraArgs, args...)
	}
}

// WithManagerLogger attaches a logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager keeps job files under dir and re-executes executable for the
// background process.
func NewManager(dir, executable string, opts ...ManagerOption) *Manager {
	m := &Manager{
		dir:        dir,
		executable: executable,
		prober:     ProcessProber{},
		launch:     launchDetached,
		terminate:  terminate,
		logger:     logging.NewNop(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StatePath is the snapshot file of a job.
func (m *Manager) StatePath(id string) string { return filepath.Join(m.dir, id+stateSuffix) }

// TasksPath is the immutable task list of a job.
func (m *Manager) TasksPath(id string) string { return filepath.Join(m.dir, id+tasksSuffix) }

// LogPath receives the background process output.
func (m *Manager) LogPath(id string) string { return filepath.Join(m.dir, id+".log") }

// PIDPath records the spawned pid until the process writes its own snapshot.
func (m *Manager) PIDPath(id string) string { return filepath.Join(m.dir, id+".pid") }

// Start persists tasks and an initial snapshot, then spawns the background
// process.
func (m *Manager) Start(ctx context.Context, tasks []task.Task) (State, error) {
	if len(tasks) == 0 {
		return State{}, fmt.Errorf("%w: no tasks", ErrInvalidTasks)
	}
	for i, t := range tasks {
		if err := t.Validate(); err != nil {
			return State{}, fmt.Errorf("%w: task %d: %v", ErrInvalidTasks, i, err)
		}
	}
	if err := os.MkdirAll(m.dir, defaultDirMode); err != nil {
		return State{}, fmt.Errorf("create jobs directory: %w", err)
	}

	id := uuid.NewString()[:8]
	logger := logging.WithContext(logging.WithJobID(ctx, id), m.logger)
	statePath := m.StatePath(id)
	tasksPath := m.TasksPath(id)

	if err := task.WriteFile(tasksPath, tasks); err != nil {
		return State{}, fmt.Errorf("write task list: %w", err)
	}
	now := m.now()
	st := State{
		JobID:      id,
		Status:     StatusStarting,
		StartedAt:  now,
		UpdatedAt:  now,
		TotalTasks: len(tasks),
		TotalGB:    task.TotalGB(tasks),
		CellLines:  task.Identities(tasks),
		LogFile:    m.LogPath(id),
	}
	if err := Save(statePath, st); err != nil {
		return State{}, err
	}

	pid, err := m.launch(LaunchSpec{
		Executable: m.executable,
		Args:       append([]string{jobSubcommand, runSubcommand, id, statePath, tasksPath}, m.extraArgs...),
		LogPath:    st.LogFile,
	})
	if err != nil {
		finished := m.now()
		st.Status = StatusError
		st.Error = err.Error()
		st.FinishedAt = &finished
		_ = Save(statePath, st)
		return st, fmt.Errorf("launch job process: %w", err)
	}
	if err := os.WriteFile(m.PIDPath(id), []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		logging.WarnWithContext(logger, "pid file write failed", "job_pid_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "crash detection waits for the first snapshot"),
		)
	}
	st.PID = pid
	logger.Info("job launched",
		logging.String(logging.FieldEventType, "job_launched"),
		logging.Int("pid", pid),
		logging.Int("total_tasks", st.TotalTasks),
	)
	return st, nil
}

func launchDetached(spec LaunchSpec) (int, error) {
	logFile, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open job log: %w", err)
	}
	defer logFile.Close()

	proc := exec.Command(spec.Executable, spec.Args...)
	proc.Stdout = logFile
	proc.Stderr = logFile
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return 0, err
	}
	pid := proc.Process.Pid
	_ = proc.Process.Release()
	return pid, nil
}

// List returns every job, newest first.
func (m *Manager) List(ctx context.Context) ([]State, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read jobs directory: %w", err)
	}
	var states []State
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, stateSuffix) || strings.HasSuffix(name, tasksSuffix) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return states, err
		}
		st, err := Load(filepath.Join(m.dir, name))
		if err != nil {
			logging.WarnWithContext(m.logger, "skipping unreadable job state", "job_state_unreadable",
				logging.String("file", name),
				logging.Error(err),
			)
			continue
		}
		states = append(states, m.classify(st))
	}
	sort.SliceStable(states, func(i, j int) bool {
		return states[i].StartedAt.After(states[j].StartedAt)
	})
	return states, nil
}

// Get returns one job with the tail of its log.
func (m *Manager) Get(ctx context.Context, id string) (State, error) {
	st, err := m.load(id)
	if err != nil {
		return State{}, err
	}
	st = m.classify(st)
	logPath := st.LogFile
	if logPath == "" {
		logPath = m.LogPath(id)
	}
	tail, err := fileutil.TailLines(logPath, logTailLines)
	if err != nil {
		logging.WarnWithContext(logging.WithContext(logging.WithJobID(ctx, id), m.logger),
			"job log unreadable", "job_log_unreadable", logging.Error(err))
	}
	st.LogTail = tail
	return st, nil
}

// Stop asks the background process to cancel after its current task.
func (m *Manager) Stop(ctx context.Context, id string) (State, error) {
	st, err := m.load(id)
	if err != nil {
		return State{}, err
	}
	st = m.classify(st)
	if !st.Status.Active() {
		return st, ErrNotActive
	}
	pid := m.pid(st)
	if err := m.terminate(pid); err != nil {
		return st, fmt.Errorf("signal job process %d: %w", pid, err)
	}
	logging.WithContext(logging.WithJobID(ctx, id), m.logger).Info("job stop requested",
		logging.String(logging.FieldEventType, "job_stop_requested"),
		logging.Int("pid", pid),
	)
	return st, nil
}

// Delete removes every file of a finished job.
func (m *Manager) Delete(ctx context.Context, id string) error {
	st, err := m.load(id)
	if err != nil {
		return err
	}
	if m.classify(st).Status.Active() {
		return ErrJobRunning
	}
	for _, path := range []string{m.StatePath(id), m.TasksPath(id), m.LogPath(id), m.PIDPath(id)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", filepath.Base(path), err)
		}
	}
	logging.WithContext(logging.WithJobID(ctx, id), m.logger).Info("job deleted",
		logging.String(logging.FieldEventType, "job_deleted"),
	)
	return nil
}

// Reconcile replays the successful results of a job into marker. It returns
// the number of accessions marked.
func (m *Manager) Reconcile(ctx context.Context, id string, marker download.Marker) (int, error) {
	st, err := m.load(id)
	if err != nil {
		return 0, err
	}
	var (
		marked int
		errs   []error
	)
	for _, r := range st.Results {
		if !r.Success {
			continue
		}
		if err := marker.MarkDownloaded(ctx, r.Kind, r.Accession, r.Path); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", r.Kind, r.Accession, err))
			continue
		}
		marked++
	}
	return marked, errors.Join(errs...)
}

func (m *Manager) load(id string) (State, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return State{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	st, err := Load(m.StatePath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return State{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return State{}, err
	}
	return st, nil
}

// classify reports an active job whose process is gone as crashed. The state
// file itself is left untouched.
func (m *Manager) classify(st State) State {
	if !st.Status.Active() {
		return st
	}
	pid := m.pid(st)
	if pid <= 0 {
		// Launcher has not recorded the pid yet.
		return st
	}
	if !m.prober.Alive(pid) {
		st.Status = StatusCrashed
		st.PID = pid
	}
	return st
}

func (m *Manager) pid(st State) int {
	if st.PID > 0 {
		return st.PID
	}
	data, err := os.ReadFile(m.PIDPath(st.JobID))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
