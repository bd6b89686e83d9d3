package job_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chromdm/internal/catalog"
	"chromdm/internal/download"
	"chromdm/internal/job"
	"chromdm/internal/task"
)

type scriptedEngine struct {
	fail   map[string]error
	delay  time.Duration
	onCall func(n int, req download.Request)

	mu      sync.Mutex
	calls   []string
	ctxErrs []error
	count   atomic.Int32
}

func (e *scriptedEngine) Download(ctx context.Context, req download.Request, progress download.ProgressFunc) (string, error) {
	n := int(e.count.Add(1))
	if e.onCall != nil {
		e.onCall(n, req)
	}
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	e.mu.Lock()
	e.calls = append(e.calls, req.Accession)
	e.ctxErrs = append(e.ctxErrs, ctx.Err())
	e.mu.Unlock()
	if err := e.fail[req.Accession]; err != nil {
		return "", err
	}
	if progress != nil {
		progress(download.Progress{Accession: req.Accession, Percent: 100, BytesWritten: 1, BytesTotal: 1})
	}
	return req.Dest, nil
}

func jobTasks(n int) []task.Task {
	tasks := make([]task.Task, n)
	for i := range tasks {
		acc := fmt.Sprintf("4DNFI%04d", i+1)
		tasks[i] = task.Task{
			Kind:      catalog.KindPrimary,
			Identity:  []string{"K562", "HepG2"}[i%2],
			Accession: acc,
			URL:       "https://data.4dnucleome.org/files-processed/" + acc,
			Path:      "/data/mcool/" + acc + ".mcool",
			SizeBytes: catalog.GBToBytes(1),
			SizeGB:    1,
		}
	}
	return tasks
}

func TestSupervisorIsolatesFailures(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "job1.json")
	if err := job.Save(statePath, job.State{JobID: "job1", Status: job.StatusStarting, LogFile: "/logs/job1.log"}); err != nil {
		t.Fatal(err)
	}
	tasks := jobTasks(3)
	engine := &scriptedEngine{fail: map[string]error{
		tasks[1].Accession: errors.New("dial tcp: no such host"),
	}}

	st, err := job.NewSupervisor(engine).Run(context.Background(), "job1", statePath, tasks)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Status != job.StatusDone || st.Completed != 2 || st.Failed != 1 || len(st.Results) != 3 {
		t.Fatalf("unexpected final state %+v", st)
	}
	for i, r := range st.Results {
		if r.Accession != tasks[i].Accession {
			t.Fatalf("results out of submission order: %+v", st.Results)
		}
	}
	if st.Results[1].Success || !strings.Contains(st.Results[1].Error, "no such host") || st.Results[1].Path != "" {
		t.Fatalf("unexpected failed result %+v", st.Results[1])
	}
	if st.Results[2].Path != tasks[2].Path {
		t.Fatalf("expected destination path recorded, got %+v", st.Results[2])
	}

	onDisk, err := job.Load(statePath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if onDisk.Status != job.StatusDone || onDisk.FinishedAt == nil || onDisk.Current != "" || onDisk.CurrentIdx != 2 {
		t.Fatalf("unexpected persisted state %+v", onDisk)
	}
	if onDisk.PID != os.Getpid() || onDisk.LogFile != "/logs/job1.log" {
		t.Fatalf("expected pid and log file, got pid=%d log=%q", onDisk.PID, onDisk.LogFile)
	}
	if onDisk.TotalTasks != 3 || onDisk.TotalGB != 3 || len(onDisk.CellLines) != 2 {
		t.Fatalf("unexpected totals %+v", onDisk)
	}
}

func TestSupervisorCancelsBetweenTasks(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "job2.json")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sawCancelling atomic.Bool
	engine := &scriptedEngine{}
	engine.onCall = func(n int, _ download.Request) {
		if n != 2 {
			return
		}
		cancel()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if st, err := job.Load(statePath); err == nil && st.Status == job.StatusCancelling {
				sawCancelling.Store(true)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	st, err := job.NewSupervisor(engine).Run(ctx, "job2", statePath, jobTasks(4))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !sawCancelling.Load() {
		t.Fatal("expected cancelling status while the current task finished")
	}
	if st.Status != job.StatusCancelled || len(st.Results) != 2 || st.Completed != 2 {
		t.Fatalf("expected 2 recorded outcomes and cancelled, got %+v", st)
	}
	if len(engine.calls) != 2 {
		t.Fatalf("expected no task scheduled after cancellation, got %v", engine.calls)
	}
	for i, err := range engine.ctxErrs {
		if err != nil {
			t.Fatalf("transfer %d saw cancelled context: %v", i, err)
		}
	}
	onDisk, err := job.Load(statePath)
	if err != nil || onDisk.Status != job.StatusCancelled {
		t.Fatalf("expected cancelled on disk, got %+v err=%v", onDisk, err)
	}
}

func TestSupervisorCancelledBeforeFirstTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	engine := &scriptedEngine{}
	statePath := filepath.Join(t.TempDir(), "job3.json")

	st, err := job.NewSupervisor(engine).Run(ctx, "job3", statePath, jobTasks(2))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Status != job.StatusCancelled || len(st.Results) != 0 || engine.count.Load() != 0 {
		t.Fatalf("unexpected state %+v calls=%d", st, engine.count.Load())
	}
	onDisk, err := job.Load(statePath)
	if err != nil || onDisk.Status != job.StatusCancelled {
		t.Fatalf("expected cancelled on disk, got %+v err=%v", onDisk, err)
	}
}

func TestSnapshotReadableThroughoutRun(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "job4.json")
	if err := job.Save(statePath, job.State{JobID: "job4", Status: job.StatusStarting}); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	var reads atomic.Int32
	readErr := make(chan error, 1)
	go func() {
		for {
			select {
			case <-done:
				close(readErr)
				return
			default:
			}
			if _, err := job.Load(statePath); err != nil {
				readErr <- err
				return
			}
			reads.Add(1)
		}
	}()

	engine := &scriptedEngine{delay: 2 * time.Millisecond}
	if _, err := job.NewSupervisor(engine).Run(context.Background(), "job4", statePath, jobTasks(20)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	close(done)
	if err := <-readErr; err != nil {
		t.Fatalf("poller observed unreadable snapshot after %d reads: %v", reads.Load(), err)
	}
}

func TestRunFromFilesRejectsInvalidTasks(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "job5.json")
	tasksPath := filepath.Join(dir, "job5_tasks.json")
	if err := job.Save(statePath, job.State{JobID: "job5", Status: job.StatusStarting}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tasksPath, []byte(`[{"type":"mcool"`), 0o644); err != nil {
		t.Fatal(err)
	}

	if code := job.NewSupervisor(&scriptedEngine{}).RunFromFiles(context.Background(), "job5", statePath, tasksPath); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	st, err := job.Load(statePath)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != job.StatusError || !strings.Contains(st.Error, "invalid task list") || st.FinishedAt == nil {
		t.Fatalf("unexpected error state %+v", st)
	}
}

func TestRunFromFilesMissingTasksWithoutState(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "job6.json")
	code := job.NewSupervisor(&scriptedEngine{}).RunFromFiles(context.Background(), "job6", statePath, filepath.Join(dir, "missing.json"))
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	st, err := job.Load(statePath)
	if err != nil || st.JobID != "job6" || st.Status != job.StatusError {
		t.Fatalf("expected error state to be created, got %+v err=%v", st, err)
	}
}

func TestRunFromFilesCompletes(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "job7.json")
	tasksPath := filepath.Join(dir, "job7_tasks.json")
	if err := task.WriteFile(tasksPath, jobTasks(2)); err != nil {
		t.Fatal(err)
	}
	if code := job.NewSupervisor(&scriptedEngine{}).RunFromFiles(context.Background(), "job7", statePath, tasksPath); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	st, err := job.Load(statePath)
	if err != nil || st.Status != job.StatusDone || st.Completed != 2 {
		t.Fatalf("unexpected state %+v err=%v", st, err)
	}
}

type recordingNotifier struct {
	mu       sync.Mutex
	statuses []string
	err      error
}

func (n *recordingNotifier) NotifyJobFinished(_ context.Context, jobID, status string, completed, failed int, _ time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, fmt.Sprintf("%s:%s:%d/%d", jobID, status, completed, failed))
	return n.err
}

func TestSupervisorNotifiesOnFinish(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "job8.json")
	notifier := &recordingNotifier{err: errors.New("ntfy unreachable")}
	st, err := job.NewSupervisor(&scriptedEngine{}, job.WithNotifier(notifier)).Run(context.Background(), "job8", statePath, jobTasks(2))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Status != job.StatusDone {
		t.Fatalf("notification failure must not change the outcome, got %s", st.Status)
	}
	if len(notifier.statuses) != 1 || notifier.statuses[0] != "job8:done:2/0" {
		t.Fatalf("unexpected notifications %v", notifier.statuses)
	}
}
