package job_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chromdm/internal/catalog"
	"chromdm/internal/job"
	"chromdm/internal/task"
)

type fakeProber struct {
	alive  map[int]bool
	probed []int
}

func (p *fakeProber) Alive(pid int) bool {
	p.probed = append(p.probed, pid)
	return p.alive[pid]
}

type recordingMarker struct {
	marked []string
	fail   string
}

func (m *recordingMarker) MarkDownloaded(_ context.Context, kind catalog.Kind, accession, path string) error {
	if accession == m.fail {
		return errors.New("no such accession")
	}
	m.marked = append(m.marked, fmt.Sprintf("%s:%s:%s", kind, accession, path))
	return nil
}

func (m *recordingMarker) MarkFailed(context.Context, catalog.Kind, string) error { return nil }

func writeState(t *testing.T, m *job.Manager, st job.State) {
	t.Helper()
	if err := job.Save(m.StatePath(st.JobID), st); err != nil {
		t.Fatal(err)
	}
}

func TestManagerStartPersistsBeforeLaunch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "jobs")
	var spec job.LaunchSpec
	var stateAtLaunch job.State
	var m *job.Manager
	m = job.NewManager(dir, "/usr/local/bin/chromdm", job.WithLauncher(func(s job.LaunchSpec) (int, error) {
		spec = s
		st, err := job.Load(s.Args[3])
		if err != nil {
			t.Fatalf("state must exist before launch: %v", err)
		}
		stateAtLaunch = st
		return 4242, nil
	}))

	tasks := jobTasks(3)
	st, err := m.Start(context.Background(), tasks)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(st.JobID) != 8 || st.PID != 4242 || st.Status != job.StatusStarting {
		t.Fatalf("unexpected returned state %+v", st)
	}
	want := []string{"job", "run", st.JobID, m.StatePath(st.JobID), m.TasksPath(st.JobID)}
	if spec.Executable != "/usr/local/bin/chromdm" || strings.Join(spec.Args, " ") != strings.Join(want, " ") {
		t.Fatalf("unexpected launch spec %+v", spec)
	}
	if spec.LogPath != m.LogPath(st.JobID) || stateAtLaunch.LogFile != spec.LogPath {
		t.Fatalf("expected log path wiring, got %+v / %+v", spec, stateAtLaunch)
	}
	if stateAtLaunch.Status != job.StatusStarting || stateAtLaunch.TotalTasks != 3 || stateAtLaunch.PID != 0 {
		t.Fatalf("unexpected initial snapshot %+v", stateAtLaunch)
	}

	loaded, err := task.LoadFile(m.TasksPath(st.JobID))
	if err != nil || len(loaded) != 3 || loaded[2] != tasks[2] {
		t.Fatalf("task list not persisted: %+v err=%v", loaded, err)
	}
	pid, err := os.ReadFile(m.PIDPath(st.JobID))
	if err != nil || strings.TrimSpace(string(pid)) != "4242" {
		t.Fatalf("expected pid file, got %q err=%v", pid, err)
	}
}

func TestManagerStartForwardsExtraArgs(t *testing.T) {
	var spec job.LaunchSpec
	m := job.NewManager(t.TempDir(), "chromdm",
		job.WithExtraArgs("--config", "/etc/chromdm.toml"),
		job.WithLauncher(func(s job.LaunchSpec) (int, error) {
			spec = s
			return 7, nil
		}),
	)
	st, err := m.Start(context.Background(), jobTasks(1))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	want := []string{"job", "run", st.JobID, m.StatePath(st.JobID), m.TasksPath(st.JobID), "--config", "/etc/chromdm.toml"}
	if strings.Join(spec.Args, " ") != strings.Join(want, " ") {
		t.Fatalf("unexpected args %v", spec.Args)
	}
}

func TestManagerStartRejectsInvalidTasks(t *testing.T) {
	launched := false
	m := job.NewManager(t.TempDir(), "chromdm", job.WithLauncher(func(job.LaunchSpec) (int, error) {
		launched = true
		return 1, nil
	}))
	if _, err := m.Start(context.Background(), nil); !errors.Is(err, job.ErrInvalidTasks) {
		t.Fatalf("expected ErrInvalidTasks, got %v", err)
	}
	bad := jobTasks(1)
	bad[0].URL = ""
	if _, err := m.Start(context.Background(), bad); !errors.Is(err, job.ErrInvalidTasks) {
		t.Fatalf("expected ErrInvalidTasks, got %v", err)
	}
	if launched {
		t.Fatal("launcher must not run for invalid input")
	}
}

func TestManagerStartLaunchFailure(t *testing.T) {
	m := job.NewManager(t.TempDir(), "chromdm", job.WithLauncher(func(job.LaunchSpec) (int, error) {
		return 0, errors.New("exec format error")
	}))
	st, err := m.Start(context.Background(), jobTasks(1))
	if err == nil {
		t.Fatal("expected launch error")
	}
	onDisk, loadErr := job.Load(m.StatePath(st.JobID))
	if loadErr != nil || onDisk.Status != job.StatusError || !strings.Contains(onDisk.Error, "exec format") {
		t.Fatalf("expected error snapshot, got %+v err=%v", onDisk, loadErr)
	}
}

func TestManagerReportsVanishedProcessAsCrashed(t *testing.T) {
	prober := &fakeProber{alive: map[int]bool{100: true}}
	m := job.NewManager(t.TempDir(), "chromdm", job.WithProber(prober))

	writeState(t, m, job.State{JobID: "live0001", Status: job.StatusRunning, PID: 100})
	writeState(t, m, job.State{JobID: "dead0001", Status: job.StatusRunning, PID: 200})

	live, err := m.Get(context.Background(), "live0001")
	if err != nil || live.Status != job.StatusRunning {
		t.Fatalf("expected running, got %+v err=%v", live, err)
	}
	dead, err := m.Get(context.Background(), "dead0001")
	if err != nil || dead.Status != job.StatusCrashed {
		t.Fatalf("expected crashed, got %+v err=%v", dead, err)
	}
	onDisk, _ := job.Load(m.StatePath("dead0001"))
	if onDisk.Status != job.StatusRunning {
		t.Fatalf("poller must not rewrite the state file, got %s", onDisk.Status)
	}
}

func TestManagerUsesPIDFileForStartingJobs(t *testing.T) {
	prober := &fakeProber{alive: map[int]bool{}}
	m := job.NewManager(t.TempDir(), "chromdm", job.WithProber(prober))

	writeState(t, m, job.State{JobID: "fresh001", Status: job.StatusStarting})
	st, err := m.Get(context.Background(), "fresh001")
	if err != nil || st.Status != job.StatusStarting || len(prober.probed) != 0 {
		t.Fatalf("job without a pid stays starting, got %+v probed=%v", st, prober.probed)
	}

	if err := os.WriteFile(m.PIDPath("fresh001"), []byte("321\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err = m.Get(context.Background(), "fresh001")
	if err != nil || st.Status != job.StatusCrashed || st.PID != 321 {
		t.Fatalf("expected crashed via pid file, got %+v err=%v", st, err)
	}
}

func TestManagerDoesNotProbeTerminalJobs(t *testing.T) {
	prober := &fakeProber{}
	m := job.NewManager(t.TempDir(), "chromdm", job.WithProber(prober))
	writeState(t, m, job.State{JobID: "done0001", Status: job.StatusDone, PID: 55})
	st, err := m.Get(context.Background(), "done0001")
	if err != nil || st.Status != job.StatusDone || len(prober.probed) != 0 {
		t.Fatalf("unexpected %+v probed=%v err=%v", st, prober.probed, err)
	}
}

func TestManagerListNewestFirst(t *testing.T) {
	m := job.NewManager(t.TempDir(), "chromdm", job.WithProber(&fakeProber{}))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	writeState(t, m, job.State{JobID: "old00001", Status: job.StatusDone, StartedAt: base})
	writeState(t, m, job.State{JobID: "new00001", Status: job.StatusRunning, PID: 9, StartedAt: base.Add(time.Hour)})
	if err := task.WriteFile(m.TasksPath("new00001"), jobTasks(1)); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(m.StatePath("new00001")+".tmp", []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}

	states, err := m.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(states) != 2 || states[0].JobID != "new00001" || states[1].JobID != "old00001" {
		t.Fatalf("unexpected listing %+v", states)
	}
	if states[0].Status != job.StatusCrashed {
		t.Fatalf("expected dead process reported as crashed, got %s", states[0].Status)
	}
}

func TestManagerListMissingDirectory(t *testing.T) {
	m := job.NewManager(filepath.Join(t.TempDir(), "absent"), "chromdm")
	states, err := m.List(context.Background())
	if err != nil || len(states) != 0 {
		t.Fatalf("expected empty listing, got %v err=%v", states, err)
	}
}

func TestManagerGetIncludesLogTail(t *testing.T) {
	m := job.NewManager(t.TempDir(), "chromdm")
	writeState(t, m, job.State{JobID: "logs0001", Status: job.StatusDone, LogFile: ""})
	var b strings.Builder
	for i := 1; i <= 30; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	if err := os.WriteFile(m.LogPath("logs0001"), []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err := m.Get(context.Background(), "logs0001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(st.LogTail) != 20 || st.LogTail[0] != "line 11" || st.LogTail[19] != "line 30" {
		t.Fatalf("unexpected tail %v", st.LogTail)
	}
}

func TestManagerGetUnknownJob(t *testing.T) {
	m := job.NewManager(t.TempDir(), "chromdm")
	for _, id := range []string{"missing1", "../etc", ""} {
		if _, err := m.Get(context.Background(), id); !errors.Is(err, job.ErrNotFound) {
			t.Fatalf("Get(%q): expected ErrNotFound, got %v", id, err)
		}
	}
}

func TestManagerStopSignalsActiveJobs(t *testing.T) {
	var signalled []int
	m := job.NewManager(t.TempDir(), "chromdm",
		job.WithProber(&fakeProber{alive: map[int]bool{77: true}}),
		job.WithTerminator(func(pid int) error {
			signalled = append(signalled, pid)
			return nil
		}),
	)
	writeState(t, m, job.State{JobID: "stop0001", Status: job.StatusRunning, PID: 77})
	writeState(t, m, job.State{JobID: "stop0002", Status: job.StatusDone, PID: 78})

	if _, err := m.Stop(context.Background(), "stop0001"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := m.Stop(context.Background(), "stop0002"); !errors.Is(err, job.ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
	if len(signalled) != 1 || signalled[0] != 77 {
		t.Fatalf("unexpected signals %v", signalled)
	}
}

func TestManagerDeleteRefusesLiveJob(t *testing.T) {
	prober := &fakeProber{alive: map[int]bool{90: true}}
	m := job.NewManager(t.TempDir(), "chromdm", job.WithProber(prober))
	writeState(t, m, job.State{JobID: "del00001", Status: job.StatusRunning, PID: 90})
	for _, path := range []string{m.TasksPath("del00001"), m.LogPath("del00001"), m.PIDPath("del00001")} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := m.Delete(context.Background(), "del00001"); !errors.Is(err, job.ErrJobRunning) {
		t.Fatalf("expected ErrJobRunning, got %v", err)
	}
	prober.alive[90] = false
	if err := m.Delete(context.Background(), "del00001"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	for _, path := range []string{m.StatePath("del00001"), m.TasksPath("del00001"), m.LogPath("del00001"), m.PIDPath("del00001")} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("expected %s removed, stat err=%v", path, err)
		}
	}
}

func TestManagerReconcileReplaysSuccesses(t *testing.T) {
	m := job.NewManager(t.TempDir(), "chromdm")
	writeState(t, m, job.State{JobID: "rec00001", Status: job.StatusDone, Results: []job.Result{
		{Kind: catalog.KindPrimary, Accession: "A", Success: true, Path: "/d/A.mcool"},
		{Kind: catalog.KindPrimary, Accession: "B", Success: false},
		{Kind: catalog.KindCompanion, Accession: "C", Success: true, Path: "/d/C.bed.gz"},
		{Kind: catalog.KindPrimary, Accession: "D", Success: true, Path: "/d/D.mcool"},
	}})
	marker := &recordingMarker{fail: "D"}

	n, err := m.Reconcile(context.Background(), "rec00001", marker)
	if n != 2 {
		t.Fatalf("expected 2 marked, got %d", n)
	}
	if err == nil || !strings.Contains(err.Error(), "D") {
		t.Fatalf("expected joined error naming D, got %v", err)
	}
	want := []string{"mcool:A:/d/A.mcool", "ccre:C:/d/C.bed.gz"}
	if strings.Join(marker.marked, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected marks %v", marker.marked)
	}
}

func TestProcessProber(t *testing.T) {
	var p job.ProcessProber
	if !p.Alive(os.Getpid()) {
		t.Fatal("current process must be alive")
	}
	if p.Alive(0) || p.Alive(-1) {
		t.Fatal("non-positive pids are never alive")
	}
}
