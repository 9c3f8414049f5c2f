package jobs

import (
	"strings"
	"sync"
	"testing"

	"github.com/loopdeck/loopdeck/pkg/budget"
	"github.com/loopdeck/loopdeck/pkg/proc"
)

func newTestBuildManager(launcher *fakeLauncher, gate budget.Gate) *BuildManager {
	return NewBuildManager(BuildConfig{Binary: "ralph"}, gate, launcher)
}

func TestBuildStartRunsAndCompletes(t *testing.T) {
	launcher := &fakeLauncher{}
	fp := newFakeProcess(42)
	launcher.push(fp)
	m := newTestBuildManager(launcher, allowAllGate())

	job, err := m.Start(BuildOptions{Iterations: 5})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if job.State != BuildRunning {
		t.Fatalf("expected running, got %s", job.State)
	}
	if job.PID != 42 {
		t.Fatalf("expected pid 42, got %d", job.PID)
	}
	if job.Options.Iterations != 5 {
		t.Fatalf("options not captured: %+v", job.Options)
	}
	if !strings.Contains(job.Command, "--iterations 5") {
		t.Fatalf("command not recorded: %q", job.Command)
	}
	if job.StartedAt == nil {
		t.Fatal("startedAt not set")
	}

	fp.exit(proc.Outcome{})
	waitFor(t, func() bool { return m.Status().State == BuildCompleted }, "completed state")

	final := m.Status()
	if final.PID != 0 {
		t.Fatalf("pid should be cleared after exit, got %d", final.PID)
	}
	if final.Error != "" {
		t.Fatalf("unexpected error: %q", final.Error)
	}
}

func TestBuildStartConflictReturnsRunningJob(t *testing.T) {
	launcher := &fakeLauncher{}
	fp := newFakeProcess(7)
	launcher.push(fp)
	m := newTestBuildManager(launcher, allowAllGate())

	if _, err := m.Start(BuildOptions{Iterations: 5}); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}

	job, err := m.Start(BuildOptions{Iterations: 3})
	if CodeOf(err) != CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if job.PID != 7 {
		t.Fatalf("conflict should carry the running job's pid, got %d", job.PID)
	}
	if job.Options.Iterations != 5 {
		t.Fatalf("conflict should carry the first job's options: %+v", job.Options)
	}

	fp.exit(proc.Outcome{})
}

func TestConcurrentStartsExactlyOneWins(t *testing.T) {
	launcher := &fakeLauncher{}
	fp := newFakeProcess(1)
	launcher.push(fp)
	m := newTestBuildManager(launcher, allowAllGate())

	const callers = 16
	var wg sync.WaitGroup
	results := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = m.Start(BuildOptions{Iterations: 1})
		}(i)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case CodeOf(err) == CodeConflict:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	if conflicts != callers-1 {
		t.Fatalf("expected %d conflicts, got %d", callers-1, conflicts)
	}
	if launcher.launches() != 1 {
		t.Fatalf("expected one launch, got %d", launcher.launches())
	}

	fp.exit(proc.Outcome{})
}

func TestBuildAdmissionDenied(t *testing.T) {
	launcher := &fakeLauncher{}
	gate := fakeGate{decision: budget.Decision{
		Exceeded:        true,
		PauseOnExceeded: true,
		SpentUSD:        25.5,
		LimitUSD:        20,
	}}
	m := newTestBuildManager(launcher, gate)

	_, err := m.Start(BuildOptions{Iterations: 1})
	if CodeOf(err) != CodeAdmissionDenied {
		t.Fatalf("expected admission denial, got %v", err)
	}
	if !strings.Contains(err.Error(), "25.50") || !strings.Contains(err.Error(), "20.00") {
		t.Fatalf("denial should carry amounts: %v", err)
	}
	if launcher.launches() != 0 {
		t.Fatal("no process may be launched when admission is denied")
	}
	if m.Status().State != BuildIdle {
		t.Fatalf("state should be untouched, got %s", m.Status().State)
	}
}

func TestBuildSpawnErrorSetsErrorState(t *testing.T) {
	launcher := &fakeLauncher{err: errFake("no such binary")}
	m := newTestBuildManager(launcher, allowAllGate())

	_, err := m.Start(BuildOptions{Iterations: 1})
	if CodeOf(err) != CodeSpawn {
		t.Fatalf("expected spawn error, got %v", err)
	}
	status := m.Status()
	if status.State != BuildError {
		t.Fatalf("expected error state, got %s", status.State)
	}
	if status.Error == "" {
		t.Fatal("error detail should be recorded")
	}
}

func TestBuildStartAfterFailureClearsError(t *testing.T) {
	launcher := &fakeLauncher{err: errFake("boom")}
	m := newTestBuildManager(launcher, allowAllGate())
	m.Start(BuildOptions{Iterations: 1})

	launcher.mu.Lock()
	launcher.err = nil
	launcher.mu.Unlock()
	fp := newFakeProcess(9)
	launcher.push(fp)

	job, err := m.Start(BuildOptions{Iterations: 2})
	if err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if job.Error != "" {
		t.Fatalf("error should be cleared on successful start: %q", job.Error)
	}
	fp.exit(proc.Outcome{})
}

func TestBuildStopNotRunning(t *testing.T) {
	m := newTestBuildManager(&fakeLauncher{}, allowAllGate())
	if err := m.Stop(); CodeOf(err) != CodeNotRunning {
		t.Fatalf("expected not_running, got %v", err)
	}
}

func TestBuildStopReportsRunningUntilExit(t *testing.T) {
	launcher := &fakeLauncher{}
	fp := newFakeProcess(5)
	launcher.push(fp)
	m := newTestBuildManager(launcher, allowAllGate())

	m.Start(BuildOptions{Iterations: 1})
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// Stop only requests termination; state must not change before the
	// process actually exits.
	if got := m.Status().State; got != BuildRunning {
		t.Fatalf("expected running until exit, got %s", got)
	}
	if !fp.wasTerminated() {
		t.Fatal("termination was not requested")
	}

	fp.exit(proc.Outcome{ExitCode: -1, Signal: "terminated"})
	waitFor(t, func() bool { return m.Status().State == BuildError }, "error state after signal exit")

	if detail := m.Status().Error; !strings.Contains(detail, "signal") {
		t.Fatalf("error should mention the signal: %q", detail)
	}
}

func TestBuildValidation(t *testing.T) {
	launcher := &fakeLauncher{}
	m := newTestBuildManager(launcher, allowAllGate())

	_, err := m.Start(BuildOptions{Iterations: 0})
	if CodeOf(err) != CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if launcher.launches() != 0 {
		t.Fatal("no process may be launched on validation failure")
	}
}

func TestBuildNonZeroExitQuotesStderr(t *testing.T) {
	launcher := &fakeLauncher{}
	fp := newFakeProcess(3)
	fp.stderrTail = "fatal: out of budget"
	launcher.push(fp)
	m := newTestBuildManager(launcher, allowAllGate())

	m.Start(BuildOptions{Iterations: 1})
	fp.exit(proc.Outcome{ExitCode: 2})

	waitFor(t, func() bool { return m.Status().State == BuildError }, "error state")
	detail := m.Status().Error
	if !strings.Contains(detail, "code 2") || !strings.Contains(detail, "out of budget") {
		t.Fatalf("unexpected error detail: %q", detail)
	}
}

type errFake string

func (e errFake) Error() string { return string(e) }
