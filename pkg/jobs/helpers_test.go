package jobs

import (
	"sync"
	"testing"
	"time"

	"github.com/loopdeck/loopdeck/pkg/budget"
	"github.com/loopdeck/loopdeck/pkg/proc"
)

// fakeProcess is a scripted Process: tests emit lines and choose the exit
// outcome explicitly.
type fakeProcess struct {
	pid   int
	lines chan string
	done  chan struct{}

	exitOnce sync.Once
	outcome  proc.Outcome

	mu         sync.Mutex
	terminated bool

	stderrTail string

	// exitOnTerminate makes Terminate behave like a process that honors
	// SIGTERM immediately.
	exitOnTerminate bool
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{
		pid:   pid,
		lines: make(chan string, 64),
		done:  make(chan struct{}),
	}
}

func (p *fakeProcess) emit(line string) { p.lines <- line }

func (p *fakeProcess) exit(out proc.Outcome) {
	p.exitOnce.Do(func() {
		close(p.lines)
		p.outcome = out
		close(p.done)
	})
}

func (p *fakeProcess) PID() int             { return p.pid }
func (p *fakeProcess) Lines() <-chan string { return p.lines }

func (p *fakeProcess) Wait() proc.Outcome {
	<-p.done
	return p.outcome
}

func (p *fakeProcess) Terminate(grace time.Duration) {
	p.mu.Lock()
	p.terminated = true
	exitNow := p.exitOnTerminate
	p.mu.Unlock()
	if exitNow {
		p.exit(proc.Outcome{ExitCode: -1, Signal: "terminated"})
	}
}

func (p *fakeProcess) wasTerminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

func (p *fakeProcess) OutputTail() string { return "" }
func (p *fakeProcess) StderrTail() string { return p.stderrTail }

// fakeLauncher hands out queued fake processes and records every launch.
type fakeLauncher struct {
	mu    sync.Mutex
	queue []*fakeProcess
	specs []proc.Spec
	err   error
}

func (l *fakeLauncher) Launch(spec proc.Spec) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return nil, l.err
	}
	l.specs = append(l.specs, spec)

	if len(l.queue) == 0 {
		p := newFakeProcess(1000 + len(l.specs))
		l.queue = append(l.queue, p)
	}
	p := l.queue[0]
	l.queue = l.queue[1:]
	return p, nil
}

func (l *fakeLauncher) push(p *fakeProcess) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queue = append(l.queue, p)
}

func (l *fakeLauncher) launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.specs)
}

func (l *fakeLauncher) lastSpec() proc.Spec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.specs[len(l.specs)-1]
}

// fakeGate returns a fixed decision.
type fakeGate struct {
	decision budget.Decision
	err      error
}

func (g fakeGate) Check() (budget.Decision, error) { return g.decision, g.err }

func allowAllGate() fakeGate { return fakeGate{} }

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
