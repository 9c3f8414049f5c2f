// Package jobs owns the build and generation job managers: admission,
// process supervision, and lifecycle state. Each launched process gets
// exactly one watcher goroutine, and that watcher is the only writer of the
// job's terminal state.
package jobs

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/loopdeck/loopdeck/pkg/budget"
	"github.com/loopdeck/loopdeck/pkg/log"
	"github.com/loopdeck/loopdeck/pkg/proc"
)

// BuildState is the lifecycle state of the singleton build job.
type BuildState string

const (
	BuildIdle      BuildState = "idle"
	BuildRunning   BuildState = "running"
	BuildCompleted BuildState = "completed"
	BuildError     BuildState = "error"
)

// BuildOptions is the immutable launch parameter snapshot, captured at start
// time and never mutated afterwards.
type BuildOptions struct {
	Iterations int    `json:"iterations"`
	Target     string `json:"target,omitempty"`
	Agent      string `json:"agent,omitempty"`
	NoCommit   bool   `json:"no_commit,omitempty"`
}

// BuildJob is a point-in-time snapshot of the singleton build job.
type BuildJob struct {
	State      BuildState   `json:"state"`
	PID        int          `json:"pid,omitempty"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	Command    string       `json:"command,omitempty"`
	Options    BuildOptions `json:"options"`
	Error      string       `json:"error,omitempty"`
	OutputTail string       `json:"output_tail,omitempty"`
}

// BuildConfig configures the build manager.
type BuildConfig struct {
	Binary     string        // loop CLI, e.g. "ralph"
	WorkDir    string        // working directory for the loop process
	TermGrace  time.Duration // SIGTERM-to-SIGKILL escalation window
	BufferSize int           // per-stream output buffer bytes
}

const defaultTermGrace = 10 * time.Second

// BuildManager owns the process-wide singleton build job. All mutation
// funnels through its methods; request handlers hold a reference, never
// ambient globals.
type BuildManager struct {
	mu       sync.Mutex
	cfg      BuildConfig
	gate     budget.Gate
	launcher Launcher
	job      BuildJob
	handle   Process
	now      func() time.Time
}

// NewBuildManager creates the singleton manager in Idle.
func NewBuildManager(cfg BuildConfig, gate budget.Gate, launcher Launcher) *BuildManager {
	if cfg.Binary == "" {
		cfg.Binary = "ralph"
	}
	if cfg.TermGrace <= 0 {
		cfg.TermGrace = defaultTermGrace
	}
	return &BuildManager{
		cfg:      cfg,
		gate:     gate,
		launcher: launcher,
		job:      BuildJob{State: BuildIdle},
		now:      time.Now,
	}
}

// Status returns a consistent snapshot; safe for any number of callers.
func (m *BuildManager) Status() BuildJob {
	m.mu.Lock()
	defer m.mu.Unlock()

	job := m.job
	if m.handle != nil && job.State == BuildRunning {
		job.OutputTail = m.handle.OutputTail()
	}
	return job
}

// Start admits and launches a build. On Conflict the returned snapshot is
// the currently running job. Admission (budget gate) is checked before any
// process is launched; a spawn failure moves the singleton to Error
// synchronously so the caller learns about it in this call.
func (m *BuildManager) Start(opts BuildOptions) (BuildJob, error) {
	if opts.Iterations <= 0 {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.job, Errf(CodeValidation, "iterations must be at least 1, got %d", opts.Iterations)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.job.State == BuildRunning {
		return m.job, Errf(CodeConflict, "a build is already running (pid %d)", m.job.PID)
	}

	decision, err := m.gate.Check()
	if err != nil {
		// Fail closed: an unreadable ledger means spend is unknown.
		return m.job, Errf(CodeAdmissionDenied, "budget gate unavailable: %v", err)
	}
	if decision.Deny() {
		return m.job, Errf(CodeAdmissionDenied,
			"spend $%.2f exceeds limit $%.2f and pause-on-exceeded is set",
			decision.SpentUSD, decision.LimitUSD)
	}

	args := buildArgs(opts)
	command := m.cfg.Binary + " " + strings.Join(args, " ")

	handle, err := m.launcher.Launch(proc.Spec{
		Path:       m.cfg.Binary,
		Args:       args,
		Dir:        m.cfg.WorkDir,
		BufferSize: m.cfg.BufferSize,
	})
	if err != nil {
		m.job = BuildJob{
			State:   BuildError,
			Command: command,
			Options: opts,
			Error:   fmt.Sprintf("failed to launch %s: %v", m.cfg.Binary, err),
		}
		return m.job, Errf(CodeSpawn, "failed to launch %s: %v", m.cfg.Binary, err)
	}

	started := m.now()
	m.job = BuildJob{
		State:     BuildRunning,
		PID:       handle.PID(),
		StartedAt: &started,
		Command:   command,
		Options:   opts,
	}
	m.handle = handle

	go m.watch(handle)

	log.Info("build started", "pid", handle.PID(), "command", command)
	return m.job, nil
}

// Stop requests termination of the running build. State does not change
// here; the watcher records the transition when the process actually exits.
func (m *BuildManager) Stop() error {
	m.mu.Lock()
	if m.job.State != BuildRunning {
		m.mu.Unlock()
		return Errf(CodeNotRunning, "no build is running")
	}
	handle := m.handle
	pid := m.job.PID
	m.mu.Unlock()

	handle.Terminate(m.cfg.TermGrace)
	log.Info("build stop requested", "pid", pid)
	return nil
}

// watch is the sole writer of the terminal transition. It drains the output
// stream (the handle's ring buffer keeps the tail current) and classifies
// the exit.
func (m *BuildManager) watch(handle Process) {
	for range handle.Lines() {
	}
	outcome := handle.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.job.PID = 0
	m.job.OutputTail = handle.OutputTail()
	m.handle = nil

	if outcome.Clean() {
		m.job.State = BuildCompleted
		m.job.Error = ""
		log.Info("build completed", "command", m.job.Command)
		return
	}

	m.job.State = BuildError
	m.job.Error = describeFailure(outcome, handle.StderrTail())
	log.Warn("build failed", "detail", m.job.Error)
}

func buildArgs(opts BuildOptions) []string {
	args := []string{"build", "--iterations", strconv.Itoa(opts.Iterations)}
	if opts.Target != "" {
		args = append(args, "--target", opts.Target)
	}
	if opts.Agent != "" {
		args = append(args, "--agent", opts.Agent)
	}
	if opts.NoCommit {
		args = append(args, "--no-commit")
	}
	return args
}

func describeFailure(outcome proc.Outcome, stderrTail string) string {
	detail := outcome.String()
	if tail := strings.TrimSpace(stderrTail); tail != "" {
		detail += ": " + tail
	}
	return detail
}
