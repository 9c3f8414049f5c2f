// Package proc wraps a single operating-system process launch: PID capture,
// bounded output buffering, and a terminal outcome recorded exactly once.
// It carries no job policy; managers in pkg/jobs own lifecycle decisions.
package proc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// DefaultBufferSize is the per-stream ring buffer capacity.
const DefaultBufferSize = 64 * 1024

// Spec describes a process to launch.
type Spec struct {
	Path       string
	Args       []string
	Dir        string
	Env        []string // nil inherits the parent environment
	BufferSize int      // per-stream ring buffer bytes; 0 means DefaultBufferSize
}

// Outcome is the terminal result of a process. Exactly one of the failure
// fields is meaningful: Err for spawn/wait plumbing failures, Signal when the
// process was killed, ExitCode otherwise.
type Outcome struct {
	ExitCode int
	Signal   string
	Err      error
}

// Clean reports whether the process exited normally with code zero.
func (o Outcome) Clean() bool {
	return o.Err == nil && o.Signal == "" && o.ExitCode == 0
}

func (o Outcome) String() string {
	switch {
	case o.Err != nil:
		return o.Err.Error()
	case o.Signal != "":
		return fmt.Sprintf("terminated by signal %s", o.Signal)
	default:
		return fmt.Sprintf("exited with code %d", o.ExitCode)
	}
}

// Handle supervises one launched process. The owner must drain Lines();
// stdout production blocks on it once the scanner buffer fills.
type Handle struct {
	cmd    *exec.Cmd
	pid    int
	stdout *RingBuffer
	stderr *RingBuffer

	lines   chan string
	drained sync.WaitGroup

	done    chan struct{}
	once    sync.Once
	outcome Outcome
}

// Start launches the process described by spec. A launch failure is returned
// directly; nothing is retried.
func Start(spec Spec) (*Handle, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", spec.Path, err)
	}

	h := &Handle{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		stdout: NewRingBuffer(spec.BufferSize),
		stderr: NewRingBuffer(spec.BufferSize),
		lines:  make(chan string, 64),
		done:   make(chan struct{}),
	}

	h.drained.Add(2)
	go h.drainStdout(stdoutPipe)
	go h.drainStderr(stderrPipe)
	go h.reap()

	return h, nil
}

// PID returns the process identifier.
func (h *Handle) PID() int { return h.pid }

// Lines yields stdout line by line; closed when stdout reaches EOF.
func (h *Handle) Lines() <-chan string { return h.lines }

// Done is closed once the terminal outcome has been recorded.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the process exits and returns its outcome.
func (h *Handle) Wait() Outcome {
	<-h.done
	return h.outcome
}

// Outcome returns the terminal outcome if the process has exited.
func (h *Handle) Outcome() (Outcome, bool) {
	select {
	case <-h.done:
		return h.outcome, true
	default:
		return Outcome{}, false
	}
}

// Signal sends sig to the process. Best-effort: the process may already be
// gone, which is not an error the caller can act on.
func (h *Handle) Signal(sig os.Signal) error {
	if err := h.cmd.Process.Signal(sig); err != nil {
		return fmt.Errorf("failed to signal pid %d: %w", h.pid, err)
	}
	return nil
}

// Kill forcefully terminates the process.
func (h *Handle) Kill() error {
	if err := h.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("failed to kill pid %d: %w", h.pid, err)
	}
	return nil
}

// Terminate requests a graceful stop and escalates to Kill if the process
// has not exited within grace. Returns immediately.
func (h *Handle) Terminate(grace time.Duration) {
	_ = h.Signal(syscall.SIGTERM)
	go func() {
		select {
		case <-h.done:
		case <-time.After(grace):
			_ = h.Kill()
		}
	}()
}

// OutputTail returns the buffered tail of stdout.
func (h *Handle) OutputTail() string { return h.stdout.String() }

// StderrTail returns the buffered tail of stderr.
func (h *Handle) StderrTail() string { return h.stderr.String() }

func (h *Handle) drainStdout(r io.Reader) {
	defer h.drained.Done()
	defer close(h.lines)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		h.stdout.Write([]byte(line + "\n"))
		h.lines <- line
	}
}

func (h *Handle) drainStderr(r io.Reader) {
	defer h.drained.Done()

	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.stderr.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// reap waits for the drain goroutines, then for process exit, and records
// the outcome exactly once.
func (h *Handle) reap() {
	h.drained.Wait()

	out := Outcome{}
	if err := h.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				out.Signal = ws.Signal().String()
				out.ExitCode = -1
			} else {
				out.ExitCode = exitErr.ExitCode()
			}
		} else {
			out.Err = err
			out.ExitCode = -1
		}
	}

	h.once.Do(func() {
		h.outcome = out
		close(h.done)
	})
}
