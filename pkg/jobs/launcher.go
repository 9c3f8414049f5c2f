package jobs

import (
	"time"

	"github.com/loopdeck/loopdeck/pkg/proc"
)

// Process is the view of a launched process the managers and their watchers
// need. *proc.Handle satisfies it; tests substitute scripted fakes.
type Process interface {
	PID() int
	Lines() <-chan string
	Wait() proc.Outcome
	Terminate(grace time.Duration)
	OutputTail() string
	StderrTail() string
}

// Launcher starts processes. The managers never call the OS directly.
type Launcher interface {
	Launch(spec proc.Spec) (Process, error)
}

// ExecLauncher launches real OS processes via pkg/proc.
type ExecLauncher struct{}

// Launch implements Launcher.
func (ExecLauncher) Launch(spec proc.Spec) (Process, error) {
	h, err := proc.Start(spec)
	if err != nil {
		return nil, err
	}
	return h, nil
}
