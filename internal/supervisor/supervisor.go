// Package supervisor owns the lifecycle of one external migration engine
// process: start, signal, and wait. It has no awareness of other jobs; the
// orchestrator composes supervisors into a schedule.
package supervisor

import (
	"context"

	"github.com/pkg/errors"
	"github.com/snowmigrate/snowmigrate-api/internal/models"
)

// SignalKind selects the control action delivered to a running engine.
type SignalKind int

const (
	SignalPause SignalKind = iota
	SignalResume
	SignalTerminate
)

func (k SignalKind) String() string {
	switch k {
	case SignalPause:
		return "pause"
	case SignalResume:
		return "resume"
	case SignalTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// ErrNotSuspendable is returned by Signal when the backend cannot truly
// suspend the process. Callers must surface the degraded pause mode instead
// of silently pretending the engine stopped.
var ErrNotSuspendable = errors.New("supervisor: backend does not support suspension")

// LaunchError wraps failures on the launch path: missing or non-executable
// engine binary, spawn failures, unreachable container runtime. A job that
// hits a LaunchError never produced a process handle.
type LaunchError struct {
	Reason string
	Err    error
}

func (e *LaunchError) Error() string {
	if e.Err != nil {
		return "launch failed: " + e.Reason + ": " + e.Err.Error()
	}
	return "launch failed: " + e.Reason
}

func (e *LaunchError) Unwrap() error { return e.Err }

// LaunchSpec carries everything needed to start one engine run. Args never
// contain credentials; those travel in Env only, so they stay out of process
// listings.
type LaunchSpec struct {
	Path    string
	Args    []string
	Env     []string
	WorkDir string
}

// ExitStatus is the final outcome of one engine process.
type ExitStatus struct {
	Code       int
	Crashed    bool
	Signal     string
	StderrTail string
}

// Handle tracks one live engine process.
//
// Events delivers parsed progress events in stream order; the channel closes
// once both output streams are drained. Wait blocks until process exit and
// is guaranteed not to return before the event channel has closed, so no
// event can arrive after the exit status.
type Handle interface {
	Events() <-chan models.ProgressEvent
	Signal(kind SignalKind) error
	CanSuspend() bool
	Wait() ExitStatus
}

// Launcher starts engine processes. Implementations: exec (local binary)
// and docker (engine image in a container).
type Launcher interface {
	Start(ctx context.Context, spec LaunchSpec) (Handle, error)
}
