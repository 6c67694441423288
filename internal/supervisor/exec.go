package supervisor

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/snowmigrate/snowmigrate-api/internal/models"
	"github.com/snowmigrate/snowmigrate-api/internal/parser"
)

const stderrTailLines = 10

// ExecLauncher runs the engine as a local child process. Pause and resume
// map to SIGSTOP/SIGCONT, so suspension is real; terminate sends SIGTERM
// and escalates to SIGKILL after the grace period.
type ExecLauncher struct {
	terminateGrace time.Duration
	logger         zerolog.Logger
}

func NewExecLauncher(terminateGrace time.Duration, logger zerolog.Logger) *ExecLauncher {
	return &ExecLauncher{
		terminateGrace: terminateGrace,
		logger:         logger.With().Str("component", "exec_launcher").Logger(),
	}
}

func (l *ExecLauncher) Start(ctx context.Context, spec LaunchSpec) (Handle, error) {
	if err := checkExecutable(spec.Path); err != nil {
		return nil, &LaunchError{Reason: "engine binary " + spec.Path, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &LaunchError{Reason: "launch deadline exceeded", Err: err}
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Dir = spec.WorkDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &LaunchError{Reason: "stdout pipe", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &LaunchError{Reason: "stderr pipe", Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Reason: "spawn " + spec.Path, Err: err}
	}
	l.logger.Debug().Int("pid", cmd.Process.Pid).Str("path", spec.Path).Msg("engine process started")

	h := &execHandle{
		cmd:    cmd,
		events: make(chan models.ProgressEvent, 256),
		done:   make(chan struct{}),
		grace:  l.terminateGrace,
	}

	var drained sync.WaitGroup
	drained.Add(2)
	go func() {
		defer drained.Done()
		h.drainStdout(stdout)
	}()
	go func() {
		defer drained.Done()
		h.drainStderr(stderr)
	}()

	// Both streams must be fully drained before Wait resolves; otherwise a
	// full pipe buffer can deadlock the child.
	go func() {
		drained.Wait()
		close(h.events)
		h.finish(cmd.Wait())
	}()

	return h, nil
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return errors.New("path is a directory")
	}
	if info.Mode().Perm()&0o111 == 0 {
		return errors.New("file is not executable")
	}
	return nil
}

type execHandle struct {
	cmd    *exec.Cmd
	events chan models.ProgressEvent
	done   chan struct{}
	grace  time.Duration

	mu        sync.Mutex
	killTimer *time.Timer
	tail      []string
	status    ExitStatus
}

func (h *execHandle) Events() <-chan models.ProgressEvent { return h.events }

func (h *execHandle) CanSuspend() bool { return true }

func (h *execHandle) Signal(kind SignalKind) error {
	switch kind {
	case SignalPause:
		return h.cmd.Process.Signal(syscall.SIGSTOP)
	case SignalResume:
		return h.cmd.Process.Signal(syscall.SIGCONT)
	case SignalTerminate:
		if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			// Termination racing a natural exit is success: the process is
			// already gone, which is all the caller asked for.
			if errors.Is(err, os.ErrProcessDone) {
				return nil
			}
			return err
		}
		h.mu.Lock()
		if h.killTimer == nil {
			h.killTimer = time.AfterFunc(h.grace, func() {
				h.cmd.Process.Kill()
			})
		}
		h.mu.Unlock()
		return nil
	default:
		return errors.Errorf("unsupported signal kind %d", kind)
	}
}

func (h *execHandle) Wait() ExitStatus {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *execHandle) drainStdout(r io.Reader) {
	sc := parser.NewLineScanner(r)
	for sc.Scan() {
		line, truncated := sc.Line()
		if truncated {
			h.events <- models.ProgressEvent{
				Kind:    models.EventInfo,
				Message: line + " (line truncated)",
				Anomaly: true,
			}
			continue
		}
		h.events <- parser.ParseLine(line)
	}
}

func (h *execHandle) drainStderr(r io.Reader) {
	sc := parser.NewLineScanner(r)
	for sc.Scan() {
		line, _ := sc.Line()
		if strings.TrimSpace(line) == "" {
			continue
		}
		h.mu.Lock()
		h.tail = append(h.tail, line)
		if len(h.tail) > stderrTailLines {
			h.tail = h.tail[1:]
		}
		h.mu.Unlock()
		h.events <- models.ProgressEvent{Kind: models.EventError, Message: line}
	}
}

func (h *execHandle) finish(waitErr error) {
	h.mu.Lock()
	if h.killTimer != nil {
		h.killTimer.Stop()
	}
	st := ExitStatus{StderrTail: strings.Join(h.tail, "\n")}
	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		st.Code = 0
	case errors.As(waitErr, &exitErr):
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			st.Crashed = true
			st.Code = -1
			st.Signal = ws.Signal().String()
		} else {
			st.Code = exitErr.ExitCode()
		}
	default:
		st.Crashed = true
		st.Code = -1
		st.Signal = waitErr.Error()
	}
	h.status = st
	h.mu.Unlock()
	close(h.done)
}
