package supervisor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/snowmigrate/snowmigrate-api/internal/models"
	"github.com/snowmigrate/snowmigrate-api/internal/parser"
)

// DockerLauncher runs the engine image in a container. Pause and resume map
// to the container runtime's freezer, so suspension is real; terminate uses
// ContainerStop, which escalates from SIGTERM to SIGKILL after the grace
// period.
type DockerLauncher struct {
	cli            *client.Client
	image          string
	cpuLimit       int64
	memoryLimit    int64
	terminateGrace time.Duration
	logger         zerolog.Logger
}

func NewDockerLauncher(engineImage string, cpuLimit, memoryLimit int64, terminateGrace time.Duration, logger zerolog.Logger) (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "create docker client")
	}
	return &DockerLauncher{
		cli:            cli,
		image:          engineImage,
		cpuLimit:       cpuLimit,
		memoryLimit:    memoryLimit,
		terminateGrace: terminateGrace,
		logger:         logger.With().Str("component", "docker_launcher").Logger(),
	}, nil
}

func (l *DockerLauncher) Start(ctx context.Context, spec LaunchSpec) (Handle, error) {
	if err := l.ensureImage(ctx); err != nil {
		return nil, &LaunchError{Reason: "engine image " + l.image, Err: err}
	}

	containerConfig := &container.Config{
		Image: l.image,
		Cmd:   spec.Args,
		Env:   spec.Env,
	}
	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			CPUShares: l.cpuLimit,
			Memory:    l.memoryLimit,
		},
		AutoRemove: true,
	}

	resp, err := l.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return nil, &LaunchError{Reason: "create container", Err: err}
	}

	// The job outlives the launch deadline, so stream and wait calls run on
	// a background context owned by the handle.
	runCtx := context.Background()

	// With AutoRemove the container can vanish the moment it exits, so the
	// wait must be registered before the container starts; opening it after
	// exit would report "no such container" instead of the real status.
	waitCh, waitErrCh := l.cli.ContainerWait(runCtx, resp.ID, container.WaitConditionNextExit)

	if err := l.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, &LaunchError{Reason: "start container", Err: err}
	}
	l.logger.Debug().Str("container_id", resp.ID).Msg("engine container started")

	logReader, err := l.cli.ContainerLogs(runCtx, resp.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		l.cli.ContainerStop(runCtx, resp.ID, container.StopOptions{})
		return nil, &LaunchError{Reason: "attach container logs", Err: err}
	}

	h := &dockerHandle{
		cli:       l.cli,
		id:        resp.ID,
		ctx:       runCtx,
		events:    make(chan models.ProgressEvent, 256),
		done:      make(chan struct{}),
		grace:     l.terminateGrace,
		waitCh:    waitCh,
		waitErrCh: waitErrCh,
	}

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()

	// The container log stream multiplexes stdout and stderr; stdcopy splits
	// it back into the two pipes the drain loops consume.
	go func() {
		defer logReader.Close()
		_, copyErr := stdcopy.StdCopy(outW, errW, logReader)
		outW.CloseWithError(copyErr)
		errW.CloseWithError(copyErr)
	}()

	var drained sync.WaitGroup
	drained.Add(2)
	go func() {
		defer drained.Done()
		h.drainStdout(outR)
	}()
	go func() {
		defer drained.Done()
		h.drainStderr(errR)
	}()

	go func() {
		drained.Wait()
		close(h.events)
		h.finish()
	}()

	return h, nil
}

func (l *DockerLauncher) ensureImage(ctx context.Context) error {
	if _, err := l.cli.ImageInspect(ctx, l.image); err == nil {
		return nil
	}
	l.logger.Info().Str("image", l.image).Msg("engine image not found locally, pulling")
	reader, err := l.cli.ImagePull(ctx, l.image, image.PullOptions{})
	if err != nil {
		return errors.Wrap(err, "pull image")
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

type dockerHandle struct {
	cli       *client.Client
	id        string
	ctx       context.Context
	events    chan models.ProgressEvent
	done      chan struct{}
	grace     time.Duration
	waitCh    <-chan container.WaitResponse
	waitErrCh <-chan error

	mu     sync.Mutex
	tail   []string
	status ExitStatus
}

func (h *dockerHandle) Events() <-chan models.ProgressEvent { return h.events }

func (h *dockerHandle) CanSuspend() bool { return true }

func (h *dockerHandle) Signal(kind SignalKind) error {
	switch kind {
	case SignalPause:
		return h.cli.ContainerPause(h.ctx, h.id)
	case SignalResume:
		return h.cli.ContainerUnpause(h.ctx, h.id)
	case SignalTerminate:
		graceSeconds := int(h.grace.Seconds())
		err := h.cli.ContainerStop(h.ctx, h.id, container.StopOptions{Timeout: &graceSeconds})
		// A container already gone (exited and auto-removed) is a stop that
		// succeeded, not a delivery failure.
		if err != nil && client.IsErrNotFound(err) {
			return nil
		}
		return err
	default:
		return errors.Errorf("unsupported signal kind %d", kind)
	}
}

func (h *dockerHandle) Wait() ExitStatus {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *dockerHandle) drainStdout(r io.Reader) {
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

func (h *dockerHandle) drainStderr(r io.Reader) {
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

func (h *dockerHandle) finish() {
	st := ExitStatus{}
	select {
	case err := <-h.waitErrCh:
		st.Crashed = true
		st.Code = -1
		st.Signal = err.Error()
	case status := <-h.waitCh:
		st.Code = int(status.StatusCode)
		// 128+n means the runtime delivered signal n.
		if st.Code > 128 {
			st.Crashed = true
			st.Signal = fmt.Sprintf("signal %d", st.Code-128)
		}
	}

	h.mu.Lock()
	st.StderrTail = strings.Join(h.tail, "\n")
	h.status = st
	h.mu.Unlock()
	close(h.done)
}
