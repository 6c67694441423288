package supervisor_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snowmigrate/snowmigrate-api/internal/models"
	"github.com/snowmigrate/snowmigrate-api/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func collectEvents(h supervisor.Handle) []models.ProgressEvent {
	var out []models.ProgressEvent
	for ev := range h.Events() {
		out = append(out, ev)
	}
	return out
}

func TestExecLauncherStreamsParsedEvents(t *testing.T) {
	script := writeScript(t, `
echo "[INFO] Starting migration of table: public.users"
echo "[PROGRESS] public.users: 50% (500/1000 rows)"
echo "[INFO] Completed migration of table: public.users"
`)
	launcher := supervisor.NewExecLauncher(time.Second, zerolog.Nop())

	h, err := launcher.Start(context.Background(), supervisor.LaunchSpec{Path: script})
	require.NoError(t, err)

	events := collectEvents(h)
	st := h.Wait()

	assert.Equal(t, 0, st.Code)
	assert.False(t, st.Crashed)
	require.Len(t, events, 3)
	assert.Equal(t, models.EventTableStarted, events[0].Kind)
	assert.Equal(t, models.EventTableProgress, events[1].Kind)
	assert.InDelta(t, 0.5, events[1].Fraction, 1e-9)
	assert.Equal(t, models.EventTableCompleted, events[2].Kind)
}

func TestExecLauncherPassesEnvironment(t *testing.T) {
	script := writeScript(t, `echo "source password: $SNOWMIGRATE_SOURCE_PASSWORD"`)
	launcher := supervisor.NewExecLauncher(time.Second, zerolog.Nop())

	h, err := launcher.Start(context.Background(), supervisor.LaunchSpec{
		Path: script,
		Env:  []string{supervisor.EnvSourcePassword + "=sekret"},
	})
	require.NoError(t, err)

	events := collectEvents(h)
	h.Wait()

	require.Len(t, events, 1)
	assert.Equal(t, "source password: sekret", events[0].Message)
}

func TestExecLauncherNonZeroExit(t *testing.T) {
	script := writeScript(t, `
echo "fatal: staging bucket unreachable" >&2
exit 3
`)
	launcher := supervisor.NewExecLauncher(time.Second, zerolog.Nop())

	h, err := launcher.Start(context.Background(), supervisor.LaunchSpec{Path: script})
	require.NoError(t, err)

	events := collectEvents(h)
	st := h.Wait()

	assert.Equal(t, 3, st.Code)
	assert.False(t, st.Crashed)
	assert.Contains(t, st.StderrTail, "staging bucket unreachable")
	require.Len(t, events, 1)
	assert.Equal(t, models.EventError, events[0].Kind)
}

func TestExecLauncherTerminateEscalation(t *testing.T) {
	script := writeScript(t, `
echo "[INFO] Starting migration of table: public.users"
exec sleep 30
`)
	launcher := supervisor.NewExecLauncher(time.Second, zerolog.Nop())

	h, err := launcher.Start(context.Background(), supervisor.LaunchSpec{Path: script})
	require.NoError(t, err)

	// Wait for the first event so the process is known to be up.
	ev, ok := <-h.Events()
	require.True(t, ok)
	assert.Equal(t, models.EventTableStarted, ev.Kind)

	require.NoError(t, h.Signal(supervisor.SignalTerminate))
	collectEvents(h)
	st := h.Wait()

	assert.True(t, st.Crashed)
	assert.NotEmpty(t, st.Signal)
}

func TestExecLauncherTerminateAfterExitSucceeds(t *testing.T) {
	script := writeScript(t, `echo "[INFO] done"`)
	launcher := supervisor.NewExecLauncher(time.Second, zerolog.Nop())

	h, err := launcher.Start(context.Background(), supervisor.LaunchSpec{Path: script})
	require.NoError(t, err)

	collectEvents(h)
	st := h.Wait()
	require.Equal(t, 0, st.Code)

	// A cancel racing the natural exit must not surface as a delivery
	// failure; the process being gone is the requested outcome.
	assert.NoError(t, h.Signal(supervisor.SignalTerminate))
}

func TestExecLauncherMissingBinary(t *testing.T) {
	launcher := supervisor.NewExecLauncher(time.Second, zerolog.Nop())

	_, err := launcher.Start(context.Background(), supervisor.LaunchSpec{Path: "/nonexistent/engine"})
	require.Error(t, err)
	var launchErr *supervisor.LaunchError
	assert.ErrorAs(t, err, &launchErr)
}

func TestExecLauncherRejectsNonExecutable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.txt")
	require.NoError(t, os.WriteFile(path, []byte("not a program"), 0o644))
	launcher := supervisor.NewExecLauncher(time.Second, zerolog.Nop())

	_, err := launcher.Start(context.Background(), supervisor.LaunchSpec{Path: path})
	var launchErr *supervisor.LaunchError
	assert.ErrorAs(t, err, &launchErr)
}
