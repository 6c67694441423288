package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/snowmigrate/snowmigrate-api/internal/models"
	"github.com/snowmigrate/snowmigrate-api/internal/notification"
	"github.com/snowmigrate/snowmigrate-api/internal/supervisor"
)

// admitLocked moves queued jobs into running slots, strict FIFO, until the
// ceiling is reached. Callers publish the returned events after unlocking.
func (o *Orchestrator) admitLocked() []notification.Event {
	var evts []notification.Event
	for o.slots < o.ceiling && len(o.queue) > 0 {
		j := o.queue[0]
		o.queue = o.queue[1:]

		now := o.clock()
		old := j.state.Status
		j.state.Status = models.StatusRunning
		j.state.StartedAt = &now
		o.slots++
		evts = append(evts, o.eventLocked(j, old, "admitted"))

		go o.run(j.desc.ID, j.desc)
	}
	return evts
}

// run drives one admitted job from launch to exit. It is the only goroutine
// consuming this job's event stream, so events apply in parse order.
func (o *Orchestrator) run(jobID string, desc models.JobDescriptor) {
	spec, err := o.buildSpec(desc)
	if err != nil {
		o.failLaunch(jobID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.LaunchTimeout)
	h, err := o.launcher.Start(ctx, spec)
	cancel()
	if err != nil {
		o.failLaunch(jobID, err)
		return
	}

	o.attachHandle(jobID, h)

	for ev := range h.Events() {
		o.applyEvent(jobID, ev)
	}
	o.handleExit(jobID, h.Wait())
}

// attachHandle binds the live process to the job and replays any control
// request that raced the launch (cancel or pause issued before the handle
// existed).
func (o *Orchestrator) attachHandle(jobID string, h supervisor.Handle) {
	o.mu.Lock()
	j, ok := o.jobs[jobID]
	if !ok {
		o.mu.Unlock()
		h.Signal(supervisor.SignalTerminate)
		return
	}
	j.handle = h
	j.state.CanSuspend = h.CanSuspend()
	cancelWanted := j.cancelWanted
	paused := j.state.Status == models.StatusPaused
	if j.state.Status == models.StatusRunning {
		o.startStallLocked(j)
	}
	o.mu.Unlock()

	if cancelWanted {
		if err := h.Signal(supervisor.SignalTerminate); err != nil {
			o.failCancelDelivery(jobID, err)
		}
		return
	}
	if paused {
		if err := h.Signal(supervisor.SignalPause); err != nil && errors.Is(err, supervisor.ErrNotSuspendable) {
			o.markDegradedPause(jobID)
		}
	}
}

// applyEvent folds one parsed event into the job's state. Events for a
// single job arrive from one goroutine in stream order; the lock serializes
// them against control operations.
func (o *Orchestrator) applyEvent(jobID string, ev models.ProgressEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	j, ok := o.jobs[jobID]
	if !ok {
		return
	}
	j.logs.Append(formatEvent(ev))

	// A terminal job (stall timeout already fired, launch raced a cancel)
	// keeps logging residual output but no longer changes state.
	if j.state.Status.Terminal() {
		return
	}
	if j.state.Status == models.StatusRunning {
		o.startStallLocked(j) // any output resets the stall clock
	}
	if ev.Anomaly {
		return
	}

	switch ev.Kind {
	case models.EventTableStarted:
		tp, known := j.state.Tables[ev.Table]
		if !known {
			j.logs.Append(fmt.Sprintf("ignoring start of unknown table %s", ev.Table))
			return
		}
		tp.Status = models.TableCopying
		j.state.Tables[ev.Table] = tp
		j.state.CurrentTable = ev.Table

	case models.EventTableProgress:
		tp, known := j.state.Tables[ev.Table]
		if !known {
			j.logs.Append(fmt.Sprintf("ignoring progress for unknown table %s", ev.Table))
			return
		}
		if ev.Fraction < tp.Fraction {
			j.logs.Append(fmt.Sprintf("ignoring progress regression for %s (%.3f < %.3f)", ev.Table, ev.Fraction, tp.Fraction))
			return
		}
		if tp.Status != models.TableCompleted {
			tp.Status = models.TableCopying
			tp.Fraction = ev.Fraction
			tp.ProcessedRows = ev.ProcessedRows
			tp.TotalRows = ev.TotalRows
			j.state.Tables[ev.Table] = tp
			j.state.CurrentTable = ev.Table
		}

	case models.EventTableCompleted:
		tp, known := j.state.Tables[ev.Table]
		if !known {
			j.logs.Append(fmt.Sprintf("ignoring completion of unknown table %s", ev.Table))
			return
		}
		if tp.Status != models.TableCompleted {
			tp.Status = models.TableCompleted
			tp.Fraction = 1.0
			if tp.TotalRows > 0 {
				tp.ProcessedRows = tp.TotalRows
			}
			j.state.Tables[ev.Table] = tp
			j.state.CompletedTables++
		}
		if j.state.CurrentTable == ev.Table {
			j.state.CurrentTable = ""
		}

	case models.EventError:
		// A table-scoped error marks that table failed but does not fail
		// the job by itself; the process exit code or the stall guard
		// decides the job's fate.
		if ev.Table != "" {
			if tp, known := j.state.Tables[ev.Table]; known {
				tp.Status = models.TableFailed
				tp.Error = ev.Message
				j.state.Tables[ev.Table] = tp
			}
			j.errCandidate = fmt.Sprintf("table %s: %s", ev.Table, ev.Message)
		} else if j.errCandidate == "" {
			j.errCandidate = ev.Message
		}
	}
}

// handleExit is the single transition point from a live process to a
// terminal state. Completed requires a zero exit code and a completion event
// for every table; everything else is Failed unless cancellation was
// requested.
func (o *Orchestrator) handleExit(jobID string, st supervisor.ExitStatus) {
	o.mu.Lock()
	j, ok := o.jobs[jobID]
	if !ok {
		o.mu.Unlock()
		return
	}
	o.stopStallLocked(j)
	j.handle = nil

	if j.state.Status.Terminal() {
		// The stall guard already failed this job and freed its slot.
		o.mu.Unlock()
		return
	}

	now := o.clock()
	old := j.state.Status
	switch {
	case j.cancelWanted:
		j.state.Status = models.StatusCancelled

	case st.Crashed:
		o.failLocked(j, fmt.Sprintf("engine crashed (%s)", st.Signal), st.StderrTail)

	case st.Code != 0:
		o.failLocked(j, fmt.Sprintf("engine exited with code %d", st.Code), firstNonEmpty(j.errCandidate, st.StderrTail))

	case j.state.CompletedTables == len(j.state.TableOrder):
		j.state.Status = models.StatusCompleted

	default:
		o.failLocked(j, fmt.Sprintf("engine exited cleanly with %d of %d tables completed", j.state.CompletedTables, len(j.state.TableOrder)), j.errCandidate)
	}
	j.state.EndedAt = &now

	o.slots--
	o.archiveLocked(j)
	final := j.state.Status
	evts := []notification.Event{o.eventLocked(j, old, "")}
	evts = append(evts, o.admitLocked()...)
	o.mu.Unlock()

	o.publish(evts)
	o.logger.Info().
		Str("job_id", jobID).
		Str("status", string(final)).
		Int("exit_code", st.Code).
		Msg("job finished")
}

// failLaunch marks a job Failed when no process handle was ever created.
func (o *Orchestrator) failLaunch(jobID string, cause error) {
	o.mu.Lock()
	j, ok := o.jobs[jobID]
	if !ok || j.state.Status.Terminal() {
		o.mu.Unlock()
		return
	}
	now := o.clock()
	old := j.state.Status
	if j.cancelWanted {
		j.state.Status = models.StatusCancelled
	} else {
		o.failLocked(j, "launch failed", cause.Error())
	}
	j.state.EndedAt = &now
	o.slots--
	o.archiveLocked(j)
	evts := []notification.Event{o.eventLocked(j, old, "")}
	evts = append(evts, o.admitLocked()...)
	o.mu.Unlock()

	o.publish(evts)
	o.logger.Error().Err(cause).Str("job_id", jobID).Msg("job launch failed")
}

// failCancelDelivery surfaces an undeliverable termination signal as a
// distinct failure instead of leaving the job stuck in Cancelling.
func (o *Orchestrator) failCancelDelivery(jobID string, cause error) {
	o.mu.Lock()
	j, ok := o.jobs[jobID]
	if !ok || j.state.Status.Terminal() {
		o.mu.Unlock()
		return
	}
	now := o.clock()
	old := j.state.Status
	o.failLocked(j, "could not cancel", cause.Error())
	j.state.EndedAt = &now
	o.slots--
	o.archiveLocked(j)
	evts := []notification.Event{o.eventLocked(j, old, "")}
	evts = append(evts, o.admitLocked()...)
	o.mu.Unlock()

	o.publish(evts)
	o.logger.Error().Err(cause).Str("job_id", jobID).Msg("termination signal could not be delivered")
}

func (o *Orchestrator) markDegradedPause(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if j, ok := o.jobs[jobID]; ok {
		j.state.CanSuspend = false
		j.logs.Append("pause degraded: engine process does not support suspension, holding job instead")
	}
}

// onStall fires when a running job produced no output within the stall
// timeout. The job is forced to Failed and the process is terminated; the
// eventual exit is bookkeeping only. A callback that raced a re-arm or a
// Stop carries a stale generation and is discarded.
func (o *Orchestrator) onStall(jobID string, gen uint64) {
	o.mu.Lock()
	j, ok := o.jobs[jobID]
	if !ok || j.stallGen != gen || j.state.Status != models.StatusRunning {
		o.mu.Unlock()
		return
	}
	now := o.clock()
	old := j.state.Status
	o.failLocked(j, fmt.Sprintf("stall timeout: no engine output within %s", o.cfg.StallTimeout), "")
	j.state.EndedAt = &now
	o.slots--
	o.archiveLocked(j)
	h := j.handle
	evts := []notification.Event{o.eventLocked(j, old, "")}
	evts = append(evts, o.admitLocked()...)
	o.mu.Unlock()

	if h != nil {
		if err := h.Signal(supervisor.SignalTerminate); err != nil {
			o.logger.Warn().Err(err).Str("job_id", jobID).Msg("terminate after stall failed")
		}
	}
	o.publish(evts)
	o.logger.Error().Str("job_id", jobID).Msg("job stalled")
}

func (o *Orchestrator) failLocked(j *job, reason, detail string) {
	if detail != "" {
		reason = reason + ": " + detail
	}
	j.state.Status = models.StatusFailed
	j.state.LastError = reason
}

// startStallLocked arms (or re-arms) the stall timer for a running job.
func (o *Orchestrator) startStallLocked(j *job) {
	if o.cfg.StallTimeout <= 0 || j.handle == nil {
		return
	}
	o.stopStallLocked(j)
	jobID := j.desc.ID
	gen := j.stallGen
	j.stall = time.AfterFunc(o.cfg.StallTimeout, func() { o.onStall(jobID, gen) })
}

func (o *Orchestrator) stopStallLocked(j *job) {
	// Bumping the generation disarms any callback that already fired and is
	// waiting on the lock; Stop alone cannot cancel those.
	j.stallGen++
	if j.stall != nil {
		j.stall.Stop()
		j.stall = nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func formatEvent(ev models.ProgressEvent) string {
	switch ev.Kind {
	case models.EventTableProgress:
		return fmt.Sprintf("[PROGRESS] %s: %.1f%% (%d/%d rows)", ev.Table, ev.Fraction*100, ev.ProcessedRows, ev.TotalRows)
	case models.EventError:
		if ev.Table != "" {
			return fmt.Sprintf("[ERROR] Failed to migrate %s: %s", ev.Table, ev.Message)
		}
		return "[ERROR] " + ev.Message
	default:
		return ev.Message
	}
}
