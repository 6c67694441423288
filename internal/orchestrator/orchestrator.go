// Package orchestrator schedules migration jobs: it owns every job's state,
// enforces the concurrency ceiling, and is the single writer of state
// transitions. All mutation funnels through its mutex, which makes the
// "at most N running" invariant enforceable at one choke point.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/snowmigrate/snowmigrate-api/internal/models"
	"github.com/snowmigrate/snowmigrate-api/internal/notification"
	"github.com/snowmigrate/snowmigrate-api/internal/supervisor"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("operation not valid in current job state")
	ErrNotTerminal       = errors.New("job has not reached a terminal state")
)

// Config bounds the orchestrator's resources.
type Config struct {
	// MaxConcurrent is the concurrency ceiling: the number of jobs allowed
	// to hold a running slot at once.
	MaxConcurrent int
	// StallTimeout forces a Running job to Failed when its stream stays
	// silent this long. Zero disables the guard.
	StallTimeout time.Duration
	// LaunchTimeout bounds blocking calls on the process-launch path.
	LaunchTimeout time.Duration
	// LogBufferCapacity is the per-job log ring size.
	LogBufferCapacity int
	// ArchiveRetention caps how many terminal jobs are kept before the
	// oldest is evicted.
	ArchiveRetention int
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrent < 1 {
		c.MaxConcurrent = 1
	}
	if c.LaunchTimeout <= 0 {
		c.LaunchTimeout = 30 * time.Second
	}
	if c.LogBufferCapacity < 1 {
		c.LogBufferCapacity = 500
	}
	if c.ArchiveRetention < 1 {
		c.ArchiveRetention = 100
	}
}

// SpecBuilder renders a descriptor into a launch spec. Resolution failures
// (unknown connection or staging reference) surface as launch errors.
type SpecBuilder func(desc models.JobDescriptor) (supervisor.LaunchSpec, error)

type job struct {
	desc  models.JobDescriptor
	state models.MigrationState
	logs  *logRing

	handle supervisor.Handle
	stall  *time.Timer
	// stallGen invalidates stall callbacks that fired before Stop could
	// cancel them; only the callback carrying the current generation may
	// fail the job.
	stallGen     uint64
	cancelWanted bool
	errCandidate string
}

// Orchestrator owns the job pool. Construct one per process with New; tests
// construct a fresh instance per case.
type Orchestrator struct {
	cfg       Config
	launcher  supervisor.Launcher
	buildSpec SpecBuilder
	events    notification.Service
	logger    zerolog.Logger
	clock     func() time.Time

	mu      sync.Mutex
	jobs    map[string]*job
	order   []*job // submission order, for snapshots
	queue   []*job // FIFO of queued jobs
	archive []*job // terminal jobs, completion order
	ceiling int
	slots   int
}

func New(cfg Config, launcher supervisor.Launcher, buildSpec SpecBuilder, events notification.Service, logger zerolog.Logger) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		cfg:       cfg,
		launcher:  launcher,
		buildSpec: buildSpec,
		events:    events,
		logger:    logger.With().Str("component", "orchestrator").Logger(),
		clock:     time.Now,
		jobs:      make(map[string]*job),
		ceiling:   cfg.MaxConcurrent,
	}
}

// Submit enqueues a new job and admits it immediately if a slot is free.
// Duplicate table identifiers within the descriptor collapse to a single
// entry, keeping the first occurrence's position.
func (o *Orchestrator) Submit(desc models.JobDescriptor) (models.JobSummary, error) {
	if len(desc.Tables) == 0 {
		return models.JobSummary{}, errors.New("descriptor has no tables")
	}
	if desc.ID == "" {
		desc.ID = uuid.NewString()
	}
	now := o.clock()
	desc.CreatedAt = now
	desc.Tables = dedupeTables(desc.Tables)

	j := &job{
		desc: desc,
		logs: newLogRing(o.cfg.LogBufferCapacity),
		state: models.MigrationState{
			JobID:      desc.ID,
			Status:     models.StatusQueued,
			Tables:     make(map[string]models.TableProgress, len(desc.Tables)),
			TableOrder: make([]string, 0, len(desc.Tables)),
			EnqueuedAt: now,
		},
	}
	for _, t := range desc.Tables {
		name := t.FullName()
		j.state.TableOrder = append(j.state.TableOrder, name)
		j.state.Tables[name] = models.TableProgress{Status: models.TablePending, TotalRows: t.RowCount}
	}

	o.mu.Lock()
	if _, exists := o.jobs[desc.ID]; exists {
		o.mu.Unlock()
		return models.JobSummary{}, errors.Errorf("job %s already submitted", desc.ID)
	}
	o.jobs[desc.ID] = j
	o.order = append(o.order, j)
	o.queue = append(o.queue, j)
	evts := []notification.Event{o.eventLocked(j, models.StatusQueued, "")}
	evts = append(evts, o.admitLocked()...)
	summary := o.summaryLocked(j)
	o.mu.Unlock()

	o.publish(evts)
	o.logger.Info().Str("job_id", desc.ID).Str("name", desc.Name).Int("tables", len(desc.Tables)).Msg("job submitted")
	return summary, nil
}

// Cancel requests cancellation. Queued jobs leave the queue immediately and
// never start a process. Running or paused jobs move to Cancelling, receive
// a termination signal, and become Cancelled once the process confirms exit.
func (o *Orchestrator) Cancel(jobID string) error {
	o.mu.Lock()
	j, ok := o.jobs[jobID]
	if !ok {
		o.mu.Unlock()
		return ErrJobNotFound
	}

	switch j.state.Status {
	case models.StatusQueued:
		o.removeFromQueueLocked(j)
		now := o.clock()
		old := j.state.Status
		j.state.Status = models.StatusCancelled
		j.state.EndedAt = &now
		o.archiveLocked(j)
		evt := o.eventLocked(j, old, "cancelled before admission")
		o.mu.Unlock()
		o.publish([]notification.Event{evt})
		return nil

	case models.StatusRunning, models.StatusPaused:
		old := j.state.Status
		j.cancelWanted = true
		j.state.Status = models.StatusCancelling
		o.stopStallLocked(j)
		h := j.handle
		evt := o.eventLocked(j, old, "termination requested")
		o.mu.Unlock()
		o.publish([]notification.Event{evt})
		if h != nil {
			// Signalling happens outside the lock; exit confirmation
			// arrives asynchronously via handleExit.
			if err := h.Signal(supervisor.SignalTerminate); err != nil {
				o.failCancelDelivery(jobID, err)
			}
		}
		return nil

	case models.StatusCancelling:
		o.mu.Unlock()
		return nil

	default:
		o.mu.Unlock()
		return ErrInvalidTransition
	}
}

// Pause suspends a running job. When the backend cannot truly suspend, the
// job is still held and the degraded mode is visible through the summary's
// can_suspend flag.
func (o *Orchestrator) Pause(jobID string) error {
	o.mu.Lock()
	j, ok := o.jobs[jobID]
	if !ok {
		o.mu.Unlock()
		return ErrJobNotFound
	}
	if j.state.Status != models.StatusRunning {
		o.mu.Unlock()
		return ErrInvalidTransition
	}
	old := j.state.Status
	j.state.Status = models.StatusPaused
	o.stopStallLocked(j)
	h := j.handle
	evt := o.eventLocked(j, old, "")
	o.mu.Unlock()
	o.publish([]notification.Event{evt})

	if h != nil {
		if err := h.Signal(supervisor.SignalPause); err != nil {
			if errors.Is(err, supervisor.ErrNotSuspendable) {
				o.markDegradedPause(jobID)
			} else {
				o.logger.Warn().Err(err).Str("job_id", jobID).Msg("pause signal failed")
			}
		}
	}
	return nil
}

// Resume continues a paused job.
func (o *Orchestrator) Resume(jobID string) error {
	o.mu.Lock()
	j, ok := o.jobs[jobID]
	if !ok {
		o.mu.Unlock()
		return ErrJobNotFound
	}
	if j.state.Status != models.StatusPaused {
		o.mu.Unlock()
		return ErrInvalidTransition
	}
	old := j.state.Status
	j.state.Status = models.StatusRunning
	o.startStallLocked(j)
	h := j.handle
	evt := o.eventLocked(j, old, "")
	o.mu.Unlock()
	o.publish([]notification.Event{evt})

	if h != nil {
		if err := h.Signal(supervisor.SignalResume); err != nil && !errors.Is(err, supervisor.ErrNotSuspendable) {
			o.logger.Warn().Err(err).Str("job_id", jobID).Msg("resume signal failed")
		}
	}
	return nil
}

// Remove evicts a terminal job. Descriptors are never destroyed implicitly
// while a job is live.
func (o *Orchestrator) Remove(jobID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if !j.state.Status.Terminal() {
		return ErrNotTerminal
	}
	o.evictLocked(j)
	return nil
}

// SetCeiling adjusts the concurrency ceiling at runtime. Lowering it never
// demotes running jobs; it only suppresses admissions until the running
// count drops to the new ceiling.
func (o *Orchestrator) SetCeiling(n int) {
	if n < 1 {
		n = 1
	}
	o.mu.Lock()
	o.ceiling = n
	evts := o.admitLocked()
	o.mu.Unlock()
	o.publish(evts)
	o.logger.Info().Int("ceiling", n).Msg("concurrency ceiling updated")
}

// Ceiling returns the current concurrency ceiling.
func (o *Orchestrator) Ceiling() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ceiling
}

// Snapshot returns per-job summaries in submission order. Each summary is
// assembled atomically; the sequence as a whole is a consistent point-in-time
// view under the orchestrator lock.
func (o *Orchestrator) Snapshot() []models.JobSummary {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.JobSummary, 0, len(o.order))
	for _, j := range o.order {
		out = append(out, o.summaryLocked(j))
	}
	return out
}

// Get returns the summary for one job.
func (o *Orchestrator) Get(jobID string) (models.JobSummary, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.jobs[jobID]
	if !ok {
		return models.JobSummary{}, ErrJobNotFound
	}
	return o.summaryLocked(j), nil
}

// Logs returns the retained log lines for one job, oldest first.
func (o *Orchestrator) Logs(jobID string) ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.logs.Lines(), nil
}

// Shutdown terminates all live processes and waits for them to confirm exit
// or for ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	var handles []supervisor.Handle
	for _, j := range o.jobs {
		if j.state.Status.OccupiesSlot() {
			j.cancelWanted = true
			if j.state.Status != models.StatusCancelling {
				j.state.Status = models.StatusCancelling
			}
			o.stopStallLocked(j)
			if j.handle != nil {
				handles = append(handles, j.handle)
			}
		}
	}
	o.queue = nil
	o.mu.Unlock()

	for _, h := range handles {
		if err := h.Signal(supervisor.SignalTerminate); err != nil {
			o.logger.Warn().Err(err).Msg("terminate signal failed during shutdown")
		}
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if o.liveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) liveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, j := range o.jobs {
		if j.state.Status.OccupiesSlot() {
			n++
		}
	}
	return n
}

func (o *Orchestrator) removeFromQueueLocked(target *job) {
	for i, j := range o.queue {
		if j == target {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			return
		}
	}
}

func (o *Orchestrator) evictLocked(target *job) {
	delete(o.jobs, target.desc.ID)
	for i, j := range o.order {
		if j == target {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	for i, j := range o.archive {
		if j == target {
			o.archive = append(o.archive[:i], o.archive[i+1:]...)
			break
		}
	}
}

// archiveLocked records a terminal job and evicts the oldest terminal job
// once retention is exceeded.
func (o *Orchestrator) archiveLocked(j *job) {
	o.archive = append(o.archive, j)
	for len(o.archive) > o.cfg.ArchiveRetention {
		oldest := o.archive[0]
		o.evictLocked(oldest)
		o.logger.Debug().Str("job_id", oldest.desc.ID).Msg("evicted archived job past retention")
	}
}

func (o *Orchestrator) summaryLocked(j *job) models.JobSummary {
	tables := make(map[string]models.TableProgress, len(j.state.Tables))
	for k, v := range j.state.Tables {
		tables[k] = v
	}
	processed, total := j.state.RowTotals()

	s := models.JobSummary{
		ID:              j.desc.ID,
		Name:            j.desc.Name,
		Status:          j.state.Status,
		Progress:        j.state.OverallProgress(),
		CurrentTable:    j.state.CurrentTable,
		CompletedTables: j.state.CompletedTables,
		TotalTables:     len(j.state.TableOrder),
		ProcessedRows:   processed,
		TotalRows:       total,
		Tables:          tables,
		LastError:       j.state.LastError,
		CanSuspend:      j.state.CanSuspend,
		EnqueuedAt:      j.state.EnqueuedAt,
		StartedAt:       j.state.StartedAt,
		EndedAt:         j.state.EndedAt,
	}

	if j.state.StartedAt != nil && processed > 0 {
		end := o.clock()
		if j.state.EndedAt != nil {
			end = *j.state.EndedAt
		}
		if elapsed := end.Sub(*j.state.StartedAt).Seconds(); elapsed > 0 {
			s.RowsPerSecond = float64(processed) / elapsed
			if s.RowsPerSecond > 0 && total > processed && s.Status == models.StatusRunning {
				eta := int64(float64(total-processed) / s.RowsPerSecond)
				s.ETASeconds = &eta
			}
		}
	}
	return s
}

func (o *Orchestrator) eventLocked(j *job, old models.JobStatus, reason string) notification.Event {
	if reason == "" {
		reason = j.state.LastError
	}
	return notification.Event{
		JobID:     j.desc.ID,
		JobName:   j.desc.Name,
		Status:    j.state.Status,
		OldStatus: old,
		Reason:    reason,
		At:        o.clock(),
	}
}

func (o *Orchestrator) publish(evts []notification.Event) {
	if o.events == nil {
		return
	}
	for _, evt := range evts {
		o.events.Publish(context.Background(), evt)
	}
}

func dedupeTables(in []models.TableSelection) []models.TableSelection {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, t := range in {
		name := t.FullName()
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, t)
	}
	return out
}
