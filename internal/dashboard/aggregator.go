// Package dashboard computes the read-only projection consumed by UIs: job
// counts per status plus a summary for every running job. It never mutates
// orchestrator state and never blocks it beyond a snapshot.
package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/snowmigrate/snowmigrate-api/internal/models"
)

// SnapshotSource is the orchestrator surface the aggregator depends on.
type SnapshotSource interface {
	Snapshot() []models.JobSummary
}

// Aggregator recomputes dashboard statistics on demand or on a fixed poll
// interval. A cached value may trail the live state by one event; it is
// never torn for a single job because per-job summaries are built atomically.
type Aggregator struct {
	source   SnapshotSource
	interval time.Duration
	logger   zerolog.Logger

	mu   sync.RWMutex
	last models.DashboardStats
}

func NewAggregator(source SnapshotSource, interval time.Duration, logger zerolog.Logger) *Aggregator {
	if interval <= 0 {
		interval = time.Second
	}
	return &Aggregator{
		source:   source,
		interval: interval,
		logger:   logger.With().Str("component", "dashboard").Logger(),
	}
}

// Compute builds fresh statistics from a snapshot.
func (a *Aggregator) Compute() models.DashboardStats {
	summaries := a.source.Snapshot()
	stats := models.DashboardStats{
		Total:       len(summaries),
		RunningJobs: make([]models.JobSummary, 0),
		ComputedAt:  time.Now(),
	}
	for _, s := range summaries {
		switch s.Status {
		case models.StatusQueued:
			stats.Counts.Queued++
		case models.StatusRunning:
			stats.Counts.Running++
			stats.RunningJobs = append(stats.RunningJobs, s)
		case models.StatusPaused:
			stats.Counts.Paused++
		case models.StatusCancelling:
			stats.Counts.Cancelling++
		case models.StatusCompleted:
			stats.Counts.Completed++
		case models.StatusFailed:
			stats.Counts.Failed++
		case models.StatusCancelled:
			stats.Counts.Cancelled++
		}
	}
	return stats
}

// Latest returns the most recent polled value, computing one synchronously
// if the poll loop has not produced anything yet.
func (a *Aggregator) Latest() models.DashboardStats {
	a.mu.RLock()
	last := a.last
	a.mu.RUnlock()
	if last.ComputedAt.IsZero() {
		return a.Compute()
	}
	return last
}

// Run polls until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	a.logger.Debug().Dur("interval", a.interval).Msg("dashboard poll loop started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := a.Compute()
			a.mu.Lock()
			a.last = stats
			a.mu.Unlock()
		}
	}
}
