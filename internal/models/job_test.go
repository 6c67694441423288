package models_test

import (
	"testing"
	"time"

	"github.com/snowmigrate/snowmigrate-api/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestTableSelectionFullName(t *testing.T) {
	sel := models.TableSelection{SchemaName: "public", TableName: "users"}
	assert.Equal(t, "public.users", sel.FullName())
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, models.StatusCompleted.Terminal())
	assert.True(t, models.StatusFailed.Terminal())
	assert.True(t, models.StatusCancelled.Terminal())
	assert.False(t, models.StatusRunning.Terminal())
	assert.False(t, models.StatusCancelling.Terminal())
	assert.False(t, models.StatusQueued.Terminal())
}

func TestStatusOccupiesSlot(t *testing.T) {
	assert.True(t, models.StatusRunning.OccupiesSlot())
	assert.True(t, models.StatusPaused.OccupiesSlot())
	assert.True(t, models.StatusCancelling.OccupiesSlot())
	assert.False(t, models.StatusQueued.OccupiesSlot())
	assert.False(t, models.StatusCompleted.OccupiesSlot())
}

func TestOverallProgress(t *testing.T) {
	state := models.MigrationState{
		Status:          models.StatusRunning,
		TableOrder:      []string{"a.t1", "a.t2", "a.t3", "a.t4"},
		CompletedTables: 1,
	}
	assert.InDelta(t, 0.25, state.OverallProgress(), 1e-9)

	// Completed pins progress to exactly 1.0 regardless of counters.
	state.Status = models.StatusCompleted
	assert.Equal(t, 1.0, state.OverallProgress())

	empty := models.MigrationState{Status: models.StatusQueued}
	assert.Equal(t, 0.0, empty.OverallProgress())
}

func TestRowTotals(t *testing.T) {
	state := models.MigrationState{
		Tables: map[string]models.TableProgress{
			"a.t1": {ProcessedRows: 100, TotalRows: 200},
			"a.t2": {ProcessedRows: 50, TotalRows: 400},
		},
	}
	processed, total := state.RowTotals()
	assert.Equal(t, int64(150), processed)
	assert.Equal(t, int64(600), total)
}

func TestDurationSeconds(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)

	finished := models.JobSummary{StartedAt: &start, EndedAt: &end}
	assert.Equal(t, int64(90), finished.DurationSeconds(end.Add(time.Hour)))

	running := models.JobSummary{StartedAt: &start}
	assert.Equal(t, int64(30), running.DurationSeconds(start.Add(30*time.Second)))

	queued := models.JobSummary{}
	assert.Equal(t, int64(0), queued.DurationSeconds(end))
}
