package models

import (
	"fmt"
	"time"
)

// JobStatus is the canonical lifecycle state of a migration job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusRunning    JobStatus = "running"
	StatusPaused     JobStatus = "paused"
	StatusCancelling JobStatus = "cancelling"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status has no outgoing transitions.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// OccupiesSlot reports whether a job in this status consumes a concurrency
// slot. A cancelling job still backs a live process, so it holds its slot
// until the process confirms exit.
func (s JobStatus) OccupiesSlot() bool {
	return s == StatusRunning || s == StatusPaused || s == StatusCancelling
}

// TableSelection identifies one table to migrate.
type TableSelection struct {
	SchemaName string `json:"schema_name" validate:"required"`
	TableName  string `json:"table_name" validate:"required"`
	RowCount   int64  `json:"row_count,omitempty"`
	SizeBytes  int64  `json:"size_bytes,omitempty"`
}

// FullName returns the schema-qualified name used on the engine command line
// and in progress output.
func (t TableSelection) FullName() string {
	return fmt.Sprintf("%s.%s", t.SchemaName, t.TableName)
}

// JobOptions are the per-job behavior flags forwarded to the engine.
type JobOptions struct {
	TruncateBeforeLoad bool `json:"truncate_before_load"`
	AppendMode         bool `json:"append_mode"`
	VerifyRowCounts    bool `json:"verify_row_counts"`
}

// JobDescriptor is the immutable specification of one migration job. It is
// created at submission and never mutated afterwards; the orchestrator owns
// it until the job is explicitly removed.
type JobDescriptor struct {
	ID                 string           `json:"id"`
	Name               string           `json:"name"`
	SourceConnectionID string           `json:"source_connection_id" validate:"required"`
	TargetConnectionID string           `json:"target_connection_id" validate:"required"`
	StagingAreaID      string           `json:"staging_area_id" validate:"required"`
	TargetSchema       string           `json:"target_schema,omitempty"`
	Tables             []TableSelection `json:"tables" validate:"required,min=1,dive"`
	Options            JobOptions       `json:"options"`
	MaxParallelTables  int              `json:"max_parallel_tables,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
}

// TableStatus is the sub-status of a single table within a job.
type TableStatus string

const (
	TablePending   TableStatus = "pending"
	TableCopying   TableStatus = "copying"
	TableCompleted TableStatus = "completed"
	TableFailed    TableStatus = "failed"
)

// TableProgress holds the last observed progress for one table. Fractions
// are monotonically non-decreasing within a run.
type TableProgress struct {
	Status        TableStatus `json:"status"`
	Fraction      float64     `json:"fraction"`
	ProcessedRows int64       `json:"processed_rows"`
	TotalRows     int64       `json:"total_rows"`
	Error         string      `json:"error,omitempty"`
}

// MigrationState is the per-job state owned by the orchestrator. It is
// mutated only through the orchestrator's transition function.
type MigrationState struct {
	JobID           string                   `json:"job_id"`
	Status          JobStatus                `json:"status"`
	Tables          map[string]TableProgress `json:"tables"`
	TableOrder      []string                 `json:"table_order"`
	CompletedTables int                      `json:"completed_tables"`
	CurrentTable    string                   `json:"current_table,omitempty"`
	LastError       string                   `json:"last_error,omitempty"`
	CanSuspend      bool                     `json:"can_suspend"`
	EnqueuedAt      time.Time                `json:"enqueued_at"`
	StartedAt       *time.Time               `json:"started_at,omitempty"`
	EndedAt         *time.Time               `json:"ended_at,omitempty"`
}

// OverallProgress derives completion as completed-tables / total-tables.
// A completed job reports exactly 1.0; failed and cancelled jobs freeze at
// the last observed value because CompletedTables never decreases.
func (s *MigrationState) OverallProgress() float64 {
	if s.Status == StatusCompleted {
		return 1.0
	}
	if len(s.TableOrder) == 0 {
		return 0.0
	}
	return float64(s.CompletedTables) / float64(len(s.TableOrder))
}

// RowTotals sums the observed row counts across all tables.
func (s *MigrationState) RowTotals() (processed, total int64) {
	for _, tp := range s.Tables {
		processed += tp.ProcessedRows
		total += tp.TotalRows
	}
	return processed, total
}

// JobSummary is the read-only snapshot of one job handed to consumers. Each
// summary is assembled atomically under the orchestrator lock, so it is never
// torn even if it trails the live state by an event.
type JobSummary struct {
	ID              string                   `json:"id"`
	Name            string                   `json:"name"`
	Status          JobStatus                `json:"status"`
	Progress        float64                  `json:"progress"`
	CurrentTable    string                   `json:"current_table,omitempty"`
	CompletedTables int                      `json:"completed_tables"`
	TotalTables     int                      `json:"total_tables"`
	ProcessedRows   int64                    `json:"processed_rows"`
	TotalRows       int64                    `json:"total_rows"`
	RowsPerSecond   float64                  `json:"rows_per_second"`
	ETASeconds      *int64                   `json:"eta_seconds,omitempty"`
	Tables          map[string]TableProgress `json:"tables,omitempty"`
	LastError       string                   `json:"last_error,omitempty"`
	CanSuspend      bool                     `json:"can_suspend"`
	EnqueuedAt      time.Time                `json:"enqueued_at"`
	StartedAt       *time.Time               `json:"started_at,omitempty"`
	EndedAt         *time.Time               `json:"ended_at,omitempty"`
}

// DurationSeconds returns elapsed run time, using now for jobs still in
// flight.
func (s JobSummary) DurationSeconds(now time.Time) int64 {
	if s.StartedAt == nil {
		return 0
	}
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	return int64(end.Sub(*s.StartedAt).Seconds())
}
