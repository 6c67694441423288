package models

// EventKind tags a parsed unit of engine output.
type EventKind string

const (
	EventTableStarted   EventKind = "table_started"
	EventTableProgress  EventKind = "table_progress"
	EventTableCompleted EventKind = "table_completed"
	EventInfo           EventKind = "info"
	EventError          EventKind = "error"
)

// ProgressEvent is the structured unit derived from one line of engine
// output. Events are transient: they drive a state transition and land in
// the job's bounded log buffer, nothing else retains them.
type ProgressEvent struct {
	Kind          EventKind `json:"kind"`
	Table         string    `json:"table,omitempty"`
	Fraction      float64   `json:"fraction,omitempty"`
	ProcessedRows int64     `json:"processed_rows,omitempty"`
	TotalRows     int64     `json:"total_rows,omitempty"`
	Message       string    `json:"message,omitempty"`

	// Anomaly marks lines that looked like a recognized shape but carried
	// malformed fields, and lines that had to be truncated. Anomalous
	// events are logged and never drive state.
	Anomaly bool `json:"anomaly,omitempty"`
}
