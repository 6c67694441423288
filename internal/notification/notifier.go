package notification

import (
	"context"
	"time"

	"github.com/snowmigrate/snowmigrate-api/internal/models"
)

// Event is one job lifecycle change fanned out to subscribers and notifiers.
type Event struct {
	JobID     string           `json:"job_id"`
	JobName   string           `json:"job_name,omitempty"`
	Status    models.JobStatus `json:"status"`
	OldStatus models.JobStatus `json:"old_status,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	At        time.Time        `json:"at"`
}

// Notifier delivers one event to an external channel (email, push, ...).
// Delivery failures are logged, never propagated into job state.
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}
