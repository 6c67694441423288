package models

import "time"

// StatusCounts holds the number of jobs per status.
type StatusCounts struct {
	Queued     int `json:"queued"`
	Running    int `json:"running"`
	Paused     int `json:"paused"`
	Cancelling int `json:"cancelling"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// DashboardStats is the read-only projection over all job states. It is
// recomputed on demand or on the aggregator's poll interval and never
// mutates orchestrator state.
type DashboardStats struct {
	Total       int          `json:"total"`
	Counts      StatusCounts `json:"counts"`
	RunningJobs []JobSummary `json:"running_jobs"`
	ComputedAt  time.Time    `json:"computed_at"`
}
