package handlers

import (
	"net/http"

	"github.com/rs/zerolog"
	"github.com/snowmigrate/snowmigrate-api/internal/dashboard"
)

type StatsHandler struct {
	agg    *dashboard.Aggregator
	logger zerolog.Logger
}

func NewStatsHandler(agg *dashboard.Aggregator, logger zerolog.Logger) *StatsHandler {
	return &StatsHandler{
		agg:    agg,
		logger: logger.With().Str("component", "stats_handler").Logger(),
	}
}

// GetStats returns the most recent polled snapshot.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.agg.Latest())
}

// RefreshStats forces a recomputation and returns the fresh snapshot.
func (h *StatsHandler) RefreshStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.agg.Compute())
}
