package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/snowmigrate/snowmigrate-api/internal/models"
	"github.com/snowmigrate/snowmigrate-api/internal/orchestrator"
)

type JobHandler struct {
	orch     *orchestrator.Orchestrator
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewJobHandler(orch *orchestrator.Orchestrator, logger zerolog.Logger) *JobHandler {
	return &JobHandler{
		orch:     orch,
		validate: validator.New(),
		logger:   logger.With().Str("component", "job_handler").Logger(),
	}
}

type submitPayload struct {
	Name               string                  `json:"name"`
	SourceConnectionID string                  `json:"source_connection_id" validate:"required"`
	TargetConnectionID string                  `json:"target_connection_id" validate:"required"`
	StagingAreaID      string                  `json:"staging_area_id" validate:"required"`
	TargetSchema       string                  `json:"target_schema"`
	Tables             []models.TableSelection `json:"tables" validate:"required,min=1,dive"`
	Options            models.JobOptions       `json:"options"`
	MaxParallelTables  int                     `json:"max_parallel_tables" validate:"gte=0"`
}

func (h *JobHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var payload submitPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.orch.Submit(models.JobDescriptor{
		Name:               payload.Name,
		SourceConnectionID: payload.SourceConnectionID,
		TargetConnectionID: payload.TargetConnectionID,
		StagingAreaID:      payload.StagingAreaID,
		TargetSchema:       payload.TargetSchema,
		Tables:             payload.Tables,
		Options:            payload.Options,
		MaxParallelTables:  payload.MaxParallelTables,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to submit job: "+err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, summary)
}

func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.Snapshot())
}

func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	summary, err := h.orch.Get(mux.Vars(r)["jobID"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.control(w, mux.Vars(r)["jobID"], h.orch.Cancel)
}

func (h *JobHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.control(w, mux.Vars(r)["jobID"], h.orch.Pause)
}

func (h *JobHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.control(w, mux.Vars(r)["jobID"], h.orch.Resume)
}

func (h *JobHandler) control(w http.ResponseWriter, jobID string, op func(string) error) {
	switch err := op(jobID); {
	case err == nil:
		summary, getErr := h.orch.Get(jobID)
		if getErr != nil {
			writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
			return
		}
		writeJSON(w, http.StatusAccepted, summary)
	case errors.Is(err, orchestrator.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *JobHandler) Remove(w http.ResponseWriter, r *http.Request) {
	switch err := h.orch.Remove(mux.Vars(r)["jobID"]); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, orchestrator.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrNotTerminal):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *JobHandler) Logs(w http.ResponseWriter, r *http.Request) {
	lines, err := h.orch.Logs(mux.Vars(r)["jobID"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"lines": lines})
}

type ceilingPayload struct {
	MaxConcurrent int `json:"max_concurrent" validate:"required,gte=1"`
}

// SetCeiling adjusts the concurrency ceiling at runtime.
func (h *JobHandler) SetCeiling(w http.ResponseWriter, r *http.Request) {
	var payload ceilingPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.orch.SetCeiling(payload.MaxConcurrent)
	writeJSON(w, http.StatusOK, map[string]int{"max_concurrent": h.orch.Ceiling()})
}

func (h *JobHandler) GetCeiling(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"max_concurrent": h.orch.Ceiling()})
}
