package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/snowmigrate/snowmigrate-api/internal/models"
	"github.com/snowmigrate/snowmigrate-api/internal/registry"
)

type ConnectionHandler struct {
	store    *registry.Store
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewConnectionHandler(store *registry.Store, logger zerolog.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		store:    store,
		validate: validator.New(),
		logger:   logger.With().Str("component", "connection_handler").Logger(),
	}
}

func (h *ConnectionHandler) CreateSource(w http.ResponseWriter, r *http.Request) {
	var conn models.SourceConnection
	if err := json.NewDecoder(r.Body).Decode(&conn); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if err := h.validate.Struct(conn); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.store.AddSource(conn)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *ConnectionHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.ListSources())
}

func (h *ConnectionHandler) DeleteSource(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteSource(mux.Vars(r)["connID"]); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConnectionHandler) CreateTarget(w http.ResponseWriter, r *http.Request) {
	var conn models.SnowflakeConnection
	if err := json.NewDecoder(r.Body).Decode(&conn); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if err := h.validate.Struct(conn); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.store.AddTarget(conn)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *ConnectionHandler) ListTargets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.ListTargets())
}

func (h *ConnectionHandler) DeleteTarget(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteTarget(mux.Vars(r)["connID"]); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConnectionHandler) ListStagingAreas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.ListStagingAreas())
}
