package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"
	"github.com/snowmigrate/snowmigrate-api/internal/dashboard"
	"github.com/snowmigrate/snowmigrate-api/internal/handlers"
	"github.com/snowmigrate/snowmigrate-api/internal/models"
	"github.com/snowmigrate/snowmigrate-api/internal/notification"
	"github.com/snowmigrate/snowmigrate-api/internal/orchestrator"
	"github.com/snowmigrate/snowmigrate-api/internal/registry"
	"github.com/snowmigrate/snowmigrate-api/internal/routes"
	"github.com/snowmigrate/snowmigrate-api/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// idleHandle backs a process that runs until terminated.
type idleHandle struct {
	events chan models.ProgressEvent
	done   chan struct{}
	once   sync.Once
}

func newIdleHandle() *idleHandle {
	return &idleHandle{
		events: make(chan models.ProgressEvent, 16),
		done:   make(chan struct{}),
	}
}

func (h *idleHandle) Events() <-chan models.ProgressEvent { return h.events }
func (h *idleHandle) CanSuspend() bool                    { return true }

func (h *idleHandle) Signal(kind supervisor.SignalKind) error {
	if kind == supervisor.SignalTerminate {
		h.once.Do(func() {
			close(h.events)
			close(h.done)
		})
	}
	return nil
}

func (h *idleHandle) Wait() supervisor.ExitStatus {
	<-h.done
	return supervisor.ExitStatus{Code: -1, Crashed: true, Signal: "terminated"}
}

type idleLauncher struct{}

func (idleLauncher) Start(ctx context.Context, spec supervisor.LaunchSpec) (supervisor.Handle, error) {
	return newIdleHandle(), nil
}

func newTestRouter(t *testing.T, tokenSecret string) http.Handler {
	t.Helper()
	logger := zerolog.Nop()
	store := registry.NewStore(logger)
	events := notification.NewService(logger)
	buildSpec := func(desc models.JobDescriptor) (supervisor.LaunchSpec, error) {
		return supervisor.LaunchSpec{Path: desc.ID}, nil
	}
	orch := orchestrator.New(orchestrator.Config{MaxConcurrent: 2}, idleLauncher{}, buildSpec, events, logger)
	agg := dashboard.NewAggregator(orch, time.Hour, logger)

	return routes.NewRouter(
		handlers.NewJobHandler(orch, logger),
		handlers.NewConnectionHandler(store, logger),
		handlers.NewStatsHandler(agg, logger),
		handlers.NewEventsHandler(events, logger),
		tokenSecret,
	)
}

func submitBody(t *testing.T) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"name":                 "nightly load",
		"source_connection_id": "src-1",
		"target_connection_id": "tgt-1",
		"staging_area_id":      "s3-default",
		"tables": []map[string]interface{}{
			{"schema_name": "public", "table_name": "users"},
		},
	})
	require.NoError(t, err)
	return bytes.NewReader(body)
}

func TestSubmitJobEndpoint(t *testing.T) {
	router := newTestRouter(t, "")
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/jobs", "application/json", submitBody(t))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var summary models.JobSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.NotEmpty(t, summary.ID)
	assert.Equal(t, "nightly load", summary.Name)
	assert.Equal(t, 1, summary.TotalTables)
}

func TestSubmitRejectsInvalidPayload(t *testing.T) {
	router := newTestRouter(t, "")
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/jobs", "application/json", bytes.NewReader([]byte(`{"name":"x"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJobControlEndpoints(t *testing.T) {
	router := newTestRouter(t, "")
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/jobs", "application/json", submitBody(t))
	require.NoError(t, err)
	var summary models.JobSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	resp.Body.Close()

	// Cancel is accepted for a live job.
	resp, err = http.Post(srv.URL+"/api/jobs/"+summary.ID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	// Unknown job is a 404.
	resp, err = http.Post(srv.URL+"/api/jobs/nope/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRemoveLiveJobConflicts(t *testing.T) {
	router := newTestRouter(t, "")
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/jobs", "application/json", submitBody(t))
	require.NoError(t, err)
	var summary models.JobSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/jobs/"+summary.ID, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCeilingEndpoints(t *testing.T) {
	router := newTestRouter(t, "")
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/orchestrator/ceiling")
	require.NoError(t, err)
	var got map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, 2, got["max_concurrent"])

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/orchestrator/ceiling", bytes.NewReader([]byte(`{"max_concurrent":5}`)))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 5, got["max_concurrent"])

	req, err = http.NewRequest(http.MethodPut, srv.URL+"/api/orchestrator/ceiling", bytes.NewReader([]byte(`{"max_concurrent":0}`)))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpointSkipsAuth(t *testing.T) {
	router := newTestRouter(t, "super-secret")
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIRequiresValidToken(t *testing.T) {
	const secret = "super-secret"
	router := newTestRouter(t, secret)
	srv := httptest.NewServer(router)
	defer srv.Close()

	// No token.
	resp, err := http.Get(srv.URL + "/api/jobs")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Valid token.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "tester",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/jobs", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+signed)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatsEndpoint(t *testing.T) {
	router := newTestRouter(t, "")
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/jobs", "application/json", submitBody(t))
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Post(srv.URL+"/api/stats/refresh", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats models.DashboardStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Total)
}
