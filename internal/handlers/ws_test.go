package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/snowmigrate/snowmigrate-api/internal/handlers"
	"github.com/snowmigrate/snowmigrate-api/internal/models"
	"github.com/snowmigrate/snowmigrate-api/internal/notification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventsEndpointStreamsLifecycleEvents(t *testing.T) {
	events := notification.NewService(zerolog.Nop())
	handler := handlers.NewEventsHandler(events, zerolog.Nop())

	srv := httptest.NewServer(http.HandlerFunc(handler.Serve))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the server loop a moment to register its subscription, then keep
	// publishing until the event arrives; early publishes may precede it.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				events.Publish(context.Background(), notification.Event{
					JobID:  "job-1",
					Status: models.StatusRunning,
					At:     time.Now(),
				})
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var evt notification.Event
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, "job-1", evt.JobID)
	assert.Equal(t, models.StatusRunning, evt.Status)
}

func TestEventsEndpointClosesWithClient(t *testing.T) {
	events := notification.NewService(zerolog.Nop())
	handler := handlers.NewEventsHandler(events, zerolog.Nop())

	srv := httptest.NewServer(http.HandlerFunc(handler.Serve))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	assert.NoError(t, conn.Close())

	// Publishing after disconnect must not panic or block.
	events.Publish(context.Background(), notification.Event{JobID: "job-2", Status: models.StatusFailed})
}
