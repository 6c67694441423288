package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/snowmigrate/snowmigrate-api/internal/notification"
)

const (
	wsWriteTimeout    = 10 * time.Second
	wsPingInterval    = 30 * time.Second
	wsSubscribeBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checks are enforced by the CORS layer in front of the router.
		return true
	},
}

// EventsHandler streams job lifecycle events to websocket clients. Each
// connection gets its own subscription; slow clients drop events rather
// than back up the orchestrator.
type EventsHandler struct {
	events notification.Service
	logger zerolog.Logger
}

func NewEventsHandler(events notification.Service, logger zerolog.Logger) *EventsHandler {
	return &EventsHandler{
		events: events,
		logger: logger.With().Str("component", "events_handler").Logger(),
	}
}

func (h *EventsHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub, cancel := h.events.Subscribe(wsSubscribeBuffer)
	defer cancel()

	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("websocket client connected")

	// Reader goroutine: we never expect client messages, but reading is
	// required to process close frames and detect dropped peers.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case evt, ok := <-sub:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(evt); err != nil {
				h.logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			h.logger.Debug().Str("remote", r.RemoteAddr).Msg("websocket client disconnected")
			return
		case <-r.Context().Done():
			return
		}
	}
}
