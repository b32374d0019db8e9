package http

import (
	"net/http"
	"time"

	"github.com/atinyakov/sessionvault/internal/service"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	eventsBuffer = 16
	writeWait    = 5 * time.Second
)

// StateSource is implemented by the session manager.
type StateSource interface {
	Subscribe(buffer int) (<-chan service.State, func())
}

// EventsHandler streams State snapshots over a websocket, starting with the
// current state and then one message per change.
type EventsHandler struct {
	source   StateSource
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewEventsHandler creates an EventsHandler. Upgrades carrying an Origin
// header that does not match the request host are refused with 403, since
// every message carries the session value.
func NewEventsHandler(source StateSource, log *zap.Logger) *EventsHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventsHandler{
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: log,
	}
}

// ServeHTTP handles GET /api/events.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	states, unsubscribe := h.source.Subscribe(eventsBuffer)
	defer unsubscribe()

	// The client never sends anything; reading detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(st); err != nil {
				h.log.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}
