package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gateway-fm/testnetbot/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}

		originURL, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if originURL.Host == r.Host {
			return true
		}
		// Local dashboards.
		return originURL.Hostname() == "localhost" || originURL.Hostname() == "127.0.0.1"
	},
}

const writeTimeout = 5 * time.Second

// EventHub streams run events and status snapshots to WebSocket clients.
type EventHub struct {
	status         func() types.Status
	statusInterval time.Duration
	logger         *slog.Logger

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan types.StreamMessage
	done      chan struct{}
	stopOnce  sync.Once
}

// NewEventHub creates a hub. status, when non-nil, is sampled every
// statusInterval while a run is active.
func NewEventHub(status func() types.Status, statusInterval time.Duration, logger *slog.Logger) *EventHub {
	if logger == nil {
		logger = slog.Default()
	}
	if statusInterval <= 0 {
		statusInterval = time.Second
	}
	return &EventHub{
		status:         status,
		statusInterval: statusInterval,
		logger:         logger,
		clients:        make(map[*websocket.Conn]bool),
		broadcast:      make(chan types.StreamMessage, 256),
		done:           make(chan struct{}),
	}
}

// Publish queues e for every connected client. Events are dropped when
// the queue is full so a slow client never stalls a run.
func (h *EventHub) Publish(e types.Event) {
	select {
	case h.broadcast <- types.StreamMessage{Type: types.StreamEvent, Event: &e}:
	default:
		h.logger.Warn("Event stream queue full, dropping event", slog.String("run", e.RunID), slog.String("step", e.Step))
	}
}

// Handler returns the WebSocket HTTP handler.
func (h *EventHub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Error("WebSocket upgrade failed", slog.String("error", err.Error()))
			return
		}

		h.clientsMu.Lock()
		h.clients[conn] = true
		total := len(h.clients)
		h.clientsMu.Unlock()
		h.logger.Debug("WebSocket client connected", slog.Int("total_clients", total))

		defer func() {
			h.clientsMu.Lock()
			delete(h.clients, conn)
			total := len(h.clients)
			h.clientsMu.Unlock()
			conn.Close()
			h.logger.Debug("WebSocket client disconnected", slog.Int("total_clients", total))
		}()

		// Reads only detect the close; clients send nothing.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Debug("WebSocket read error", slog.String("error", err.Error()))
				}
				return
			}
		}
	}
}

// Start begins the broadcasting goroutine.
func (h *EventHub) Start() {
	go h.broadcastLoop()
}

// Stop ends broadcasting and closes every client.
func (h *EventHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.clientsMu.Lock()
		for conn := range h.clients {
			conn.Close()
		}
		h.clients = make(map[*websocket.Conn]bool)
		h.clientsMu.Unlock()
	})
}

func (h *EventHub) broadcastLoop() {
	ticker := time.NewTicker(h.statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case msg := <-h.broadcast:
			h.send(msg)
		case <-ticker.C:
			if h.status == nil {
				continue
			}
			if st := h.status(); st.Busy {
				h.send(types.StreamMessage{Type: types.StreamStatus, Status: &st})
			}
		}
	}
}

// send writes msg to every client. Only broadcastLoop writes, so
// connections never see concurrent writers.
func (h *EventHub) send(msg types.StreamMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal stream message", slog.String("error", err.Error()))
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			// The read loop removes the client.
			h.logger.Debug("Failed to write to WebSocket", slog.String("error", err.Error()))
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *EventHub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}
