package preview

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kjstillabower/transit-panel/internal/display"
	"github.com/kjstillabower/transit-panel/internal/observability"
)

const writeWait = 5 * time.Second

// Hub fans committed frame events out to websocket viewers and keeps the last frame for
// /frame.png. It implements display.Notifier.
type Hub struct {
	mu       sync.Mutex
	clients  map[*viewer]struct{}
	last     *display.FrameEvent
	closed   bool
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// viewer is one websocket connection. Only its writePump writes data frames to conn.
type viewer struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

func newViewer(conn *websocket.Conn) *viewer {
	return &viewer{conn: conn, send: make(chan []byte, 1), done: make(chan struct{})}
}

// queue hands data to the writer without blocking. A viewer that has not taken the previous
// event only gets the newest one.
func (v *viewer) queue(data []byte) {
	select {
	case v.send <- data:
		return
	default:
	}
	select {
	case <-v.send:
	default:
	}
	select {
	case v.send <- data:
	default:
	}
}

// NewHub returns an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*viewer]struct{}),
		// The preview is served on the local network to a browser on any origin.
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		logger:   observability.OrNop(logger),
	}
}

// Notify records ev as the latest frame and queues it for every viewer. It never waits on a
// viewer's connection.
func (h *Hub) Notify(ev display.FrameEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("encode frame event failed", zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = &ev
	for v := range h.clients {
		v.queue(data)
	}
}

// LastFrame returns the PNG bytes of the latest frame.
func (h *Hub) LastFrame() ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil || len(h.last.PNG) == 0 {
		return nil, false
	}
	return h.last.PNG, true
}

// Clients returns the number of connected viewers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and sends the latest frame event, if any.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	v := newViewer(conn)
	h.clients[v] = struct{}{}
	observability.PreviewClients.Inc()
	if h.last != nil {
		if data, err := json.Marshal(h.last); err == nil {
			v.queue(data)
		}
	}
	h.mu.Unlock()

	go h.writePump(v)
	go h.readPump(v)
}

// Close disconnects every viewer and refuses new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for v := range h.clients {
		_ = v.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		h.dropLocked(v)
	}
	return nil
}

// writePump sends queued events. A write that fails or outlasts writeWait drops the viewer.
func (h *Hub) writePump(v *viewer) {
	for {
		select {
		case <-v.done:
			return
		case data := <-v.send:
			if err := writeText(v.conn, data); err != nil {
				h.logger.Debug("dropping preview viewer", zap.Error(err))
				h.drop(v)
				return
			}
		}
	}
}

// readPump discards inbound messages and notices when the viewer goes away.
func (h *Hub) readPump(v *viewer) {
	defer h.drop(v)
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(v *viewer) {
	h.mu.Lock()
	h.dropLocked(v)
	h.mu.Unlock()
}

func (h *Hub) dropLocked(v *viewer) {
	if _, ok := h.clients[v]; !ok {
		return
	}
	delete(h.clients, v)
	observability.PreviewClients.Dec()
	close(v.done)
	_ = v.conn.Close()
}

func writeText(c *websocket.Conn, data []byte) error {
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.WriteMessage(websocket.TextMessage, data)
}
