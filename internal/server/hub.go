package server

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"clawmon/internal/async"
	"clawmon/internal/logging"
	"clawmon/internal/metrics"
)

// Hub fans WebSocket frames out to every connected dashboard client. Delivery
// is best effort: a client whose send buffer stays full is dropped rather
// than allowed to stall the broadcast path.
type Hub struct {
	upgrader websocket.Upgrader
	logger   logging.Logger

	// snapshot produces the full state frame pushed to a client on connect.
	snapshot func() StateSnapshot

	mu      sync.RWMutex
	clients map[string]*wsClient
	closed  bool
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan WSMessage
	quit chan struct{}
	once sync.Once
}

const clientSendBuffer = 64

// NewHub constructs a hub. snapshot is invoked per connection for the initial
// state frame.
func NewHub(snapshot func() StateSnapshot, logger logging.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:   logging.OrNop(logger),
		snapshot: snapshot,
		clients:  make(map[string]*wsClient),
	}
}

// Handle upgrades the request and serves the client until it disconnects.
func (h *Hub) Handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan WSMessage, clientSendBuffer),
		quit: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[client.id] = client
	count := len(h.clients)
	h.mu.Unlock()

	metrics.ConnectedClients.Set(float64(count))
	h.logger.Info("client %s connected (%d total)", client.id[:8], count)

	client.send <- WSMessage{Type: WSTypeState, Payload: h.snapshot()}

	async.Go(h.logger, "ws.write."+client.id[:8], func() { h.writeLoop(client) })
	h.readLoop(client)
}

// readLoop drains inbound frames (the dashboard sends nothing we act on) and
// detects disconnects.
func (h *Hub) readLoop(client *wsClient) {
	defer h.drop(client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(client *wsClient) {
	defer h.drop(client)
	for {
		select {
		case <-client.quit:
			return
		case msg := <-client.send:
			if err := client.conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

func (h *Hub) drop(client *wsClient) {
	client.once.Do(func() {
		close(client.quit)
		_ = client.conn.Close()
	})

	h.mu.Lock()
	delete(h.clients, client.id)
	count := len(h.clients)
	h.mu.Unlock()

	metrics.ConnectedClients.Set(float64(count))
}

// Broadcast queues the message for every connected client, dropping clients
// that cannot keep up.
func (h *Hub) Broadcast(msg WSMessage) {
	h.mu.RLock()
	var stale []*wsClient
	for _, client := range h.clients {
		select {
		case client.send <- msg:
		default:
			stale = append(stale, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range stale {
		h.logger.Warn("dropping slow client %s", client.id[:8])
		h.drop(client)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and rejects future connections.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		h.drop(client)
	}
}
