package controllers

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/nickcoast/IBKR-notional/interfaces"
	"github.com/nickcoast/IBKR-notional/logging"
	"github.com/nickcoast/IBKR-notional/services"
	"github.com/sirupsen/logrus"
)

// Event types pushed over /api/stream
const (
	EventPortfolio = "portfolio"
	EventOptions   = "options"
)

// StreamEvent is one websocket message
type StreamEvent struct {
	Type string      `json:"type"`
	Key  string      `json:"key,omitempty"`
	Data interface{} `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamHub fans refresh results out to websocket clients. Slow clients are
// dropped so the refresh loops never block on a socket.
type StreamHub struct {
	clients    map[*streamClient]struct{}
	register   chan *streamClient
	unregister chan *streamClient
	broadcast  chan *StreamEvent
	done       chan struct{}

	mu            sync.RWMutex
	lastPortfolio *StreamEvent

	logger *logrus.Logger
}

var _ services.SnapshotListener = (*StreamHub)(nil)

// NewStreamHub creates a hub; call Run before serving clients
func NewStreamHub(logger *logrus.Logger) *StreamHub {
	return &StreamHub{
		clients:    make(map[*streamClient]struct{}),
		register:   make(chan *streamClient),
		unregister: make(chan *streamClient),
		broadcast:  make(chan *StreamEvent, 256),
		done:       make(chan struct{}),
		logger:     logging.OrDefault(logger),
	}
}

// Run is the hub loop. It returns when ctx is cancelled.
func (h *StreamHub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.mu.RLock()
			if h.lastPortfolio != nil {
				client.send <- h.lastPortfolio
			}
			h.mu.RUnlock()

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}

		case event := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- event:
				default:
					delete(h.clients, client)
					close(client.send)
				}
			}
		}
	}
}

// OnPortfolio publishes a portfolio refresh
func (h *StreamHub) OnPortfolio(snapshot *interfaces.PortfolioSnapshot) {
	event := &StreamEvent{Type: EventPortfolio, Data: snapshot}

	h.mu.Lock()
	h.lastPortfolio = event
	h.mu.Unlock()

	h.publish(event)
}

// OnChain publishes an option chain refresh
func (h *StreamHub) OnChain(key interfaces.ChainKey, snapshot *interfaces.OptionChainSnapshot) {
	h.publish(&StreamEvent{Type: EventOptions, Key: key.String(), Data: snapshot})
}

func (h *StreamHub) publish(event *StreamEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.WithField("type", event.Type).Warn("Stream broadcast queue full, dropping event")
	}
}

// HandleStream upgrades the request to a websocket
// GET /api/stream
func (h *StreamHub) HandleStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to upgrade websocket")
		return
	}

	client := &streamClient{
		hub:  h,
		conn: conn,
		send: make(chan *StreamEvent, 64),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
