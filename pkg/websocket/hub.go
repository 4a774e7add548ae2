package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/tripnest/booking-payments/pkg/logger"
)

// Hub maintains active client connections and fans out booking updates
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	authorizer Authorizer
	mu         sync.RWMutex
	logger     *logger.Logger
}

// Authorizer decides whether a user may follow a booking. A nil error
// allows the subscription.
type Authorizer func(ctx context.Context, userID, role, bookingID string) error

// Message represents a WebSocket message
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// NewHub creates a new WebSocket hub
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     log,
	}
}

// SetAuthorizer installs the check run on every subscribe request. It must
// be called before Run.
func (h *Hub) SetAuthorizer(fn Authorizer) {
	h.authorizer = fn
}

// Run processes registrations until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.Send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("Client registered",
				logger.String("client_id", client.ID),
				logger.String("user_id", client.UserID),
				logger.String("role", client.Role),
			)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				h.logger.Info("Client unregistered",
					logger.String("client_id", client.ID),
				)
			}
			h.mu.Unlock()
		}
	}
}

// Register registers a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister unregisters a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// SendToUser delivers message to every connection of userID and returns
// the number of connections reached.
func (h *Hub) SendToUser(userID string, message Message) int {
	return h.deliver(message, func(c *Client) bool { return c.UserID == userID })
}

// BroadcastToBooking delivers message to clients subscribed to bookingID
func (h *Hub) BroadcastToBooking(bookingID string, message Message) int {
	return h.deliver(message, func(c *Client) bool { return c.IsSubscribedTo(bookingID) })
}

// BroadcastToRole delivers message to every client with role
func (h *Hub) BroadcastToRole(role string, message Message) int {
	return h.deliver(message, func(c *Client) bool { return c.Role == role })
}

func (h *Hub) deliver(message Message, match func(*Client) bool) int {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal message", logger.Err(err))
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for client := range h.clients {
		if !match(client) {
			continue
		}
		select {
		case client.Send <- data:
			sent++
		default:
			h.logger.Warn("Client send buffer full, dropping message",
				logger.String("client_id", client.ID),
				logger.String("type", message.Type),
			)
		}
	}
	return sent
}

// GetActiveConnections returns the number of active connections
func (h *Hub) GetActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
