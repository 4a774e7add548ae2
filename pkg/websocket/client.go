package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tripnest/booking-payments/pkg/logger"
)

const (
	authorizeTimeout = 3 * time.Second
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMessageSize   = 512
)

// Message types sent in reply to client requests
const (
	TypeSubscribed = "subscribed"
	TypePong       = "pong"
	TypeError      = "error"
)

var errEmptyBookingID = errors.New("booking_id is required")

// Client represents a WebSocket client connection
type Client struct {
	ID            string
	UserID        string
	Role          string // customer, agency or admin
	Hub           *Hub
	Conn          *websocket.Conn
	Send          chan []byte
	subscriptions map[string]bool // booking ids
	mu            sync.RWMutex
	logger        *logger.Logger
}

// ClientMessage represents a message from the client
type ClientMessage struct {
	Type      string `json:"type"`
	BookingID string `json:"booking_id,omitempty"`
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, userID, role string, log *logger.Logger) *Client {
	return &Client{
		ID:            uuid.NewString(),
		UserID:        userID,
		Role:          role,
		Hub:           hub,
		Conn:          conn,
		Send:          make(chan []byte, 64),
		subscriptions: make(map[string]bool),
		logger:        log,
	}
}

// ReadPump pumps messages from the WebSocket connection to the hub
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error",
					logger.Err(err),
					logger.String("client_id", c.ID),
				)
			}
			break
		}

		c.handleMessage(message)
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes incoming messages from the client
func (c *Client) handleMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.SendMessage(Message{Type: TypeError, Data: map[string]string{"error": "malformed message"}})
		return
	}

	switch msg.Type {
	case "subscribe":
		if err := c.authorize(msg.BookingID); err != nil {
			c.logger.Warn("Subscription refused",
				logger.String("client_id", c.ID),
				logger.String("booking_id", msg.BookingID),
				logger.Err(err),
			)
			c.SendMessage(Message{Type: TypeError, Data: map[string]string{
				"booking_id": msg.BookingID,
				"error":      "subscription refused",
			}})
			return
		}
		c.Subscribe(msg.BookingID)
		c.SendMessage(Message{Type: TypeSubscribed, Data: map[string]string{"booking_id": msg.BookingID}})
	case "unsubscribe":
		c.Unsubscribe(msg.BookingID)
	case "ping":
		c.SendMessage(Message{Type: TypePong})
	default:
		c.SendMessage(Message{Type: TypeError, Data: map[string]string{"error": "unknown message type " + msg.Type}})
	}
}

func (c *Client) authorize(bookingID string) error {
	if bookingID == "" {
		return errEmptyBookingID
	}
	if c.Hub.authorizer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), authorizeTimeout)
	defer cancel()
	return c.Hub.authorizer(ctx, c.UserID, c.Role, bookingID)
}

// Subscribe subscribes the client to updates for a booking. Callers outside
// the read loop are responsible for authorization.
func (c *Client) Subscribe(bookingID string) {
	if bookingID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[bookingID] = true
}

// Unsubscribe stops updates for a booking
func (c *Client) Unsubscribe(bookingID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, bookingID)
}

// IsSubscribedTo checks if client follows a booking
func (c *Client) IsSubscribedTo(bookingID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions[bookingID]
}

// SendMessage sends a message to the client
func (c *Client) SendMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to marshal message",
			logger.Err(err),
			logger.String("client_id", c.ID),
		)
		return
	}

	select {
	case c.Send <- data:
	default:
		c.logger.Warn("Client send buffer full",
			logger.String("client_id", c.ID),
		)
	}
}
