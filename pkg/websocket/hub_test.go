package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripnest/booking-payments/pkg/logger"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func registerClient(t *testing.T, hub *Hub, userID, role string) *Client {
	t.Helper()
	c := NewClient(hub, nil, userID, role, logger.NewNop())
	hub.Register(c)
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return hub.clients[c]
	}, time.Second, 5*time.Millisecond)
	return c
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data := <-c.Send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
	return Message{}
}

// TestHub_SendToUser tests delivery to a single user's connections
func TestHub_SendToUser(t *testing.T) {
	hub := startHub(t)
	customer := registerClient(t, hub, "cust-1", "customer")
	other := registerClient(t, hub, "cust-2", "customer")

	sent := hub.SendToUser("cust-1", Message{Type: "booking.confirmed", Data: map[string]string{"booking_id": "b-1"}})

	assert.Equal(t, 1, sent)
	assert.Equal(t, "booking.confirmed", receive(t, customer).Type)
	assert.Len(t, other.Send, 0)
}

// TestHub_BroadcastToBooking tests subscription-based fan-out
func TestHub_BroadcastToBooking(t *testing.T) {
	hub := startHub(t)
	agency := registerClient(t, hub, "agency-1", "agency")
	admin := registerClient(t, hub, "admin-1", "admin")
	agency.Subscribe("b-7")

	sent := hub.BroadcastToBooking("b-7", Message{Type: "booking.cancelled"})

	assert.Equal(t, 1, sent)
	assert.Equal(t, "booking.cancelled", receive(t, agency).Type)
	assert.Len(t, admin.Send, 0)

	agency.Unsubscribe("b-7")
	assert.Equal(t, 0, hub.BroadcastToBooking("b-7", Message{Type: "booking.cancelled"}))
}

// TestHub_BroadcastToRole tests role fan-out
func TestHub_BroadcastToRole(t *testing.T) {
	hub := startHub(t)
	registerClient(t, hub, "admin-1", "admin")
	registerClient(t, hub, "admin-2", "admin")
	registerClient(t, hub, "cust-1", "customer")

	assert.Equal(t, 2, hub.BroadcastToRole("admin", Message{Type: "refund.requested"}))
	assert.Equal(t, 3, hub.GetActiveConnections())
}

// TestClient_SubscribeAuthorization tests that subscribe requests go
// through the hub's authorizer
func TestClient_SubscribeAuthorization(t *testing.T) {
	hub := startHub(t)
	hub.SetAuthorizer(func(ctx context.Context, userID, role, bookingID string) error {
		if bookingID == "b-mine" {
			return nil
		}
		return errors.New("not a party")
	})
	c := registerClient(t, hub, "cust-1", "customer")

	tests := []struct {
		name       string
		message    string
		wantType   string
		subscribed string
	}{
		{"allowed", `{"type":"subscribe","booking_id":"b-mine"}`, TypeSubscribed, "b-mine"},
		{"refused", `{"type":"subscribe","booking_id":"b-other"}`, TypeError, ""},
		{"empty booking", `{"type":"subscribe"}`, TypeError, ""},
		{"ping", `{"type":"ping"}`, TypePong, ""},
		{"malformed", `{`, TypeError, ""},
		{"unknown", `{"type":"dance"}`, TypeError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.handleMessage([]byte(tt.message))
			assert.Equal(t, tt.wantType, receive(t, c).Type)
			if tt.subscribed != "" {
				assert.True(t, c.IsSubscribedTo(tt.subscribed))
			}
		})
	}
	assert.False(t, c.IsSubscribedTo("b-other"))
}
