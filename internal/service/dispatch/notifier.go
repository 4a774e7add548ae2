package dispatch

import (
	"context"

	"github.com/google/uuid"
	"github.com/tripnest/booking-payments/internal/domain/booking"
	"github.com/tripnest/booking-payments/pkg/logger"
	"github.com/tripnest/booking-payments/pkg/websocket"
)

// Notifier delivers a notification to its recipients
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// InvoiceGenerator renders and stores the invoice for a confirmed booking
// and returns a reference to it.
type InvoiceGenerator interface {
	GenerateInvoice(ctx context.Context, b *booking.Booking) (string, error)
}

// Pusher is the part of the websocket hub used for in-app delivery
type Pusher interface {
	SendToUser(userID string, message websocket.Message) int
	BroadcastToBooking(bookingID string, message websocket.Message) int
	BroadcastToRole(role string, message websocket.Message) int
}

// HubNotifier pushes notifications to connected dashboards. Recipients
// without a user id reach every client of their role.
type HubNotifier struct {
	hub    Pusher
	logger *logger.Logger
}

func NewHubNotifier(hub Pusher, log *logger.Logger) *HubNotifier {
	return &HubNotifier{hub: hub, logger: log}
}

func (n *HubNotifier) Notify(ctx context.Context, note Notification) error {
	msg := websocket.Message{Type: note.Event, Data: note}

	delivered := n.hub.BroadcastToBooking(note.BookingID.String(), msg)
	for _, r := range note.Recipients {
		if r.UserID == uuid.Nil {
			delivered += n.hub.BroadcastToRole(string(r.Role), msg)
			continue
		}
		delivered += n.hub.SendToUser(r.UserID.String(), msg)
	}

	n.logger.Debug("Notification pushed",
		logger.String("event", note.Event),
		logger.String("booking_id", note.BookingID.String()),
		logger.Int("connections", delivered),
	)
	return nil
}

// LogNotifier records notifications in the log. It stands in for the email
// and messaging providers, which live outside this service.
type LogNotifier struct {
	logger *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log}
}

func (n *LogNotifier) Notify(ctx context.Context, note Notification) error {
	for _, r := range note.Recipients {
		n.logger.Info("Notification",
			logger.String("event", note.Event),
			logger.String("booking_id", note.BookingID.String()),
			logger.String("recipient", r.UserID.String()),
			logger.String("role", string(r.Role)),
			logger.String("title", note.Title),
		)
	}
	return nil
}

// FanOut sends to every notifier and returns the first error
type FanOut []Notifier

func (f FanOut) Notify(ctx context.Context, note Notification) error {
	var first error
	for _, n := range f {
		if err := n.Notify(ctx, note); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LogInvoiceGenerator assigns an invoice reference and logs it. Rendering
// the document belongs to the documents service.
type LogInvoiceGenerator struct {
	logger *logger.Logger
}

func NewLogInvoiceGenerator(log *logger.Logger) *LogInvoiceGenerator {
	return &LogInvoiceGenerator{logger: log}
}

func (g *LogInvoiceGenerator) GenerateInvoice(ctx context.Context, b *booking.Booking) (string, error) {
	ref := "INV-" + b.ID.String()[:8] + "-" + b.TransactionID
	g.logger.Info("Invoice generated",
		logger.String("booking_id", b.ID.String()),
		logger.String("invoice_ref", ref),
		logger.Float64("amount", b.AmountDueNow),
		logger.String("currency", b.Currency),
	)
	return ref, nil
}
