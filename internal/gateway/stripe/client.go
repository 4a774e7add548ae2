package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"github.com/tripnest/booking-payments/internal/domain/payment"
	"github.com/tripnest/booking-payments/internal/gateway"
	apperrors "github.com/tripnest/booking-payments/pkg/errors"
)

const signatureHeader = "Stripe-Signature"

// Config holds Stripe credentials
type Config struct {
	SecretKey     string
	WebhookSecret string
}

// sessionAPI is the part of the Checkout Sessions client the adapter uses
type sessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// Client adapts Stripe Checkout Sessions to gateway.Client. The Stripe
// session id is used as the gateway order id; the minted correlation id
// travels as client_reference_id and metadata.
type Client struct {
	sessions      sessionAPI
	webhookSecret string
}

// NewClient creates an adapter backed by its own API instance
func NewClient(cfg Config) *Client {
	sc := &client.API{}
	sc.Init(cfg.SecretKey, nil)
	return &Client{sessions: sc.CheckoutSessions, webhookSecret: cfg.WebhookSecret}
}

// Name implements gateway.Client
func (c *Client) Name() string { return "stripe" }

// CreateOrder implements gateway.Client
func (c *Client) CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.Order, error) {
	if req.OrderID == "" || req.Amount <= 0 {
		return nil, apperrors.InvalidInput("order id and a positive amount are required", nil)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.OrderID),
		SuccessURL:        stripe.String(req.ReturnURL),
		CancelURL:         stripe.String(req.ReturnURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(toMinorUnits(req.Amount, req.Currency)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(orderName(req)),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"order_id": req.OrderID, "booking_id": req.BookingID},
		},
	}
	if req.Customer.Email != "" {
		params.CustomerEmail = stripe.String(req.Customer.Email)
	}
	params.Context = ctx
	params.AddMetadata("order_id", req.OrderID)
	params.AddMetadata("booking_id", req.BookingID)
	params.SetIdempotencyKey(req.OrderID)

	sess, err := c.sessions.New(params)
	if err != nil {
		return nil, mapError("create checkout session", err)
	}

	// Sessions can only be fetched by their own id, so the session id is the
	// order id stored on the booking. The minted id stays on the session as
	// client_reference_id, metadata and idempotency key.
	return &gateway.Order{
		OrderID:          sess.ID,
		PaymentSessionID: sess.ID,
		PaymentURL:       sess.URL,
	}, nil
}

// FetchOrderStatus implements gateway.Client
func (c *Client) FetchOrderStatus(ctx context.Context, orderID string) (*gateway.OrderState, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := c.sessions.Get(orderID, params)
	if err != nil {
		return nil, mapError("get checkout session", err)
	}
	return sessionState(sess), nil
}

// FetchPayments implements gateway.Client
func (c *Client) FetchPayments(ctx context.Context, orderID string) ([]gateway.PaymentEvent, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")

	sess, err := c.sessions.Get(orderID, params)
	if err != nil {
		return nil, mapError("get checkout session", err)
	}
	return sessionPayments(sess), nil
}

// ParseWebhook implements gateway.Client
func (c *Client) ParseWebhook(body []byte, headers http.Header) (*gateway.WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(body, headers.Get(signatureHeader), c.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, apperrors.Unauthorized("invalid webhook signature", err)
	}
	if event.Data == nil {
		return nil, apperrors.InvalidInput("webhook event has no data", nil)
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, apperrors.InvalidInput("malformed checkout session in webhook", err)
	}
	if sess.ID == "" {
		return nil, apperrors.InvalidInput("webhook event has no session id", nil)
	}

	out := &gateway.WebhookEvent{Type: string(event.Type), OrderID: sess.ID}
	at := time.Unix(event.Created, 0)
	paymentID := ""
	if sess.PaymentIntent != nil {
		paymentID = sess.PaymentIntent.ID
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
			out.Payment = &gateway.PaymentEvent{
				OrderID: sess.ID, PaymentID: paymentID, Status: gateway.PaymentSuccess,
				Amount: fromMinorUnits(sess.AmountTotal, string(sess.Currency)), Currency: strings.ToUpper(string(sess.Currency)), Time: at,
			}
		}
	case "checkout.session.async_payment_failed":
		out.Payment = &gateway.PaymentEvent{
			OrderID: sess.ID, PaymentID: paymentID, Status: gateway.PaymentFailed,
			Amount: fromMinorUnits(sess.AmountTotal, string(sess.Currency)), Currency: strings.ToUpper(string(sess.Currency)),
			Message: "asynchronous payment failed", Time: at,
		}
	case "checkout.session.expired":
		out.Payment = &gateway.PaymentEvent{
			OrderID: sess.ID, Status: gateway.PaymentUserDropped, Message: "checkout session expired", Time: at,
		}
	}
	return out, nil
}

func sessionState(sess *stripe.CheckoutSession) *gateway.OrderState {
	state := &gateway.OrderState{
		OrderID:          sess.ID,
		Amount:           fromMinorUnits(sess.AmountTotal, string(sess.Currency)),
		Currency:         strings.ToUpper(string(sess.Currency)),
		PaymentSessionID: sess.ID,
	}
	switch {
	case sess.Status == stripe.CheckoutSessionStatusExpired:
		state.Status = gateway.OrderExpired
	case sess.Status == stripe.CheckoutSessionStatusComplete && sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		state.Status = gateway.OrderPaid
	default:
		state.Status = gateway.OrderActive
	}
	return state
}

func sessionPayments(sess *stripe.CheckoutSession) []gateway.PaymentEvent {
	pi := sess.PaymentIntent
	if pi == nil || pi.Status == "" {
		if sess.Status == stripe.CheckoutSessionStatusExpired {
			return []gateway.PaymentEvent{{
				OrderID: sess.ID, Status: gateway.PaymentUserDropped, Message: "checkout session expired",
			}}
		}
		return nil
	}

	ev := gateway.PaymentEvent{
		OrderID:   sess.ID,
		PaymentID: pi.ID,
		Amount:    fromMinorUnits(pi.Amount, string(pi.Currency)),
		Currency:  strings.ToUpper(string(pi.Currency)),
		Time:      time.Unix(pi.Created, 0),
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		ev.Status = gateway.PaymentSuccess
	case stripe.PaymentIntentStatusCanceled:
		ev.Status = gateway.PaymentCancelled
		ev.Message = string(pi.CancellationReason)
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if pi.LastPaymentError == nil {
			ev.Status = gateway.PaymentNotAttempted
			break
		}
		ev.Status = gateway.PaymentFailed
		ev.Message = pi.LastPaymentError.Msg
	default:
		ev.Status = gateway.PaymentPending
	}
	return []gateway.PaymentEvent{ev}
}

func mapError(op string, err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		if serr.HTTPStatusCode == http.StatusTooManyRequests || serr.HTTPStatusCode >= 500 || serr.HTTPStatusCode == 0 {
			return apperrors.GatewayUnavailable("stripe "+op+" failed", err)
		}
		return apperrors.GatewayRejected(serr.Msg, err)
	}
	return apperrors.GatewayUnavailable("stripe "+op+" failed", err)
}

func orderName(req gateway.OrderRequest) string {
	if req.Note != "" {
		return req.Note
	}
	return "Trip booking " + req.BookingID
}

// toMinorUnits converts to the smallest currency unit Stripe charges in
func toMinorUnits(amount float64, currency string) int64 {
	return int64(math.Round(amount * math.Pow10(payment.MinorUnitExponent(currency))))
}

func fromMinorUnits(v int64, currency string) float64 {
	return float64(v) / math.Pow10(payment.MinorUnitExponent(currency))
}

var _ gateway.Client = (*Client)(nil)
