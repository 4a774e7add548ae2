package cashfree

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tripnest/booking-payments/internal/gateway"
	apperrors "github.com/tripnest/booking-payments/pkg/errors"
)

const (
	headerClientID   = "x-client-id"
	headerSecret     = "x-client-secret"
	headerAPIVersion = "x-api-version"
	headerRequestID  = "x-request-id"

	headerSignature = "x-webhook-signature"
	headerTimestamp = "x-webhook-timestamp"

	maxResponseBytes = 1 << 20
)

// Config holds Cashfree PG credentials
type Config struct {
	BaseURL       string
	ClientID      string
	ClientSecret  string
	APIVersion    string
	WebhookSecret string
	Timeout       time.Duration
}

// Client talks to the Cashfree Payment Gateway REST API
type Client struct {
	httpClient *http.Client
	cfg        Config
}

// NewClient creates a Cashfree client. A nil httpClient gets one with the
// configured timeout.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.WebhookSecret == "" {
		// Cashfree signs webhooks with the client secret
		cfg.WebhookSecret = cfg.ClientSecret
	}
	return &Client{httpClient: httpClient, cfg: cfg}
}

// Name implements gateway.Client
func (c *Client) Name() string { return "cashfree" }

// CreateOrder implements gateway.Client
func (c *Client) CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.Order, error) {
	if req.OrderID == "" || req.Amount <= 0 {
		return nil, apperrors.InvalidInput("order id and a positive amount are required", nil)
	}

	body := createOrderRequest{
		OrderID:       req.OrderID,
		OrderAmount:   req.Amount,
		OrderCurrency: req.Currency,
		CustomerDetails: customerDetails{
			CustomerID:    req.Customer.ID,
			CustomerName:  req.Customer.Name,
			CustomerEmail: req.Customer.Email,
			CustomerPhone: req.Customer.Phone,
		},
		OrderMeta: orderMeta{ReturnURL: req.ReturnURL, NotifyURL: req.NotifyURL},
		OrderNote: req.Note,
	}
	if req.BookingID != "" {
		body.OrderTags = map[string]string{"booking_id": req.BookingID}
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/orders", req.OrderID, body, &resp); err != nil {
		return nil, err
	}
	if resp.PaymentSessionID == "" {
		return nil, apperrors.GatewayUnavailable("cashfree returned an order without a payment session", nil)
	}

	return &gateway.Order{
		OrderID:          resp.OrderID,
		PaymentSessionID: resp.PaymentSessionID,
	}, nil
}

// FetchOrderStatus implements gateway.Client
func (c *Client) FetchOrderStatus(ctx context.Context, orderID string) (*gateway.OrderState, error) {
	var resp orderResponse
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), "", nil, &resp); err != nil {
		return nil, err
	}

	status, err := gateway.ParseOrderStatus(resp.OrderStatus)
	if err != nil {
		return nil, apperrors.GatewayUnavailable("cashfree returned an unreadable order", err)
	}

	return &gateway.OrderState{
		OrderID:          resp.OrderID,
		Status:           status,
		Amount:           resp.OrderAmount,
		Currency:         resp.OrderCurrency,
		PaymentSessionID: resp.PaymentSessionID,
	}, nil
}

// FetchPayments implements gateway.Client
func (c *Client) FetchPayments(ctx context.Context, orderID string) ([]gateway.PaymentEvent, error) {
	var resp []paymentResponse
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID)+"/payments", "", nil, &resp); err != nil {
		return nil, err
	}

	events := make([]gateway.PaymentEvent, 0, len(resp))
	for i := range resp {
		ev, err := toPaymentEvent(orderID, &resp[i])
		if err != nil {
			return nil, apperrors.GatewayUnavailable("cashfree returned an unreadable payment", err)
		}
		events = append(events, *ev)
	}
	return events, nil
}

// ParseWebhook implements gateway.Client
func (c *Client) ParseWebhook(body []byte, headers http.Header) (*gateway.WebhookEvent, error) {
	if err := c.verifySignature(body, headers); err != nil {
		return nil, apperrors.Unauthorized("invalid webhook signature", err)
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperrors.InvalidInput("malformed webhook payload", err)
	}
	orderID := payload.Data.Order.OrderID
	if orderID == "" && payload.Data.Payment != nil {
		orderID = payload.Data.Payment.OrderID
	}
	if orderID == "" || payload.Type == "" {
		return nil, apperrors.InvalidInput("webhook payload has no order id or type", nil)
	}

	event := &gateway.WebhookEvent{Type: payload.Type, OrderID: orderID}
	if payload.Data.Payment != nil {
		p := payload.Data.Payment
		if p.PaymentCurrency == "" {
			p.PaymentCurrency = payload.Data.Order.OrderCurrency
		}
		ev, err := toPaymentEvent(orderID, p)
		if err != nil {
			return nil, apperrors.InvalidInput("malformed webhook payment", err)
		}
		event.Payment = ev
	}
	return event, nil
}

func (c *Client) verifySignature(body []byte, headers http.Header) error {
	sig := headers.Get(headerSignature)
	ts := headers.Get(headerTimestamp)
	if sig == "" || ts == "" {
		return errors.New("missing signature headers")
	}
	if c.cfg.WebhookSecret == "" {
		return errors.New("webhook secret is not configured")
	}
	expected := Sign(c.cfg.WebhookSecret, ts, body)
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return errors.New("signature mismatch")
	}
	return nil
}

// Sign computes the webhook signature: base64(HMAC-SHA256(timestamp+body))
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func toPaymentEvent(orderID string, p *paymentResponse) (*gateway.PaymentEvent, error) {
	status, err := gateway.ParsePaymentStatus(p.PaymentStatus)
	if err != nil {
		return nil, err
	}
	var at time.Time
	if p.PaymentTime != "" {
		at, err = time.Parse(time.RFC3339, p.PaymentTime)
		if err != nil {
			return nil, fmt.Errorf("bad payment_time: %w", err)
		}
	}
	msg := p.PaymentMessage
	if p.ErrorDetails != nil && p.ErrorDetails.ErrorDescription != "" {
		msg = p.ErrorDetails.ErrorDescription
	}
	if p.OrderID != "" {
		orderID = p.OrderID
	}
	return &gateway.PaymentEvent{
		OrderID:   orderID,
		PaymentID: string(p.CfPaymentID),
		Status:    status,
		Amount:    p.PaymentAmount,
		Currency:  p.PaymentCurrency,
		Message:   msg,
		Time:      at,
	}, nil
}

// do sends a request and decodes a 2xx JSON body into out. Transport errors,
// timeouts, 429 and 5xx map to GatewayUnavailable; other 4xx map to
// GatewayRejected.
func (c *Client) do(ctx context.Context, method, path, requestID string, in, out interface{}) error {
	var reader io.Reader
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return apperrors.Internal("failed to encode gateway request", err)
		}
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return apperrors.Internal("failed to build gateway request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(headerClientID, c.cfg.ClientID)
	httpReq.Header.Set(headerSecret, c.cfg.ClientSecret)
	httpReq.Header.Set(headerAPIVersion, c.cfg.APIVersion)
	if requestID != "" {
		httpReq.Header.Set(headerRequestID, requestID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return apperrors.GatewayUnavailable("cashfree request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apperrors.GatewayUnavailable("failed to read cashfree response", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr apiError
		_ = json.Unmarshal(data, &apiErr)
		msg := apiErr.Message
		if msg == "" {
			msg = "cashfree returned " + resp.Status
		}
		cause := fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, apiErr.Code)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return apperrors.GatewayUnavailable(msg, cause)
		}
		return apperrors.GatewayRejected(msg, cause)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.GatewayUnavailable("failed to decode cashfree response", err)
	}
	return nil
}

var _ gateway.Client = (*Client)(nil)
