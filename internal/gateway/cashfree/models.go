package cashfree

import (
	"bytes"
	"encoding/json"
	"strings"
)

type customerDetails struct {
	CustomerID    string `json:"customer_id"`
	CustomerName  string `json:"customer_name,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	CustomerPhone string `json:"customer_phone"`
}

type orderMeta struct {
	ReturnURL string `json:"return_url,omitempty"`
	NotifyURL string `json:"notify_url,omitempty"`
}

type createOrderRequest struct {
	OrderID         string            `json:"order_id"`
	OrderAmount     float64           `json:"order_amount"`
	OrderCurrency   string            `json:"order_currency"`
	CustomerDetails customerDetails   `json:"customer_details"`
	OrderMeta       orderMeta         `json:"order_meta"`
	OrderNote       string            `json:"order_note,omitempty"`
	OrderTags       map[string]string `json:"order_tags,omitempty"`
}

type orderResponse struct {
	CfOrderID        flexString `json:"cf_order_id"`
	OrderID          string     `json:"order_id"`
	OrderAmount      float64    `json:"order_amount"`
	OrderCurrency    string     `json:"order_currency"`
	OrderStatus      string     `json:"order_status"`
	PaymentSessionID string     `json:"payment_session_id"`
}

type paymentResponse struct {
	CfPaymentID     flexString    `json:"cf_payment_id"`
	OrderID         string        `json:"order_id"`
	PaymentStatus   string        `json:"payment_status"`
	PaymentAmount   float64       `json:"payment_amount"`
	PaymentCurrency string        `json:"payment_currency"`
	PaymentMessage  string        `json:"payment_message"`
	PaymentTime     string        `json:"payment_time"`
	ErrorDetails    *errorDetails `json:"error_details,omitempty"`
}

type errorDetails struct {
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
	ErrorReason      string `json:"error_reason"`
}

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Type    string `json:"type"`
}

type webhookPayload struct {
	Type      string `json:"type"`
	EventTime string `json:"event_time"`
	Data      struct {
		Order struct {
			OrderID       string  `json:"order_id"`
			OrderAmount   float64 `json:"order_amount"`
			OrderCurrency string  `json:"order_currency"`
		} `json:"order"`
		Payment *paymentResponse `json:"payment"`
	} `json:"data"`
}

// flexString accepts ids the API sends either as numbers or strings
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(strings.TrimSpace(n.String()))
	return nil
}
