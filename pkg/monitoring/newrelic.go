package monitoring

import (
	"fmt"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
)

// Config holds New Relic configuration
type Config struct {
	LicenseKey string
	AppName    string
	Enabled    bool
	LogLevel   string
}

// NewRelicApp wraps the New Relic application. A nil or disabled app is
// safe to call; every recorder becomes a no-op.
type NewRelicApp struct {
	*newrelic.Application
	enabled bool
}

// New creates a new New Relic application
func New(cfg Config) (*NewRelicApp, error) {
	if !cfg.Enabled || cfg.LicenseKey == "" {
		return Disabled(), nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigAppLogForwardingEnabled(true),
		newrelic.ConfigDistributedTracerEnabled(true),
	)

	if err != nil {
		return nil, fmt.Errorf("failed to create New Relic application: %w", err)
	}

	return &NewRelicApp{app, true}, nil
}

// Disabled returns an app that records nothing
func Disabled() *NewRelicApp {
	return &NewRelicApp{nil, false}
}

func (nr *NewRelicApp) active() bool {
	return nr != nil && nr.enabled && nr.Application != nil
}

// StartTransaction starts a new transaction
func (nr *NewRelicApp) StartTransaction(name string) *newrelic.Transaction {
	if !nr.active() {
		return nil
	}
	return nr.Application.StartTransaction(name)
}

// RecordCustomEvent records a custom event
func (nr *NewRelicApp) RecordCustomEvent(eventType string, params map[string]interface{}) {
	if !nr.active() {
		return
	}
	nr.Application.RecordCustomEvent(eventType, params)
}

// RecordCustomMetric records a custom metric
func (nr *NewRelicApp) RecordCustomMetric(name string, value float64) {
	if !nr.active() {
		return
	}
	nr.Application.RecordCustomMetric(name, value)
}

// Shutdown gracefully shuts down the New Relic application
func (nr *NewRelicApp) Shutdown(timeout time.Duration) {
	if !nr.active() {
		return
	}
	nr.Application.Shutdown(timeout)
}

// Booking and payment helpers

// RecordBookingCreated records a booking that reached the gateway step
func (nr *NewRelicApp) RecordBookingCreated(paymentMode, channel string, amountDue float64) {
	nr.RecordCustomEvent("BookingCreated", map[string]interface{}{
		"payment_mode": paymentMode,
		"channel":      channel,
		"amount_due":   amountDue,
		"timestamp":    time.Now().Unix(),
	})
}

// RecordPaymentReconciled records a terminal transition driven by the gateway
func (nr *NewRelicApp) RecordPaymentReconciled(bookingID, transition, source string, amount float64) {
	nr.RecordCustomEvent("PaymentReconciled", map[string]interface{}{
		"booking_id": bookingID,
		"transition": transition,
		"source":     source,
		"amount":     amount,
	})
}

// RecordCancellationRequested records a cancellation with its refund amount
func (nr *NewRelicApp) RecordCancellationRequested(bookingID string, refundAmount float64) {
	nr.RecordCustomEvent("CancellationRequested", map[string]interface{}{
		"booking_id":    bookingID,
		"refund_amount": refundAmount,
	})
}

// RecordGatewayError counts gateway failures by kind
func (nr *NewRelicApp) RecordGatewayError(operation, code string) {
	nr.RecordCustomMetric(fmt.Sprintf("custom/gateway/errors/%s/%s", operation, code), 1)
}

// RecordGatewayLatency records the duration of a gateway call
func (nr *NewRelicApp) RecordGatewayLatency(operation string, d time.Duration) {
	nr.RecordCustomMetric(fmt.Sprintf("custom/gateway/latency_ms/%s", operation), float64(d.Milliseconds()))
}

// RecordDatabasePoolStats records database connection pool statistics
func (nr *NewRelicApp) RecordDatabasePoolStats(stats map[string]interface{}) {
	if open, ok := stats["open_connections"].(int); ok {
		nr.RecordCustomMetric("custom/db/open_connections", float64(open))
	}
	if inUse, ok := stats["in_use"].(int); ok {
		nr.RecordCustomMetric("custom/db/in_use", float64(inUse))
	}
	if idle, ok := stats["idle"].(int); ok {
		nr.RecordCustomMetric("custom/db/idle", float64(idle))
	}
}

// RecordRedisPoolStats records Redis pool statistics
func (nr *NewRelicApp) RecordRedisPoolStats(stats map[string]interface{}) {
	if hits, ok := stats["hits"].(uint32); ok {
		nr.RecordCustomMetric("custom/redis/cache_hits", float64(hits))
	}
	if misses, ok := stats["misses"].(uint32); ok {
		nr.RecordCustomMetric("custom/redis/cache_misses", float64(misses))
	}
	if timeouts, ok := stats["timeouts"].(uint32); ok {
		nr.RecordCustomMetric("custom/redis/timeouts", float64(timeouts))
	}
}

// IsEnabled returns whether New Relic is enabled
func (nr *NewRelicApp) IsEnabled() bool {
	return nr.active()
}
