package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripnest/booking-payments/internal/domain/booking"
	"github.com/tripnest/booking-payments/internal/gateway"
	"github.com/tripnest/booking-payments/internal/gateway/gatewaytest"
	"github.com/tripnest/booking-payments/internal/repository/memory"
	"github.com/tripnest/booking-payments/internal/service/dispatch"
	"github.com/tripnest/booking-payments/pkg/cache"
	apperrors "github.com/tripnest/booking-payments/pkg/errors"
	"github.com/tripnest/booking-payments/pkg/logger"
	"github.com/tripnest/booking-payments/pkg/monitoring"
)

type recordedEffects struct {
	mu        sync.Mutex
	confirmed int
	failed    int
	late      int
	parked    []string
	parkErr   error
}

func (r *recordedEffects) BookingConfirmed(ctx context.Context, b *booking.Booking) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirmed++
}

func (r *recordedEffects) BookingFailed(ctx context.Context, b *booking.Booking) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed++
}

func (r *recordedEffects) LateCapture(ctx context.Context, b *booking.Booking) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.late++
}

func (r *recordedEffects) ParkOrder(ctx context.Context, p dispatch.ReconcilePayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.parkErr != nil {
		return r.parkErr
	}
	r.parked = append(r.parked, p.OrderID)
	return nil
}

type fixture struct {
	repo    *memory.BookingRepository
	gw      *gatewaytest.Fake
	effects *recordedEffects
	engine  *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	f := &fixture{
		repo:    memory.NewBookingRepository(),
		gw:      gatewaytest.New(),
		effects: &recordedEffects{},
	}
	claims := cache.NewClaimStore(client, "webhook", time.Hour)
	f.engine = NewEngine(f.repo, f.gw, f.effects, claims, monitoring.Disabled(), logger.NewNop())
	return f
}

// pendingBooking stores a booking with an open order and returns it
func (f *fixture) pendingBooking(t *testing.T, mode booking.PaymentMode) (*booking.Booking, string) {
	t.Helper()
	ctx := context.Background()
	b := &booking.Booking{
		ID:                 uuid.New(),
		CustomerID:         uuid.New(),
		AgencyID:           uuid.New(),
		NumberOfPeople:     2,
		TotalPrice:         2000,
		PlatformFee:        60,
		AgencyPayoutAmount: 1940,
		AmountDueNow:       2000,
		Currency:           "INR",
		PaymentMode:        mode,
		Channel:            booking.ChannelCustomer,
		Status:             booking.StatusDraft,
	}
	if mode == booking.ModePartial {
		b.AmountDueNow = 60
	}
	require.NoError(t, b.Enter(time.Now()))
	require.NoError(t, f.repo.CreateDraft(ctx, b))

	order, err := f.gw.CreateOrder(ctx, gateway.OrderRequest{OrderID: gateway.NewOrderID(time.Now()), Amount: b.AmountDueNow, Currency: "INR"})
	require.NoError(t, err)
	_, err = f.repo.AttachOrder(ctx, b.ID, order.OrderID, order.PaymentSessionID)
	require.NoError(t, err)
	return b, order.OrderID
}

func webhookBody(t *testing.T, orderID, paymentID, status string) []byte {
	t.Helper()
	b, err := json.Marshal(gatewaytest.WebhookBody{Type: "PAYMENT_WEBHOOK", OrderID: orderID, PaymentID: paymentID, Status: status})
	require.NoError(t, err)
	return b
}

// TestEngine_WebhookThenReturn tests that a success seen twice confirms once
func TestEngine_WebhookThenReturn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, orderID := f.pendingBooking(t, booking.ModeFull)
	f.gw.AddPayment(orderID, "cf_pay_1", gateway.PaymentSuccess, 2000, time.Now())

	ack := f.engine.HandleWebhook(ctx, webhookBody(t, orderID, "cf_pay_1", "SUCCESS"), gatewaytest.SignedHeaders())
	assert.Equal(t, Ack{Received: true}, ack)

	rec, err := f.engine.HandleReturn(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, rec.Booking.Status)
	assert.Equal(t, booking.TransitionNone, rec.Transition)
	assert.False(t, rec.Pending)
	assert.True(t, rec.Booking.AgencyApproval)

	again := f.engine.HandleWebhook(ctx, webhookBody(t, orderID, "cf_pay_1", "SUCCESS"), gatewaytest.SignedHeaders())
	assert.True(t, again.Duplicate)

	payments, err := f.repo.ListPayments(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
	assert.Equal(t, 1, f.effects.confirmed)
}

// TestEngine_ConcurrentDeliveries tests that parallel return and webhook confirm once
func TestEngine_ConcurrentDeliveries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, orderID := f.pendingBooking(t, booking.ModePartial)
	f.gw.AddPayment(orderID, "cf_pay_1", gateway.PaymentSuccess, 60, time.Now())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = f.engine.HandleReturn(ctx, b.ID)
				return
			}
			_ = f.engine.HandleWebhook(ctx, webhookBody(t, orderID, "cf_pay_1", "SUCCESS"), gatewaytest.SignedHeaders())
		}(i)
	}
	wg.Wait()

	got, err := f.repo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, got.Status)
	assert.True(t, got.PartialAmountPaid)

	payments, err := f.repo.ListPayments(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
	assert.Equal(t, 1, f.effects.confirmed)
}

// TestEngine_UnknownIsNotFailure tests that gateway errors leave the booking pending
func TestEngine_UnknownIsNotFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, orderID := f.pendingBooking(t, booking.ModeFull)
	f.gw.FetchErr = apperrors.GatewayUnavailable("timeout", nil)

	rec, err := f.engine.HandleReturn(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, rec.Pending)
	assert.Equal(t, PendingMessage, rec.Message)

	ack := f.engine.HandleWebhook(ctx, webhookBody(t, orderID, "cf_pay_1", "SUCCESS"), gatewaytest.SignedHeaders())
	assert.True(t, ack.Received)
	assert.True(t, ack.Parked)
	assert.Equal(t, []string{orderID}, f.effects.parked)

	got, err := f.repo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPendingPayment, got.Status)
	assert.Zero(t, f.effects.failed)

	// the parked retry succeeds once the gateway answers, and the claim was released
	f.gw.FetchErr = nil
	f.gw.AddPayment(orderID, "cf_pay_1", gateway.PaymentSuccess, 2000, time.Now())
	rec, err = f.engine.ReconcileOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, booking.TransitionConfirmed, rec.Transition)

	ack = f.engine.HandleWebhook(ctx, webhookBody(t, orderID, "cf_pay_1", "SUCCESS"), gatewaytest.SignedHeaders())
	assert.False(t, ack.Duplicate)
}

// TestEngine_WebhookBeforeGatewayRecordsPayment tests that a success the
// gateway does not list yet is processed again on redelivery
func TestEngine_WebhookBeforeGatewayRecordsPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, orderID := f.pendingBooking(t, booking.ModeFull)
	body := webhookBody(t, orderID, "cf_pay_1", "SUCCESS")

	ack := f.engine.HandleWebhook(ctx, body, gatewaytest.SignedHeaders())
	assert.Equal(t, Ack{Received: true, Unsettled: true}, ack)

	got, err := f.repo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPendingPayment, got.Status)

	f.gw.AddPayment(orderID, "cf_pay_1", gateway.PaymentSuccess, 2000, time.Now())
	ack = f.engine.HandleWebhook(ctx, body, gatewaytest.SignedHeaders())
	assert.Equal(t, Ack{Received: true}, ack)

	got, err = f.repo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, got.Status)
	assert.Equal(t, 1, f.effects.confirmed)

	// settled now, so a further redelivery is a duplicate
	ack = f.engine.HandleWebhook(ctx, body, gatewaytest.SignedHeaders())
	assert.True(t, ack.Duplicate)
}

// TestEngine_OutOfOrderDelivery tests that a late failure never downgrades a confirmation
func TestEngine_OutOfOrderDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, orderID := f.pendingBooking(t, booking.ModeFull)
	now := time.Now()

	f.gw.AddPayment(orderID, "cf_pay_1", gateway.PaymentFailed, 2000, now.Add(-2*time.Minute))
	f.gw.AddPayment(orderID, "cf_pay_2", gateway.PaymentSuccess, 2000, now.Add(-time.Minute))

	f.engine.HandleWebhook(ctx, webhookBody(t, orderID, "cf_pay_2", "SUCCESS"), gatewaytest.SignedHeaders())
	f.engine.HandleWebhook(ctx, webhookBody(t, orderID, "cf_pay_1", "FAILED"), gatewaytest.SignedHeaders())

	got, err := f.repo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, got.Status)
	assert.Equal(t, "cf_pay_2", got.TransactionID)
	assert.Zero(t, f.effects.failed)
}

// TestEngine_FailureThenRecovery tests that a failed booking confirms if a later attempt succeeds
func TestEngine_FailureThenRecovery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, orderID := f.pendingBooking(t, booking.ModeFull)
	now := time.Now()

	f.gw.AddPayment(orderID, "cf_pay_1", gateway.PaymentUserDropped, 2000, now.Add(-time.Minute))
	rec, err := f.engine.HandleReturn(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.TransitionFailed, rec.Transition)
	assert.Equal(t, booking.PaymentUserDropped, rec.Booking.PaymentStatus)

	f.gw.AddPayment(orderID, "cf_pay_2", gateway.PaymentSuccess, 2000, now)
	rec, err = f.engine.HandleReturn(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.TransitionConfirmed, rec.Transition)
	assert.Equal(t, 1, f.effects.failed)
	assert.Equal(t, 1, f.effects.confirmed)
}

// TestEngine_LateCapture tests a success arriving after cancellation
func TestEngine_LateCapture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, orderID := f.pendingBooking(t, booking.ModeFull)

	_, _, err := f.repo.RequestCancellation(ctx, b.ID, booking.CancellationRequest{Reason: "changed plans", RequestedBy: b.CustomerID})
	require.NoError(t, err)

	f.gw.AddPayment(orderID, "cf_pay_1", gateway.PaymentSuccess, 2000, time.Now())
	f.engine.HandleWebhook(ctx, webhookBody(t, orderID, "cf_pay_1", "SUCCESS"), gatewaytest.SignedHeaders())

	got, err := f.repo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, got.Status)
	assert.Equal(t, "cf_pay_1", got.TransactionID)
	assert.Equal(t, 1, f.effects.late)
	assert.Zero(t, f.effects.confirmed)
}

// TestEngine_HandleWebhook_Edges tests deliveries that cannot be applied directly
func TestEngine_HandleWebhook_Edges(t *testing.T) {
	tests := []struct {
		name       string
		body       []byte
		signed     bool
		parkErr    error
		wantAck    Ack
		wantParked int
	}{
		{
			name:    "bad signature",
			body:    []byte(`{"order_id":"order_1"}`),
			wantAck: Ack{Received: true, Dropped: true},
		},
		{
			name:    "malformed payload",
			body:    []byte(`{not json`),
			signed:  true,
			wantAck: Ack{Received: true, Dropped: true},
		},
		{
			name:       "order not attached yet",
			body:       []byte(`{"type":"PAYMENT_WEBHOOK","order_id":"order_unknown"}`),
			signed:     true,
			wantAck:    Ack{Received: true, Parked: true},
			wantParked: 1,
		},
		{
			name:    "park fails",
			body:    []byte(`{"type":"PAYMENT_WEBHOOK","order_id":"order_unknown"}`),
			signed:  true,
			parkErr: errors.New("redis down"),
			wantAck: Ack{Received: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.effects.parkErr = tt.parkErr
			headers := gatewaytest.SignedHeaders()
			if !tt.signed {
				headers.Del(gatewaytest.SignatureHeader)
			}

			ack := f.engine.HandleWebhook(context.Background(), tt.body, headers)
			assert.Equal(t, tt.wantAck, ack)
			assert.Len(t, f.effects.parked, tt.wantParked)
		})
	}
}

// TestEngine_ReturnWithoutOrder tests a booking whose order creation never succeeded
func TestEngine_ReturnWithoutOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := &booking.Booking{
		ID: uuid.New(), CustomerID: uuid.New(), AgencyID: uuid.New(), NumberOfPeople: 1,
		TotalPrice: 100, PlatformFee: 3, AgencyPayoutAmount: 97, AmountDueNow: 3, Currency: "INR",
		PaymentMode: booking.ModePartial, Channel: booking.ChannelCustomer, Status: booking.StatusDraft,
	}
	require.NoError(t, b.Enter(time.Now()))
	require.NoError(t, f.repo.CreateDraft(ctx, b))

	rec, err := f.engine.HandleReturn(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, rec.Pending)
	assert.Equal(t, booking.StatusPendingApproval, rec.Booking.Status)

	_, err = f.engine.HandleReturn(ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrBookingNotFound)
}

// TestEngine_Sweep tests the periodic convergence of stale bookings
func TestEngine_Sweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.SetClock(func() time.Time { return time.Now().Add(-time.Hour) })

	paid, paidOrder := f.pendingBooking(t, booking.ModeFull)
	expired, expiredOrder := f.pendingBooking(t, booking.ModeFull)
	waiting, _ := f.pendingBooking(t, booking.ModePartial)

	f.repo.SetClock(time.Now)
	f.gw.AddPayment(paidOrder, "cf_pay_1", gateway.PaymentSuccess, 2000, time.Now())
	f.gw.SetOrderStatus(expiredOrder, gateway.OrderExpired)

	report, err := f.engine.Sweep(ctx, 15*time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, &SweepReport{Scanned: 3, Confirmed: 1, Failed: 1, Pending: 1}, report)

	for id, want := range map[uuid.UUID]booking.Status{
		paid.ID:    booking.StatusConfirmed,
		expired.ID: booking.StatusFailed,
		waiting.ID: booking.StatusPendingApproval,
	} {
		got, err := f.repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status)
	}
}
