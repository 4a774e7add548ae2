package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripnest/booking-payments/internal/api/handlers"
	"github.com/tripnest/booking-payments/internal/domain/actor"
	"github.com/tripnest/booking-payments/internal/domain/booking"
	"github.com/tripnest/booking-payments/internal/domain/catalog"
	"github.com/tripnest/booking-payments/internal/domain/refund"
	"github.com/tripnest/booking-payments/internal/gateway"
	"github.com/tripnest/booking-payments/internal/gateway/gatewaytest"
	"github.com/tripnest/booking-payments/internal/repository/memory"
	"github.com/tripnest/booking-payments/internal/service/cancellation"
	"github.com/tripnest/booking-payments/internal/service/dispatch"
	"github.com/tripnest/booking-payments/internal/service/orchestrator"
	"github.com/tripnest/booking-payments/internal/service/pricing"
	"github.com/tripnest/booking-payments/internal/service/reconciliation"
	"github.com/tripnest/booking-payments/pkg/cache"
	apperrors "github.com/tripnest/booking-payments/pkg/errors"
	"github.com/tripnest/booking-payments/pkg/logger"
	"github.com/tripnest/booking-payments/pkg/monitoring"
	"github.com/tripnest/booking-payments/pkg/websocket"
)

type quietEffects struct {
	parked []dispatch.ReconcilePayload
}

func (e *quietEffects) BookingConfirmed(ctx context.Context, b *booking.Booking) {}
func (e *quietEffects) BookingFailed(ctx context.Context, b *booking.Booking)    {}
func (e *quietEffects) LateCapture(ctx context.Context, b *booking.Booking)      {}
func (e *quietEffects) ParkOrder(ctx context.Context, p dispatch.ReconcilePayload) error {
	e.parked = append(e.parked, p)
	return nil
}

type quietNotifier struct{}

func (quietNotifier) CancellationRequested(ctx context.Context, b *booking.Booking, rr *refund.Request) {
}
func (quietNotifier) RefundResolved(ctx context.Context, b *booking.Booking, rr *refund.Request) {}

type server struct {
	router   *gin.Engine
	repo     *memory.BookingRepository
	gw       *gatewaytest.Fake
	effects  *quietEffects
	pkg      catalog.Package
	customer actor.Actor
	agency   actor.Actor
	admin    actor.Actor
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := logger.NewNop()
	repo := memory.NewBookingRepository()
	cat := memory.NewCatalog()
	gw := gatewaytest.New()
	effects := &quietEffects{}

	pkg := catalog.Package{
		ID:            uuid.New(),
		AgencyID:      uuid.New(),
		Title:         "Hampi heritage trail",
		RatePerPerson: 1000,
		StartDate:     time.Now().Add(20 * 24 * time.Hour),
		EndDate:       time.Now().Add(22 * 24 * time.Hour),
	}
	customerID := uuid.New()
	cat.AddPackage(pkg)
	cat.AddCustomer(customerID)

	engine := reconciliation.NewEngine(repo, gw, effects,
		cache.NewClaimStore(rdb, "webhook", time.Hour), monitoring.Disabled(), log)
	orch := orchestrator.NewService(repo, cat,
		pricing.NewService(pricing.Config{PlatformFeePercent: 3, Currency: "INR"}),
		gw, engine, monitoring.Disabled(),
		orchestrator.Config{ReturnURL: "https://app.test/return?booking_id={booking_id}"},
		log,
	)

	h := handlers.NewHandlers(handlers.Deps{
		Bookings:     repo,
		Orchestrator: orch,
		Reconciler:   engine,
		Cancellation: cancellation.NewService(repo, quietNotifier{}, monitoring.Disabled(), log),
		Hub:          websocket.NewHub(log),
		HealthChecks: map[string]handlers.HealthCheck{
			"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
		Logger: log,
	})

	r := gin.New()
	SetupRoutes(r, h, nil, Options{
		Idempotency:   cache.NewIdempotencyStore(rdb, "create_booking", time.Hour),
		StripeWebhook: true,
		Logger:        log,
	})

	return &server{
		router:   r,
		repo:     repo,
		gw:       gw,
		effects:  effects,
		pkg:      pkg,
		customer: actor.Actor{ID: customerID, Role: actor.RoleCustomer},
		agency:   actor.Actor{ID: pkg.AgencyID, Role: actor.RoleAgency},
		admin:    actor.Actor{ID: uuid.New(), Role: actor.RoleAdmin},
	}
}

func (s *server) do(method, path string, as *actor.Actor, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch v := body.(type) {
		case []byte:
			buf.Write(v)
		default:
			_ = json.NewEncoder(&buf).Encode(v)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set("X-Actor-ID", as.ID.String())
		req.Header.Set("X-Actor-Role", string(as.Role))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *server) createBody(mode string) map[string]interface{} {
	return map[string]interface{}{
		"tour_package_id": s.pkg.ID.String(),
		"payment_mode":    mode,
		"travelers": []map[string]interface{}{
			{"name": "Meera", "age": 31, "id_type": "PASSPORT", "id_number": "P123"},
			{"name": "Kiran", "age": 29, "id_type": "PASSPORT", "id_number": "P456"},
		},
		"contact": map[string]string{"name": "Meera", "email": "meera@example.com", "phone": "9999999999"},
	}
}

type checkoutBody struct {
	Booking          booking.Booking `json:"booking"`
	OrderID          string          `json:"order_id"`
	PaymentSessionID string          `json:"payment_session_id"`
	PaymentURL       string          `json:"payment_url"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

func (s *server) createBooking(t *testing.T, mode string) checkoutBody {
	t.Helper()
	w := s.do(http.MethodPost, "/v1/bookings", &s.customer, s.createBody(mode),
		map[string]string{"Idempotency-Key": uuid.NewString()})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var out checkoutBody
	decode(t, w, &out)
	return out
}

// TestHealth tests the health endpoint reports its checks
func TestHealth(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodGet, "/health", nil, nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, map[string]interface{}{"redis": "ok"}, body["checks"])
}

// TestCreateBooking_Success tests the happy path and the response shape
func TestCreateBooking_Success(t *testing.T) {
	s := newServer(t)

	out := s.createBooking(t, "FULL")

	assert.Equal(t, booking.StatusPendingPayment, out.Booking.Status)
	assert.Equal(t, 2000.0, out.Booking.TotalPrice)
	assert.Equal(t, s.customer.ID, out.Booking.CustomerID)
	assert.NotEmpty(t, out.PaymentSessionID)
	assert.NotEmpty(t, out.PaymentURL)
	assert.Equal(t, out.OrderID, out.Booking.GatewayOrderID)
}

// TestCreateBooking_Idempotency tests replays and key scoping
func TestCreateBooking_Idempotency(t *testing.T) {
	s := newServer(t)
	key := map[string]string{"Idempotency-Key": "retry-1"}

	first := s.do(http.MethodPost, "/v1/bookings", &s.customer, s.createBody("FULL"), key)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := s.do(http.MethodPost, "/v1/bookings", &s.customer, s.createBody("FULL"), key)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Len(t, s.gw.Requests(), 1, "replay must not open another order")

	missing := s.do(http.MethodPost, "/v1/bookings", &s.customer, s.createBody("FULL"), nil)
	assert.Equal(t, http.StatusBadRequest, missing.Code)
}

// TestCreateBooking_Errors tests validation and error mapping
func TestCreateBooking_Errors(t *testing.T) {
	tests := []struct {
		name       string
		as         func(s *server) *actor.Actor
		body       func(s *server) interface{}
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing actor",
			as:         func(s *server) *actor.Actor { return nil },
			body:       func(s *server) interface{} { return s.createBody("FULL") },
			wantStatus: http.StatusUnauthorized,
			wantCode:   "UNAUTHORIZED",
		},
		{
			name: "bad payment mode",
			as:   func(s *server) *actor.Actor { return &s.customer },
			body: func(s *server) interface{} {
				b := s.createBody("FULL")
				b["payment_mode"] = "LATER"
				return b
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_INPUT",
		},
		{
			name: "no travelers",
			as:   func(s *server) *actor.Actor { return &s.customer },
			body: func(s *server) interface{} {
				b := s.createBody("FULL")
				b["travelers"] = []interface{}{}
				return b
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_INPUT",
		},
		{
			name: "unknown package",
			as:   func(s *server) *actor.Actor { return &s.customer },
			body: func(s *server) interface{} {
				b := s.createBody("FULL")
				b["tour_package_id"] = uuid.NewString()
				return b
			},
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServer(t)
			w := s.do(http.MethodPost, "/v1/bookings", tt.as(s), tt.body(s),
				map[string]string{"Idempotency-Key": uuid.NewString()})

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			var body map[string]interface{}
			decode(t, w, &body)
			assert.Equal(t, tt.wantCode, body["code"])
		})
	}
}

// TestCreateBooking_GatewayUnavailable tests that a persisted booking id is
// returned when the order cannot be opened, and that payment can resume
func TestCreateBooking_GatewayUnavailable(t *testing.T) {
	s := newServer(t)
	s.gw.CreateErr = apperrors.GatewayUnavailable("timeout", nil)

	w := s.do(http.MethodPost, "/v1/bookings", &s.customer, s.createBody("FULL"),
		map[string]string{"Idempotency-Key": uuid.NewString()})

	require.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())
	var body map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, "GATEWAY_UNAVAILABLE", body["code"])
	bookingID, _ := body["booking_id"].(string)
	require.NotEmpty(t, bookingID)

	s.gw.CreateErr = nil
	resumed := s.do(http.MethodPost, "/v1/bookings/"+bookingID+"/payment", &s.customer, nil, nil)
	require.Equal(t, http.StatusOK, resumed.Code, resumed.Body.String())
	var out checkoutBody
	decode(t, resumed, &out)
	assert.NotEmpty(t, out.PaymentSessionID)
	assert.Equal(t, bookingID, out.Booking.ID.String())
}

// TestGetBooking tests party visibility
func TestGetBooking(t *testing.T) {
	s := newServer(t)
	created := s.createBooking(t, "FULL")
	path := "/v1/bookings/" + created.Booking.ID.String()

	tests := []struct {
		name       string
		as         actor.Actor
		wantStatus int
	}{
		{"customer", s.customer, http.StatusOK},
		{"owning agency", s.agency, http.StatusOK},
		{"admin", s.admin, http.StatusOK},
		{"other customer", actor.Actor{ID: uuid.New(), Role: actor.RoleCustomer}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(http.MethodGet, path, &tt.as, nil, nil)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}

	bad := s.do(http.MethodGet, "/v1/bookings/not-a-uuid", &s.customer, nil, nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

// TestPaymentReturn tests pending and confirmed return redirects
func TestPaymentReturn(t *testing.T) {
	s := newServer(t)
	created := s.createBooking(t, "FULL")
	path := "/v1/payments/return?booking_id=" + created.Booking.ID.String()

	w := s.do(http.MethodGet, path, &s.customer, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pending map[string]interface{}
	decode(t, w, &pending)
	assert.Equal(t, "pending", pending["status"])
	assert.Equal(t, reconciliation.PendingMessage, pending["message"])

	s.gw.AddPayment(created.OrderID, "pay_1", gateway.PaymentSuccess, 2000, time.Now())

	w = s.do(http.MethodGet, path, &s.customer, nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var rec struct {
		Booking booking.Booking `json:"booking"`
		Pending bool            `json:"pending"`
	}
	decode(t, w, &rec)
	assert.False(t, rec.Pending)
	assert.Equal(t, booking.StatusConfirmed, rec.Booking.Status)
	assert.Equal(t, "pay_1", rec.Booking.TransactionID)
}

// TestPaymentWebhook tests that deliveries are always acknowledged
func TestPaymentWebhook(t *testing.T) {
	s := newServer(t)
	created := s.createBooking(t, "FULL")
	s.gw.AddPayment(created.OrderID, "pay_9", gateway.PaymentSuccess, 2000, time.Now())

	payload, err := json.Marshal(gatewaytest.WebhookBody{
		Type: "PAYMENT_SUCCESS_WEBHOOK", OrderID: created.OrderID, PaymentID: "pay_9", Status: "SUCCESS",
	})
	require.NoError(t, err)
	signed := map[string]string{gatewaytest.SignatureHeader: "valid"}

	tests := []struct {
		name    string
		path    string
		headers map[string]string
		body    []byte
	}{
		{"unsigned", "/v1/payments/webhook", nil, payload},
		{"malformed", "/v1/payments/webhook", signed, []byte("{")},
		{"valid", "/v1/payments/webhook", signed, payload},
		{"duplicate", "/v1/payments/webhook", signed, payload},
		{"stripe path", "/v1/payments/webhook/stripe", signed, payload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(http.MethodPost, tt.path, nil, tt.body, tt.headers)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, `{"received":true}`, w.Body.String())
		})
	}

	b, err := s.repo.Get(context.Background(), created.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, b.Status)

	payments, err := s.repo.ListPayments(context.Background(), created.Booking.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

// TestPaymentWebhook_UnknownOrderIsParked tests a delivery that arrives
// before its order is attached
func TestPaymentWebhook_UnknownOrderIsParked(t *testing.T) {
	s := newServer(t)
	payload, err := json.Marshal(gatewaytest.WebhookBody{Type: "PAYMENT_SUCCESS_WEBHOOK", OrderID: "order_unknown"})
	require.NoError(t, err)

	w := s.do(http.MethodPost, "/v1/payments/webhook", nil, payload,
		map[string]string{gatewaytest.SignatureHeader: "valid"})

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, s.effects.parked, 1)
	assert.Equal(t, "order_unknown", s.effects.parked[0].OrderID)
}

// TestCancellationAndRefund tests the cancel then resolve flow
func TestCancellationAndRefund(t *testing.T) {
	s := newServer(t)
	created := s.createBooking(t, "FULL")
	s.gw.AddPayment(created.OrderID, "pay_2", gateway.PaymentSuccess, 2000, time.Now())
	confirm := s.do(http.MethodGet, "/v1/payments/return?booking_id="+created.Booking.ID.String(), &s.customer, nil, nil)
	require.Equal(t, http.StatusOK, confirm.Code)

	base := "/v1/bookings/" + created.Booking.ID.String()
	w := s.do(http.MethodPost, base+"/cancel", &s.customer, map[string]string{"reason": "plans changed"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var cancelled struct {
		Booking booking.Booking `json:"booking"`
		Refund  refund.Request  `json:"refund"`
	}
	decode(t, w, &cancelled)
	assert.Equal(t, booking.StatusCancelled, cancelled.Booking.Status)
	assert.Equal(t, refund.StatusPending, cancelled.Refund.Status)
	assert.Equal(t, 2000.0, cancelled.Refund.Amount)

	again := s.do(http.MethodPost, base+"/cancel", &s.customer, nil, nil)
	assert.Equal(t, http.StatusConflict, again.Code, again.Body.String())

	resolvePath := "/v1/refunds/" + cancelled.Refund.ID.String() + "/resolve"
	forbidden := s.do(http.MethodPost, resolvePath, &s.customer, map[string]interface{}{"approve": true}, nil)
	assert.Equal(t, http.StatusForbidden, forbidden.Code)

	missingDecision := s.do(http.MethodPost, resolvePath, &s.admin, map[string]interface{}{}, nil)
	assert.Equal(t, http.StatusBadRequest, missingDecision.Code)

	resolved := s.do(http.MethodPost, resolvePath, &s.admin, map[string]interface{}{"approve": true, "note": "ok"}, nil)
	require.Equal(t, http.StatusOK, resolved.Code, resolved.Body.String())
	decode(t, resolved, &cancelled)
	assert.Equal(t, refund.StatusApproved, cancelled.Refund.Status)
	assert.Equal(t, refund.StatusApproved, cancelled.Booking.RefundStatus)

	list := s.do(http.MethodGet, base+"/refunds", &s.agency, nil, nil)
	require.Equal(t, http.StatusOK, list.Code)
	var refunds struct {
		Refunds []refund.Request `json:"refunds"`
	}
	decode(t, list, &refunds)
	assert.Len(t, refunds.Refunds, 1)
}
