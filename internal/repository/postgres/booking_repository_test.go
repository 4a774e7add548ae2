package postgres

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripnest/booking-payments/internal/domain/booking"
	apperrors "github.com/tripnest/booking-payments/pkg/errors"
	"github.com/tripnest/booking-payments/pkg/logger"
)

const (
	selectBooking   = `SELECT .+ FROM bookings WHERE id = \$1`
	updateBooking   = `UPDATE bookings SET`
	selectTravelers = `SELECT .+ FROM travelers WHERE booking_id = \$1`
)

var bookingColumnNames = []string{
	"id", "tour_package_id", "agency_id", "customer_id", "start_date", "end_date",
	"number_of_people", "total_price", "platform_fee", "agency_payout_amount", "amount_due_now", "currency",
	"payment_mode", "channel", "status", "payment_status", "gateway_order_id", "payment_session_id",
	"transaction_id", "agency_approval", "partial_amount_paid", "refund_requested", "refund_status",
	"failure_reason", "notes", "version", "created_at", "updated_at",
}

type bookingRow struct {
	id      uuid.UUID
	status  booking.Status
	mode    booking.PaymentMode
	orderID interface{}
	txnID   string
	version int64
}

func (r bookingRow) values() []driver.Value {
	now := time.Now()
	return []driver.Value{
		r.id.String(), uuid.NewString(), uuid.NewString(), uuid.NewString(), now, now.Add(72 * time.Hour),
		int64(2), 2000.0, 60.0, 1940.0, 2000.0, "INR",
		string(r.mode), "CUSTOMER", string(r.status), "PENDING", r.orderID, "session_1",
		r.txnID, false, false, false, nil,
		"", "", r.version, now, now,
	}
}

func newTestRepo(t *testing.T, retries int) (*BookingRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewBookingRepository(db, retries, logger.NewNop()), mock
}

func expectTravelers(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(selectTravelers).WillReturnRows(
		sqlmock.NewRows([]string{"id", "booking_id", "name", "age", "gender", "id_type", "id_number", "id_file_ref"}).
			AddRow(uuid.NewString(), uuid.NewString(), "Asha", int64(31), "F", "PASSPORT", "P123", ""),
	)
}

func successOutcome() booking.Outcome {
	return booking.Outcome{
		Kind:             booking.OutcomeSucceeded,
		PaymentStatus:    booking.PaymentSuccess,
		GatewayOrderID:   "order_1",
		GatewayPaymentID: "cf_pay_1",
		Amount:           2000,
		Currency:         "INR",
	}
}

// TestBookingRepository_ApplyTerminalOutcome_Confirms tests the confirm write and ledger insert
func TestBookingRepository_ApplyTerminalOutcome_Confirms(t *testing.T) {
	repo, mock := newTestRepo(t, 3)
	row := bookingRow{id: uuid.New(), status: booking.StatusPendingPayment, mode: booking.ModeFull, orderID: "order_1", version: 2}

	mock.ExpectBegin()
	mock.ExpectQuery(selectBooking).WillReturnRows(sqlmock.NewRows(bookingColumnNames).AddRow(row.values()...))
	mock.ExpectExec(updateBooking).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO payments`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectTravelers(mock)

	result, err := repo.ApplyTerminalOutcome(context.Background(), row.id, successOutcome())
	require.NoError(t, err)

	assert.Equal(t, booking.TransitionConfirmed, result.Transition)
	assert.Equal(t, booking.StatusConfirmed, result.Booking.Status)
	assert.True(t, result.Booking.AgencyApproval)
	assert.Equal(t, 3, result.Booking.Version)
	require.NotNil(t, result.Payment)
	assert.Equal(t, "cf_pay_1", result.Payment.GatewayPaymentID)
	assert.Len(t, result.Booking.Travelers, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestBookingRepository_ApplyTerminalOutcome_AlreadyConfirmed tests that a repeat is a no-op
func TestBookingRepository_ApplyTerminalOutcome_AlreadyConfirmed(t *testing.T) {
	repo, mock := newTestRepo(t, 3)
	row := bookingRow{id: uuid.New(), status: booking.StatusConfirmed, mode: booking.ModeFull, orderID: "order_1", txnID: "cf_pay_1", version: 3}

	mock.ExpectBegin()
	mock.ExpectQuery(selectBooking).WillReturnRows(sqlmock.NewRows(bookingColumnNames).AddRow(row.values()...))
	mock.ExpectCommit()
	expectTravelers(mock)

	result, err := repo.ApplyTerminalOutcome(context.Background(), row.id, successOutcome())
	require.NoError(t, err)

	assert.Equal(t, booking.TransitionNone, result.Transition)
	assert.Nil(t, result.Payment)
	assert.Equal(t, 3, result.Booking.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestBookingRepository_ApplyTerminalOutcome_DuplicateLedgerRow tests ON CONFLICT DO NOTHING handling
func TestBookingRepository_ApplyTerminalOutcome_DuplicateLedgerRow(t *testing.T) {
	repo, mock := newTestRepo(t, 3)
	row := bookingRow{id: uuid.New(), status: booking.StatusPendingPayment, mode: booking.ModeFull, orderID: "order_1", version: 2}

	mock.ExpectBegin()
	mock.ExpectQuery(selectBooking).WillReturnRows(sqlmock.NewRows(bookingColumnNames).AddRow(row.values()...))
	mock.ExpectExec(updateBooking).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO payments`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	expectTravelers(mock)

	result, err := repo.ApplyTerminalOutcome(context.Background(), row.id, successOutcome())
	require.NoError(t, err)

	assert.Equal(t, booking.TransitionConfirmed, result.Transition)
	assert.Nil(t, result.Payment)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestBookingRepository_VersionConflict tests retry and exhaustion of optimistic writes
func TestBookingRepository_VersionConflict(t *testing.T) {
	t.Run("retries then succeeds", func(t *testing.T) {
		repo, mock := newTestRepo(t, 3)
		stale := bookingRow{id: uuid.New(), status: booking.StatusPendingPayment, mode: booking.ModePartial, orderID: "order_1", version: 2}
		fresh := stale
		fresh.version = 3

		mock.ExpectBegin()
		mock.ExpectQuery(selectBooking).WillReturnRows(sqlmock.NewRows(bookingColumnNames).AddRow(stale.values()...))
		mock.ExpectExec(updateBooking).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()
		mock.ExpectBegin()
		mock.ExpectQuery(selectBooking).WillReturnRows(sqlmock.NewRows(bookingColumnNames).AddRow(fresh.values()...))
		mock.ExpectExec(updateBooking).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO payments`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		expectTravelers(mock)

		result, err := repo.ApplyTerminalOutcome(context.Background(), stale.id, successOutcome())
		require.NoError(t, err)
		assert.Equal(t, 4, result.Booking.Version)
		assert.True(t, result.Booking.PartialAmountPaid)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		repo, mock := newTestRepo(t, 2)
		row := bookingRow{id: uuid.New(), status: booking.StatusPendingPayment, mode: booking.ModeFull, orderID: "order_1", version: 2}

		for i := 0; i < 2; i++ {
			mock.ExpectBegin()
			mock.ExpectQuery(selectBooking).WillReturnRows(sqlmock.NewRows(bookingColumnNames).AddRow(row.values()...))
			mock.ExpectExec(updateBooking).WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectRollback()
		}

		_, err := repo.ApplyTerminalOutcome(context.Background(), row.id, successOutcome())
		assert.ErrorIs(t, err, apperrors.ErrConcurrentModification)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// TestBookingRepository_RequestCancellation tests the cancel write and the one-active-refund guard
func TestBookingRepository_RequestCancellation(t *testing.T) {
	t.Run("creates refund request", func(t *testing.T) {
		repo, mock := newTestRepo(t, 3)
		row := bookingRow{id: uuid.New(), status: booking.StatusConfirmed, mode: booking.ModePartial, orderID: "order_1", version: 3}

		mock.ExpectBegin()
		mock.ExpectQuery(selectBooking).WillReturnRows(sqlmock.NewRows(bookingColumnNames).AddRow(row.values()...))
		mock.ExpectExec(updateBooking).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO refund_requests`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		expectTravelers(mock)

		b, rr, err := repo.RequestCancellation(context.Background(), row.id, booking.CancellationRequest{Reason: "ill", RequestedBy: uuid.New()})
		require.NoError(t, err)
		assert.Equal(t, booking.StatusCancelled, b.Status)
		assert.True(t, b.RefundRequested)
		assert.Equal(t, 60.0, rr.Amount, "partial bookings refund the platform fee")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("concurrent refund insert loses", func(t *testing.T) {
		repo, mock := newTestRepo(t, 3)
		row := bookingRow{id: uuid.New(), status: booking.StatusConfirmed, mode: booking.ModeFull, orderID: "order_1", version: 3}

		mock.ExpectBegin()
		mock.ExpectQuery(selectBooking).WillReturnRows(sqlmock.NewRows(bookingColumnNames).AddRow(row.values()...))
		mock.ExpectExec(updateBooking).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO refund_requests`).
			WillReturnError(&pq.Error{Code: "23505", Constraint: constraintOneActiveRefund})
		mock.ExpectRollback()

		_, _, err := repo.RequestCancellation(context.Background(), row.id, booking.CancellationRequest{Reason: "ill"})
		assert.ErrorIs(t, err, apperrors.ErrDuplicateRequest)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// TestBookingRepository_Get_NotFound tests missing bookings map to NOT_FOUND
func TestBookingRepository_Get_NotFound(t *testing.T) {
	repo, mock := newTestRepo(t, 3)
	mock.ExpectQuery(selectBooking).WillReturnRows(sqlmock.NewRows(bookingColumnNames))

	_, err := repo.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrBookingNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestBookingRepository_ListStalePending tests the sweep query arguments
func TestBookingRepository_ListStalePending(t *testing.T) {
	repo, mock := newTestRepo(t, 3)
	row := bookingRow{id: uuid.New(), status: booking.StatusPendingPayment, mode: booking.ModeFull, orderID: "order_1", version: 2}
	cutoff := time.Now().Add(-15 * time.Minute)

	mock.ExpectQuery(`SELECT .+ FROM bookings\s+WHERE status = ANY\(\$1\) AND gateway_order_id IS NOT NULL`).
		WithArgs(pq.Array([]string{"PENDING", "PENDING_PAYMENT", "PENDING_APPROVAL"}), cutoff, 50).
		WillReturnRows(sqlmock.NewRows(bookingColumnNames).AddRow(row.values()...))

	stale, err := repo.ListStalePending(context.Background(), cutoff, 50)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "order_1", stale[0].GatewayOrderID)
	assert.Empty(t, string(stale[0].RefundStatus))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestCatalog tests package and customer lookups
func TestCatalog(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	c := NewCatalog(db)
	ctx := context.Background()

	pkgID := uuid.New()
	now := time.Now()
	mock.ExpectQuery(`SELECT .+ FROM tour_packages WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "agency_id", "title", "rate_per_person", "start_date", "end_date"}).
			AddRow(pkgID.String(), uuid.NewString(), "Goa", 1000.0, now, now))
	mock.ExpectQuery(`SELECT .+ FROM tour_packages WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT EXISTS`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	p, err := c.GetPackage(ctx, pkgID)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, p.RatePerPerson)

	_, err = c.GetPackage(ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrPackageNotFound)

	ok, err := c.CustomerExists(ctx, uuid.New())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
