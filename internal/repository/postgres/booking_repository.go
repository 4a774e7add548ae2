package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tripnest/booking-payments/internal/domain/booking"
	"github.com/tripnest/booking-payments/internal/domain/payment"
	"github.com/tripnest/booking-payments/internal/domain/refund"
	"github.com/tripnest/booking-payments/pkg/database"
	apperrors "github.com/tripnest/booking-payments/pkg/errors"
	"github.com/tripnest/booking-payments/pkg/logger"
)

//go:embed schema.sql
var schema string

// Migrate creates the tables and indexes if they do not exist
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const (
	constraintOneActiveRefund = "refund_requests_one_active"
	constraintOrderID         = "bookings_gateway_order_id_key"
)

const bookingColumns = `id, tour_package_id, agency_id, customer_id, start_date, end_date,
	number_of_people, total_price, platform_fee, agency_payout_amount, amount_due_now, currency,
	payment_mode, channel, status, payment_status, gateway_order_id, payment_session_id,
	transaction_id, agency_approval, partial_amount_paid, refund_requested, refund_status,
	failure_reason, notes, version, created_at, updated_at`

const refundColumns = `id, booking_id, amount, reason, status, requested_by, resolved_by,
	resolution_note, created_at, updated_at`

var errVersionConflict = errors.New("booking version changed")

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// BookingRepository implements booking.Repository on PostgreSQL. Writes to
// one booking are serialized by its version column.
type BookingRepository struct {
	db         *sql.DB
	maxRetries int
	logger     *logger.Logger
	now        func() time.Time
}

// NewBookingRepository creates a repository. maxRetries bounds optimistic
// version retries before ConcurrentModification is returned.
func NewBookingRepository(db *sql.DB, maxRetries int, log *logger.Logger) *BookingRepository {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &BookingRepository{db: db, maxRetries: maxRetries, logger: log, now: time.Now}
}

func (r *BookingRepository) CreateDraft(ctx context.Context, b *booking.Booking) error {
	now := r.now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	b.Version = 1

	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO bookings (`+bookingColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
				$19, $20, $21, $22, $23, $24, $25, $26, $27, $28)`,
			b.ID, b.TourPackageID, b.AgencyID, b.CustomerID, b.StartDate, b.EndDate,
			b.NumberOfPeople, b.TotalPrice, b.PlatformFee, b.AgencyPayoutAmount, b.AmountDueNow, b.Currency,
			b.PaymentMode, b.Channel, b.Status, b.PaymentStatus, nullString(b.GatewayOrderID), b.PaymentSessionID,
			b.TransactionID, b.AgencyApproval, b.PartialAmountPaid, b.RefundRequested, nullString(string(b.RefundStatus)),
			b.FailureReason, b.Notes, b.Version, b.CreatedAt, b.UpdatedAt,
		)
		if err != nil {
			if database.IsUniqueViolation(err, "") {
				return apperrors.DuplicateRequest("booking already exists", err)
			}
			return fmt.Errorf("failed to insert booking: %w", err)
		}

		for i := range b.Travelers {
			t := &b.Travelers[i]
			if t.ID == uuid.Nil {
				t.ID = uuid.New()
			}
			t.BookingID = b.ID
			_, err := tx.ExecContext(ctx, `INSERT INTO travelers
				(id, booking_id, name, age, gender, id_type, id_number, id_file_ref)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				t.ID, t.BookingID, t.Name, t.Age, t.Gender, t.IDType, t.IDNumber, t.IDFileRef,
			)
			if err != nil {
				return fmt.Errorf("failed to insert traveler: %w", err)
			}
		}
		return nil
	})
}

func (r *BookingRepository) AttachOrder(ctx context.Context, bookingID uuid.UUID, orderID, sessionID string) (*booking.Booking, error) {
	now := r.now()
	b, err := r.mutate(ctx, bookingID, func(next *booking.Booking) (bool, error) {
		return true, next.AttachOrder(orderID, sessionID, now)
	}, nil)
	if database.IsUniqueViolation(err, constraintOrderID) {
		return nil, apperrors.DuplicateRequest("order id is already attached to another booking", err)
	}
	return b, err
}

func (r *BookingRepository) ApplyTerminalOutcome(ctx context.Context, bookingID uuid.UUID, outcome booking.Outcome) (*booking.Result, error) {
	now := r.now()
	var (
		transition booking.Transition
		row        *payment.Payment
	)

	b, err := r.mutate(ctx, bookingID,
		func(next *booking.Booking) (bool, error) {
			var err error
			transition, row, err = next.ApplyOutcome(outcome, now)
			return transition.Changed(), err
		},
		func(tx *sql.Tx) error {
			if row == nil {
				return nil
			}
			inserted, err := insertPayment(ctx, tx, row)
			if err != nil {
				return err
			}
			if !inserted {
				row = nil
			}
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	return &booking.Result{Booking: b, Transition: transition, Payment: row}, nil
}

func (r *BookingRepository) RequestCancellation(ctx context.Context, bookingID uuid.UUID, req booking.CancellationRequest) (*booking.Booking, *refund.Request, error) {
	now := r.now()
	var rr *refund.Request

	b, err := r.mutate(ctx, bookingID,
		func(next *booking.Booking) (bool, error) {
			var err error
			rr, err = next.RequestCancellation(req, now)
			return true, err
		},
		func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `INSERT INTO refund_requests (`+refundColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				rr.ID, rr.BookingID, rr.Amount, rr.Reason, rr.Status, rr.RequestedBy, nil,
				rr.ResolutionNote, rr.CreatedAt, rr.UpdatedAt,
			)
			if database.IsUniqueViolation(err, constraintOneActiveRefund) {
				return apperrors.DuplicateRequest("a refund has already been requested for this booking", err)
			}
			return err
		},
	)
	if err != nil {
		return nil, nil, err
	}
	return b, rr, nil
}

func (r *BookingRepository) ResolveRefund(ctx context.Context, refundID uuid.UUID, approve bool, resolvedBy uuid.UUID, note string) (*booking.Booking, *refund.Request, error) {
	current, err := r.GetRefundRequest(ctx, refundID)
	if err != nil {
		return nil, nil, err
	}

	now := r.now()
	var rr refund.Request

	b, err := r.mutate(ctx, current.BookingID,
		func(next *booking.Booking) (bool, error) {
			rr = *current
			if err := rr.Resolve(approve, resolvedBy, note, now); err != nil {
				return false, err
			}
			next.MirrorRefund(&rr, now)
			return true, nil
		},
		func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx, `UPDATE refund_requests
				SET status = $1, resolved_by = $2, resolution_note = $3, updated_at = $4
				WHERE id = $5 AND status = $6`,
				rr.Status, rr.ResolvedBy, rr.ResolutionNote, rr.UpdatedAt, rr.ID, refund.StatusPending,
			)
			if err != nil {
				return fmt.Errorf("failed to update refund request: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return apperrors.InvalidState("refund request was already resolved", nil)
			}
			return nil
		},
	)
	if err != nil {
		return nil, nil, err
	}
	return b, &rr, nil
}

func (r *BookingRepository) Get(ctx context.Context, id uuid.UUID) (*booking.Booking, error) {
	b, err := r.getBooking(ctx, r.db, `WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if b.Travelers, err = r.listTravelers(ctx, b.ID); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *BookingRepository) GetByOrderID(ctx context.Context, orderID string) (*booking.Booking, error) {
	b, err := r.getBooking(ctx, r.db, `WHERE gateway_order_id = $1`, orderID)
	if err != nil {
		return nil, err
	}
	if b.Travelers, err = r.listTravelers(ctx, b.ID); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *BookingRepository) GetRefundRequest(ctx context.Context, id uuid.UUID) (*refund.Request, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+refundColumns+` FROM refund_requests WHERE id = $1`, id)
	rr, err := scanRefund(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrRefundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refund request: %w", err)
	}
	return rr, nil
}

func (r *BookingRepository) ListPayments(ctx context.Context, bookingID uuid.UUID) ([]*payment.Payment, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, booking_id, gateway_order_id, gateway_payment_id,
			amount, currency, status, payment_type, message, created_at
		FROM payments WHERE booking_id = $1 ORDER BY created_at ASC`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var out []*payment.Payment
	for rows.Next() {
		var p payment.Payment
		if err := rows.Scan(&p.ID, &p.BookingID, &p.GatewayOrderID, &p.GatewayPaymentID,
			&p.Amount, &p.Currency, &p.Status, &p.PaymentType, &p.Message, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (r *BookingRepository) ListRefundRequests(ctx context.Context, bookingID uuid.UUID) ([]*refund.Request, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+refundColumns+`
		FROM refund_requests WHERE booking_id = $1 ORDER BY created_at ASC`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list refund requests: %w", err)
	}
	defer rows.Close()

	var out []*refund.Request
	for rows.Next() {
		rr, err := scanRefund(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan refund request: %w", err)
		}
		out = append(out, rr)
	}
	return out, rows.Err()
}

func (r *BookingRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*booking.Booking, error) {
	pending := []string{
		string(booking.StatusPending),
		string(booking.StatusPendingPayment),
		string(booking.StatusPendingApproval),
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE status = ANY($1) AND gateway_order_id IS NOT NULL AND updated_at < $2
		ORDER BY updated_at ASC LIMIT $3`,
		pq.Array(pending), olderThan, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale bookings: %w", err)
	}
	defer rows.Close()

	var out []*booking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// mutate loads a booking, applies change to a copy and writes it back if the
// version is unchanged, retrying up to maxRetries times. after runs in the
// same transaction once the booking row is written.
func (r *BookingRepository) mutate(ctx context.Context, id uuid.UUID, change func(*booking.Booking) (bool, error), after func(*sql.Tx) error) (*booking.Booking, error) {
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		var result *booking.Booking

		err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
			current, err := r.getBooking(ctx, tx, `WHERE id = $1`, id)
			if err != nil {
				return err
			}
			next := current.Clone()
			changed, err := change(next)
			if err != nil {
				return err
			}
			if !changed {
				result = current
				return nil
			}

			res, err := tx.ExecContext(ctx, `UPDATE bookings SET
					status = $1, payment_status = $2, gateway_order_id = $3, payment_session_id = $4,
					transaction_id = $5, agency_approval = $6, partial_amount_paid = $7,
					refund_requested = $8, refund_status = $9, failure_reason = $10,
					version = version + 1, updated_at = $11
				WHERE id = $12 AND version = $13`,
				next.Status, next.PaymentStatus, nullString(next.GatewayOrderID), next.PaymentSessionID,
				next.TransactionID, next.AgencyApproval, next.PartialAmountPaid,
				next.RefundRequested, nullString(string(next.RefundStatus)), next.FailureReason,
				next.UpdatedAt, next.ID, current.Version,
			)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err != nil {
				return err
			} else if n == 0 {
				return errVersionConflict
			}
			next.Version = current.Version + 1

			if after != nil {
				if err := after(tx); err != nil {
					return err
				}
			}
			result = next
			return nil
		})

		if errors.Is(err, errVersionConflict) {
			r.logger.Debug("Booking version conflict, retrying",
				logger.String("booking_id", id.String()),
				logger.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return nil, err
		}

		if result.Travelers, err = r.listTravelers(ctx, id); err != nil {
			return nil, err
		}
		return result, nil
	}

	return nil, apperrors.ConcurrentModification(
		fmt.Sprintf("booking %s changed %d times while updating", id, r.maxRetries), errVersionConflict)
}

func (r *BookingRepository) getBooking(ctx context.Context, q querier, where string, arg interface{}) (*booking.Booking, error) {
	row := q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings `+where, arg)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

func (r *BookingRepository) listTravelers(ctx context.Context, bookingID uuid.UUID) ([]booking.Traveler, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, booking_id, name, age, gender, id_type, id_number, id_file_ref
		FROM travelers WHERE booking_id = $1 ORDER BY name`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list travelers: %w", err)
	}
	defer rows.Close()

	var out []booking.Traveler
	for rows.Next() {
		var t booking.Traveler
		if err := rows.Scan(&t.ID, &t.BookingID, &t.Name, &t.Age, &t.Gender, &t.IDType, &t.IDNumber, &t.IDFileRef); err != nil {
			return nil, fmt.Errorf("failed to scan traveler: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func insertPayment(ctx context.Context, tx *sql.Tx, p *payment.Payment) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO payments
			(id, booking_id, gateway_order_id, gateway_payment_id, amount, currency, status, payment_type, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT ON CONSTRAINT payments_booking_payment_status_key DO NOTHING`,
		p.ID, p.BookingID, p.GatewayOrderID, p.GatewayPaymentID, p.Amount, p.Currency,
		p.Status, p.PaymentType, p.Message, p.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanBooking(s scanner) (*booking.Booking, error) {
	var (
		b            booking.Booking
		orderID      sql.NullString
		refundStatus sql.NullString
	)
	err := s.Scan(
		&b.ID, &b.TourPackageID, &b.AgencyID, &b.CustomerID, &b.StartDate, &b.EndDate,
		&b.NumberOfPeople, &b.TotalPrice, &b.PlatformFee, &b.AgencyPayoutAmount, &b.AmountDueNow, &b.Currency,
		&b.PaymentMode, &b.Channel, &b.Status, &b.PaymentStatus, &orderID, &b.PaymentSessionID,
		&b.TransactionID, &b.AgencyApproval, &b.PartialAmountPaid, &b.RefundRequested, &refundStatus,
		&b.FailureReason, &b.Notes, &b.Version, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.GatewayOrderID = orderID.String
	b.RefundStatus = refund.Status(refundStatus.String)
	return &b, nil
}

func scanRefund(s scanner) (*refund.Request, error) {
	var (
		rr         refund.Request
		resolvedBy uuid.NullUUID
	)
	err := s.Scan(&rr.ID, &rr.BookingID, &rr.Amount, &rr.Reason, &rr.Status, &rr.RequestedBy,
		&resolvedBy, &rr.ResolutionNote, &rr.CreatedAt, &rr.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if resolvedBy.Valid {
		id := resolvedBy.UUID
		rr.ResolvedBy = &id
	}
	return &rr, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ booking.Repository = (*BookingRepository)(nil)
