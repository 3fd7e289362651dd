package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Domenick1991/airbooking-payments/internal/domain"
	"github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS bookings (
    id             TEXT PRIMARY KEY,
    passenger_name TEXT      NOT NULL,
    email          TEXT      NOT NULL,
    flight_id      INTEGER   NOT NULL,
    amount         INTEGER   NOT NULL CHECK (amount > 0),
    currency       TEXT      NOT NULL,
    status         TEXT      NOT NULL DEFAULT 'pending',
    paid           BOOLEAN   NOT NULL DEFAULT 0,
    created_at     TIMESTAMP NOT NULL,
    updated_at     TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS payments (
    id                     TEXT PRIMARY KEY,
    transaction_ref        TEXT      NOT NULL UNIQUE,
    booking_id             TEXT      NOT NULL REFERENCES bookings (id),
    amount                 INTEGER   NOT NULL CHECK (amount > 0),
    currency               TEXT      NOT NULL,
    status                 TEXT      NOT NULL DEFAULT 'pending',
    gateway_transaction_id TEXT      NOT NULL DEFAULT '',
    checkout_url           TEXT      NOT NULL DEFAULT '',
    failure_reason         TEXT      NOT NULL DEFAULT '',
    verified_at            TIMESTAMP,
    created_at             TIMESTAMP NOT NULL,
    updated_at             TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS payments_active_booking_idx ON payments (booking_id) WHERE status <> 'rejected';
CREATE INDEX IF NOT EXISTS payments_status_created_idx ON payments (status, created_at);
`

// SQLiteStore is the single-node store. Every write is one statement, so the
// conditional updates keep the same guarantees as on Postgres.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (and migrates) the database at path. Use ":memory:" for a
// throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers; one connection keeps :memory: databases alive
	// and avoids SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func sqliteError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) && sqErr.ExtendedCode == sqlite3.ErrConstraintUnique && strings.Contains(sqErr.Error(), "payments.booking_id") {
		return domain.ErrPaymentInProgress
	}
	return err
}

func (s *SQLiteStore) InsertBooking(ctx context.Context, booking *domain.Booking) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO bookings (`+bookingColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		booking.ID, booking.PassengerName, booking.Email, booking.FlightID, booking.Amount, booking.Currency,
		string(booking.Status), booking.Paid, now, now)
	if err != nil {
		return sqliteError(err)
	}
	booking.CreatedAt, booking.UpdatedAt = now, now
	return nil
}

func (s *SQLiteStore) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	b, err := scanBooking(s.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=?`, id))
	if err != nil {
		return nil, sqliteError(err)
	}
	return b, nil
}

func (s *SQLiteStore) UpdateBookingStatus(ctx context.Context, id string, expected domain.BookingStatus, upd BookingUpdate) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE bookings SET status=?, paid=?, updated_at=? WHERE id=? AND status=?`,
		string(upd.Status), upd.Paid, s.now(), id, string(expected))
	return applied(res, err)
}

func (s *SQLiteStore) InsertPayment(ctx context.Context, payment *domain.Payment) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO payments (id, transaction_ref, booking_id, amount, currency, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID, payment.TransactionRef, payment.BookingID, payment.Amount, payment.Currency, string(payment.Status), now, now)
	if err != nil {
		return sqliteError(err)
	}
	payment.CreatedAt, payment.UpdatedAt = now, now
	return nil
}

func (s *SQLiteStore) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	return s.getPayment(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=?`, id)
}

func (s *SQLiteStore) GetPaymentByTxRef(ctx context.Context, txRef string) (*domain.Payment, error) {
	return s.getPayment(ctx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_ref=?`, txRef)
}

func (s *SQLiteStore) GetActivePaymentForBooking(ctx context.Context, bookingID string) (*domain.Payment, error) {
	return s.getPayment(ctx, `SELECT `+paymentColumns+` FROM payments WHERE booking_id=? AND status <> 'rejected'`, bookingID)
}

func (s *SQLiteStore) getPayment(ctx context.Context, query, arg string) (*domain.Payment, error) {
	p, err := scanPayment(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		return nil, sqliteError(err)
	}
	return p, nil
}

func (s *SQLiteStore) UpdatePaymentStatus(ctx context.Context, id string, expected domain.PaymentStatus, upd PaymentUpdate) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE payments
		SET status=?,
		    gateway_transaction_id=COALESCE(NULLIF(?, ''), gateway_transaction_id),
		    failure_reason=COALESCE(NULLIF(?, ''), failure_reason),
		    verified_at=?,
		    updated_at=?
		WHERE id=? AND status=?`,
		string(upd.Status), upd.GatewayTransactionID, string(upd.FailureReason), upd.VerifiedAt.UTC(), s.now(), id, string(expected))
	return applied(res, err)
}

func (s *SQLiteStore) SetCheckoutURL(ctx context.Context, id, checkoutURL string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE payments SET checkout_url=?, updated_at=? WHERE id=?`, checkoutURL, s.now(), id)
	ok, err := applied(res, err)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListApprovedWithPendingBooking(ctx context.Context, limit int) ([]domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT p.id, p.transaction_ref, p.booking_id, p.amount, p.currency, p.status, p.gateway_transaction_id,
			p.checkout_url, p.failure_reason, p.verified_at, p.created_at, p.updated_at
		FROM payments p
		JOIN bookings b ON b.id = p.booking_id
		WHERE p.status = 'approved' AND b.status = 'pending'
		ORDER BY p.updated_at
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return collectSQLPayments(rows)
}

func (s *SQLiteStore) ListStalePendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE status = 'pending' AND created_at <= ?
		ORDER BY created_at
		LIMIT ?`, olderThan.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return collectSQLPayments(rows)
}

func collectSQLPayments(rows *sql.Rows) ([]domain.Payment, error) {
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func applied(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

var _ Store = (*SQLiteStore)(nil)
