package repository

import (
	"context"
	"time"

	"github.com/Domenick1991/airbooking-payments/internal/domain"
	"github.com/jackc/pgx/v5"
)

const paymentColumns = `id, transaction_ref, booking_id, amount, currency, status, gateway_transaction_id, checkout_url, failure_reason, verified_at, created_at, updated_at`

func (s *PGStore) InsertPayment(ctx context.Context, payment *domain.Payment) error {
	err := s.db.QueryRow(ctx, `INSERT INTO payments (id, transaction_ref, booking_id, amount, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		payment.ID, payment.TransactionRef, payment.BookingID, payment.Amount, payment.Currency, payment.Status).
		Scan(&payment.CreatedAt, &payment.UpdatedAt)
	return pgError(err)
}

func (s *PGStore) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	return s.getPayment(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1`, id)
}

func (s *PGStore) GetPaymentByTxRef(ctx context.Context, txRef string) (*domain.Payment, error) {
	return s.getPayment(ctx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_ref=$1`, txRef)
}

func (s *PGStore) GetActivePaymentForBooking(ctx context.Context, bookingID string) (*domain.Payment, error) {
	return s.getPayment(ctx, `SELECT `+paymentColumns+` FROM payments WHERE booking_id=$1 AND status <> 'rejected'`, bookingID)
}

func (s *PGStore) getPayment(ctx context.Context, query string, arg string) (*domain.Payment, error) {
	p, err := scanPayment(s.db.QueryRow(ctx, query, arg))
	if err != nil {
		return nil, pgError(err)
	}
	return p, nil
}

func (s *PGStore) UpdatePaymentStatus(ctx context.Context, id string, expected domain.PaymentStatus, upd PaymentUpdate) (bool, error) {
	cmd, err := s.db.Exec(ctx, `UPDATE payments
		SET status=$3,
		    gateway_transaction_id=COALESCE(NULLIF($4, ''), gateway_transaction_id),
		    failure_reason=COALESCE(NULLIF($5, ''), failure_reason),
		    verified_at=$6,
		    updated_at=now()
		WHERE id=$1 AND status=$2`,
		id, expected, upd.Status, upd.GatewayTransactionID, string(upd.FailureReason), upd.VerifiedAt)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (s *PGStore) SetCheckoutURL(ctx context.Context, id, checkoutURL string) error {
	cmd, err := s.db.Exec(ctx, `UPDATE payments SET checkout_url=$2, updated_at=now() WHERE id=$1`, id, checkoutURL)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *PGStore) ListApprovedWithPendingBooking(ctx context.Context, limit int) ([]domain.Payment, error) {
	rows, err := s.db.Query(ctx, `SELECT p.id, p.transaction_ref, p.booking_id, p.amount, p.currency, p.status, p.gateway_transaction_id,
			p.checkout_url, p.failure_reason, p.verified_at, p.created_at, p.updated_at
		FROM payments p
		JOIN bookings b ON b.id = p.booking_id
		WHERE p.status = 'approved' AND b.status = 'pending'
		ORDER BY p.updated_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return collectPayments(rows)
}

func (s *PGStore) ListStalePendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]domain.Payment, error) {
	rows, err := s.db.Query(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE status = 'pending' AND created_at <= $1
		ORDER BY created_at
		LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	return collectPayments(rows)
}

func collectPayments(rows pgx.Rows) ([]domain.Payment, error) {
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

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var p domain.Payment
	if err := row.Scan(&p.ID, &p.TransactionRef, &p.BookingID, &p.Amount, &p.Currency, &p.Status, &p.GatewayTransactionID,
		&p.CheckoutURL, &p.FailureReason, &p.VerifiedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
