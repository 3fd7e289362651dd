package repository

import (
	"context"

	"github.com/Domenick1991/airbooking-payments/internal/domain"
)

const bookingColumns = `id, passenger_name, email, flight_id, amount, currency, status, paid, created_at, updated_at`

func (s *PGStore) InsertBooking(ctx context.Context, booking *domain.Booking) error {
	err := s.db.QueryRow(ctx, `INSERT INTO bookings (id, passenger_name, email, flight_id, amount, currency, status, paid)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		booking.ID, booking.PassengerName, booking.Email, booking.FlightID, booking.Amount, booking.Currency, booking.Status, booking.Paid).
		Scan(&booking.CreatedAt, &booking.UpdatedAt)
	return pgError(err)
}

func (s *PGStore) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	row := s.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id)
	b, err := scanBooking(row)
	if err != nil {
		return nil, pgError(err)
	}
	return b, nil
}

func (s *PGStore) UpdateBookingStatus(ctx context.Context, id string, expected domain.BookingStatus, upd BookingUpdate) (bool, error) {
	cmd, err := s.db.Exec(ctx, `UPDATE bookings SET status=$3, paid=$4, updated_at=now() WHERE id=$1 AND status=$2`,
		id, expected, upd.Status, upd.Paid)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func scanBooking(row rowScanner) (*domain.Booking, error) {
	var b domain.Booking
	if err := row.Scan(&b.ID, &b.PassengerName, &b.Email, &b.FlightID, &b.Amount, &b.Currency, &b.Status, &b.Paid, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}
