package repository

import (
	"context"
	"time"

	"github.com/Domenick1991/airbooking-payments/internal/domain"
)

// BookingUpdate carries the fields written by a booking status transition.
type BookingUpdate struct {
	Status domain.BookingStatus
	Paid   bool
}

// PaymentUpdate carries the fields written by a payment status transition.
// Empty GatewayTransactionID and FailureReason leave the stored values alone.
type PaymentUpdate struct {
	Status               domain.PaymentStatus
	GatewayTransactionID string
	FailureReason        domain.RejectionReason
	VerifiedAt           time.Time
}

type BookingRepository interface {
	InsertBooking(ctx context.Context, booking *domain.Booking) error
	GetBooking(ctx context.Context, id string) (*domain.Booking, error)
	// UpdateBookingStatus applies upd only while the booking is still in
	// expected status. It reports whether a row was changed.
	UpdateBookingStatus(ctx context.Context, id string, expected domain.BookingStatus, upd BookingUpdate) (bool, error)
}

type PaymentRepository interface {
	InsertPayment(ctx context.Context, payment *domain.Payment) error
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	GetPaymentByTxRef(ctx context.Context, txRef string) (*domain.Payment, error)
	// GetActivePaymentForBooking returns the booking's payment that is not
	// rejected, or domain.ErrNotFound.
	GetActivePaymentForBooking(ctx context.Context, bookingID string) (*domain.Payment, error)
	// UpdatePaymentStatus applies upd only while the payment is still in
	// expected status. It reports whether a row was changed.
	UpdatePaymentStatus(ctx context.Context, id string, expected domain.PaymentStatus, upd PaymentUpdate) (bool, error)
	SetCheckoutURL(ctx context.Context, id, checkoutURL string) error
	ListApprovedWithPendingBooking(ctx context.Context, limit int) ([]domain.Payment, error)
	ListStalePendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]domain.Payment, error)
}

// Store is the data store shared by every pipeline instance. No operation
// spans more than one row.
type Store interface {
	BookingRepository
	PaymentRepository
	Ping(ctx context.Context) error
}
