package domain

import "time"

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusApproved  BookingStatus = "approved"
	BookingStatusRejected  BookingStatus = "rejected"
	BookingStatusCancelled BookingStatus = "cancelled"
)

type Booking struct {
	ID            string
	PassengerName string
	Email         string
	FlightID      int64
	Amount        int64
	Currency      string
	Status        BookingStatus
	Paid          bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (b *Booking) IsPending() bool {
	return b.Status == BookingStatusPending
}

// Settled reports whether the booking was approved and marked paid.
func (b *Booking) Settled() bool {
	return b.Status == BookingStatusApproved && b.Paid
}
