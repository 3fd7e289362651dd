package kafka

import (
	"context"
	"time"

	"github.com/Domenick1991/airbooking-payments/internal/domain"
)

const (
	EventBookingCreated             = "booking.created"
	EventBookingPaid                = "booking.paid"
	EventBookingCancelled           = "booking.cancelled"
	EventBookingRejected            = "booking.rejected"
	EventBookingRepaired            = "booking.repaired"
	EventPaymentInitiated           = "payment.initiated"
	EventPaymentApproved            = "payment.approved"
	EventPaymentRejected            = "payment.rejected"
	EventPaymentIntegrityMismatch   = "payment.integrity_mismatch"
	EventPaymentConflictingEvidence = "payment.conflicting_evidence"
	EventReconciliationConflict     = "reconciliation.conflict"
)

// notifiable events are mirrored to the notifications topic for the traveler.
var notifiable = map[string]bool{
	EventBookingCreated:   true,
	EventBookingPaid:      true,
	EventBookingCancelled: true,
	EventBookingRejected:  true,
	EventPaymentRejected:  true,
}

type PaymentEvent struct {
	Type           string    `json:"type"`
	BookingID      string    `json:"booking_id"`
	PaymentID      string    `json:"payment_id,omitempty"`
	TransactionRef string    `json:"tx_ref,omitempty"`
	Email          string    `json:"email,omitempty"`
	Amount         int64     `json:"amount,omitempty"`
	Currency       string    `json:"currency,omitempty"`
	BookingStatus  string    `json:"booking_status,omitempty"`
	PaymentStatus  string    `json:"payment_status,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Source         string    `json:"source,omitempty"`
	Actor          string    `json:"actor,omitempty"`
	CheckoutURL    string    `json:"checkout_url,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// BookingEvent describes a booking-level change.
func BookingEvent(eventType string, b *domain.Booking) PaymentEvent {
	return PaymentEvent{
		Type:          eventType,
		BookingID:     b.ID,
		Email:         b.Email,
		Amount:        b.Amount,
		Currency:      b.Currency,
		BookingStatus: string(b.Status),
		OccurredAt:    time.Now().UTC(),
	}
}

// ChargeEvent describes a payment-level change.
func ChargeEvent(eventType string, p *domain.Payment) PaymentEvent {
	return PaymentEvent{
		Type:           eventType,
		BookingID:      p.BookingID,
		PaymentID:      p.ID,
		TransactionRef: p.TransactionRef,
		Amount:         p.Amount,
		Currency:       p.Currency,
		PaymentStatus:  string(p.Status),
		Reason:         string(p.FailureReason),
		CheckoutURL:    p.CheckoutURL,
		OccurredAt:     time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload interface{}) error
}

// EventBus sends payment events keyed by booking id, so all events of one
// booking land on the same partition in order.
type EventBus struct {
	producer           Publisher
	eventsTopic        string
	notificationsTopic string
}

func NewEventBus(producer Publisher, eventsTopic, notificationsTopic string) *EventBus {
	return &EventBus{producer: producer, eventsTopic: eventsTopic, notificationsTopic: notificationsTopic}
}

func (b *EventBus) Emit(ctx context.Context, ev PaymentEvent) error {
	if b == nil || b.producer == nil || b.eventsTopic == "" {
		return nil
	}
	if err := b.producer.Publish(ctx, b.eventsTopic, ev.BookingID, ev); err != nil {
		return err
	}
	if b.notificationsTopic != "" && notifiable[ev.Type] {
		return b.producer.Publish(ctx, b.notificationsTopic, ev.BookingID, ev)
	}
	return nil
}
