package email

import (
	"context"
	"fmt"

	"github.com/Domenick1991/airbooking-payments/internal/domain"
	"github.com/Domenick1991/airbooking-payments/internal/kafka"
	"github.com/sirupsen/logrus"
)

// Sender turns traveler-facing events into messages. Delivery is a log line;
// wiring a mail provider only means replacing deliver.
type Sender struct {
	log logrus.FieldLogger
}

func NewSender(log logrus.FieldLogger) *Sender {
	return &Sender{log: log}
}

func (s *Sender) Send(ctx context.Context, event kafka.PaymentEvent) error {
	if event.Email == "" {
		s.log.WithFields(logrus.Fields{"type": event.Type, "booking_id": event.BookingID}).Debug("event has no recipient")
		return nil
	}
	subject, body, ok := Compose(event)
	if !ok {
		return nil
	}
	s.deliver(event.Email, subject, body)
	return nil
}

// Compose renders the message for an event. ok is false for events the
// traveler is not told about.
func Compose(event kafka.PaymentEvent) (subject, body string, ok bool) {
	amount := domain.FormatAmount(event.Amount) + " " + event.Currency
	switch event.Type {
	case kafka.EventBookingCreated:
		return "Booking received", fmt.Sprintf("Your booking %s for %s is waiting for payment.", event.BookingID, amount), true
	case kafka.EventBookingPaid:
		return "Booking confirmed", fmt.Sprintf("Payment of %s received. Booking %s is confirmed.", amount, event.BookingID), true
	case kafka.EventBookingCancelled:
		return "Booking cancelled", fmt.Sprintf("Booking %s was cancelled.", event.BookingID), true
	case kafka.EventBookingRejected:
		return "Booking rejected", fmt.Sprintf("Booking %s was rejected. Contact support if you were charged.", event.BookingID), true
	case kafka.EventPaymentRejected:
		return "Payment not completed", fmt.Sprintf("Payment %s for booking %s did not go through. You can try again.", event.TransactionRef, event.BookingID), true
	}
	return "", "", false
}

func (s *Sender) deliver(to, subject, body string) {
	s.log.WithFields(logrus.Fields{"to": to, "subject": subject}).Info(body)
}
