package email

import (
	"context"
	"testing"

	"github.com/Domenick1991/airbooking-payments/internal/kafka"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSender_SendsTravelerEvents(t *testing.T) {
	log, hook := test.NewNullLogger()
	s := NewSender(log)

	err := s.Send(context.Background(), kafka.PaymentEvent{
		Type: kafka.EventBookingPaid, BookingID: "b1", Email: "a@example.com", Amount: 20000, Currency: "USD",
	})
	require.NoError(t, err)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "a@example.com", entry.Data["to"])
	assert.Equal(t, "Booking confirmed", entry.Data["subject"])
	assert.Contains(t, entry.Message, "200.00 USD")
}

func TestSender_SkipsInternalEvents(t *testing.T) {
	log, hook := test.NewNullLogger()
	s := NewSender(log)

	require.NoError(t, s.Send(context.Background(), kafka.PaymentEvent{Type: kafka.EventReconciliationConflict, Email: "a@example.com"}))
	require.NoError(t, s.Send(context.Background(), kafka.PaymentEvent{Type: kafka.EventBookingPaid}))
	assert.Empty(t, hook.AllEntries())
}
