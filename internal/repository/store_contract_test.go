package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Domenick1991/airbooking-payments/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func seedBooking(t *testing.T, s Store, id string) *domain.Booking {
	t.Helper()
	b := &domain.Booking{
		ID:            id,
		PassengerName: "Abebe Kebede",
		Email:         "abebe@example.com",
		FlightID:      7,
		Amount:        20000,
		Currency:      "ETB",
		Status:        domain.BookingStatusPending,
	}
	require.NoError(t, s.InsertBooking(context.Background(), b))
	return b
}

func seedPayment(t *testing.T, s Store, id, bookingID, txRef string) *domain.Payment {
	t.Helper()
	p := &domain.Payment{
		ID:             id,
		TransactionRef: txRef,
		BookingID:      bookingID,
		Amount:         20000,
		Currency:       "ETB",
		Status:         domain.PaymentStatusPending,
	}
	require.NoError(t, s.InsertPayment(context.Background(), p))
	return p
}

func TestStore_BookingRoundTrip(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedBooking(t, s, "b1")

			got, err := s.GetBooking(ctx, "b1")
			require.NoError(t, err)
			assert.Equal(t, "Abebe Kebede", got.PassengerName)
			assert.Equal(t, int64(20000), got.Amount)
			assert.Equal(t, domain.BookingStatusPending, got.Status)
			assert.False(t, got.Paid)
			assert.False(t, got.CreatedAt.IsZero())

			_, err = s.GetBooking(ctx, "missing")
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestStore_UpdateBookingStatusIsConditional(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedBooking(t, s, "b1")

			ok, err := s.UpdateBookingStatus(ctx, "b1", domain.BookingStatusPending,
				BookingUpdate{Status: domain.BookingStatusApproved, Paid: true})
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.UpdateBookingStatus(ctx, "b1", domain.BookingStatusPending,
				BookingUpdate{Status: domain.BookingStatusRejected})
			require.NoError(t, err)
			assert.False(t, ok)

			got, err := s.GetBooking(ctx, "b1")
			require.NoError(t, err)
			assert.Equal(t, domain.BookingStatusApproved, got.Status)
			assert.True(t, got.Paid)

			ok, err = s.UpdateBookingStatus(ctx, "missing", domain.BookingStatusPending,
				BookingUpdate{Status: domain.BookingStatusRejected})
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStore_PaymentLookups(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedBooking(t, s, "b1")
			seedPayment(t, s, "p1", "b1", "tx-1")

			byID, err := s.GetPayment(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, "tx-1", byID.TransactionRef)
			assert.Nil(t, byID.VerifiedAt)

			byRef, err := s.GetPaymentByTxRef(ctx, "tx-1")
			require.NoError(t, err)
			assert.Equal(t, "p1", byRef.ID)

			active, err := s.GetActivePaymentForBooking(ctx, "b1")
			require.NoError(t, err)
			assert.Equal(t, "p1", active.ID)

			_, err = s.GetPaymentByTxRef(ctx, "tx-unknown")
			assert.ErrorIs(t, err, domain.ErrNotFound)
			_, err = s.GetActivePaymentForBooking(ctx, "b-unknown")
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestStore_OneActivePaymentPerBooking(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedBooking(t, s, "b1")
			seedPayment(t, s, "p1", "b1", "tx-1")

			err := s.InsertPayment(ctx, &domain.Payment{
				ID: "p2", TransactionRef: "tx-2", BookingID: "b1", Amount: 20000, Currency: "ETB",
				Status: domain.PaymentStatusPending,
			})
			assert.ErrorIs(t, err, domain.ErrPaymentInProgress)

			ok, err := s.UpdatePaymentStatus(ctx, "p1", domain.PaymentStatusPending, PaymentUpdate{
				Status:        domain.PaymentStatusRejected,
				FailureReason: domain.ReasonGatewayFailed,
				VerifiedAt:    time.Now(),
			})
			require.NoError(t, err)
			require.True(t, ok)

			seedPayment(t, s, "p2", "b1", "tx-2")
		})
	}
}

func TestStore_UpdatePaymentStatusIsConditional(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedBooking(t, s, "b1")
			seedPayment(t, s, "p1", "b1", "tx-1")

			ok, err := s.UpdatePaymentStatus(ctx, "p1", domain.PaymentStatusPending, PaymentUpdate{
				Status:               domain.PaymentStatusApproved,
				GatewayTransactionID: "gw-9",
				VerifiedAt:           time.Now(),
			})
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.UpdatePaymentStatus(ctx, "p1", domain.PaymentStatusPending, PaymentUpdate{
				Status:        domain.PaymentStatusRejected,
				FailureReason: domain.ReasonGatewayFailed,
				VerifiedAt:    time.Now(),
			})
			require.NoError(t, err)
			assert.False(t, ok)

			got, err := s.GetPayment(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, domain.PaymentStatusApproved, got.Status)
			assert.Equal(t, "gw-9", got.GatewayTransactionID)
			assert.Empty(t, got.FailureReason)
			require.NotNil(t, got.VerifiedAt)
		})
	}
}

func TestStore_ConcurrentTransitionsHaveOneWinner(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedBooking(t, s, "b1")
			seedPayment(t, s, "p1", "b1", "tx-1")

			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					status := domain.PaymentStatusApproved
					if i%2 == 1 {
						status = domain.PaymentStatusRejected
					}
					ok, err := s.UpdatePaymentStatus(ctx, "p1", domain.PaymentStatusPending, PaymentUpdate{
						Status:     status,
						VerifiedAt: time.Now(),
					})
					assert.NoError(t, err)
					if ok {
						wins.Add(1)
					}
				}(i)
			}
			wg.Wait()

			assert.Equal(t, int32(1), wins.Load())
		})
	}
}

func TestStore_SetCheckoutURL(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedBooking(t, s, "b1")
			seedPayment(t, s, "p1", "b1", "tx-1")

			require.NoError(t, s.SetCheckoutURL(ctx, "p1", "https://checkout.example/tx-1"))
			got, err := s.GetPayment(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, "https://checkout.example/tx-1", got.CheckoutURL)

			assert.ErrorIs(t, s.SetCheckoutURL(ctx, "missing", "x"), domain.ErrNotFound)
		})
	}
}

func TestStore_SweepQueries(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedBooking(t, s, "b1")
			seedBooking(t, s, "b2")
			seedBooking(t, s, "b3")
			seedPayment(t, s, "p1", "b1", "tx-1")
			seedPayment(t, s, "p2", "b2", "tx-2")
			seedPayment(t, s, "p3", "b3", "tx-3")

			// p1: approved, booking left pending
			ok, err := s.UpdatePaymentStatus(ctx, "p1", domain.PaymentStatusPending,
				PaymentUpdate{Status: domain.PaymentStatusApproved, VerifiedAt: time.Now()})
			require.NoError(t, err)
			require.True(t, ok)

			// p2: approved and booking settled
			ok, err = s.UpdatePaymentStatus(ctx, "p2", domain.PaymentStatusPending,
				PaymentUpdate{Status: domain.PaymentStatusApproved, VerifiedAt: time.Now()})
			require.NoError(t, err)
			require.True(t, ok)
			ok, err = s.UpdateBookingStatus(ctx, "b2", domain.BookingStatusPending,
				BookingUpdate{Status: domain.BookingStatusApproved, Paid: true})
			require.NoError(t, err)
			require.True(t, ok)

			orphans, err := s.ListApprovedWithPendingBooking(ctx, 10)
			require.NoError(t, err)
			require.Len(t, orphans, 1)
			assert.Equal(t, "p1", orphans[0].ID)

			stale, err := s.ListStalePendingPayments(ctx, time.Now().Add(time.Minute), 10)
			require.NoError(t, err)
			require.Len(t, stale, 1)
			assert.Equal(t, "p3", stale[0].ID)

			fresh, err := s.ListStalePendingPayments(ctx, time.Now().Add(-time.Hour), 10)
			require.NoError(t, err)
			assert.Empty(t, fresh)
		})
	}
}
