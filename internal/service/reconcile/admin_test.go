package reconcile

import (
	"context"
	"testing"

	"github.com/Domenick1991/airbooking-payments/internal/domain"
	"github.com/Domenick1991/airbooking-payments/internal/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApprove_SkipsAmountCheck(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	res, err := f.engine.Approve(context.Background(), "P1", "ops-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusApproved, res.PaymentStatus)
	assert.Equal(t, domain.BookingStatusApproved, res.BookingStatus)
	assert.True(t, res.Paid)

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	require.NotEmpty(t, f.events.events)
	assert.Equal(t, "ops-1", f.events.events[0].Actor)
	assert.Equal(t, string(domain.SourceAdmin), f.events.events[0].Source)
}

func TestApprove_TwiceIsNoop(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	_, err := f.engine.Approve(ctx, "P1", "ops-1")
	require.NoError(t, err)
	res, err := f.engine.Approve(ctx, "P1", "ops-2")
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, domain.PaymentStatusApproved, res.PaymentStatus)
	assert.Equal(t, 1, f.events.count(kafka.EventBookingPaid))
}

func TestReject_TwiceIsNoop(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	_, err := f.engine.Reject(ctx, "P1", "ops-1")
	require.NoError(t, err)
	res, err := f.engine.Reject(ctx, "P1", "ops-1")
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, domain.PaymentStatusRejected, res.PaymentStatus)

	_, p := f.state(t)
	assert.Equal(t, domain.ReasonAdminRejected, p.FailureReason)
}

func TestAdmin_ReversalIsConflict(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	_, err := f.engine.Approve(ctx, "P1", "ops-1")
	require.NoError(t, err)

	res, err := f.engine.Reject(ctx, "P1", "ops-2")
	assert.ErrorIs(t, err, domain.ErrReconciliationConflict)
	assert.Equal(t, domain.PaymentStatusApproved, res.PaymentStatus)

	b, p := f.state(t)
	assert.Equal(t, domain.PaymentStatusApproved, p.Status)
	assert.Equal(t, domain.BookingStatusApproved, b.Status)
	assert.Equal(t, 1, f.events.count(kafka.EventReconciliationConflict))
}

func TestAdmin_ApproveRejectedIsConflict(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	_, err := f.engine.Reject(ctx, "P1", "ops-1")
	require.NoError(t, err)

	_, err = f.engine.Approve(ctx, "P1", "ops-1")
	assert.ErrorIs(t, err, domain.ErrReconciliationConflict)

	_, p := f.state(t)
	assert.Equal(t, domain.PaymentStatusRejected, p.Status)
}

// Admin decisions win over later gateway evidence: the callback is a no-op.
func TestAdmin_AuthorityOverGateway(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	_, err := f.engine.Reject(ctx, "P1", "ops-1")
	require.NoError(t, err)

	res, err := f.engine.Reconcile(ctx, "TX1", success(20000, "USD"))
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, domain.PaymentStatusRejected, res.PaymentStatus)
	assert.Equal(t, domain.BookingStatusPending, res.BookingStatus)

	b, p := f.state(t)
	assert.Equal(t, domain.PaymentStatusRejected, p.Status)
	assert.Equal(t, domain.BookingStatusPending, b.Status)
	assert.False(t, b.Paid)
	assert.Equal(t, 1, f.events.count(kafka.EventPaymentConflictingEvidence))
}

func TestAdmin_UnknownPayment(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Approve(context.Background(), "nope", "ops-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancelBooking_RejectsInFlightPayment(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	b, err := f.engine.CancelBooking(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCancelled, b.Status)

	_, p := f.state(t)
	assert.Equal(t, domain.PaymentStatusRejected, p.Status)
	assert.Equal(t, domain.ReasonBookingCancelled, p.FailureReason)
	assert.Equal(t, 1, f.events.count(kafka.EventBookingCancelled))

	// the gateway reporting success afterwards changes nothing
	_, err = f.engine.Reconcile(ctx, "TX1", success(20000, "USD"))
	require.NoError(t, err)
	b, _ = f.state(t)
	assert.Equal(t, domain.BookingStatusCancelled, b.Status)

	_, err = f.engine.CancelBooking(ctx, "B1")
	assert.ErrorIs(t, err, domain.ErrBookingNotPending)
}

func TestCancelBooking_RefusedOncePaid(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	_, err := f.engine.Reconcile(ctx, "TX1", success(20000, "USD"))
	require.NoError(t, err)

	b, err := f.engine.CancelBooking(ctx, "B1")
	assert.ErrorIs(t, err, domain.ErrBookingNotPending)
	assert.Equal(t, domain.BookingStatusApproved, b.Status)
}

func TestRejectBooking(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	b, err := f.engine.RejectBooking(context.Background(), "B1", "ops-1")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusRejected, b.Status)

	_, p := f.state(t)
	assert.Equal(t, domain.ReasonAdminRejected, p.FailureReason)
	assert.Equal(t, 1, f.events.count(kafka.EventBookingRejected))
}

func TestRejectInitialization(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	res, err := f.engine.RejectInitialization(ctx, "TX1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRejected, res.PaymentStatus)
	assert.Equal(t, domain.BookingStatusPending, res.BookingStatus)

	_, p := f.state(t)
	assert.Equal(t, domain.ReasonGatewayRejectedRequest, p.FailureReason)

	// a new payment can be started for the same booking
	require.NoError(t, f.store.InsertPayment(ctx, &domain.Payment{
		ID: "P2", TransactionRef: "TX2", BookingID: "B1", Amount: 20000, Currency: "USD", Status: domain.PaymentStatusPending,
	}))
}
