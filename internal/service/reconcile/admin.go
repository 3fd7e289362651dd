package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/Domenick1991/airbooking-payments/internal/domain"
	"github.com/Domenick1991/airbooking-payments/internal/kafka"
	"github.com/Domenick1991/airbooking-payments/internal/repository"
)

// Approve records an out-of-band settlement confirmed by an administrator.
// The amount is not checked. Approving an approved payment returns its
// state; approving a rejected one is a conflict.
func (e *Engine) Approve(ctx context.Context, paymentID, actor string) (Result, error) {
	return e.adminDecision(ctx, paymentID, actor, domain.ChargeSuccessful)
}

// Reject is the administrator's refusal of a payment. Rejecting an approved
// payment would reverse settled money and is a conflict.
func (e *Engine) Reject(ctx context.Context, paymentID, actor string) (Result, error) {
	return e.adminDecision(ctx, paymentID, actor, domain.ChargeFailed)
}

func (e *Engine) adminDecision(ctx context.Context, paymentID, actor string, decided domain.ChargeOutcome) (Result, error) {
	p, err := e.store.GetPayment(ctx, paymentID)
	if err != nil {
		return Result{}, fmt.Errorf("load payment %s: %w", paymentID, err)
	}

	ev := domain.Evidence{
		Outcome: decided,
		Source:  domain.SourceAdmin,
		Actor:   actor,
		Trusted: true,
	}
	if contradicts(p, ev) {
		return e.refuseReversal(ctx, p, ev)
	}

	res, err := e.apply(ctx, p, ev)
	if err != nil {
		return res, err
	}
	if !res.Replayed || res.PaymentStatus == expectedStatus(decided) {
		return res, nil
	}
	// Lost the race to the opposite decision.
	fresh, err := e.store.GetPayment(ctx, paymentID)
	if err != nil {
		return res, fmt.Errorf("reload payment %s: %w", paymentID, err)
	}
	return e.refuseReversal(ctx, fresh, ev)
}

func (e *Engine) refuseReversal(ctx context.Context, p *domain.Payment, ev domain.Evidence) (Result, error) {
	res, err := e.current(ctx, p)
	if err != nil {
		return res, err
	}
	res.Replayed = true

	e.fields(p, ev).WithField("decision", ev.Outcome).Warn("refusing to reverse a settled payment")
	e.emit(ctx, e.chargeEvent(kafka.EventReconciliationConflict, p, ev))
	e.count(ev.Source, "conflict")
	return res, domain.ErrReconciliationConflict
}

func expectedStatus(o domain.ChargeOutcome) domain.PaymentStatus {
	if o == domain.ChargeSuccessful {
		return domain.PaymentStatusApproved
	}
	return domain.PaymentStatusRejected
}

// RejectInitialization closes a payment whose charge the gateway refused to
// open, so the traveler can start a new one.
func (e *Engine) RejectInitialization(ctx context.Context, transactionRef string) (Result, error) {
	p, err := e.store.GetPaymentByTxRef(ctx, transactionRef)
	if err != nil {
		return Result{}, fmt.Errorf("load payment %s: %w", transactionRef, err)
	}
	ev := domain.Evidence{Outcome: domain.ChargeFailed, Source: domain.SourceInitialize, Trusted: true}
	if p.Status.Terminal() {
		return e.replay(ctx, p, ev, false)
	}
	return e.reject(ctx, p, domain.ReasonGatewayRejectedRequest, ev)
}

// CancelBooking is the traveler's cancel. It is only allowed while the booking
// is pending; an in-flight payment is rejected first so it cannot settle a
// cancelled booking.
func (e *Engine) CancelBooking(ctx context.Context, bookingID string) (*domain.Booking, error) {
	return e.closeBooking(ctx, bookingID, domain.BookingStatusCancelled, domain.ReasonBookingCancelled,
		domain.Evidence{Outcome: domain.ChargeFailed, Source: domain.SourceTraveler, Trusted: true}, kafka.EventBookingCancelled)
}

// RejectBooking is the administrator's refusal of the booking itself.
func (e *Engine) RejectBooking(ctx context.Context, bookingID, actor string) (*domain.Booking, error) {
	return e.closeBooking(ctx, bookingID, domain.BookingStatusRejected, domain.ReasonAdminRejected,
		domain.Evidence{Outcome: domain.ChargeFailed, Source: domain.SourceAdmin, Actor: actor, Trusted: true}, kafka.EventBookingRejected)
}

func (e *Engine) closeBooking(ctx context.Context, bookingID string, to domain.BookingStatus, reason domain.RejectionReason, ev domain.Evidence, eventType string) (*domain.Booking, error) {
	b, err := e.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("load booking %s: %w", bookingID, err)
	}
	if !b.IsPending() {
		return b, domain.ErrBookingNotPending
	}

	p, err := e.store.GetActivePaymentForBooking(ctx, bookingID)
	switch {
	case err == nil && p.Status == domain.PaymentStatusApproved:
		// Paid, the booking write is on its way.
		return b, domain.ErrBookingNotPending
	case err == nil:
		ok, err := e.rejectPayment(ctx, p, reason)
		if err != nil {
			return nil, err
		}
		if !ok {
			return b, domain.ErrBookingNotPending
		}
		e.fields(p, ev).WithField("reason", reason).Info("payment rejected")
		e.emit(ctx, e.chargeEvent(kafka.EventPaymentRejected, p, ev))
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("load active payment for booking %s: %w", bookingID, err)
	}

	ok, err := e.store.UpdateBookingStatus(ctx, bookingID, domain.BookingStatusPending, repository.BookingUpdate{Status: to})
	if err != nil {
		return nil, fmt.Errorf("update booking %s: %w", bookingID, err)
	}
	fresh, err := e.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("load booking %s: %w", bookingID, err)
	}
	if !ok {
		return fresh, domain.ErrBookingNotPending
	}

	l := e.log.WithField("booking_id", bookingID).WithField("status", to)
	if ev.Actor != "" {
		l = l.WithField("actor", ev.Actor)
	}
	l.Info("booking closed")
	e.emit(ctx, e.bookingEvent(eventType, fresh, nil, ev))
	return fresh, nil
}

// RepairBooking finishes the booking write for an approved payment whose
// booking is still pending. It reports whether anything changed.
func (e *Engine) RepairBooking(ctx context.Context, p *domain.Payment) (Result, bool, error) {
	if p.Status != domain.PaymentStatusApproved {
		return Result{}, false, fmt.Errorf("%w: payment %s is %s", domain.ErrInvalidInput, p.ID, p.Status)
	}
	before, err := e.store.GetBooking(ctx, p.BookingID)
	if err != nil {
		return Result{}, false, fmt.Errorf("load booking %s: %w", p.BookingID, err)
	}
	if before.Settled() {
		return outcome(p, before), false, nil
	}

	res, err := e.settleBooking(ctx, p, domain.Evidence{Outcome: domain.ChargeSuccessful, Source: domain.SourceSweep}, true)
	if err != nil {
		return res, false, err
	}
	return res, before.IsPending(), nil
}
