package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/airbooking-payments/internal/domain"
	"github.com/Domenick1991/airbooking-payments/internal/kafka"
	"github.com/Domenick1991/airbooking-payments/internal/metrics"
	"github.com/Domenick1991/airbooking-payments/internal/repository"
	"github.com/sirupsen/logrus"
)

const (
	// repairGrace is how long after approval a pending booking may still be
	// the approving call's own write in flight.
	repairGrace = 30 * time.Second

	defaultPublishTimeout = 2 * time.Second
)

// Result is the state of a booking and its payment after a reconcile call.
// Replayed is set when the payment had already settled before the call.
type Result struct {
	BookingID      string               `json:"booking_id"`
	PaymentID      string               `json:"payment_id"`
	TransactionRef string               `json:"tx_ref"`
	BookingStatus  domain.BookingStatus `json:"booking_status"`
	PaymentStatus  domain.PaymentStatus `json:"payment_status"`
	Paid           bool                 `json:"paid"`
	Replayed       bool                 `json:"replayed"`
}

type Events interface {
	Emit(ctx context.Context, ev kafka.PaymentEvent) error
}

// Engine is the only writer of booking and payment status. Every transition
// is a conditional update at the store, so any number of engines may run
// against the same store at once.
type Engine struct {
	store  repository.Store
	events Events
	log    logrus.FieldLogger
	now    func() time.Time

	publishTimeout time.Duration
}

type Option func(*Engine)

func WithEvents(events Events) Option {
	return func(e *Engine) {
		e.events = events
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithPublishTimeout bounds each event publish. Non-positive values keep the default.
func WithPublishTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.publishTimeout = d
		}
	}
}

func NewEngine(store repository.Store, log logrus.FieldLogger, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },

		publishTimeout: defaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile applies evidence about how the charge behind transactionRef ended.
func (e *Engine) Reconcile(ctx context.Context, transactionRef string, ev domain.Evidence) (Result, error) {
	p, err := e.store.GetPaymentByTxRef(ctx, transactionRef)
	if err != nil {
		e.count(ev.Source, "error")
		return Result{}, fmt.Errorf("load payment %s: %w", transactionRef, err)
	}
	return e.apply(ctx, p, ev)
}

func (e *Engine) apply(ctx context.Context, p *domain.Payment, ev domain.Evidence) (Result, error) {
	if p.Status.Terminal() {
		return e.replay(ctx, p, ev, false)
	}

	switch ev.Outcome {
	case domain.ChargePending:
		e.count(ev.Source, "pending")
		return e.current(ctx, p)
	case domain.ChargeSuccessful, domain.ChargeFailed:
	default:
		return Result{}, fmt.Errorf("%w: unknown outcome %q", domain.ErrInvalidInput, ev.Outcome)
	}

	if !ev.Trusted && !ev.Matches(p) {
		return e.rejectMismatch(ctx, p, ev)
	}
	if ev.Outcome == domain.ChargeSuccessful {
		return e.approve(ctx, p, ev)
	}

	reason := domain.ReasonGatewayFailed
	if ev.Source == domain.SourceAdmin {
		reason = domain.ReasonAdminRejected
	}
	return e.reject(ctx, p, reason, ev)
}

func (e *Engine) approve(ctx context.Context, p *domain.Payment, ev domain.Evidence) (Result, error) {
	ok, err := e.store.UpdatePaymentStatus(ctx, p.ID, domain.PaymentStatusPending, repository.PaymentUpdate{
		Status:               domain.PaymentStatusApproved,
		GatewayTransactionID: ev.GatewayTransactionID,
		VerifiedAt:           e.now(),
	})
	if err != nil {
		e.count(ev.Source, "error")
		return Result{}, fmt.Errorf("approve payment %s: %w", p.ID, err)
	}
	if !ok {
		return e.reload(ctx, p.ID, ev)
	}

	p.Status = domain.PaymentStatusApproved
	if ev.GatewayTransactionID != "" {
		p.GatewayTransactionID = ev.GatewayTransactionID
	}
	e.fields(p, ev).Info("payment approved")
	e.emit(ctx, e.chargeEvent(kafka.EventPaymentApproved, p, ev))

	res, err := e.settleBooking(ctx, p, ev, false)
	if err == nil {
		e.count(ev.Source, "approved")
	}
	return res, err
}

func (e *Engine) reject(ctx context.Context, p *domain.Payment, reason domain.RejectionReason, ev domain.Evidence) (Result, error) {
	ok, err := e.rejectPayment(ctx, p, reason)
	if err != nil {
		e.count(ev.Source, "error")
		return Result{}, err
	}
	if !ok {
		return e.reload(ctx, p.ID, ev)
	}

	e.fields(p, ev).WithField("reason", reason).Info("payment rejected")
	e.emit(ctx, e.chargeEvent(kafka.EventPaymentRejected, p, ev))
	e.count(ev.Source, "rejected")
	return e.current(ctx, p)
}

// rejectMismatch refuses evidence that disagrees with the recorded charge. The
// payment is rejected, never corrected to the evidence's values.
func (e *Engine) rejectMismatch(ctx context.Context, p *domain.Payment, ev domain.Evidence) (Result, error) {
	metrics.IntegrityMismatches.Inc()
	e.fields(p, ev).WithFields(logrus.Fields{
		"expected_amount":   p.Amount,
		"expected_currency": p.Currency,
		"evidence_amount":   ev.Amount,
		"evidence_currency": ev.Currency,
	}).Warn("payment evidence does not match recorded charge")

	ok, err := e.rejectPayment(ctx, p, domain.ReasonValidationMismatch)
	if err != nil {
		e.count(ev.Source, "error")
		return Result{}, err
	}
	if !ok {
		return e.reload(ctx, p.ID, ev)
	}

	e.emit(ctx, e.chargeEvent(kafka.EventPaymentIntegrityMismatch, p, ev))
	e.emit(ctx, e.chargeEvent(kafka.EventPaymentRejected, p, ev))
	e.count(ev.Source, "mismatch")

	res, err := e.current(ctx, p)
	if err != nil {
		return res, err
	}
	return res, domain.ErrValidationMismatch
}

func (e *Engine) rejectPayment(ctx context.Context, p *domain.Payment, reason domain.RejectionReason) (bool, error) {
	ok, err := e.store.UpdatePaymentStatus(ctx, p.ID, domain.PaymentStatusPending, repository.PaymentUpdate{
		Status:        domain.PaymentStatusRejected,
		FailureReason: reason,
		VerifiedAt:    e.now(),
	})
	if err != nil {
		return false, fmt.Errorf("reject payment %s: %w", p.ID, err)
	}
	if ok {
		p.Status = domain.PaymentStatusRejected
		p.FailureReason = reason
	}
	return ok, nil
}

// settleBooking moves the booking of an approved payment to approved and paid.
// A booking some other path already settled counts as success. Any other
// non-pending booking is left alone and reported as a conflict.
func (e *Engine) settleBooking(ctx context.Context, p *domain.Payment, ev domain.Evidence, repair bool) (Result, error) {
	ok, err := e.store.UpdateBookingStatus(ctx, p.BookingID, domain.BookingStatusPending, repository.BookingUpdate{
		Status: domain.BookingStatusApproved,
		Paid:   true,
	})
	if err != nil {
		// The payment stays approved with a pending booking; the sweep
		// finishes the write.
		e.fields(p, ev).WithError(err).Error("booking write failed after payment approval")
		e.count(ev.Source, "error")
		return Result{}, fmt.Errorf("settle booking %s: %w", p.BookingID, err)
	}

	b, err := e.store.GetBooking(ctx, p.BookingID)
	if err != nil {
		return Result{}, fmt.Errorf("load booking %s: %w", p.BookingID, err)
	}
	res := outcome(p, b)

	switch {
	case ok:
		if repair {
			e.fields(p, ev).Warn("repaired booking left pending after payment approval")
			e.emit(ctx, e.bookingEvent(kafka.EventBookingRepaired, b, p, ev))
		}
		e.emit(ctx, e.bookingEvent(kafka.EventBookingPaid, b, p, ev))
		return res, nil
	case b.Settled():
		return res, nil
	}

	e.fields(p, ev).WithField("booking_status", b.Status).Error("booking moved by another path, approval not applied to booking")
	e.emit(ctx, e.bookingEvent(kafka.EventReconciliationConflict, b, p, ev))
	e.count(ev.Source, "conflict")
	return res, domain.ErrReconciliationConflict
}

// replay answers for a payment that had already settled. Evidence that
// contradicts the settled status is recorded and otherwise ignored. An
// approved payment whose booking is still pending gets its booking write
// finished here, through the same conditional update the sweep uses.
// afterRace is set when the caller just lost the payment write; a pending
// booking is then the winner's write still in flight, not a crash leftover,
// and so is one whose payment was approved moments ago.
func (e *Engine) replay(ctx context.Context, p *domain.Payment, ev domain.Evidence, afterRace bool) (Result, error) {
	if contradicts(p, ev) {
		e.fields(p, ev).WithField("evidence_outcome", ev.Outcome).Warn("evidence contradicts settled payment, ignoring")
		e.emit(ctx, e.chargeEvent(kafka.EventPaymentConflictingEvidence, p, ev))
	}

	b, err := e.store.GetBooking(ctx, p.BookingID)
	if err != nil {
		return Result{}, fmt.Errorf("load booking %s: %w", p.BookingID, err)
	}

	if p.Status == domain.PaymentStatusApproved && !b.Settled() {
		res, err := e.settleBooking(ctx, p, ev, !afterRace && e.leftBehind(p))
		res.Replayed = true
		return res, err
	}

	e.count(ev.Source, "replayed")
	res := outcome(p, b)
	res.Replayed = true
	return res, nil
}

// leftBehind reports whether an approved payment is old enough that its
// pending booking is a crash leftover rather than a concurrent write.
func (e *Engine) leftBehind(p *domain.Payment) bool {
	return p.VerifiedAt == nil || e.now().Sub(*p.VerifiedAt) > repairGrace
}

// reload is the losing side of a conditional write: someone else settled the
// payment first, so report what they recorded.
func (e *Engine) reload(ctx context.Context, paymentID string, ev domain.Evidence) (Result, error) {
	p, err := e.store.GetPayment(ctx, paymentID)
	if err != nil {
		return Result{}, fmt.Errorf("reload payment %s: %w", paymentID, err)
	}
	return e.replay(ctx, p, ev, true)
}

func (e *Engine) current(ctx context.Context, p *domain.Payment) (Result, error) {
	b, err := e.store.GetBooking(ctx, p.BookingID)
	if err != nil {
		return Result{}, fmt.Errorf("load booking %s: %w", p.BookingID, err)
	}
	return outcome(p, b), nil
}

func outcome(p *domain.Payment, b *domain.Booking) Result {
	return Result{
		BookingID:      b.ID,
		PaymentID:      p.ID,
		TransactionRef: p.TransactionRef,
		BookingStatus:  b.Status,
		PaymentStatus:  p.Status,
		Paid:           b.Paid,
	}
}

func contradicts(p *domain.Payment, ev domain.Evidence) bool {
	switch p.Status {
	case domain.PaymentStatusApproved:
		return ev.Outcome == domain.ChargeFailed
	case domain.PaymentStatusRejected:
		return ev.Outcome == domain.ChargeSuccessful
	}
	return false
}

func (e *Engine) fields(p *domain.Payment, ev domain.Evidence) logrus.FieldLogger {
	l := e.log.WithFields(logrus.Fields{
		"transaction_ref": p.TransactionRef,
		"payment_id":      p.ID,
		"booking_id":      p.BookingID,
		"source":          ev.Source,
	})
	if ev.Actor != "" {
		l = l.WithField("actor", ev.Actor)
	}
	return l
}

func (e *Engine) chargeEvent(eventType string, p *domain.Payment, ev domain.Evidence) kafka.PaymentEvent {
	out := kafka.ChargeEvent(eventType, p)
	out.Source = string(ev.Source)
	out.Actor = ev.Actor
	return out
}

func (e *Engine) bookingEvent(eventType string, b *domain.Booking, p *domain.Payment, ev domain.Evidence) kafka.PaymentEvent {
	out := kafka.BookingEvent(eventType, b)
	if p != nil {
		out.PaymentID = p.ID
		out.TransactionRef = p.TransactionRef
		out.PaymentStatus = string(p.Status)
	}
	out.Source = string(ev.Source)
	out.Actor = ev.Actor
	return out
}

// emit never fails the caller: state is already committed when events go out.
// A broker outage costs at most publishTimeout per event.
func (e *Engine) emit(ctx context.Context, ev kafka.PaymentEvent) {
	if e.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.publishTimeout)
	defer cancel()
	if err := e.events.Emit(ctx, ev); err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{"type": ev.Type, "booking_id": ev.BookingID}).Warn("failed to publish payment event")
	}
}

func (e *Engine) count(source domain.EvidenceSource, result string) {
	metrics.ReconciliationsTotal.WithLabelValues(string(source), result).Inc()
}

// IsConflict reports whether err means another path already decided.
func IsConflict(err error) bool {
	return errors.Is(err, domain.ErrReconciliationConflict)
}
