package payment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Domenick1991/airbooking-payments/internal/domain"
	"github.com/Domenick1991/airbooking-payments/internal/gateway"
	"github.com/Domenick1991/airbooking-payments/internal/kafka"
	"github.com/Domenick1991/airbooking-payments/internal/repository"
	"github.com/Domenick1991/airbooking-payments/internal/service/reconcile"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const publishTimeout = 2 * time.Second

type PaymentUseCase interface {
	InitiatePayment(ctx context.Context, bookingID string, customer gateway.Customer) (*domain.Payment, error)
	GetPayment(ctx context.Context, transactionRef string) (*domain.Payment, error)
	HandleCallback(ctx context.Context, input CallbackInput) (reconcile.Result, error)
	VerifyByClient(ctx context.Context, transactionRef string) (reconcile.Result, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, transactionRef string, ev domain.Evidence) (reconcile.Result, error)
	RejectInitialization(ctx context.Context, transactionRef string) (reconcile.Result, error)
}

type Events interface {
	Emit(ctx context.Context, ev kafka.PaymentEvent) error
}

// CallbackInput is what the gateway sends us. Only the identifiers are used;
// any status it carries is ignored and re-verified.
type CallbackInput struct {
	TransactionID string
	TxRef         string
}

type PaymentService struct {
	store         repository.Store
	charges       gateway.Gateway
	verifier      gateway.Verifier
	engine        Reconciler
	events        Events
	log           logrus.FieldLogger
	verifyTimeout time.Duration
	newRef        func() (string, error)
}

type PaymentServiceOption func(*PaymentService)

func WithEvents(events Events) PaymentServiceOption {
	return func(s *PaymentService) {
		s.events = events
	}
}

// WithVerifier replaces the verifier used for callbacks and polls, typically
// with a cached one.
func WithVerifier(v gateway.Verifier) PaymentServiceOption {
	return func(s *PaymentService) {
		s.verifier = v
	}
}

func WithVerifyTimeout(d time.Duration) PaymentServiceOption {
	return func(s *PaymentService) {
		s.verifyTimeout = d
	}
}

func NewPaymentService(store repository.Store, charges gateway.Gateway, engine Reconciler, log logrus.FieldLogger, opts ...PaymentServiceOption) *PaymentService {
	s := &PaymentService{
		store:         store,
		charges:       charges,
		verifier:      charges,
		engine:        engine,
		log:           log,
		verifyTimeout: 15 * time.Second,
		newRef:        NewTransactionRef,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewTransactionRef returns a fresh unguessable reference such as
// tx-3f2a9c0b1d4e5f60718293a4.
func NewTransactionRef() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("transaction ref: %w", err)
	}
	return "tx-" + hex.EncodeToString(b), nil
}

// InitiatePayment opens a gateway checkout for a pending booking. The payment
// row is written before the gateway is called so every gateway-side charge
// correlates to a local record. A booking with a pending payment resumes it
// under the same reference, reusing its checkout when one was opened.
func (s *PaymentService) InitiatePayment(ctx context.Context, bookingID string, customer gateway.Customer) (*domain.Payment, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.IsPending() {
		return nil, domain.ErrBookingNotPending
	}

	p, created, err := s.activeOrNew(ctx, b)
	if err != nil {
		return nil, err
	}
	if !created && p.CheckoutURL != "" {
		// The first checkout is still live; asking again could only refuse
		// a reference the customer may already be paying.
		return p, nil
	}

	log := s.log.WithFields(logrus.Fields{"transaction_ref": p.TransactionRef, "payment_id": p.ID, "booking_id": b.ID})
	session, err := s.charges.InitializeCharge(ctx, gateway.ChargeRequest{
		Amount:         p.Amount,
		Currency:       p.Currency,
		TransactionRef: p.TransactionRef,
		Customer:       fillCustomer(customer, b),
	})
	switch {
	case errors.Is(err, domain.ErrGatewayRejectedRequest) && !created:
		log.WithError(err).Warn("gateway refused a resumed reference, payment left pending")
		return p, err
	case errors.Is(err, domain.ErrGatewayRejectedRequest):
		res, rejErr := s.engine.RejectInitialization(ctx, p.TransactionRef)
		if rejErr != nil {
			log.WithError(rejErr).Error("failed to close refused payment")
			return p, err
		}
		p.Status = res.PaymentStatus
		return p, err
	case err != nil:
		log.WithError(err).Warn("charge initialization did not complete, payment left pending")
		return p, err
	}

	if err := s.store.SetCheckoutURL(ctx, p.ID, session.CheckoutURL); err != nil {
		return nil, err
	}
	p.CheckoutURL = session.CheckoutURL

	log.Info("payment initiated")
	if s.events != nil {
		ev := kafka.ChargeEvent(kafka.EventPaymentInitiated, p)
		ev.Email = b.Email
		emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		if err := s.events.Emit(emitCtx, ev); err != nil {
			log.WithError(err).Warn("failed to publish payment.initiated")
		}
	}
	return p, nil
}

// activeOrNew reports created=true only for a payment inserted by this call.
// Only such a payment may be rejected when the gateway refuses it.
func (s *PaymentService) activeOrNew(ctx context.Context, b *domain.Booking) (*domain.Payment, bool, error) {
	p, err := s.store.GetActivePaymentForBooking(ctx, b.ID)
	switch {
	case err == nil && p.Status == domain.PaymentStatusApproved:
		return nil, false, domain.ErrBookingNotPending
	case err == nil:
		return p, false, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, false, err
	}

	ref, err := s.newRef()
	if err != nil {
		return nil, false, err
	}
	p = &domain.Payment{
		ID:             uuid.NewString(),
		TransactionRef: ref,
		BookingID:      b.ID,
		Amount:         b.Amount,
		Currency:       b.Currency,
		Status:         domain.PaymentStatusPending,
	}
	if err := s.store.InsertPayment(ctx, p); err != nil {
		if errors.Is(err, domain.ErrPaymentInProgress) {
			// a concurrent request won, resume its payment
			winner, err := s.store.GetActivePaymentForBooking(ctx, b.ID)
			return winner, false, err
		}
		return nil, false, err
	}
	return p, true, nil
}

func fillCustomer(c gateway.Customer, b *domain.Booking) gateway.Customer {
	if c.Email == "" {
		c.Email = b.Email
	}
	if c.FirstName == "" && c.LastName == "" {
		first, last, _ := strings.Cut(strings.TrimSpace(b.PassengerName), " ")
		c.FirstName, c.LastName = first, strings.TrimSpace(last)
	}
	return c
}

func (s *PaymentService) GetPayment(ctx context.Context, transactionRef string) (*domain.Payment, error) {
	return s.store.GetPaymentByTxRef(ctx, transactionRef)
}

// HandleCallback re-verifies what the gateway told us and reconciles the
// verified answer. A reference the gateway does not know is ErrNotFound.
func (s *PaymentService) HandleCallback(ctx context.Context, input CallbackInput) (reconcile.Result, error) {
	reference := strings.TrimSpace(input.TransactionID)
	if reference == "" {
		reference = strings.TrimSpace(input.TxRef)
	}
	if reference == "" {
		return reconcile.Result{}, fmt.Errorf("%w: callback carries no reference", domain.ErrInvalidInput)
	}

	res, err := s.verify(ctx, reference)
	if err != nil {
		return reconcile.Result{}, err
	}
	log := s.log.WithFields(logrus.Fields{"reference": reference, "transaction_ref": res.TransactionRef})
	if !res.Verified {
		log.Warn("callback for a reference the gateway does not know")
		return reconcile.Result{}, fmt.Errorf("%w: gateway has no charge %s", domain.ErrNotFound, reference)
	}
	if input.TxRef != "" && input.TxRef != res.TransactionRef {
		log.WithField("callback_tx_ref", input.TxRef).Warn("callback reference disagrees with gateway")
		return reconcile.Result{}, fmt.Errorf("%w: callback reference does not match verified charge", domain.ErrInvalidInput)
	}

	return s.engine.Reconcile(ctx, res.TransactionRef, res.Evidence(domain.SourceCallback))
}

// VerifyByClient is the traveler's "check my payment". Only the reference is
// taken from the client; everything else comes from the gateway.
func (s *PaymentService) VerifyByClient(ctx context.Context, transactionRef string) (reconcile.Result, error) {
	p, err := s.store.GetPaymentByTxRef(ctx, transactionRef)
	if err != nil {
		return reconcile.Result{}, err
	}
	pending := domain.Evidence{Outcome: domain.ChargePending, Source: domain.SourcePoll}
	if p.Status.Terminal() {
		return s.engine.Reconcile(ctx, transactionRef, pending)
	}

	res, err := s.verify(ctx, transactionRef)
	if err != nil {
		return reconcile.Result{}, err
	}
	if !res.Verified {
		return s.engine.Reconcile(ctx, transactionRef, pending)
	}
	if res.TransactionRef != transactionRef {
		s.log.WithFields(logrus.Fields{"transaction_ref": transactionRef, "verified_ref": res.TransactionRef}).Warn("gateway answered for a different reference")
		return reconcile.Result{}, fmt.Errorf("%w: gateway answered for a different reference", domain.ErrInvalidInput)
	}
	return s.engine.Reconcile(ctx, transactionRef, res.Evidence(domain.SourcePoll))
}

func (s *PaymentService) verify(ctx context.Context, reference string) (gateway.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	defer cancel()
	return s.verifier.VerifyCharge(ctx, reference)
}

var _ PaymentUseCase = (*PaymentService)(nil)
