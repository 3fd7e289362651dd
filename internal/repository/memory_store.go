package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Domenick1991/airbooking-payments/internal/domain"
)

// MemoryStore keeps bookings and payments in process memory. Conditional
// updates are serialized by a single mutex, which gives them the same
// compare-and-set semantics as the SQL stores.
type MemoryStore struct {
	mu       sync.Mutex
	bookings map[string]domain.Booking
	payments map[string]domain.Payment
	byTxRef  map[string]string
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings: make(map[string]domain.Booking),
		payments: make(map[string]domain.Payment),
		byTxRef:  make(map[string]string),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) InsertBooking(_ context.Context, booking *domain.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bookings[booking.ID]; ok {
		return fmt.Errorf("booking %s already exists", booking.ID)
	}
	now := s.now()
	booking.CreatedAt, booking.UpdatedAt = now, now
	s.bookings[booking.ID] = *booking
	return nil
}

func (s *MemoryStore) GetBooking(_ context.Context, id string) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &b, nil
}

func (s *MemoryStore) UpdateBookingStatus(_ context.Context, id string, expected domain.BookingStatus, upd BookingUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok || b.Status != expected {
		return false, nil
	}
	b.Status = upd.Status
	b.Paid = upd.Paid
	b.UpdatedAt = s.now()
	s.bookings[id] = b
	return true, nil
}

func (s *MemoryStore) InsertPayment(_ context.Context, payment *domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.payments[payment.ID]; ok {
		return fmt.Errorf("payment %s already exists", payment.ID)
	}
	if _, ok := s.byTxRef[payment.TransactionRef]; ok {
		return fmt.Errorf("transaction reference %s already exists", payment.TransactionRef)
	}
	if payment.Status != domain.PaymentStatusRejected {
		if _, ok := s.activeLocked(payment.BookingID); ok {
			return domain.ErrPaymentInProgress
		}
	}
	now := s.now()
	payment.CreatedAt, payment.UpdatedAt = now, now
	s.payments[payment.ID] = *payment
	s.byTxRef[payment.TransactionRef] = payment.ID
	return nil
}

func (s *MemoryStore) GetPayment(_ context.Context, id string) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) GetPaymentByTxRef(_ context.Context, txRef string) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byTxRef[txRef]
	if !ok {
		return nil, domain.ErrNotFound
	}
	p := s.payments[id]
	return &p, nil
}

func (s *MemoryStore) GetActivePaymentForBooking(_ context.Context, bookingID string) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.activeLocked(bookingID)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) activeLocked(bookingID string) (domain.Payment, bool) {
	for _, p := range s.payments {
		if p.BookingID == bookingID && p.Status != domain.PaymentStatusRejected {
			return p, true
		}
	}
	return domain.Payment{}, false
}

func (s *MemoryStore) UpdatePaymentStatus(_ context.Context, id string, expected domain.PaymentStatus, upd PaymentUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok || p.Status != expected {
		return false, nil
	}
	p.Status = upd.Status
	if upd.GatewayTransactionID != "" {
		p.GatewayTransactionID = upd.GatewayTransactionID
	}
	if upd.FailureReason != "" {
		p.FailureReason = upd.FailureReason
	}
	verifiedAt := upd.VerifiedAt
	p.VerifiedAt = &verifiedAt
	p.UpdatedAt = s.now()
	s.payments[id] = p
	return true, nil
}

func (s *MemoryStore) SetCheckoutURL(_ context.Context, id, checkoutURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.CheckoutURL = checkoutURL
	p.UpdatedAt = s.now()
	s.payments[id] = p
	return nil
}

func (s *MemoryStore) ListApprovedWithPendingBooking(_ context.Context, limit int) ([]domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Payment
	for _, p := range s.payments {
		if p.Status != domain.PaymentStatusApproved {
			continue
		}
		if b, ok := s.bookings[p.BookingID]; ok && b.Status == domain.BookingStatusPending {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return truncate(out, limit), nil
}

func (s *MemoryStore) ListStalePendingPayments(_ context.Context, olderThan time.Time, limit int) ([]domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Payment
	for _, p := range s.payments {
		if p.Status == domain.PaymentStatusPending && !p.CreatedAt.After(olderThan) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

func truncate(ps []domain.Payment, limit int) []domain.Payment {
	if limit > 0 && len(ps) > limit {
		return ps[:limit]
	}
	return ps
}

var _ Store = (*MemoryStore)(nil)
