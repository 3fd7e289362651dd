package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Domenick1991/airbooking-payments/internal/domain"
	"github.com/Domenick1991/airbooking-payments/internal/kafka"
	"github.com/Domenick1991/airbooking-payments/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const publishTimeout = 2 * time.Second

type BookingUseCase interface {
	CreateBooking(ctx context.Context, input CreateBookingInput) (*domain.Booking, error)
	GetBooking(ctx context.Context, id string) (*domain.Booking, error)
	CancelBooking(ctx context.Context, id string) (*domain.Booking, error)
}

// Canceller owns the cancel transition; bookings never change status here.
type Canceller interface {
	CancelBooking(ctx context.Context, bookingID string) (*domain.Booking, error)
}

type Events interface {
	Emit(ctx context.Context, ev kafka.PaymentEvent) error
}

type BookingService struct {
	bookings repository.BookingRepository
	engine   Canceller
	events   Events
	validate *validator.Validate
	log      logrus.FieldLogger
}

type CreateBookingInput struct {
	PassengerName string      `json:"passenger_name" validate:"required,max=200"`
	Email         string      `json:"email" validate:"required,email"`
	FlightID      int64       `json:"flight_id" validate:"gt=0"`
	Amount        json.Number `json:"amount" validate:"required"`
	Currency      string      `json:"currency" validate:"required,len=3,alpha"`
}

type BookingServiceOption func(*BookingService)

func WithEvents(events Events) BookingServiceOption {
	return func(s *BookingService) {
		s.events = events
	}
}

func NewBookingService(bookings repository.BookingRepository, engine Canceller, log logrus.FieldLogger, opts ...BookingServiceOption) *BookingService {
	service := &BookingService{
		bookings: bookings,
		engine:   engine,
		validate: validator.New(),
		log:      log,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

func (s *BookingService) CreateBooking(ctx context.Context, input CreateBookingInput) (*domain.Booking, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	amount, err := domain.ParseAmount(input.Amount.String())
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidInput)
	}

	booking := &domain.Booking{
		ID:            uuid.NewString(),
		PassengerName: strings.TrimSpace(input.PassengerName),
		Email:         strings.TrimSpace(input.Email),
		FlightID:      input.FlightID,
		Amount:        amount,
		Currency:      domain.NormalizeCurrency(input.Currency),
		Status:        domain.BookingStatusPending,
	}
	if err := s.bookings.InsertBooking(ctx, booking); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"booking_id": booking.ID, "flight_id": booking.FlightID}).Info("booking created")
	if s.events != nil {
		emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		if err := s.events.Emit(emitCtx, kafka.BookingEvent(kafka.EventBookingCreated, booking)); err != nil {
			s.log.WithError(err).WithField("booking_id", booking.ID).Warn("failed to publish booking.created")
		}
	}
	return booking, nil
}

func (s *BookingService) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	return s.bookings.GetBooking(ctx, id)
}

func (s *BookingService) CancelBooking(ctx context.Context, id string) (*domain.Booking, error) {
	return s.engine.CancelBooking(ctx, id)
}

var _ BookingUseCase = (*BookingService)(nil)
