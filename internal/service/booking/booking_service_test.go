package booking

import (
	"context"
	"errors"
	"testing"

	"github.com/Domenick1991/airbooking-payments/internal/domain"
	"github.com/Domenick1991/airbooking-payments/internal/kafka"
	"github.com/Domenick1991/airbooking-payments/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockBookingRepository struct {
	mock.Mock
}

func (m *MockBookingRepository) InsertBooking(ctx context.Context, booking *domain.Booking) error {
	args := m.Called(ctx, booking)
	return args.Error(0)
}

func (m *MockBookingRepository) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) UpdateBookingStatus(ctx context.Context, id string, expected domain.BookingStatus, upd repository.BookingUpdate) (bool, error) {
	args := m.Called(ctx, id, expected, upd)
	return args.Bool(0), args.Error(1)
}

type MockCanceller struct {
	mock.Mock
}

func (m *MockCanceller) CancelBooking(ctx context.Context, id string) (*domain.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

type MockEvents struct {
	mock.Mock
}

func (m *MockEvents) Emit(ctx context.Context, ev kafka.PaymentEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func newService(repo *MockBookingRepository, engine *MockCanceller, events *MockEvents) *BookingService {
	log, _ := test.NewNullLogger()
	s := &BookingService{
		bookings: repo,
		engine:   engine,
		validate: validator.New(),
		log:      log,
	}
	if events != nil {
		s.events = events
	}
	return s
}

func validInput() CreateBookingInput {
	return CreateBookingInput{
		PassengerName: "Abebe Kebede",
		Email:         "abebe@example.com",
		FlightID:      4,
		Amount:        "200.50",
		Currency:      "usd",
	}
}

func TestBookingService_CreateBooking_Success(t *testing.T) {
	repo := &MockBookingRepository{}
	events := &MockEvents{}
	service := newService(repo, &MockCanceller{}, events)
	ctx := context.Background()

	repo.On("InsertBooking", ctx, mock.AnythingOfType("*domain.Booking")).Return(nil).Once()
	events.On("Emit", ctx, mock.MatchedBy(func(ev kafka.PaymentEvent) bool {
		return ev.Type == kafka.EventBookingCreated && ev.Email == "abebe@example.com"
	})).Return(nil).Once()

	booking, err := service.CreateBooking(ctx, validInput())

	assert.NoError(t, err)
	assert.NotNil(t, booking)
	assert.NotEmpty(t, booking.ID)
	assert.Equal(t, domain.BookingStatusPending, booking.Status)
	assert.False(t, booking.Paid)
	assert.Equal(t, int64(20050), booking.Amount)
	assert.Equal(t, "USD", booking.Currency)
	assert.Equal(t, int64(4), booking.FlightID)

	repo.AssertExpectations(t)
	events.AssertExpectations(t)
}

func TestBookingService_CreateBooking_ValidationErrors(t *testing.T) {
	service := newService(&MockBookingRepository{}, &MockCanceller{}, nil)
	ctx := context.Background()

	testCases := []struct {
		name   string
		mutate func(in *CreateBookingInput)
	}{
		{"Empty name", func(in *CreateBookingInput) { in.PassengerName = "" }},
		{"Bad email", func(in *CreateBookingInput) { in.Email = "not-an-email" }},
		{"Zero flight", func(in *CreateBookingInput) { in.FlightID = 0 }},
		{"Missing amount", func(in *CreateBookingInput) { in.Amount = "" }},
		{"Zero amount", func(in *CreateBookingInput) { in.Amount = "0.00" }},
		{"Negative amount", func(in *CreateBookingInput) { in.Amount = "-5" }},
		{"Sub-cent amount", func(in *CreateBookingInput) { in.Amount = "10.005" }},
		{"Overflowing amount", func(in *CreateBookingInput) { in.Amount = "4611686018427387905" }},
		{"Long currency", func(in *CreateBookingInput) { in.Currency = "USDT" }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			booking, err := service.CreateBooking(ctx, in)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
			assert.Nil(t, booking)
		})
	}
}

func TestBookingService_CreateBooking_RepositoryError(t *testing.T) {
	repo := &MockBookingRepository{}
	events := &MockEvents{}
	service := newService(repo, &MockCanceller{}, events)
	ctx := context.Background()

	expectedErr := errors.New("database error")
	repo.On("InsertBooking", ctx, mock.Anything).Return(expectedErr).Once()

	booking, err := service.CreateBooking(ctx, validInput())

	assert.Equal(t, expectedErr, err)
	assert.Nil(t, booking)
	events.AssertNotCalled(t, "Emit", mock.Anything, mock.Anything)
}

func TestBookingService_CreateBooking_PublishErrorIsNotFatal(t *testing.T) {
	repo := &MockBookingRepository{}
	events := &MockEvents{}
	service := newService(repo, &MockCanceller{}, events)
	ctx := context.Background()

	repo.On("InsertBooking", ctx, mock.Anything).Return(nil).Once()
	events.On("Emit", ctx, mock.Anything).Return(errors.New("broker down")).Once()

	booking, err := service.CreateBooking(ctx, validInput())
	assert.NoError(t, err)
	assert.NotNil(t, booking)
}

func TestBookingService_GetBooking_NotFound(t *testing.T) {
	repo := &MockBookingRepository{}
	service := newService(repo, &MockCanceller{}, nil)
	ctx := context.Background()

	repo.On("GetBooking", ctx, "missing").Return(nil, domain.ErrNotFound).Once()

	booking, err := service.GetBooking(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Nil(t, booking)
}

func TestBookingService_CancelBooking_DelegatesToEngine(t *testing.T) {
	engine := &MockCanceller{}
	service := newService(&MockBookingRepository{}, engine, nil)
	ctx := context.Background()

	cancelled := &domain.Booking{ID: "b1", Status: domain.BookingStatusCancelled}
	engine.On("CancelBooking", ctx, "b1").Return(cancelled, nil).Once()
	engine.On("CancelBooking", ctx, "b2").Return(&domain.Booking{ID: "b2", Status: domain.BookingStatusApproved}, domain.ErrBookingNotPending).Once()

	booking, err := service.CancelBooking(ctx, "b1")
	assert.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCancelled, booking.Status)

	_, err = service.CancelBooking(ctx, "b2")
	assert.ErrorIs(t, err, domain.ErrBookingNotPending)
	engine.AssertExpectations(t)
}
