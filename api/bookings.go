package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Domenick1991/airbooking-payments/internal/domain"
	"github.com/Domenick1991/airbooking-payments/internal/gateway"
	"github.com/Domenick1991/airbooking-payments/internal/service/booking"
	"github.com/Domenick1991/airbooking-payments/internal/service/payment"
	"github.com/gin-gonic/gin"
)

type BookingHandler struct {
	service  booking.BookingUseCase
	payments payment.PaymentUseCase
}

type createBookingRequest struct {
	PassengerName string      `json:"passenger_name"`
	Email         string      `json:"email"`
	FlightID      int64       `json:"flight_id"`
	Amount        json.Number `json:"amount"`
	Currency      string      `json:"currency"`
}

type initiatePaymentRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

type bookingResponse struct {
	ID            string `json:"id"`
	PassengerName string `json:"passenger_name"`
	Email         string `json:"email"`
	FlightID      int64  `json:"flight_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	Paid          bool   `json:"paid"`
	CreatedAt     string `json:"created_at"`
}

func toBookingResponse(b *domain.Booking) bookingResponse {
	return bookingResponse{
		ID:            b.ID,
		PassengerName: b.PassengerName,
		Email:         b.Email,
		FlightID:      b.FlightID,
		Amount:        domain.FormatAmount(b.Amount),
		Currency:      b.Currency,
		Status:        string(b.Status),
		Paid:          b.Paid,
		CreatedAt:     b.CreatedAt.Format(time.RFC3339),
	}
}

func NewBookingHandler(service booking.BookingUseCase, payments payment.PaymentUseCase) *BookingHandler {
	return &BookingHandler{service: service, payments: payments}
}

func (h *BookingHandler) Register(router *gin.RouterGroup) {
	router.POST("", h.create)
	router.GET("/:id", h.get)
	router.DELETE("/:id", h.cancel)
	router.POST("/:id/payments", h.initiatePayment)
}

func (h *BookingHandler) create(c *gin.Context) {
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.service.CreateBooking(c.Request.Context(), booking.CreateBookingInput{
		PassengerName: req.PassengerName,
		Email:         req.Email,
		FlightID:      req.FlightID,
		Amount:        req.Amount,
		Currency:      req.Currency,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toBookingResponse(created))
}

func (h *BookingHandler) get(c *gin.Context) {
	b, err := h.service.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(b))
}

func (h *BookingHandler) cancel(c *gin.Context) {
	b, err := h.service.CancelBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(b))
}

// initiatePayment opens a checkout for the booking. The body is optional and
// only overrides the customer details taken from the booking.
func (h *BookingHandler) initiatePayment(c *gin.Context) {
	var req initiatePaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	p, err := h.payments.InitiatePayment(c.Request.Context(), c.Param("id"), gateway.Customer{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	})
	if err != nil {
		if p != nil && errors.Is(err, domain.ErrGatewayUnavailable) {
			_ = c.Error(err)
			c.JSON(http.StatusAccepted, gin.H{"message": msgPaymentPending, "payment": toPaymentResponse(p)})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toPaymentResponse(p))
}
