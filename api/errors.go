package api

import (
	"errors"
	"net/http"

	"github.com/Domenick1991/airbooking-payments/internal/domain"
	"github.com/gin-gonic/gin"
)

const (
	msgPaymentPending     = "payment pending, please check status"
	msgPaymentUnconfirmed = "payment could not be confirmed"
)

// errorStatus maps domain errors to the status and message shown to callers.
// Integrity failures never expose which field disagreed.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusAccepted, msgPaymentPending
	case errors.Is(err, domain.ErrValidationMismatch):
		return http.StatusUnprocessableEntity, msgPaymentUnconfirmed
	case errors.Is(err, domain.ErrGatewayRejectedRequest):
		return http.StatusUnprocessableEntity, "payment gateway refused the charge"
	case errors.Is(err, domain.ErrReconciliationConflict):
		return http.StatusConflict, "payment was already decided differently"
	case errors.Is(err, domain.ErrBookingNotPending):
		return http.StatusConflict, "booking is not pending"
	case errors.Is(err, domain.ErrPaymentInProgress):
		return http.StatusConflict, "booking already has an active payment"
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeError(c *gin.Context, err error) {
	status, msg := errorStatus(err)
	_ = c.Error(err)
	if status == http.StatusAccepted {
		c.JSON(status, gin.H{"status": string(domain.PaymentStatusPending), "message": msg})
		return
	}
	c.JSON(status, gin.H{"error": msg})
}
