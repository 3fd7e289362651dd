package api

import (
	"context"
	"net/http"

	"github.com/Domenick1991/airbooking-payments/internal/domain"
	"github.com/Domenick1991/airbooking-payments/internal/service/reconcile"
	"github.com/gin-gonic/gin"
)

// AdminUseCase is the operator surface of the reconciliation engine.
type AdminUseCase interface {
	Approve(ctx context.Context, paymentID, actor string) (reconcile.Result, error)
	Reject(ctx context.Context, paymentID, actor string) (reconcile.Result, error)
	RejectBooking(ctx context.Context, bookingID, actor string) (*domain.Booking, error)
}

type AdminHandler struct {
	service AdminUseCase
}

func NewAdminHandler(service AdminUseCase) *AdminHandler {
	return &AdminHandler{service: service}
}

// Register expects router to already run the admin auth middleware.
func (h *AdminHandler) Register(router *gin.RouterGroup) {
	router.POST("/payments/:id/approve", h.approve)
	router.POST("/payments/:id/reject", h.reject)
	router.POST("/bookings/:id/reject", h.rejectBooking)
}

func (h *AdminHandler) approve(c *gin.Context) {
	res, err := h.service.Approve(c.Request.Context(), c.Param("id"), c.GetString(actorKey))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *AdminHandler) reject(c *gin.Context) {
	res, err := h.service.Reject(c.Request.Context(), c.Param("id"), c.GetString(actorKey))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *AdminHandler) rejectBooking(c *gin.Context) {
	b, err := h.service.RejectBooking(c.Request.Context(), c.Param("id"), c.GetString(actorKey))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(b))
}

var _ AdminUseCase = (*reconcile.Engine)(nil)
