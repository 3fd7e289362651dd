package api

import (
	"github.com/Domenick1991/airbooking-payments/internal/auth"
	"github.com/Domenick1991/airbooking-payments/internal/metrics"
	"github.com/Domenick1991/airbooking-payments/internal/service/booking"
	"github.com/Domenick1991/airbooking-payments/internal/service/payment"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type RouterConfig struct {
	Bookings booking.BookingUseCase
	Payments payment.PaymentUseCase
	// Admin routes are only mounted when both Admin and Tokens are set.
	Admin  AdminUseCase
	Tokens *auth.Verifier
	Log    logrus.FieldLogger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(cfg.Log), Metrics())

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/api/v1")
	NewBookingHandler(cfg.Bookings, cfg.Payments).Register(v1.Group("/bookings"))
	NewPaymentHandler(cfg.Payments).Register(v1.Group("/payments"))

	if cfg.Admin != nil && cfg.Tokens != nil {
		admin := v1.Group("/admin", AdminAuth(cfg.Tokens))
		NewAdminHandler(cfg.Admin).Register(admin)
	} else {
		cfg.Log.Warn("admin secret not configured, admin routes disabled")
	}

	return router
}
