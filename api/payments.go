package api

import (
	"net/http"
	"time"

	"github.com/Domenick1991/airbooking-payments/internal/domain"
	"github.com/Domenick1991/airbooking-payments/internal/service/payment"
	"github.com/gin-gonic/gin"
)

type PaymentHandler struct {
	service payment.PaymentUseCase
}

// callbackRequest accepts the identifiers under every name the gateway uses.
// A status field, if sent, is not read.
type callbackRequest struct {
	TransactionID string `form:"transaction_id" json:"transaction_id"`
	Reference     string `form:"reference" json:"reference"`
	TxRef         string `form:"tx_ref" json:"tx_ref"`
	TrxRef        string `form:"trx_ref" json:"trx_ref"`
}

type paymentResponse struct {
	ID                   string `json:"id"`
	TransactionRef       string `json:"transaction_ref"`
	BookingID            string `json:"booking_id"`
	Amount               string `json:"amount"`
	Currency             string `json:"currency"`
	Status               string `json:"status"`
	GatewayTransactionID string `json:"gateway_transaction_id,omitempty"`
	CheckoutURL          string `json:"checkout_url,omitempty"`
	FailureReason        string `json:"failure_reason,omitempty"`
	VerifiedAt           string `json:"verified_at,omitempty"`
}

func toPaymentResponse(p *domain.Payment) paymentResponse {
	resp := paymentResponse{
		ID:                   p.ID,
		TransactionRef:       p.TransactionRef,
		BookingID:            p.BookingID,
		Amount:               domain.FormatAmount(p.Amount),
		Currency:             p.Currency,
		Status:               string(p.Status),
		GatewayTransactionID: p.GatewayTransactionID,
		CheckoutURL:          p.CheckoutURL,
		FailureReason:        string(p.FailureReason),
	}
	if p.VerifiedAt != nil {
		resp.VerifiedAt = p.VerifiedAt.Format(time.RFC3339)
	}
	return resp
}

func NewPaymentHandler(service payment.PaymentUseCase) *PaymentHandler {
	return &PaymentHandler{service: service}
}

func (h *PaymentHandler) Register(router *gin.RouterGroup) {
	router.GET("/callback", h.callback)
	router.POST("/callback", h.callback)
	router.GET("/:txRef", h.get)
	router.POST("/:txRef/verify", h.verify)
}

func (h *PaymentHandler) callback(c *gin.Context) {
	var req callbackRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.service.HandleCallback(c.Request.Context(), payment.CallbackInput{
		TransactionID: firstNonEmpty(req.TransactionID, req.Reference, c.Query("transaction_id"), c.Query("reference")),
		TxRef:         firstNonEmpty(req.TxRef, req.TrxRef, c.Query("tx_ref"), c.Query("trx_ref")),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *PaymentHandler) get(c *gin.Context) {
	p, err := h.service.GetPayment(c.Request.Context(), c.Param("txRef"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPaymentResponse(p))
}

func (h *PaymentHandler) verify(c *gin.Context) {
	res, err := h.service.VerifyByClient(c.Request.Context(), c.Param("txRef"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
