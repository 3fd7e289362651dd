package domain

import "time"

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusApproved PaymentStatus = "approved"
	PaymentStatusRejected PaymentStatus = "rejected"
)

// Terminal statuses never transition again.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusApproved || s == PaymentStatusRejected
}

type RejectionReason string

const (
	ReasonGatewayFailed          RejectionReason = "gateway_failed"
	ReasonValidationMismatch     RejectionReason = "validation_mismatch"
	ReasonAdminRejected          RejectionReason = "admin_rejected"
	ReasonGatewayRejectedRequest RejectionReason = "gateway_rejected_request"
	ReasonBookingCancelled       RejectionReason = "booking_cancelled"
)

type Payment struct {
	ID                   string
	TransactionRef       string
	BookingID            string
	Amount               int64
	Currency             string
	Status               PaymentStatus
	GatewayTransactionID string
	CheckoutURL          string
	FailureReason        RejectionReason
	VerifiedAt           *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (p *Payment) IsPending() bool {
	return p.Status == PaymentStatusPending
}
