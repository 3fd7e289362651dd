package domain

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrGatewayUnavailable     = errors.New("payment gateway unavailable")
	ErrGatewayRejectedRequest = errors.New("payment gateway rejected the request")
	ErrValidationMismatch     = errors.New("payment evidence does not match the recorded charge")
	ErrReconciliationConflict = errors.New("reconciliation conflict")
	ErrBookingNotPending      = errors.New("booking is not pending")
	ErrPaymentInProgress      = errors.New("booking already has an active payment")
	ErrInvalidInput           = errors.New("invalid input")
)
