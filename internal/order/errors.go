package order

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("invalid order")
	ErrNotFound          = errors.New("order not found")
	ErrSignature         = errors.New("invalid payment signature")
	ErrConfiguration     = errors.New("payment gateway is not configured")
	ErrUpstream          = errors.New("payment gateway unavailable")
	ErrAmountMismatch    = errors.New("paid amount does not match order total")
	ErrAlreadyProcessed  = errors.New("order already processed")
	ErrInvalidTransition = errors.New("status transition not allowed")
	ErrMalformedCallback = errors.New("payment callback is malformed")
	// ErrPaidAfterCancel is a successful payment for an order that was
	// already cancelled. It needs manual reconciliation.
	ErrPaidAfterCancel = fmt.Errorf("%w: paid after cancellation", ErrAlreadyProcessed)
)
