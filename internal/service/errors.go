package service

import (
	"errors"

	"comercio-service/internal/models"
)

var (
	ErrEmptyCart          = errors.New("cart is empty, nothing to checkout")
	ErrNotFound           = errors.New("not found")
	ErrAlreadyPaid        = errors.New("order already has a successful payment")
	ErrInvalidSignature   = errors.New("webhook signature verification failed")
	ErrInvalidTransition  = errors.New("illegal order status transition")
	ErrRefundPrecondition = errors.New("refund precondition failed: payment or order line missing")
	ErrWrongState         = errors.New("operation not valid in current state")
	ErrValidation         = errors.New("invalid input")
	ErrGateway            = errors.New("payment gateway request failed")
)

// IsInsufficientStock reports whether err wraps a stock shortage.
func IsInsufficientStock(err error) bool {
	var ise *models.InsufficientStockError
	return errors.As(err, &ise)
}
