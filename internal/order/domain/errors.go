package domain

import "errors"

var (
	ErrValidation             = errors.New("validation error")
	ErrEmptyCart              = errors.New("cart is empty, nothing to checkout")
	ErrTotalMismatch          = errors.New("submitted total does not match computed total")
	ErrAmountMismatch         = errors.New("paid amount does not match order total")
	ErrOrderNotFound          = errors.New("order not found")
	ErrIllegalTransition      = errors.New("illegal order status transition")
	ErrConcurrentModification = errors.New("order was modified concurrently, retry")
	ErrRefundRequired         = errors.New("order is paid; cancellation requires a refund")
	ErrForbidden              = errors.New("order does not belong to caller")
)
