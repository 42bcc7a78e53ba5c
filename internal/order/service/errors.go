package service

import (
	"errors"
	"fmt"

	"github.com/ridloal/order-payment-service/internal/order/domain"
	"github.com/ridloal/order-payment-service/internal/payment"
)

// InitiationError reports a failed payment start. The order it names was
// persisted and can be retried.
type InitiationError struct {
	OrderID string
	Err     error
}

func (e *InitiationError) Error() string {
	return fmt.Sprintf("order %s: %v", e.OrderID, e.Err)
}

func (e *InitiationError) Unwrap() error { return e.Err }

func newInitiationError(orderID string, err error) error {
	if !errors.Is(err, payment.ErrInitiationFailed) {
		err = fmt.Errorf("%w: %v", payment.ErrInitiationFailed, err)
	}
	return &InitiationError{OrderID: orderID, Err: err}
}

// IsRetryable reports whether the caller may simply repeat the request.
func IsRetryable(err error) bool {
	return errors.Is(err, domain.ErrConcurrentModification) || errors.Is(err, payment.ErrInitiationFailed)
}
