package domain

import (
	"fmt"
	"time"
)

type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusAwaitingPayment OrderStatus = "AWAITING_PAYMENT"
	StatusConfirmed       OrderStatus = "CONFIRMED"
	StatusShipping        OrderStatus = "SHIPPING"
	StatusDelivered       OrderStatus = "DELIVERED"
	StatusCompleted       OrderStatus = "COMPLETED"
	StatusCancelled       OrderStatus = "CANCELLED"
)

var transitions = map[OrderStatus][]OrderStatus{
	StatusPending:         {StatusAwaitingPayment, StatusConfirmed, StatusCancelled},
	StatusAwaitingPayment: {StatusConfirmed, StatusCancelled},
	StatusConfirmed:       {StatusShipping, StatusCancelled},
	StatusShipping:        {StatusDelivered},
	StatusDelivered:       {StatusCompleted},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAwaitingPayment, StatusConfirmed, StatusShipping,
		StatusDelivered, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsPastPayment reports whether the order has left the payment phase for good,
// either by being confirmed (or later) or by being cancelled.
func (s OrderStatus) IsPastPayment() bool {
	return s != StatusPending && s != StatusAwaitingPayment
}

// Display collapses the lifecycle into the three values shown on simplified storefront screens.
func (s OrderStatus) Display() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "pending"
	}
}

func (s OrderStatus) String() string {
	return string(s)
}

func CanTransition(from, to OrderStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition describes a requested status change.
type Transition struct {
	To OrderStatus
	At time.Time
	// PaymentTxnID is the provider transaction of a verified successful payment.
	// Confirming an order that awaits payment requires it.
	PaymentTxnID string
	Reason       string
}

// Apply validates t against the transition table and mutates the order only when it is legal.
func (o *Order) Apply(t Transition) error {
	if !CanTransition(o.Status, t.To) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.Status, t.To)
	}
	if o.Status == StatusAwaitingPayment && t.To == StatusConfirmed && t.PaymentTxnID == "" {
		return fmt.Errorf("%w: confirming a gateway order needs a verified payment", ErrIllegalTransition)
	}

	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	o.Status = t.To
	o.LastTransitionAt = at.UTC()
	if t.PaymentTxnID != "" {
		txn := t.PaymentTxnID
		o.ProviderTransactionID = &txn
	}
	if t.To == StatusCancelled && t.Reason != "" {
		reason := t.Reason
		o.CancelReason = &reason
	}
	return nil
}
