package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

type PaymentMethod string

const (
	PaymentCOD      PaymentMethod = "COD"
	PaymentGatewayA PaymentMethod = "GATEWAY_A"
	PaymentGatewayB PaymentMethod = "GATEWAY_B"
)

// DefaultShippingFee is the flat fee charged on every order, in currency subunits.
const DefaultShippingFee int64 = 30000

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCOD, PaymentGatewayA, PaymentGatewayB:
		return true
	}
	return false
}

// IsGateway reports whether the method redirects to an external provider and settles by callback.
func (m PaymentMethod) IsGateway() bool {
	return m == PaymentGatewayA || m == PaymentGatewayB
}

type CustomerInfo struct {
	FullName string `json:"full_name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Phone    string `json:"phone" binding:"required"`
	Street   string `json:"street" binding:"required"`
	City     string `json:"city" binding:"required"`
	District string `json:"district" binding:"required"`
	Ward     string `json:"ward" binding:"required"`
}

var phonePattern = regexp.MustCompile(`^[0-9]{10,11}$`)

// Validate checks the shape of the shipping contact. Only the phone is normalised (trimmed).
func (c *CustomerInfo) Validate() error {
	c.Phone = strings.TrimSpace(c.Phone)
	if !phonePattern.MatchString(c.Phone) {
		return fmt.Errorf("%w: phone must be 10-11 digits", ErrValidation)
	}
	required := []struct{ name, value string }{
		{"full_name", c.FullName},
		{"email", c.Email},
		{"street", c.Street},
		{"city", c.City},
		{"district", c.District},
		{"ward", c.Ward},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s is required", ErrValidation, f.name)
		}
	}
	return nil
}

type Order struct {
	ID                    string        `json:"id"`
	CustomerID            string        `json:"customer_id"`
	Customer              CustomerInfo  `json:"customer"`
	Items                 []OrderItem   `json:"items"`
	PaymentMethod         PaymentMethod `json:"payment_method"`
	ShippingFee           int64         `json:"shipping_fee"`
	TotalAmount           int64         `json:"total_amount"`
	Status                OrderStatus   `json:"status"`
	Version               int64         `json:"version"`
	ProviderTransactionID *string       `json:"provider_transaction_id,omitempty"`
	CancelReason          *string       `json:"cancel_reason,omitempty"`
	CreatedAt             time.Time     `json:"created_at"`
	LastTransitionAt      time.Time     `json:"last_transition_at"`
}

type OrderItem struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	UnitPrice   int64  `json:"unit_price"`
	Quantity    int    `json:"quantity"`
}

func (i OrderItem) Subtotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// NewOrder snapshots the cart into a new order. The total is computed here once
// and never recomputed; the initial status depends on the payment method.
func NewOrder(id, customerID string, customer CustomerInfo, method PaymentMethod, cart CartSnapshot, shippingFee int64, now time.Time) (*Order, error) {
	if len(cart.Items) == 0 {
		return nil, ErrEmptyCart
	}
	if !method.Valid() {
		return nil, fmt.Errorf("%w: unsupported payment method %q", ErrValidation, method)
	}
	if shippingFee < 0 {
		return nil, fmt.Errorf("%w: shipping fee must not be negative", ErrValidation)
	}

	items := make([]OrderItem, len(cart.Items))
	total := shippingFee
	for i, ci := range cart.Items {
		if ci.Quantity <= 0 || ci.UnitPrice <= 0 {
			return nil, fmt.Errorf("%w: item %s must have positive quantity and price", ErrValidation, ci.ProductID)
		}
		items[i] = OrderItem{
			ProductID:   ci.ProductID,
			ProductName: ci.ProductName,
			UnitPrice:   ci.UnitPrice,
			Quantity:    ci.Quantity,
		}
		total += items[i].Subtotal()
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: order total must be positive", ErrValidation)
	}

	status := StatusPending
	if method.IsGateway() {
		status = StatusAwaitingPayment
	}

	now = now.UTC()
	return &Order{
		ID:               id,
		CustomerID:       customerID,
		Customer:         customer,
		Items:            items,
		PaymentMethod:    method,
		ShippingFee:      shippingFee,
		TotalAmount:      total,
		Status:           status,
		Version:          1,
		CreatedAt:        now,
		LastTransitionAt: now,
	}, nil
}

// ItemsTotal is the sum of line-item subtotals, excluding shipping.
func (o *Order) ItemsTotal() int64 {
	var sum int64
	for _, it := range o.Items {
		sum += it.Subtotal()
	}
	return sum
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	if o.ProviderTransactionID != nil {
		v := *o.ProviderTransactionID
		c.ProviderTransactionID = &v
	}
	if o.CancelReason != nil {
		v := *o.CancelReason
		c.CancelReason = &v
	}
	return &c
}

type CartItem struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
}

// CartSnapshot is the caller's cart as read at checkout time.
type CartSnapshot struct {
	CustomerID string     `json:"customer_id"`
	Items      []CartItem `json:"items"`
}

// Untuk request checkout
type CreateOrderRequest struct {
	CustomerID    string        `json:"-"`
	Customer      CustomerInfo  `json:"customer"`
	PaymentMethod PaymentMethod `json:"payment_method" binding:"required"`
	// ExpectedTotal is the total shown to the customer; only used as a sanity check.
	ExpectedTotal *int64 `json:"expected_total,omitempty"`
	ClientIP      string `json:"-"`
}

// CheckoutResult tells the storefront where to go next.
type CheckoutResult struct {
	Order       *Order `json:"order"`
	RedirectURL string `json:"redirect_url,omitempty"`
	// NextStep is "order_success" for COD and "redirect" for gateway methods.
	NextStep string `json:"next_step"`
}

const (
	NextStepOrderSuccess = "order_success"
	NextStepRedirect     = "redirect"
)

type OrderFilter struct {
	Statuses   []OrderStatus
	CustomerID string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

type UpdateStatusRequest struct {
	Status OrderStatus `json:"status" binding:"required"`
	Reason string      `json:"reason"`
}

// OrderEvent is published after every applied status transition.
type OrderEvent struct {
	OrderID       string        `json:"order_id"`
	CustomerID    string        `json:"customer_id"`
	From          OrderStatus   `json:"from"`
	To            OrderStatus   `json:"to"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	TotalAmount   int64         `json:"total_amount"`
	Reason        string        `json:"reason,omitempty"`
	OccurredAt    time.Time     `json:"occurred_at"`
}
