// Package payment defines the provider-neutral contract every payment adapter
// implements, plus the registry the order service uses to pick one.
package payment

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ridloal/order-payment-service/internal/order/domain"
)

// InitiateRequest is what an adapter needs to start a payment for an order.
type InitiateRequest struct {
	Order    *domain.Order
	ClientIP string
}

// Initiation is either a redirect to the provider or an immediate outcome (COD).
type Initiation struct {
	RedirectURL string
	Immediate   *Outcome
}

// Outcome is a provider callback translated into neutral terms.
type Outcome struct {
	OrderID       string
	Success       bool
	ProviderTxnID string
	ResponseCode  string
	// Amount is the paid amount normalised to currency subunits.
	Amount int64
}

// RawPayload is an inbound callback exactly as received.
type RawPayload struct {
	Query url.Values
	Body  []byte
}

// Ack is the response a provider expects from its callback endpoint.
type Ack struct {
	StatusCode int
	Body       any
}

type Provider interface {
	Method() domain.PaymentMethod
	Initiate(ctx context.Context, req InitiateRequest) (*Initiation, error)
	// ParseCallback verifies authenticity and maps the payload. A payload that
	// fails verification returns ErrInvalidSignature and no outcome.
	ParseCallback(ctx context.Context, payload RawPayload) (*Outcome, error)
	Ack() Ack
}

// Registry resolves providers by payment method.
type Registry struct {
	providers map[domain.PaymentMethod]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[domain.PaymentMethod]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Method()] = p
	}
	return r
}

func (r *Registry) Get(method domain.PaymentMethod) (Provider, error) {
	p, ok := r.providers[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, method)
	}
	return p, nil
}

// DefaultAck is returned to callers whose provider could not be resolved.
func DefaultAck() Ack {
	return Ack{StatusCode: http.StatusOK, Body: map[string]string{"status": "received"}}
}
