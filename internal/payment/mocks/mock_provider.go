package mocks

import (
	"context"

	"github.com/ridloal/order-payment-service/internal/order/domain"
	"github.com/ridloal/order-payment-service/internal/payment"
	"github.com/stretchr/testify/mock"
)

// MockProvider reports PaymentMethod from Method without recording a call.
type MockProvider struct {
	mock.Mock
	PaymentMethod domain.PaymentMethod
	AckValue      payment.Ack
}

func (m *MockProvider) Method() domain.PaymentMethod { return m.PaymentMethod }

func (m *MockProvider) Initiate(ctx context.Context, req payment.InitiateRequest) (*payment.Initiation, error) {
	args := m.Called(ctx, req)
	if r := args.Get(0); r != nil {
		return r.(*payment.Initiation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) ParseCallback(ctx context.Context, payload payment.RawPayload) (*payment.Outcome, error) {
	args := m.Called(ctx, payload)
	if r := args.Get(0); r != nil {
		return r.(*payment.Outcome), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) Ack() payment.Ack { return m.AckValue }
