package mocks

import (
	"context"

	"github.com/ridloal/order-payment-service/internal/order/domain"
	"github.com/stretchr/testify/mock"
)

type MockCartStore struct {
	mock.Mock
}

func (m *MockCartStore) ReadCart(ctx context.Context, customerID string) (domain.CartSnapshot, error) {
	args := m.Called(ctx, customerID)
	return args.Get(0).(domain.CartSnapshot), args.Error(1)
}

func (m *MockCartStore) Clear(ctx context.Context, customerID string) error {
	args := m.Called(ctx, customerID)
	return args.Error(0)
}
