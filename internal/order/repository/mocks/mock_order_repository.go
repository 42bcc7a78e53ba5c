package mocks

import (
	"context"
	"time"

	"github.com/ridloal/order-payment-service/internal/order/domain"
	"github.com/ridloal/order-payment-service/internal/order/repository"
	"github.com/stretchr/testify/mock"
)

type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) CreateOrderWithItems(ctx context.Context, order *domain.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *MockOrderRepository) GetOrderByID(ctx context.Context, orderID string) (*domain.Order, error) {
	args := m.Called(ctx, orderID)
	if o := args.Get(0); o != nil {
		// Hand out a copy, like a real read from storage.
		return o.(*domain.Order).Clone(), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockOrderRepository) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	args := m.Called(ctx, filter)
	if o := args.Get(0); o != nil {
		return o.([]domain.Order), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockOrderRepository) UpdateOrderStatus(ctx context.Context, order *domain.Order, change repository.StatusChange) error {
	args := m.Called(ctx, order, change)
	if args.Error(0) == nil && order != nil {
		order.Version = change.ExpectedVersion + 1
	}
	return args.Error(0)
}

func (m *MockOrderRepository) GetAwaitingPaymentOrdersOlderThan(ctx context.Context, duration time.Duration) ([]domain.Order, error) {
	args := m.Called(ctx, duration)
	if o := args.Get(0); o != nil {
		return o.([]domain.Order), args.Error(1)
	}
	return nil, args.Error(1)
}
