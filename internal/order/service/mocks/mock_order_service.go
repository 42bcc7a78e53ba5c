package mocks

import (
	"context"

	"github.com/ridloal/order-payment-service/internal/order/domain"
	"github.com/stretchr/testify/mock"
)

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) CreateOrder(ctx context.Context, req domain.CreateOrderRequest, snapshot domain.CartSnapshot) (*domain.CheckoutResult, error) {
	args := m.Called(ctx, req, snapshot)
	if r := args.Get(0); r != nil {
		return r.(*domain.CheckoutResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockOrderService) RetryPayment(ctx context.Context, orderID, customerID, clientIP string) (*domain.CheckoutResult, error) {
	args := m.Called(ctx, orderID, customerID, clientIP)
	if r := args.Get(0); r != nil {
		return r.(*domain.CheckoutResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockOrderService) CancelOrder(ctx context.Context, orderID, requestedBy, reason string) (*domain.Order, error) {
	args := m.Called(ctx, orderID, requestedBy, reason)
	return orderOrNil(args.Get(0)), args.Error(1)
}

func (m *MockOrderService) ConfirmCODOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	args := m.Called(ctx, orderID)
	return orderOrNil(args.Get(0)), args.Error(1)
}

func (m *MockOrderService) UpdateStatus(ctx context.Context, orderID string, req domain.UpdateStatusRequest) (*domain.Order, error) {
	args := m.Called(ctx, orderID, req)
	return orderOrNil(args.Get(0)), args.Error(1)
}

func (m *MockOrderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	args := m.Called(ctx, orderID)
	return orderOrNil(args.Get(0)), args.Error(1)
}

func (m *MockOrderService) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	args := m.Called(ctx, filter)
	if r := args.Get(0); r != nil {
		return r.([]domain.Order), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockOrderService) ExpireStalePayments(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func orderOrNil(v any) *domain.Order {
	if v == nil {
		return nil
	}
	return v.(*domain.Order)
}
