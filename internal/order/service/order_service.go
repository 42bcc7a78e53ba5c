package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ridloal/order-payment-service/internal/cart"
	"github.com/ridloal/order-payment-service/internal/order/domain"
	"github.com/ridloal/order-payment-service/internal/order/repository"
	"github.com/ridloal/order-payment-service/internal/payment"
	"github.com/ridloal/order-payment-service/internal/platform/config"
	"github.com/ridloal/order-payment-service/internal/platform/logger"
	"github.com/ridloal/order-payment-service/internal/platform/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	ReasonPaymentExpired      = "payment_expired"
	ReasonCancelledByCustomer = "cancelled_by_customer"
)

type OrderService interface {
	CreateOrder(ctx context.Context, req domain.CreateOrderRequest, snapshot domain.CartSnapshot) (*domain.CheckoutResult, error)
	RetryPayment(ctx context.Context, orderID, customerID, clientIP string) (*domain.CheckoutResult, error)
	CancelOrder(ctx context.Context, orderID, requestedBy, reason string) (*domain.Order, error)
	ConfirmCODOrder(ctx context.Context, orderID string) (*domain.Order, error)
	UpdateStatus(ctx context.Context, orderID string, req domain.UpdateStatusRequest) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
	// ExpireStalePayments cancels orders that waited for payment longer than
	// the configured expiry and returns how many were cancelled.
	ExpireStalePayments(ctx context.Context) (int, error)
}

type orderServiceImpl struct {
	orderRepo repository.OrderRepository
	sm        *StateMachine
	carts     cart.Store
	providers *payment.Registry
	metrics   *metrics.Metrics
	cfg       config.CheckoutConfig
	newID     func() string
	now       func() time.Time
}

func NewOrderService(or repository.OrderRepository, sm *StateMachine, carts cart.Store, providers *payment.Registry, m *metrics.Metrics, cfg config.CheckoutConfig) OrderService {
	return &orderServiceImpl{
		orderRepo: or,
		sm:        sm,
		carts:     carts,
		providers: providers,
		metrics:   m,
		cfg:       cfg,
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

func (s *orderServiceImpl) CreateOrder(ctx context.Context, req domain.CreateOrderRequest, snapshot domain.CartSnapshot) (*domain.CheckoutResult, error) {
	ctx, span := tracer.Start(ctx, "OrderService.CreateOrder", trace.WithAttributes(
		attribute.String("payment_method", string(req.PaymentMethod)),
	))
	defer span.End()

	if req.CustomerID == "" {
		return nil, fmt.Errorf("%w: customer is required", domain.ErrValidation)
	}
	if !req.PaymentMethod.Valid() {
		return nil, fmt.Errorf("%w: unsupported payment method %q", domain.ErrValidation, req.PaymentMethod)
	}
	if err := req.Customer.Validate(); err != nil {
		return nil, err
	}
	provider, err := s.providers.Get(req.PaymentMethod)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	order, err := domain.NewOrder(s.newID(), req.CustomerID, req.Customer, req.PaymentMethod, snapshot, s.cfg.ShippingFee, s.now())
	if err != nil {
		return nil, err
	}
	if req.ExpectedTotal != nil {
		diff := *req.ExpectedTotal - order.TotalAmount
		if diff < 0 {
			diff = -diff
		}
		if diff > s.cfg.TotalTolerance {
			logger.Warn("CreateOrder: submitted total differs from computed total",
				zap.String("customer_id", req.CustomerID),
				zap.Int64("expected_total", *req.ExpectedTotal),
				zap.Int64("computed_total", order.TotalAmount))
			return nil, fmt.Errorf("%w: expected %d, computed %d", domain.ErrTotalMismatch, *req.ExpectedTotal, order.TotalAmount)
		}
	}

	if err := s.orderRepo.CreateOrderWithItems(ctx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist order")
		logger.Error("CreateOrder: failed to persist order", err, zap.String("order_id", order.ID))
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	span.SetAttributes(attribute.String("order.id", order.ID))
	s.metrics.OrderCreated(string(order.PaymentMethod))
	s.sm.publish(ctx, EventOrderCreated, order, "", "")
	logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("customer_id", order.CustomerID),
		zap.String("payment_method", string(order.PaymentMethod)),
		zap.Int64("total_amount", order.TotalAmount))

	initiation, err := s.initiate(ctx, provider, order, req.ClientIP)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if !order.PaymentMethod.IsGateway() {
		s.clearCart(ctx, order)
		return &domain.CheckoutResult{Order: order, NextStep: domain.NextStepOrderSuccess}, nil
	}
	return &domain.CheckoutResult{Order: order, RedirectURL: initiation.RedirectURL, NextStep: domain.NextStepRedirect}, nil
}

// initiate starts the payment under the configured timeout. Failures leave the
// order as it is so the customer can retry.
func (s *orderServiceImpl) initiate(ctx context.Context, provider payment.Provider, order *domain.Order, clientIP string) (*payment.Initiation, error) {
	timeout := s.cfg.InitiateTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := provider.Initiate(ctx, payment.InitiateRequest{Order: order, ClientIP: clientIP})
	if err == nil {
		switch {
		case res == nil:
			err = errors.New("provider returned no initiation")
		case res.Immediate != nil && !res.Immediate.Success:
			err = fmt.Errorf("provider declined immediately (code %s)", res.Immediate.ResponseCode)
		case res.Immediate == nil && res.RedirectURL == "":
			err = errors.New("provider returned no redirect url")
		}
	}
	s.metrics.Initiation(string(provider.Method()), time.Since(start), err)
	if err != nil {
		logger.Error("Payment initiation failed", err,
			zap.String("order_id", order.ID),
			zap.String("payment_method", string(order.PaymentMethod)))
		return nil, newInitiationError(order.ID, err)
	}
	return res, nil
}

func (s *orderServiceImpl) RetryPayment(ctx context.Context, orderID, customerID, clientIP string) (*domain.CheckoutResult, error) {
	order, err := s.orderRepo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.CustomerID != customerID {
		return nil, domain.ErrForbidden
	}
	if order.Status != domain.StatusAwaitingPayment {
		return nil, fmt.Errorf("%w: order %s is %s, not awaiting payment", domain.ErrIllegalTransition, order.ID, order.Status)
	}
	provider, err := s.providers.Get(order.PaymentMethod)
	if err != nil {
		return nil, err
	}

	initiation, err := s.initiate(ctx, provider, order, clientIP)
	if err != nil {
		return nil, err
	}
	logger.Info("Payment re-initiated", zap.String("order_id", order.ID))
	return &domain.CheckoutResult{Order: order, RedirectURL: initiation.RedirectURL, NextStep: domain.NextStepRedirect}, nil
}

func (s *orderServiceImpl) CancelOrder(ctx context.Context, orderID, requestedBy, reason string) (*domain.Order, error) {
	order, err := s.orderRepo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.CustomerID != requestedBy {
		return nil, domain.ErrForbidden
	}
	// Paid gateway orders can only be reversed by staff once a refund is arranged.
	if order.Status == domain.StatusConfirmed && order.PaymentMethod.IsGateway() {
		return nil, fmt.Errorf("%w: order %s", domain.ErrRefundRequired, order.ID)
	}
	if reason == "" {
		reason = ReasonCancelledByCustomer
	}
	if err := s.sm.ApplyTo(ctx, order, domain.Transition{To: domain.StatusCancelled, Reason: reason}); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *orderServiceImpl) ConfirmCODOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.orderRepo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentMethod != domain.PaymentCOD {
		return nil, fmt.Errorf("%w: order %s is paid by %s and confirms on payment", domain.ErrIllegalTransition, order.ID, order.PaymentMethod)
	}
	if err := s.sm.ApplyTo(ctx, order, domain.Transition{To: domain.StatusConfirmed, Reason: "cod_confirmed"}); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *orderServiceImpl) UpdateStatus(ctx context.Context, orderID string, req domain.UpdateStatusRequest) (*domain.Order, error) {
	if !req.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, req.Status)
	}
	order, err := s.orderRepo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == domain.StatusAwaitingPayment && req.Status == domain.StatusConfirmed {
		return nil, fmt.Errorf("%w: order %s confirms only on a verified payment", domain.ErrIllegalTransition, order.ID)
	}
	// Only checkout puts an order into the payment phase.
	if req.Status == domain.StatusAwaitingPayment {
		return nil, fmt.Errorf("%w: order %s cannot be moved to %s by staff", domain.ErrIllegalTransition, order.ID, req.Status)
	}
	if err := s.sm.ApplyTo(ctx, order, domain.Transition{To: req.Status, Reason: req.Reason}); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *orderServiceImpl) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.orderRepo.GetOrderByID(ctx, orderID)
}

func (s *orderServiceImpl) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, st)
		}
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must not be negative", domain.ErrValidation)
	}
	return s.orderRepo.ListOrders(ctx, filter)
}

func (s *orderServiceImpl) ExpireStalePayments(ctx context.Context) (int, error) {
	orders, err := s.orderRepo.GetAwaitingPaymentOrdersOlderThan(ctx, s.cfg.PaymentExpiry)
	if err != nil {
		logger.Error("ExpireStalePayments: failed to get awaiting orders", err)
		return 0, err
	}
	if len(orders) == 0 {
		return 0, nil
	}

	logger.Info("ExpireStalePayments: found orders past payment expiry", zap.Int("count", len(orders)))
	expired := 0
	for i := range orders {
		order := &orders[i]
		err := s.sm.ApplyTo(ctx, order, domain.Transition{To: domain.StatusCancelled, Reason: ReasonPaymentExpired})
		switch {
		case err == nil:
			expired++
		case errors.Is(err, domain.ErrConcurrentModification), errors.Is(err, domain.ErrIllegalTransition):
			// A callback settled the order between the query and the update.
			logger.Info("ExpireStalePayments: order changed concurrently, skipped", zap.String("order_id", order.ID))
		default:
			logger.Error("ExpireStalePayments: failed to cancel order", err, zap.String("order_id", order.ID))
		}
	}
	return expired, nil
}

func (s *orderServiceImpl) clearCart(ctx context.Context, order *domain.Order) {
	if s.carts == nil {
		return
	}
	if err := s.carts.Clear(ctx, order.CustomerID); err != nil {
		logger.Warn("Failed to clear cart", zap.String("order_id", order.ID), zap.String("customer_id", order.CustomerID), zap.Error(err))
	}
}
