package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ridloal/order-payment-service/internal/order/domain"
	"github.com/ridloal/order-payment-service/internal/order/repository"
	"github.com/ridloal/order-payment-service/internal/platform/logger"
	"github.com/ridloal/order-payment-service/internal/platform/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
)

var tracer = otel.Tracer("github.com/ridloal/order-payment-service/internal/order/service")

// EventPublisher receives order events after they are committed.
type EventPublisher interface {
	Publish(ctx context.Context, key, eventType string, payload any) error
}

// StateMachine is the only writer of order status. Every change goes through
// the transition table and an optimistic compare-and-set on the order version.
type StateMachine struct {
	repo      repository.OrderRepository
	publisher EventPublisher
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewStateMachine(repo repository.OrderRepository, publisher EventPublisher, m *metrics.Metrics) *StateMachine {
	return &StateMachine{repo: repo, publisher: publisher, metrics: m, now: time.Now}
}

// Apply loads the order and moves it to t.To.
func (sm *StateMachine) Apply(ctx context.Context, orderID string, t domain.Transition) (*domain.Order, error) {
	order, err := sm.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := sm.ApplyTo(ctx, order, t); err != nil {
		return nil, err
	}
	return order, nil
}

// ApplyTo transitions an order the caller already loaded. The stored row must
// still carry order.Version, otherwise domain.ErrConcurrentModification is
// returned and nothing is written. On error the caller's copy is left as it was.
func (sm *StateMachine) ApplyTo(ctx context.Context, order *domain.Order, t domain.Transition) error {
	ctx, span := tracer.Start(ctx, "StateMachine.Apply", trace.WithAttributes(
		attribute.String("order.id", order.ID),
		attribute.String("order.from", order.Status.String()),
		attribute.String("order.to", t.To.String()),
	))
	defer span.End()

	if t.At.IsZero() {
		t.At = sm.now()
	}
	next := order.Clone()
	if err := next.Apply(t); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	change := repository.StatusChange{From: order.Status, ExpectedVersion: order.Version, Reason: t.Reason}
	if err := sm.repo.UpdateOrderStatus(ctx, next, change); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("update order %s to %s: %w", order.ID, t.To, err)
	}
	*order = *next

	logger.Info("Order status changed",
		zap.String("order_id", order.ID),
		zap.String("from", change.From.String()),
		zap.String("to", order.Status.String()),
		zap.Int64("version", order.Version),
		zap.String("reason", t.Reason))
	sm.metrics.Transition(change.From.String(), order.Status.String())
	sm.publish(ctx, EventOrderStatusChanged, order, change.From, t.Reason)
	return nil
}

func (sm *StateMachine) publish(ctx context.Context, eventType string, order *domain.Order, from domain.OrderStatus, reason string) {
	if sm.publisher == nil {
		return
	}
	evt := domain.OrderEvent{
		OrderID:       order.ID,
		CustomerID:    order.CustomerID,
		From:          from,
		To:            order.Status,
		PaymentMethod: order.PaymentMethod,
		TotalAmount:   order.TotalAmount,
		Reason:        reason,
		OccurredAt:    order.LastTransitionAt,
	}
	if err := sm.publisher.Publish(ctx, order.ID, eventType, evt); err != nil {
		logger.Error("Failed to publish order event", err, zap.String("order_id", order.ID), zap.String("event_type", eventType))
	}
}
