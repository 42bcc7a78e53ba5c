package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ridloal/order-payment-service/internal/cart"
	"github.com/ridloal/order-payment-service/internal/order/domain"
	"github.com/ridloal/order-payment-service/internal/order/repository"
	"github.com/ridloal/order-payment-service/internal/payment"
	"github.com/ridloal/order-payment-service/internal/platform/logger"
	"github.com/ridloal/order-payment-service/internal/platform/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	OutcomeConfirmed        = "confirmed"
	OutcomeDuplicate        = "duplicate"
	OutcomePaidAfterCancel  = "paid_after_cancel"
	OutcomePaymentFailed    = "payment_failed"
	OutcomeAmountMismatch   = "amount_mismatch"
	OutcomeInvalidSignature = "invalid_signature"
	OutcomeMalformed        = "malformed"
	OutcomeOrderNotFound    = "order_not_found"
	OutcomeUnknownProvider  = "unknown_provider"
	OutcomeConflict         = "conflict"
	OutcomeError            = "error"
)

// CallbackResult describes what a callback did. Ack is what the provider must
// receive regardless of the outcome.
type CallbackResult struct {
	Outcome string
	OrderID string
	Ack     payment.Ack
}

// CallbackReconciler turns provider callbacks into at most one confirmation
// per order. Replays and late duplicates are acknowledged without writes.
type CallbackReconciler struct {
	orderRepo repository.OrderRepository
	sm        *StateMachine
	providers *payment.Registry
	carts     cart.Store
	metrics   *metrics.Metrics
}

func NewCallbackReconciler(or repository.OrderRepository, sm *StateMachine, providers *payment.Registry, carts cart.Store, m *metrics.Metrics) *CallbackReconciler {
	return &CallbackReconciler{orderRepo: or, sm: sm, providers: providers, carts: carts, metrics: m}
}

func (r *CallbackReconciler) HandleCallback(ctx context.Context, method domain.PaymentMethod, raw payment.RawPayload) (res CallbackResult, err error) {
	ctx, span := tracer.Start(ctx, "CallbackReconciler.HandleCallback", trace.WithAttributes(
		attribute.String("provider", string(method)),
	))
	defer func() {
		span.SetAttributes(attribute.String("callback.outcome", res.Outcome), attribute.String("order.id", res.OrderID))
		span.End()
		r.metrics.Callback(string(method), res.Outcome)
	}()

	provider, err := r.providers.Get(method)
	if err != nil {
		logger.Warn("Callback for unknown provider", zap.String("provider", string(method)))
		return CallbackResult{Outcome: OutcomeUnknownProvider, Ack: payment.DefaultAck()}, err
	}
	res.Ack = provider.Ack()

	outcome, err := provider.ParseCallback(ctx, raw)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			logger.Warn("Rejected payment callback with invalid signature",
				zap.Bool("security_event", true),
				zap.String("provider", string(method)))
			res.Outcome = OutcomeInvalidSignature
			return res, err
		}
		logger.Warn("Rejected unreadable payment callback", zap.String("provider", string(method)), zap.Error(err))
		res.Outcome = OutcomeMalformed
		return res, err
	}
	res.OrderID = outcome.OrderID

	order, err := r.orderRepo.GetOrderByID(ctx, outcome.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			logger.Warn("Payment callback for unknown order", zap.String("provider", string(method)), zap.String("order_id", outcome.OrderID))
			res.Outcome = OutcomeOrderNotFound
			return res, err
		}
		res.Outcome = OutcomeError
		return res, err
	}

	if order.PaymentMethod != method {
		logger.Warn("Payment callback from a provider the order does not use",
			zap.Bool("security_event", true),
			zap.String("provider", string(method)),
			zap.String("order_id", order.ID),
			zap.String("order_payment_method", string(order.PaymentMethod)))
		res.Outcome = OutcomeMalformed
		return res, fmt.Errorf("%w: order %s is paid by %s", payment.ErrMalformedPayload, order.ID, order.PaymentMethod)
	}

	if order.Status == domain.StatusCancelled && outcome.Success {
		r.paidAfterCancel(&res, order, outcome)
		return res, nil
	}
	if order.Status != domain.StatusAwaitingPayment {
		logger.Info("Duplicate payment callback ignored",
			zap.String("order_id", order.ID),
			zap.String("status", order.Status.String()),
			zap.Bool("success", outcome.Success))
		res.Outcome = OutcomeDuplicate
		return res, nil
	}

	if outcome.Amount != order.TotalAmount {
		logger.Warn("Payment callback amount does not match order total",
			zap.Bool("security_event", true),
			zap.String("order_id", order.ID),
			zap.Int64("paid_amount", outcome.Amount),
			zap.Int64("order_total", order.TotalAmount))
		res.Outcome = OutcomeAmountMismatch
		return res, fmt.Errorf("%w: paid %d, order total %d", domain.ErrAmountMismatch, outcome.Amount, order.TotalAmount)
	}

	if !outcome.Success {
		logger.Info("Payment failed at provider, order keeps awaiting payment",
			zap.String("order_id", order.ID),
			zap.String("response_code", outcome.ResponseCode))
		res.Outcome = OutcomePaymentFailed
		return res, nil
	}
	if outcome.ProviderTxnID == "" {
		res.Outcome = OutcomeMalformed
		return res, fmt.Errorf("%w: successful payment without transaction id", payment.ErrMalformedPayload)
	}

	err = r.sm.ApplyTo(ctx, order, domain.Transition{
		To:           domain.StatusConfirmed,
		PaymentTxnID: outcome.ProviderTxnID,
		Reason:       "payment_confirmed",
	})
	if errors.Is(err, domain.ErrConcurrentModification) {
		return r.afterConflict(ctx, res, outcome)
	}
	if err != nil {
		logger.Error("Failed to confirm paid order", err, zap.String("order_id", order.ID))
		res.Outcome = OutcomeError
		return res, err
	}

	logger.Info("Order confirmed by payment callback",
		zap.String("order_id", order.ID),
		zap.String("provider", string(method)),
		zap.String("provider_txn_id", outcome.ProviderTxnID))
	if r.carts != nil {
		if err := r.carts.Clear(ctx, order.CustomerID); err != nil {
			logger.Warn("Failed to clear cart after payment", zap.String("order_id", order.ID), zap.Error(err))
		}
	}
	res.Outcome = OutcomeConfirmed
	return res, nil
}

// afterConflict decides what a lost compare-and-set means: if the order has
// already left the payment phase another delivery won and this one is a replay.
func (r *CallbackReconciler) afterConflict(ctx context.Context, res CallbackResult, outcome *payment.Outcome) (CallbackResult, error) {
	orderID := outcome.OrderID
	current, err := r.orderRepo.GetOrderByID(ctx, orderID)
	if err != nil {
		res.Outcome = OutcomeError
		return res, err
	}
	if current.Status == domain.StatusCancelled {
		r.paidAfterCancel(&res, current, outcome)
		return res, nil
	}
	if current.Status.IsPastPayment() {
		logger.Info("Payment callback lost race to a concurrent update",
			zap.String("order_id", orderID),
			zap.String("status", current.Status.String()))
		res.Outcome = OutcomeDuplicate
		return res, nil
	}
	res.Outcome = OutcomeConflict
	return res, fmt.Errorf("confirm order %s: %w", orderID, domain.ErrConcurrentModification)
}

// paidAfterCancel records a captured payment for an order that was already
// cancelled. The order stays cancelled; the money has to be refunded by hand.
func (r *CallbackReconciler) paidAfterCancel(res *CallbackResult, order *domain.Order, outcome *payment.Outcome) {
	reason := ""
	if order.CancelReason != nil {
		reason = *order.CancelReason
	}
	logger.Warn("Payment captured for a cancelled order, refund required",
		zap.Bool("operator_action", true),
		zap.String("order_id", order.ID),
		zap.String("payment_method", string(order.PaymentMethod)),
		zap.String("provider_txn_id", outcome.ProviderTxnID),
		zap.Int64("paid_amount", outcome.Amount),
		zap.String("cancel_reason", reason))
	res.Outcome = OutcomePaidAfterCancel
}
