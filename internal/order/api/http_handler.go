package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ridloal/order-payment-service/internal/cart"
	"github.com/ridloal/order-payment-service/internal/order/domain"
	"github.com/ridloal/order-payment-service/internal/order/service"
	"github.com/ridloal/order-payment-service/internal/payment"
	"github.com/ridloal/order-payment-service/internal/payment/gatewaya"
	"github.com/ridloal/order-payment-service/internal/payment/gatewayb"
	"github.com/ridloal/order-payment-service/internal/platform/auth"
	"github.com/ridloal/order-payment-service/internal/platform/logger"
	"go.uber.org/zap"
)

const maxCallbackBody = 64 << 10

type CallbackReconciler interface {
	HandleCallback(ctx context.Context, method domain.PaymentMethod, raw payment.RawPayload) (service.CallbackResult, error)
}

type OrderHandler struct {
	orderService  service.OrderService
	reconciler    CallbackReconciler
	carts         cart.Store
	storefrontURL string
}

func NewOrderHandler(os service.OrderService, rec CallbackReconciler, carts cart.Store, storefrontURL string) *OrderHandler {
	return &OrderHandler{
		orderService:  os,
		reconciler:    rec,
		carts:         carts,
		storefrontURL: strings.TrimRight(storefrontURL, "/"),
	}
}

func (h *OrderHandler) RegisterRoutes(router *gin.RouterGroup, authn *auth.Authenticator) {
	customer := router.Group("", authn.RequireUser())
	{
		customer.POST("/checkout", h.Checkout)
		customer.GET("/orders/:id", h.GetOrder)
		customer.POST("/orders/:id/payment", h.RetryPayment)
		customer.POST("/orders/:id/cancel", h.CancelOrder)
	}

	admin := router.Group("/admin", authn.RequireUser(), auth.RequireAdmin())
	{
		admin.GET("/orders", h.ListOrders)
		admin.POST("/orders/:id/confirm", h.ConfirmCODOrder)
		admin.PATCH("/orders/:id/status", h.UpdateStatus)
	}

	// Providers and browsers returning from a gateway carry no bearer token.
	payments := router.Group("/payments")
	{
		payments.GET("/callback/:provider", h.PaymentCallback)
		payments.POST("/callback/:provider", h.PaymentCallback)
		payments.GET("/return", h.PaymentReturn)
	}
}

type orderResponse struct {
	*domain.Order
	DisplayStatus string `json:"display_status"`
}

func toResponse(o *domain.Order) orderResponse {
	return orderResponse{Order: o, DisplayStatus: o.Status.Display()}
}

type checkoutResponse struct {
	Order       orderResponse `json:"order"`
	RedirectURL string        `json:"redirect_url,omitempty"`
	NextStep    string        `json:"next_step"`
}

func (h *OrderHandler) Checkout(c *gin.Context) {
	var req domain.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Checkout Hdl: bad request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload: " + err.Error()})
		return
	}
	req.CustomerID = auth.UserID(c)
	req.ClientIP = c.ClientIP()

	snapshot, err := h.carts.ReadCart(c.Request.Context(), req.CustomerID)
	if err != nil {
		h.writeError(c, "Checkout", err)
		return
	}

	res, err := h.orderService.CreateOrder(c.Request.Context(), req, snapshot)
	if err != nil {
		h.writeError(c, "Checkout", err)
		return
	}
	c.JSON(http.StatusCreated, checkoutResponse{Order: toResponse(res.Order), RedirectURL: res.RedirectURL, NextStep: res.NextStep})
}

func (h *OrderHandler) RetryPayment(c *gin.Context) {
	res, err := h.orderService.RetryPayment(c.Request.Context(), c.Param("id"), auth.UserID(c), c.ClientIP())
	if err != nil {
		h.writeError(c, "RetryPayment", err)
		return
	}
	c.JSON(http.StatusOK, checkoutResponse{Order: toResponse(res.Order), RedirectURL: res.RedirectURL, NextStep: res.NextStep})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandler) CancelOrder(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload: " + err.Error()})
			return
		}
	}
	order, err := h.orderService.CancelOrder(c.Request.Context(), c.Param("id"), auth.UserID(c), req.Reason)
	if err != nil {
		h.writeError(c, "CancelOrder", err)
		return
	}
	c.JSON(http.StatusOK, toResponse(order))
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.orderService.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "GetOrder", err)
		return
	}
	if order.CustomerID != auth.UserID(c) && !auth.IsAdmin(c) {
		// Other customers' orders are reported as missing.
		h.writeError(c, "GetOrder", domain.ErrOrderNotFound)
		return
	}
	c.JSON(http.StatusOK, toResponse(order))
}

func (h *OrderHandler) ListOrders(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		h.writeError(c, "ListOrders", err)
		return
	}
	orders, err := h.orderService.ListOrders(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, "ListOrders", err)
		return
	}
	out := make([]orderResponse, len(orders))
	for i := range orders {
		out[i] = toResponse(&orders[i])
	}
	c.JSON(http.StatusOK, gin.H{"orders": out, "limit": filter.Limit, "offset": filter.Offset})
}

func parseFilter(c *gin.Context) (domain.OrderFilter, error) {
	var f domain.OrderFilter
	for _, raw := range c.QueryArray("status") {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				f.Statuses = append(f.Statuses, domain.OrderStatus(strings.ToUpper(s)))
			}
		}
	}
	f.CustomerID = c.Query("customer_id")

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, p.name)
		}
		*p.dst = &t
	}

	var err error
	if f.Limit, err = queryInt(c, "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = queryInt(c, "offset"); err != nil {
		return f, err
	}
	return f, nil
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", domain.ErrValidation, name)
	}
	return v, nil
}

func (h *OrderHandler) ConfirmCODOrder(c *gin.Context) {
	order, err := h.orderService.ConfirmCODOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "ConfirmCODOrder", err)
		return
	}
	c.JSON(http.StatusOK, toResponse(order))
}

func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	var req domain.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload: " + err.Error()})
		return
	}
	req.Status = domain.OrderStatus(strings.ToUpper(string(req.Status)))
	order, err := h.orderService.UpdateStatus(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.writeError(c, "UpdateStatus", err)
		return
	}
	c.JSON(http.StatusOK, toResponse(order))
}

// PaymentCallback always answers with the provider's acknowledgement so the
// provider stops retrying; the outcome is only logged.
func (h *OrderHandler) PaymentCallback(c *gin.Context) {
	method := domain.PaymentMethod(strings.ToUpper(c.Param("provider")))

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		logger.Warn("PaymentCallback Hdl: failed to read body", zap.String("provider", string(method)), zap.Error(err))
	}
	raw := payment.RawPayload{Query: c.Request.URL.Query(), Body: body}

	res, err := h.reconciler.HandleCallback(c.Request.Context(), method, raw)
	fields := []zap.Field{
		zap.String("provider", string(method)),
		zap.String("outcome", res.Outcome),
		zap.String("order_id", res.OrderID),
	}
	if err != nil {
		logger.Warn("PaymentCallback Hdl: callback not applied", append(fields, zap.Error(err))...)
	} else {
		logger.Info("PaymentCallback Hdl: callback processed", fields...)
	}

	ack := res.Ack
	if ack.StatusCode == 0 {
		ack = payment.DefaultAck()
	}
	if ack.Body == nil {
		c.Status(ack.StatusCode)
		return
	}
	c.JSON(ack.StatusCode, ack.Body)
}

// PaymentReturn sends the browser back to the storefront confirmation page.
// The result shown here is advisory; only callbacks change order state.
func (h *OrderHandler) PaymentReturn(c *gin.Context) {
	q := c.Request.URL.Query()

	var orderID string
	var success bool
	switch {
	case q.Has(gatewayb.PartnerCodeField):
		orderID = gatewayb.OrderIDFromRef(q.Get(gatewayb.OrderIDField))
		success = q.Get(gatewayb.ResultCodeField) == strconv.Itoa(gatewayb.SuccessCode)
	case q.Has(gatewaya.TxnRefField):
		orderID = payment.OrderIDFromAttemptRef(q.Get(gatewaya.TxnRefField))
		success = q.Get(gatewaya.ResponseCodeField) == gatewaya.SuccessCode
	}
	if orderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unrecognised payment return parameters"})
		return
	}

	status := "failed"
	if success {
		status = "success"
	}
	target := fmt.Sprintf("%s/orders/%s/confirmation?status=%s", h.storefrontURL, url.PathEscape(orderID), status)
	c.Redirect(http.StatusFound, target)
}

func (h *OrderHandler) writeError(c *gin.Context, op string, err error) {
	var initErr *service.InitiationError
	switch {
	case errors.As(err, &initErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment could not be started, please retry", "order_id": initErr.OrderID, "retryable": true})
	case errors.Is(err, domain.ErrEmptyCart), errors.Is(err, domain.ErrValidation), errors.Is(err, payment.ErrUnknownProvider):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrTotalMismatch):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": domain.ErrOrderNotFound.Error()})
	case errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrConcurrentModification):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "retryable": true})
	case errors.Is(err, domain.ErrIllegalTransition), errors.Is(err, domain.ErrRefundRequired):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logger.Error(op+" Hdl: unhandled service error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
