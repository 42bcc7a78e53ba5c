package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	cartMocks "github.com/ridloal/order-payment-service/internal/cart/mocks"
	"github.com/ridloal/order-payment-service/internal/order/domain"
	"github.com/ridloal/order-payment-service/internal/order/service"
	svcMocks "github.com/ridloal/order-payment-service/internal/order/service/mocks"
	"github.com/ridloal/order-payment-service/internal/payment"
	"github.com/ridloal/order-payment-service/internal/platform/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var jwtSecret = []byte("handler-test-secret")

type stubReconciler struct {
	res    service.CallbackResult
	err    error
	method domain.PaymentMethod
	raw    payment.RawPayload
}

func (s *stubReconciler) HandleCallback(_ context.Context, method domain.PaymentMethod, raw payment.RawPayload) (service.CallbackResult, error) {
	s.method, s.raw = method, raw
	return s.res, s.err
}

type testServer struct {
	router *gin.Engine
	svc    *svcMocks.MockOrderService
	carts  *cartMocks.MockCartStore
	rec    *stubReconciler
}

func newTestServer() *testServer {
	gin.SetMode(gin.TestMode)
	ts := &testServer{
		router: gin.New(),
		svc:    new(svcMocks.MockOrderService),
		carts:  new(cartMocks.MockCartStore),
		rec:    &stubReconciler{},
	}
	h := NewOrderHandler(ts.svc, ts.rec, ts.carts, "https://shop.example/")
	h.RegisterRoutes(ts.router.Group("/api/v1"), auth.NewAuthenticator(jwtSecret))
	return ts
}

func token(userID, role string) string {
	claims := jwt.MapClaims{"user_id": userID, "exp": time.Now().Add(time.Hour).Unix()}
	if role != "" {
		claims["role"] = role
	}
	s, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret)
	return s
}

func (ts *testServer) do(method, path, bearer string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func sampleOrder(status domain.OrderStatus) *domain.Order {
	return &domain.Order{ID: "order-1", CustomerID: "cust-1", PaymentMethod: domain.PaymentGatewayA, TotalAmount: 530000, Status: status, Version: 1}
}

func checkoutBody(method string) map[string]any {
	return map[string]any{
		"customer": map[string]string{
			"full_name": "Nguyen Van A", "email": "a@example.com", "phone": "0901234567",
			"street": "12 Le Loi", "city": "Ho Chi Minh", "district": "Quan 1", "ward": "Ben Nghe",
		},
		"payment_method": method,
	}
}

func TestCheckout(t *testing.T) {
	snapshot := domain.CartSnapshot{CustomerID: "cust-1", Items: []domain.CartItem{{ProductID: "p1", Quantity: 1, UnitPrice: 500000}}}

	t.Run("gateway redirect", func(t *testing.T) {
		ts := newTestServer()
		ts.carts.On("ReadCart", mock.Anything, "cust-1").Return(snapshot, nil).Once()
		ts.svc.On("CreateOrder", mock.Anything, mock.MatchedBy(func(r domain.CreateOrderRequest) bool {
			return r.CustomerID == "cust-1" && r.PaymentMethod == domain.PaymentGatewayA && r.ClientIP != ""
		}), snapshot).Return(&domain.CheckoutResult{
			Order: sampleOrder(domain.StatusAwaitingPayment), RedirectURL: "https://pay.example/x", NextStep: domain.NextStepRedirect,
		}, nil).Once()

		w := ts.do(http.MethodPost, "/api/v1/checkout", token("cust-1", ""), checkoutBody("GATEWAY_A"))

		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "https://pay.example/x", body["redirect_url"])
		assert.Equal(t, "redirect", body["next_step"])
		order := body["order"].(map[string]any)
		assert.Equal(t, "order-1", order["id"])
		assert.Equal(t, "pending", order["display_status"])
		ts.svc.AssertExpectations(t)
	})

	t.Run("empty cart", func(t *testing.T) {
		ts := newTestServer()
		ts.carts.On("ReadCart", mock.Anything, "cust-1").Return(domain.CartSnapshot{}, domain.ErrEmptyCart).Once()

		w := ts.do(http.MethodPost, "/api/v1/checkout", token("cust-1", ""), checkoutBody("COD"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		ts.svc.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("initiation failure returns order id", func(t *testing.T) {
		ts := newTestServer()
		ts.carts.On("ReadCart", mock.Anything, "cust-1").Return(snapshot, nil).Once()
		ts.svc.On("CreateOrder", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, &service.InitiationError{OrderID: "order-9", Err: payment.ErrInitiationFailed}).Once()

		w := ts.do(http.MethodPost, "/api/v1/checkout", token("cust-1", ""), checkoutBody("GATEWAY_B"))
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.JSONEq(t, `{"error":"payment could not be started, please retry","order_id":"order-9","retryable":true}`, w.Body.String())
	})

	t.Run("total mismatch", func(t *testing.T) {
		ts := newTestServer()
		ts.carts.On("ReadCart", mock.Anything, "cust-1").Return(snapshot, nil).Once()
		ts.svc.On("CreateOrder", mock.Anything, mock.Anything, mock.Anything).Return(nil, domain.ErrTotalMismatch).Once()

		w := ts.do(http.MethodPost, "/api/v1/checkout", token("cust-1", ""), checkoutBody("COD"))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("missing customer fields", func(t *testing.T) {
		ts := newTestServer()
		w := ts.do(http.MethodPost, "/api/v1/checkout", token("cust-1", ""), map[string]any{"payment_method": "COD"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("requires a token", func(t *testing.T) {
		ts := newTestServer()
		w := ts.do(http.MethodPost, "/api/v1/checkout", "", checkoutBody("COD"))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestOrderEndpoints(t *testing.T) {
	t.Run("owner reads order", func(t *testing.T) {
		ts := newTestServer()
		ts.svc.On("GetOrder", mock.Anything, "order-1").Return(sampleOrder(domain.StatusConfirmed), nil).Once()

		w := ts.do(http.MethodGet, "/api/v1/orders/order-1", token("cust-1", ""), nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("other customer sees not found", func(t *testing.T) {
		ts := newTestServer()
		ts.svc.On("GetOrder", mock.Anything, "order-1").Return(sampleOrder(domain.StatusConfirmed), nil).Once()

		w := ts.do(http.MethodGet, "/api/v1/orders/order-1", token("cust-2", ""), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("admin reads any order", func(t *testing.T) {
		ts := newTestServer()
		ts.svc.On("GetOrder", mock.Anything, "order-1").Return(sampleOrder(domain.StatusConfirmed), nil).Once()

		w := ts.do(http.MethodGet, "/api/v1/orders/order-1", token("ops", auth.RoleAdmin), nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("cancel maps refund required to conflict", func(t *testing.T) {
		ts := newTestServer()
		ts.svc.On("CancelOrder", mock.Anything, "order-1", "cust-1", "").Return(nil, domain.ErrRefundRequired).Once()

		w := ts.do(http.MethodPost, "/api/v1/orders/order-1/cancel", token("cust-1", ""), nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("cancel with reason", func(t *testing.T) {
		ts := newTestServer()
		ts.svc.On("CancelOrder", mock.Anything, "order-1", "cust-1", "wrong size").Return(sampleOrder(domain.StatusCancelled), nil).Once()

		w := ts.do(http.MethodPost, "/api/v1/orders/order-1/cancel", token("cust-1", ""), map[string]string{"reason": "wrong size"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"display_status":"cancelled"`)
	})

	t.Run("concurrent modification is retryable", func(t *testing.T) {
		ts := newTestServer()
		ts.svc.On("CancelOrder", mock.Anything, "order-1", "cust-1", "").Return(nil, domain.ErrConcurrentModification).Once()

		w := ts.do(http.MethodPost, "/api/v1/orders/order-1/cancel", token("cust-1", ""), nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), `"retryable":true`)
	})

	t.Run("retry payment", func(t *testing.T) {
		ts := newTestServer()
		ts.svc.On("RetryPayment", mock.Anything, "order-1", "cust-1", mock.Anything).Return(&domain.CheckoutResult{
			Order: sampleOrder(domain.StatusAwaitingPayment), RedirectURL: "https://pay.example/again", NextStep: domain.NextStepRedirect,
		}, nil).Once()

		w := ts.do(http.MethodPost, "/api/v1/orders/order-1/payment", token("cust-1", ""), nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "https://pay.example/again")
	})
}

func TestAdminEndpoints(t *testing.T) {
	admin := token("ops", auth.RoleAdmin)

	t.Run("customers are refused", func(t *testing.T) {
		ts := newTestServer()
		w := ts.do(http.MethodGet, "/api/v1/admin/orders", token("cust-1", ""), nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("list with filters", func(t *testing.T) {
		ts := newTestServer()
		from := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
		ts.svc.On("ListOrders", mock.Anything, mock.MatchedBy(func(f domain.OrderFilter) bool {
			return len(f.Statuses) == 2 && f.Statuses[0] == domain.StatusPending && f.Statuses[1] == domain.StatusConfirmed &&
				f.From != nil && f.From.Equal(from) && f.To == nil && f.CustomerID == "cust-1" && f.Limit == 20 && f.Offset == 40
		})).Return([]domain.Order{*sampleOrder(domain.StatusPending)}, nil).Once()

		w := ts.do(http.MethodGet, "/api/v1/admin/orders?status=pending,CONFIRMED&from=2026-10-01T00:00:00Z&customer_id=cust-1&limit=20&offset=40", admin, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), `"id":"order-1"`)
	})

	t.Run("bad date", func(t *testing.T) {
		ts := newTestServer()
		w := ts.do(http.MethodGet, "/api/v1/admin/orders?from=yesterday", admin, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("confirm COD", func(t *testing.T) {
		ts := newTestServer()
		ts.svc.On("ConfirmCODOrder", mock.Anything, "order-1").Return(sampleOrder(domain.StatusConfirmed), nil).Once()

		w := ts.do(http.MethodPost, "/api/v1/admin/orders/order-1/confirm", admin, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("illegal status change", func(t *testing.T) {
		ts := newTestServer()
		ts.svc.On("UpdateStatus", mock.Anything, "order-1", domain.UpdateStatusRequest{Status: domain.StatusPending}).
			Return(nil, domain.ErrIllegalTransition).Once()

		w := ts.do(http.MethodPatch, "/api/v1/admin/orders/order-1/status", admin, map[string]string{"status": "pending"})
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestPaymentCallback(t *testing.T) {
	t.Run("returns provider ack with body", func(t *testing.T) {
		ts := newTestServer()
		ts.rec.res = service.CallbackResult{Outcome: service.OutcomeConfirmed, OrderID: "order-1",
			Ack: payment.Ack{StatusCode: http.StatusOK, Body: map[string]string{"RspCode": "00", "Message": "Confirm Success"}}}

		w := ts.do(http.MethodGet, "/api/v1/payments/callback/gateway_a?vnp_TxnRef=order-1&vnp_ResponseCode=00", "", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"RspCode":"00","Message":"Confirm Success"}`, w.Body.String())
		assert.Equal(t, domain.PaymentGatewayA, ts.rec.method)
		assert.Equal(t, "order-1", ts.rec.raw.Query.Get("vnp_TxnRef"))
	})

	t.Run("acks even when reconciliation fails", func(t *testing.T) {
		ts := newTestServer()
		ts.rec.res = service.CallbackResult{Outcome: service.OutcomeInvalidSignature, Ack: payment.Ack{StatusCode: http.StatusNoContent}}
		ts.rec.err = payment.ErrInvalidSignature

		w := ts.do(http.MethodPost, "/api/v1/payments/callback/GATEWAY_B", "", map[string]any{"orderId": "order-1_1", "resultCode": 0})

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, domain.PaymentGatewayB, ts.rec.method)
		assert.Contains(t, string(ts.rec.raw.Body), `"orderId":"order-1_1"`)
	})

	t.Run("falls back to default ack", func(t *testing.T) {
		ts := newTestServer()
		ts.rec.err = payment.ErrUnknownProvider

		w := ts.do(http.MethodPost, "/api/v1/payments/callback/paypal", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestPaymentReturn(t *testing.T) {
	cases := []struct {
		name     string
		query    string
		wantCode int
		wantLoc  string
	}{
		{"gateway A success", "vnp_TxnRef=order-1&vnp_ResponseCode=00", http.StatusFound, "https://shop.example/orders/order-1/confirmation?status=success"},
		{"gateway A cancelled", "vnp_TxnRef=order-1&vnp_ResponseCode=24", http.StatusFound, "https://shop.example/orders/order-1/confirmation?status=failed"},
		{"gateway A retried attempt", "vnp_TxnRef=order-1_1760583600000&vnp_ResponseCode=00", http.StatusFound, "https://shop.example/orders/order-1/confirmation?status=success"},
		{"gateway B success", "partnerCode=P1&orderId=order-2_1760583600000&resultCode=0", http.StatusFound, "https://shop.example/orders/order-2/confirmation?status=success"},
		{"gateway B failed", "partnerCode=P1&orderId=order-2_1760583600000&resultCode=1006", http.StatusFound, "https://shop.example/orders/order-2/confirmation?status=failed"},
		{"unrecognised", "foo=bar", http.StatusBadRequest, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer()
			w := ts.do(http.MethodGet, "/api/v1/payments/return?"+tc.query, "", nil)
			assert.Equal(t, tc.wantCode, w.Code)
			assert.Equal(t, tc.wantLoc, w.Header().Get("Location"))
			ts.svc.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}
