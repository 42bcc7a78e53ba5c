package cod

import (
	"context"
	"net/http"

	"github.com/ridloal/order-payment-service/internal/order/domain"
	"github.com/ridloal/order-payment-service/internal/payment"
)

const responseCode = "COD"

// Provider settles locally: the order stays pending until staff confirm it.
type Provider struct{}

func New() *Provider { return &Provider{} }

func (*Provider) Method() domain.PaymentMethod { return domain.PaymentCOD }

func (*Provider) Initiate(_ context.Context, req payment.InitiateRequest) (*payment.Initiation, error) {
	return &payment.Initiation{Immediate: &payment.Outcome{
		OrderID:      req.Order.ID,
		Success:      true,
		ResponseCode: responseCode,
		Amount:       req.Order.TotalAmount,
	}}, nil
}

func (*Provider) ParseCallback(context.Context, payment.RawPayload) (*payment.Outcome, error) {
	return nil, payment.ErrCallbackUnsupported
}

func (*Provider) Ack() payment.Ack {
	return payment.Ack{StatusCode: http.StatusOK, Body: map[string]string{"status": "ok"}}
}
