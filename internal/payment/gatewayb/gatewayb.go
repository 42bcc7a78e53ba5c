// Package gatewayb adapts GATEWAY_B: payments are created by a signed JSON call
// to the provider, which answers with a payUrl. Results arrive as a signed JSON
// IPN body; the provider signs a fixed, alphabetically ordered field string
// with HMAC-SHA256.
package gatewayb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ridloal/order-payment-service/internal/order/domain"
	"github.com/ridloal/order-payment-service/internal/payment"
	"github.com/ridloal/order-payment-service/internal/platform/config"
	"github.com/sony/gobreaker/v2"
)

const (
	SuccessCode = 0
	// PartnerCodeField identifies GATEWAY_B parameters on the return URL.
	PartnerCodeField = "partnerCode"
	ResultCodeField  = "resultCode"
	OrderIDField     = "orderId"
)

type createRequest struct {
	PartnerCode string `json:"partnerCode"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IPNURL      string `json:"ipnUrl"`
	RequestType string `json:"requestType"`
	ExtraData   string `json:"extraData"`
	Lang        string `json:"lang"`
	Signature   string `json:"signature"`
}

type createResponse struct {
	PartnerCode string `json:"partnerCode"`
	OrderID     string `json:"orderId"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	Message     string `json:"message"`
	ResultCode  int    `json:"resultCode"`
	PayURL      string `json:"payUrl"`
}

type ipnPayload struct {
	PartnerCode  string      `json:"partnerCode"`
	OrderID      string      `json:"orderId"`
	RequestID    string      `json:"requestId"`
	Amount       json.Number `json:"amount"`
	OrderInfo    string      `json:"orderInfo"`
	OrderType    string      `json:"orderType"`
	TransID      json.Number `json:"transId"`
	ResultCode   json.Number `json:"resultCode"`
	Message      string      `json:"message"`
	PayType      string      `json:"payType"`
	ResponseTime json.Number `json:"responseTime"`
	ExtraData    string      `json:"extraData"`
	Signature    string      `json:"signature"`
}

type Provider struct {
	cfg        config.GatewayBConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*createResponse]
	now        func() time.Time
}

func New(cfg config.GatewayBConfig, httpClient *http.Client) *Provider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Provider{
		cfg:        cfg,
		httpClient: httpClient,
		breaker: gobreaker.NewCircuitBreaker[*createResponse](gobreaker.Settings{
			Name:        "gateway-b-create",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		now: time.Now,
	}
}

func (*Provider) Method() domain.PaymentMethod { return domain.PaymentGatewayB }

// OrderRef returns the provider order id for one payment attempt.
func OrderRef(orderID string, at time.Time) string {
	return payment.AttemptRef(orderID, at)
}

// OrderIDFromRef strips the attempt suffix added by OrderRef.
func OrderIDFromRef(ref string) string {
	return payment.OrderIDFromAttemptRef(ref)
}

func (p *Provider) Initiate(ctx context.Context, req payment.InitiateRequest) (*payment.Initiation, error) {
	if p.cfg.PartnerCode == "" || p.cfg.AccessKey == "" || p.cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: gateway B partner credentials are not configured", payment.ErrInitiationFailed)
	}
	o := req.Order
	body := createRequest{
		PartnerCode: p.cfg.PartnerCode,
		RequestID:   uuid.NewString(),
		Amount:      o.TotalAmount,
		OrderID:     OrderRef(o.ID, p.now()),
		OrderInfo:   "Thanh toan don hang " + o.ID,
		RedirectURL: p.cfg.RedirectURL,
		IPNURL:      p.cfg.IPNURL,
		RequestType: p.cfg.RequestType,
		Lang:        "vi",
	}
	raw := fmt.Sprintf("accessKey=%s&amount=%d&extraData=%s&ipnUrl=%s&orderId=%s&orderInfo=%s&partnerCode=%s&redirectUrl=%s&requestId=%s&requestType=%s",
		p.cfg.AccessKey, body.Amount, body.ExtraData, body.IPNURL, body.OrderID, body.OrderInfo,
		body.PartnerCode, body.RedirectURL, body.RequestID, body.RequestType)
	body.Signature = payment.HMACSHA256Hex(p.cfg.SecretKey, raw)

	resp, err := p.breaker.Execute(func() (*createResponse, error) {
		return p.postCreate(ctx, body)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrInitiationFailed, err)
	}
	if resp.ResultCode != SuccessCode || resp.PayURL == "" {
		return nil, fmt.Errorf("%w: provider rejected request (resultCode=%d, message=%q)", payment.ErrInitiationFailed, resp.ResultCode, resp.Message)
	}
	return &payment.Initiation{RedirectURL: resp.PayURL}, nil
}

func (p *Provider) postCreate(ctx context.Context, body createRequest) (*createResponse, error) {
	jsonPayload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal create request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(jsonPayload))
	if err != nil {
		return nil, fmt.Errorf("failed to build create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call gateway B: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway B response: %w", err)
	}
	if httpResp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("gateway B returned status %d", httpResp.StatusCode)
	}

	var out createResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to decode gateway B response (status %d): %w", httpResp.StatusCode, err)
	}
	return &out, nil
}

func (p *Provider) ParseCallback(_ context.Context, payload payment.RawPayload) (*payment.Outcome, error) {
	// An empty key would let anyone sign an IPN.
	if p.cfg.PartnerCode == "" || p.cfg.AccessKey == "" || p.cfg.SecretKey == "" {
		return nil, payment.ErrInvalidSignature
	}
	var ipn ipnPayload
	if err := json.Unmarshal(payload.Body, &ipn); err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrMalformedPayload, err)
	}
	if ipn.Signature == "" || !payment.EqualHex(p.sign(ipn), ipn.Signature) {
		return nil, payment.ErrInvalidSignature
	}
	if ipn.PartnerCode != p.cfg.PartnerCode {
		return nil, fmt.Errorf("%w: unexpected partner code %q", payment.ErrMalformedPayload, ipn.PartnerCode)
	}

	amount, err := payment.NormalizeAmount(ipn.Amount.String(), 1)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q", err, ipn.Amount)
	}
	resultCode, err := ipn.ResultCode.Int64()
	if err != nil {
		return nil, fmt.Errorf("%w: resultCode %q", payment.ErrMalformedPayload, ipn.ResultCode)
	}
	orderID := OrderIDFromRef(ipn.OrderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: missing orderId", payment.ErrMalformedPayload)
	}

	return &payment.Outcome{
		OrderID:       orderID,
		Success:       resultCode == SuccessCode,
		ProviderTxnID: ipn.TransID.String(),
		ResponseCode:  ipn.ResultCode.String(),
		Amount:        amount,
	}, nil
}

func (p *Provider) sign(ipn ipnPayload) string {
	raw := fmt.Sprintf("accessKey=%s&amount=%s&extraData=%s&message=%s&orderId=%s&orderInfo=%s&orderType=%s&partnerCode=%s&payType=%s&requestId=%s&responseTime=%s&resultCode=%s&transId=%s",
		p.cfg.AccessKey, ipn.Amount, ipn.ExtraData, ipn.Message, ipn.OrderID, ipn.OrderInfo, ipn.OrderType,
		ipn.PartnerCode, ipn.PayType, ipn.RequestID, ipn.ResponseTime, ipn.ResultCode, ipn.TransID)
	return payment.HMACSHA256Hex(p.cfg.SecretKey, raw)
}

func (*Provider) Ack() payment.Ack {
	return payment.Ack{StatusCode: http.StatusNoContent}
}
