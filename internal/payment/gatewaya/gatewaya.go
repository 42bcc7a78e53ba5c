// Package gatewaya adapts GATEWAY_A: the redirect URL is built and signed
// locally (HMAC-SHA512 over the sorted query string) and results come back as
// signed query parameters, both on the IPN callback and on the return URL.
package gatewaya

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ridloal/order-payment-service/internal/order/domain"
	"github.com/ridloal/order-payment-service/internal/payment"
	"github.com/ridloal/order-payment-service/internal/platform/config"
)

const (
	version       = "2.1.0"
	command       = "pay"
	currency      = "VND"
	locale        = "vn"
	orderType     = "other"
	dateLayout    = "20060102150405"
	amountScale   = 100
	SuccessCode   = "00"
	fieldPrefix   = "vnp_"
	hashField     = "vnp_SecureHash"
	hashTypeField = "vnp_SecureHashType"
	// TxnRefField identifies GATEWAY_A parameters on the return URL.
	TxnRefField       = "vnp_TxnRef"
	ResponseCodeField = "vnp_ResponseCode"
)

var gatewayTZ = time.FixedZone("ICT", 7*60*60)

type Provider struct {
	cfg config.GatewayAConfig
	now func() time.Time
}

func New(cfg config.GatewayAConfig) *Provider {
	return &Provider{cfg: cfg, now: time.Now}
}

func (*Provider) Method() domain.PaymentMethod { return domain.PaymentGatewayA }

func (p *Provider) Initiate(_ context.Context, req payment.InitiateRequest) (*payment.Initiation, error) {
	if p.cfg.TmnCode == "" || p.cfg.HashSecret == "" {
		return nil, fmt.Errorf("%w: gateway A merchant credentials are not configured", payment.ErrInitiationFailed)
	}
	o := req.Order
	clientIP := req.ClientIP
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}
	created := p.now().In(gatewayTZ)

	params := url.Values{}
	params.Set("vnp_Version", version)
	params.Set("vnp_Command", command)
	params.Set("vnp_TmnCode", p.cfg.TmnCode)
	params.Set("vnp_Amount", strconv.FormatInt(o.TotalAmount*amountScale, 10))
	params.Set("vnp_CurrCode", currency)
	params.Set(TxnRefField, payment.AttemptRef(o.ID, created))
	params.Set("vnp_OrderInfo", "Thanh toan don hang "+o.ID)
	params.Set("vnp_OrderType", orderType)
	params.Set("vnp_Locale", locale)
	params.Set("vnp_ReturnUrl", p.cfg.ReturnURL)
	params.Set("vnp_IpAddr", clientIP)
	params.Set("vnp_CreateDate", created.Format(dateLayout))
	params.Set("vnp_ExpireDate", created.Add(p.cfg.ExpireIn).Format(dateLayout))

	signData := params.Encode()
	redirect := p.cfg.PayURL + "?" + signData + "&" + hashField + "=" + payment.HMACSHA512Hex(p.cfg.HashSecret, signData)
	return &payment.Initiation{RedirectURL: redirect}, nil
}

func (p *Provider) ParseCallback(_ context.Context, payload payment.RawPayload) (*payment.Outcome, error) {
	if err := p.Verify(payload.Query); err != nil {
		return nil, err
	}
	q := payload.Query

	orderID := payment.OrderIDFromAttemptRef(q.Get(TxnRefField))
	if orderID == "" {
		return nil, fmt.Errorf("%w: missing %s", payment.ErrMalformedPayload, TxnRefField)
	}
	amount, err := payment.NormalizeAmount(q.Get("vnp_Amount"), amountScale)
	if err != nil {
		return nil, fmt.Errorf("%w: vnp_Amount %q", err, q.Get("vnp_Amount"))
	}

	code := q.Get(ResponseCodeField)
	txnStatus := q.Get("vnp_TransactionStatus")
	return &payment.Outcome{
		OrderID:       orderID,
		Success:       code == SuccessCode && (txnStatus == "" || txnStatus == SuccessCode),
		ProviderTxnID: q.Get("vnp_TransactionNo"),
		ResponseCode:  code,
		Amount:        amount,
	}, nil
}

// Verify checks vnp_SecureHash over every other non-empty vnp_ parameter.
func (p *Provider) Verify(q url.Values) error {
	got := q.Get(hashField)
	if got == "" || p.cfg.HashSecret == "" {
		return payment.ErrInvalidSignature
	}
	signed := url.Values{}
	for k, v := range q {
		if k == hashField || k == hashTypeField || !strings.HasPrefix(k, fieldPrefix) {
			continue
		}
		if len(v) > 0 && v[0] != "" {
			signed.Set(k, v[0])
		}
	}
	if !payment.EqualHex(payment.HMACSHA512Hex(p.cfg.HashSecret, signed.Encode()), got) {
		return payment.ErrInvalidSignature
	}
	return nil
}

func (*Provider) Ack() payment.Ack {
	return payment.Ack{
		StatusCode: http.StatusOK,
		Body:       map[string]string{"RspCode": "00", "Message": "Confirm Success"},
	}
}
