package data

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"xinyuan_tech/billing-service/internal/biz"
	"xinyuan_tech/billing-service/internal/conf"
	"xinyuan_tech/billing-service/internal/constants"
	bizerrors "xinyuan_tech/billing-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// gatewayClient 支付网关 REST 客户端
// 超时或上下文取消视为结果不确定, 返回 GatewayTimeout;
// 网关明确返回 4xx 才视为拒绝
type gatewayClient struct {
	baseURL   string
	secretKey string
	hc        *http.Client
	log       *log.Helper
}

// NewGatewayClient 创建支付网关客户端
func NewGatewayClient(c *conf.Bootstrap, logger log.Logger) biz.PaymentGateway {
	return &gatewayClient{
		baseURL:   c.Gateway.BaseURL,
		secretKey: c.Gateway.SecretKey,
		hc: &http.Client{
			Timeout: c.Gateway.GatewayTimeout(),
		},
		log: log.NewHelper(logger),
	}
}

// orderCurrency 订单币种, 历史数据可能没有币种, 回落到默认币种
func orderCurrency(order *biz.Order) string {
	if order.Currency == "" {
		return constants.DefaultCurrency
	}
	return order.Currency
}

// gatewayPaymentResponse 网关支付对象报文
type gatewayPaymentResponse struct {
	PaymentKey     string `json:"paymentKey"`
	OrderID        string `json:"orderId"`
	Status         string `json:"status"`
	TotalAmount    int64  `json:"totalAmount"`
	Currency       string `json:"currency"`
	Method         string `json:"method"`
	ApprovedAt     string `json:"approvedAt"`
	VirtualAccount *struct {
		Bank          string `json:"bank"`
		AccountNumber string `json:"accountNumber"`
		DueDate       string `json:"dueDate"`
	} `json:"virtualAccount"`
}

// gatewayCancelResponse 网关取消报文
type gatewayCancelResponse struct {
	PaymentKey   string `json:"paymentKey"`
	CancelAmount int64  `json:"cancelAmount"`
	CanceledAt   string `json:"canceledAt"`
}

// gatewayErrorResponse 网关错误报文
type gatewayErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (g *gatewayClient) Prepare(ctx context.Context, order *biz.Order, method string) (*biz.GatewayPayment, error) {
	body := map[string]interface{}{
		"orderId":  order.ID,
		"amount":   order.TotalPrice(),
		"currency": orderCurrency(order),
		"method":   method,
	}
	var resp gatewayPaymentResponse
	if err := g.post(ctx, "/v1/payments", body, &resp); err != nil {
		return nil, err
	}
	return g.toGatewayPayment(&resp), nil
}

func (g *gatewayClient) Approve(ctx context.Context, paymentKey, orderID string, amount int64) (*biz.GatewayPayment, error) {
	body := map[string]interface{}{
		"paymentKey": paymentKey,
		"orderId":    orderID,
		"amount":     amount,
	}
	var resp gatewayPaymentResponse
	if err := g.post(ctx, "/v1/payments/confirm", body, &resp); err != nil {
		return nil, err
	}
	return g.toGatewayPayment(&resp), nil
}

func (g *gatewayClient) ChargeBillingKey(ctx context.Context, billingKey, orderID string, amount int64) (*biz.GatewayPayment, error) {
	body := map[string]interface{}{
		"orderId": orderID,
		"amount":  amount,
	}
	var resp gatewayPaymentResponse
	if err := g.post(ctx, "/v1/billing/"+billingKey, body, &resp); err != nil {
		return nil, err
	}
	return g.toGatewayPayment(&resp), nil
}

func (g *gatewayClient) Cancel(ctx context.Context, paymentKey string, amount int64, reason string) (*biz.GatewayCancel, error) {
	body := map[string]interface{}{
		"cancelAmount": amount,
		"cancelReason": reason,
	}
	var resp gatewayCancelResponse
	if err := g.post(ctx, "/v1/payments/"+paymentKey+"/cancel", body, &resp); err != nil {
		return nil, err
	}
	canceledAt, _ := time.Parse(time.RFC3339, resp.CanceledAt)
	return &biz.GatewayCancel{
		TransactionKey: resp.PaymentKey,
		Amount:         resp.CancelAmount,
		CanceledAt:     canceledAt,
	}, nil
}

func (g *gatewayClient) GetDetails(ctx context.Context, paymentKey string) (*biz.GatewayPayment, error) {
	var resp gatewayPaymentResponse
	if err := g.get(ctx, "/v1/payments/"+paymentKey, &resp); err != nil {
		return nil, err
	}
	return g.toGatewayPayment(&resp), nil
}

func (g *gatewayClient) IssueVirtualAccount(ctx context.Context, order *biz.Order, bank string) (*biz.GatewayPayment, error) {
	body := map[string]interface{}{
		"orderId":  order.ID,
		"amount":   order.TotalPrice(),
		"currency": orderCurrency(order),
		"bank":     bank,
	}
	var resp gatewayPaymentResponse
	if err := g.post(ctx, "/v1/virtual-accounts", body, &resp); err != nil {
		return nil, err
	}
	return g.toGatewayPayment(&resp), nil
}

// webhookPayload 网关回调报文
type webhookPayload struct {
	EventType  string `json:"eventType"`
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Reason     string `json:"reason"`
	CreatedAt  string `json:"createdAt"`
}

func (g *gatewayClient) DecodeWebhook(payload []byte) (*biz.WebhookEvent, error) {
	var p webhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}

	var eventType biz.WebhookEventType
	switch p.EventType {
	case "PAYMENT_APPROVED", "DONE":
		eventType = biz.WebhookPaymentApproved
	case "PAYMENT_FAILED", "ABORTED":
		eventType = biz.WebhookPaymentFailed
	case "VIRTUAL_ACCOUNT_DEPOSIT", "DEPOSIT_CALLBACK":
		eventType = biz.WebhookVirtualAccountDeposit
	case "CANCEL_COMPLETED", "CANCELED":
		eventType = biz.WebhookCancelCompleted
	case "CANCEL_FAILED":
		eventType = biz.WebhookCancelFailed
	default:
		return nil, fmt.Errorf("unknown webhook event type: %s", p.EventType)
	}

	occurredAt, err := time.Parse(time.RFC3339, p.CreatedAt)
	if err != nil {
		occurredAt = time.Now()
	}

	return &biz.WebhookEvent{
		Type:           eventType,
		TransactionKey: p.PaymentKey,
		OrderID:        p.OrderID,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Reason:         p.Reason,
		OccurredAt:     occurredAt,
	}, nil
}

func (g *gatewayClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	// 幂等键防止重试导致网关侧重复扣款/退款
	req.Header.Set("Idempotency-Key", uuid.NewString())
	return g.do(req, out)
}

func (g *gatewayClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return err
	}
	return g.do(req, out)
}

func (g *gatewayClient) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(g.secretKey+":")))

	resp, err := g.hc.Do(req)
	if err != nil {
		// 网络超时或取消: 请求可能已到达网关, 结果不确定
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			g.log.Warnf("Gateway request timed out: %s %s", req.Method, req.URL.Path)
			return bizerrors.NewGatewayTimeout("gateway request timed out: %s", req.URL.Path)
		}
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 500 {
		// 网关内部错误同样视为结果不确定
		g.log.Warnf("Gateway returned %d: %s %s", resp.StatusCode, req.Method, req.URL.Path)
		return bizerrors.NewGatewayTimeout("gateway returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		var gwErr gatewayErrorResponse
		_ = json.Unmarshal(data, &gwErr)
		g.log.Warnf("Gateway rejected request %s %s: code=%s message=%s", req.Method, req.URL.Path, gwErr.Code, gwErr.Message)
		return bizerrors.NewGatewayRejected("gateway rejected: %s %s", gwErr.Code, gwErr.Message)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}
	}
	return nil
}

func (g *gatewayClient) toGatewayPayment(resp *gatewayPaymentResponse) *biz.GatewayPayment {
	p := &biz.GatewayPayment{
		TransactionKey: resp.PaymentKey,
		OrderID:        resp.OrderID,
		Status:         resp.Status,
		Amount:         resp.TotalAmount,
		Currency:       resp.Currency,
		Method:         resp.Method,
	}
	if resp.ApprovedAt != "" {
		if t, err := time.Parse(time.RFC3339, resp.ApprovedAt); err == nil {
			p.ApprovedAt = &t
		}
	}
	if resp.VirtualAccount != nil {
		va := &biz.VirtualAccount{
			Bank:          resp.VirtualAccount.Bank,
			AccountNumber: resp.VirtualAccount.AccountNumber,
		}
		if t, err := time.Parse(time.RFC3339, resp.VirtualAccount.DueDate); err == nil {
			va.DueAt = t
		}
		p.VirtualAccount = va
	}
	return p
}
