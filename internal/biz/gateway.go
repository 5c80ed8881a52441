package biz

import (
	"context"
	"time"
)

// GatewayPayment 网关侧支付对象的本地快照
type GatewayPayment struct {
	TransactionKey string
	OrderID        string
	Status         string // 网关自身的状态字符串, 仅对账时参照
	Amount         int64
	Currency       string
	Method         string
	ApprovedAt     *time.Time
	VirtualAccount *VirtualAccount
}

// VirtualAccount 虚拟账户入账信息
type VirtualAccount struct {
	Bank          string
	AccountNumber string
	DueAt         time.Time
}

// GatewayCancel 网关侧取消结果
type GatewayCancel struct {
	TransactionKey string
	Amount         int64
	CanceledAt     time.Time
}

// WebhookEventType 网关回调事件类型
type WebhookEventType string

const (
	WebhookPaymentApproved       WebhookEventType = "payment_approved"
	WebhookPaymentFailed         WebhookEventType = "payment_failed"
	WebhookVirtualAccountDeposit WebhookEventType = "virtual_account_deposit"
	WebhookCancelCompleted       WebhookEventType = "cancel_completed"
	WebhookCancelFailed          WebhookEventType = "cancel_failed"
)

// WebhookEvent 解码后的网关回调事件
type WebhookEvent struct {
	Type           WebhookEventType
	TransactionKey string
	OrderID        string
	Amount         int64
	Currency       string
	Reason         string
	OccurredAt     time.Time
}

// PaymentGateway 支付网关端口 (防腐层)
// 实现方封装外部支付处理商的协议; 超时返回 GatewayTimeout (结果不确定,
// 不能当作失败), 明确拒绝返回 GatewayRejected
type PaymentGateway interface {
	// Prepare 在网关侧分配支付意图
	Prepare(ctx context.Context, order *Order, method string) (*GatewayPayment, error)
	// Approve 确认收款, 金额必须与网关侧完全一致
	Approve(ctx context.Context, paymentKey, orderID string, amount int64) (*GatewayPayment, error)
	// ChargeBillingKey 用存储的扣款方式发起周期扣款
	ChargeBillingKey(ctx context.Context, billingKey, orderID string, amount int64) (*GatewayPayment, error)
	// Cancel 取消/退款
	Cancel(ctx context.Context, paymentKey string, amount int64, reason string) (*GatewayCancel, error)
	// GetDetails 权威状态查询, 用于不确定结果后的对账
	GetDetails(ctx context.Context, paymentKey string) (*GatewayPayment, error)
	// IssueVirtualAccount 签发虚拟账户
	IssueVirtualAccount(ctx context.Context, order *Order, bank string) (*GatewayPayment, error)
	// DecodeWebhook 解码回调报文为类型化事件
	DecodeWebhook(payload []byte) (*WebhookEvent, error)
}
