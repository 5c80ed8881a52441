package biz

import (
	"context"
	"fmt"
	"time"

	"xinyuan_tech/billing-service/internal/errors"
)

// PaymentStatus 支付状态
type PaymentStatus string

const (
	PaymentStatusPending         PaymentStatus = "pending"          // 已创建, 尚未发往网关
	PaymentStatusRequested       PaymentStatus = "requested"        // 已发往网关, 等待结果
	PaymentStatusApproved        PaymentStatus = "approved"         // 网关确认成功
	PaymentStatusCancelRequested PaymentStatus = "cancel_requested" // 取消已发起
	PaymentStatusCanceled        PaymentStatus = "canceled"         // 已取消 (终态)
	PaymentStatusFailed          PaymentStatus = "failed"           // 网关拒绝或确定失败 (终态)
)

// Payment 支付记录 (针对某订单的一次收款尝试)
// 一个订单可以有多次尝试, 但状态机保证同一时刻至多一条 approved
type Payment struct {
	ID             string
	OrderID        string
	TransactionKey string // 网关交易键, REQUESTED 时记录
	IdempotencyKey string // 幂等键 (定时扣款场景: 订阅ID+计费周期)
	Method         string
	Amount         int64
	Currency       string
	Status         PaymentStatus
	ApprovedAt     *time.Time
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsTerminal 是否处于终态 (approved 视为结算终态: 回调不再重复应用)
func (p *Payment) IsTerminal() bool {
	switch p.Status {
	case PaymentStatusApproved, PaymentStatusCanceled, PaymentStatusFailed:
		return true
	}
	return false
}

// MarkRequested 发往网关: pending -> requested
// transactionKey 可为空 (billing key 扣款在响应返回前拿不到交易键)
func (p *Payment) MarkRequested(transactionKey string) error {
	if p.Status != PaymentStatusPending {
		return errors.NewStateConflict("payment %s: cannot mark requested from status %s", p.ID, p.Status)
	}
	p.Status = PaymentStatusRequested
	p.TransactionKey = transactionKey
	return nil
}

// BindTransactionKey 补记网关交易键, 仅允许在交易键为空时写入一次
func (p *Payment) BindTransactionKey(transactionKey string) error {
	if p.TransactionKey != "" && p.TransactionKey != transactionKey {
		return errors.NewStateConflict("payment %s: transaction key already bound to %s", p.ID, p.TransactionKey)
	}
	p.TransactionKey = transactionKey
	return nil
}

// Approve 网关确认: requested -> approved
// 交易键必须与 REQUESTED 时记录的一致, 防止并发尝试间的串单
func (p *Payment) Approve(transactionKey string, approvedAt time.Time) error {
	if p.Status != PaymentStatusRequested {
		return errors.NewStateConflict("payment %s: cannot approve from status %s", p.ID, p.Status)
	}
	if p.TransactionKey != "" && p.TransactionKey != transactionKey {
		return errors.NewStateConflict("payment %s: transaction key mismatch: recorded %s, got %s", p.ID, p.TransactionKey, transactionKey)
	}
	p.TransactionKey = transactionKey
	p.Status = PaymentStatusApproved
	p.ApprovedAt = &approvedAt
	return nil
}

// MarkFailed 网关拒绝或确定失败: pending/requested -> failed
// approved 之后的支付不会变成 failed, 只能走取消流程
func (p *Payment) MarkFailed() error {
	if p.Status != PaymentStatusPending && p.Status != PaymentStatusRequested {
		return errors.NewStateConflict("payment %s: cannot mark failed from status %s", p.ID, p.Status)
	}
	p.Status = PaymentStatusFailed
	return nil
}

// RequestCancel 发起取消: approved -> cancel_requested
func (p *Payment) RequestCancel() error {
	if p.Status != PaymentStatusApproved {
		return errors.NewStateConflict("payment %s: cannot request cancel from status %s", p.ID, p.Status)
	}
	p.Status = PaymentStatusCancelRequested
	return nil
}

// CompleteCancel 取消完成: cancel_requested -> canceled
func (p *Payment) CompleteCancel() error {
	if p.Status != PaymentStatusCancelRequested {
		return errors.NewStateConflict("payment %s: cannot complete cancel from status %s", p.ID, p.Status)
	}
	p.Status = PaymentStatusCanceled
	return nil
}

// FailCancel 取消失败, 回到 approved (取消可重试, 支付本身不失败)
func (p *Payment) FailCancel() error {
	if p.Status != PaymentStatusCancelRequested {
		return errors.NewStateConflict("payment %s: cannot fail cancel from status %s", p.ID, p.Status)
	}
	p.Status = PaymentStatusApproved
	return nil
}

// NewPaymentID 生成支付ID
func NewPaymentID(orderID string, now time.Time) string {
	return fmt.Sprintf("PAY%d%s", now.UnixNano(), orderID[len(orderID)-4:])
}

// PaymentCancelStatus 退款/取消记录状态
type PaymentCancelStatus string

const (
	PaymentCancelStatusRequested PaymentCancelStatus = "requested" // 已发起
	PaymentCancelStatusCompleted PaymentCancelStatus = "completed" // 已完成 (终态)
	PaymentCancelStatusFailed    PaymentCancelStatus = "failed"    // 已失败 (终态)
)

// PaymentCancel 取消/退款尝试记录
// 只追加不修改: 失败的取消通过新增记录重试, 保留审计轨迹
type PaymentCancel struct {
	ID          uint64
	PaymentID   string
	Amount      int64
	Reason      string
	RequestedBy string // 发起方: user / admin / system
	Status      PaymentCancelStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Complete 取消完成: requested -> completed
func (c *PaymentCancel) Complete() error {
	if c.Status != PaymentCancelStatusRequested {
		return errors.NewStateConflict("payment cancel %d: cannot complete from status %s", c.ID, c.Status)
	}
	c.Status = PaymentCancelStatusCompleted
	return nil
}

// Fail 取消失败: requested -> failed (终态, 重试走新记录)
func (c *PaymentCancel) Fail() error {
	if c.Status != PaymentCancelStatusRequested {
		return errors.NewStateConflict("payment cancel %d: cannot fail from status %s", c.ID, c.Status)
	}
	c.Status = PaymentCancelStatusFailed
	return nil
}

// PaymentRepo 支付仓库接口
type PaymentRepo interface {
	CreatePayment(ctx context.Context, payment *Payment) error
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
	// GetPaymentByTransactionKey 按网关交易键查询, 不存在返回 (nil, nil)
	GetPaymentByTransactionKey(ctx context.Context, transactionKey string) (*Payment, error)
	// GetPaymentByIdempotencyKey 按幂等键查询, 不存在返回 (nil, nil)
	GetPaymentByIdempotencyKey(ctx context.Context, idempotencyKey string) (*Payment, error)
	// GetApprovedPaymentByOrder 查询订单下 approved 状态的支付, 不存在返回 (nil, nil)
	GetApprovedPaymentByOrder(ctx context.Context, orderID string) (*Payment, error)
	// GetLatestPaymentByOrder 查询订单下最近一次支付尝试, 不存在返回 (nil, nil)
	GetLatestPaymentByOrder(ctx context.Context, orderID string) (*Payment, error)
	// ListStalePayments 查询滞留在给定非终态超过阈值的支付 (主动对账用)
	ListStalePayments(ctx context.Context, statuses []PaymentStatus, before time.Time, limit int) ([]*Payment, error)
	// UpdatePayment 带版本条件更新, 版本不匹配返回 VersionConflict
	UpdatePayment(ctx context.Context, payment *Payment) error
}

// PaymentCancelRepo 取消记录仓库接口
type PaymentCancelRepo interface {
	CreateCancel(ctx context.Context, cancel *PaymentCancel) error
	UpdateCancel(ctx context.Context, cancel *PaymentCancel) error
	// GetLatestRequestedCancel 查询支付下最近一条 requested 状态的取消记录, 不存在返回 (nil, nil)
	GetLatestRequestedCancel(ctx context.Context, paymentID string) (*PaymentCancel, error)
	ListCancelsByPayment(ctx context.Context, paymentID string) ([]*PaymentCancel, error)
}
