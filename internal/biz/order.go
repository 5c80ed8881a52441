package biz

import (
	"context"
	"fmt"
	"time"

	"xinyuan_tech/billing-service/internal/errors"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusCreated         OrderStatus = "created"          // 已创建
	OrderStatusAwaitingPayment OrderStatus = "awaiting_payment" // 待支付
	OrderStatusPaid            OrderStatus = "paid"             // 已支付
	OrderStatusCancelled       OrderStatus = "cancelled"        // 已取消 (终态)
	OrderStatusFailed          OrderStatus = "failed"           // 支付失败 (终态)
)

// Order 订单记录 (一次购买意图; 只做状态转换, 从不物理删除)
type Order struct {
	ID             string
	UserID         uint64 // 0 表示游客下单
	GuestEmail     string
	ContentID      string
	OptionID       string
	SubscriptionID string // 续费订单回指订阅, 一次性购买为空
	Quantity       int
	UnitPrice      int64  // 单价 (最小货币单位)
	Currency       string // 币种, 为空时按默认币种处理
	Discount       int64  // 优惠金额
	CouponCode     string
	Status         OrderStatus
	Version        int64 // 乐观锁版本号
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TotalPrice 订单总价, 始终由单价和数量推导, 不可独立赋值
func (o *Order) TotalPrice() int64 {
	return o.UnitPrice*int64(o.Quantity) - o.Discount
}

// IsTerminal 是否处于终态
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusCancelled || o.Status == OrderStatusFailed
}

// SubmitCheckout 提交结算: created -> awaiting_payment
func (o *Order) SubmitCheckout() error {
	if o.Status != OrderStatusCreated {
		return errors.NewStateConflict("order %s: cannot submit checkout from status %s", o.ID, o.Status)
	}
	o.Status = OrderStatusAwaitingPayment
	return nil
}

// MarkPaid 支付确认: awaiting_payment -> paid
func (o *Order) MarkPaid() error {
	if o.Status != OrderStatusAwaitingPayment {
		return errors.NewStateConflict("order %s: cannot mark paid from status %s", o.ID, o.Status)
	}
	o.Status = OrderStatusPaid
	return nil
}

// MarkFailed 支付尝试失败: awaiting_payment -> failed
func (o *Order) MarkFailed() error {
	if o.Status != OrderStatusAwaitingPayment {
		return errors.NewStateConflict("order %s: cannot mark failed from status %s", o.ID, o.Status)
	}
	o.Status = OrderStatusFailed
	return nil
}

// Cancel 取消订单: paid/awaiting_payment -> cancelled
// 对已取消订单重复取消是幂等 no-op, 返回 (false, nil)
func (o *Order) Cancel() (bool, error) {
	switch o.Status {
	case OrderStatusCancelled:
		return false, nil
	case OrderStatusPaid, OrderStatusAwaitingPayment:
		o.Status = OrderStatusCancelled
		return true, nil
	default:
		return false, errors.NewStateConflict("order %s: cannot cancel from status %s", o.ID, o.Status)
	}
}

// NewOrderID 生成订单ID
func NewOrderID(userID uint64, now time.Time) string {
	return fmt.Sprintf("ORD%d%d", now.UnixNano(), userID)
}

// OrderRepo 订单仓库接口
type OrderRepo interface {
	CreateOrder(ctx context.Context, order *Order) error
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	// UpdateOrder 带版本条件更新, 版本不匹配返回 VersionConflict
	UpdateOrder(ctx context.Context, order *Order) error
}
