package biz

import (
	"context"
	"time"

	"xinyuan_tech/billing-service/internal/errors"
)

// CouponType 优惠券类型
type CouponType string

const (
	CouponTypePercentage  CouponType = "percentage"   // 按比例折扣
	CouponTypeFixedAmount CouponType = "fixed_amount" // 固定金额抵扣
)

// CouponStatus 优惠券状态
type CouponStatus string

const (
	CouponStatusIssued    CouponStatus = "issued"    // 已发放
	CouponStatusUsed      CouponStatus = "used"      // 已使用
	CouponStatusExpired   CouponStatus = "expired"   // 已过期
	CouponStatusCancelled CouponStatus = "cancelled" // 已作废
)

// UserCoupon 用户优惠券
// issued -> used 恰好发生一次, 且与消费它的订单在同一事务内落库
type UserCoupon struct {
	Code          string
	UserID        uint64
	Type          CouponType
	DiscountValue int64 // percentage: 1-100; fixed_amount: 最小货币单位金额
	MinOrderPrice int64
	ValidFrom     time.Time
	ValidUntil    time.Time
	Status        CouponStatus
	UsedOrderID   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// WithinValidity 判断指定时刻是否在有效期内
func (c *UserCoupon) WithinValidity(at time.Time) bool {
	return !at.Before(c.ValidFrom) && !at.After(c.ValidUntil)
}

// DiscountFor 计算对指定订单金额的折扣额, 不超过订单金额
func (c *UserCoupon) DiscountFor(orderPrice int64) int64 {
	var discount int64
	switch c.Type {
	case CouponTypePercentage:
		discount = orderPrice * c.DiscountValue / 100
	case CouponTypeFixedAmount:
		discount = c.DiscountValue
	}
	if discount > orderPrice {
		discount = orderPrice
	}
	return discount
}

// Redeem 核销优惠券: issued -> used
func (c *UserCoupon) Redeem(orderID string, orderPrice int64, at time.Time) error {
	if c.Status != CouponStatusIssued {
		return errors.NewCouponNotUsable("coupon %s: status is %s", c.Code, c.Status)
	}
	if !c.WithinValidity(at) {
		return errors.NewCouponNotUsable("coupon %s: outside validity window", c.Code)
	}
	if orderPrice < c.MinOrderPrice {
		return errors.NewCouponNotUsable("coupon %s: order price %d below minimum %d", c.Code, orderPrice, c.MinOrderPrice)
	}
	c.Status = CouponStatusUsed
	c.UsedOrderID = orderID
	return nil
}

// Reissue 订单取消后的回收: used -> issued
// 仅在取消发生于原有效期内时回收; 过期后取消视为已消费, 返回 (false, nil)
func (c *UserCoupon) Reissue(at time.Time) (bool, error) {
	if c.Status != CouponStatusUsed {
		return false, errors.NewStateConflict("coupon %s: cannot reissue from status %s", c.Code, c.Status)
	}
	if !c.WithinValidity(at) {
		return false, nil
	}
	c.Status = CouponStatusIssued
	c.UsedOrderID = ""
	return true, nil
}

// CouponRepo 优惠券仓库接口
type CouponRepo interface {
	GetCoupon(ctx context.Context, code string) (*UserCoupon, error)
	// GetCouponByUsedOrder 查询被指定订单消费的优惠券, 不存在返回 (nil, nil)
	GetCouponByUsedOrder(ctx context.Context, orderID string) (*UserCoupon, error)
	UpdateCoupon(ctx context.Context, coupon *UserCoupon) error
}
