package data

import (
	"context"
	"errors"
	"time"

	"xinyuan_tech/billing-service/internal/biz"
	"xinyuan_tech/billing-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// couponRepo 优惠券仓库实现
type couponRepo struct {
	data *Data
	log  *log.Helper
}

// NewCouponRepo 创建优惠券仓库
func NewCouponRepo(data *Data, logger log.Logger) biz.CouponRepo {
	return &couponRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func toCouponBiz(m *model.UserCoupon) *biz.UserCoupon {
	return &biz.UserCoupon{
		Code:          m.Code,
		UserID:        m.UserID,
		Type:          biz.CouponType(m.Type),
		DiscountValue: m.DiscountValue,
		MinOrderPrice: m.MinOrderPrice,
		ValidFrom:     m.ValidFrom,
		ValidUntil:    m.ValidUntil,
		Status:        biz.CouponStatus(m.Status),
		UsedOrderID:   m.UsedOrderID,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// GetCoupon 获取优惠券, 不存在返回 (nil, nil)
func (r *couponRepo) GetCoupon(ctx context.Context, code string) (*biz.UserCoupon, error) {
	var m model.UserCoupon
	err := r.data.DB(ctx).First(&m, "coupon_code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get coupon %s: %v", code, err)
		return nil, err
	}
	return toCouponBiz(&m), nil
}

// GetCouponByUsedOrder 查询被指定订单消费的优惠券
func (r *couponRepo) GetCouponByUsedOrder(ctx context.Context, orderID string) (*biz.UserCoupon, error) {
	var m model.UserCoupon
	err := r.data.DB(ctx).
		Where("used_order_id = ? AND status = ?", orderID, string(biz.CouponStatusUsed)).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get coupon by used order %s: %v", orderID, err)
		return nil, err
	}
	return toCouponBiz(&m), nil
}

// UpdateCoupon 更新优惠券 (核销与回收都走这里, 与订单变更同事务)
func (r *couponRepo) UpdateCoupon(ctx context.Context, c *biz.UserCoupon) error {
	now := time.Now().UTC()
	err := r.data.DB(ctx).Model(&model.UserCoupon{}).
		Where("coupon_code = ?", c.Code).
		Updates(map[string]interface{}{
			"status":        string(c.Status),
			"used_order_id": c.UsedOrderID,
			"updated_at":    now,
		}).Error
	if err != nil {
		r.log.Errorf("Failed to update coupon %s: %v", c.Code, err)
		return err
	}
	c.UpdatedAt = now
	return nil
}
