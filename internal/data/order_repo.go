package data

import (
	"context"
	"errors"
	"time"

	"xinyuan_tech/billing-service/internal/biz"
	"xinyuan_tech/billing-service/internal/data/model"
	bizerrors "xinyuan_tech/billing-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// orderRepo 订单仓库实现
type orderRepo struct {
	data *Data
	log  *log.Helper
}

// NewOrderRepo 创建订单仓库
func NewOrderRepo(data *Data, logger log.Logger) biz.OrderRepo {
	return &orderRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func toOrderModel(o *biz.Order) *model.Order {
	return &model.Order{
		ID:             o.ID,
		UserID:         o.UserID,
		GuestEmail:     o.GuestEmail,
		ContentID:      o.ContentID,
		OptionID:       o.OptionID,
		SubscriptionID: o.SubscriptionID,
		Quantity:       o.Quantity,
		UnitPrice:      o.UnitPrice,
		Currency:       o.Currency,
		Discount:       o.Discount,
		CouponCode:     o.CouponCode,
		TotalPrice:     o.TotalPrice(),
		Status:         string(o.Status),
		Version:        o.Version,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

func toOrderBiz(m *model.Order) *biz.Order {
	return &biz.Order{
		ID:             m.ID,
		UserID:         m.UserID,
		GuestEmail:     m.GuestEmail,
		ContentID:      m.ContentID,
		OptionID:       m.OptionID,
		SubscriptionID: m.SubscriptionID,
		Quantity:       m.Quantity,
		UnitPrice:      m.UnitPrice,
		Currency:       m.Currency,
		Discount:       m.Discount,
		CouponCode:     m.CouponCode,
		Status:         biz.OrderStatus(m.Status),
		Version:        m.Version,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// CreateOrder 创建订单
func (r *orderRepo) CreateOrder(ctx context.Context, order *biz.Order) error {
	m := toOrderModel(order)
	if err := r.data.DB(ctx).Create(m).Error; err != nil {
		r.log.Errorf("Failed to create order %s: %v", order.ID, err)
		return err
	}
	return nil
}

// GetOrder 获取订单, 不存在返回 (nil, nil)
func (r *orderRepo) GetOrder(ctx context.Context, orderID string) (*biz.Order, error) {
	var m model.Order
	err := r.data.DB(ctx).First(&m, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get order %s: %v", orderID, err)
		return nil, err
	}
	return toOrderBiz(&m), nil
}

// UpdateOrder 带版本条件更新订单
// 版本不匹配说明有并发写入, 返回 VersionConflict 由调用方重读重试
func (r *orderRepo) UpdateOrder(ctx context.Context, order *biz.Order) error {
	now := time.Now().UTC()
	res := r.data.DB(ctx).Model(&model.Order{}).
		Where("order_id = ? AND version = ?", order.ID, order.Version).
		Updates(map[string]interface{}{
			"status":      string(order.Status),
			"discount":    order.Discount,
			"coupon_code": order.CouponCode,
			"total_price": order.TotalPrice(),
			"version":     order.Version + 1,
			"updated_at":  now,
		})
	if res.Error != nil {
		r.log.Errorf("Failed to update order %s: %v", order.ID, res.Error)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return bizerrors.NewVersionConflict("order %s: version %d is stale", order.ID, order.Version)
	}
	order.Version++
	order.UpdatedAt = now
	return nil
}
