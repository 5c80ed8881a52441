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

// paymentCancelRepo 取消记录仓库实现
type paymentCancelRepo struct {
	data *Data
	log  *log.Helper
}

// NewPaymentCancelRepo 创建取消记录仓库
func NewPaymentCancelRepo(data *Data, logger log.Logger) biz.PaymentCancelRepo {
	return &paymentCancelRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func toCancelBiz(m *model.PaymentCancel) *biz.PaymentCancel {
	return &biz.PaymentCancel{
		ID:          m.ID,
		PaymentID:   m.PaymentID,
		Amount:      m.Amount,
		Reason:      m.Reason,
		RequestedBy: m.RequestedBy,
		Status:      biz.PaymentCancelStatus(m.Status),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// CreateCancel 追加取消记录
func (r *paymentCancelRepo) CreateCancel(ctx context.Context, c *biz.PaymentCancel) error {
	m := &model.PaymentCancel{
		PaymentID:   c.PaymentID,
		Amount:      c.Amount,
		Reason:      c.Reason,
		RequestedBy: c.RequestedBy,
		Status:      string(c.Status),
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.CreatedAt,
	}
	if err := r.data.DB(ctx).Create(m).Error; err != nil {
		r.log.Errorf("Failed to create payment cancel for payment %s: %v", c.PaymentID, err)
		return err
	}
	c.ID = m.ID
	return nil
}

// UpdateCancel 更新取消记录状态 (requested -> completed/failed 的终结)
func (r *paymentCancelRepo) UpdateCancel(ctx context.Context, c *biz.PaymentCancel) error {
	now := time.Now().UTC()
	err := r.data.DB(ctx).Model(&model.PaymentCancel{}).
		Where("payment_cancel_id = ?", c.ID).
		Updates(map[string]interface{}{
			"status":     string(c.Status),
			"updated_at": now,
		}).Error
	if err != nil {
		r.log.Errorf("Failed to update payment cancel %d: %v", c.ID, err)
		return err
	}
	c.UpdatedAt = now
	return nil
}

// GetLatestRequestedCancel 查询支付下最近一条 requested 状态的取消记录
func (r *paymentCancelRepo) GetLatestRequestedCancel(ctx context.Context, paymentID string) (*biz.PaymentCancel, error) {
	var m model.PaymentCancel
	err := r.data.DB(ctx).
		Where("payment_id = ? AND status = ?", paymentID, string(biz.PaymentCancelStatusRequested)).
		Order("created_at DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get latest requested cancel for payment %s: %v", paymentID, err)
		return nil, err
	}
	return toCancelBiz(&m), nil
}

// ListCancelsByPayment 查询支付下全部取消记录 (审计用)
func (r *paymentCancelRepo) ListCancelsByPayment(ctx context.Context, paymentID string) ([]*biz.PaymentCancel, error) {
	var models []model.PaymentCancel
	err := r.data.DB(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		r.log.Errorf("Failed to list cancels for payment %s: %v", paymentID, err)
		return nil, err
	}
	cancels := make([]*biz.PaymentCancel, len(models))
	for i := range models {
		cancels[i] = toCancelBiz(&models[i])
	}
	return cancels, nil
}
