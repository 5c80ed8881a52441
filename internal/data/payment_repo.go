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

// paymentRepo 支付仓库实现
type paymentRepo struct {
	data *Data
	log  *log.Helper
}

// NewPaymentRepo 创建支付仓库
func NewPaymentRepo(data *Data, logger log.Logger) biz.PaymentRepo {
	return &paymentRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func toPaymentBiz(m *model.Payment) *biz.Payment {
	return &biz.Payment{
		ID:             m.ID,
		OrderID:        m.OrderID,
		TransactionKey: m.TransactionKey,
		IdempotencyKey: m.IdempotencyKey,
		Method:         m.Method,
		Amount:         m.Amount,
		Currency:       m.Currency,
		Status:         biz.PaymentStatus(m.Status),
		ApprovedAt:     m.ApprovedAt,
		Version:        m.Version,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// CreatePayment 创建支付记录
func (r *paymentRepo) CreatePayment(ctx context.Context, p *biz.Payment) error {
	m := &model.Payment{
		ID:             p.ID,
		OrderID:        p.OrderID,
		TransactionKey: p.TransactionKey,
		IdempotencyKey: p.IdempotencyKey,
		Method:         p.Method,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Status:         string(p.Status),
		ApprovedAt:     p.ApprovedAt,
		Version:        p.Version,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
	if err := r.data.DB(ctx).Create(m).Error; err != nil {
		r.log.Errorf("Failed to create payment %s: %v", p.ID, err)
		return err
	}
	return nil
}

// GetPayment 获取支付记录
func (r *paymentRepo) GetPayment(ctx context.Context, paymentID string) (*biz.Payment, error) {
	var m model.Payment
	err := r.data.DB(ctx).First(&m, "payment_id = ?", paymentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get payment %s: %v", paymentID, err)
		return nil, err
	}
	return toPaymentBiz(&m), nil
}

// GetPaymentByTransactionKey 按网关交易键查询, 不存在返回 (nil, nil)
func (r *paymentRepo) GetPaymentByTransactionKey(ctx context.Context, transactionKey string) (*biz.Payment, error) {
	var m model.Payment
	err := r.data.DB(ctx).First(&m, "transaction_key = ?", transactionKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get payment by transaction key %s: %v", transactionKey, err)
		return nil, err
	}
	return toPaymentBiz(&m), nil
}

// GetPaymentByIdempotencyKey 按幂等键查询, 不存在返回 (nil, nil)
// 同一幂等键可能有失败后的重试记录, 取最新一条
func (r *paymentRepo) GetPaymentByIdempotencyKey(ctx context.Context, idempotencyKey string) (*biz.Payment, error) {
	var m model.Payment
	err := r.data.DB(ctx).
		Where("idempotency_key = ?", idempotencyKey).
		Order("created_at DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get payment by idempotency key %s: %v", idempotencyKey, err)
		return nil, err
	}
	return toPaymentBiz(&m), nil
}

// GetApprovedPaymentByOrder 查询订单下 approved 状态的支付
func (r *paymentRepo) GetApprovedPaymentByOrder(ctx context.Context, orderID string) (*biz.Payment, error) {
	var m model.Payment
	err := r.data.DB(ctx).
		Where("order_id = ? AND status = ?", orderID, string(biz.PaymentStatusApproved)).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get approved payment for order %s: %v", orderID, err)
		return nil, err
	}
	return toPaymentBiz(&m), nil
}

// GetLatestPaymentByOrder 查询订单下最近一次支付尝试
func (r *paymentRepo) GetLatestPaymentByOrder(ctx context.Context, orderID string) (*biz.Payment, error) {
	var m model.Payment
	err := r.data.DB(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get latest payment for order %s: %v", orderID, err)
		return nil, err
	}
	return toPaymentBiz(&m), nil
}

// ListStalePayments 查询滞留在给定非终态的支付 (主动对账用)
func (r *paymentRepo) ListStalePayments(ctx context.Context, statuses []biz.PaymentStatus, before time.Time, limit int) ([]*biz.Payment, error) {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	var models []model.Payment
	err := r.data.DB(ctx).
		Where("status IN ? AND updated_at <= ?", values, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		r.log.Errorf("Failed to list stale payments: %v", err)
		return nil, err
	}
	payments := make([]*biz.Payment, len(models))
	for i := range models {
		payments[i] = toPaymentBiz(&models[i])
	}
	return payments, nil
}

// UpdatePayment 带版本条件更新支付记录
func (r *paymentRepo) UpdatePayment(ctx context.Context, p *biz.Payment) error {
	now := time.Now().UTC()
	res := r.data.DB(ctx).Model(&model.Payment{}).
		Where("payment_id = ? AND version = ?", p.ID, p.Version).
		Updates(map[string]interface{}{
			"status":          string(p.Status),
			"transaction_key": p.TransactionKey,
			"approved_at":     p.ApprovedAt,
			"version":         p.Version + 1,
			"updated_at":      now,
		})
	if res.Error != nil {
		r.log.Errorf("Failed to update payment %s: %v", p.ID, res.Error)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return bizerrors.NewVersionConflict("payment %s: version %d is stale", p.ID, p.Version)
	}
	p.Version++
	p.UpdatedAt = now
	return nil
}
