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

// 处于扣款调度范围内的状态集合
var billableStatuses = []string{
	string(biz.SubscriptionStatusActive),
	string(biz.SubscriptionStatusPastDue),
	string(biz.SubscriptionStatusGracePeriod),
}

// subscriptionRepo 订阅仓库实现
type subscriptionRepo struct {
	data *Data
	log  *log.Helper
}

// NewSubscriptionRepo 创建订阅仓库
func NewSubscriptionRepo(data *Data, logger log.Logger) biz.SubscriptionRepo {
	return &subscriptionRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func toSubscriptionModel(s *biz.Subscription) *model.Subscription {
	return &model.Subscription{
		ID:            s.ID,
		UserID:        s.UserID,
		ContentID:     s.ContentID,
		BillingKey:    s.BillingKey,
		Method:        s.Method,
		Amount:        s.Amount,
		Currency:      s.Currency,
		PeriodDays:    s.PeriodDays,
		Status:        string(s.Status),
		NextBillingAt: s.NextBillingAt,
		GraceEndsAt:   s.GraceEndsAt,
		CancelReason:  s.CancelReason,
		LastOrderID:   s.LastOrderID,
		Version:       s.Version,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func toSubscriptionBiz(m *model.Subscription) *biz.Subscription {
	return &biz.Subscription{
		ID:            m.ID,
		UserID:        m.UserID,
		ContentID:     m.ContentID,
		BillingKey:    m.BillingKey,
		Method:        m.Method,
		Amount:        m.Amount,
		Currency:      m.Currency,
		PeriodDays:    m.PeriodDays,
		Status:        biz.SubscriptionStatus(m.Status),
		NextBillingAt: m.NextBillingAt,
		GraceEndsAt:   m.GraceEndsAt,
		CancelReason:  m.CancelReason,
		LastOrderID:   m.LastOrderID,
		Version:       m.Version,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// CreateSubscription 创建订阅
func (r *subscriptionRepo) CreateSubscription(ctx context.Context, sub *biz.Subscription) error {
	if err := r.data.DB(ctx).Create(toSubscriptionModel(sub)).Error; err != nil {
		r.log.Errorf("Failed to create subscription %s: %v", sub.ID, err)
		return err
	}
	return nil
}

// GetSubscription 获取订阅, 不存在返回 (nil, nil)
func (r *subscriptionRepo) GetSubscription(ctx context.Context, subID string) (*biz.Subscription, error) {
	var m model.Subscription
	err := r.data.DB(ctx).First(&m, "subscription_id = ?", subID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get subscription %s: %v", subID, err)
		return nil, err
	}
	return toSubscriptionBiz(&m), nil
}

// GetBillableByUserContent 查询 (user, content) 下仍在计费的订阅
func (r *subscriptionRepo) GetBillableByUserContent(ctx context.Context, userID uint64, contentID string) (*biz.Subscription, error) {
	var m model.Subscription
	err := r.data.DB(ctx).
		Where("user_id = ? AND content_id = ? AND status IN ?", userID, contentID, billableStatuses).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get billable subscription for user %d content %s: %v", userID, contentID, err)
		return nil, err
	}
	return toSubscriptionBiz(&m), nil
}

// ListDueSubscriptions 查询到期应扣的订阅, 按 (next_billing_at, id) 键集分页
// 偏移量分页会在扣款成功的行退出筛选条件后跳过未处理的行, 这里始终用游标推进
func (r *subscriptionRepo) ListDueSubscriptions(ctx context.Context, now time.Time, afterBillingAt time.Time, afterID string, pageSize int) ([]*biz.Subscription, error) {
	q := r.data.DB(ctx).
		Where("status IN ? AND next_billing_at <= ?", billableStatuses, now)
	if afterID != "" {
		q = q.Where("next_billing_at > ? OR (next_billing_at = ? AND subscription_id > ?)",
			afterBillingAt, afterBillingAt, afterID)
	}
	var models []model.Subscription
	err := q.
		Order("next_billing_at ASC, subscription_id ASC").
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		r.log.Errorf("Failed to list due subscriptions: %v", err)
		return nil, err
	}
	subs := make([]*biz.Subscription, len(models))
	for i := range models {
		subs[i] = toSubscriptionBiz(&models[i])
	}
	return subs, nil
}

// ListGraceExpired 查询宽限期已耗尽的订阅, 按 (grace_ends_at, id) 键集分页
func (r *subscriptionRepo) ListGraceExpired(ctx context.Context, now time.Time, afterGraceAt time.Time, afterID string, pageSize int) ([]*biz.Subscription, error) {
	q := r.data.DB(ctx).
		Where("status IN ? AND grace_ends_at IS NOT NULL AND grace_ends_at <= ?",
			[]string{string(biz.SubscriptionStatusPastDue), string(biz.SubscriptionStatusGracePeriod)}, now)
	if afterID != "" {
		q = q.Where("grace_ends_at > ? OR (grace_ends_at = ? AND subscription_id > ?)",
			afterGraceAt, afterGraceAt, afterID)
	}
	var models []model.Subscription
	err := q.
		Order("grace_ends_at ASC, subscription_id ASC").
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		r.log.Errorf("Failed to list grace-expired subscriptions: %v", err)
		return nil, err
	}
	subs := make([]*biz.Subscription, len(models))
	for i := range models {
		subs[i] = toSubscriptionBiz(&models[i])
	}
	return subs, nil
}

// ListUpcomingRenewals 查询 N 天内将要续费的活跃订阅
func (r *subscriptionRepo) ListUpcomingRenewals(ctx context.Context, now time.Time, withinDays, page, pageSize int) ([]*biz.Subscription, int, error) {
	until := now.AddDate(0, 0, withinDays)
	var total int64
	q := r.data.DB(ctx).Model(&model.Subscription{}).
		Where("status = ? AND next_billing_at BETWEEN ? AND ?", string(biz.SubscriptionStatusActive), now, until)
	if err := q.Count(&total).Error; err != nil {
		r.log.Errorf("Failed to count upcoming renewals: %v", err)
		return nil, 0, err
	}

	var models []model.Subscription
	offset := (page - 1) * pageSize
	err := r.data.DB(ctx).
		Where("status = ? AND next_billing_at BETWEEN ? AND ?", string(biz.SubscriptionStatusActive), now, until).
		Order("next_billing_at ASC").
		Limit(pageSize).
		Offset(offset).
		Find(&models).Error
	if err != nil {
		r.log.Errorf("Failed to list upcoming renewals: %v", err)
		return nil, 0, err
	}
	subs := make([]*biz.Subscription, len(models))
	for i := range models {
		subs[i] = toSubscriptionBiz(&models[i])
	}
	return subs, int(total), nil
}

// UpdateSubscription 带版本条件更新订阅
func (r *subscriptionRepo) UpdateSubscription(ctx context.Context, sub *biz.Subscription) error {
	now := time.Now().UTC()
	res := r.data.DB(ctx).Model(&model.Subscription{}).
		Where("subscription_id = ? AND version = ?", sub.ID, sub.Version).
		Updates(map[string]interface{}{
			"status":          string(sub.Status),
			"next_billing_at": sub.NextBillingAt,
			"grace_ends_at":   sub.GraceEndsAt,
			"cancel_reason":   sub.CancelReason,
			"last_order_id":   sub.LastOrderID,
			"version":         sub.Version + 1,
			"updated_at":      now,
		})
	if res.Error != nil {
		r.log.Errorf("Failed to update subscription %s: %v", sub.ID, res.Error)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return bizerrors.NewVersionConflict("subscription %s: version %d is stale", sub.ID, sub.Version)
	}
	sub.Version++
	sub.UpdatedAt = now
	return nil
}
