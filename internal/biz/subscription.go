package biz

import (
	"context"
	"fmt"
	"time"

	"xinyuan_tech/billing-service/internal/constants"
	"xinyuan_tech/billing-service/internal/errors"
)

// SubscriptionStatus 订阅状态
type SubscriptionStatus string

const (
	SubscriptionStatusActive      SubscriptionStatus = "active"       // 正常计费
	SubscriptionStatusPastDue     SubscriptionStatus = "past_due"     // 扣款失败, 刚进入欠费
	SubscriptionStatusGracePeriod SubscriptionStatus = "grace_period" // 宽限期内继续重试
	SubscriptionStatusCancelled   SubscriptionStatus = "cancelled"    // 已取消 (终态)
	SubscriptionStatusExpired     SubscriptionStatus = "expired"      // 宽限期耗尽 (终态)
)

// Subscription 订阅记录 (周期性计费协议)
// 不变式: 同一 (user, content) 至多一条 active/past_due/grace_period 订阅
type Subscription struct {
	ID            string
	UserID        uint64
	ContentID     string
	BillingKey    string // 网关侧存储的扣款方式引用
	Method        string
	Amount        int64 // 每期扣款金额 (最小货币单位)
	Currency      string
	PeriodDays    int // 计费周期天数
	Status        SubscriptionStatus
	NextBillingAt time.Time
	GraceEndsAt   *time.Time
	CancelReason  string
	LastOrderID   string // 最近一次续费订单 (仅回溯用, 无生命周期依赖)
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsBillable 是否仍在扣款调度范围内
func (s *Subscription) IsBillable() bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusPastDue, SubscriptionStatusGracePeriod:
		return true
	}
	return false
}

// IsTerminal 是否处于终态
func (s *Subscription) IsTerminal() bool {
	return s.Status == SubscriptionStatusCancelled || s.Status == SubscriptionStatusExpired
}

// CycleKey 当前计费周期的幂等键: 订阅ID + 本期应扣时间
// 同一周期内重复的扫描 tick 会产出同一个键, 从而被幂等守卫拦下
func (s *Subscription) CycleKey() string {
	return fmt.Sprintf("%s:%s", s.ID, s.NextBillingAt.UTC().Format(time.RFC3339))
}

// Renew 扣款成功, 推进一个计费周期
// active 保持 active; past_due/grace_period 恢复为 active 并清除宽限期
func (s *Subscription) Renew(orderID string) error {
	if !s.IsBillable() {
		return errors.NewStateConflict("subscription %s: cannot renew from status %s", s.ID, s.Status)
	}
	s.Status = SubscriptionStatusActive
	s.NextBillingAt = s.NextBillingAt.AddDate(0, 0, s.periodDays())
	s.GraceEndsAt = nil
	s.LastOrderID = orderID
	return nil
}

// periodDays 计费周期天数, 未配置时按默认周期
func (s *Subscription) periodDays() int {
	if s.PeriodDays <= 0 {
		return constants.DefaultBillingPeriodDays
	}
	return s.PeriodDays
}

// MarkPastDue 扣款失败, 打开宽限期
// active -> past_due (记录宽限期截止), past_due -> grace_period (窗口已开, 不重置截止时间)
// NextBillingAt 保持不变, 下一轮扫描会在宽限期内继续重试扣款
func (s *Subscription) MarkPastDue(graceEndsAt time.Time) error {
	switch s.Status {
	case SubscriptionStatusActive:
		s.Status = SubscriptionStatusPastDue
		s.GraceEndsAt = &graceEndsAt
	case SubscriptionStatusPastDue:
		s.Status = SubscriptionStatusGracePeriod
	case SubscriptionStatusGracePeriod:
		// 宽限期内重复失败, 无需变更
	default:
		return errors.NewStateConflict("subscription %s: cannot mark past due from status %s", s.ID, s.Status)
	}
	return nil
}

// Expire 宽限期耗尽: past_due/grace_period -> expired
func (s *Subscription) Expire() error {
	if s.Status != SubscriptionStatusPastDue && s.Status != SubscriptionStatusGracePeriod {
		return errors.NewStateConflict("subscription %s: cannot expire from status %s", s.ID, s.Status)
	}
	s.Status = SubscriptionStatusExpired
	return nil
}

// Cancel 显式取消: active/past_due/grace_period -> cancelled
// 对已取消订阅重复取消是幂等 no-op, 返回 (false, nil)
func (s *Subscription) Cancel(reason string) (bool, error) {
	switch s.Status {
	case SubscriptionStatusCancelled:
		return false, nil
	case SubscriptionStatusActive, SubscriptionStatusPastDue, SubscriptionStatusGracePeriod:
		s.Status = SubscriptionStatusCancelled
		s.CancelReason = reason
		return true, nil
	default:
		return false, errors.NewStateConflict("subscription %s: cannot cancel from status %s", s.ID, s.Status)
	}
}

// SubscriptionRepo 订阅仓库接口
type SubscriptionRepo interface {
	CreateSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, subID string) (*Subscription, error)
	// GetBillableByUserContent 查询 (user, content) 下仍在计费的订阅, 不存在返回 (nil, nil)
	GetBillableByUserContent(ctx context.Context, userID uint64, contentID string) (*Subscription, error)
	// ListDueSubscriptions 查询到期应扣的订阅 (status 可计费且 next_billing_at <= now),
	// 按 (next_billing_at, id) 升序键集分页, 最早到期优先;
	// 首页传零值游标, 之后传上一页最后一行的 next_billing_at 和 id
	ListDueSubscriptions(ctx context.Context, now time.Time, afterBillingAt time.Time, afterID string, pageSize int) ([]*Subscription, error)
	// ListGraceExpired 查询宽限期已耗尽的订阅 (past_due/grace_period 且 grace_ends_at <= now),
	// 按 (grace_ends_at, id) 升序键集分页
	ListGraceExpired(ctx context.Context, now time.Time, afterGraceAt time.Time, afterID string, pageSize int) ([]*Subscription, error)
	// ListUpcomingRenewals 查询 N 天内将要续费的活跃订阅 (续费提醒用)
	ListUpcomingRenewals(ctx context.Context, now time.Time, withinDays, page, pageSize int) ([]*Subscription, int, error)
	// UpdateSubscription 带版本条件更新, 版本不匹配返回 VersionConflict
	UpdateSubscription(ctx context.Context, sub *Subscription) error
}
