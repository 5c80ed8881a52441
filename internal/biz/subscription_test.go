package biz

import (
	"testing"
	"time"

	"xinyuan_tech/billing-service/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionCycleKeyStableWithinCycle(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	sub := &Subscription{ID: "SUB1", NextBillingAt: at}

	key1 := sub.CycleKey()
	key2 := sub.CycleKey()
	assert.Equal(t, key1, key2)
	assert.Equal(t, "SUB1:2026-03-01T09:00:00Z", key1)
}

func TestSubscriptionRenewAdvancesCycle(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	sub := &Subscription{
		ID:            "SUB1",
		Status:        SubscriptionStatusActive,
		PeriodDays:    30,
		NextBillingAt: at,
	}

	require.NoError(t, sub.Renew("ORD1"))
	assert.Equal(t, SubscriptionStatusActive, sub.Status)
	assert.Equal(t, at.AddDate(0, 0, 30), sub.NextBillingAt)
	assert.Equal(t, "ORD1", sub.LastOrderID)
}

func TestSubscriptionRenewDefaultsPeriodWhenUnset(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	sub := &Subscription{
		ID:            "SUB1",
		Status:        SubscriptionStatusActive,
		NextBillingAt: at,
	}

	// 周期未配置的历史数据按默认 30 天推进
	require.NoError(t, sub.Renew("ORD1"))
	assert.Equal(t, at.AddDate(0, 0, 30), sub.NextBillingAt)
}

func TestSubscriptionRenewDuringGraceReactivates(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	graceEnd := at.Add(72 * time.Hour)
	sub := &Subscription{
		ID:            "SUB1",
		Status:        SubscriptionStatusGracePeriod,
		PeriodDays:    30,
		NextBillingAt: at,
		GraceEndsAt:   &graceEnd,
	}

	require.NoError(t, sub.Renew("ORD2"))
	assert.Equal(t, SubscriptionStatusActive, sub.Status)
	assert.Nil(t, sub.GraceEndsAt)
}

func TestSubscriptionMarkPastDueProgression(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	graceEnd := at.Add(72 * time.Hour)
	sub := &Subscription{ID: "SUB1", Status: SubscriptionStatusActive, NextBillingAt: at}

	// 第一次失败: active -> past_due, 打开宽限期
	require.NoError(t, sub.MarkPastDue(graceEnd))
	assert.Equal(t, SubscriptionStatusPastDue, sub.Status)
	require.NotNil(t, sub.GraceEndsAt)
	assert.Equal(t, graceEnd, *sub.GraceEndsAt)
	// 应扣时间不推进, 下一轮扫描继续重试
	assert.Equal(t, at, sub.NextBillingAt)

	// 第二次失败: past_due -> grace_period, 截止时间不重置
	laterEnd := graceEnd.Add(24 * time.Hour)
	require.NoError(t, sub.MarkPastDue(laterEnd))
	assert.Equal(t, SubscriptionStatusGracePeriod, sub.Status)
	assert.Equal(t, graceEnd, *sub.GraceEndsAt)

	// 宽限期内再失败无变更
	require.NoError(t, sub.MarkPastDue(laterEnd))
	assert.Equal(t, SubscriptionStatusGracePeriod, sub.Status)
}

func TestSubscriptionExpire(t *testing.T) {
	sub := &Subscription{ID: "SUB1", Status: SubscriptionStatusGracePeriod}
	require.NoError(t, sub.Expire())
	assert.Equal(t, SubscriptionStatusExpired, sub.Status)
	assert.True(t, sub.IsTerminal())
	assert.False(t, sub.IsBillable())
}

func TestSubscriptionExpireFromActive(t *testing.T) {
	sub := &Subscription{ID: "SUB1", Status: SubscriptionStatusActive}
	assert.True(t, errors.IsStateConflict(sub.Expire()))
}

func TestSubscriptionCancelIdempotent(t *testing.T) {
	sub := &Subscription{ID: "SUB1", Status: SubscriptionStatusActive}

	cancelled, err := sub.Cancel("user request")
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.Equal(t, "user request", sub.CancelReason)

	cancelled, err = sub.Cancel("again")
	require.NoError(t, err)
	assert.False(t, cancelled)
	assert.Equal(t, "user request", sub.CancelReason)
}

func TestSubscriptionCancelFromExpired(t *testing.T) {
	sub := &Subscription{ID: "SUB1", Status: SubscriptionStatusExpired}
	cancelled, err := sub.Cancel("late")
	assert.True(t, errors.IsStateConflict(err))
	assert.False(t, cancelled)
}
