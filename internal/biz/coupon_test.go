package biz

import (
	"testing"
	"time"

	"xinyuan_tech/billing-service/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoupon() *UserCoupon {
	return &UserCoupon{
		Code:          "WELCOME10",
		UserID:        42,
		Type:          CouponTypePercentage,
		DiscountValue: 10,
		ValidFrom:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidUntil:    time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC),
		Status:        CouponStatusIssued,
	}
}

func TestCouponDiscountFor(t *testing.T) {
	c := newTestCoupon()
	assert.Equal(t, int64(1000), c.DiscountFor(10000))

	fixed := &UserCoupon{Type: CouponTypeFixedAmount, DiscountValue: 5000}
	assert.Equal(t, int64(5000), fixed.DiscountFor(10000))
	// 折扣额不超过订单金额
	assert.Equal(t, int64(3000), fixed.DiscountFor(3000))
}

func TestCouponRedeem(t *testing.T) {
	c := newTestCoupon()
	at := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, c.Redeem("ORD1", 10000, at))
	assert.Equal(t, CouponStatusUsed, c.Status)
	assert.Equal(t, "ORD1", c.UsedOrderID)

	// issued -> used 恰好发生一次
	assert.Error(t, c.Redeem("ORD2", 10000, at))
	assert.Equal(t, "ORD1", c.UsedOrderID)
}

func TestCouponRedeemOutsideValidity(t *testing.T) {
	c := newTestCoupon()
	at := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	err := c.Redeem("ORD1", 10000, at)
	assert.Error(t, err)
	assert.Equal(t, CouponStatusIssued, c.Status)
}

func TestCouponRedeemBelowMinimum(t *testing.T) {
	c := newTestCoupon()
	c.MinOrderPrice = 20000
	at := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	assert.Error(t, c.Redeem("ORD1", 10000, at))
}

func TestCouponReissueWithinValidity(t *testing.T) {
	c := newTestCoupon()
	at := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, c.Redeem("ORD1", 10000, at))

	reissued, err := c.Reissue(at.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.True(t, reissued)
	assert.Equal(t, CouponStatusIssued, c.Status)
	assert.Empty(t, c.UsedOrderID)
}

func TestCouponReissueAfterValidity(t *testing.T) {
	c := newTestCoupon()
	at := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, c.Redeem("ORD1", 10000, at))

	// 有效期后取消订单, 优惠券视为已消费, 不回收
	reissued, err := c.Reissue(time.Date(2027, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, reissued)
	assert.Equal(t, CouponStatusUsed, c.Status)
	assert.Equal(t, "ORD1", c.UsedOrderID)
}

func TestCouponReissueFromIssued(t *testing.T) {
	c := newTestCoupon()
	_, err := c.Reissue(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, errors.IsStateConflict(err))
}
