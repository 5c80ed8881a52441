package biz

import (
	"context"
	"testing"
	"time"

	"xinyuan_tech/billing-service/internal/auth"
	"xinyuan_tech/billing-service/internal/errors"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type cancelFixture struct {
	orderRepo   *MockOrderRepo
	paymentRepo *MockPaymentRepo
	cancelRepo  *MockPaymentCancelRepo
	subRepo     *MockSubscriptionRepo
	couponRepo  *MockCouponRepo
	historyRepo *MockTransitionHistoryRepo
	gateway     *MockPaymentGateway
	uc          *CancelUsecase
}

func newCancelFixture(t *testing.T) *cancelFixture {
	f := &cancelFixture{
		orderRepo:   new(MockOrderRepo),
		paymentRepo: new(MockPaymentRepo),
		cancelRepo:  new(MockPaymentCancelRepo),
		subRepo:     new(MockSubscriptionRepo),
		couponRepo:  new(MockCouponRepo),
		historyRepo: new(MockTransitionHistoryRepo),
		gateway:     new(MockPaymentGateway),
	}
	guard := newTestGuard(t, f.paymentRepo)
	bootstrap := newTestBootstrap()
	f.uc = NewCancelUsecase(f.orderRepo, f.paymentRepo, f.cancelRepo, f.subRepo,
		f.couponRepo, f.historyRepo, f.gateway, guard, fakeTransaction{},
		NewEventBus(testLogger()), NewRefundPolicy(bootstrap), bootstrap, testLogger())
	f.historyRepo.On("AddTransitionHistory", mock.Anything, mock.Anything).Return(nil).Maybe()
	return f
}

func userCtx(userID uint64) context.Context {
	return auth.WithUser(context.Background(), userID, auth.RoleUser)
}

func TestRefundPolicyAmounts(t *testing.T) {
	prorated := &RefundPolicy{mode: "prorated_daily"}
	full := &RefundPolicy{mode: "full"}

	tests := []struct {
		name          string
		policy        *RefundPolicy
		paid          int64
		periodDays    int
		remainingDays int
		want          int64
	}{
		{"full refund ignores remaining days", full, 10000, 30, 10, 10000},
		{"prorated half period", prorated, 10000, 30, 15, 5000},
		{"prorated rounds down", prorated, 10000, 30, 10, 3333},
		{"prorated nothing remaining", prorated, 10000, 30, 0, 0},
		{"prorated clamps to period", prorated, 10000, 30, 45, 10000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.RefundAmount(tt.paid, tt.periodDays, tt.remainingDays))
		})
	}
}

func TestCancelOrderFullFlow(t *testing.T) {
	f := newCancelFixture(t)

	order := &Order{ID: "ORD1", UserID: 42, Status: OrderStatusPaid, UnitPrice: 10000, Quantity: 1}
	payment := &Payment{ID: "PAY1", OrderID: "ORD1", Status: PaymentStatusApproved,
		TransactionKey: "txn_1", Amount: 10000}

	var createdCancel *PaymentCancel
	f.orderRepo.On("GetOrder", mock.Anything, "ORD1").Return(order, nil)
	f.paymentRepo.On("GetApprovedPaymentByOrder", mock.Anything, "ORD1").Return(payment, nil)
	f.paymentRepo.On("UpdatePayment", mock.Anything, payment).Return(nil)
	f.cancelRepo.On("CreateCancel", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		createdCancel = args.Get(1).(*PaymentCancel)
	}).Return(nil)
	f.cancelRepo.On("UpdateCancel", mock.Anything, mock.Anything).Return(nil)
	f.orderRepo.On("UpdateOrder", mock.Anything, order).Return(nil)
	f.gateway.On("Cancel", mock.Anything, "txn_1", int64(10000), "user request").
		Return(&GatewayCancel{TransactionKey: "txn_1", Amount: 10000, CanceledAt: time.Now().UTC()}, nil)

	err := f.uc.CancelOrder(userCtx(42), "ORD1", "user request")
	require.NoError(t, err)

	assert.Equal(t, PaymentStatusCanceled, payment.Status)
	assert.Equal(t, OrderStatusCancelled, order.Status)
	require.NotNil(t, createdCancel)
	assert.Equal(t, PaymentCancelStatusCompleted, createdCancel.Status)
	assert.Equal(t, int64(10000), createdCancel.Amount)
	assert.Equal(t, "user", createdCancel.RequestedBy)
}

func TestCancelOrderGatewayRejectedKeepsRetryableState(t *testing.T) {
	f := newCancelFixture(t)

	order := &Order{ID: "ORD1", UserID: 42, Status: OrderStatusPaid}
	payment := &Payment{ID: "PAY1", OrderID: "ORD1", Status: PaymentStatusApproved,
		TransactionKey: "txn_1", Amount: 10000}

	var createdCancel *PaymentCancel
	f.orderRepo.On("GetOrder", mock.Anything, "ORD1").Return(order, nil)
	f.paymentRepo.On("GetApprovedPaymentByOrder", mock.Anything, "ORD1").Return(payment, nil)
	f.paymentRepo.On("UpdatePayment", mock.Anything, payment).Return(nil)
	f.cancelRepo.On("CreateCancel", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		createdCancel = args.Get(1).(*PaymentCancel)
	}).Return(nil)
	f.cancelRepo.On("UpdateCancel", mock.Anything, mock.Anything).Return(nil)
	f.gateway.On("Cancel", mock.Anything, "txn_1", int64(10000), "user request").
		Return(nil, errors.NewGatewayRejected("refund window closed"))

	err := f.uc.CancelOrder(userCtx(42), "ORD1", "user request")
	assert.True(t, errors.IsGatewayRejected(err))

	// 支付回到 approved, 失败的取消记录保留审计轨迹, 重试走新记录
	assert.Equal(t, PaymentStatusApproved, payment.Status)
	assert.Equal(t, OrderStatusPaid, order.Status)
	require.NotNil(t, createdCancel)
	assert.Equal(t, PaymentCancelStatusFailed, createdCancel.Status)
}

func TestCancelOrderGatewayTimeoutLeavesCancelRequested(t *testing.T) {
	f := newCancelFixture(t)

	order := &Order{ID: "ORD1", UserID: 42, Status: OrderStatusPaid}
	payment := &Payment{ID: "PAY1", OrderID: "ORD1", Status: PaymentStatusApproved,
		TransactionKey: "txn_1", Amount: 10000}

	f.orderRepo.On("GetOrder", mock.Anything, "ORD1").Return(order, nil)
	f.paymentRepo.On("GetApprovedPaymentByOrder", mock.Anything, "ORD1").Return(payment, nil)
	f.paymentRepo.On("UpdatePayment", mock.Anything, payment).Return(nil)
	f.cancelRepo.On("CreateCancel", mock.Anything, mock.Anything).Return(nil)
	f.gateway.On("Cancel", mock.Anything, "txn_1", int64(10000), "user request").
		Return(nil, errors.NewGatewayTimeout("gateway request timed out"))

	err := f.uc.CancelOrder(userCtx(42), "ORD1", "user request")
	assert.True(t, errors.IsGatewayTimeout(err))

	// 结果不确定: 保持 cancel_requested, 由回调或重试收敛
	assert.Equal(t, PaymentStatusCancelRequested, payment.Status)
}

func TestCancelOrderIdempotent(t *testing.T) {
	f := newCancelFixture(t)

	order := &Order{ID: "ORD1", UserID: 42, Status: OrderStatusCancelled}
	f.orderRepo.On("GetOrder", mock.Anything, "ORD1").Return(order, nil)

	err := f.uc.CancelOrder(userCtx(42), "ORD1", "again")
	require.NoError(t, err)
	f.gateway.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCancelOrderFailedNotCancellable(t *testing.T) {
	f := newCancelFixture(t)

	order := &Order{ID: "ORD1", UserID: 42, Status: OrderStatusFailed}
	f.orderRepo.On("GetOrder", mock.Anything, "ORD1").Return(order, nil)

	err := f.uc.CancelOrder(userCtx(42), "ORD1", "late")
	assert.Error(t, err)
}

func TestCancelOrderOwnership(t *testing.T) {
	f := newCancelFixture(t)

	order := &Order{ID: "ORD1", UserID: 42, Status: OrderStatusAwaitingPayment}
	f.orderRepo.On("GetOrder", mock.Anything, "ORD1").Return(order, nil)

	// 其他用户不能取消别人的订单
	err := f.uc.CancelOrder(userCtx(99), "ORD1", "not mine")
	assert.True(t, kerrors.IsForbidden(err))

	// 管理员不受限
	adminCtx := auth.WithUser(context.Background(), 1, auth.RoleAdmin)
	f.paymentRepo.On("GetApprovedPaymentByOrder", mock.Anything, "ORD1").Return(nil, nil)
	f.orderRepo.On("UpdateOrder", mock.Anything, order).Return(nil)
	require.NoError(t, f.uc.CancelOrder(adminCtx, "ORD1", "admin action"))
	assert.Equal(t, OrderStatusCancelled, order.Status)
}

func TestCancelOrderRetryAfterTimeoutWaitsForConvergence(t *testing.T) {
	f := newCancelFixture(t)

	// 上一次取消超时, 支付滞留在 cancel_requested;
	// 重试不能把已付订单本地取消, 否则钱在网关侧还扣着
	order := &Order{ID: "ORD1", UserID: 42, Status: OrderStatusPaid}
	inflight := &Payment{ID: "PAY1", OrderID: "ORD1", Status: PaymentStatusCancelRequested,
		TransactionKey: "txn_1", Amount: 10000}

	f.orderRepo.On("GetOrder", mock.Anything, "ORD1").Return(order, nil)
	f.paymentRepo.On("GetApprovedPaymentByOrder", mock.Anything, "ORD1").Return(nil, nil)
	f.paymentRepo.On("GetLatestPaymentByOrder", mock.Anything, "ORD1").Return(inflight, nil)

	err := f.uc.CancelOrder(userCtx(42), "ORD1", "retry")
	assert.True(t, errors.IsStateConflict(err))
	assert.Equal(t, OrderStatusPaid, order.Status)
	f.orderRepo.AssertNotCalled(t, "UpdateOrder", mock.Anything, mock.Anything)
	f.gateway.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCancelOrderPaidWithoutPaymentRecord(t *testing.T) {
	f := newCancelFixture(t)

	// 已付订单却查不到任何支付记录, 数据完整性问题, 拒绝本地取消
	order := &Order{ID: "ORD1", UserID: 42, Status: OrderStatusPaid}
	f.orderRepo.On("GetOrder", mock.Anything, "ORD1").Return(order, nil)
	f.paymentRepo.On("GetApprovedPaymentByOrder", mock.Anything, "ORD1").Return(nil, nil)
	f.paymentRepo.On("GetLatestPaymentByOrder", mock.Anything, "ORD1").Return(nil, nil)

	err := f.uc.CancelOrder(userCtx(42), "ORD1", "refund me")
	assert.True(t, errors.IsPaymentNotFound(err))
	assert.Equal(t, OrderStatusPaid, order.Status)
}

func TestCancelOrderUnpaidLocalOnly(t *testing.T) {
	f := newCancelFixture(t)

	order := &Order{ID: "ORD1", UserID: 42, Status: OrderStatusAwaitingPayment}
	f.orderRepo.On("GetOrder", mock.Anything, "ORD1").Return(order, nil)
	f.paymentRepo.On("GetApprovedPaymentByOrder", mock.Anything, "ORD1").Return(nil, nil)
	f.orderRepo.On("UpdateOrder", mock.Anything, order).Return(nil)

	err := f.uc.CancelOrder(userCtx(42), "ORD1", "changed mind")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusCancelled, order.Status)
	f.gateway.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCancelOrderReissuesCouponWithinValidity(t *testing.T) {
	f := newCancelFixture(t)

	now := time.Now().UTC()
	order := &Order{ID: "ORD1", UserID: 42, Status: OrderStatusPaid, CouponCode: "WELCOME10"}
	payment := &Payment{ID: "PAY1", OrderID: "ORD1", Status: PaymentStatusApproved,
		TransactionKey: "txn_1", Amount: 9000}
	coupon := &UserCoupon{
		Code:        "WELCOME10",
		Status:      CouponStatusUsed,
		UsedOrderID: "ORD1",
		ValidFrom:   now.AddDate(0, -1, 0),
		ValidUntil:  now.AddDate(0, 1, 0),
	}

	f.orderRepo.On("GetOrder", mock.Anything, "ORD1").Return(order, nil)
	f.paymentRepo.On("GetApprovedPaymentByOrder", mock.Anything, "ORD1").Return(payment, nil)
	f.paymentRepo.On("UpdatePayment", mock.Anything, payment).Return(nil)
	f.cancelRepo.On("CreateCancel", mock.Anything, mock.Anything).Return(nil)
	f.cancelRepo.On("UpdateCancel", mock.Anything, mock.Anything).Return(nil)
	f.orderRepo.On("UpdateOrder", mock.Anything, order).Return(nil)
	f.couponRepo.On("GetCouponByUsedOrder", mock.Anything, "ORD1").Return(coupon, nil)
	f.couponRepo.On("UpdateCoupon", mock.Anything, coupon).Return(nil)
	f.gateway.On("Cancel", mock.Anything, "txn_1", int64(9000), "user request").
		Return(&GatewayCancel{TransactionKey: "txn_1", Amount: 9000, CanceledAt: now}, nil)

	err := f.uc.CancelOrder(userCtx(42), "ORD1", "user request")
	require.NoError(t, err)

	assert.Equal(t, CouponStatusIssued, coupon.Status)
	assert.Empty(t, coupon.UsedOrderID)
}

func TestCancelSubscriptionWithProratedRefund(t *testing.T) {
	f := newCancelFixture(t)

	now := time.Now().UTC()
	sub := &Subscription{
		ID:            "SUB1",
		UserID:        42,
		Status:        SubscriptionStatusActive,
		PeriodDays:    30,
		NextBillingAt: now.Add(15*24*time.Hour + time.Hour),
		LastOrderID:   "ORD9",
	}
	order := &Order{ID: "ORD9", UserID: 42, SubscriptionID: "SUB1", Status: OrderStatusPaid}
	payment := &Payment{ID: "PAY9", OrderID: "ORD9", Status: PaymentStatusApproved,
		TransactionKey: "txn_9", Amount: 10000}

	f.subRepo.On("GetSubscription", mock.Anything, "SUB1").Return(sub, nil)
	f.subRepo.On("UpdateSubscription", mock.Anything, sub).Return(nil)
	f.orderRepo.On("GetOrder", mock.Anything, "ORD9").Return(order, nil)
	f.paymentRepo.On("GetApprovedPaymentByOrder", mock.Anything, "ORD9").Return(payment, nil)
	f.paymentRepo.On("UpdatePayment", mock.Anything, payment).Return(nil)
	f.cancelRepo.On("CreateCancel", mock.Anything, mock.Anything).Return(nil)
	f.cancelRepo.On("UpdateCancel", mock.Anything, mock.Anything).Return(nil)
	f.orderRepo.On("UpdateOrder", mock.Anything, order).Return(nil)
	// 剩余 15 天 / 周期 30 天, 按比例退一半
	f.gateway.On("Cancel", mock.Anything, "txn_9", int64(5000), "user request").
		Return(&GatewayCancel{TransactionKey: "txn_9", Amount: 5000, CanceledAt: now}, nil)

	err := f.uc.CancelSubscription(userCtx(42), "SUB1", "user request")
	require.NoError(t, err)

	assert.Equal(t, SubscriptionStatusCancelled, sub.Status)
	assert.Equal(t, OrderStatusCancelled, order.Status)
	assert.Equal(t, PaymentStatusCanceled, payment.Status)
	f.gateway.AssertCalled(t, "Cancel", mock.Anything, "txn_9", int64(5000), "user request")
}

func TestCancelSubscriptionIdempotent(t *testing.T) {
	f := newCancelFixture(t)

	sub := &Subscription{ID: "SUB1", UserID: 42, Status: SubscriptionStatusCancelled}
	f.subRepo.On("GetSubscription", mock.Anything, "SUB1").Return(sub, nil)

	err := f.uc.CancelSubscription(userCtx(42), "SUB1", "again")
	require.NoError(t, err)
	f.subRepo.AssertNotCalled(t, "UpdateSubscription", mock.Anything, mock.Anything)
}

func TestCancelSubscriptionNotFound(t *testing.T) {
	f := newCancelFixture(t)
	f.subRepo.On("GetSubscription", mock.Anything, "SUB404").Return(nil, nil)

	err := f.uc.CancelSubscription(userCtx(42), "SUB404", "gone")
	assert.Error(t, err)
}
