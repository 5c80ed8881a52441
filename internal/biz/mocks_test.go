package biz

import (
	"context"
	"io"
	"testing"
	"time"

	"xinyuan_tech/billing-service/internal/conf"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
)

// --- Mock Implementations ---

type MockOrderRepo struct {
	mock.Mock
}

func (m *MockOrderRepo) CreateOrder(ctx context.Context, order *Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *MockOrderRepo) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Order), args.Error(1)
}

func (m *MockOrderRepo) UpdateOrder(ctx context.Context, order *Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

type MockPaymentRepo struct {
	mock.Mock
}

func (m *MockPaymentRepo) CreatePayment(ctx context.Context, payment *Payment) error {
	args := m.Called(ctx, payment)
	return args.Error(0)
}

func (m *MockPaymentRepo) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Payment), args.Error(1)
}

func (m *MockPaymentRepo) GetPaymentByTransactionKey(ctx context.Context, transactionKey string) (*Payment, error) {
	args := m.Called(ctx, transactionKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Payment), args.Error(1)
}

func (m *MockPaymentRepo) GetPaymentByIdempotencyKey(ctx context.Context, idempotencyKey string) (*Payment, error) {
	args := m.Called(ctx, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Payment), args.Error(1)
}

func (m *MockPaymentRepo) GetApprovedPaymentByOrder(ctx context.Context, orderID string) (*Payment, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Payment), args.Error(1)
}

func (m *MockPaymentRepo) GetLatestPaymentByOrder(ctx context.Context, orderID string) (*Payment, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Payment), args.Error(1)
}

func (m *MockPaymentRepo) ListStalePayments(ctx context.Context, statuses []PaymentStatus, before time.Time, limit int) ([]*Payment, error) {
	args := m.Called(ctx, statuses, before, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Payment), args.Error(1)
}

func (m *MockPaymentRepo) UpdatePayment(ctx context.Context, payment *Payment) error {
	args := m.Called(ctx, payment)
	return args.Error(0)
}

type MockPaymentCancelRepo struct {
	mock.Mock
}

func (m *MockPaymentCancelRepo) CreateCancel(ctx context.Context, cancel *PaymentCancel) error {
	args := m.Called(ctx, cancel)
	return args.Error(0)
}

func (m *MockPaymentCancelRepo) UpdateCancel(ctx context.Context, cancel *PaymentCancel) error {
	args := m.Called(ctx, cancel)
	return args.Error(0)
}

func (m *MockPaymentCancelRepo) GetLatestRequestedCancel(ctx context.Context, paymentID string) (*PaymentCancel, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PaymentCancel), args.Error(1)
}

func (m *MockPaymentCancelRepo) ListCancelsByPayment(ctx context.Context, paymentID string) ([]*PaymentCancel, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*PaymentCancel), args.Error(1)
}

type MockSubscriptionRepo struct {
	mock.Mock
}

func (m *MockSubscriptionRepo) CreateSubscription(ctx context.Context, sub *Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

func (m *MockSubscriptionRepo) GetSubscription(ctx context.Context, subID string) (*Subscription, error) {
	args := m.Called(ctx, subID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Subscription), args.Error(1)
}

func (m *MockSubscriptionRepo) GetBillableByUserContent(ctx context.Context, userID uint64, contentID string) (*Subscription, error) {
	args := m.Called(ctx, userID, contentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Subscription), args.Error(1)
}

func (m *MockSubscriptionRepo) ListDueSubscriptions(ctx context.Context, now time.Time, afterBillingAt time.Time, afterID string, pageSize int) ([]*Subscription, error) {
	args := m.Called(ctx, now, afterBillingAt, afterID, pageSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Subscription), args.Error(1)
}

func (m *MockSubscriptionRepo) ListGraceExpired(ctx context.Context, now time.Time, afterGraceAt time.Time, afterID string, pageSize int) ([]*Subscription, error) {
	args := m.Called(ctx, now, afterGraceAt, afterID, pageSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Subscription), args.Error(1)
}

func (m *MockSubscriptionRepo) ListUpcomingRenewals(ctx context.Context, now time.Time, withinDays, page, pageSize int) ([]*Subscription, int, error) {
	args := m.Called(ctx, now, withinDays, page, pageSize)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*Subscription), args.Int(1), args.Error(2)
}

func (m *MockSubscriptionRepo) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

type MockCouponRepo struct {
	mock.Mock
}

func (m *MockCouponRepo) GetCoupon(ctx context.Context, code string) (*UserCoupon, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*UserCoupon), args.Error(1)
}

func (m *MockCouponRepo) GetCouponByUsedOrder(ctx context.Context, orderID string) (*UserCoupon, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*UserCoupon), args.Error(1)
}

func (m *MockCouponRepo) UpdateCoupon(ctx context.Context, coupon *UserCoupon) error {
	args := m.Called(ctx, coupon)
	return args.Error(0)
}

type MockTransitionHistoryRepo struct {
	mock.Mock
}

func (m *MockTransitionHistoryRepo) AddTransitionHistory(ctx context.Context, history *TransitionHistory) error {
	args := m.Called(ctx, history)
	return args.Error(0)
}

func (m *MockTransitionHistoryRepo) ListTransitionHistory(ctx context.Context, kind EntityKind, entityID string, page, pageSize int) ([]*TransitionHistory, int, error) {
	args := m.Called(ctx, kind, entityID, page, pageSize)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*TransitionHistory), args.Int(1), args.Error(2)
}

type MockPaymentGateway struct {
	mock.Mock
}

func (m *MockPaymentGateway) Prepare(ctx context.Context, order *Order, method string) (*GatewayPayment, error) {
	args := m.Called(ctx, order, method)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*GatewayPayment), args.Error(1)
}

func (m *MockPaymentGateway) Approve(ctx context.Context, paymentKey, orderID string, amount int64) (*GatewayPayment, error) {
	args := m.Called(ctx, paymentKey, orderID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*GatewayPayment), args.Error(1)
}

func (m *MockPaymentGateway) ChargeBillingKey(ctx context.Context, billingKey, orderID string, amount int64) (*GatewayPayment, error) {
	args := m.Called(ctx, billingKey, orderID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*GatewayPayment), args.Error(1)
}

func (m *MockPaymentGateway) Cancel(ctx context.Context, paymentKey string, amount int64, reason string) (*GatewayCancel, error) {
	args := m.Called(ctx, paymentKey, amount, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*GatewayCancel), args.Error(1)
}

func (m *MockPaymentGateway) GetDetails(ctx context.Context, paymentKey string) (*GatewayPayment, error) {
	args := m.Called(ctx, paymentKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*GatewayPayment), args.Error(1)
}

func (m *MockPaymentGateway) IssueVirtualAccount(ctx context.Context, order *Order, bank string) (*GatewayPayment, error) {
	args := m.Called(ctx, order, bank)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*GatewayPayment), args.Error(1)
}

func (m *MockPaymentGateway) DecodeWebhook(payload []byte) (*WebhookEvent, error) {
	args := m.Called(payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*WebhookEvent), args.Error(1)
}

// --- Test Helpers ---

// fakeTransaction 直接执行 fn, 不做真实事务
type fakeTransaction struct{}

func (fakeTransaction) Exec(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func testLogger() log.Logger {
	return log.NewStdLogger(io.Discard)
}

// newTestRedsync 基于 miniredis 的 redsync 实例
func newTestRedsync(t *testing.T) *redsync.Redsync {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redsync.New(goredis.NewPool(client))
}

func newTestGuard(t *testing.T, paymentRepo PaymentRepo) *IdempotencyGuard {
	t.Helper()
	return NewIdempotencyGuard(newTestRedsync(t), paymentRepo, testLogger())
}

func newTestBootstrap() *conf.Bootstrap {
	return &conf.Bootstrap{
		Billing: &conf.Billing{
			GraceWindowDays:    3,
			SweepPageSize:      100,
			ReminderDaysBefore: 3,
			Refund:             &conf.Refund{Mode: "prorated_daily"},
			Coupon:             &conf.Coupon{ReissueWithinValidity: true},
		},
	}
}
