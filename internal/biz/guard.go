package biz

import (
	"context"
	"time"

	"xinyuan_tech/billing-service/internal/constants"
	"xinyuan_tech/billing-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
)

// IdempotencyGuard 幂等与并发守卫
// 扫描任务 (按订阅扣款) 与回调处理 (按交易键) 都可能对同一支付/订单产生
// 竞争写入, 所有变更路径先经过这里: 分布式锁按逻辑键串行化, 持久化检查
// 拦截重复投递, 乐观锁版本在仓库层兜底
type IdempotencyGuard struct {
	rs          *redsync.Redsync
	paymentRepo PaymentRepo
	log         *log.Helper
}

// NewIdempotencyGuard 创建幂等守卫
func NewIdempotencyGuard(rs *redsync.Redsync, paymentRepo PaymentRepo, logger log.Logger) *IdempotencyGuard {
	return &IdempotencyGuard{
		rs:          rs,
		paymentRepo: paymentRepo,
		log:         log.NewHelper(logger),
	}
}

// AcquireChargeLock 获取订阅扣款锁
// 只尝试一次, 获取失败说明同一订阅正在被其他 tick/实例处理, 返回 LockBusy
func (g *IdempotencyGuard) AcquireChargeLock(ctx context.Context, subscriptionID string) (func(), error) {
	return g.acquire(ctx, constants.ChargeLockPrefix+subscriptionID, constants.ChargeLockExpiration)
}

// AcquireTransactionLock 获取交易键锁 (回调处理按交易键串行化)
func (g *IdempotencyGuard) AcquireTransactionLock(ctx context.Context, transactionKey string) (func(), error) {
	return g.acquire(ctx, constants.TransactionLockPrefix+transactionKey, constants.TransactionLockExpiration)
}

func (g *IdempotencyGuard) acquire(ctx context.Context, key string, expiry time.Duration) (func(), error) {
	mutex := g.rs.NewMutex(
		key,
		redsync.WithExpiry(expiry),
		redsync.WithTries(constants.LockRetries),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, errors.NewLockBusy("lock %s busy: %v", key, err)
	}
	unlock := func() {
		if _, err := mutex.UnlockContext(ctx); err != nil {
			g.log.Warnf("failed to unlock %s: %v", key, err)
		}
	}
	return unlock, nil
}

// ChargedPayment 查询当前计费周期是否已存在扣款尝试
// 存在非终态或已成功的支付说明本周期已扣或正在扣, 调用方应跳过而不是再次扣款;
// 仅当已有尝试确定失败 (failed) 时才允许同周期重试
func (g *IdempotencyGuard) ChargedPayment(ctx context.Context, cycleKey string) (*Payment, bool, error) {
	p, err := g.paymentRepo.GetPaymentByIdempotencyKey(ctx, cycleKey)
	if err != nil {
		return nil, false, err
	}
	if p == nil {
		return nil, false, nil
	}
	if p.Status == PaymentStatusFailed {
		return p, false, nil
	}
	return p, true, nil
}

// ShouldSkipWebhook 判断回调是否为已应用过的重复投递
// 支付已处于终态时, 针对它的 approve/fail 回调直接确认为 no-op
func (g *IdempotencyGuard) ShouldSkipWebhook(p *Payment, eventType WebhookEventType) bool {
	switch eventType {
	case WebhookPaymentApproved, WebhookPaymentFailed, WebhookVirtualAccountDeposit:
		return p.IsTerminal()
	case WebhookCancelCompleted:
		return p.Status == PaymentStatusCanceled
	case WebhookCancelFailed:
		// 取消失败回调在支付已回到 approved 或已取消时无需再应用
		return p.Status != PaymentStatusCancelRequested
	}
	return false
}
