package biz

import (
	"context"
	"time"

	"xinyuan_tech/billing-service/internal/conf"
	"xinyuan_tech/billing-service/internal/constants"
	"xinyuan_tech/billing-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// ChargeOutcome 单个订阅的扣款处理结果
type ChargeOutcome string

const (
	ChargeOutcomeCharged ChargeOutcome = "charged"  // 扣款成功, 周期已推进
	ChargeOutcomeSkipped ChargeOutcome = "skipped"  // 本周期已处理或正在处理
	ChargeOutcomePastDue ChargeOutcome = "past_due" // 网关拒绝, 进入宽限期
	ChargeOutcomePending ChargeOutcome = "pending"  // 结果不确定, 等待对账
	ChargeOutcomeError   ChargeOutcome = "error"    // 本地处理失败
)

// ChargeResult 扣款结果明细
type ChargeResult struct {
	SubscriptionID string
	OrderID        string
	PaymentID      string
	Outcome        ChargeOutcome
	ErrorMessage   string
}

// SweepReport 一次扫描的汇总报告
type SweepReport struct {
	Scanned int
	Charged int
	Skipped int
	PastDue int
	Pending int
	Expired int
	Errors  int
	Results []*ChargeResult
}

// BillingUsecase 计费调度业务逻辑
// 两个独立的扫描入口: 到期扣款扫描和宽限期到期扫描; 单个订阅的失败被隔离,
// 不会中断整批处理
type BillingUsecase struct {
	subRepo     SubscriptionRepo
	orderRepo   OrderRepo
	paymentRepo PaymentRepo
	historyRepo TransitionHistoryRepo
	gateway     PaymentGateway
	guard       *IdempotencyGuard
	tm          Transaction
	bus         *EventBus
	billing     *conf.Billing
	log         *log.Helper
}

// NewBillingUsecase 创建计费调度业务逻辑
func NewBillingUsecase(
	subRepo SubscriptionRepo,
	orderRepo OrderRepo,
	paymentRepo PaymentRepo,
	historyRepo TransitionHistoryRepo,
	gateway PaymentGateway,
	guard *IdempotencyGuard,
	tm Transaction,
	bus *EventBus,
	c *conf.Bootstrap,
	logger log.Logger,
) *BillingUsecase {
	var billing *conf.Billing
	if c != nil {
		billing = c.Billing
	}
	return &BillingUsecase{
		subRepo:     subRepo,
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		historyRepo: historyRepo,
		gateway:     gateway,
		guard:       guard,
		tm:          tm,
		bus:         bus,
		billing:     billing,
		log:         log.NewHelper(logger),
	}
}

// SweepDueSubscriptions 到期扣款扫描
// 游标分页拉取到期订阅 (最早到期优先, 限制最坏延迟), 逐个尝试扣款;
// 扣款成功的订阅会退出筛选条件, 偏移量分页会因此跳行, 所以用
// (next_billing_at, id) 键集游标推进; 单个订阅的网关超时/失败只计入
// 报告, 不中断批次
func (uc *BillingUsecase) SweepDueSubscriptions(ctx context.Context) (*SweepReport, error) {
	now := time.Now().UTC()
	pageSize := uc.billing.PageSize()
	report := &SweepReport{}

	var cursorAt time.Time
	var cursorID string
	for {
		subs, err := uc.subRepo.ListDueSubscriptions(ctx, now, cursorAt, cursorID, pageSize)
		if err != nil {
			uc.log.Errorf("Failed to list due subscriptions: %v", err)
			return report, err
		}
		if len(subs) == 0 {
			break
		}

		for _, sub := range subs {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			result := uc.chargeSubscription(ctx, sub.ID, now)
			report.Scanned++
			report.Results = append(report.Results, result)
			switch result.Outcome {
			case ChargeOutcomeCharged:
				report.Charged++
			case ChargeOutcomeSkipped:
				report.Skipped++
			case ChargeOutcomePastDue:
				report.PastDue++
			case ChargeOutcomePending:
				report.Pending++
			case ChargeOutcomeError:
				report.Errors++
			}
		}

		last := subs[len(subs)-1]
		cursorAt, cursorID = last.NextBillingAt, last.ID
		if len(subs) < pageSize {
			break
		}
	}

	uc.log.Infof("Due sweep completed: scanned=%d, charged=%d, skipped=%d, past_due=%d, pending=%d, errors=%d",
		report.Scanned, report.Charged, report.Skipped, report.PastDue, report.Pending, report.Errors)
	return report, nil
}

// chargeSubscription 对单个订阅执行一次扣款尝试
func (uc *BillingUsecase) chargeSubscription(ctx context.Context, subID string, now time.Time) *ChargeResult {
	result := &ChargeResult{SubscriptionID: subID}

	// 分布式锁按订阅串行化, 获取失败说明正在被其他 tick/实例处理
	unlock, err := uc.guard.AcquireChargeLock(ctx, subID)
	if err != nil {
		if errors.IsLockBusy(err) {
			uc.log.Infof("Skipping charge for subscription %s: lock busy", subID)
			result.Outcome = ChargeOutcomeSkipped
			return result
		}
		result.Outcome = ChargeOutcomeError
		result.ErrorMessage = err.Error()
		return result
	}
	defer unlock()

	// 拿到锁后重读, 防止重复处理
	sub, err := uc.subRepo.GetSubscription(ctx, subID)
	if err != nil {
		result.Outcome = ChargeOutcomeError
		result.ErrorMessage = "failed to get subscription: " + err.Error()
		return result
	}
	if sub == nil || !sub.IsBillable() || sub.NextBillingAt.After(now) {
		// 已被并发处理过 (续费成功或已终止)
		result.Outcome = ChargeOutcomeSkipped
		return result
	}

	// 周期幂等键检查: 同一周期只允许一次扣款尝试 (失败的尝试除外)
	cycleKey := sub.CycleKey()
	existing, charged, err := uc.guard.ChargedPayment(ctx, cycleKey)
	if err != nil {
		result.Outcome = ChargeOutcomeError
		result.ErrorMessage = "failed to check cycle payment: " + err.Error()
		return result
	}
	if charged {
		uc.log.Infof("Subscription %s cycle %s already has payment %s (status=%s), skipping",
			subID, cycleKey, existing.ID, existing.Status)
		result.Outcome = ChargeOutcomeSkipped
		result.PaymentID = existing.ID
		return result
	}

	// 网关调用前先落库: 续费订单 + pending 支付 (幂等键占位)
	order := &Order{
		ID:             NewOrderID(sub.UserID, now),
		UserID:         sub.UserID,
		ContentID:      sub.ContentID,
		SubscriptionID: sub.ID,
		Quantity:       1,
		UnitPrice:      sub.Amount,
		Currency:       sub.Currency,
		Status:         OrderStatusCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := order.SubmitCheckout(); err != nil {
		result.Outcome = ChargeOutcomeError
		result.ErrorMessage = err.Error()
		return result
	}
	payment := &Payment{
		ID:             NewPaymentID(order.ID, now),
		OrderID:        order.ID,
		IdempotencyKey: cycleKey,
		Method:         sub.Method,
		Amount:         order.TotalPrice(),
		Currency:       sub.Currency,
		Status:         PaymentStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = uc.tm.Exec(ctx, func(ctx context.Context) error {
		if err := uc.orderRepo.CreateOrder(ctx, order); err != nil {
			return err
		}
		return uc.paymentRepo.CreatePayment(ctx, payment)
	})
	if err != nil {
		uc.log.Errorf("Failed to create renewal order for subscription %s: %v", subID, err)
		result.Outcome = ChargeOutcomeError
		result.ErrorMessage = err.Error()
		return result
	}
	result.OrderID = order.ID
	result.PaymentID = payment.ID

	// 发往网关前持久化 requested 状态, 结果不确定时留下在途记录
	if err := payment.MarkRequested(""); err != nil {
		result.Outcome = ChargeOutcomeError
		result.ErrorMessage = err.Error()
		return result
	}
	if err := uc.paymentRepo.UpdatePayment(ctx, payment); err != nil {
		result.Outcome = ChargeOutcomeError
		result.ErrorMessage = err.Error()
		return result
	}

	gp, err := uc.gateway.ChargeBillingKey(ctx, sub.BillingKey, order.ID, payment.Amount)
	switch {
	case err == nil:
		if err := uc.settleCharge(ctx, sub, order, payment, gp, now); err != nil {
			uc.log.Errorf("Failed to settle charge for subscription %s: %v", subID, err)
			result.Outcome = ChargeOutcomeError
			result.ErrorMessage = err.Error()
			return result
		}
		uc.log.Infof("Charged subscription %s: order=%s payment=%s amount=%d", subID, order.ID, payment.ID, payment.Amount)
		result.Outcome = ChargeOutcomeCharged

	case errors.IsGatewayRejected(err):
		if err := uc.settleRejection(ctx, sub, order, payment, now, err.Error()); err != nil {
			uc.log.Errorf("Failed to settle rejection for subscription %s: %v", subID, err)
			result.Outcome = ChargeOutcomeError
			result.ErrorMessage = err.Error()
			return result
		}
		uc.log.Infof("Charge rejected for subscription %s, now past due until %v", subID, sub.GraceEndsAt)
		result.Outcome = ChargeOutcomePastDue
		result.ErrorMessage = err.Error()

	default:
		// 超时等不确定结果: 支付停留在 requested, 由后续对账 (状态查询或回调) 收敛,
		// 立即标记失败会在重试时造成重复扣款
		uc.log.Warnf("Ambiguous charge outcome for subscription %s (payment %s): %v", subID, payment.ID, err)
		result.Outcome = ChargeOutcomePending
		result.ErrorMessage = err.Error()
	}
	return result
}

// settleCharge 扣款成功后的本地结算: 支付 approved, 订单 paid, 订阅推进周期
func (uc *BillingUsecase) settleCharge(ctx context.Context, sub *Subscription, order *Order, payment *Payment, gp *GatewayPayment, now time.Time) error {
	approvedAt := now
	if gp.ApprovedAt != nil {
		approvedAt = *gp.ApprovedAt
	}
	if err := payment.Approve(gp.TransactionKey, approvedAt); err != nil {
		return err
	}
	if err := order.MarkPaid(); err != nil {
		return err
	}
	oldStatus := string(sub.Status)
	if err := sub.Renew(order.ID); err != nil {
		return err
	}
	err := uc.tm.Exec(ctx, func(ctx context.Context) error {
		if err := uc.paymentRepo.UpdatePayment(ctx, payment); err != nil {
			return err
		}
		if err := uc.orderRepo.UpdateOrder(ctx, order); err != nil {
			return err
		}
		return uc.subRepo.UpdateSubscription(ctx, sub)
	})
	if err != nil {
		return err
	}
	recordTransition(ctx, uc.historyRepo, uc.bus, uc.log,
		EntityKindOrder, order.ID, string(OrderStatusAwaitingPayment), string(order.Status), "recurring_charge")
	recordTransition(ctx, uc.historyRepo, uc.bus, uc.log,
		EntityKindSubscription, sub.ID, oldStatus, string(sub.Status), "renewed")
	return nil
}

// settleRejection 网关明确拒绝后的本地结算: 支付/订单 failed, 订阅进入宽限期
func (uc *BillingUsecase) settleRejection(ctx context.Context, sub *Subscription, order *Order, payment *Payment, now time.Time, reason string) error {
	if err := payment.MarkFailed(); err != nil {
		return err
	}
	if err := order.MarkFailed(); err != nil {
		return err
	}
	oldStatus := string(sub.Status)
	if err := sub.MarkPastDue(now.Add(uc.billing.GraceWindow())); err != nil {
		return err
	}
	err := uc.tm.Exec(ctx, func(ctx context.Context) error {
		if err := uc.paymentRepo.UpdatePayment(ctx, payment); err != nil {
			return err
		}
		if err := uc.orderRepo.UpdateOrder(ctx, order); err != nil {
			return err
		}
		return uc.subRepo.UpdateSubscription(ctx, sub)
	})
	if err != nil {
		return err
	}
	recordTransition(ctx, uc.historyRepo, uc.bus, uc.log,
		EntityKindOrder, order.ID, string(OrderStatusAwaitingPayment), string(order.Status), reason)
	recordTransition(ctx, uc.historyRepo, uc.bus, uc.log,
		EntityKindSubscription, sub.ID, oldStatus, string(sub.Status), "charge_rejected")
	return nil
}

// SweepGracePeriod 宽限期到期扫描
// 宽限期耗尽且始终未能扣款成功的订阅转为 expired, 权益回收由事件订阅方处理;
// 已处理的订阅退出筛选条件, 同样用键集游标分页
func (uc *BillingUsecase) SweepGracePeriod(ctx context.Context) (*SweepReport, error) {
	now := time.Now().UTC()
	pageSize := uc.billing.PageSize()
	report := &SweepReport{}

	var cursorAt time.Time
	var cursorID string
	for {
		subs, err := uc.subRepo.ListGraceExpired(ctx, now, cursorAt, cursorID, pageSize)
		if err != nil {
			uc.log.Errorf("Failed to list grace-expired subscriptions: %v", err)
			return report, err
		}
		if len(subs) == 0 {
			break
		}

		for _, sub := range subs {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Scanned++
			if err := uc.expireSubscription(ctx, sub.ID, now); err != nil {
				if errors.IsLockBusy(err) {
					report.Skipped++
					continue
				}
				uc.log.Errorf("Failed to expire subscription %s: %v", sub.ID, err)
				report.Errors++
				continue
			}
			report.Expired++
		}

		last := subs[len(subs)-1]
		if last.GraceEndsAt != nil {
			cursorAt = *last.GraceEndsAt
		}
		cursorID = last.ID
		if len(subs) < pageSize {
			break
		}
	}

	uc.log.Infof("Grace sweep completed: scanned=%d, expired=%d, skipped=%d, errors=%d",
		report.Scanned, report.Expired, report.Skipped, report.Errors)
	return report, nil
}

// expireSubscription 将单个订阅转为 expired
func (uc *BillingUsecase) expireSubscription(ctx context.Context, subID string, now time.Time) error {
	// 与扣款路径共用同一把锁, 避免和宽限期内最后一次重试竞争
	unlock, err := uc.guard.AcquireChargeLock(ctx, subID)
	if err != nil {
		return err
	}
	defer unlock()

	sub, err := uc.subRepo.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}
	if sub == nil || sub.IsTerminal() {
		return nil
	}
	if sub.GraceEndsAt == nil || sub.GraceEndsAt.After(now) {
		// 宽限期内扣款成功会清除 GraceEndsAt
		return nil
	}
	oldStatus := string(sub.Status)
	if err := sub.Expire(); err != nil {
		return err
	}
	if err := uc.tm.Exec(ctx, func(ctx context.Context) error {
		return uc.subRepo.UpdateSubscription(ctx, sub)
	}); err != nil {
		return err
	}
	recordTransition(ctx, uc.historyRepo, uc.bus, uc.log,
		EntityKindSubscription, sub.ID, oldStatus, string(sub.Status), "grace_period_elapsed")
	return nil
}

// NotifyUpcomingRenewals 续费提醒: N 天内将要续费的活跃订阅发布提醒事件
func (uc *BillingUsecase) NotifyUpcomingRenewals(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	days := uc.billing.ReminderDaysBefore
	if days < 1 {
		days = constants.DefaultReminderDaysBefore
	}

	notified := 0
	pageSize := uc.billing.PageSize()
	for page := 1; ; page++ {
		subs, total, err := uc.subRepo.ListUpcomingRenewals(ctx, now, days, page, pageSize)
		if err != nil {
			uc.log.Errorf("Failed to list upcoming renewals: %v", err)
			return notified, err
		}
		if len(subs) == 0 {
			break
		}
		for _, sub := range subs {
			uc.bus.Publish(DomainEvent{
				EntityKind: EntityKindSubscription,
				EntityID:   sub.ID,
				OldStatus:  string(sub.Status),
				NewStatus:  string(sub.Status),
				Reason:     "renewal_reminder",
				OccurredAt: now,
			})
			notified++
		}
		if notified >= total || len(subs) < pageSize {
			break
		}
	}

	uc.log.Infof("Renewal reminders published: %d (within %d days)", notified, days)
	return notified, nil
}
