package biz

import (
	"context"
	"time"

	"xinyuan_tech/billing-service/internal/auth"
	"xinyuan_tech/billing-service/internal/conf"
	"xinyuan_tech/billing-service/internal/constants"
	"xinyuan_tech/billing-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// RefundPolicy 退款策略 (可插拔配置, 不在代码中写死比例公式)
type RefundPolicy struct {
	mode string
}

// NewRefundPolicy 从配置创建退款策略
func NewRefundPolicy(c *conf.Bootstrap) *RefundPolicy {
	mode := constants.RefundModeFull
	if c != nil && c.Billing != nil {
		mode = c.Billing.RefundMode()
	}
	return &RefundPolicy{mode: mode}
}

// RefundAmount 计算可退金额
// full: 全额; prorated_daily: 按剩余天数占周期比例退, 向下取整
func (p *RefundPolicy) RefundAmount(paid int64, periodDays, remainingDays int) int64 {
	switch p.mode {
	case constants.RefundModeProratedDaily:
		if periodDays <= 0 {
			return paid
		}
		if remainingDays <= 0 {
			return 0
		}
		if remainingDays > periodDays {
			remainingDays = periodDays
		}
		return paid * int64(remainingDays) / int64(periodDays)
	default:
		return paid
	}
}

// CancelUsecase 取消/退款业务逻辑
// 用户自助取消只能操作自己的订单/订阅, 管理员不受限; 取消对调用方幂等
type CancelUsecase struct {
	orderRepo   OrderRepo
	paymentRepo PaymentRepo
	cancelRepo  PaymentCancelRepo
	subRepo     SubscriptionRepo
	couponRepo  CouponRepo
	historyRepo TransitionHistoryRepo
	gateway     PaymentGateway
	guard       *IdempotencyGuard
	tm          Transaction
	bus         *EventBus
	refund      *RefundPolicy
	billing     *conf.Billing
	log         *log.Helper
}

// NewCancelUsecase 创建取消业务逻辑
func NewCancelUsecase(
	orderRepo OrderRepo,
	paymentRepo PaymentRepo,
	cancelRepo PaymentCancelRepo,
	subRepo SubscriptionRepo,
	couponRepo CouponRepo,
	historyRepo TransitionHistoryRepo,
	gateway PaymentGateway,
	guard *IdempotencyGuard,
	tm Transaction,
	bus *EventBus,
	refund *RefundPolicy,
	c *conf.Bootstrap,
	logger log.Logger,
) *CancelUsecase {
	var billing *conf.Billing
	if c != nil {
		billing = c.Billing
	}
	return &CancelUsecase{
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		cancelRepo:  cancelRepo,
		subRepo:     subRepo,
		couponRepo:  couponRepo,
		historyRepo: historyRepo,
		gateway:     gateway,
		guard:       guard,
		tm:          tm,
		bus:         bus,
		refund:      refund,
		billing:     billing,
		log:         log.NewHelper(logger),
	}
}

// CancelOrder 取消订单并退款
// 已取消的订单重复取消返回成功 (幂等); failed 订单不可取消;
// 取消失败保留 approved 支付和 failed 取消记录, 重试走新记录
func (uc *CancelUsecase) CancelOrder(ctx context.Context, orderID, reason string) error {
	uc.log.Infof("CancelOrder: orderID=%s, reason=%s", orderID, reason)

	order, err := uc.orderRepo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return errors.NewOrderNotFound("order %s not found", orderID)
	}
	if err := auth.CheckOwnership(ctx, order.UserID); err != nil {
		return err
	}
	if order.Status == OrderStatusCancelled {
		uc.log.Infof("Order %s already cancelled, no-op", orderID)
		return nil
	}
	if order.Status == OrderStatusFailed {
		return errors.NewOrderNotCancellable("order %s: status %s is not cancellable", orderID, order.Status)
	}

	return uc.cancelOrderWithRefund(ctx, order, reason, 0)
}

// cancelOrderWithRefund 执行订单取消; refundOverride > 0 时用它覆盖策略计算的退款额
func (uc *CancelUsecase) cancelOrderWithRefund(ctx context.Context, order *Order, reason string, refundOverride int64) error {
	payment, err := uc.paymentRepo.GetApprovedPaymentByOrder(ctx, order.ID)
	if err != nil {
		return err
	}

	if payment == nil {
		// 已支付订单必须走网关退款, 订单不能在钱还扣着时本地终结:
		// 上一次取消超时会把支付留在 cancel_requested, 此时等对账收敛后重试
		if order.Status == OrderStatusPaid {
			latest, err := uc.paymentRepo.GetLatestPaymentByOrder(ctx, order.ID)
			if err != nil {
				return err
			}
			if latest != nil && latest.Status == PaymentStatusCancelRequested {
				return errors.NewStateConflict(
					"order %s: cancel for payment %s is still in flight, awaiting gateway confirmation", order.ID, latest.ID)
			}
			uc.log.Errorf("Paid order %s has no approved payment (manual reconciliation required)", order.ID)
			return errors.NewPaymentNotFound("order %s: no approved payment for paid order", order.ID)
		}

		// 未收款订单 (awaiting_payment) 直接本地取消, 无需走网关
		oldStatus := string(order.Status)
		cancelled, err := order.Cancel()
		if err != nil {
			return err
		}
		if !cancelled {
			return nil
		}
		if err := uc.tm.Exec(ctx, func(ctx context.Context) error {
			return uc.orderRepo.UpdateOrder(ctx, order)
		}); err != nil {
			return err
		}
		recordTransition(ctx, uc.historyRepo, uc.bus, uc.log,
			EntityKindOrder, order.ID, oldStatus, string(order.Status), reason)
		return nil
	}

	// 交易键锁: 与回调处理串行化
	unlock, err := uc.guard.AcquireTransactionLock(ctx, payment.TransactionKey)
	if err != nil {
		return err
	}
	defer unlock()

	refundAmount := refundOverride
	if refundAmount <= 0 {
		refundAmount = payment.Amount
	}

	// 取消记录先落库再调网关, 失败的记录保留审计轨迹
	if err := payment.RequestCancel(); err != nil {
		return err
	}
	cancel := &PaymentCancel{
		PaymentID:   payment.ID,
		Amount:      refundAmount,
		Reason:      reason,
		RequestedBy: cancelRequestedBy(ctx),
		Status:      PaymentCancelStatusRequested,
		CreatedAt:   time.Now().UTC(),
	}
	err = uc.tm.Exec(ctx, func(ctx context.Context) error {
		if err := uc.paymentRepo.UpdatePayment(ctx, payment); err != nil {
			return err
		}
		return uc.cancelRepo.CreateCancel(ctx, cancel)
	})
	if err != nil {
		return err
	}

	gc, gerr := uc.gateway.Cancel(ctx, payment.TransactionKey, refundAmount, reason)
	if gerr != nil {
		if errors.IsGatewayTimeout(gerr) {
			// 结果不确定: 支付保持 cancel_requested, 等网关回调或下次重试收敛
			uc.log.Warnf("Ambiguous cancel outcome for payment %s: %v", payment.ID, gerr)
			return gerr
		}
		// 明确失败: 取消记录终结为 failed, 支付回到 approved, 重试走新记录
		uc.log.Errorf("Gateway cancel failed for payment %s: %v", payment.ID, gerr)
		if err := cancel.Fail(); err != nil {
			return err
		}
		if err := payment.FailCancel(); err != nil {
			return err
		}
		if err := uc.tm.Exec(ctx, func(ctx context.Context) error {
			if err := uc.cancelRepo.UpdateCancel(ctx, cancel); err != nil {
				return err
			}
			return uc.paymentRepo.UpdatePayment(ctx, payment)
		}); err != nil {
			return err
		}
		return gerr
	}

	// 取消成功: 支付 canceled, 订单 cancelled, 优惠券按策略回收
	if err := cancel.Complete(); err != nil {
		return err
	}
	if err := payment.CompleteCancel(); err != nil {
		return err
	}
	oldOrderStatus := string(order.Status)
	cancelled, err := order.Cancel()
	if err != nil {
		return err
	}

	coupon, reissued, err := uc.reissueCoupon(ctx, order, gc.CanceledAt)
	if err != nil {
		return err
	}

	err = uc.tm.Exec(ctx, func(ctx context.Context) error {
		if err := uc.cancelRepo.UpdateCancel(ctx, cancel); err != nil {
			return err
		}
		if err := uc.paymentRepo.UpdatePayment(ctx, payment); err != nil {
			return err
		}
		if cancelled {
			if err := uc.orderRepo.UpdateOrder(ctx, order); err != nil {
				return err
			}
		}
		if reissued {
			return uc.couponRepo.UpdateCoupon(ctx, coupon)
		}
		return nil
	})
	if err != nil {
		return err
	}

	uc.log.Infof("Cancelled order %s: payment=%s refund=%d reissued_coupon=%v", order.ID, payment.ID, refundAmount, reissued)
	if cancelled {
		recordTransition(ctx, uc.historyRepo, uc.bus, uc.log,
			EntityKindOrder, order.ID, oldOrderStatus, string(order.Status), reason)
	}
	if reissued {
		recordTransition(ctx, uc.historyRepo, uc.bus, uc.log,
			EntityKindCoupon, coupon.Code, string(CouponStatusUsed), string(coupon.Status), "order_cancelled")
	}
	return nil
}

// cancelRequestedBy 取消发起方: 管理员 / 用户本人 / 系统任务 (无调用者上下文)
func cancelRequestedBy(ctx context.Context) string {
	if auth.IsAdmin(ctx) {
		return constants.CancelRequestedByAdmin
	}
	if _, ok := auth.GetUserIDFromContext(ctx); ok {
		return constants.CancelRequestedByUser
	}
	return constants.CancelRequestedBySystem
}

// reissueCoupon 订单取消时按策略回收优惠券
// 仅当取消发生在优惠券原有效期内才回收为 issued, 过期后取消视为已消费
func (uc *CancelUsecase) reissueCoupon(ctx context.Context, order *Order, cancelledAt time.Time) (*UserCoupon, bool, error) {
	if order.CouponCode == "" {
		return nil, false, nil
	}
	coupon, err := uc.couponRepo.GetCouponByUsedOrder(ctx, order.ID)
	if err != nil {
		return nil, false, err
	}
	if coupon == nil {
		return nil, false, nil
	}
	if !uc.billing.CouponReissueWithinValidity() {
		// 策略关闭时无条件回收
		coupon.Status = CouponStatusIssued
		coupon.UsedOrderID = ""
		return coupon, true, nil
	}
	if cancelledAt.IsZero() {
		cancelledAt = time.Now().UTC()
	}
	reissued, err := coupon.Reissue(cancelledAt)
	if err != nil {
		return nil, false, err
	}
	return coupon, reissued, nil
}

// CancelSubscription 取消订阅
// 终止后续计费; 按退款策略对当期已付金额退款 (prorated_daily 模式)
func (uc *CancelUsecase) CancelSubscription(ctx context.Context, subID, reason string) error {
	uc.log.Infof("CancelSubscription: subID=%s, reason=%s", subID, reason)

	sub, err := uc.subRepo.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}
	if sub == nil {
		return errors.NewSubscriptionNotFound("subscription %s not found", subID)
	}
	if err := auth.CheckOwnership(ctx, sub.UserID); err != nil {
		return err
	}
	if sub.Status == SubscriptionStatusCancelled {
		uc.log.Infof("Subscription %s already cancelled, no-op", subID)
		return nil
	}

	// 与扣款扫描串行化, 防止取消与续费竞争
	unlock, err := uc.guard.AcquireChargeLock(ctx, subID)
	if err != nil {
		return err
	}
	defer unlock()

	sub, err = uc.subRepo.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}
	oldStatus := string(sub.Status)
	cancelled, err := sub.Cancel(reason)
	if err != nil {
		return err
	}
	if !cancelled {
		return nil
	}
	if err := uc.tm.Exec(ctx, func(ctx context.Context) error {
		return uc.subRepo.UpdateSubscription(ctx, sub)
	}); err != nil {
		return err
	}
	recordTransition(ctx, uc.historyRepo, uc.bus, uc.log,
		EntityKindSubscription, sub.ID, oldStatus, string(sub.Status), reason)

	// 当期退款: 策略为按比例时对最近一期续费订单发起部分退款
	refundErr := uc.refundCurrentPeriod(ctx, sub, reason)
	if refundErr != nil {
		// 订阅已终止, 退款失败不回滚取消, 记录后由重试收敛
		uc.log.Errorf("Failed to refund current period for subscription %s: %v", subID, refundErr)
		return refundErr
	}
	return nil
}

// refundCurrentPeriod 对订阅当期已付金额按策略退款
func (uc *CancelUsecase) refundCurrentPeriod(ctx context.Context, sub *Subscription, reason string) error {
	if sub.LastOrderID == "" {
		return nil
	}
	order, err := uc.orderRepo.GetOrder(ctx, sub.LastOrderID)
	if err != nil {
		return err
	}
	if order == nil || order.Status != OrderStatusPaid {
		return nil
	}
	payment, err := uc.paymentRepo.GetApprovedPaymentByOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	if payment == nil {
		return nil
	}

	now := time.Now().UTC()
	remainingDays := int(sub.NextBillingAt.Sub(now).Hours() / 24)
	refundAmount := uc.refund.RefundAmount(payment.Amount, sub.PeriodDays, remainingDays)
	if refundAmount <= 0 {
		return nil
	}
	return uc.cancelOrderWithRefund(ctx, order, reason, refundAmount)
}
