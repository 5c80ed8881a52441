package biz

import (
	"context"
	"strings"
	"time"

	"xinyuan_tech/billing-service/internal/conf"
	"xinyuan_tech/billing-service/internal/constants"
	"xinyuan_tech/billing-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// ReconcileUsecase 对账业务逻辑
// 消费网关的异步回调, 使本地支付/订单/订阅状态与网关的权威记录一致;
// 回调是 at-least-once 投递, 重放同一事件必须收敛到相同终态
type ReconcileUsecase struct {
	paymentRepo PaymentRepo
	orderRepo   OrderRepo
	subRepo     SubscriptionRepo
	cancelRepo  PaymentCancelRepo
	couponRepo  CouponRepo
	historyRepo TransitionHistoryRepo
	gateway     PaymentGateway
	guard       *IdempotencyGuard
	tm          Transaction
	bus         *EventBus
	billing     *conf.Billing
	log         *log.Helper
}

// NewReconcileUsecase 创建对账业务逻辑
func NewReconcileUsecase(
	paymentRepo PaymentRepo,
	orderRepo OrderRepo,
	subRepo SubscriptionRepo,
	cancelRepo PaymentCancelRepo,
	couponRepo CouponRepo,
	historyRepo TransitionHistoryRepo,
	gateway PaymentGateway,
	guard *IdempotencyGuard,
	tm Transaction,
	bus *EventBus,
	c *conf.Bootstrap,
	logger log.Logger,
) *ReconcileUsecase {
	var billing *conf.Billing
	if c != nil {
		billing = c.Billing
	}
	return &ReconcileUsecase{
		paymentRepo: paymentRepo,
		orderRepo:   orderRepo,
		subRepo:     subRepo,
		cancelRepo:  cancelRepo,
		couponRepo:  couponRepo,
		historyRepo: historyRepo,
		gateway:     gateway,
		guard:       guard,
		tm:          tm,
		bus:         bus,
		billing:     billing,
		log:         log.NewHelper(logger),
	}
}

// HandleWebhook 处理网关回调报文
func (uc *ReconcileUsecase) HandleWebhook(ctx context.Context, payload []byte) error {
	event, err := uc.gateway.DecodeWebhook(payload)
	if err != nil {
		uc.log.Errorf("Failed to decode webhook payload: %v", err)
		return err
	}
	return uc.ApplyEvent(ctx, event)
}

// ApplyEvent 应用一个类型化的网关事件
func (uc *ReconcileUsecase) ApplyEvent(ctx context.Context, event *WebhookEvent) error {
	uc.log.Infof("Applying gateway event: type=%s txn=%s order=%s amount=%d",
		event.Type, event.TransactionKey, event.OrderID, event.Amount)

	payment, err := uc.resolvePayment(ctx, event)
	if err != nil {
		return err
	}

	// 重复投递检查: 已处于终态的支付直接确认为 no-op
	if uc.guard.ShouldSkipWebhook(payment, event.Type) {
		uc.log.Infof("Duplicate webhook for payment %s (status=%s), acknowledged as no-op", payment.ID, payment.Status)
		return nil
	}

	// 金额校验: 回调金额与本地记录不一致绝不静默接受, 中止转换等待人工对账
	switch event.Type {
	case WebhookPaymentApproved, WebhookVirtualAccountDeposit:
		if event.Amount != payment.Amount {
			uc.log.Errorf("Amount mismatch for payment %s: local=%d, webhook=%d", payment.ID, payment.Amount, event.Amount)
			return errors.NewAmountMismatch("payment %s: local amount %d, webhook amount %d", payment.ID, payment.Amount, event.Amount)
		}
		if event.Currency != "" && payment.Currency != "" && event.Currency != payment.Currency {
			uc.log.Errorf("Currency mismatch for payment %s: local=%s, webhook=%s", payment.ID, payment.Currency, event.Currency)
			return errors.NewAmountMismatch("payment %s: local currency %s, webhook currency %s", payment.ID, payment.Currency, event.Currency)
		}
	}

	// 交易键锁: 回调处理与扫描任务对同一支付的写入串行化
	lockKey := event.TransactionKey
	if lockKey == "" {
		lockKey = payment.ID
	}
	unlock, err := uc.guard.AcquireTransactionLock(ctx, lockKey)
	if err != nil {
		return err
	}
	defer unlock()

	// 拿锁后重读并二次检查, 并发投递的另一份副本可能已经应用
	payment, err = uc.paymentRepo.GetPayment(ctx, payment.ID)
	if err != nil {
		return err
	}
	if uc.guard.ShouldSkipWebhook(payment, event.Type) {
		uc.log.Infof("Webhook for payment %s already applied concurrently, acknowledged as no-op", payment.ID)
		return nil
	}

	switch event.Type {
	case WebhookPaymentApproved, WebhookVirtualAccountDeposit:
		return uc.applyApproval(ctx, payment, event)
	case WebhookPaymentFailed:
		return uc.applyFailure(ctx, payment, event)
	case WebhookCancelCompleted:
		return uc.applyCancelCompleted(ctx, payment, event)
	case WebhookCancelFailed:
		return uc.applyCancelFailed(ctx, payment, event)
	default:
		return errors.NewWebhookInvalid("unsupported webhook event type: %s", event.Type)
	}
}

// resolvePayment 按交易键定位本地支付记录
// 定时扣款的在途支付可能还没绑定交易键, 此时按订单号兜底;
// 两者都找不到说明本地数据完整性有问题, 返回 UnknownTransaction 交人工处理
func (uc *ReconcileUsecase) resolvePayment(ctx context.Context, event *WebhookEvent) (*Payment, error) {
	if event.TransactionKey != "" {
		p, err := uc.paymentRepo.GetPaymentByTransactionKey(ctx, event.TransactionKey)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return p, nil
		}
	}
	if event.OrderID != "" {
		p, err := uc.paymentRepo.GetLatestPaymentByOrder(ctx, event.OrderID)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return p, nil
		}
	}
	uc.log.Errorf("Webhook references unknown transaction: txn=%s order=%s (manual reconciliation required)",
		event.TransactionKey, event.OrderID)
	return nil, errors.NewUnknownTransaction("no local payment for transaction key %s (order %s)", event.TransactionKey, event.OrderID)
}

// applyApproval 应用支付成功事件
func (uc *ReconcileUsecase) applyApproval(ctx context.Context, payment *Payment, event *WebhookEvent) error {
	return retryOnVersionConflict(constants.TransitionMaxRetries, func() (err error) {
		p, err := uc.paymentRepo.GetPayment(ctx, payment.ID)
		if err != nil {
			return err
		}
		if uc.guard.ShouldSkipWebhook(p, event.Type) {
			return nil
		}
		if p.Status == PaymentStatusPending {
			if err := p.MarkRequested(event.TransactionKey); err != nil {
				return err
			}
		}
		approvedAt := event.OccurredAt
		if approvedAt.IsZero() {
			approvedAt = time.Now().UTC()
		}
		if err := p.Approve(event.TransactionKey, approvedAt); err != nil {
			return err
		}

		order, err := uc.orderRepo.GetOrder(ctx, p.OrderID)
		if err != nil {
			return err
		}
		oldOrderStatus := string(order.Status)
		if err := order.MarkPaid(); err != nil {
			return err
		}

		// 续费订单: 同步推进订阅周期 (超时后经回调收敛的扣款走到这里)
		var sub *Subscription
		var oldSubStatus string
		if order.SubscriptionID != "" {
			sub, err = uc.subRepo.GetSubscription(ctx, order.SubscriptionID)
			if err != nil {
				return err
			}
			if sub != nil && sub.IsBillable() {
				oldSubStatus = string(sub.Status)
				if err := sub.Renew(order.ID); err != nil {
					return err
				}
			} else {
				sub = nil
			}
		}

		err = uc.tm.Exec(ctx, func(ctx context.Context) error {
			if err := uc.paymentRepo.UpdatePayment(ctx, p); err != nil {
				return err
			}
			if err := uc.orderRepo.UpdateOrder(ctx, order); err != nil {
				return err
			}
			if sub != nil {
				return uc.subRepo.UpdateSubscription(ctx, sub)
			}
			return nil
		})
		if err != nil {
			return err
		}
		recordTransition(ctx, uc.historyRepo, uc.bus, uc.log,
			EntityKindOrder, order.ID, oldOrderStatus, string(order.Status), string(event.Type))
		if sub != nil {
			recordTransition(ctx, uc.historyRepo, uc.bus, uc.log,
				EntityKindSubscription, sub.ID, oldSubStatus, string(sub.Status), "renewed")
		}
		return nil
	})
}

// applyFailure 应用支付失败事件
func (uc *ReconcileUsecase) applyFailure(ctx context.Context, payment *Payment, event *WebhookEvent) error {
	return retryOnVersionConflict(constants.TransitionMaxRetries, func() error {
		p, err := uc.paymentRepo.GetPayment(ctx, payment.ID)
		if err != nil {
			return err
		}
		if uc.guard.ShouldSkipWebhook(p, event.Type) {
			return nil
		}
		if err := p.MarkFailed(); err != nil {
			return err
		}

		order, err := uc.orderRepo.GetOrder(ctx, p.OrderID)
		if err != nil {
			return err
		}
		oldOrderStatus := string(order.Status)
		if err := order.MarkFailed(); err != nil {
			return err
		}

		var sub *Subscription
		var oldSubStatus string
		if order.SubscriptionID != "" {
			sub, err = uc.subRepo.GetSubscription(ctx, order.SubscriptionID)
			if err != nil {
				return err
			}
			if sub != nil && sub.IsBillable() {
				oldSubStatus = string(sub.Status)
				if err := sub.MarkPastDue(time.Now().UTC().Add(uc.billing.GraceWindow())); err != nil {
					return err
				}
			} else {
				sub = nil
			}
		}

		err = uc.tm.Exec(ctx, func(ctx context.Context) error {
			if err := uc.paymentRepo.UpdatePayment(ctx, p); err != nil {
				return err
			}
			if err := uc.orderRepo.UpdateOrder(ctx, order); err != nil {
				return err
			}
			if sub != nil {
				return uc.subRepo.UpdateSubscription(ctx, sub)
			}
			return nil
		})
		if err != nil {
			return err
		}
		recordTransition(ctx, uc.historyRepo, uc.bus, uc.log,
			EntityKindOrder, order.ID, oldOrderStatus, string(order.Status), event.Reason)
		if sub != nil {
			recordTransition(ctx, uc.historyRepo, uc.bus, uc.log,
				EntityKindSubscription, sub.ID, oldSubStatus, string(sub.Status), "charge_failed")
		}
		return nil
	})
}

// applyCancelCompleted 应用取消完成事件 (网关异步确认取消的场景)
func (uc *ReconcileUsecase) applyCancelCompleted(ctx context.Context, payment *Payment, event *WebhookEvent) error {
	return retryOnVersionConflict(constants.TransitionMaxRetries, func() error {
		p, err := uc.paymentRepo.GetPayment(ctx, payment.ID)
		if err != nil {
			return err
		}
		if uc.guard.ShouldSkipWebhook(p, event.Type) {
			return nil
		}
		if err := p.CompleteCancel(); err != nil {
			return err
		}

		cancel, err := uc.cancelRepo.GetLatestRequestedCancel(ctx, p.ID)
		if err != nil {
			return err
		}
		if cancel != nil {
			if err := cancel.Complete(); err != nil {
				return err
			}
		}

		order, err := uc.orderRepo.GetOrder(ctx, p.OrderID)
		if err != nil {
			return err
		}
		oldOrderStatus := string(order.Status)
		cancelled, err := order.Cancel()
		if err != nil {
			return err
		}

		err = uc.tm.Exec(ctx, func(ctx context.Context) error {
			if err := uc.paymentRepo.UpdatePayment(ctx, p); err != nil {
				return err
			}
			if cancel != nil {
				if err := uc.cancelRepo.UpdateCancel(ctx, cancel); err != nil {
					return err
				}
			}
			if cancelled {
				return uc.orderRepo.UpdateOrder(ctx, order)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if cancelled {
			recordTransition(ctx, uc.historyRepo, uc.bus, uc.log,
				EntityKindOrder, order.ID, oldOrderStatus, string(order.Status), event.Reason)
		}
		return nil
	})
}

// applyCancelFailed 应用取消失败事件: 支付回到 approved, 取消记录终结为 failed
func (uc *ReconcileUsecase) applyCancelFailed(ctx context.Context, payment *Payment, event *WebhookEvent) error {
	return retryOnVersionConflict(constants.TransitionMaxRetries, func() error {
		p, err := uc.paymentRepo.GetPayment(ctx, payment.ID)
		if err != nil {
			return err
		}
		if uc.guard.ShouldSkipWebhook(p, event.Type) {
			return nil
		}
		if err := p.FailCancel(); err != nil {
			return err
		}

		cancel, err := uc.cancelRepo.GetLatestRequestedCancel(ctx, p.ID)
		if err != nil {
			return err
		}
		if cancel != nil {
			if err := cancel.Fail(); err != nil {
				return err
			}
		}

		return uc.tm.Exec(ctx, func(ctx context.Context) error {
			if err := uc.paymentRepo.UpdatePayment(ctx, p); err != nil {
				return err
			}
			if cancel != nil {
				return uc.cancelRepo.UpdateCancel(ctx, cancel)
			}
			return nil
		})
	})
}

// ResolvePendingPayments 主动对账扫描
// 滞留在非终态 (pending / requested / cancel_requested) 超过阈值的支付逐笔收敛:
// requested 向网关做权威状态查询; pending 说明网关从未被调用, 本地直接终结;
// cancel_requested 查询网关确认取消结果; 网关仍在处理中的保持原状, 等下一轮
func (uc *ReconcileUsecase) ResolvePendingPayments(ctx context.Context) (*SweepReport, error) {
	now := time.Now().UTC()
	report := &SweepReport{}

	statuses := []PaymentStatus{PaymentStatusRequested, PaymentStatusPending, PaymentStatusCancelRequested}
	stale, err := uc.paymentRepo.ListStalePayments(ctx, statuses, now.Add(-constants.PendingReconcileAfter), constants.MaxSweepPageSize)
	if err != nil {
		uc.log.Errorf("Failed to list stale payments: %v", err)
		return report, err
	}

	for _, p := range stale {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++

		switch p.Status {
		case PaymentStatusPending:
			// 扣款流程在调网关前就把支付推进到 requested;
			// 长期停在 pending 说明网关从未收到请求, 本地终结以释放该周期
			if err := uc.expireStalePendingPayment(ctx, p); err != nil {
				uc.log.Errorf("Failed to expire stale pending payment %s: %v", p.ID, err)
				report.Errors++
				continue
			}
			report.Expired++
		case PaymentStatusCancelRequested:
			if err := uc.resolveStaleCancel(ctx, p, now, report); err != nil {
				uc.log.Errorf("Failed to resolve stale cancel for payment %s: %v", p.ID, err)
				report.Errors++
			}
		default:
			if err := uc.resolveStaleRequested(ctx, p, now, report); err != nil {
				uc.log.Errorf("Failed to reconcile payment %s: %v", p.ID, err)
				report.Errors++
			}
		}
	}

	uc.log.Infof("Pending reconcile completed: scanned=%d, resolved=%d, expired=%d, still_pending=%d, errors=%d",
		report.Scanned, report.Charged, report.Expired, report.Pending, report.Errors)
	return report, nil
}

// resolveStaleRequested 对滞留在 requested 的支付向网关做权威状态查询并收敛
func (uc *ReconcileUsecase) resolveStaleRequested(ctx context.Context, p *Payment, now time.Time, report *SweepReport) error {
	key := p.TransactionKey
	if key == "" {
		key = p.OrderID
	}
	gp, err := uc.gateway.GetDetails(ctx, key)
	if err != nil {
		uc.log.Warnf("Status query failed for payment %s: %v", p.ID, err)
		return err
	}

	event := &WebhookEvent{
		TransactionKey: gp.TransactionKey,
		OrderID:        p.OrderID,
		Amount:         gp.Amount,
		Currency:       gp.Currency,
		Reason:         "status_query",
		OccurredAt:     now,
	}
	switch {
	case isGatewayStatusApproved(gp.Status):
		event.Type = WebhookPaymentApproved
	case isGatewayStatusFailed(gp.Status):
		event.Type = WebhookPaymentFailed
	default:
		// 网关侧仍在处理, 保持在途
		report.Pending++
		return nil
	}

	if err := uc.ApplyEvent(ctx, event); err != nil {
		return err
	}
	report.Charged++
	return nil
}

// resolveStaleCancel 对滞留在 cancel_requested 的支付查询网关确认取消结果
// 取消请求超时后本地不知道网关是否已退款, 只有权威查询能安全收敛
func (uc *ReconcileUsecase) resolveStaleCancel(ctx context.Context, p *Payment, now time.Time, report *SweepReport) error {
	key := p.TransactionKey
	if key == "" {
		key = p.OrderID
	}
	gp, err := uc.gateway.GetDetails(ctx, key)
	if err != nil {
		uc.log.Warnf("Status query failed for payment %s: %v", p.ID, err)
		return err
	}

	event := &WebhookEvent{
		TransactionKey: gp.TransactionKey,
		OrderID:        p.OrderID,
		Amount:         gp.Amount,
		Currency:       gp.Currency,
		Reason:         "status_query",
		OccurredAt:     now,
	}
	switch {
	case isGatewayStatusCanceled(gp.Status):
		event.Type = WebhookCancelCompleted
	case isGatewayStatusApproved(gp.Status):
		// 网关侧仍是已支付, 取消请求没有生效, 支付回到 approved 供重试
		event.Type = WebhookCancelFailed
	default:
		report.Pending++
		return nil
	}

	if err := uc.ApplyEvent(ctx, event); err != nil {
		return err
	}
	report.Charged++
	return nil
}

// expireStalePendingPayment 本地终结一笔从未到达网关的支付
// 支付和订单都转 failed, 下一轮扣款扫描对该周期可以重新发起
func (uc *ReconcileUsecase) expireStalePendingPayment(ctx context.Context, payment *Payment) error {
	return retryOnVersionConflict(constants.TransitionMaxRetries, func() error {
		p, err := uc.paymentRepo.GetPayment(ctx, payment.ID)
		if err != nil {
			return err
		}
		if p.Status != PaymentStatusPending {
			return nil
		}
		if err := p.MarkFailed(); err != nil {
			return err
		}

		order, err := uc.orderRepo.GetOrder(ctx, p.OrderID)
		if err != nil {
			return err
		}
		oldOrderStatus := string(order.Status)
		if err := order.MarkFailed(); err != nil {
			return err
		}

		err = uc.tm.Exec(ctx, func(ctx context.Context) error {
			if err := uc.paymentRepo.UpdatePayment(ctx, p); err != nil {
				return err
			}
			return uc.orderRepo.UpdateOrder(ctx, order)
		})
		if err != nil {
			return err
		}
		recordTransition(ctx, uc.historyRepo, uc.bus, uc.log,
			EntityKindOrder, order.ID, oldOrderStatus, string(order.Status), "stale_pending_expired")
		return nil
	})
}

// ListHistory 查询实体的状态转换历史, 分页参数越界时回落到默认/上限
func (uc *ReconcileUsecase) ListHistory(ctx context.Context, kind EntityKind, entityID string, page, pageSize int) ([]*TransitionHistory, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = constants.DefaultPageSize
	}
	if pageSize > constants.MaxPageSize {
		pageSize = constants.MaxPageSize
	}
	return uc.historyRepo.ListTransitionHistory(ctx, kind, entityID, page, pageSize)
}

func isGatewayStatusApproved(status string) bool {
	switch strings.ToUpper(status) {
	case "DONE", "APPROVED", "PAID", "SUCCESS":
		return true
	}
	return false
}

func isGatewayStatusFailed(status string) bool {
	switch strings.ToUpper(status) {
	case "ABORTED", "FAILED", "EXPIRED", "CANCELED":
		return true
	}
	return false
}

func isGatewayStatusCanceled(status string) bool {
	switch strings.ToUpper(status) {
	case "CANCELED", "CANCELLED", "PARTIAL_CANCELED":
		return true
	}
	return false
}
