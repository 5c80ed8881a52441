package service

import (
	"context"
	"time"

	"xinyuan_tech/billing-service/internal/biz"
	bizerrors "xinyuan_tech/billing-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// BillingService 计费服务
// 对外暴露支付回调接收与取消接口, 周期扣款由 cmd/cron 驱动
type BillingService struct {
	reconcile *biz.ReconcileUsecase
	cancel    *biz.CancelUsecase
	log       *log.Helper
}

// NewBillingService 创建计费服务实例
func NewBillingService(reconcile *biz.ReconcileUsecase, cancel *biz.CancelUsecase, logger log.Logger) *BillingService {
	return &BillingService{
		reconcile: reconcile,
		cancel:    cancel,
		log:       log.NewHelper(logger),
	}
}

// WebhookReply 回调处理结果
type WebhookReply struct {
	Status string `json:"status"`
}

// HandleWebhook 处理支付网关回调
// 无法关联本地记录或金额不一致的事件记录后仍返回确认,
// 避免网关对无法自动处理的事件无限重投
func (s *BillingService) HandleWebhook(ctx context.Context, payload []byte) (*WebhookReply, error) {
	err := s.reconcile.HandleWebhook(ctx, payload)
	if err == nil {
		return &WebhookReply{Status: "ok"}, nil
	}

	switch {
	case bizerrors.IsUnknownTransaction(err):
		s.log.Warnf("Webhook references unknown transaction, acknowledged: %v", err)
		return &WebhookReply{Status: "ignored"}, nil
	case bizerrors.IsAmountMismatch(err):
		s.log.Errorf("Webhook amount mismatch, flagged for manual review: %v", err)
		return &WebhookReply{Status: "flagged"}, nil
	default:
		// 瞬时失败 (锁占用、版本冲突耗尽、DB 错误) 返回错误, 由网关重投
		return nil, err
	}
}

// CancelOrderRequest 取消订单请求
type CancelOrderRequest struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// CancelOrderReply 取消订单响应
type CancelOrderReply struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// CancelOrder 取消订单并按策略退款
func (s *BillingService) CancelOrder(ctx context.Context, req *CancelOrderRequest) (*CancelOrderReply, error) {
	if err := s.cancel.CancelOrder(ctx, req.OrderID, req.Reason); err != nil {
		return nil, err
	}
	return &CancelOrderReply{OrderID: req.OrderID, Status: "cancelled"}, nil
}

// CancelSubscriptionRequest 取消订阅请求
type CancelSubscriptionRequest struct {
	SubscriptionID string `json:"subscription_id"`
	Reason         string `json:"reason"`
}

// CancelSubscriptionReply 取消订阅响应
type CancelSubscriptionReply struct {
	SubscriptionID string `json:"subscription_id"`
	Status         string `json:"status"`
}

// CancelSubscription 取消订阅并退还当前周期的按日折算金额
func (s *BillingService) CancelSubscription(ctx context.Context, req *CancelSubscriptionRequest) (*CancelSubscriptionReply, error) {
	if err := s.cancel.CancelSubscription(ctx, req.SubscriptionID, req.Reason); err != nil {
		return nil, err
	}
	return &CancelSubscriptionReply{SubscriptionID: req.SubscriptionID, Status: "cancelled"}, nil
}

// ListTransitionHistoryRequest 状态转换历史查询请求
type ListTransitionHistoryRequest struct {
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
}

// TransitionHistoryItem 单条状态转换历史
type TransitionHistoryItem struct {
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	OldStatus  string `json:"old_status"`
	NewStatus  string `json:"new_status"`
	Reason     string `json:"reason"`
	CreatedAt  string `json:"created_at"`
}

// ListTransitionHistoryReply 状态转换历史查询响应
type ListTransitionHistoryReply struct {
	Items []*TransitionHistoryItem `json:"items"`
	Total int                      `json:"total"`
}

// ListTransitionHistory 查询实体的状态转换历史 (审计回溯用)
func (s *BillingService) ListTransitionHistory(ctx context.Context, req *ListTransitionHistoryRequest) (*ListTransitionHistoryReply, error) {
	histories, total, err := s.reconcile.ListHistory(ctx, biz.EntityKind(req.EntityKind), req.EntityID, req.Page, req.PageSize)
	if err != nil {
		return nil, err
	}
	reply := &ListTransitionHistoryReply{Items: make([]*TransitionHistoryItem, 0, len(histories)), Total: total}
	for _, h := range histories {
		reply.Items = append(reply.Items, &TransitionHistoryItem{
			EntityKind: string(h.EntityKind),
			EntityID:   h.EntityID,
			OldStatus:  h.OldStatus,
			NewStatus:  h.NewStatus,
			Reason:     h.Reason,
			CreatedAt:  h.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return reply, nil
}
