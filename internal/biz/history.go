package biz

import (
	"context"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// TransitionHistory 状态转换历史记录
// 实体从不物理删除, 每次状态转换追加一条历史, 供审计与人工对账回溯
type TransitionHistory struct {
	ID         uint64
	EntityKind EntityKind
	EntityID   string
	OldStatus  string
	NewStatus  string
	Reason     string
	CreatedAt  time.Time
}

// TransitionHistoryRepo 状态转换历史仓库接口
type TransitionHistoryRepo interface {
	AddTransitionHistory(ctx context.Context, history *TransitionHistory) error
	ListTransitionHistory(ctx context.Context, kind EntityKind, entityID string, page, pageSize int) ([]*TransitionHistory, int, error)
}

// recordTransition 记录状态转换: 追加历史并发布领域事件
// 历史写入失败不影响主流程, 只记录日志
func recordTransition(ctx context.Context, repo TransitionHistoryRepo, bus *EventBus, logh *log.Helper,
	kind EntityKind, entityID, oldStatus, newStatus, reason string) {
	now := time.Now().UTC()
	if repo != nil {
		history := &TransitionHistory{
			EntityKind: kind,
			EntityID:   entityID,
			OldStatus:  oldStatus,
			NewStatus:  newStatus,
			Reason:     reason,
			CreatedAt:  now,
		}
		if err := repo.AddTransitionHistory(ctx, history); err != nil {
			logh.Errorf("Failed to add transition history for %s %s: %v", kind, entityID, err)
		}
	}
	if bus != nil {
		bus.Publish(DomainEvent{
			EntityKind: kind,
			EntityID:   entityID,
			OldStatus:  oldStatus,
			NewStatus:  newStatus,
			Reason:     reason,
			OccurredAt: now,
		})
	}
}
