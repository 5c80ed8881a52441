package data

import (
	"context"

	"xinyuan_tech/billing-service/internal/biz"
	"xinyuan_tech/billing-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
)

// transitionHistoryRepo 状态转换历史仓库实现
type transitionHistoryRepo struct {
	data *Data
	log  *log.Helper
}

// NewTransitionHistoryRepo 创建状态转换历史仓库
func NewTransitionHistoryRepo(data *Data, logger log.Logger) biz.TransitionHistoryRepo {
	return &transitionHistoryRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// AddTransitionHistory 追加状态转换历史
func (r *transitionHistoryRepo) AddTransitionHistory(ctx context.Context, h *biz.TransitionHistory) error {
	m := &model.TransitionHistory{
		EntityKind: string(h.EntityKind),
		EntityID:   h.EntityID,
		OldStatus:  h.OldStatus,
		NewStatus:  h.NewStatus,
		Reason:     h.Reason,
		CreatedAt:  h.CreatedAt,
	}
	if err := r.data.DB(ctx).Create(m).Error; err != nil {
		r.log.Errorf("Failed to add transition history for %s %s: %v", h.EntityKind, h.EntityID, err)
		return err
	}
	h.ID = m.ID
	return nil
}

// ListTransitionHistory 分页查询实体的状态转换历史
func (r *transitionHistoryRepo) ListTransitionHistory(ctx context.Context, kind biz.EntityKind, entityID string, page, pageSize int) ([]*biz.TransitionHistory, int, error) {
	var total int64
	if err := r.data.DB(ctx).Model(&model.TransitionHistory{}).
		Where("entity_kind = ? AND entity_id = ?", string(kind), entityID).
		Count(&total).Error; err != nil {
		r.log.Errorf("Failed to count transition history for %s %s: %v", kind, entityID, err)
		return nil, 0, err
	}

	var models []model.TransitionHistory
	offset := (page - 1) * pageSize
	err := r.data.DB(ctx).
		Where("entity_kind = ? AND entity_id = ?", string(kind), entityID).
		Order("created_at ASC").
		Limit(pageSize).
		Offset(offset).
		Find(&models).Error
	if err != nil {
		r.log.Errorf("Failed to list transition history for %s %s: %v", kind, entityID, err)
		return nil, 0, err
	}

	items := make([]*biz.TransitionHistory, len(models))
	for i, m := range models {
		items[i] = &biz.TransitionHistory{
			ID:         m.ID,
			EntityKind: biz.EntityKind(m.EntityKind),
			EntityID:   m.EntityID,
			OldStatus:  m.OldStatus,
			NewStatus:  m.NewStatus,
			Reason:     m.Reason,
			CreatedAt:  m.CreatedAt,
		}
	}
	return items, int(total), nil
}
