package model

import "time"

// TransitionHistory 状态转换历史模型
type TransitionHistory struct {
	ID         uint64    `gorm:"primaryKey;column:transition_history_id;autoIncrement"`
	EntityKind string    `gorm:"column:entity_kind;type:varchar(32);index:idx_entity"`
	EntityID   string    `gorm:"column:entity_id;type:varchar(64);index:idx_entity"`
	OldStatus  string    `gorm:"column:old_status;type:varchar(32)"`
	NewStatus  string    `gorm:"column:new_status;type:varchar(32)"`
	Reason     string    `gorm:"column:reason;type:varchar(255)"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (TransitionHistory) TableName() string { return "transition_history" }
