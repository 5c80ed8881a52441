package model

import "time"

// PaymentCancel 取消/退款记录模型 (只追加, 保留审计轨迹)
type PaymentCancel struct {
	ID          uint64    `gorm:"primaryKey;column:payment_cancel_id;autoIncrement"`
	PaymentID   string    `gorm:"column:payment_id;type:varchar(64);index"`
	Amount      int64     `gorm:"column:amount"`
	Reason      string    `gorm:"column:reason;type:varchar(255)"`
	RequestedBy string    `gorm:"column:requested_by;type:varchar(16)"`
	Status      string    `gorm:"column:status;type:varchar(32)"` // requested, completed, failed
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (PaymentCancel) TableName() string { return "payment_cancel" }
