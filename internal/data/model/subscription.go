package model

import "time"

// Subscription 订阅模型
type Subscription struct {
	ID            string     `gorm:"primaryKey;column:subscription_id;type:varchar(64)"`
	UserID        uint64     `gorm:"column:user_id;index:idx_user_content"`
	ContentID     string     `gorm:"column:content_id;type:varchar(64);index:idx_user_content"`
	BillingKey    string     `gorm:"column:billing_key;type:varchar(128)"`
	Method        string     `gorm:"column:method;type:varchar(32)"`
	Amount        int64      `gorm:"column:amount"`
	Currency      string     `gorm:"column:currency;type:varchar(8)"`
	PeriodDays    int        `gorm:"column:period_days"`
	Status        string     `gorm:"column:status;type:varchar(32);index:idx_status_next_billing"` // active, past_due, grace_period, cancelled, expired
	NextBillingAt time.Time  `gorm:"column:next_billing_at;index:idx_status_next_billing"`
	GraceEndsAt   *time.Time `gorm:"column:grace_ends_at;index"`
	CancelReason  string     `gorm:"column:cancel_reason;type:varchar(255)"`
	LastOrderID   string     `gorm:"column:last_order_id;type:varchar(64)"`
	Version       int64      `gorm:"column:version;default:0"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at"`
}

func (Subscription) TableName() string { return "subscription" }
