package model

import "time"

// Payment 支付模型 (一个订单可有多次尝试)
type Payment struct {
	ID             string     `gorm:"primaryKey;column:payment_id;type:varchar(64)"`
	OrderID        string     `gorm:"column:order_id;type:varchar(64);index"`
	TransactionKey string     `gorm:"column:transaction_key;type:varchar(128);uniqueIndex:uk_transaction_key,where:transaction_key != ''"`
	IdempotencyKey string     `gorm:"column:idempotency_key;type:varchar(128);index"`
	Method         string     `gorm:"column:method;type:varchar(32)"`
	Amount         int64      `gorm:"column:amount"`
	Currency       string     `gorm:"column:currency;type:varchar(8)"`
	Status         string     `gorm:"column:status;type:varchar(32);index"` // pending, requested, approved, cancel_requested, canceled, failed
	ApprovedAt     *time.Time `gorm:"column:approved_at"`
	Version        int64      `gorm:"column:version;default:0"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
}

func (Payment) TableName() string { return "payment" }
