package model

import "time"

// Order 订单模型
// total_price 是冗余列, 写入时由单价×数量-折扣推导;
// status 取值: created, awaiting_payment, paid, cancelled, failed
type Order struct {
	ID             string    `gorm:"primaryKey;column:order_id;type:varchar(64)"`
	UserID         uint64    `gorm:"column:user_id;index"`
	GuestEmail     string    `gorm:"column:guest_email;type:varchar(255)"`
	ContentID      string    `gorm:"column:content_id;type:varchar(64);index"`
	OptionID       string    `gorm:"column:option_id;type:varchar(64)"`
	SubscriptionID string    `gorm:"column:subscription_id;type:varchar(64);index"`
	Quantity       int       `gorm:"column:quantity"`
	UnitPrice      int64     `gorm:"column:unit_price"`
	Currency       string    `gorm:"column:currency;type:varchar(8)"`
	Discount       int64     `gorm:"column:discount"`
	CouponCode     string    `gorm:"column:coupon_code;type:varchar(64)"`
	TotalPrice     int64     `gorm:"column:total_price"`
	Status         string    `gorm:"column:status;type:varchar(32);index"`
	Version        int64     `gorm:"column:version;default:0"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (Order) TableName() string { return "billing_order" }
