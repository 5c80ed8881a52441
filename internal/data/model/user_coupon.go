package model

import "time"

// UserCoupon 用户优惠券模型
type UserCoupon struct {
	Code          string    `gorm:"primaryKey;column:coupon_code;type:varchar(64)"`
	UserID        uint64    `gorm:"column:user_id;index"`
	Type          string    `gorm:"column:type;type:varchar(32)"` // percentage, fixed_amount
	DiscountValue int64     `gorm:"column:discount_value"`
	MinOrderPrice int64     `gorm:"column:min_order_price"`
	ValidFrom     time.Time `gorm:"column:valid_from"`
	ValidUntil    time.Time `gorm:"column:valid_until"`
	Status        string    `gorm:"column:status;type:varchar(32);index"` // issued, used, expired, cancelled
	UsedOrderID   string    `gorm:"column:used_order_id;type:varchar(64);index"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (UserCoupon) TableName() string { return "user_coupon" }
