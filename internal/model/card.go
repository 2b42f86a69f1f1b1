package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Card 实体卡，绑定唯一一个用户；一个用户可以有多张卡
// PIN 按原系统明文存储，比较时使用常量时间比较
type Card struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UID          string    `gorm:"column:uid;type:varchar(64);uniqueIndex;not null" json:"uid"`
	PIN          string    `gorm:"column:pin;type:char(4);not null" json:"-"`
	UserID       int64     `gorm:"index;not null" json:"user_id"`
	Active       bool      `gorm:"not null;default:true" json:"active"`
	RegisteredAt time.Time `gorm:"not null" json:"registered_at"`
}

func (Card) TableName() string {
	return "cards"
}

// RechargeCode 一次性充值码
// Used 只能从 false 变为 true，没有任何重置路径
type RechargeCode struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Code             string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"code"`
	Amount           decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount"`
	Used             bool            `gorm:"index;not null;default:false" json:"used"`
	RedeemedByUserID *int64          `gorm:"index" json:"redeemed_by_user_id,omitempty"`
	RedeemedAt       *time.Time      `json:"redeemed_at,omitempty"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (RechargeCode) TableName() string {
	return "recharge_codes"
}

// Denomination 未使用充值码按面额聚合
type Denomination struct {
	Amount decimal.Decimal `json:"amount"`
	Count  int64           `json:"count"`
}
