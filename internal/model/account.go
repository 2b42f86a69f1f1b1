package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyPlaces 金额保留的小数位（分）
const MoneyPlaces = 2

// MaxMoney decimal(14,2) 列能表示的最大金额，任何金额与余额都不能超过它
var MaxMoney = decimal.RequireFromString("999999999999.99")

// WithinMoneyLimit 金额是否能无损写入 decimal(14,2) 列
func WithinMoneyLimit(d decimal.Decimal) bool {
	return d.LessThanOrEqual(MaxMoney)
}

// RoundMoney 统一舍入规则：四舍五入（half away from zero），保留两位小数
// 所有入库的金额与余额都必须经过这里
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// User 用户账户表
// 余额只允许由交易引擎修改；用户不会被删除，只会被停用
type User struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	NationalID     string          `gorm:"type:varchar(32);uniqueIndex;not null" json:"national_id"` // 身份证号（CI）
	DisplayName    string          `gorm:"type:varchar(128);index;not null" json:"display_name"`
	Email          *string         `gorm:"type:varchar(128);uniqueIndex" json:"email,omitempty"`
	Phone          string          `gorm:"type:varchar(32)" json:"phone,omitempty"`
	CredentialHash *string         `gorm:"type:varchar(128)" json:"-"`
	Balance        decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"balance"`
	OpeningBalance decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"-"` // 对账起点
	Active         bool            `gorm:"not null;default:true" json:"active"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// CardReader 收款终端（tarjetero），本身就是一个收款账户
type CardReader struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	DisplayName    string          `gorm:"type:varchar(128);not null" json:"display_name"`
	Balance        decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"balance"`
	OpeningBalance decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"-"`
	Active         bool            `gorm:"not null;default:true" json:"active"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CardReader) TableName() string {
	return "card_readers"
}
