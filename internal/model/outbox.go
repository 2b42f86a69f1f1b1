package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// OutboxMessage 与业务写入同一事务的待发送消息
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// LedgerEvent 发送到 Kafka 的账本事件
type LedgerEvent struct {
	ReferenceNo string          `json:"reference_no"`
	Operation   string          `json:"operation"` // charge | transfer | recharge | recharge_code
	UserID      int64           `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Counterpart string          `json:"counterpart"`
	OccurredAt  string          `json:"occurred_at"`
}
