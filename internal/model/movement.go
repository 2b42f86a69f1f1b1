package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 资金流水类型常量
// ============================================================================

const (
	MovementKindCharge      = "charge"       // 刷卡消费（用户 -> 终端）
	MovementKindRecharge    = "recharge"     // 充值（外部资金注入）
	MovementKindTransferOut = "transfer_out" // 转出
	MovementKindTransferIn  = "transfer_in"  // 转入
)

// 被拒绝的操作整体回滚，不写流水，因此只有 approved 一种状态落库
const MovementStatusApproved = "approved"

const (
	CounterpartyReader = "reader"
	CounterpartyUser   = "user"
	CounterpartyMethod = "method" // 按金额充值，ref 为支付方式
	CounterpartyCode   = "code"   // 充值码充值，ref 为充值码
)

// ============================================================================
// 资金流水实体
// ============================================================================

// Movement 资金流水表
// 记录每一笔影响余额的事件，是对账与历史查询的依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除
// 2. 每笔已批准的余额变动恰好对应一条流水（转账两边各一条，共享 ReferenceNo）
// 3. 记录变动前后余额，便于按流水重放校验余额
type Movement struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	MovementNo       string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"movement_no"`
	ReferenceNo      string          `gorm:"type:varchar(64);index;not null" json:"reference_no"`
	UserID           int64           `gorm:"index:idx_movements_user_created,priority:1;not null" json:"user_id"`
	Kind             string          `gorm:"type:varchar(20);not null" json:"kind"`
	Status           string          `gorm:"type:varchar(16);not null" json:"status"`
	Amount           decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount"`
	BalanceBefore    decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"balance_before"`
	BalanceAfter     decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"balance_after"`
	CounterpartyType string          `gorm:"type:varchar(16);not null" json:"counterparty_type"`
	CounterpartyID   *int64          `gorm:"index" json:"counterparty_id,omitempty"`
	CounterpartyRef  string          `gorm:"type:varchar(64)" json:"counterparty_ref,omitempty"`
	Description      string          `gorm:"type:varchar(256)" json:"description"`
	CreatedAt        time.Time       `gorm:"index:idx_movements_user_created,priority:2;not null" json:"created_at"`
}

func (Movement) TableName() string {
	return "movements"
}

// Signed 返回流水对用户余额的带符号影响
func (m Movement) Signed() decimal.Decimal {
	switch m.Kind {
	case MovementKindCharge, MovementKindTransferOut:
		return m.Amount.Neg()
	default:
		return m.Amount
	}
}

// HistoryMovement 用户视角的流水，转账时带上对方姓名
type HistoryMovement struct {
	Movement
	CounterpartyName string `json:"counterparty_name,omitempty"`
}

// ReaderMovement 终端视角的消费记录（附带付款人姓名）
type ReaderMovement struct {
	Movement
	UserName string `json:"user_name"`
}
