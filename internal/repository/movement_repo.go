package repository

import (
	"context"

	"cardpay/internal/model"

	"gorm.io/gorm"
)

// MovementRepository 资金流水
// 只提供追加与查询，没有更新与删除
type MovementRepository struct {
	db *gorm.DB
}

func NewMovementRepository(db *gorm.DB) *MovementRepository {
	return &MovementRepository{db: db}
}

func (r *MovementRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *MovementRepository) Create(ctx context.Context, tx *gorm.DB, m *model.Movement) error {
	return tx.WithContext(ctx).Create(m).Error
}

// ListByUser 用户流水，时间倒序；转账流水附带对方姓名
func (r *MovementRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*model.HistoryMovement, error) {
	rows := make([]*model.HistoryMovement, 0)
	err := r.db.WithContext(ctx).
		Table("movements AS m").
		Select("m.*, p.display_name AS counterparty_name").
		Joins("LEFT JOIN users AS p ON p.id = m.counterparty_id AND m.counterparty_type = ?", model.CounterpartyUser).
		Where("m.user_id = ?", userID).
		Order("m.created_at DESC, m.id DESC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

// ReaderRecent 终端最近 n 笔消费，附带付款人姓名
func (r *MovementRepository) ReaderRecent(ctx context.Context, readerID int64, limit int) ([]*model.ReaderMovement, error) {
	rows := make([]*model.ReaderMovement, 0)
	err := r.db.WithContext(ctx).
		Table("movements AS m").
		Select("m.*, u.display_name AS user_name").
		Joins("JOIN users AS u ON u.id = m.user_id").
		Where("m.kind = ? AND m.counterparty_type = ? AND m.counterparty_id = ?",
			model.MovementKindCharge, model.CounterpartyReader, readerID).
		Order("m.created_at DESC, m.id DESC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

// ListAllForUser 用户全部流水，按写入顺序
// 对账时 tx 必须与读取余额的事务相同
func (r *MovementRepository) ListAllForUser(ctx context.Context, tx *gorm.DB, userID int64) ([]*model.Movement, error) {
	var movements []*model.Movement
	err := r.conn(tx).WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&movements).Error
	return movements, err
}

// ListChargesForReader 终端收到的全部消费，对账用
func (r *MovementRepository) ListChargesForReader(ctx context.Context, tx *gorm.DB, readerID int64) ([]*model.Movement, error) {
	var movements []*model.Movement
	err := r.conn(tx).WithContext(ctx).
		Where("kind = ? AND counterparty_type = ? AND counterparty_id = ?",
			model.MovementKindCharge, model.CounterpartyReader, readerID).
		Order("id ASC").
		Find(&movements).Error
	return movements, err
}
