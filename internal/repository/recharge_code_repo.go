package repository

import (
	"context"
	"errors"
	"time"

	"cardpay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RechargeCodeRepository struct {
	db *gorm.DB
}

func NewRechargeCodeRepository(db *gorm.DB) *RechargeCodeRepository {
	return &RechargeCodeRepository{db: db}
}

func (r *RechargeCodeRepository) GetByCodeForUpdate(ctx context.Context, tx *gorm.DB, code string) (*model.RechargeCode, error) {
	var rc model.RechargeCode
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("code = ?", code).
		First(&rc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, err
	}
	return &rc, nil
}

// MarkUsed 条件更新 used=false -> true
// 影响行数为 0 说明已被其他事务核销
func (r *RechargeCodeRepository) MarkUsed(ctx context.Context, tx *gorm.DB, id, userID int64, at time.Time) error {
	result := tx.WithContext(ctx).
		Model(&model.RechargeCode{}).
		Where("id = ? AND used = ?", id, false).
		Updates(map[string]interface{}{
			"used":                true,
			"redeemed_by_user_id": userID,
			"redeemed_at":         at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCodeAlreadyUsed
	}
	return nil
}

func (r *RechargeCodeRepository) Create(ctx context.Context, rc *model.RechargeCode) error {
	rc.Amount = model.RoundMoney(rc.Amount)
	err := r.db.WithContext(ctx).Create(rc).Error
	if isDuplicate(err) {
		return ErrDuplicateKey
	}
	return err
}

// AvailableDenominations 未使用充值码按面额统计，面额升序
func (r *RechargeCodeRepository) AvailableDenominations(ctx context.Context) ([]model.Denomination, error) {
	var rows []model.Denomination
	err := r.db.WithContext(ctx).
		Model(&model.RechargeCode{}).
		Select("amount, COUNT(*) AS count").
		Where("used = ?", false).
		Group("amount").
		Order("amount ASC").
		Scan(&rows).Error
	return rows, err
}
