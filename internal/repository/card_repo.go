package repository

import (
	"context"
	"errors"

	"cardpay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CardRepository struct {
	db *gorm.DB
}

func NewCardRepository(db *gorm.DB) *CardRepository {
	return &CardRepository{db: db}
}

func (r *CardRepository) FindByUID(ctx context.Context, uid string) (*model.Card, error) {
	var card model.Card
	err := r.db.WithContext(ctx).Where("uid = ?", uid).First(&card).Error
	return cardResult(&card, err)
}

// GetByUIDForUpdate 锁定卡片行，卡片与用户的绑定在事务内不可变
func (r *CardRepository) GetByUIDForUpdate(ctx context.Context, tx *gorm.DB, uid string) (*model.Card, error) {
	var card model.Card
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("uid = ?", uid).
		First(&card).Error
	return cardResult(&card, err)
}

// ExistsUID 在事务内检查 uid 是否已注册
func (r *CardRepository) ExistsUID(ctx context.Context, tx *gorm.DB, uid string) (bool, error) {
	var n int64
	err := tx.WithContext(ctx).Model(&model.Card{}).Where("uid = ?", uid).Count(&n).Error
	return n > 0, err
}

func (r *CardRepository) Create(ctx context.Context, tx *gorm.DB, card *model.Card) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Create(card).Error
	if isDuplicate(err) {
		return ErrDuplicateKey
	}
	return err
}

func (r *CardRepository) ListByUser(ctx context.Context, userID int64) ([]*model.Card, error) {
	var cards []*model.Card
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&cards).Error
	return cards, err
}

// FirstByUser 用户最早注册的卡，用于无密码用户的 PIN 登录
func (r *CardRepository) FirstByUser(ctx context.Context, userID int64) (*model.Card, error) {
	var card model.Card
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		First(&card).Error
	return cardResult(&card, err)
}

func (r *CardRepository) SetActive(ctx context.Context, uid string, active bool) error {
	result := r.db.WithContext(ctx).
		Model(&model.Card{}).
		Where("uid = ?", uid).
		Update("active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCardNotFound
	}
	return nil
}

func cardResult(card *model.Card, err error) (*model.Card, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCardNotFound
		}
		return nil, err
	}
	return card, nil
}
