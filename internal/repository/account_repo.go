package repository

import (
	"context"
	"errors"

	"cardpay/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountRepository 用户与终端的余额存储
//
// 【重要】任何参与余额计算的读取都必须使用 *ForUpdate 方法，
// 并且在同一个事务 tx 内完成写回
type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

// ============================================================
// 用户
// ============================================================

func (r *AccountRepository) CreateUser(ctx context.Context, tx *gorm.DB, user *model.User) error {
	user.Balance = model.RoundMoney(user.Balance)
	user.OpeningBalance = user.Balance
	err := r.conn(tx).WithContext(ctx).Create(user).Error
	if isDuplicate(err) {
		return ErrDuplicateKey
	}
	return err
}

func (r *AccountRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	return userResult(&user, err)
}

func (r *AccountRepository) GetUserByNationalID(ctx context.Context, nationalID string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("national_id = ?", nationalID).First(&user).Error
	return userResult(&user, err)
}

// FindUserByLogin 登录名可以是身份证号、邮箱或姓名
func (r *AccountRepository) FindUserByLogin(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).
		Where("national_id = ? OR email = ? OR display_name = ?", username, username, username).
		Order("id ASC").
		First(&user).Error
	return userResult(&user, err)
}

func (r *AccountRepository) GetUserForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.User, error) {
	var user model.User
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&user).Error
	return userResult(&user, err)
}

func (r *AccountRepository) GetUserByNationalIDForUpdate(ctx context.Context, tx *gorm.DB, nationalID string) (*model.User, error) {
	var user model.User
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("national_id = ?", nationalID).
		First(&user).Error
	return userResult(&user, err)
}

// SetUserBalance 在持有行锁的事务内写回余额
func (r *AccountRepository) SetUserBalance(ctx context.Context, tx *gorm.DB, id int64, balance decimal.Decimal) error {
	result := tx.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", id).
		Update("balance", model.RoundMoney(balance))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *AccountRepository) SetUserActive(ctx context.Context, id int64, active bool) error {
	result := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", id).
		Update("active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *AccountRepository) SetCredentialHash(ctx context.Context, id int64, hash string) error {
	result := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", id).
		Update("credential_hash", hash)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ListUserIDs 按 ID 游标分页
func (r *AccountRepository) ListUserIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func userResult(user *model.User, err error) (*model.User, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// ============================================================
// 终端
// ============================================================

func (r *AccountRepository) CreateReader(ctx context.Context, reader *model.CardReader) error {
	reader.Balance = model.RoundMoney(reader.Balance)
	reader.OpeningBalance = reader.Balance
	return r.db.WithContext(ctx).Create(reader).Error
}

func (r *AccountRepository) GetReaderByID(ctx context.Context, id int64) (*model.CardReader, error) {
	var reader model.CardReader
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&reader).Error
	return readerResult(&reader, err)
}

func (r *AccountRepository) GetReaderForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.CardReader, error) {
	var reader model.CardReader
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&reader).Error
	return readerResult(&reader, err)
}

func (r *AccountRepository) SetReaderBalance(ctx context.Context, tx *gorm.DB, id int64, balance decimal.Decimal) error {
	result := tx.WithContext(ctx).
		Model(&model.CardReader{}).
		Where("id = ?", id).
		Update("balance", model.RoundMoney(balance))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrReaderNotFound
	}
	return nil
}

func (r *AccountRepository) SetReaderActive(ctx context.Context, id int64, active bool) error {
	result := r.db.WithContext(ctx).
		Model(&model.CardReader{}).
		Where("id = ?", id).
		Update("active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrReaderNotFound
	}
	return nil
}

func (r *AccountRepository) ListReaderIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.CardReader{}).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func readerResult(reader *model.CardReader, err error) (*model.CardReader, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReaderNotFound
		}
		return nil, err
	}
	return reader, nil
}
