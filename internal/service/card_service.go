package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"cardpay/internal/model"
	"cardpay/internal/repository"

	"gorm.io/gorm"
)

type CardService struct {
	db       *gorm.DB
	accounts *repository.AccountRepository
	cards    *repository.CardRepository
	log      *slog.Logger
}

func NewCardService(db *gorm.DB, log *slog.Logger) *CardService {
	return &CardService{
		db:       db,
		accounts: repository.NewAccountRepository(db),
		cards:    repository.NewCardRepository(db),
		log:      log.With("component", "card"),
	}
}

// CardOwner 持卡人，UserID 优先，否则按身份证号解析
type CardOwner struct {
	UserID     int64
	NationalID string
}

// Register 注册新卡
// 持卡人校验与插入在同一事务内完成，持卡人行被锁定，并发的停用操作无法插入到检查与写入之间
func (s *CardService) Register(ctx context.Context, uid, pin string, owner CardOwner) (*model.Card, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, ErrInvalidRequest
	}
	if !validPIN(pin) {
		return nil, ErrInvalidPIN
	}
	owner.NationalID = strings.TrimSpace(owner.NationalID)
	if owner.UserID == 0 && owner.NationalID == "" {
		return nil, ErrInvalidRequest
	}

	var card *model.Card
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var (
			user *model.User
			err  error
		)
		if owner.UserID != 0 {
			user, err = s.accounts.GetUserForUpdate(ctx, tx, owner.UserID)
		} else {
			user, err = s.accounts.GetUserByNationalIDForUpdate(ctx, tx, owner.NationalID)
		}
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return ErrOwnerNotFound
			}
			return err
		}
		if !user.Active {
			return ErrOwnerInactive
		}

		exists, err := s.cards.ExistsUID(ctx, tx, uid)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateCard
		}

		card = &model.Card{
			UID:          uid,
			PIN:          pin,
			UserID:       user.ID,
			Active:       true,
			RegisteredAt: time.Now().UTC(),
		}
		if err := s.cards.Create(ctx, tx, card); err != nil {
			if errors.Is(err, repository.ErrDuplicateKey) {
				return ErrDuplicateCard
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, classifyStoreError(s.log, "register_card", err, "uid", uid)
	}

	s.log.Info("卡片注册成功", "uid", uid, "user_id", card.UserID)
	return card, nil
}

// SetActive 启用或停用卡片
func (s *CardService) SetActive(ctx context.Context, uid string, active bool) error {
	err := s.cards.SetActive(ctx, uid, active)
	if err != nil {
		if errors.Is(err, repository.ErrCardNotFound) {
			return ErrCardNotFound
		}
		return classifyStoreError(s.log, "set_card_active", err, "uid", uid)
	}
	s.log.Info("卡片状态变更", "uid", uid, "active", active)
	return nil
}
