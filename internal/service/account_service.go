package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"cardpay/internal/model"
	"cardpay/internal/repository"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AccountService 开户、查询与状态管理
// 余额不在这里修改，全部经过 TransactionService
type AccountService struct {
	accounts *repository.AccountRepository
	cards    *repository.CardRepository
	codes    *repository.RechargeCodeRepository
	history  *HistoryService
	log      *slog.Logger
}

func NewAccountService(db *gorm.DB, history *HistoryService, log *slog.Logger) *AccountService {
	return &AccountService{
		accounts: repository.NewAccountRepository(db),
		cards:    repository.NewCardRepository(db),
		codes:    repository.NewRechargeCodeRepository(db),
		history:  history,
		log:      log.With("component", "account"),
	}
}

// ============================================================
// 开户
// ============================================================

type NewUser struct {
	NationalID     string
	DisplayName    string
	Email          string
	Phone          string
	Password       string
	OpeningBalance decimal.Decimal
}

func (s *AccountService) CreateUser(ctx context.Context, req NewUser) (*model.User, error) {
	req.NationalID = strings.TrimSpace(req.NationalID)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.NationalID == "" || req.DisplayName == "" {
		return nil, ErrInvalidRequest
	}
	if !validOpening(req.OpeningBalance) {
		return nil, ErrInvalidAmount
	}

	user := &model.User{
		NationalID:  req.NationalID,
		DisplayName: req.DisplayName,
		Phone:       strings.TrimSpace(req.Phone),
		Balance:     req.OpeningBalance,
		Active:      true,
	}
	if email := strings.TrimSpace(req.Email); email != "" {
		user.Email = &email
	}
	if password := strings.TrimSpace(req.Password); password != "" {
		if len(password) < minPasswordLength {
			return nil, ErrWeakPassword
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		h := string(hash)
		user.CredentialHash = &h
	}

	if err := s.accounts.CreateUser(ctx, nil, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, ErrDuplicateUser
		}
		return nil, classifyStoreError(s.log, "create_user", err, "national_id", req.NationalID)
	}
	s.log.Info("用户开户成功", "user_id", user.ID, "national_id", user.NationalID)
	return user, nil
}

func (s *AccountService) CreateReader(ctx context.Context, name string, opening decimal.Decimal) (*model.CardReader, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidRequest
	}
	if !validOpening(opening) {
		return nil, ErrInvalidAmount
	}
	reader := &model.CardReader{DisplayName: name, Balance: opening, Active: true}
	if err := s.accounts.CreateReader(ctx, reader); err != nil {
		return nil, classifyStoreError(s.log, "create_reader", err, "name", name)
	}
	s.log.Info("终端创建成功", "reader_id", reader.ID)
	return reader, nil
}

// validOpening 期初余额不能为负，舍入后也不能超过列上限
func validOpening(d decimal.Decimal) bool {
	d = model.RoundMoney(d)
	return !d.IsNegative() && model.WithinMoneyLimit(d)
}

// IssueCode 发行充值码，编码统一大写
func (s *AccountService) IssueCode(ctx context.Context, code string, amount decimal.Decimal) (*model.RechargeCode, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, ErrInvalidCode
	}
	amount, err := normalizeAmount(amount)
	if err != nil {
		return nil, err
	}
	rc := &model.RechargeCode{Code: code, Amount: amount}
	if err := s.codes.Create(ctx, rc); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, ErrDuplicateCode
		}
		return nil, classifyStoreError(s.log, "issue_code", err, "code", code)
	}
	s.log.Info("充值码发行成功", "code", code, "amount", amount.StringFixed(2))
	return rc, nil
}

func (s *AccountService) SetUserActive(ctx context.Context, userID int64, active bool) error {
	if err := s.accounts.SetUserActive(ctx, userID, active); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return classifyStoreError(s.log, "set_user_active", err, "user_id", userID)
	}
	s.log.Info("用户状态变更", "user_id", userID, "active", active)
	return nil
}

func (s *AccountService) SetReaderActive(ctx context.Context, readerID int64, active bool) error {
	if err := s.accounts.SetReaderActive(ctx, readerID, active); err != nil {
		if errors.Is(err, repository.ErrReaderNotFound) {
			return ErrReaderNotFound
		}
		return classifyStoreError(s.log, "set_reader_active", err, "reader_id", readerID)
	}
	s.log.Info("终端状态变更", "reader_id", readerID, "active", active)
	return nil
}

// ============================================================
// 查询
// ============================================================

type Profile struct {
	User  *model.User   `json:"user"`
	Cards []*model.Card `json:"cards"`
}

func (s *AccountService) Profile(ctx context.Context, userID int64) (*Profile, error) {
	user, err := s.accounts.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, classifyStoreError(s.log, "profile", err, "user_id", userID)
	}
	cards, err := s.cards.ListByUser(ctx, userID)
	if err != nil {
		return nil, classifyStoreError(s.log, "profile", err, "user_id", userID)
	}
	if cards == nil {
		cards = []*model.Card{}
	}
	return &Profile{User: user, Cards: cards}, nil
}

type UserSummary struct {
	ID          int64           `json:"id"`
	NationalID  string          `json:"national_id"`
	DisplayName string          `json:"display_name"`
	Email       string          `json:"email,omitempty"`
	Balance     decimal.Decimal `json:"balance"`
	Active      bool            `json:"active"`
}

// LookupByNationalID 按身份证号查询用户
func (s *AccountService) LookupByNationalID(ctx context.Context, nationalID string) (*UserSummary, error) {
	nationalID = strings.TrimSpace(nationalID)
	if nationalID == "" {
		return nil, ErrInvalidRequest
	}
	user, err := s.accounts.GetUserByNationalID(ctx, nationalID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, classifyStoreError(s.log, "lookup_user", err, "national_id", nationalID)
	}
	summary := &UserSummary{
		ID:          user.ID,
		NationalID:  user.NationalID,
		DisplayName: user.DisplayName,
		Balance:     user.Balance,
		Active:      user.Active,
	}
	if user.Email != nil {
		summary.Email = *user.Email
	}
	return summary, nil
}

type CardBalance struct {
	UserName string          `json:"user_name"`
	Balance  decimal.Decimal `json:"balance"`
}

// BalanceByCard 终端查询持卡人余额
func (s *AccountService) BalanceByCard(ctx context.Context, uid string) (*CardBalance, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, ErrInvalidRequest
	}
	card, err := s.cards.FindByUID(ctx, uid)
	if err != nil {
		if errors.Is(err, repository.ErrCardNotFound) {
			return nil, ErrCardNotFound
		}
		return nil, classifyStoreError(s.log, "card_balance", err, "uid", uid)
	}
	user, err := s.accounts.GetUserByID(ctx, card.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, classifyStoreError(s.log, "card_balance", err, "uid", uid)
	}
	return &CardBalance{UserName: user.DisplayName, Balance: user.Balance}, nil
}

type ReaderInfo struct {
	Reader *model.CardReader       `json:"reader"`
	Recent []*model.ReaderMovement `json:"recent"`
}

// ReaderInfo 终端信息与最近消费
func (s *AccountService) ReaderInfo(ctx context.Context, readerID int64) (*ReaderInfo, error) {
	reader, err := s.accounts.GetReaderByID(ctx, readerID)
	if err != nil {
		if errors.Is(err, repository.ErrReaderNotFound) {
			return nil, ErrReaderNotFound
		}
		return nil, classifyStoreError(s.log, "reader_info", err, "reader_id", readerID)
	}
	recent, err := s.history.ReaderRecent(ctx, readerID, 0)
	if err != nil {
		return nil, err
	}
	return &ReaderInfo{Reader: reader, Recent: recent}, nil
}

// AvailableDenominations 可用充值码面额与数量
func (s *AccountService) AvailableDenominations(ctx context.Context) ([]model.Denomination, error) {
	rows, err := s.codes.AvailableDenominations(ctx)
	if err != nil {
		return nil, classifyStoreError(s.log, "denominations", err)
	}
	if rows == nil {
		rows = []model.Denomination{}
	}
	return rows, nil
}
