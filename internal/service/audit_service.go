package service

import (
	"context"
	"errors"
	"log/slog"

	"cardpay/internal/model"
	"cardpay/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	AccountTypeUser   = "user"
	AccountTypeReader = "reader"
)

// AuditReport 按流水重放的对账结果
// Expected = 期初余额 + Σ 带符号流水
type AuditReport struct {
	AccountType string          `json:"account_type"`
	AccountID   int64           `json:"account_id"`
	Expected    decimal.Decimal `json:"expected"`
	Actual      decimal.Decimal `json:"actual"`
	Drift       decimal.Decimal `json:"drift"`
	Movements   int             `json:"movements"`
}

func (r *AuditReport) Balanced() bool {
	return r.Drift.IsZero()
}

type AuditService struct {
	db        *gorm.DB
	accounts  *repository.AccountRepository
	movements *repository.MovementRepository
	log       *slog.Logger
}

func NewAuditService(db *gorm.DB, log *slog.Logger) *AuditService {
	return &AuditService{
		db:        db,
		accounts:  repository.NewAccountRepository(db),
		movements: repository.NewMovementRepository(db),
		log:       log.With("component", "audit"),
	}
}

// AuditUser 锁定用户行后在同一事务内读取流水
// 提交中的交易要么全部可见要么全部不可见，余额与流水不会出现时间差
func (s *AuditService) AuditUser(ctx context.Context, userID int64) (*AuditReport, error) {
	var report *AuditReport
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.accounts.GetUserForUpdate(ctx, tx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		movements, err := s.movements.ListAllForUser(ctx, tx, userID)
		if err != nil {
			return err
		}

		expected := user.OpeningBalance
		for _, m := range movements {
			expected = expected.Add(m.Signed())
		}
		report = newReport(AccountTypeUser, userID, expected, user.Balance, len(movements))
		return nil
	})
	if err != nil {
		return nil, classifyStoreError(s.log, "audit_user", err, "user_id", userID)
	}
	return report, nil
}

// AuditReader 终端余额只会因消费增加
func (s *AuditService) AuditReader(ctx context.Context, readerID int64) (*AuditReport, error) {
	var report *AuditReport
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reader, err := s.accounts.GetReaderForUpdate(ctx, tx, readerID)
		if err != nil {
			if errors.Is(err, repository.ErrReaderNotFound) {
				return ErrReaderNotFound
			}
			return err
		}
		movements, err := s.movements.ListChargesForReader(ctx, tx, readerID)
		if err != nil {
			return err
		}

		expected := reader.OpeningBalance
		for _, m := range movements {
			expected = expected.Add(m.Amount)
		}
		report = newReport(AccountTypeReader, readerID, expected, reader.Balance, len(movements))
		return nil
	})
	if err != nil {
		return nil, classifyStoreError(s.log, "audit_reader", err, "reader_id", readerID)
	}
	return report, nil
}

// ReconcileAll 分批检查全部账户，返回存在差额的账户
func (s *AuditService) ReconcileAll(ctx context.Context, batchSize int) ([]*AuditReport, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	var drifted []*AuditReport

	var afterID int64
	for {
		ids, err := s.accounts.ListUserIDs(ctx, afterID, batchSize)
		if err != nil {
			return drifted, classifyStoreError(s.log, "reconcile_users", err)
		}
		for _, id := range ids {
			report, err := s.AuditUser(ctx, id)
			if err != nil {
				return drifted, err
			}
			if !report.Balanced() {
				drifted = append(drifted, report)
			}
		}
		if len(ids) < batchSize {
			break
		}
		afterID = ids[len(ids)-1]
	}

	afterID = 0
	for {
		ids, err := s.accounts.ListReaderIDs(ctx, afterID, batchSize)
		if err != nil {
			return drifted, classifyStoreError(s.log, "reconcile_readers", err)
		}
		for _, id := range ids {
			report, err := s.AuditReader(ctx, id)
			if err != nil {
				return drifted, err
			}
			if !report.Balanced() {
				drifted = append(drifted, report)
			}
		}
		if len(ids) < batchSize {
			break
		}
		afterID = ids[len(ids)-1]
	}

	return drifted, nil
}

func newReport(accountType string, id int64, expected, actual decimal.Decimal, n int) *AuditReport {
	expected = model.RoundMoney(expected)
	return &AuditReport{
		AccountType: accountType,
		AccountID:   id,
		Expected:    expected,
		Actual:      actual,
		Drift:       actual.Sub(expected),
		Movements:   n,
	}
}
