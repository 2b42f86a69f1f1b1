package service

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"cardpay/internal/config"
	"cardpay/internal/infrastructure/database"
	"cardpay/internal/infrastructure/lock"
	"cardpay/internal/model"
	"cardpay/internal/session"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testTopic = "ledger.movement"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(&config.DatabaseConfig{
		Driver:          "sqlite",
		Path:            filepath.Join(t.TempDir(), "cardpay.db"),
		MaxOpenConns:    8,
		MaxIdleConns:    8,
		LockWaitTimeout: 15 * time.Second,
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

type fixture struct {
	db       *gorm.DB
	tx       *TransactionService
	cards    *CardService
	accounts *AccountService
	history  *HistoryService
	audit    *AuditService
	auth     *AuthService
}

func newFixture(t *testing.T, locker lock.Locker) *fixture {
	t.Helper()
	db := newTestDB(t)
	log := testLogger()
	history := NewHistoryService(db, HistoryLimits{Default: 50, Max: 500, ReaderRecent: 5}, log)
	auth := NewAuthService(db, session.NewMemoryStore(), time.Hour, log)
	auth.cost = 4
	return &fixture{
		db:       db,
		tx:       NewTransactionService(db, locker, testTopic, log),
		cards:    NewCardService(db, log),
		accounts: NewAccountService(db, history, log),
		history:  history,
		audit:    NewAuditService(db, log),
		auth:     auth,
	}
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *fixture) user(t *testing.T, nationalID, name, balance string) *model.User {
	t.Helper()
	u, err := f.accounts.CreateUser(context.Background(), NewUser{
		NationalID:     nationalID,
		DisplayName:    name,
		OpeningBalance: money(balance),
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) reader(t *testing.T, name string) *model.CardReader {
	t.Helper()
	r, err := f.accounts.CreateReader(context.Background(), name, decimal.Zero)
	require.NoError(t, err)
	return r
}

func (f *fixture) card(t *testing.T, uid, pin string, userID int64) *model.Card {
	t.Helper()
	c, err := f.cards.Register(context.Background(), uid, pin, CardOwner{UserID: userID})
	require.NoError(t, err)
	return c
}

func (f *fixture) code(t *testing.T, code, amount string) *model.RechargeCode {
	t.Helper()
	rc, err := f.accounts.IssueCode(context.Background(), code, money(amount))
	require.NoError(t, err)
	return rc
}

func (f *fixture) userBalance(t *testing.T, id int64) decimal.Decimal {
	t.Helper()
	var u model.User
	require.NoError(t, f.db.First(&u, id).Error)
	return u.Balance
}

func (f *fixture) readerBalance(t *testing.T, id int64) decimal.Decimal {
	t.Helper()
	var r model.CardReader
	require.NoError(t, f.db.First(&r, id).Error)
	return r.Balance
}

func (f *fixture) totalBalance(t *testing.T) decimal.Decimal {
	t.Helper()
	var users []model.User
	var readers []model.CardReader
	require.NoError(t, f.db.Find(&users).Error)
	require.NoError(t, f.db.Find(&readers).Error)
	total := decimal.Zero
	for _, u := range users {
		total = total.Add(u.Balance)
	}
	for _, r := range readers {
		total = total.Add(r.Balance)
	}
	return total
}

func (f *fixture) count(t *testing.T, m interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(m).Count(&n).Error)
	return n
}

func requireMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, money(want).Equal(got), "want %s, got %s", want, got.String())
}

// countingLocker 记录 Acquire 调用次数
type countingLocker struct {
	calls atomic.Int32
}

func (l *countingLocker) Acquire(context.Context, string, ...string) (lock.Release, error) {
	l.calls.Add(1)
	return func() {}, nil
}
