package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"cardpay/internal/config"
	"cardpay/internal/infrastructure/database"
	"cardpay/internal/model"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(&config.DatabaseConfig{
		Driver:          "sqlite",
		Path:            filepath.Join(t.TempDir(), "repo.db"),
		MaxOpenConns:    4,
		MaxIdleConns:    4,
		LockWaitTimeout: 5 * time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	})
	return db
}

func TestIsLockConflict(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"mysql lock wait", &mysql.MySQLError{Number: 1205}, true},
		{"mysql deadlock", fmt.Errorf("wrapped: %w", &mysql.MySQLError{Number: 1213}), true},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062}, false},
		{"pg lock timeout", &pgconn.PgError{Code: "55P03"}, true},
		{"pg deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"pg unique", &pgconn.PgError{Code: "23505"}, false},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, true},
		{"sqlite constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
		{"text only", errors.New("database is locked"), true},
		{"other", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsLockConflict(tc.err))
		})
	}
}

func TestAccountRepository_LockedReadAndWrite(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewAccountRepository(db)

	user := &model.User{NationalID: "1", DisplayName: "Ana", Balance: decimal.RequireFromString("9.999"), Active: true}
	require.NoError(t, repo.CreateUser(ctx, nil, user))
	assert.True(t, decimal.RequireFromString("10.00").Equal(user.OpeningBalance))

	err := db.Transaction(func(tx *gorm.DB) error {
		u, err := repo.GetUserForUpdate(ctx, tx, user.ID)
		if err != nil {
			return err
		}
		return repo.SetUserBalance(ctx, tx, u.ID, u.Balance.Sub(decimal.NewFromInt(3)))
	})
	require.NoError(t, err)

	got, err := repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(7).Equal(got.Balance))

	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := repo.GetUserForUpdate(ctx, tx, 999)
		return err
	})
	assert.ErrorIs(t, err, ErrUserNotFound)

	assert.ErrorIs(t, repo.CreateUser(ctx, nil, &model.User{NationalID: "1", DisplayName: "Dup", Active: true}), ErrDuplicateKey)
}

func TestAccountRepository_FindUserByLogin(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewAccountRepository(db)
	email := "ana@example.com"
	require.NoError(t, repo.CreateUser(ctx, nil, &model.User{NationalID: "111", DisplayName: "Ana", Email: &email, Active: true}))

	for _, login := range []string{"111", "ana@example.com", "Ana"} {
		u, err := repo.FindUserByLogin(ctx, login)
		require.NoError(t, err, login)
		assert.Equal(t, "111", u.NationalID)
	}
	_, err := repo.FindUserByLogin(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestAccountRepository_ListIDsPaginates(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewAccountRepository(db)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.CreateUser(ctx, nil, &model.User{NationalID: fmt.Sprint(i), DisplayName: "u", Active: true}))
	}

	first, err := repo.ListUserIDs(ctx, 0, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	rest, err := repo.ListUserIDs(ctx, first[2], 3)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}

func TestRechargeCodeRepository_MarkUsedOnce(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewRechargeCodeRepository(db)
	rc := &model.RechargeCode{Code: "ABC", Amount: decimal.NewFromInt(10)}
	require.NoError(t, repo.Create(ctx, rc))
	assert.ErrorIs(t, repo.Create(ctx, &model.RechargeCode{Code: "ABC", Amount: decimal.NewFromInt(1)}), ErrDuplicateKey)

	now := time.Now().UTC()
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return repo.MarkUsed(ctx, tx, rc.ID, 7, now)
	}))
	err := db.Transaction(func(tx *gorm.DB) error {
		return repo.MarkUsed(ctx, tx, rc.ID, 8, now)
	})
	assert.ErrorIs(t, err, ErrCodeAlreadyUsed)

	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := repo.GetByCodeForUpdate(ctx, tx, "NOPE")
		return err
	})
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestMovementRepository_ReaderRecentJoinsPayer(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	accounts := NewAccountRepository(db)
	movements := NewMovementRepository(db)

	user := &model.User{NationalID: "1", DisplayName: "Ana", Active: true}
	require.NoError(t, accounts.CreateUser(ctx, nil, user))
	readerID := int64(3)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, movements.Create(ctx, db, &model.Movement{
			MovementNo:       fmt.Sprintf("M%d", i),
			ReferenceNo:      fmt.Sprintf("M%d", i),
			UserID:           user.ID,
			Kind:             model.MovementKindCharge,
			Status:           model.MovementStatusApproved,
			Amount:           decimal.NewFromInt(int64(i + 1)),
			CounterpartyType: model.CounterpartyReader,
			CounterpartyID:   &readerID,
			CreatedAt:        base.Add(time.Duration(i) * time.Minute),
		}))
	}

	rows, err := movements.ReaderRecent(ctx, readerID, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "M2", rows[0].MovementNo)
	assert.Equal(t, "M1", rows[1].MovementNo)
	assert.Equal(t, "Ana", rows[0].UserName)

	all, err := movements.ListByUser(ctx, user.ID, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "M2", all[0].MovementNo)

	none, err := movements.ListByUser(ctx, 404, 10)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestOutboxRepository_StatusTransitions(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewOutboxRepository(db)

	msg := &model.OutboxMessage{MessageKey: "K1", Topic: "t", Payload: "{}"}
	require.NoError(t, repo.Create(ctx, nil, msg))

	pending, err := repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, repo.MarkAsSent(ctx, msg.ID))
	n, err := repo.CountByStatus(ctx, model.OutboxStatusSent)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	pending, err = repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
