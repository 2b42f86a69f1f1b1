package service

import (
	"context"
	"sync"
	"testing"

	"cardpay/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudit_BalancedAfterOperations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	a := f.user(t, "1001", "Ana", "30.00")
	b := f.user(t, "2002", "Bruno", "0")
	r := f.reader(t, "Kiosk")
	f.card(t, "CARD-1", "1234", a.ID)
	f.code(t, "X1", "10")

	_, err := f.tx.Charge(ctx, "CARD-1", "1234", money("12.50"), r.ID)
	require.NoError(t, err)
	_, err = f.tx.Transfer(ctx, a.ID, "2002", money("7.25"), "")
	require.NoError(t, err)
	_, err = f.tx.RechargeByCode(ctx, b.ID, "X1")
	require.NoError(t, err)

	report, err := f.audit.AuditUser(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, report.Balanced(), "drift %s", report.Drift)
	assert.Equal(t, 2, report.Movements)
	requireMoney(t, "10.25", report.Expected)

	report, err = f.audit.AuditReader(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, report.Balanced())
	requireMoney(t, "12.50", report.Actual)

	drifted, err := f.audit.ReconcileAll(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, drifted)
}

func TestAudit_DetectsDrift(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	a := f.user(t, "1001", "Ana", "10.00")
	f.user(t, "2002", "Bruno", "10.00")

	// 绕过交易引擎直接改余额
	require.NoError(t, f.db.Model(&model.User{}).Where("id = ?", a.ID).Update("balance", money("13.00")).Error)

	report, err := f.audit.AuditUser(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, report.Balanced())
	requireMoney(t, "3.00", report.Drift)

	drifted, err := f.audit.ReconcileAll(ctx, 10)
	require.NoError(t, err)
	require.Len(t, drifted, 1)
	assert.Equal(t, a.ID, drifted[0].AccountID)
	assert.Equal(t, AccountTypeUser, drifted[0].AccountType)
}

func TestAudit_Unknown(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.audit.AuditUser(context.Background(), 42)
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = f.audit.AuditReader(context.Background(), 42)
	assert.ErrorIs(t, err, ErrReaderNotFound)
}

func TestAudit_ConsistentWhileChargesCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	u := f.user(t, "1001", "Ana", "1000.00")
	r := f.reader(t, "Kiosk")
	f.card(t, "CARD-1", "1234", u.ID)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		for i := 0; i < 60; i++ {
			_, err := f.tx.Charge(ctx, "CARD-1", "1234", money("1.00"), r.ID)
			assert.NoError(t, err)
		}
	}()

	audits := 0
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		userReport, err := f.audit.AuditUser(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, userReport.Balanced(), "user drift %s after %d movements", userReport.Drift, userReport.Movements)

		readerReport, err := f.audit.AuditReader(ctx, r.ID)
		require.NoError(t, err)
		assert.True(t, readerReport.Balanced(), "reader drift %s after %d movements", readerReport.Drift, readerReport.Movements)
		audits++
	}
	wg.Wait()

	assert.Positive(t, audits)
	report, err := f.audit.AuditUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, report.Movements)
	requireMoney(t, "940.00", report.Actual)
}
