package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"cardpay/internal/model"
	"cardpay/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// HistoryLimits 历史查询条数
type HistoryLimits struct {
	Default      int
	Max          int
	ReaderRecent int
}

type HistoryService struct {
	movements *repository.MovementRepository
	limits    HistoryLimits
	log       *slog.Logger
}

func NewHistoryService(db *gorm.DB, limits HistoryLimits, log *slog.Logger) *HistoryService {
	if limits.Default <= 0 {
		limits.Default = 50
	}
	if limits.Max < limits.Default {
		limits.Max = limits.Default
	}
	if limits.ReaderRecent <= 0 {
		limits.ReaderRecent = 5
	}
	return &HistoryService{
		movements: repository.NewMovementRepository(db),
		limits:    limits,
		log:       log.With("component", "history"),
	}
}

// ReaderRecent 终端最近 n 笔消费，n <= 0 时使用默认值
func (s *HistoryService) ReaderRecent(ctx context.Context, readerID int64, n int) ([]*model.ReaderMovement, error) {
	if n <= 0 {
		n = s.limits.ReaderRecent
	}
	rows, err := s.movements.ReaderRecent(ctx, readerID, n)
	if err != nil {
		return nil, classifyStoreError(s.log, "reader_recent", err, "reader_id", readerID)
	}
	return rows, nil
}

// UserHistory 用户全部流水，时间倒序；没有流水时返回空列表
func (s *HistoryService) UserHistory(ctx context.Context, userID int64, limit int) ([]*model.HistoryMovement, error) {
	rows, err := s.movements.ListByUser(ctx, userID, s.clamp(limit))
	if err != nil {
		return nil, classifyStoreError(s.log, "user_history", err, "user_id", userID)
	}
	return rows, nil
}

// ActivityItem 提供给助手的只读视图
type ActivityItem struct {
	Kind         string          `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Counterparty string          `json:"counterparty"`
	Description  string          `json:"description"`
	Timestamp    string          `json:"timestamp"`
}

// Activity 最近 n 条流水，时间戳为 RFC3339（可按字典序排序）
func (s *HistoryService) Activity(ctx context.Context, userID int64, n int) ([]ActivityItem, error) {
	rows, err := s.movements.ListByUser(ctx, userID, s.clamp(n))
	if err != nil {
		return nil, classifyStoreError(s.log, "activity", err, "user_id", userID)
	}
	items := make([]ActivityItem, 0, len(rows))
	for _, m := range rows {
		items = append(items, ActivityItem{
			Kind:         m.Kind,
			Amount:       m.Amount,
			BalanceAfter: m.BalanceAfter,
			Counterparty: counterpartyLabel(m),
			Description:  m.Description,
			Timestamp:    m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return items, nil
}

func (s *HistoryService) clamp(limit int) int {
	if limit <= 0 {
		return s.limits.Default
	}
	if limit > s.limits.Max {
		return s.limits.Max
	}
	return limit
}

func counterpartyLabel(m *model.HistoryMovement) string {
	switch m.CounterpartyType {
	case model.CounterpartyReader:
		if m.CounterpartyID != nil {
			return "reader:" + strconv.FormatInt(*m.CounterpartyID, 10)
		}
	case model.CounterpartyUser:
		if m.CounterpartyName != "" {
			return fmt.Sprintf("user:%s (%s)", m.CounterpartyName, m.CounterpartyRef)
		}
		return "user:" + m.CounterpartyRef
	}
	return m.CounterpartyType + ":" + m.CounterpartyRef
}
