package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"cardpay/internal/infrastructure/lock"
	"cardpay/internal/model"
	"cardpay/internal/repository"
	"cardpay/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const defaultRechargeMethod = "cash"

var ErrInvalidCode = newError(KindInvalidInput, "invalid_code", "充值码不能为空")

// TransactionService 交易引擎
//
// 每个操作都是一个完整的工作单元：
//
//	校验无需状态的参数 -> 获取账户锁 -> 开启事务 -> 按固定顺序锁行 -> 校验 -> 修改余额
//	-> 追加流水 -> 写 outbox -> 提交（任何失败整体回滚）
type TransactionService struct {
	db        *gorm.DB
	accounts  *repository.AccountRepository
	cards     *repository.CardRepository
	codes     *repository.RechargeCodeRepository
	movements *repository.MovementRepository
	outbox    *repository.OutboxRepository
	locker    lock.Locker
	topic     string
	log       *slog.Logger
}

func NewTransactionService(db *gorm.DB, locker lock.Locker, topic string, log *slog.Logger) *TransactionService {
	if locker == nil {
		locker = lock.Noop()
	}
	return &TransactionService{
		db:        db,
		accounts:  repository.NewAccountRepository(db),
		cards:     repository.NewCardRepository(db),
		codes:     repository.NewRechargeCodeRepository(db),
		movements: repository.NewMovementRepository(db),
		outbox:    repository.NewOutboxRepository(db),
		locker:    locker,
		topic:     topic,
		log:       log.With("component", "transaction"),
	}
}

type ChargeResult struct {
	UserBalance   decimal.Decimal `json:"user_balance"`
	UserName      string          `json:"user_name"`
	ReaderBalance decimal.Decimal `json:"reader_balance"`
	MovementNo    string          `json:"movement_no"`
}

type TransferResult struct {
	OriginBalance   decimal.Decimal `json:"origin_balance"`
	DestinationName string          `json:"destination_name"`
	Amount          decimal.Decimal `json:"amount"`
	ReferenceNo     string          `json:"reference_no"`
}

type RechargeResult struct {
	Balance    decimal.Decimal `json:"balance"`
	MovementNo string          `json:"movement_no"`
}

type CodeRechargeResult struct {
	Amount     decimal.Decimal `json:"amount"`
	Balance    decimal.Decimal `json:"balance"`
	Code       string          `json:"code"`
	MovementNo string          `json:"movement_no"`
}

// ============================================================================
// 刷卡消费
// ============================================================================

// Charge 用户 -> 终端。锁顺序：卡 -> 持卡用户 -> 终端
func (s *TransactionService) Charge(ctx context.Context, cardUID, pin string, amount decimal.Decimal, readerID int64) (*ChargeResult, error) {
	amount, err := normalizeAmount(amount)
	if err != nil {
		return nil, err
	}
	if !validPIN(pin) {
		return nil, ErrInvalidPIN
	}

	// 卡与用户的绑定不可变，先用非锁定读确定加锁的 key，事务内再加行锁重读
	card, err := s.cards.FindByUID(ctx, cardUID)
	if err != nil {
		if errors.Is(err, repository.ErrCardNotFound) {
			return nil, ErrCardNotFound
		}
		return nil, s.fail("charge", err, "card_uid", cardUID)
	}

	movementNo := idgen.GenerateNo(idgen.PrefixCharge)
	release, err := s.locker.Acquire(ctx, movementNo,
		lock.CardKey(cardUID), lock.UserKey(card.UserID), lock.ReaderKey(readerID))
	if err != nil {
		return nil, s.fail("charge", err, "card_uid", cardUID, "reader_id", readerID)
	}
	defer release()

	var result *ChargeResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		card, err := s.cards.GetByUIDForUpdate(ctx, tx, cardUID)
		if err != nil {
			if errors.Is(err, repository.ErrCardNotFound) {
				return ErrCardNotFound
			}
			return err
		}
		if !card.Active {
			return ErrCardInactive
		}
		if subtle.ConstantTimeCompare([]byte(card.PIN), []byte(pin)) != 1 {
			return ErrWrongPIN
		}

		user, err := s.accounts.GetUserForUpdate(ctx, tx, card.UserID)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if !user.Active {
			return ErrUserInactive
		}
		if user.Balance.LessThan(amount) {
			return newInsufficient(user.Balance, amount)
		}

		reader, err := s.accounts.GetReaderForUpdate(ctx, tx, readerID)
		if err != nil {
			if errors.Is(err, repository.ErrReaderNotFound) {
				return ErrReaderNotFound
			}
			return err
		}
		if !reader.Active {
			return ErrReaderInactive
		}

		userAfter := user.Balance.Sub(amount)
		readerAfter := reader.Balance.Add(amount)
		if !model.WithinMoneyLimit(readerAfter) {
			return ErrBalanceLimit
		}

		if err := s.accounts.SetUserBalance(ctx, tx, user.ID, userAfter); err != nil {
			return err
		}
		if err := s.accounts.SetReaderBalance(ctx, tx, reader.ID, readerAfter); err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := s.movements.Create(ctx, tx, &model.Movement{
			MovementNo:       movementNo,
			ReferenceNo:      movementNo,
			UserID:           user.ID,
			Kind:             model.MovementKindCharge,
			Status:           model.MovementStatusApproved,
			Amount:           amount,
			BalanceBefore:    user.Balance,
			BalanceAfter:     userAfter,
			CounterpartyType: model.CounterpartyReader,
			CounterpartyID:   &reader.ID,
			Description:      "消费-" + reader.DisplayName,
			CreatedAt:        now,
		}); err != nil {
			return err
		}

		if err := s.publish(ctx, tx, &model.LedgerEvent{
			ReferenceNo: movementNo,
			Operation:   "charge",
			UserID:      user.ID,
			Amount:      amount,
			Counterpart: fmt.Sprintf("reader:%d", reader.ID),
			OccurredAt:  now.Format(time.RFC3339),
		}); err != nil {
			return err
		}

		result = &ChargeResult{
			UserBalance:   userAfter,
			UserName:      user.DisplayName,
			ReaderBalance: readerAfter,
			MovementNo:    movementNo,
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("charge", err, "card_uid", cardUID, "reader_id", readerID)
	}

	s.log.Info("消费成功", "movement_no", movementNo, "reader_id", readerID, "amount", amount.StringFixed(2))
	return result, nil
}

// ============================================================================
// 转账
// ============================================================================

// Transfer 用户 -> 用户。两个用户按 ID 从小到大加锁
func (s *TransactionService) Transfer(ctx context.Context, originUserID int64, destinationNationalID string, amount decimal.Decimal, description string) (*TransferResult, error) {
	amount, err := normalizeAmount(amount)
	if err != nil {
		return nil, err
	}
	destinationNationalID = strings.TrimSpace(destinationNationalID)
	if destinationNationalID == "" {
		return nil, ErrInvalidRequest
	}
	description = strings.TrimSpace(description)
	if description == "" {
		description = "转账"
	}

	// 身份证号与用户 ID 的对应关系不可变
	var destinationID int64
	destination, err := s.accounts.GetUserByNationalID(ctx, destinationNationalID)
	switch {
	case err == nil:
		destinationID = destination.ID
	case errors.Is(err, repository.ErrUserNotFound):
	default:
		return nil, s.fail("transfer", err, "origin_user_id", originUserID)
	}

	ids := []int64{originUserID}
	if destinationID != 0 && destinationID != originUserID {
		ids = append(ids, destinationID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	referenceNo := idgen.GenerateNo(idgen.PrefixTransfer)
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, lock.UserKey(id))
	}
	release, err := s.locker.Acquire(ctx, referenceNo, keys...)
	if err != nil {
		return nil, s.fail("transfer", err, "origin_user_id", originUserID)
	}
	defer release()

	var result *TransferResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked := make(map[int64]*model.User, len(ids))
		for _, id := range ids {
			u, err := s.accounts.GetUserForUpdate(ctx, tx, id)
			if err != nil {
				if errors.Is(err, repository.ErrUserNotFound) {
					continue
				}
				return err
			}
			locked[id] = u
		}

		origin := locked[originUserID]
		if origin == nil {
			return ErrOriginNotFound
		}
		if !origin.Active {
			return ErrOriginInactive
		}
		if destinationID == 0 {
			return ErrDestinationNotFound
		}
		if destinationID == originUserID {
			return ErrSelfTransfer
		}
		destination := locked[destinationID]
		if destination == nil {
			return ErrDestinationNotFound
		}
		if !destination.Active {
			return ErrDestinationInactive
		}
		if origin.Balance.LessThan(amount) {
			return newInsufficient(origin.Balance, amount)
		}

		originAfter := origin.Balance.Sub(amount)
		destinationAfter := destination.Balance.Add(amount)
		if !model.WithinMoneyLimit(destinationAfter) {
			return ErrBalanceLimit
		}

		if err := s.accounts.SetUserBalance(ctx, tx, origin.ID, originAfter); err != nil {
			return err
		}
		if err := s.accounts.SetUserBalance(ctx, tx, destination.ID, destinationAfter); err != nil {
			return err
		}

		now := time.Now().UTC()
		legs := []*model.Movement{
			{
				MovementNo:       idgen.GenerateMovementNo(),
				ReferenceNo:      referenceNo,
				UserID:           origin.ID,
				Kind:             model.MovementKindTransferOut,
				Status:           model.MovementStatusApproved,
				Amount:           amount,
				BalanceBefore:    origin.Balance,
				BalanceAfter:     originAfter,
				CounterpartyType: model.CounterpartyUser,
				CounterpartyID:   &destination.ID,
				CounterpartyRef:  destination.NationalID,
				Description:      description,
				CreatedAt:        now,
			},
			{
				MovementNo:       idgen.GenerateMovementNo(),
				ReferenceNo:      referenceNo,
				UserID:           destination.ID,
				Kind:             model.MovementKindTransferIn,
				Status:           model.MovementStatusApproved,
				Amount:           amount,
				BalanceBefore:    destination.Balance,
				BalanceAfter:     destinationAfter,
				CounterpartyType: model.CounterpartyUser,
				CounterpartyID:   &origin.ID,
				CounterpartyRef:  origin.NationalID,
				Description:      description,
				CreatedAt:        now,
			},
		}
		for _, m := range legs {
			if err := s.movements.Create(ctx, tx, m); err != nil {
				return err
			}
		}

		if err := s.publish(ctx, tx, &model.LedgerEvent{
			ReferenceNo: referenceNo,
			Operation:   "transfer",
			UserID:      origin.ID,
			Amount:      amount,
			Counterpart: fmt.Sprintf("user:%d", destination.ID),
			OccurredAt:  now.Format(time.RFC3339),
		}); err != nil {
			return err
		}

		result = &TransferResult{
			OriginBalance:   originAfter,
			DestinationName: destination.DisplayName,
			Amount:          amount,
			ReferenceNo:     referenceNo,
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("transfer", err, "origin_user_id", originUserID, "destination", destinationNationalID)
	}

	s.log.Info("转账成功", "reference_no", referenceNo, "origin_user_id", originUserID, "amount", amount.StringFixed(2))
	return result, nil
}

// ============================================================================
// 充值
// ============================================================================

// RechargeByAmount 外部资金按金额充值，method 为空时按现金处理
func (s *TransactionService) RechargeByAmount(ctx context.Context, userID int64, amount decimal.Decimal, method string) (*RechargeResult, error) {
	amount, err := normalizeAmount(amount)
	if err != nil {
		return nil, err
	}
	method = strings.TrimSpace(method)
	if method == "" {
		method = defaultRechargeMethod
	}

	movementNo := idgen.GenerateNo(idgen.PrefixRecharge)
	release, err := s.locker.Acquire(ctx, movementNo, lock.UserKey(userID))
	if err != nil {
		return nil, s.fail("recharge", err, "user_id", userID)
	}
	defer release()

	var result *RechargeResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.lockActiveUser(ctx, tx, userID)
		if err != nil {
			return err
		}

		after := user.Balance.Add(amount)
		if !model.WithinMoneyLimit(after) {
			return ErrBalanceLimit
		}
		if err := s.accounts.SetUserBalance(ctx, tx, user.ID, after); err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := s.movements.Create(ctx, tx, &model.Movement{
			MovementNo:       movementNo,
			ReferenceNo:      movementNo,
			UserID:           user.ID,
			Kind:             model.MovementKindRecharge,
			Status:           model.MovementStatusApproved,
			Amount:           amount,
			BalanceBefore:    user.Balance,
			BalanceAfter:     after,
			CounterpartyType: model.CounterpartyMethod,
			CounterpartyRef:  method,
			Description:      "充值-" + method,
			CreatedAt:        now,
		}); err != nil {
			return err
		}

		if err := s.publish(ctx, tx, &model.LedgerEvent{
			ReferenceNo: movementNo,
			Operation:   "recharge",
			UserID:      user.ID,
			Amount:      amount,
			Counterpart: "method:" + method,
			OccurredAt:  now.Format(time.RFC3339),
		}); err != nil {
			return err
		}

		result = &RechargeResult{Balance: after, MovementNo: movementNo}
		return nil
	})
	if err != nil {
		return nil, s.fail("recharge", err, "user_id", userID)
	}

	s.log.Info("充值成功", "movement_no", movementNo, "user_id", userID, "amount", amount.StringFixed(2))
	return result, nil
}

// RechargeByCode 核销充值码并入账。锁顺序：充值码 -> 用户
// 核销与入账在同一事务内，入账失败时充值码保持未使用
func (s *TransactionService) RechargeByCode(ctx context.Context, userID int64, code string) (*CodeRechargeResult, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, ErrInvalidCode
	}

	movementNo := idgen.GenerateNo(idgen.PrefixRecharge)
	release, err := s.locker.Acquire(ctx, movementNo, lock.CodeKey(code), lock.UserKey(userID))
	if err != nil {
		return nil, s.fail("recharge_code", err, "user_id", userID)
	}
	defer release()

	var result *CodeRechargeResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rc, err := s.codes.GetByCodeForUpdate(ctx, tx, code)
		if err != nil {
			if errors.Is(err, repository.ErrCodeNotFound) {
				return ErrCodeNotFound
			}
			return err
		}
		if rc.Used {
			return ErrCodeAlreadyUsed
		}

		user, err := s.lockActiveUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		amount := model.RoundMoney(rc.Amount)
		after := user.Balance.Add(amount)
		if !model.WithinMoneyLimit(after) {
			return ErrBalanceLimit
		}

		now := time.Now().UTC()
		if err := s.codes.MarkUsed(ctx, tx, rc.ID, user.ID, now); err != nil {
			if errors.Is(err, repository.ErrCodeAlreadyUsed) {
				return ErrCodeAlreadyUsed
			}
			return err
		}

		if err := s.accounts.SetUserBalance(ctx, tx, user.ID, after); err != nil {
			return err
		}

		if err := s.movements.Create(ctx, tx, &model.Movement{
			MovementNo:       movementNo,
			ReferenceNo:      movementNo,
			UserID:           user.ID,
			Kind:             model.MovementKindRecharge,
			Status:           model.MovementStatusApproved,
			Amount:           amount,
			BalanceBefore:    user.Balance,
			BalanceAfter:     after,
			CounterpartyType: model.CounterpartyCode,
			CounterpartyRef:  rc.Code,
			Description:      "充值码充值",
			CreatedAt:        now,
		}); err != nil {
			return err
		}

		if err := s.publish(ctx, tx, &model.LedgerEvent{
			ReferenceNo: movementNo,
			Operation:   "recharge_code",
			UserID:      user.ID,
			Amount:      amount,
			Counterpart: "code:" + rc.Code,
			OccurredAt:  now.Format(time.RFC3339),
		}); err != nil {
			return err
		}

		result = &CodeRechargeResult{
			Amount:     amount,
			Balance:    after,
			Code:       rc.Code,
			MovementNo: movementNo,
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("recharge_code", err, "user_id", userID, "code", code)
	}

	s.log.Info("充值码核销成功", "movement_no", movementNo, "user_id", userID, "code", code)
	return result, nil
}

// ============================================================================
// 内部方法
// ============================================================================

func (s *TransactionService) lockActiveUser(ctx context.Context, tx *gorm.DB, userID int64) (*model.User, error) {
	user, err := s.accounts.GetUserForUpdate(ctx, tx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if !user.Active {
		return nil, ErrUserInactive
	}
	return user, nil
}

// publish 账本事件与业务写入同一事务落库，由 OutboxSender 异步投递
func (s *TransactionService) publish(ctx context.Context, tx *gorm.DB, event *model.LedgerEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化账本事件失败: %w", err)
	}
	return s.outbox.Create(ctx, tx, &model.OutboxMessage{
		MessageKey: event.ReferenceNo,
		Topic:      s.topic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	})
}

// fail 业务错误原样返回；锁冲突转为 ErrConflict；其余视为存储故障并记录日志
func (s *TransactionService) fail(op string, err error, attrs ...any) error {
	return classifyStoreError(s.log, op, err, attrs...)
}

func classifyStoreError(log *slog.Logger, op string, err error, attrs ...any) error {
	var se *Error
	var insufficient *InsufficientBalanceError
	if errors.As(err, &se) || errors.As(err, &insufficient) {
		return err
	}
	if errors.Is(err, lock.ErrLockTimeout) || repository.IsLockConflict(err) {
		log.Warn("锁冲突", append([]any{"op", op, "error", err}, attrs...)...)
		return ErrConflict
	}
	log.Error("存储故障", append([]any{"op", op, "error", err}, attrs...)...)
	return &StoreError{Op: op, Err: err}
}

// normalizeAmount 入参金额只舍入一次，扣款与入账使用同一个值
func normalizeAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	amount = model.RoundMoney(amount)
	if !amount.IsPositive() || !model.WithinMoneyLimit(amount) {
		return decimal.Zero, ErrInvalidAmount
	}
	return amount, nil
}

func validPIN(pin string) bool {
	if len(pin) != 4 {
		return false
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return false
		}
	}
	return true
}
