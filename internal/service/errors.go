package service

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind 业务错误分类，接入层据此决定响应方式
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInactive
	KindInvalidInput
	KindInvalidCredential
	KindInsufficientBalance
	KindAlreadyUsed
	KindSelfTransfer
	KindDuplicateRegistration
	KindConflict
	KindStoreFailure
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInactive:
		return "inactive"
	case KindInvalidInput:
		return "invalid_input"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindInsufficientBalance:
		return "insufficient_balance"
	case KindAlreadyUsed:
		return "already_used"
	case KindSelfTransfer:
		return "self_transfer"
	case KindDuplicateRegistration:
		return "duplicate_registration"
	case KindConflict:
		return "conflict"
	case KindStoreFailure:
		return "store_failure"
	default:
		return "unknown"
	}
}

// Error 业务错误，Code 是稳定的机器可读编码
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrCardNotFound        = newError(KindNotFound, "card_not_found", "卡片不存在")
	ErrUserNotFound        = newError(KindNotFound, "user_not_found", "用户不存在")
	ErrReaderNotFound      = newError(KindNotFound, "reader_not_found", "终端不存在")
	ErrOriginNotFound      = newError(KindNotFound, "origin_not_found", "转出用户不存在")
	ErrDestinationNotFound = newError(KindNotFound, "destination_not_found", "收款用户不存在")
	ErrCodeNotFound        = newError(KindNotFound, "code_not_found", "充值码不存在")
	ErrOwnerNotFound       = newError(KindNotFound, "owner_not_found", "持卡人不存在")

	ErrCardInactive        = newError(KindInactive, "card_inactive", "卡片已停用")
	ErrUserInactive        = newError(KindInactive, "user_inactive", "用户已停用")
	ErrReaderInactive      = newError(KindInactive, "reader_inactive", "终端已停用")
	ErrOriginInactive      = newError(KindInactive, "origin_inactive", "转出用户已停用")
	ErrDestinationInactive = newError(KindInactive, "destination_inactive", "收款用户已停用")
	ErrOwnerInactive       = newError(KindInactive, "owner_inactive", "持卡人已停用")

	ErrInvalidAmount  = newError(KindInvalidInput, "invalid_amount", "金额必须大于0")
	ErrInvalidPIN     = newError(KindInvalidInput, "invalid_pin", "PIN 必须是4位数字")
	ErrInvalidRequest = newError(KindInvalidInput, "invalid_request", "请求参数错误")
	ErrWeakPassword   = newError(KindInvalidInput, "weak_password", "新密码至少6位")
	ErrBalanceLimit   = newError(KindInvalidInput, "balance_limit", "入账后余额超出上限")

	ErrWrongPIN           = newError(KindInvalidCredential, "wrong_pin", "PIN 错误")
	ErrInvalidCredentials = newError(KindInvalidCredential, "invalid_credentials", "用户名或密码错误")
	ErrUnauthenticated    = newError(KindInvalidCredential, "unauthenticated", "未登录或会话已过期")

	ErrInsufficientBalance = newError(KindInsufficientBalance, "insufficient_balance", "余额不足")
	ErrCodeAlreadyUsed     = newError(KindAlreadyUsed, "code_already_used", "充值码已使用")
	ErrSelfTransfer        = newError(KindSelfTransfer, "self_transfer", "不能向自己转账")

	ErrDuplicateCard = newError(KindDuplicateRegistration, "duplicate_card", "卡片已注册")
	ErrDuplicateUser = newError(KindDuplicateRegistration, "duplicate_user", "用户已存在")
	ErrDuplicateCode = newError(KindDuplicateRegistration, "duplicate_code", "充值码已存在")

	ErrConflict = newError(KindConflict, "conflict", "系统繁忙，请重试")
)

// InsufficientBalanceError 余额不足的详细信息
type InsufficientBalanceError struct {
	Balance   decimal.Decimal
	Amount    decimal.Decimal
	Shortfall decimal.Decimal
}

func newInsufficient(balance, amount decimal.Decimal) *InsufficientBalanceError {
	return &InsufficientBalanceError{
		Balance:   balance,
		Amount:    amount,
		Shortfall: amount.Sub(balance),
	}
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("余额不足: 余额 %s, 需要 %s, 还差 %s",
		e.Balance.StringFixed(2), e.Amount.StringFixed(2), e.Shortfall.StringFixed(2))
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// StoreError 存储层故障
// 对外只显示 "store failure"，原始错误保留给日志
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return "store failure"
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// KindOf 对任意错误分类
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var insufficient *InsufficientBalanceError
	if errors.As(err, &insufficient) {
		return KindInsufficientBalance
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	var store *StoreError
	if errors.As(err, &store) {
		return KindStoreFailure
	}
	return KindUnknown
}

// CodeOf 错误的机器编码
func CodeOf(err error) string {
	var insufficient *InsufficientBalanceError
	if errors.As(err, &insufficient) {
		return ErrInsufficientBalance.Code
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return "store_failure"
}

// Retryable 只有锁冲突可以直接重试
func Retryable(err error) bool {
	return KindOf(err) == KindConflict
}
