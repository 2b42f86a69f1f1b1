package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"cardpay/internal/service"
	"cardpay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Services 处理器依赖的全部服务
type Services struct {
	Transactions *service.TransactionService
	Cards        *service.CardService
	Accounts     *service.AccountService
	History      *service.HistoryService
	Audit        *service.AuditService
	Auth         *service.AuthService
}

// Handler 统一处理器
type Handler struct {
	tx       *service.TransactionService
	cards    *service.CardService
	accounts *service.AccountService
	history  *service.HistoryService
	audit    *service.AuditService
	auth     *service.AuthService
	log      *slog.Logger
}

func NewHandler(svc Services, log *slog.Logger) *Handler {
	return &Handler{
		tx:       svc.Transactions,
		cards:    svc.Cards,
		accounts: svc.Accounts,
		history:  svc.History,
		audit:    svc.Audit,
		auth:     svc.Auth,
		log:      log,
	}
}

// writeError 按错误分类返回 HTTP 状态与业务码
func writeError(c *gin.Context, err error) {
	code := service.CodeOf(err)

	switch service.KindOf(err) {
	case service.KindNotFound:
		response.Fail(c, http.StatusNotFound, response.CodeNotFound, code, err.Error())
	case service.KindInactive:
		response.Fail(c, http.StatusBadRequest, response.CodeInactive, code, err.Error())
	case service.KindInvalidInput:
		response.Fail(c, http.StatusBadRequest, response.CodeParamError, code, err.Error())
	case service.KindInvalidCredential:
		response.Fail(c, http.StatusUnauthorized, response.CodeInvalidCredential, code, err.Error())
	case service.KindInsufficientBalance:
		var ie *service.InsufficientBalanceError
		if errors.As(err, &ie) {
			response.FailWithData(c, http.StatusBadRequest, response.CodeInsufficientBalance, code, err.Error(), gin.H{
				"balance":   ie.Balance.StringFixed(2),
				"amount":    ie.Amount.StringFixed(2),
				"shortfall": ie.Shortfall.StringFixed(2),
			})
			return
		}
		response.Fail(c, http.StatusBadRequest, response.CodeInsufficientBalance, code, err.Error())
	case service.KindAlreadyUsed:
		response.Fail(c, http.StatusBadRequest, response.CodeAlreadyUsed, code, err.Error())
	case service.KindSelfTransfer:
		response.Fail(c, http.StatusBadRequest, response.CodeSelfTransfer, code, err.Error())
	case service.KindDuplicateRegistration:
		response.Fail(c, http.StatusConflict, response.CodeDuplicate, code, err.Error())
	case service.KindConflict:
		response.Retry(c, code, err.Error())
	default:
		response.ServerError(c, "store failure")
	}
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, name+" 参数错误")
		return 0, false
	}
	return id, true
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		response.ParamError(c, "limit 参数错误")
		return 0, false
	}
	return n, true
}

// ============================================================
// 终端设备接口
// ============================================================

type ChargeRequest struct {
	CardUID  string          `json:"card_uid" binding:"required"`
	PIN      string          `json:"pin" binding:"required"`
	Amount   decimal.Decimal `json:"amount"`
	ReaderID int64           `json:"reader_id" binding:"required"`
}

// Charge 刷卡消费
// POST /api/v1/pos/charge
func (h *Handler) Charge(c *gin.Context) {
	var req ChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.tx.Charge(c.Request.Context(), req.CardUID, req.PIN, req.Amount, req.ReaderID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_name":      result.UserName,
		"user_balance":   result.UserBalance.StringFixed(2),
		"reader_balance": result.ReaderBalance.StringFixed(2),
		"movement_no":    result.MovementNo,
	})
}

type CardBalanceRequest struct {
	CardUID string `json:"card_uid" binding:"required"`
}

// CardBalance 按卡号查询余额
// POST /api/v1/pos/balance
func (h *Handler) CardBalance(c *gin.Context) {
	var req CardBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	balance, err := h.accounts.BalanceByCard(c.Request.Context(), req.CardUID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_name": balance.UserName,
		"balance":   balance.Balance.StringFixed(2),
	})
}

// ReaderInfo 终端信息与最近消费
// GET /api/v1/readers/:id
func (h *Handler) ReaderInfo(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	info, err := h.accounts.ReaderInfo(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, info)
}

type RegisterCardRequest struct {
	UID        string `json:"uid" binding:"required"`
	PIN        string `json:"pin" binding:"required"`
	UserID     int64  `json:"user_id"`
	NationalID string `json:"national_id"`
}

// RegisterCard 注册卡片
// POST /api/v1/cards/register
func (h *Handler) RegisterCard(c *gin.Context) {
	var req RegisterCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	card, err := h.cards.Register(c.Request.Context(), req.UID, req.PIN, service.CardOwner{
		UserID:     req.UserID,
		NationalID: req.NationalID,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"uid":     card.UID,
		"user_id": card.UserID,
	})
}

type LookupUserRequest struct {
	NationalID string `json:"national_id" binding:"required"`
}

// LookupUser 按身份证号查询用户
// POST /api/v1/users/lookup, POST /api/v1/users/search
func (h *Handler) LookupUser(c *gin.Context) {
	var req LookupUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	user, err := h.accounts.LookupByNationalID(c.Request.Context(), req.NationalID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, user)
}

// ============================================================
// 认证接口
// ============================================================

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 登录
// POST /api/v1/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if service.KindOf(err) == service.KindInactive {
			response.Fail(c, http.StatusUnauthorized, response.CodeInactive, service.CodeOf(err), err.Error())
			return
		}
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

// Logout 登出
// POST /api/v1/auth/logout
func (h *Handler) Logout(c *gin.Context) {
	if err := h.auth.Logout(c.Request.Context(), bearerToken(c)); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, nil)
}

// ============================================================
// 用户接口（需要登录）
// ============================================================

// Profile 个人资料与名下卡片
// GET /api/v1/me/profile
func (h *Handler) Profile(c *gin.Context) {
	profile, err := h.accounts.Profile(c.Request.Context(), currentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, profile)
}

// History 交易历史
// GET /api/v1/me/history?limit=50
func (h *Handler) History(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}

	movements, err := h.history.UserHistory(c.Request.Context(), currentUserID(c), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"movements": movements})
}

// Activity 助手使用的只读流水视图
// GET /api/v1/me/activity?limit=10
func (h *Handler) Activity(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}

	items, err := h.history.Activity(c.Request.Context(), currentUserID(c), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"activity": items})
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// ChangePassword 修改密码
// POST /api/v1/me/password
func (h *Handler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.auth.ChangePassword(c.Request.Context(), currentUserID(c), req.CurrentPassword, req.NewPassword); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, nil)
}

type TransferRequest struct {
	DestinationNationalID string          `json:"destination_national_id" binding:"required"`
	Amount                decimal.Decimal `json:"amount"`
	Description           string          `json:"description"`
}

// Transfer 转账
// POST /api/v1/transfers
func (h *Handler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.tx.Transfer(c.Request.Context(), currentUserID(c), req.DestinationNationalID, req.Amount, req.Description)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"origin_balance":   result.OriginBalance.StringFixed(2),
		"destination_name": result.DestinationName,
		"amount":           result.Amount.StringFixed(2),
		"reference_no":     result.ReferenceNo,
	})
}

type RechargeRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method"`
}

// Recharge 按金额充值
// POST /api/v1/recharges
func (h *Handler) Recharge(c *gin.Context) {
	var req RechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.tx.RechargeByAmount(c.Request.Context(), currentUserID(c), req.Amount, req.Method)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"balance":     result.Balance.StringFixed(2),
		"movement_no": result.MovementNo,
	})
}

type RechargeByCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

// RechargeByCode 充值码充值
// POST /api/v1/recharges/code
func (h *Handler) RechargeByCode(c *gin.Context) {
	var req RechargeByCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.tx.RechargeByCode(c.Request.Context(), currentUserID(c), req.Code)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"code":        result.Code,
		"amount":      result.Amount.StringFixed(2),
		"balance":     result.Balance.StringFixed(2),
		"movement_no": result.MovementNo,
	})
}

// AvailableCodes 可用充值码面额
// GET /api/v1/recharge-codes/available
func (h *Handler) AvailableCodes(c *gin.Context) {
	rows, err := h.accounts.AvailableDenominations(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"denominations": rows})
}
