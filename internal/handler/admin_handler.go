package handler

import (
	"cardpay/internal/service"
	"cardpay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ============================================================
// 管理接口（X-Admin-Token）
// ============================================================

type CreateUserRequest struct {
	NationalID     string          `json:"national_id" binding:"required"`
	DisplayName    string          `json:"display_name" binding:"required"`
	Email          string          `json:"email"`
	Phone          string          `json:"phone"`
	Password       string          `json:"password"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

// CreateUser 开户
// POST /api/v1/admin/users
func (h *Handler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	user, err := h.accounts.CreateUser(c.Request.Context(), service.NewUser{
		NationalID:     req.NationalID,
		DisplayName:    req.DisplayName,
		Email:          req.Email,
		Phone:          req.Phone,
		Password:       req.Password,
		OpeningBalance: req.OpeningBalance,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, user)
}

type CreateReaderRequest struct {
	DisplayName    string          `json:"display_name" binding:"required"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

// CreateReader 新建终端
// POST /api/v1/admin/readers
func (h *Handler) CreateReader(c *gin.Context) {
	var req CreateReaderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	reader, err := h.accounts.CreateReader(c.Request.Context(), req.DisplayName, req.OpeningBalance)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, reader)
}

type IssueCodeRequest struct {
	Code   string          `json:"code" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
}

// IssueCode 发行充值码
// POST /api/v1/admin/recharge-codes
func (h *Handler) IssueCode(c *gin.Context) {
	var req IssueCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	rc, err := h.accounts.IssueCode(c.Request.Context(), req.Code, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, rc)
}

type SetActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

func bindActive(c *gin.Context) (bool, bool) {
	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return false, false
	}
	return *req.Active, true
}

// SetUserActive 启用/停用用户
// POST /api/v1/admin/users/:id/active
func (h *Handler) SetUserActive(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	active, ok := bindActive(c)
	if !ok {
		return
	}
	if err := h.accounts.SetUserActive(c.Request.Context(), id, active); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"id": id, "active": active})
}

// SetReaderActive 启用/停用终端
// POST /api/v1/admin/readers/:id/active
func (h *Handler) SetReaderActive(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	active, ok := bindActive(c)
	if !ok {
		return
	}
	if err := h.accounts.SetReaderActive(c.Request.Context(), id, active); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"id": id, "active": active})
}

// SetCardActive 启用/停用卡片
// POST /api/v1/admin/cards/:uid/active
func (h *Handler) SetCardActive(c *gin.Context) {
	uid := c.Param("uid")
	active, ok := bindActive(c)
	if !ok {
		return
	}
	if err := h.cards.SetActive(c.Request.Context(), uid, active); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"uid": uid, "active": active})
}

// AuditUser 用户对账
// GET /api/v1/admin/audit/users/:id
func (h *Handler) AuditUser(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	report, err := h.audit.AuditUser(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, report)
}

// AuditReader 终端对账
// GET /api/v1/admin/audit/readers/:id
func (h *Handler) AuditReader(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	report, err := h.audit.AuditReader(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, report)
}
