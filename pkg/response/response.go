package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess      = 0
	CodeParamError   = 400
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeNotFound     = 404
	CodeConflict     = 409
	CodeServerError  = 500
)

// 业务错误码
const (
	CodeInactive            = 1001
	CodeInsufficientBalance = 1002
	CodeAlreadyUsed         = 1003
	CodeSelfTransfer        = 1004
	CodeDuplicate           = 1005
	CodeInvalidCredential   = 1006
)

type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Error     string      `json:"error,omitempty"`
	Retryable bool        `json:"retryable,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Fail 以指定 HTTP 状态返回错误，errCode 为机器可读的错误标识
func Fail(c *gin.Context, status, code int, errCode, message string) {
	c.JSON(status, Response{
		Code:    code,
		Message: message,
		Error:   errCode,
	})
}

// FailWithData 错误附带详细信息，例如余额不足时的差额
func FailWithData(c *gin.Context, status, code int, errCode, message string, data interface{}) {
	c.JSON(status, Response{
		Code:    code,
		Message: message,
		Error:   errCode,
		Data:    data,
	})
}

// Retry 锁冲突，调用方可以重试
func Retry(c *gin.Context, errCode, message string) {
	c.JSON(http.StatusConflict, Response{
		Code:      CodeConflict,
		Message:   message,
		Error:     errCode,
		Retryable: true,
	})
}

func ParamError(c *gin.Context, message string) {
	Fail(c, http.StatusBadRequest, CodeParamError, "invalid_request", message)
}

func Unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
		Code:    CodeUnauthorized,
		Message: message,
		Error:   "unauthenticated",
	})
}

func Forbidden(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusForbidden, Response{
		Code:    CodeForbidden,
		Message: message,
		Error:   "forbidden",
	})
}

func ServerError(c *gin.Context, message string) {
	Fail(c, http.StatusInternalServerError, CodeServerError, "store_failure", message)
}
