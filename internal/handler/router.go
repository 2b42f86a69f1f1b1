package handler

import (
	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, adminToken string) *gin.Engine {
	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware(h.log))
	r.Use(LoggerMiddleware(h.log))
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		// 终端设备
		api.POST("/pos/charge", h.Charge)
		api.POST("/pos/balance", h.CardBalance)
		api.GET("/readers/:id", h.ReaderInfo)
		api.POST("/cards/register", h.RegisterCard)
		api.POST("/users/lookup", h.LookupUser)

		// 认证
		api.POST("/auth/login", h.Login)
		api.POST("/auth/logout", h.Logout)

		authed := api.Group("")
		authed.Use(AuthMiddleware(h.auth))
		{
			authed.GET("/me/profile", h.Profile)
			authed.GET("/me/history", h.History)
			authed.GET("/me/activity", h.Activity)
			authed.POST("/me/password", h.ChangePassword)
			authed.POST("/transfers", h.Transfer)
			authed.POST("/recharges", h.Recharge)
			authed.POST("/recharges/code", h.RechargeByCode)
			authed.GET("/recharge-codes/available", h.AvailableCodes)
			authed.POST("/users/search", h.LookupUser)
		}

		admin := api.Group("/admin")
		admin.Use(AdminMiddleware(adminToken))
		{
			admin.POST("/users", h.CreateUser)
			admin.POST("/readers", h.CreateReader)
			admin.POST("/recharge-codes", h.IssueCode)
			admin.POST("/users/:id/active", h.SetUserActive)
			admin.POST("/readers/:id/active", h.SetReaderActive)
			admin.POST("/cards/:uid/active", h.SetCardActive)
			admin.GET("/audit/users/:id", h.AuditUser)
			admin.GET("/audit/readers/:id", h.AuditReader)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
