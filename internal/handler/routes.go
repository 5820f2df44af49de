package handler

import (
	"reseller-panel/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

// Mount 注册全部 API 路由。limiter 只作用于登录、注册与激活
func (h *Handler) Mount(app *fiber.App, limiter fiber.Handler) {
	if limiter == nil {
		limiter = func(c *fiber.Ctx) error { return c.Next() }
	}
	auth := middleware.Auth(h.DB, h.Tokens)

	api := app.Group("/api")

	// 许可证路由
	api.Get("/license/status", h.HandleLicenseStatus)
	api.Post("/license/activate", limiter, h.HandleLicenseActivate)

	// 用户路由
	api.Post("/register", limiter, h.HandleUserRegister)
	api.Post("/login", limiter, h.HandleUserLogin)
	api.Post("/admin/login", limiter, h.HandleAdminLogin)
	api.Get("/me", auth, h.HandleUserInfo)
	api.Post("/change-password", auth, h.HandleChangePassword)
	api.Get("/login-logs", auth, h.HandleGetLoginLogs)
	api.Get("/logs", auth, h.HandleGetUserLogs)
	api.Get("/notifications", auth, h.HandleNotifications)

	// 充值
	api.Post("/deposit", auth, h.HandleCreateDeposit)
	api.Get("/deposit/status", auth, h.HandleDepositStatus)
	api.Get("/deposit/active", auth, h.HandleActiveDeposit)
	api.Post("/deposit/cancel", auth, h.HandleCancelDeposit)
	api.Get("/transactions", auth, h.HandleTransactions)

	// 购买与账号
	api.Get("/servers", auth, h.HandleListServers)
	api.Post("/purchase", auth, h.HandlePurchase)
	api.Post("/renew", auth, h.HandleRenew)
	api.Post("/trial", auth, h.HandleTrial)
	api.Get("/accounts", auth, h.HandleAccounts)

	api.Post("/telegram/webhook", h.HandleTelegramWebhook)

	// 许可证密钥管理，仅 owner
	keys := api.Group("/admin/license-keys", auth, middleware.OwnerOnly())
	keys.Get("/", h.HandleListLicenseKeys)
	keys.Post("/", h.HandleCreateLicenseKey)
	keys.Post("/sync", h.HandleSyncLicenseKeys)
	keys.Get("/logs", h.HandleActivationLogs)
	keys.Post("/:id/allow-ip", h.HandleAllowLicenseIP)
	keys.Post("/:id/reset", h.HandleResetLicenseKey)
	keys.Post("/:id/activate", h.HandleActivateLicenseKey)
	keys.Post("/:id/revoke", h.HandleRevokeLicenseKey)

	// 管理员专用路由。Group 的中间件按前缀生效，会拦截 /api/admin/login，所以逐条挂载
	adminOnly := middleware.AdminOnly()
	admin := api.Group("/admin")
	admin.Get("/users", auth, adminOnly, h.HandleSearchUsers)
	admin.Post("/users/:id/approve", auth, adminOnly, h.HandleApproveUser)
	admin.Post("/users/:id/reject", auth, adminOnly, h.HandleRejectUser)
	admin.Get("/servers", auth, adminOnly, h.HandleListServers)
	admin.Post("/servers", auth, adminOnly, h.HandleSaveServer)
	admin.Delete("/servers/:id", auth, adminOnly, h.HandleDeleteServer)
	admin.Get("/settings", auth, adminOnly, h.HandleGetSettings)
	admin.Post("/settings", auth, adminOnly, h.HandleSaveSettings)
	admin.Post("/notify", auth, adminOnly, h.HandleAdminNotify)
	admin.Get("/logs", auth, adminOnly, h.HandleGetLogs)
	admin.Get("/login-logs", auth, adminOnly, h.HandleGetAllLoginLogs)
	admin.Get("/statistics", auth, adminOnly, h.HandlePanelStatistics)
}
