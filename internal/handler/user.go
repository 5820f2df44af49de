package handler

import (
	"errors"
	"strings"
	"time"

	"reseller-panel/internal/apperror"
	"reseller-panel/internal/middleware"
	"reseller-panel/internal/model"
	"reseller-panel/internal/notify"
	"reseller-panel/internal/util"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type RegisterInput struct {
	Username string `json:"username" validate:"required,min=3,max=32,alphanum"`
	Password string `json:"password" validate:"required,min=6"`
}

type LoginInput struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type ChangePasswordInput struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6"`
}

func (h *Handler) HandleUserRegister(c *fiber.Ctx) error {
	input := new(RegisterInput)
	if err := h.bind(c, input); err != nil {
		return h.fail(c, err)
	}

	var count int64
	if err := h.DB.Model(&model.User{}).Where("LOWER(username) = ?", strings.ToLower(input.Username)).Count(&count).Error; err != nil {
		return h.fail(c, apperror.Internal(err))
	}
	if count > 0 {
		return h.fail(c, apperror.Conflict("username_taken"))
	}

	// 密码加密
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return h.fail(c, apperror.Internal(err))
	}

	user := &model.User{
		Username: input.Username,
		Password: string(hashedPassword),
		Token:    uuid.NewString(),
		Role:     model.RoleUser,
		Status:   model.UserStatusPending,
	}
	if err := h.DB.Create(user).Error; err != nil {
		return h.fail(c, apperror.Conflict("username_taken"))
	}

	h.Notifier.Publish(c.UserContext(), notify.Event{Kind: notify.EventRegistration, UserID: user.ID})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"registered": true,
		"status":     user.Status,
	})
}

func (h *Handler) HandleUserLogin(c *fiber.Ctx) error {
	return h.login(c, false)
}

// HandleAdminLogin 只接受 admin 与 owner
func (h *Handler) HandleAdminLogin(c *fiber.Ctx) error {
	return h.login(c, true)
}

func (h *Handler) login(c *fiber.Ctx, adminOnly bool) error {
	input := new(LoginInput)
	if err := h.bind(c, input); err != nil {
		return h.fail(c, err)
	}

	var user model.User
	err := h.DB.Where("username = ?", input.Username).First(&user).Error
	if err != nil || bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(input.Password)) != nil {
		if err == nil {
			h.recordLogin(c, user.ID, "failed")
		}
		return h.fail(c, apperror.Unauthorized("invalid_credentials"))
	}
	if adminOnly && !user.IsAdmin() {
		h.recordLogin(c, user.ID, "failed")
		return h.fail(c, apperror.Forbidden("forbidden"))
	}
	if user.Status != model.UserStatusActive {
		h.recordLogin(c, user.ID, "pending_approval")
		return h.fail(c, apperror.Forbidden("pending_approval").With("status", user.Status))
	}

	// 记录登录日志
	h.recordLogin(c, user.ID, "success")
	// 更新用户最后登录时间
	h.DB.Model(&user).Update("last_login", time.Now())

	// 生成JWT令牌
	token, err := h.Tokens.GenerateToken(user.ID, user.Token)
	if err != nil {
		return h.fail(c, apperror.Internal(err))
	}

	return c.JSON(fiber.Map{
		"token":    token,
		"username": user.Username,
		"is_admin": user.IsAdmin(),
		"role":     user.Role,
	})
}

func (h *Handler) recordLogin(c *fiber.Ctx, userID uint, status string) {
	ip := util.ClientIP("", c.IP())
	if err := h.Audit.LogLogin(c.UserContext(), userID, ip, c.Get(fiber.HeaderUserAgent), status); err != nil {
		h.Log.Warn(c.UserContext(), "记录登录日志失败", err)
	}
}

func (h *Handler) HandleUserInfo(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	return c.JSON(fiber.Map{
		"id":         user.ID,
		"username":   user.Username,
		"balance":    user.Balance,
		"role":       user.Role,
		"is_admin":   user.IsAdmin(),
		"last_login": user.LastLogin,
	})
}

// HandleChangePassword 修改密码同时轮换会话密钥，旧令牌全部失效
func (h *Handler) HandleChangePassword(c *fiber.Ctx) error {
	input := new(ChangePasswordInput)
	if err := h.bind(c, input); err != nil {
		return h.fail(c, err)
	}

	user := middleware.CurrentUser(c)

	// 验证当前密码
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(input.CurrentPassword)); err != nil {
		return h.fail(c, apperror.Unauthorized("invalid_credentials"))
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return h.fail(c, apperror.Internal(err))
	}

	sessionKey := uuid.NewString()
	err = h.DB.Model(&model.User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
		"password": string(hashedPassword),
		"token":    sessionKey,
	}).Error
	if err != nil {
		return h.fail(c, apperror.Internal(err))
	}

	token, err := h.Tokens.GenerateToken(user.ID, sessionKey)
	if err != nil {
		return h.fail(c, apperror.Internal(err))
	}
	return c.JSON(fiber.Map{
		"ok":    true,
		"token": token,
	})
}

func (h *Handler) HandleGetLoginLogs(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	page, pageSize := pageParams(c)

	logs, total, err := h.Audit.GetLoginLogs(c.UserContext(), userID, page, pageSize)
	if err != nil {
		return h.fail(c, apperror.Internal(err))
	}

	return c.JSON(fiber.Map{
		"logs":  logs,
		"total": total,
		"page":  page,
		"size":  pageSize,
	})
}

// HandleSearchUsers 管理员按状态筛选用户
func (h *Handler) HandleSearchUsers(c *fiber.Ctx) error {
	db := h.DB.Model(&model.User{})

	// 状态筛选
	if status := c.Query("status"); status != "" {
		db = db.Where("status = ?", status)
	}
	// 关键词搜索
	if keyword := c.Query("keyword"); keyword != "" {
		db = db.Where("username LIKE ?", "%"+keyword+"%")
	}

	var users []model.User
	if err := db.Order("id").Find(&users).Error; err != nil {
		return h.fail(c, apperror.Internal(err))
	}

	list := make([]fiber.Map, 0, len(users))
	for _, u := range users {
		list = append(list, fiber.Map{
			"id":       u.ID,
			"username": u.Username,
			"is_admin": u.IsAdmin(),
			"role":     u.Role,
			"status":   u.Status,
			"balance":  u.Balance,
		})
	}
	return c.JSON(list)
}

func (h *Handler) HandleApproveUser(c *fiber.Ctx) error {
	return h.handleUserStatus(c, model.UserStatusActive)
}

func (h *Handler) HandleRejectUser(c *fiber.Ctx) error {
	return h.handleUserStatus(c, model.UserStatusRejected)
}

func (h *Handler) handleUserStatus(c *fiber.Ctx, status string) error {
	id, err := paramID(c)
	if err != nil {
		return h.fail(c, err)
	}
	user, err := h.setUserStatus(c, "id = ?", id, status)
	if err != nil {
		return h.fail(c, err)
	}
	h.logOperation(c, status, "user", user.Username, nil)
	return c.JSON(fiber.Map{
		"ok": true,
	})
}

// setUserStatus 审批结果写入站内通知
func (h *Handler) setUserStatus(c *fiber.Ctx, query string, arg interface{}, status string) (*model.User, error) {
	var user model.User
	err := h.DB.Where(query, arg).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("user_not_found")
	}
	if err != nil {
		return nil, apperror.Internal(err)
	}
	if user.IsOwner() {
		return nil, apperror.Forbidden("forbidden")
	}
	if err := h.DB.Model(&user).Update("status", status).Error; err != nil {
		return nil, apperror.Internal(err)
	}

	message := "Akun disetujui: " + user.Username
	if status == model.UserStatusRejected {
		message = "Akun ditolak: " + user.Username
	}
	if err := h.Notifier.Broadcast(c.UserContext(), &user.ID, message); err != nil {
		h.Log.Warn(c.UserContext(), "写入站内通知失败", err)
	}
	return &user, nil
}
