package handler

import (
	"errors"
	"strconv"

	"reseller-panel/internal/apperror"
	"reseller-panel/internal/ledger"
	"reseller-panel/internal/license"
	"reseller-panel/internal/logger"
	"reseller-panel/internal/model"
	"reseller-panel/internal/notify"
	"reseller-panel/internal/service"
	"reseller-panel/internal/util"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Handler 汇总各个处理器依赖的服务
type Handler struct {
	DB        *gorm.DB
	Log       *logger.Logger
	Tokens    *util.TokenIssuer
	Registry  *license.Registry
	Gate      *license.Gate
	Activator *license.Activator
	Store     *ledger.Store
	Deposits  *ledger.Deposits
	Sales     *ledger.Sales
	Notifier  *notify.Service
	Audit     *service.AuditService
	SheetSync *service.SheetSyncService

	validate *validator.Validate
}

func (h *Handler) validator() *validator.Validate {
	if h.validate == nil {
		h.validate = validator.New()
	}
	return h.validate
}

// fail 把 apperror 渲染为 {"error": code, ...details}
func (h *Handler) fail(c *fiber.Ctx, err error) error {
	status, body := apperror.Body(err)
	if status >= fiber.StatusInternalServerError {
		h.Log.Error(c.UserContext(), "请求处理失败", err)
	}
	return c.Status(status).JSON(body)
}

// bind 解析并校验请求体
func (h *Handler) bind(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return apperror.Validation("invalid_body")
	}
	if err := h.validator().Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apperror.Validation("invalid_body").With("field", verrs[0].Field())
		}
		return apperror.Validation("invalid_body")
	}
	return nil
}

// settings 每次操作读取一次设置快照
func (h *Handler) settings(c *fiber.Ctx) (model.Settings, error) {
	var s model.Settings
	if err := h.DB.WithContext(c.UserContext()).Limit(1).Find(&s, model.SettingsID).Error; err != nil {
		return s, apperror.Internal(err)
	}
	return s, nil
}

func (h *Handler) logOperation(c *fiber.Ctx, action, target, targetID string, details interface{}) {
	userID, _ := c.Locals("userID").(uint)
	if err := h.Audit.LogOperation(c.UserContext(), userID, action, target, targetID, details); err != nil {
		h.Log.Warn(c.UserContext(), "记录操作日志失败", err)
	}
}

func paramID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, apperror.Validation("invalid_id")
	}
	return uint(id), nil
}

func pageParams(c *fiber.Ctx) (int, int) {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	pageSize, _ := strconv.Atoi(c.Query("page_size", "10"))
	if page < 1 {
		page = 1
	}
	// 限制页面大小
	if pageSize < 1 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}
