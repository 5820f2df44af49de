package handler

import (
	"reseller-panel/internal/apperror"
	"reseller-panel/internal/model"

	"github.com/gofiber/fiber/v2"
	"gorm.io/datatypes"
)

// SettingsInput 未给出的字段保持原值
type SettingsInput struct {
	APIKey            *string   `json:"apikey"`
	TopupBonusPercent *int64    `json:"topup_bonus_percent" validate:"omitempty,gte=0,lte=100"`
	TelegramBotToken  *string   `json:"telegram_bot_token"`
	TelegramChatID    *string   `json:"telegram_chat_id"`
	TelegramAdminIDs  *[]string `json:"telegram_admin_ids"`
}

type NotifyInput struct {
	Message string `json:"message" validate:"required"`
	UserID  *uint  `json:"user_id"`
}

func (h *Handler) HandleGetSettings(c *fiber.Ctx) error {
	settings, err := h.settings(c)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(settings)
}

func (h *Handler) HandleSaveSettings(c *fiber.Ctx) error {
	input := new(SettingsInput)
	if err := h.bind(c, input); err != nil {
		return h.fail(c, err)
	}
	settings, err := h.settings(c)
	if err != nil {
		return h.fail(c, err)
	}

	// 合并字段
	settings.ID = model.SettingsID
	if input.APIKey != nil {
		settings.APIKey = *input.APIKey
	}
	if input.TopupBonusPercent != nil {
		settings.TopupBonusPercent = *input.TopupBonusPercent
	}
	if input.TelegramBotToken != nil {
		settings.TelegramBotToken = *input.TelegramBotToken
	}
	if input.TelegramChatID != nil {
		settings.TelegramChatID = *input.TelegramChatID
	}
	if input.TelegramAdminIDs != nil {
		settings.TelegramAdminIDs = datatypes.JSONSlice[string](*input.TelegramAdminIDs)
	}
	if err := h.DB.WithContext(c.UserContext()).Save(&settings).Error; err != nil {
		return h.fail(c, apperror.Internal(err))
	}

	h.logOperation(c, "update", "settings", "", nil)
	return c.JSON(fiber.Map{
		"ok":       true,
		"settings": settings,
	})
}

// HandleAdminNotify 写入站内通知并推送到 Telegram
func (h *Handler) HandleAdminNotify(c *fiber.Ctx) error {
	input := new(NotifyInput)
	if err := h.bind(c, input); err != nil {
		return h.fail(c, err)
	}

	if err := h.Notifier.Broadcast(c.UserContext(), input.UserID, input.Message); err != nil {
		return h.fail(c, apperror.Internal(err))
	}
	if input.UserID == nil {
		if err := h.Notifier.Telegram(c.UserContext(), input.Message, ""); err != nil {
			h.Log.Warn(c.UserContext(), "Telegram 推送失败", err)
		}
	}

	h.logOperation(c, "notify", "notification", "", fiber.Map{"message": input.Message})
	return c.JSON(fiber.Map{
		"ok": true,
	})
}

func (h *Handler) HandleNotifications(c *fiber.Ctx) error {
	list, err := h.Notifier.Feed(c.UserContext(), c.Locals("userID").(uint), c.QueryInt("limit", 50))
	if err != nil {
		return h.fail(c, apperror.Internal(err))
	}
	return c.JSON(list)
}
