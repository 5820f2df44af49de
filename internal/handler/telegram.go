package handler

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"reseller-panel/internal/apperror"
	"reseller-panel/internal/model"

	"github.com/gofiber/fiber/v2"
	"github.com/mymmrac/telego"
)

var (
	approveCommand = regexp.MustCompile(`^/?(approve|setujui)\s+(\S+)`)
	rejectCommand  = regexp.MustCompile(`^/?(reject|tolak)\s+(\S+)`)
)

const unknownCommandReply = "Perintah tidak dikenali. Gunakan /approve <username> atau /reject <username>"

// HandleTelegramWebhook 管理员在 Telegram 中审批注册用户
func (h *Handler) HandleTelegramWebhook(c *fiber.Ctx) error {
	var update telego.Update
	if err := c.BodyParser(&update); err != nil {
		return h.fail(c, apperror.Validation("invalid_body"))
	}
	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	if msg == nil {
		return c.JSON(fiber.Map{"ok": true})
	}

	settings, err := h.settings(c)
	if err != nil {
		return h.fail(c, err)
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	fromID := ""
	if msg.From != nil {
		fromID = strconv.FormatInt(msg.From.ID, 10)
	}
	if !webhookAllowed(settings, chatID, fromID) {
		return h.fail(c, apperror.Forbidden("forbidden"))
	}

	text := strings.ToLower(strings.TrimSpace(msg.Text))
	status := ""
	var m []string
	if m = approveCommand.FindStringSubmatch(text); m != nil {
		status = model.UserStatusActive
	} else if m = rejectCommand.FindStringSubmatch(text); m != nil {
		status = model.UserStatusRejected
	}
	if status == "" {
		h.reply(c, unknownCommandReply, chatID)
		return c.JSON(fiber.Map{"ok": true})
	}

	username := m[2]
	user, err := h.setUserStatus(c, "LOWER(username) = ?", username, status)
	if err != nil {
		reply := "User " + html.EscapeString(username) + " tidak ditemukan"
		if !apperror.HasCode(err, "user_not_found") {
			reply = "Gagal: " + apperror.As(err).Code()
		}
		h.reply(c, reply, chatID)
		return c.JSON(fiber.Map{"ok": false})
	}

	reply := "Akun disetujui: <b>" + html.EscapeString(user.Username) + "</b>"
	if status == model.UserStatusRejected {
		reply = "Akun ditolak: <b>" + html.EscapeString(user.Username) + "</b>"
	}
	h.reply(c, reply, chatID)
	return c.JSON(fiber.Map{"ok": true})
}

// webhookAllowed 未配置会话与管理员时拒绝所有请求
func webhookAllowed(settings model.Settings, chatID, fromID string) bool {
	if settings.TelegramChatID != "" && settings.TelegramChatID == chatID {
		return true
	}
	for _, id := range settings.TelegramAdminIDs {
		if fromID != "" && id == fromID {
			return true
		}
	}
	return false
}

func (h *Handler) reply(c *fiber.Ctx, text, chatID string) {
	if err := h.Notifier.Telegram(c.UserContext(), text, chatID); err != nil {
		h.Log.Warn(c.UserContext(), "Telegram 回复失败", err)
	}
}
