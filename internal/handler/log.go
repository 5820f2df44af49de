package handler

import (
	"reseller-panel/internal/apperror"

	"github.com/gofiber/fiber/v2"
)

// HandleGetLogs 管理员查看操作日志，可按 user_id 过滤
func (h *Handler) HandleGetLogs(c *fiber.Ctx) error {
	page, pageSize := pageParams(c)
	userID := uint(c.QueryInt("user_id", 0))

	logs, total, err := h.Audit.GetOperationLogs(c.UserContext(), userID, page, pageSize)
	if err != nil {
		return h.fail(c, apperror.Internal(err))
	}

	return c.JSON(fiber.Map{
		"logs":  logs,
		"total": total,
		"page":  page,
	})
}

func (h *Handler) HandleGetUserLogs(c *fiber.Ctx) error {
	page, pageSize := pageParams(c)

	// 从上下文获取用户ID
	userID := c.Locals("userID").(uint)

	logs, total, err := h.Audit.GetOperationLogs(c.UserContext(), userID, page, pageSize)
	if err != nil {
		return h.fail(c, apperror.Internal(err))
	}

	return c.JSON(fiber.Map{
		"logs":  logs,
		"total": total,
		"page":  page,
	})
}

func (h *Handler) HandleGetAllLoginLogs(c *fiber.Ctx) error {
	page, pageSize := pageParams(c)
	userID := uint(c.QueryInt("user_id", 0))

	logs, total, err := h.Audit.GetLoginLogs(c.UserContext(), userID, page, pageSize)
	if err != nil {
		return h.fail(c, apperror.Internal(err))
	}

	return c.JSON(fiber.Map{
		"logs":  logs,
		"total": total,
		"page":  page,
	})
}
