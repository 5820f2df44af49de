package handler

import (
	"reseller-panel/internal/apperror"
	"reseller-panel/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type DepositInput struct {
	Amount int64 `json:"amount"`
}

type CancelDepositInput struct {
	TransactionID string `json:"transaction_id" validate:"required"`
}

func (h *Handler) HandleCreateDeposit(c *fiber.Ctx) error {
	input := new(DepositInput)
	if err := c.BodyParser(input); err != nil {
		return h.fail(c, apperror.Validation("invalid_amount"))
	}
	settings, err := h.settings(c)
	if err != nil {
		return h.fail(c, err)
	}

	userID := c.Locals("userID").(uint)
	tx, deposit, err := h.Deposits.Create(c.UserContext(), userID, input.Amount, settings)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"transaction": tx,
		"deposit":     deposit,
	})
}

// HandleDepositStatus 轮询支付状态，transaction_id 可为本地编号或外部编号
func (h *Handler) HandleDepositStatus(c *fiber.Ctx) error {
	ref := c.Query("transaction_id")
	if ref == "" {
		return h.fail(c, apperror.Validation("transaction_id_required"))
	}
	settings, err := h.settings(c)
	if err != nil {
		return h.fail(c, err)
	}

	result, err := h.Deposits.Poll(c.UserContext(), c.Locals("userID").(uint), ref, settings)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(result)
}

func (h *Handler) HandleActiveDeposit(c *fiber.Ctx) error {
	tx, err := h.Deposits.Active(c.UserContext(), c.Locals("userID").(uint))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"transaction": tx,
	})
}

func (h *Handler) HandleCancelDeposit(c *fiber.Ctx) error {
	input := new(CancelDepositInput)
	if err := h.bind(c, input); err != nil {
		return h.fail(c, err)
	}

	tx, err := h.Deposits.Cancel(c.UserContext(), c.Locals("userID").(uint), input.TransactionID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"ok":          true,
		"transaction": tx,
	})
}

// HandleTransactions 管理员可查看全部交易
func (h *Handler) HandleTransactions(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	userID := user.ID
	if user.IsAdmin() && c.Query("all") == "1" {
		userID = 0
	}

	list, err := h.Store.History(c.UserContext(), userID, c.QueryInt("limit", 100))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(list)
}
