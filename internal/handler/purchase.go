package handler

import (
	"errors"

	"reseller-panel/internal/apperror"
	"reseller-panel/internal/ledger"
	"reseller-panel/internal/middleware"
	"reseller-panel/internal/model"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServerInput struct {
	ID       string                `json:"id"`
	Name     string                `json:"name"`
	Domain   string                `json:"domain" validate:"required"`
	Auth     string                `json:"auth"`
	Prices   map[string]int64      `json:"prices"`
	Types    map[string]bool       `json:"types"`
	Defaults *model.ServerDefaults `json:"defaults"`
}

func (h *Handler) HandlePurchase(c *fiber.Ctx) error {
	input := new(ledger.PurchaseRequest)
	if err := h.bind(c, input); err != nil {
		return h.fail(c, err)
	}

	account, err := h.Sales.Purchase(c.UserContext(), c.Locals("userID").(uint), *input)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"ok":      true,
		"account": account,
	})
}

func (h *Handler) HandleRenew(c *fiber.Ctx) error {
	input := new(ledger.RenewRequest)
	if err := h.bind(c, input); err != nil {
		return h.fail(c, err)
	}

	tx, err := h.Sales.Renew(c.UserContext(), c.Locals("userID").(uint), *input)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"ok":          true,
		"transaction": tx,
	})
}

func (h *Handler) HandleTrial(c *fiber.Ctx) error {
	input := new(ledger.PurchaseRequest)
	if err := h.bind(c, input); err != nil {
		return h.fail(c, err)
	}

	account, err := h.Sales.Trial(c.UserContext(), c.Locals("userID").(uint), *input)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"ok":      true,
		"account": account,
	})
}

func (h *Handler) HandleAccounts(c *fiber.Ctx) error {
	list, err := h.Sales.Accounts(c.UserContext(), c.Locals("userID").(uint))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(list)
}

// HandleListServers 普通用户看不到节点 auth
func (h *Handler) HandleListServers(c *fiber.Ctx) error {
	var servers []model.Server
	if err := h.DB.Order("created_at").Find(&servers).Error; err != nil {
		return h.fail(c, apperror.Internal(err))
	}
	if !middleware.CurrentUser(c).IsAdmin() {
		for i := range servers {
			servers[i].Auth = ""
		}
	}
	return c.JSON(servers)
}

// HandleSaveServer 新建或覆盖节点，未给出的价格与类型按默认值补齐
func (h *Handler) HandleSaveServer(c *fiber.Ctx) error {
	input := new(ServerInput)
	if err := h.bind(c, input); err != nil {
		return h.fail(c, err)
	}

	prices := make(map[string]int64, len(model.AccountTypes))
	types := make(map[string]bool, len(model.AccountTypes))
	for _, kind := range model.AccountTypes {
		prices[kind] = 0
		types[kind] = true
		if p, ok := input.Prices[kind]; ok && p >= 0 {
			prices[kind] = p
		}
		if t, ok := input.Types[kind]; ok {
			types[kind] = t
		}
	}
	defaults := model.ServerDefaults{LimitIP: 1}
	if input.Defaults != nil {
		defaults = *input.Defaults
	}

	server := model.Server{
		ID:       input.ID,
		Name:     input.Name,
		Domain:   input.Domain,
		Auth:     input.Auth,
		Prices:   datatypes.NewJSONType(prices),
		Types:    datatypes.NewJSONType(types),
		Defaults: datatypes.NewJSONType(defaults),
	}
	if server.ID == "" {
		server.ID = uuid.NewString()
	} else {
		var existing model.Server
		err := h.DB.First(&existing, "id = ?", server.ID).Error
		if err == nil {
			server.CreatedAt = existing.CreatedAt
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return h.fail(c, apperror.Internal(err))
		}
	}
	if err := h.DB.Save(&server).Error; err != nil {
		return h.fail(c, apperror.Internal(err))
	}

	h.logOperation(c, "save", "server", server.ID, fiber.Map{"domain": server.Domain})
	return c.JSON(fiber.Map{
		"ok":     true,
		"server": server,
	})
}

func (h *Handler) HandleDeleteServer(c *fiber.Ctx) error {
	id := c.Params("id")
	result := h.DB.Delete(&model.Server{}, "id = ?", id)
	if result.Error != nil {
		return h.fail(c, apperror.Internal(result.Error))
	}
	if result.RowsAffected == 0 {
		return h.fail(c, apperror.NotFound("server_not_found"))
	}

	h.logOperation(c, "delete", "server", id, nil)
	return c.JSON(fiber.Map{
		"ok": true,
	})
}
