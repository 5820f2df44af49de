package handler

import (
	"reseller-panel/internal/apperror"
	"reseller-panel/internal/license"
	"reseller-panel/internal/model"
	"reseller-panel/internal/util"

	"github.com/gofiber/fiber/v2"
)

type ActivateInput struct {
	Key string `json:"key"`
	IP  string `json:"ip"`
}

type AllowIPInput struct {
	IP string `json:"ip" validate:"required,ip"`
}

// HandleLicenseStatus 返回当前实例的授权状态
func (h *Handler) HandleLicenseStatus(c *fiber.Ctx) error {
	verdict, err := h.Gate.Evaluate(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(verdict)
}

func (h *Handler) HandleLicenseActivate(c *fiber.Ctx) error {
	input := new(ActivateInput)
	if err := c.BodyParser(input); err != nil {
		return h.fail(c, apperror.Validation("invalid_body"))
	}

	ip := util.ClientIP(input.IP, c.IP())
	info, err := h.Activator.Activate(c.UserContext(), license.ActivateRequest{
		Key:       input.Key,
		IP:        ip,
		UserAgent: c.Get(fiber.HeaderUserAgent),
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"ok":      true,
		"license": info,
	})
}

// HandleListLicenseKeys 仅 owner
func (h *Handler) HandleListLicenseKeys(c *fiber.Ctx) error {
	keys, err := h.Registry.List(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"keys": keys,
	})
}

func (h *Handler) HandleCreateLicenseKey(c *fiber.Ctx) error {
	input := new(model.LicenseKeyInput)
	if err := h.bind(c, input); err != nil {
		return h.fail(c, err)
	}

	key, err := h.Registry.Create(c.UserContext(), *input)
	if err != nil {
		return h.fail(c, err)
	}
	h.logOperation(c, "create", "license_key", key.Key, input)
	return c.Status(fiber.StatusCreated).JSON(key)
}

func (h *Handler) HandleAllowLicenseIP(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return h.fail(c, err)
	}
	input := new(AllowIPInput)
	if err := h.bind(c, input); err != nil {
		return h.fail(c, err)
	}

	key, err := h.Registry.AllowIP(c.UserContext(), id, input.IP)
	if err != nil {
		return h.fail(c, err)
	}
	h.logOperation(c, "allow_ip", "license_key", key.Key, input)
	return c.JSON(key)
}

func (h *Handler) HandleResetLicenseKey(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return h.fail(c, err)
	}
	key, err := h.Registry.Reset(c.UserContext(), id)
	if err != nil {
		return h.fail(c, err)
	}
	h.logOperation(c, "reset", "license_key", key.Key, nil)
	return c.JSON(key)
}

func (h *Handler) HandleActivateLicenseKey(c *fiber.Ctx) error {
	return h.setKeyStatus(c, model.KeyStatusActive)
}

func (h *Handler) HandleRevokeLicenseKey(c *fiber.Ctx) error {
	return h.setKeyStatus(c, model.KeyStatusRevoked)
}

func (h *Handler) setKeyStatus(c *fiber.Ctx, status string) error {
	id, err := paramID(c)
	if err != nil {
		return h.fail(c, err)
	}
	key, err := h.Registry.SetStatus(c.UserContext(), id, status)
	if err != nil {
		return h.fail(c, err)
	}
	h.logOperation(c, status, "license_key", key.Key, nil)
	return c.JSON(key)
}

// HandleSyncLicenseKeys 把全部密钥重写到 Google Sheet
func (h *Handler) HandleSyncLicenseKeys(c *fiber.Ctx) error {
	if h.SheetSync == nil {
		return h.fail(c, apperror.Validation("sheet_sync_disabled"))
	}
	keys, err := h.Registry.List(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.SheetSync.BatchSyncKeys(c.UserContext(), keys); err != nil {
		return h.fail(c, apperror.Dependency("sheet_sync_error", err).With("details", err.Error()))
	}
	return c.JSON(fiber.Map{
		"ok":     true,
		"synced": len(keys),
	})
}

func (h *Handler) HandleActivationLogs(c *fiber.Ctx) error {
	logs, err := h.Audit.GetActivationLogs(c.UserContext(), c.Query("key"), c.QueryInt("limit", 100))
	if err != nil {
		return h.fail(c, apperror.Internal(err))
	}
	return c.JSON(fiber.Map{
		"logs": logs,
	})
}
