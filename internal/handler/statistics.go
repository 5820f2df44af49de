package handler

import (
	"time"

	"reseller-panel/internal/apperror"
	"reseller-panel/internal/model"

	"github.com/gofiber/fiber/v2"
)

type groupCount struct {
	Status string
	Count  int64
}

// HandlePanelStatistics 处理后台统计信息请求，激活统计按日期区间过滤
func (h *Handler) HandlePanelStatistics(c *fiber.Ctx) error {
	// 解析日期
	start, err := parseDay(c.Query("start_date"), time.Now().AddDate(0, 0, -30))
	if err != nil {
		return h.fail(c, apperror.Validation("invalid_date").With("field", "start_date"))
	}
	end, err := parseDay(c.Query("end_date"), time.Now())
	if err != nil {
		return h.fail(c, apperror.Validation("invalid_date").With("field", "end_date"))
	}

	db := h.DB.WithContext(c.UserContext())
	stats := &model.PanelStatistics{
		KeysByStatus:     make(map[string]int64),
		DepositsByStatus: make(map[string]int64),
	}

	// 按状态统计许可证
	var keyStats []groupCount
	if err := db.Model(&model.LicenseKey{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&keyStats).Error; err != nil {
		return h.fail(c, apperror.Internal(err))
	}
	for _, ks := range keyStats {
		stats.KeysByStatus[ks.Status] = ks.Count
		stats.TotalKeys += ks.Count
	}

	// 用户统计
	if err := db.Model(&model.User{}).Count(&stats.TotalUsers).Error; err != nil {
		return h.fail(c, apperror.Internal(err))
	}
	if err := db.Model(&model.User{}).Where("status = ?", model.UserStatusPending).Count(&stats.PendingUsers).Error; err != nil {
		return h.fail(c, apperror.Internal(err))
	}

	// 按状态统计充值
	var depositStats []groupCount
	if err := db.Model(&model.Transaction{}).
		Select("status, count(*) as count").
		Where("kind = ?", model.TxKindDeposit).
		Group("status").
		Scan(&depositStats).Error; err != nil {
		return h.fail(c, apperror.Internal(err))
	}
	for _, ds := range depositStats {
		stats.DepositsByStatus[ds.Status] = ds.Count
	}

	// 入账总额含赠送
	if err := db.Model(&model.Transaction{}).
		Select("COALESCE(SUM(amount + bonus_amount), 0)").
		Where("kind = ? AND status = ?", model.TxKindDeposit, model.TxStatusSuccess).
		Scan(&stats.CreditedTotal).Error; err != nil {
		return h.fail(c, apperror.Internal(err))
	}
	if err := db.Model(&model.Transaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("kind IN ? AND status = ?", []string{model.TxKindPurchase, model.TxKindRenew}, model.TxStatusSuccess).
		Scan(&stats.SpentTotal).Error; err != nil {
		return h.fail(c, apperror.Internal(err))
	}

	// 统计激活次数
	activations := db.Model(&model.ActivationLog{}).Where("created_at BETWEEN ? AND ?", start, end)
	if err := activations.Count(&stats.TotalActivations).Error; err != nil {
		return h.fail(c, apperror.Internal(err))
	}
	if err := db.Model(&model.ActivationLog{}).
		Where("created_at BETWEEN ? AND ? AND outcome <> ?", start, end, "ok").
		Count(&stats.FailedActivation).Error; err != nil {
		return h.fail(c, apperror.Internal(err))
	}

	return c.JSON(fiber.Map{
		"stats":        stats,
		"success_rate": stats.GetSuccessRate(),
	})
}

func parseDay(raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	return time.Parse("2006-01-02", raw)
}
