package ledger

import (
	"context"
	"errors"

	"reseller-panel/internal/apperror"
	"reseller-panel/internal/metrics"
	"reseller-panel/internal/model"

	"gorm.io/gorm"
)

// Balance 唯一允许修改用户余额的地方。
// 调用方传入自己的事务，使余额变动与交易记录一起提交
type Balance struct {
	db      *gorm.DB
	metrics *metrics.Metrics
}

func NewBalance(db *gorm.DB, m *metrics.Metrics) *Balance {
	return &Balance{db: db, metrics: m}
}

func (b *Balance) Available(ctx context.Context, userID uint) (int64, error) {
	var user model.User
	err := b.db.WithContext(ctx).Select("id", "balance").First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, apperror.NotFound("user_not_found")
	}
	if err != nil {
		return 0, apperror.Internal(err)
	}
	return user.Balance, nil
}

func (b *Balance) Credit(tx *gorm.DB, userID uint, amount int64) error {
	if amount < 0 {
		return apperror.Validation("invalid_amount")
	}
	res := tx.Model(&model.User{}).Where("id = ?", userID).
		Update("balance", gorm.Expr("balance + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperror.NotFound("user_not_found")
	}
	b.metrics.Credited(amount)
	return nil
}

// Debit 检查与扣减在同一条语句内完成，余额不会变为负数
func (b *Balance) Debit(tx *gorm.DB, userID uint, amount int64) error {
	if amount < 0 {
		return apperror.Validation("invalid_amount")
	}
	res := tx.Model(&model.User{}).Where("id = ? AND balance >= ?", userID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := tx.Model(&model.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return apperror.NotFound("user_not_found")
		}
		return apperror.Conflict("insufficient_balance")
	}
	b.metrics.Debited(amount)
	return nil
}
