package license

import (
	"context"
	"errors"
	"sync"

	"reseller-panel/internal/model"

	"gorm.io/gorm"
)

// Binder 单行实例绑定记录
type Binder struct {
	mu sync.Mutex
	db *gorm.DB
}

func NewBinder(db *gorm.DB) *Binder {
	return &Binder{db: db}
}

// Get 尚未激活时返回 nil, nil
func (b *Binder) Get(ctx context.Context) (*model.InstanceBinding, error) {
	var binding model.InstanceBinding
	err := b.db.WithContext(ctx).First(&binding, model.InstanceBindingID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &binding, nil
}

// Bind 整体覆盖绑定，不合并旧值
func (b *Binder) Bind(ctx context.Context, binding *model.InstanceBinding) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	binding.ID = model.InstanceBindingID
	return b.db.WithContext(ctx).Save(binding).Error
}
