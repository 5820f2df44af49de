package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"reseller-panel/internal/apperror"
	"reseller-panel/internal/metrics"
	"reseller-panel/internal/model"

	"gorm.io/gorm"
)

// Store 交易集合。所有读改写持有 mu，先加锁再开数据库事务
type Store struct {
	mu      sync.Mutex
	db      *gorm.DB
	now     func() time.Time
	metrics *metrics.Metrics
}

func NewStore(db *gorm.DB, m *metrics.Metrics) *Store {
	return &Store{db: db, now: time.Now, metrics: m}
}

// locked 在 mu 内执行一个数据库事务
func (s *Store) locked(ctx context.Context, fn func(tx *gorm.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.WithContext(ctx).Transaction(fn)
}

// sweep 惰性过期：把该用户已超时的 pending 充值改为 expired
func (s *Store) sweep(tx *gorm.DB, userID uint) error {
	var pending []model.Transaction
	err := tx.Where("user_id = ? AND kind = ? AND status = ?", userID, model.TxKindDeposit, model.TxStatusPending).
		Find(&pending).Error
	if err != nil {
		return err
	}
	now := s.now()
	for i := range pending {
		if pending[i].PastExpiry(now) {
			if err := s.expire(tx, &pending[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) expire(tx *gorm.DB, t *model.Transaction) error {
	now := s.now()
	ok, err := s.transition(tx, t.ID, map[string]any{
		"status":     model.TxStatusExpired,
		"expired_at": now,
	})
	if err != nil {
		return err
	}
	if ok {
		t.Status = model.TxStatusExpired
		t.ExpiredAt = &now
		s.metrics.DepositTransition(model.TxStatusExpired)
	}
	return nil
}

// transition 仅当记录仍为 pending 时更新，返回是否由本次调用完成迁移
func (s *Store) transition(tx *gorm.DB, id string, fields map[string]any) (bool, error) {
	fields["updated_at"] = s.now()
	res := tx.Model(&model.Transaction{}).
		Where("id = ? AND status = ?", id, model.TxStatusPending).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// pending 用户当前未过期的充值，没有时返回 nil
func (s *Store) pending(tx *gorm.DB, userID uint) (*model.Transaction, error) {
	if err := s.sweep(tx, userID); err != nil {
		return nil, err
	}
	var t model.Transaction
	err := tx.Where("user_id = ? AND kind = ? AND status = ?", userID, model.TxKindDeposit, model.TxStatusPending).
		Order("created_at desc").
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// deposit 按内部 id 或外部交易号查找本人的充值记录
func (s *Store) deposit(tx *gorm.DB, userID uint, ref string) (*model.Transaction, error) {
	var t model.Transaction
	err := tx.Where("user_id = ? AND kind = ? AND (id = ? OR external_id = ?)", userID, model.TxKindDeposit, ref, ref).
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("transaction_not_found")
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) reload(tx *gorm.DB, id string) (*model.Transaction, error) {
	var t model.Transaction
	if err := tx.First(&t, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// History 用户交易记录，userID 为 0 时返回全部
func (s *Store) History(ctx context.Context, userID uint, limit int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("created_at desc").Limit(limit)
	if userID != 0 {
		q = q.Where("user_id = ?", userID)
	}
	var list []model.Transaction
	if err := q.Find(&list).Error; err != nil {
		return nil, apperror.Internal(err)
	}
	return list, nil
}

func wrap(err error) error {
	if err == nil || apperror.As(err) != nil {
		return err
	}
	return apperror.Internal(err)
}
