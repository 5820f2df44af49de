package license

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"reseller-panel/internal/apperror"
	"reseller-panel/internal/model"

	"gorm.io/gorm"
)

const KeyLength = 11

// KeySyncer 在密钥变更后被调用，失败不影响主流程
type KeySyncer interface {
	SyncKey(key *model.LicenseKey)
}

// Registry 许可证密钥集合，所有读改写在 mu 内串行
type Registry struct {
	mu     sync.Mutex
	db     *gorm.DB
	now    func() time.Time
	syncer KeySyncer
}

func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{db: db, now: time.Now}
}

func (r *Registry) SetSyncer(s KeySyncer) {
	r.syncer = s
}

func (r *Registry) notify(key *model.LicenseKey) {
	if r.syncer != nil {
		go r.syncer.SyncKey(key)
	}
}

// Find 按密钥精确查找，不存在返回 key_not_found
func (r *Registry) Find(ctx context.Context, key string) (*model.LicenseKey, error) {
	return findKey(r.db.WithContext(ctx), "key = ?", key)
}

func (r *Registry) Get(ctx context.Context, id uint) (*model.LicenseKey, error) {
	return findKey(r.db.WithContext(ctx), "id = ?", id)
}

func findKey(db *gorm.DB, query string, arg any) (*model.LicenseKey, error) {
	var rec model.LicenseKey
	if err := db.Where(query, arg).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("key_not_found")
		}
		return nil, apperror.Internal(err)
	}
	return &rec, nil
}

func (r *Registry) List(ctx context.Context) ([]model.LicenseKey, error) {
	var keys []model.LicenseKey
	if err := r.db.WithContext(ctx).Order("id desc").Find(&keys).Error; err != nil {
		return nil, apperror.Internal(err)
	}
	return keys, nil
}

// Create 生成唯一的 11 位数字密钥
func (r *Registry) Create(ctx context.Context, input model.LicenseKeyInput) (*model.LicenseKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	allowed := uniqueIPs(input.AllowedIPs)
	rec := &model.LicenseKey{
		Label:      input.Label,
		Status:     model.KeyStatusActive,
		MaxIPs:     input.MaxIPs,
		AllowedIPs: allowed,
	}
	if rec.MaxIPs < 1 {
		rec.MaxIPs = 1
	}
	if len(allowed) > rec.IPQuota() {
		return nil, apperror.Conflict("ip_limit_reached").With("allowed_ips", allowed)
	}
	if input.DurationDays > 0 {
		rec.ExpiresAt = r.now().AddDate(0, 0, input.DurationDays).UTC().Format(time.RFC3339)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for attempt := 0; attempt < 10; attempt++ {
			key, err := generateKey()
			if err != nil {
				return err
			}
			var count int64
			if err := tx.Model(&model.LicenseKey{}).Where("key = ?", key).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				rec.Key = key
				return tx.Create(rec).Error
			}
		}
		return fmt.Errorf("生成唯一密钥失败")
	})
	if err != nil {
		return nil, apperror.Internal(err)
	}
	r.notify(rec)
	return rec, nil
}

// AllowIP 管理员手动加入 IP，同样受配额限制
func (r *Registry) AllowIP(ctx context.Context, id uint, ip string) (*model.LicenseKey, error) {
	if ip == "" {
		return nil, apperror.Validation("ip_required")
	}
	return r.update(ctx, id, func(rec *model.LicenseKey) error {
		return admitIP(rec, ip)
	})
}

// Reset 清空 IP 白名单
func (r *Registry) Reset(ctx context.Context, id uint) (*model.LicenseKey, error) {
	return r.update(ctx, id, func(rec *model.LicenseKey) error {
		rec.AllowedIPs = []string{}
		return nil
	})
}

func (r *Registry) SetStatus(ctx context.Context, id uint, status string) (*model.LicenseKey, error) {
	switch status {
	case model.KeyStatusActive, model.KeyStatusRevoked:
	default:
		return nil, apperror.Validation("invalid_status")
	}
	return r.update(ctx, id, func(rec *model.LicenseKey) error {
		rec.Status = status
		return nil
	})
}

func (r *Registry) update(ctx context.Context, id uint, fn func(*model.LicenseKey) error) (*model.LicenseKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rec *model.LicenseKey
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		rec, err = findKey(tx, "id = ?", id)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		return tx.Save(rec).Error
	})
	if err != nil {
		if apperror.As(err) != nil {
			return nil, err
		}
		return nil, apperror.Internal(err)
	}
	r.notify(rec)
	return rec, nil
}

// admitIP 已在白名单内直接通过，否则检查配额后追加
func admitIP(rec *model.LicenseKey, ip string) error {
	if rec.HasIP(ip) {
		return nil
	}
	if len(rec.AllowedIPs) >= rec.IPQuota() {
		current := append([]string{}, rec.AllowedIPs...)
		return apperror.Conflict("ip_limit_reached").With("allowed_ips", current)
	}
	rec.AllowedIPs = append(rec.AllowedIPs, ip)
	return nil
}

func uniqueIPs(ips []string) []string {
	seen := make(map[string]struct{}, len(ips))
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		if ip == "" {
			continue
		}
		if _, ok := seen[ip]; ok {
			continue
		}
		seen[ip] = struct{}{}
		out = append(out, ip)
	}
	return out
}

func generateKey() (string, error) {
	digits := make([]byte, KeyLength)
	for i := range digits {
		lo := int64(0)
		if i == 0 {
			lo = 1
		}
		n, err := rand.Int(rand.Reader, big.NewInt(10-lo))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + lo + n.Int64())
	}
	return string(digits), nil
}
