package license

import (
	"context"
	"time"

	"reseller-panel/internal/apperror"
	"reseller-panel/internal/logger"
	"reseller-panel/internal/metrics"
	"reseller-panel/internal/model"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// ActivateRequest ip 已由调用方按显式参数、代理头、对端地址的顺序解析
type ActivateRequest struct {
	Key       string
	IP        string
	UserAgent string
}

type Activator struct {
	registry *Registry
	binder   *Binder
	db       *gorm.DB
	now      func() time.Time
	log      *logger.Logger
	metrics  *metrics.Metrics
	validate *validator.Validate
}

func NewActivator(db *gorm.DB, registry *Registry, binder *Binder, log *logger.Logger, m *metrics.Metrics) *Activator {
	if log == nil {
		log = logger.Nop()
	}
	return &Activator{
		registry: registry,
		binder:   binder,
		db:       db,
		now:      time.Now,
		log:      log,
		metrics:  m,
		validate: validator.New(),
	}
}

// Activate 校验密钥并占用 IP 配额，成功后覆盖实例绑定
func (a *Activator) Activate(ctx context.Context, req ActivateRequest) (*Info, error) {
	info, err := a.activate(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = "internal_error"
		if typed := apperror.As(err); typed != nil {
			outcome = typed.Code()
		}
	}
	a.metrics.Activation(outcome)
	a.writeLog(ctx, req, outcome)
	return info, err
}

func (a *Activator) activate(ctx context.Context, req ActivateRequest) (*Info, error) {
	if err := a.validate.Var(req.Key, "len=11,number"); err != nil {
		return nil, apperror.Validation("invalid_key_format")
	}
	if req.IP == "" {
		return nil, apperror.Validation("ip_required")
	}

	rec, err := a.admit(ctx, req.Key, req.IP)
	if err != nil {
		return nil, err
	}

	binding := &model.InstanceBinding{
		Key:         rec.Key,
		IP:          req.IP,
		ActivatedAt: a.now(),
		ExpiresAt:   rec.ExpiresAt,
	}
	if err := a.binder.Bind(ctx, binding); err != nil {
		return nil, apperror.Internal(err)
	}

	return &Info{
		Key:         rec.Key,
		Label:       rec.Label,
		IP:          binding.IP,
		ExpiresAt:   binding.ExpiresAt,
		ActivatedAt: binding.ActivatedAt,
		AllowedIPs:  append([]string{}, rec.AllowedIPs...),
	}, nil
}

// admit 在注册表锁内完成状态检查、过期标记和 IP 准入
func (a *Activator) admit(ctx context.Context, key, ip string) (*model.LicenseKey, error) {
	r := a.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	var rec *model.LicenseKey
	expired := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		rec, err = findKey(tx, "key = ?", key)
		if err != nil {
			return err
		}
		if rec.Status != model.KeyStatusActive {
			return apperror.Conflict("key_not_active").With("status", rec.Status)
		}
		if rec.ExpiresAt != "" {
			// 无法解析的过期时间交给 Gate 报 invalid_expiry
			if at, perr := time.Parse(time.RFC3339, rec.ExpiresAt); perr == nil && a.now().After(at) {
				rec.Status = model.KeyStatusExpired
				expired = true
				return tx.Model(rec).Update("status", model.KeyStatusExpired).Error
			}
		}
		if rec.HasIP(ip) {
			return nil
		}
		if err := admitIP(rec, ip); err != nil {
			return err
		}
		return tx.Model(rec).Update("allowed_ips", rec.AllowedIPs).Error
	})
	if err != nil {
		if apperror.As(err) != nil {
			return nil, err
		}
		return nil, apperror.Internal(err)
	}
	r.notify(rec)
	if expired {
		return nil, apperror.Conflict("key_expired")
	}
	return rec, nil
}

func (a *Activator) writeLog(ctx context.Context, req ActivateRequest, outcome string) {
	entry := &model.ActivationLog{
		Key:       req.Key,
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
		Outcome:   outcome,
		CreatedAt: a.now(),
	}
	if err := a.db.WithContext(ctx).Create(entry).Error; err != nil {
		a.log.Warn(ctx, "写入激活日志失败", err)
	}
}
