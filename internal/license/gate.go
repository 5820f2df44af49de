package license

import (
	"context"
	"time"

	"reseller-panel/internal/apperror"
	"reseller-panel/internal/metrics"
	"reseller-panel/internal/model"
)

// 校验失败原因
const (
	ReasonMissingKey    = "missing_key"
	ReasonKeyNotFound   = "key_not_found"
	ReasonInvalidExpiry = "invalid_expiry"
	ReasonExpired       = "expired"
	ReasonIPNotAllowed  = "ip_not_allowed"
)

// Info 对外展示的授权信息
type Info struct {
	Key         string    `json:"key"`
	Label       string    `json:"label"`
	IP          string    `json:"ip"`
	ExpiresAt   string    `json:"expires_at"`
	ActivatedAt time.Time `json:"activated_at"`
	AllowedIPs  []string  `json:"allowed_ips"`
}

type Verdict struct {
	Valid   bool   `json:"valid"`
	Reason  string `json:"reason,omitempty"`
	License *Info  `json:"license,omitempty"`
}

// Gate 每个请求都会调用，只读不写
type Gate struct {
	registry *Registry
	binder   *Binder
	now      func() time.Time
	metrics  *metrics.Metrics
}

func NewGate(registry *Registry, binder *Binder, m *metrics.Metrics) *Gate {
	return &Gate{registry: registry, binder: binder, now: time.Now, metrics: m}
}

func (g *Gate) Evaluate(ctx context.Context) (Verdict, error) {
	binding, err := g.binder.Get(ctx)
	if err != nil {
		return Verdict{}, apperror.Internal(err)
	}
	if binding == nil {
		return g.record(Verdict{Reason: ReasonMissingKey}), nil
	}

	rec, err := g.registry.Find(ctx, binding.Key)
	if err != nil {
		if apperror.HasCode(err, "key_not_found") {
			return g.record(Verdict{Reason: ReasonKeyNotFound}), nil
		}
		return Verdict{}, err
	}
	return g.record(evaluate(rec, binding, g.now())), nil
}

func (g *Gate) record(v Verdict) Verdict {
	g.metrics.GateVerdict(v.Reason)
	return v
}

// evaluate 状态先于过期时间判断，白名单为空时不限制 IP
func evaluate(rec *model.LicenseKey, binding *model.InstanceBinding, now time.Time) Verdict {
	if rec.Status != model.KeyStatusActive {
		return Verdict{Reason: rec.Status}
	}

	expiry := rec.ExpiresAt
	if expiry == "" {
		expiry = binding.ExpiresAt
	}
	if expiry != "" {
		at, err := time.Parse(time.RFC3339, expiry)
		if err != nil {
			return Verdict{Reason: ReasonInvalidExpiry}
		}
		if now.After(at) {
			return Verdict{Reason: ReasonExpired}
		}
	}

	if len(rec.AllowedIPs) > 0 && !rec.HasIP(binding.IP) {
		return Verdict{Reason: ReasonIPNotAllowed}
	}

	return Verdict{
		Valid: true,
		License: &Info{
			Key:         rec.Key,
			Label:       rec.Label,
			IP:          binding.IP,
			ExpiresAt:   expiry,
			ActivatedAt: binding.ActivatedAt,
			AllowedIPs:  append([]string{}, rec.AllowedIPs...),
		},
	}
}
