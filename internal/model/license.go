package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	KeyStatusActive  = "active"
	KeyStatusRevoked = "revoked"
	KeyStatusExpired = "expired"
)

// LicenseKey 许可证密钥记录，只增不删
type LicenseKey struct {
	ID         uint                        `json:"id" gorm:"primaryKey"`
	Key        string                      `json:"key" gorm:"uniqueIndex;size:11;not null"`
	Label      string                      `json:"label"`
	Status     string                      `json:"status" gorm:"not null;default:'active'"`
	AllowedIPs datatypes.JSONSlice[string] `json:"allowed_ips"`
	MaxIPs     int                         `json:"max_ips" gorm:"not null;default:1"`
	// RFC3339，空表示永不过期
	ExpiresAt string    `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IPQuota max(1, max_ips)
func (k *LicenseKey) IPQuota() int {
	if k.MaxIPs < 1 {
		return 1
	}
	return k.MaxIPs
}

func (k *LicenseKey) HasIP(ip string) bool {
	for _, allowed := range k.AllowedIPs {
		if allowed == ip {
			return true
		}
	}
	return false
}

type LicenseKeyInput struct {
	Label        string   `json:"label"`
	DurationDays int      `json:"duration_days" validate:"gte=0"`
	AllowedIPs   []string `json:"allowed_ips" validate:"dive,ip"`
	MaxIPs       int      `json:"max_ips" validate:"gte=0"`
}
