package model

import "time"

// ActivationLog 每次激活尝试的记录
type ActivationLog struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Key       string    `json:"key" gorm:"index"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	Outcome   string    `json:"outcome"` // ok 或错误码
	CreatedAt time.Time `json:"created_at"`
}
