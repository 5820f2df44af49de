package model

import (
	"time"

	"gorm.io/datatypes"
)

// Account 开通的 VPN 账号，details 原样保存上游返回
type Account struct {
	ID        string         `json:"id" gorm:"primaryKey;size:36"`
	UserID    uint           `json:"user_id" gorm:"index;not null"`
	ServerID  string         `json:"server_id" gorm:"index"`
	Type      string         `json:"type"`
	Details   datatypes.JSON `json:"details"`
	Price     int64          `json:"price"`
	Trial     bool           `json:"trial"`
	CreatedAt time.Time      `json:"created_at"`
}
