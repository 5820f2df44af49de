package model

import "time"

// Notification 站内通知，UserID 为空表示广播
type Notification struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	UserID    *uint     `json:"user_id" gorm:"index"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
