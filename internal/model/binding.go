package model

import "time"

// InstanceBindingID 单行表的固定主键
const InstanceBindingID = 1

// InstanceBinding 当前部署所绑定的密钥与 IP，每次激活整体覆盖
type InstanceBinding struct {
	ID          uint      `json:"-" gorm:"primaryKey"`
	Key         string    `json:"key" gorm:"size:11;not null"`
	IP          string    `json:"ip" gorm:"not null"`
	ActivatedAt time.Time `json:"activated_at"`
	ExpiresAt   string    `json:"expires_at"`
}
