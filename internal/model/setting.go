package model

import (
	"time"

	"gorm.io/datatypes"
)

const SettingsID = 1

// Settings 平台级设置，单行
type Settings struct {
	ID                uint                        `json:"-" gorm:"primaryKey"`
	APIKey            string                      `json:"apikey"`
	TopupBonusPercent int64                       `json:"topup_bonus_percent"`
	TelegramBotToken  string                      `json:"telegram_bot_token"`
	TelegramChatID    string                      `json:"telegram_chat_id"`
	TelegramAdminIDs  datatypes.JSONSlice[string] `json:"telegram_admin_ids"`
	UpdatedAt         time.Time                   `json:"updated_at"`
}
