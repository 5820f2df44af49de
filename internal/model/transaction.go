package model

import "time"

const (
	TxKindDeposit  = "deposit"
	TxKindPurchase = "purchase"
	TxKindRenew    = "renew"

	TxStatusPending  = "pending"
	TxStatusSuccess  = "success"
	TxStatusExpired  = "expired"
	TxStatusCanceled = "canceled"
)

type Transaction struct {
	ID             string     `json:"id" gorm:"primaryKey;size:36"`
	UserID         uint       `json:"user_id" gorm:"index;not null"`
	Kind           string     `json:"type" gorm:"index;not null"`
	Amount         int64      `json:"amount"`
	Fee            int64      `json:"fee"`
	Total          int64      `json:"total"`
	BonusAmount    int64      `json:"bonus_amount"`
	BonusPercent   int64      `json:"bonus_percent"`
	ExternalID     *string    `json:"external_transaction_id" gorm:"uniqueIndex"`
	QRISURL        string     `json:"qris_url,omitempty"`
	ExpiredMinutes int        `json:"expired_minutes,omitempty"`
	Status         string     `json:"status" gorm:"index;not null"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
	CanceledAt     *time.Time `json:"canceled_at,omitempty"`
	ExpiredAt      *time.Time `json:"expired_at,omitempty"`
	Reference      string     `json:"reference,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (t *Transaction) IsTerminal() bool {
	return t.Status != TxStatusPending
}

// PastExpiry 仅对 pending 且已过 expires_at 的充值返回 true
func (t *Transaction) PastExpiry(now time.Time) bool {
	return t.Status == TxStatusPending && t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}
