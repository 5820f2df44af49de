package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"reseller-panel/internal/logger"
	"reseller-panel/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 事件类型
const (
	EventRegistration   = "registration"
	EventDepositPending = "deposit_pending"
	EventDepositSuccess = "deposit_success"
	EventPurchase       = "purchase"
	EventRenew          = "renew"
)

type Event struct {
	Kind        string
	UserID      uint
	Transaction *model.Transaction
	AccountType string
	Amount      int64
}

// Fallback 设置表未配置 Telegram 时使用的环境变量值
type Fallback struct {
	BotToken string
	ChatID   string
}

// Service 站内通知 + Telegram 推送，全部尽力而为
type Service struct {
	db       *gorm.DB
	log      *logger.Logger
	sender   Sender
	dedupe   Deduper
	fallback Fallback
	now      func() time.Time
	wait     func(func())
}

func NewService(db *gorm.DB, log *logger.Logger, sender Sender, dedupe Deduper, fallback Fallback) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		db:       db,
		log:      log,
		sender:   sender,
		dedupe:   dedupe,
		fallback: fallback,
		now:      time.Now,
		wait:     func(fn func()) { go fn() },
	}
}

// Publish 写入站内通知并异步推送 Telegram，失败只记录日志
func (s *Service) Publish(ctx context.Context, ev Event) {
	var user model.User
	if err := s.db.WithContext(ctx).Select("id", "username").First(&user, ev.UserID).Error; err != nil {
		s.log.Warn(ctx, "通知查询用户失败", err)
		return
	}

	feed, text := render(ev, user.Username)
	if feed != "" {
		if err := s.Broadcast(ctx, nil, feed); err != nil {
			s.log.Warn(ctx, "写入站内通知失败", err)
		}
	}
	if text == "" {
		return
	}

	key := dedupeKey(ev)
	bg := context.WithoutCancel(ctx)
	s.wait(func() {
		if key != "" && s.dedupe != nil {
			first, err := s.dedupe.FirstTime(bg, key)
			if err != nil {
				s.log.Warn(bg, "通知去重检查失败", err)
			} else if !first {
				return
			}
		}
		if err := s.Telegram(bg, text, ""); err != nil {
			s.log.Warn(bg, "Telegram 推送失败", err)
		}
	})
}

// Broadcast userID 为空时所有用户可见
func (s *Service) Broadcast(ctx context.Context, userID *uint, message string) error {
	n := &model.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Message:   message,
		CreatedAt: s.now(),
	}
	return s.db.WithContext(ctx).Create(n).Error
}

// Feed 用户可见的通知，最新在前
func (s *Service) Feed(ctx context.Context, userID uint, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	var list []model.Notification
	err := s.db.WithContext(ctx).
		Where("user_id IS NULL OR user_id = ?", userID).
		Order("created_at desc").
		Limit(limit).
		Find(&list).Error
	return list, err
}

// Telegram chatID 为空时发送到设置中的默认会话
func (s *Service) Telegram(ctx context.Context, text, chatID string) error {
	if s.sender == nil {
		return nil
	}
	var settings model.Settings
	s.db.WithContext(ctx).Limit(1).Find(&settings, model.SettingsID)

	token := settings.TelegramBotToken
	if token == "" {
		token = s.fallback.BotToken
	}
	if chatID == "" {
		chatID = settings.TelegramChatID
	}
	if chatID == "" {
		chatID = s.fallback.ChatID
	}
	if token == "" || chatID == "" {
		return nil
	}
	return s.sender.Send(ctx, token, chatID, text)
}

func dedupeKey(ev Event) string {
	if ev.Transaction == nil {
		return ""
	}
	return ev.Kind + ":" + ev.Transaction.ID
}

func render(ev Event, username string) (feed, text string) {
	name := html.EscapeString(username)
	switch ev.Kind {
	case EventRegistration:
		feed = fmt.Sprintf("Registrasi baru: %s menunggu persetujuan", username)
		text = fmt.Sprintf("🆕 <b>Registrasi User</b>\n👤 <b>Username:</b> %s\n⏳ <b>Status:</b> PENDING\n\n• Approve: <code>/approve %s</code>\n• Reject: <code>/reject %s</code>",
			name, name, name)
	case EventDepositPending:
		tx := ev.Transaction
		feed = fmt.Sprintf("Deposit dibuat oleh %s sebesar %d", username, tx.Amount)
		text = fmt.Sprintf("💳 <b>Top Up Pending</b>\n👤 <b>User:</b> %s\n💰 <b>Jumlah:</b> Rp %s\n💸 <b>Biaya:</b> Rp %s\n🧾 <b>Total:</b> Rp %s\n🆔 <b>ID:</b> <code>%s</code>\n🔗 <a href=\"%s\">QRIS</a>",
			name, Rupiah(tx.Amount), Rupiah(tx.Fee), Rupiah(tx.Total), html.EscapeString(externalID(tx)), html.EscapeString(tx.QRISURL))
	case EventDepositSuccess:
		tx := ev.Transaction
		feed = fmt.Sprintf("Deposit dibayar oleh %s sebesar %d", username, tx.Amount)
		text = fmt.Sprintf("✅ <b>Top Up Berhasil</b>\n👤 <b>User:</b> %s\n💰 <b>Jumlah:</b> Rp %s\n🎁 <b>Bonus:</b> Rp %s\n🆔 <b>ID:</b> <code>%s</code>",
			name, Rupiah(tx.Amount), Rupiah(tx.BonusAmount), html.EscapeString(externalID(tx)))
	case EventPurchase:
		feed = fmt.Sprintf("Pembelian %s oleh %s sebesar %d", ev.AccountType, username, ev.Amount)
		text = fmt.Sprintf("🛒 <b>Pembelian Akun</b>\n👤 <b>User:</b> %s\n📦 <b>Tipe:</b> %s\n💵 <b>Harga:</b> Rp %s",
			name, html.EscapeString(ev.AccountType), Rupiah(ev.Amount))
	case EventRenew:
		feed = fmt.Sprintf("Perpanjangan %s oleh %s sebesar %d", ev.AccountType, username, ev.Amount)
		text = fmt.Sprintf("🔁 <b>Perpanjangan Akun</b>\n👤 <b>User:</b> %s\n📦 <b>Tipe:</b> %s\n💵 <b>Harga:</b> Rp %s",
			name, html.EscapeString(ev.AccountType), Rupiah(ev.Amount))
	}
	return feed, text
}

func externalID(tx *model.Transaction) string {
	if tx.ExternalID == nil {
		return tx.ID
	}
	return *tx.ExternalID
}

// Rupiah 按 id-ID 习惯用点分隔千位
func Rupiah(v int64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	digits := fmt.Sprint(v)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
