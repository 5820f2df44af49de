package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// Sender 投递一条 HTML 格式的消息
type Sender interface {
	Send(ctx context.Context, token, chatID, text string) error
}

// TelegramSender 按 token 缓存 Bot 实例，设置中的 token 可随时更换
type TelegramSender struct {
	mu   sync.Mutex
	bots map[string]*telego.Bot
}

func NewTelegramSender() *TelegramSender {
	return &TelegramSender{bots: make(map[string]*telego.Bot)}
}

func (s *TelegramSender) bot(token string) (*telego.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.bots[token]; ok {
		return b, nil
	}
	b, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	s.bots[token] = b
	return b, nil
}

func (s *TelegramSender) Send(ctx context.Context, token, chatID, text string) error {
	b, err := s.bot(token)
	if err != nil {
		return err
	}
	_, err = b.SendMessage(ctx, tu.Message(chatRef(chatID), text).WithParseMode(telego.ModeHTML))
	return err
}

// chatRef 数字为 chat id，否则视为 @频道名
func chatRef(chatID string) telego.ChatID {
	chatID = strings.TrimSpace(chatID)
	if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		return tu.ID(id)
	}
	if !strings.HasPrefix(chatID, "@") {
		chatID = "@" + chatID
	}
	return tu.Username(chatID)
}
