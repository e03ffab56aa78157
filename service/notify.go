package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/AnTengye/escrowdash/pkg/logger"
)

const (
	NoticeSuccess = "success"
	NoticeError   = "error"
)

// SuccessMessage is the text shown once an operation is confirmed.
const SuccessMessage = "Transaction posted"

// Notice is a user-facing message produced by the write path.
type Notice struct {
	Level         string    `json:"level"`
	Message       string    `json:"message"`
	Action        string    `json:"action,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	OpHash        string    `json:"op_hash,omitempty"`
	At            time.Time `json:"at"`
}

// Notifier receives notices. Implementations must not block for long; the
// pipeline calls them inline.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// MultiNotifier fans a notice out to every sink.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, n Notice) {
	for _, sink := range m {
		sink.Notify(ctx, n)
	}
}

// LogNotifier writes notices to the structured log.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, n Notice) {
	if n.Level == NoticeError {
		logger.Warn(ctx, "notice", "message", n.Message, "action", n.Action, "transaction_id", n.TransactionID)
		return
	}
	logger.Info(ctx, "notice", "message", n.Message, "action", n.Action, "transaction_id", n.TransactionID)
}

// Feed keeps the most recent notices for the dashboard to poll.
type Feed struct {
	mu    sync.RWMutex
	items []Notice
	size  int
}

func NewFeed(size int) *Feed {
	if size <= 0 {
		size = 50
	}
	return &Feed{size: size}
}

func (f *Feed) Notify(_ context.Context, n Notice) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, n)
	if len(f.items) > f.size {
		f.items = f.items[len(f.items)-f.size:]
	}
}

// Recent returns up to limit notices, newest first. limit <= 0 returns all.
func (f *Feed) Recent(limit int) []Notice {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := len(f.items)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Notice, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, f.items[i])
	}
	return out
}

type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier mirrors notices into a Telegram chat.
type TelegramNotifier struct {
	bot    telegramSender
	chatID int64
}

func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

func (t *TelegramNotifier) Notify(ctx context.Context, n Notice) {
	text := n.Message
	if n.Level == NoticeError {
		text = "❌ " + text
	} else {
		text = "✅ " + text
	}
	if n.Action != "" {
		text += fmt.Sprintf("\n%s %s", n.Action, n.TransactionID)
	}
	if n.OpHash != "" {
		text += "\n" + n.OpHash
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
		logger.Warn(ctx, "failed to send telegram notice", "error", err)
	}
}
