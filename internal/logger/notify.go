package logger

import (
	"fmt"
	"sync"

	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Sender - минимальная часть tgbotapi.BotAPI, нужная для отправки сообщений.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

var (
	notifyMu    sync.RWMutex
	botInstance Sender
	adminID     int64
)

// InitNotifier инициализирует Telegram-уведомления об ошибках
func InitNotifier(bot Sender, admin int64) {
	notifyMu.Lock()
	defer notifyMu.Unlock()
	botInstance = bot
	adminID = admin
}

// NotifyAdmin отправляет критическое уведомление админу
func NotifyAdmin(msg string) {
	L().Warn("admin_alert", zap.String("message", msg))
	notifyMu.RLock()
	bot, admin := botInstance, adminID
	notifyMu.RUnlock()
	if bot == nil || admin == 0 {
		return
	}
	if _, err := bot.Send(tgbotapi.NewMessage(admin, "[ALERT] "+msg)); err != nil {
		L().Error("admin alert not delivered", zap.Error(err))
	}
}

// NotifyOnPanic ловит панику, логирует и уведомляет. Вызывать только через defer.
func NotifyOnPanic(where string) {
	if r := recover(); r != nil {
		L().Error("panic recovered", zap.String("where", where), zap.Any("panic", r), zap.Stack("stack"))
		NotifyAdmin("Panic in " + where + ": " + toString(r))
	}
}

func toString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case error:
		return val.Error()
	default:
		return fmt.Sprintf("%v", val)
	}
}
