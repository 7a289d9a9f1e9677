package bot

import (
	"context"
	"net/http"
	"sync"

	"campus-order-bot/internal/admin"
	"campus-order-bot/internal/logger"
	"campus-order-bot/internal/services"

	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Sender - часть tgbotapi.BotAPI, которой пользуется бот.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// UpdateRecorder считает входящие обновления. Реализуется metrics.Metrics.
type UpdateRecorder interface {
	Update(kind string)
}

type Bot struct {
	api      Sender
	store    services.Store
	dialogue *services.Dialogue
	checkout *services.Checkout
	admin    *admin.Handler
	limiter  *RateLimiter
	metrics  UpdateRecorder
	locks    *userLocks
	wg       sync.WaitGroup
}

func New(api Sender, store services.Store, dialogue *services.Dialogue, checkout *services.Checkout, adm *admin.Handler, metrics UpdateRecorder) *Bot {
	return &Bot{
		api:      api,
		store:    store,
		dialogue: dialogue,
		checkout: checkout,
		admin:    adm,
		limiter:  NewRateLimiter(adm.IsAdmin),
		metrics:  metrics,
		locks:    newUserLocks(),
	}
}

// Notify отправляет сообщение в чат; используется сервисами для уведомлений.
func (b *Bot) Notify(chatID int64, text string) error {
	_, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

// Run читает обновления (polling) до отмены ctx или закрытия канала и ждёт незавершённые обработчики.
func (b *Bot) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.Dispatch(ctx, update)
		}
	}
}

// Dispatch обрабатывает обновление в отдельной горутине, чтобы медленный запрос
// к платёжному шлюзу не задерживал других пользователей.
// Обновления одного пользователя выполняются строго по очереди.
func (b *Bot) Dispatch(ctx context.Context, update tgbotapi.Update) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer logger.NotifyOnPanic("HandleUpdate")
		unlock := b.locks.lock(updateUserID(update))
		defer unlock()
		b.HandleUpdate(ctx, update)
	}()
}

// Wait ждёт завершения всех запущенных обработчиков.
func (b *Bot) Wait() {
	b.wg.Wait()
}

// WebhookHandler принимает обновления Telegram в режиме webhook.
func (b *Bot) WebhookHandler(parse func(*http.Request) (*tgbotapi.Update, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		update, err := parse(c.Request())
		if err != nil {
			logger.Error("bad telegram update", zap.Error(err))
			return c.NoContent(http.StatusBadRequest)
		}
		// контекст запроса завершится раньше обработчика
		b.Dispatch(context.WithoutCancel(c.Request().Context()), *update)
		return c.NoContent(http.StatusOK)
	}
}

func updateUserID(update tgbotapi.Update) int64 {
	switch {
	case update.Message != nil && update.Message.From != nil:
		return update.Message.From.ID
	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		return update.CallbackQuery.From.ID
	default:
		return 0
	}
}

type userLock struct {
	sync.Mutex
	refs int
}

// userLocks - мьютекс на пользователя; запись удаляется, когда её никто не держит.
type userLocks struct {
	mu    sync.Mutex
	locks map[int64]*userLock
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[int64]*userLock)}
}

func (u *userLocks) lock(userID int64) func() {
	u.mu.Lock()
	l, ok := u.locks[userID]
	if !ok {
		l = &userLock{}
		u.locks[userID] = l
	}
	l.refs++
	u.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		u.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(u.locks, userID)
		}
		u.mu.Unlock()
	}
}
