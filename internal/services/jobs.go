package services

import (
	"context"
	"fmt"
	"time"

	"campus-order-bot/internal/logger"

	"go.uber.org/zap"
)

// ReminderAge - через сколько напоминать о неоплаченном заказе.
const ReminderAge = 24 * time.Hour

// Jobs - периодические задачи, запускаемые по cron.
type Jobs struct {
	store    Store
	notifier Notifier
	now      func() time.Time
}

func NewJobs(store Store, notifier Notifier) *Jobs {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Jobs{store: store, notifier: notifier, now: time.Now}
}

// ExpireDeliveryDates удаляет прошедшую дату доставки.
func (j *Jobs) ExpireDeliveryDates(ctx context.Context) {
	n, err := j.store.ExpireDeliveryDates(ctx, j.now())
	if err != nil {
		logger.NotifyAdmin("Ошибка удаления прошедших дат доставки: " + err.Error())
		return
	}
	if n > 0 {
		logger.Info("delivery dates expired", zap.Int64("count", n))
	}
}

// RemindUnpaid напоминает о заказах, которые висят в корзине дольше ReminderAge.
// О каждом заказе напоминаем один раз.
func (j *Jobs) RemindUnpaid(ctx context.Context) {
	now := j.now()
	orders, err := j.store.UnpaidOrdersBefore(ctx, now.Add(-ReminderAge))
	if err != nil {
		logger.NotifyAdmin("Ошибка выборки неоплаченных заказов: " + err.Error())
		return
	}
	for _, order := range orders {
		chatID := order.ChatID
		if chatID == 0 {
			chatID = order.UserID
		}
		msg := fmt.Sprintf("Order #%d is still waiting for payment. Use /checkout to pay or /cart to remove it.", order.ID)
		if err := j.notifier.Notify(chatID, msg); err != nil {
			logger.Error("reminder not delivered", zap.Uint("order_id", order.ID), zap.Error(err))
			continue
		}
		if err := j.store.MarkReminded(ctx, order.ID, now); err != nil {
			logger.NotifyAdmin(fmt.Sprintf("Не удалось отметить напоминание для заказа #%d: %v", order.ID, err))
		}
	}
}
