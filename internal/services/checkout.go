package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"campus-order-bot/internal/db"
	"campus-order-bot/internal/logger"

	"go.uber.org/zap"
)

// CallbackPath - путь страницы возврата после оплаты.
const CallbackPath = "/paystack/callback/"

type CheckoutConfig struct {
	WebsiteLink  string
	DefaultEmail string
}

// Invoice - заказ, отправленный на оплату.
type Invoice struct {
	Order *db.Order
	Total int64
	URL   string
}

// PaidOrder - оплаченный заказ со ссылкой на квитанцию.
type PaidOrder struct {
	db.Order
	ReceiptURL string
}

// Checkout - корзина пользователя и оплата заказов.
type Checkout struct {
	store    Store
	gateway  Gateway
	cfg      CheckoutConfig
	notifier Notifier
	events   Publisher
	metrics  Recorder
	now      func() time.Time
}

func NewCheckout(store Store, gateway Gateway, cfg CheckoutConfig, notifier Notifier, events Publisher, metrics Recorder) *Checkout {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if events == nil {
		events = nopPublisher{}
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Checkout{
		store:    store,
		gateway:  gateway,
		cfg:      cfg,
		notifier: notifier,
		events:   events,
		metrics:  metrics,
		now:      time.Now,
	}
}

// SetNotifier подключает уведомления после создания бота.
func (c *Checkout) SetNotifier(n Notifier) {
	if n != nil {
		c.notifier = n
	}
}

func (c *Checkout) ListUnpaid(ctx context.Context, userID int64) ([]db.Order, error) {
	return c.store.ListOrders(ctx, userID, false)
}

func (c *Checkout) ListPaid(ctx context.Context, userID int64) ([]PaidOrder, error) {
	orders, err := c.store.ListOrders(ctx, userID, true)
	if err != nil {
		return nil, err
	}
	out := make([]PaidOrder, 0, len(orders))
	for _, o := range orders {
		out = append(out, PaidOrder{Order: o, ReceiptURL: c.ReceiptURL(&o)})
	}
	return out, nil
}

// ReceiptURL - ссылка на страницу статуса оплаты; пустая, если квитанции нет.
func (c *Checkout) ReceiptURL(o *db.Order) string {
	if o.Receipt == nil {
		return ""
	}
	q := url.Values{}
	q.Set("order_id", fmt.Sprint(o.ID))
	q.Set("trxref", o.Receipt.TransactionRef)
	q.Set("reference", o.Receipt.PaymentRef)
	return c.cfg.WebsiteLink + CallbackPath + "?" + q.Encode()
}

// Initiate создаёт платёж в шлюзе и возвращает ссылку на оплату. Сам заказ не меняется.
func (c *Checkout) Initiate(ctx context.Context, userID int64, orderID uint) (*Invoice, error) {
	order, err := c.ownedOrder(ctx, userID, orderID, "checkout")
	if err != nil {
		return nil, err
	}
	if order.Paid {
		return nil, ErrOrderAlreadyPaid
	}

	total := order.Total()
	email := c.cfg.DefaultEmail
	if order.Email != nil && *order.Email != "" {
		email = *order.Email
	}
	paymentURL, err := c.gateway.Initialize(ctx, InitializeRequest{
		Amount:      total * 100,
		Email:       email,
		OrderID:     order.ID,
		CallbackURL: fmt.Sprintf("%s%s?order_id=%d", c.cfg.WebsiteLink, CallbackPath, order.ID),
	})
	if err != nil {
		c.metrics.GatewayError("initialize")
		logger.Error("paystack initialize failed", zap.Uint("order_id", order.ID), zap.Error(err))
		return nil, err
	}
	c.metrics.CheckoutInitiated()
	return &Invoice{Order: order, Total: total, URL: paymentURL}, nil
}

// Remove удаляет неоплаченный заказ пользователя вместе с позициями.
func (c *Checkout) Remove(ctx context.Context, userID int64, orderID uint) error {
	order, err := c.ownedOrder(ctx, userID, orderID, "remove")
	if err != nil {
		return err
	}
	if order.Paid {
		return ErrOrderAlreadyPaid
	}
	if err := c.store.DeleteOrder(ctx, orderID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return ErrOrderNotFound
		}
		return err
	}
	logger.Info("order removed", zap.Uint("order_id", orderID), zap.Int64("user_id", userID))
	return nil
}

// Confirm проверяет транзакцию в шлюзе и при успехе завершает оплату.
// При отказе шлюза состояние заказа не меняется.
func (c *Checkout) Confirm(ctx context.Context, orderID uint, trxref, reference string) (*db.Order, error) {
	order, err := c.store.GetOrder(ctx, orderID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	v, err := c.gateway.Verify(ctx, trxref)
	if err != nil {
		c.metrics.GatewayError("verify")
		logger.Error("paystack verify failed", zap.Uint("order_id", orderID), zap.String("trxref", trxref), zap.Error(err))
		return nil, err
	}
	if !v.Success() {
		msg := v.Message
		if msg == "" {
			msg = "Payment was not successful."
		}
		return nil, &GatewayError{Op: "verify", Message: msg}
	}
	if err := matchVerification(order, v); err != nil {
		logger.L().Warn("verified transaction does not match order",
			zap.Uint("order_id", orderID),
			zap.Uint("paid_order_id", v.OrderID),
			zap.Int64("amount", v.Amount),
			zap.String("trxref", trxref))
		return nil, err
	}
	return c.Finalize(ctx, orderID, trxref, reference)
}

// matchVerification проверяет, что успешная транзакция оплачивает именно этот заказ и на полную сумму.
func matchVerification(order *db.Order, v *Verification) error {
	if v.OrderID != 0 && v.OrderID != order.ID {
		return &GatewayError{Op: "verify", Message: "This payment belongs to a different order."}
	}
	if v.Amount < order.Total()*100 {
		return &GatewayError{Op: "verify", Message: "Amount paid does not cover the order total."}
	}
	return nil
}

// Finalize ставит флаг оплаты и создаёт квитанцию. Повторный вызов ничего не дублирует:
// уведомление и событие отправляются только при первом переходе.
func (c *Checkout) Finalize(ctx context.Context, orderID uint, trxref, reference string) (*db.Order, error) {
	order, newlyPaid, err := c.store.MarkPaid(ctx, orderID, trxref, reference)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		logger.Error("mark paid failed", zap.Uint("order_id", orderID), zap.Error(err))
		return nil, err
	}
	if !newlyPaid {
		return order, nil
	}

	total := order.Total()
	c.metrics.OrderPaid(total)
	logger.Info("order paid", zap.Uint("order_id", order.ID), zap.Int64("amount", total))
	if err := c.events.Publish(ctx, TopicOrderPaid, fmt.Sprint(order.ID), orderEvent(order, c.now())); err != nil {
		logger.Error("publish event failed", zap.String("topic", TopicOrderPaid), zap.Error(err))
	}
	chatID := order.ChatID
	if chatID == 0 {
		chatID = order.UserID
	}
	text := fmt.Sprintf("Your payment for Order #%d was successful! Your order is now complete.", order.ID)
	if err := c.notifier.Notify(chatID, text); err != nil {
		logger.Error("payment notification failed", zap.Uint("order_id", order.ID), zap.Error(err))
	}
	return order, nil
}

// ownedOrder загружает заказ и проверяет владельца. Чужой заказ выглядит как несуществующий.
func (c *Checkout) ownedOrder(ctx context.Context, userID int64, orderID uint, action string) (*db.Order, error) {
	order, err := c.store.GetOrder(ctx, orderID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		logger.L().Warn("order ownership mismatch",
			zap.String("action", action),
			zap.Uint("order_id", orderID),
			zap.Int64("owner_id", order.UserID),
			zap.Int64("user_id", userID))
		return nil, ErrOrderNotFound
	}
	return order, nil
}
