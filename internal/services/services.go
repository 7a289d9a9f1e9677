// Package services содержит бизнес-логику бота: диалог оформления заказа,
// корзину и оплату, фоновые задачи.
package services

import (
	"context"
	"errors"
	"time"

	"campus-order-bot/internal/db"
)

var (
	ErrProductNotFound  = errors.New("product not found")
	ErrOrderNotFound    = errors.New("order not found")
	ErrOrderAlreadyPaid = errors.New("order already paid")
	ErrCommitFailed     = errors.New("order commit failed")
)

// Store - то, что сервисам нужно от хранилища. Реализуется db.Store и dbtest.MemStore.
type Store interface {
	ListProducts(ctx context.Context) ([]db.Product, error)
	GetProduct(ctx context.Context, id uint) (*db.Product, error)
	CreateProduct(ctx context.Context, product *db.Product) error
	CreateOrder(ctx context.Context, order *db.Order) error
	GetOrder(ctx context.Context, id uint) (*db.Order, error)
	ListOrders(ctx context.Context, userID int64, paid bool) ([]db.Order, error)
	DeleteOrder(ctx context.Context, id uint) error
	MarkPaid(ctx context.Context, orderID uint, trxref, reference string) (*db.Order, bool, error)
	MarkDelivered(ctx context.Context, orderID uint) error
	CurrentDeliveryDate(ctx context.Context) (*db.DeliveryDate, error)
	SetDeliveryDate(ctx context.Context, date, today time.Time) (*db.DeliveryDate, error)
	ExpireDeliveryDates(ctx context.Context, today time.Time) (int64, error)
	UnpaidOrdersBefore(ctx context.Context, before time.Time) ([]db.Order, error)
	MarkReminded(ctx context.Context, orderID uint, at time.Time) error
	Stats(ctx context.Context) (db.Stats, error)
}

// Notifier доставляет сообщение пользователю в чат.
type Notifier interface {
	Notify(chatID int64, text string) error
}

// Publisher публикует доменные события. Реализуется events.Publisher.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

// Recorder считает доменные события. Реализуется metrics.Metrics.
type Recorder interface {
	OrderCommitted()
	CommitFailed()
	CheckoutInitiated()
	OrderPaid(amount int64)
	GatewayError(op string)
}

type nopNotifier struct{}

func (nopNotifier) Notify(int64, string) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, string, any) error { return nil }

type nopRecorder struct{}

func (nopRecorder) OrderCommitted()     {}
func (nopRecorder) CommitFailed()       {}
func (nopRecorder) CheckoutInitiated()  {}
func (nopRecorder) OrderPaid(int64)     {}
func (nopRecorder) GatewayError(string) {}

// Топики событий.
const (
	TopicOrderCommitted = "orders.committed"
	TopicOrderPaid      = "orders.paid"
)

// OrderEvent - полезная нагрузка событий заказа.
type OrderEvent struct {
	OrderID uint      `json:"order_id"`
	UserID  int64     `json:"user_id"`
	Amount  int64     `json:"amount"`
	Hall    string    `json:"hall"`
	RoomNo  string    `json:"room_no"`
	At      time.Time `json:"at"`
}

func orderEvent(o *db.Order, at time.Time) OrderEvent {
	return OrderEvent{
		OrderID: o.ID,
		UserID:  o.UserID,
		Amount:  o.Total(),
		Hall:    o.Hall,
		RoomNo:  o.RoomNo,
		At:      at,
	}
}
