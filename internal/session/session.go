// Package session хранит черновики заказов, которые собираются в диалоге с пользователем.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNoDraft = errors.New("no active draft")

// Stage - шаг диалога оформления заказа.
type Stage int

const (
	AwaitingQuantity Stage = iota
	AwaitingEmail
	AwaitingFullName
	AwaitingHall
	AwaitingRoomNumber
	Committed
)

func (s Stage) String() string {
	switch s {
	case AwaitingQuantity:
		return "awaiting_quantity"
	case AwaitingEmail:
		return "awaiting_email"
	case AwaitingFullName:
		return "awaiting_full_name"
	case AwaitingHall:
		return "awaiting_hall"
	case AwaitingRoomNumber:
		return "awaiting_room_number"
	case Committed:
		return "committed"
	default:
		return "unknown"
	}
}

// Draft - незавершённый заказ одного пользователя.
// Token уникален для каждого Begin и служит ключом однократной фиксации.
type Draft struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	ProductID uint      `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Hall      string    `json:"hall"`
	RoomNo    string    `json:"room_no"`
	Stage     Stage     `json:"stage"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store - хранилище черновиков. Один черновик на пользователя.
type Store interface {
	// Begin создаёт черновик, затирая предыдущий.
	Begin(ctx context.Context, userID int64, productID uint) (*Draft, error)
	// Get возвращает копию черновика или ErrNoDraft.
	Get(ctx context.Context, userID int64) (*Draft, error)
	// Update атомарно применяет fn к черновику. Ошибка fn отменяет изменение.
	Update(ctx context.Context, userID int64, fn func(d *Draft) error) (*Draft, error)
	Clear(ctx context.Context, userID int64) error
}

func newDraft(userID int64, productID uint, now time.Time) *Draft {
	return &Draft{
		Token:     uuid.NewString(),
		UserID:    userID,
		ProductID: productID,
		Stage:     AwaitingQuantity,
		UpdatedAt: now,
	}
}
