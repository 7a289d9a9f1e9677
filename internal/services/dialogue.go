package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"campus-order-bot/internal/db"
	"campus-order-bot/internal/logger"
	"campus-order-bot/internal/session"

	"go.uber.org/zap"
)

// HallPrefix - префикс callback-данных кнопки выбора корпуса.
const HallPrefix = "hall_"

const genericFailure = "Sorry, something went wrong \nThis is probably from our end and not yours \nPlease try again later"

const noActiveOrder = "No active order found. Place order for a new item and try again"

const answerCurrentQuestion = "Please answer the previous question first."

// User - собеседник бота.
type User struct {
	ID       int64
	ChatID   int64
	Username string
}

// Choice - кнопка ответа.
type Choice struct {
	Label string
	Data  string
}

// Reply - ответ пользователю, не привязанный к транспорту.
type Reply struct {
	Text    string
	Choices []Choice
}

var errStageChanged = errors.New("draft stage changed")

// Dialogue ведёт пользователя по шагам оформления заказа:
// количество, email, имя получателя, корпус, номер комнаты.
type Dialogue struct {
	store   Store
	drafts  session.Store
	halls   []string
	events  Publisher
	metrics Recorder
	now     func() time.Time
}

func NewDialogue(store Store, drafts session.Store, halls []string, events Publisher, metrics Recorder) *Dialogue {
	if events == nil {
		events = nopPublisher{}
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Dialogue{
		store:   store,
		drafts:  drafts,
		halls:   halls,
		events:  events,
		metrics: metrics,
		now:     time.Now,
	}
}

// Begin начинает новый черновик, молча затирая незавершённый.
func (d *Dialogue) Begin(ctx context.Context, user User, productID uint) (Reply, error) {
	product, err := d.store.GetProduct(ctx, productID)
	if errors.Is(err, db.ErrNotFound) {
		return Reply{Text: "Product not found. Use /products to see what is available."}, ErrProductNotFound
	}
	if err != nil {
		logger.Error("get product failed", zap.Uint("product_id", productID), zap.Error(err))
		return Reply{Text: genericFailure}, err
	}
	if _, err := d.drafts.Begin(ctx, user.ID, product.ID); err != nil {
		logger.Error("begin draft failed", zap.Int64("user_id", user.ID), zap.Error(err))
		return Reply{Text: genericFailure}, err
	}
	return Reply{Text: fmt.Sprintf("Please enter the quantity of %s you want to order e.g 5:", product.Title)}, nil
}

// HandleText обрабатывает свободный текст. handled=false, если активного черновика нет.
func (d *Dialogue) HandleText(ctx context.Context, user User, text string) (reply Reply, handled bool, err error) {
	draft, err := d.drafts.Get(ctx, user.ID)
	if errors.Is(err, session.ErrNoDraft) {
		return Reply{}, false, nil
	}
	if err != nil {
		logger.Error("load draft failed", zap.Int64("user_id", user.ID), zap.Error(err))
		return Reply{Text: genericFailure}, true, err
	}

	text = strings.TrimSpace(text)
	switch draft.Stage {
	case session.AwaitingQuantity:
		qty, ok := ParseQuantity(text)
		if !ok {
			return Reply{Text: fmt.Sprintf("Please enter a valid number for the quantity (1 to %d).", MaxQuantity)}, true, nil
		}
		reply, err = d.advance(ctx, user, draft.Stage, func(dr *session.Draft) {
			dr.Quantity = qty
			dr.Stage = session.AwaitingEmail
		}, Reply{Text: "What's your email?"})
	case session.AwaitingEmail:
		if !ValidEmail(text) {
			return Reply{Text: "Please enter a valid email"}, true, nil
		}
		reply, err = d.advance(ctx, user, draft.Stage, func(dr *session.Draft) {
			dr.Email = text
			dr.Stage = session.AwaitingFullName
		}, Reply{Text: "What is the fullname of the person your order is to be delivered to?"})
	case session.AwaitingFullName:
		if text == "" {
			return Reply{Text: "Please enter the fullname of the person your order is to be delivered to."}, true, nil
		}
		reply, err = d.advance(ctx, user, draft.Stage, func(dr *session.Draft) {
			dr.FullName = text
			dr.Stage = session.AwaitingHall
		}, d.hallPrompt("Choose your hall:"))
	case session.AwaitingHall:
		// корпус выбирается только кнопкой
		return d.hallPrompt("Please choose your hall using the buttons below:"), true, nil
	case session.AwaitingRoomNumber:
		if !ValidRoomNo(text) {
			return Reply{Text: "Please enter a valid Room number (e.g., A203)."}, true, nil
		}
		reply, err = d.commit(ctx, user, text)
	default:
		return Reply{Text: "This order is already in your cart. Use /cart to view it."}, true, nil
	}
	return reply, true, err
}

// SelectHall фиксирует корпус, выбранный кнопкой. Сменить корпус можно до ввода комнаты.
func (d *Dialogue) SelectHall(ctx context.Context, user User, hall string) (Reply, error) {
	if !d.knownHall(hall) {
		return d.hallPrompt("Unknown hall. Choose your hall:"), nil
	}
	_, err := d.drafts.Update(ctx, user.ID, func(dr *session.Draft) error {
		if dr.Stage != session.AwaitingHall && dr.Stage != session.AwaitingRoomNumber {
			return errStageChanged
		}
		dr.Hall = hall
		dr.Stage = session.AwaitingRoomNumber
		return nil
	})
	switch {
	case errors.Is(err, session.ErrNoDraft):
		return Reply{Text: noActiveOrder}, session.ErrNoDraft
	case errors.Is(err, errStageChanged):
		return Reply{Text: answerCurrentQuestion}, nil
	case err != nil:
		logger.Error("update draft failed", zap.Int64("user_id", user.ID), zap.Error(err))
		return Reply{Text: genericFailure}, err
	}
	return Reply{Text: fmt.Sprintf("So you are located in %s hall \nNow enter your room number e.g. A204, B108:", hall)}, nil
}

// Halls возвращает кнопки выбора корпуса.
func (d *Dialogue) Halls() []Choice {
	choices := make([]Choice, 0, len(d.halls))
	for _, h := range d.halls {
		choices = append(choices, Choice{Label: h, Data: HallPrefix + h})
	}
	return choices
}

func (d *Dialogue) hallPrompt(text string) Reply {
	return Reply{Text: text, Choices: d.Halls()}
}

func (d *Dialogue) knownHall(hall string) bool {
	for _, h := range d.halls {
		if h == hall {
			return true
		}
	}
	return false
}

// advance применяет переход, только если черновик всё ещё на шаге from.
func (d *Dialogue) advance(ctx context.Context, user User, from session.Stage, apply func(*session.Draft), next Reply) (Reply, error) {
	_, err := d.drafts.Update(ctx, user.ID, func(dr *session.Draft) error {
		if dr.Stage != from {
			return errStageChanged
		}
		apply(dr)
		return nil
	})
	switch {
	case err == nil:
		return next, nil
	case errors.Is(err, session.ErrNoDraft):
		return Reply{Text: noActiveOrder}, session.ErrNoDraft
	case errors.Is(err, errStageChanged):
		// черновик ушёл вперёд параллельным ответом
		return Reply{Text: answerCurrentQuestion}, nil
	default:
		logger.Error("update draft failed", zap.Int64("user_id", user.ID), zap.Error(err))
		return Reply{Text: genericFailure}, err
	}
}

// commit сохраняет заказ. При ошибке черновик остаётся на месте.
// Уникальный draft_token в базе не даёт зафиксировать один черновик дважды.
func (d *Dialogue) commit(ctx context.Context, user User, roomNo string) (Reply, error) {
	draft, err := d.drafts.Update(ctx, user.ID, func(dr *session.Draft) error {
		if dr.Stage != session.AwaitingRoomNumber {
			return errStageChanged
		}
		dr.RoomNo = roomNo
		return nil
	})
	if errors.Is(err, session.ErrNoDraft) {
		return Reply{Text: noActiveOrder}, session.ErrNoDraft
	}
	if errors.Is(err, errStageChanged) {
		return Reply{Text: answerCurrentQuestion}, nil
	}
	if err != nil {
		return d.commitFailed(user, err)
	}

	if err := Validate.Struct(committable{
		ProductID: draft.ProductID,
		Quantity:  draft.Quantity,
		Email:     draft.Email,
		FullName:  draft.FullName,
		Hall:      draft.Hall,
		RoomNo:    draft.RoomNo,
	}); err != nil {
		return d.commitFailed(user, fmt.Errorf("incomplete draft: %w", err))
	}

	product, err := d.store.GetProduct(ctx, draft.ProductID)
	if errors.Is(err, db.ErrNotFound) {
		return Reply{Text: "This product is no longer available. Use /products to choose another one."}, ErrProductNotFound
	}
	if err != nil {
		return d.commitFailed(user, err)
	}

	username := user.Username
	if username == "" {
		username = "Anonymous"
	}
	fullName := draft.FullName
	if fullName == "" {
		fullName = username
	}
	order := &db.Order{
		UserID:     user.ID,
		ChatID:     user.ChatID,
		Username:   username,
		FullName:   &fullName,
		Hall:       draft.Hall,
		RoomNo:     draft.RoomNo,
		DraftToken: draft.Token,
		CreatedAt:  d.now(),
		Items:      []db.OrderItem{{ProductID: product.ID, Quantity: draft.Quantity}},
	}
	if draft.Email != "" {
		email := draft.Email
		order.Email = &email
	}
	if dd, err := d.store.CurrentDeliveryDate(ctx); err == nil {
		order.DeliveryDateID = &dd.ID
	} else if !errors.Is(err, db.ErrNotFound) {
		logger.Error("load delivery date failed", zap.Error(err))
	}

	if err := d.store.CreateOrder(ctx, order); err != nil {
		return d.commitFailed(user, err)
	}
	order.Items[0].Product = *product

	if err := d.drafts.Clear(ctx, user.ID); err != nil {
		logger.Error("clear draft failed", zap.Int64("user_id", user.ID), zap.Error(err))
	}
	d.metrics.OrderCommitted()
	if err := d.events.Publish(ctx, TopicOrderCommitted, fmt.Sprint(order.ID), orderEvent(order, d.now())); err != nil {
		logger.Error("publish event failed", zap.String("topic", TopicOrderCommitted), zap.Error(err))
	}
	logger.Info("order committed", zap.Uint("order_id", order.ID), zap.Int64("user_id", user.ID))

	return Reply{Text: fmt.Sprintf("Your room number is %s\nOrder for %s added to cart. Use /cart to view your cart.", roomNo, product.Title)}, nil
}

func (d *Dialogue) commitFailed(user User, err error) (Reply, error) {
	d.metrics.CommitFailed()
	logger.Error("order commit failed", zap.Int64("user_id", user.ID), zap.Error(err))
	return Reply{Text: genericFailure}, fmt.Errorf("%w: %v", ErrCommitFailed, err)
}
