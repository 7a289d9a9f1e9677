package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"campus-order-bot/internal/db"
	"campus-order-bot/internal/logger"
	"campus-order-bot/internal/services"

	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Префиксы и значения callback-данных inline-кнопок.
const (
	cbProducts        = "products"
	cbHelp            = "help"
	cbProduct         = "product_"
	cbOrder           = "order_"
	cbCheckoutOrder   = "checkout_order_"
	cbRemoveOrder     = "remove_order_"
	cbCheckoutChooser = "checkout_single_order"
	cbRemoveChooser   = "remove_order_cart"
)

const helpText = `I can help you order a carton of Indomie delivered to your hall.

/products - view available products and place an order
/cart - view orders waiting for payment
/checkout - pay for an order
/paid_orders - view paid orders and delivery status
/help - show this message`

const tooFast = "Please slow down and try again in a few seconds."

// HandleUpdate обрабатывает одно обновление синхронно.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.record("callback")
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.From != nil:
		b.record("message")
		b.handleMessage(ctx, update.Message)
	default:
		b.record("other")
	}
}

func (b *Bot) record(kind string) {
	if b.metrics != nil {
		b.metrics.Update(kind)
	}
}

func userFrom(from *tgbotapi.User, chat *tgbotapi.Chat) services.User {
	u := services.User{ID: from.ID, ChatID: from.ID, Username: from.UserName}
	if chat != nil {
		u.ChatID = chat.ID
	}
	return u
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		logger.Error("telegram send failed", zap.Error(err))
	}
}

func (b *Bot) sendText(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) handleMessage(ctx context.Context, m *tgbotapi.Message) {
	user := userFrom(m.From, m.Chat)

	if m.IsCommand() {
		cmd := "/" + m.Command()
		if b.admin.Handle(ctx, m) {
			return
		}
		if b.limiter.IsLimited(user.ID, cmd) {
			b.sendText(user.ChatID, tooFast)
			return
		}
		switch m.Command() {
		case "start", "help":
			msg := tgbotapi.NewMessage(user.ChatID, helpText)
			msg.ReplyMarkup = GetReplyKeyboard(b.admin.IsAdmin(user.ID))
			b.send(msg)
		case "products":
			b.showProducts(ctx, user)
		case "cart":
			b.showCart(ctx, user)
		case "checkout":
			b.chooseOrder(ctx, user, cbCheckoutOrder, "Select an order to checkout:")
		case "paid_orders", "payed_orders":
			b.showPaid(ctx, user)
		default:
			b.sendText(user.ChatID, "Unknown command. Use /help to see what I can do.")
		}
		return
	}

	reply, handled, _ := b.dialogue.HandleText(ctx, user, m.Text)
	if !handled {
		switch strings.ToLower(strings.TrimSpace(m.Text)) {
		case "products":
			b.showProducts(ctx, user)
		case "help":
			b.sendText(user.ChatID, helpText)
		default:
			b.sendText(user.ChatID, "No active order found. Use /products to start a new order or /help for the list of commands.")
		}
		return
	}
	b.send(replyMessage(user.ChatID, reply))
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.From == nil {
		return
	}
	var chat *tgbotapi.Chat
	if cq.Message != nil {
		chat = cq.Message.Chat
	}
	user := userFrom(cq.From, chat)
	data := cq.Data
	answer := ""

	switch {
	case data == cbProducts:
		b.showProducts(ctx, user)
	case data == cbHelp:
		b.sendText(user.ChatID, helpText)
	case data == cbCheckoutChooser:
		b.chooseOrder(ctx, user, cbCheckoutOrder, "Select an order to checkout:")
	case data == cbRemoveChooser:
		b.chooseOrder(ctx, user, cbRemoveOrder, "Select an order to remove:")
	case strings.HasPrefix(data, services.HallPrefix):
		reply, _ := b.dialogue.SelectHall(ctx, user, strings.TrimPrefix(data, services.HallPrefix))
		b.send(replyMessage(user.ChatID, reply))
	case strings.HasPrefix(data, cbProduct):
		answer = b.withID(data, cbProduct, func(id uint) { b.showProduct(ctx, user, id) })
	case strings.HasPrefix(data, cbOrder):
		answer = b.withID(data, cbOrder, func(id uint) {
			reply, _ := b.dialogue.Begin(ctx, user, id)
			b.send(replyMessage(user.ChatID, reply))
		})
	case strings.HasPrefix(data, cbCheckoutOrder):
		if b.limiter.IsLimited(user.ID, "checkout_order") {
			answer = tooFast
			break
		}
		answer = b.withID(data, cbCheckoutOrder, func(id uint) { b.checkoutOrder(ctx, user, id) })
	case strings.HasPrefix(data, cbRemoveOrder):
		answer = b.withID(data, cbRemoveOrder, func(id uint) { b.removeOrder(ctx, user, id) })
	default:
		answer = "Unknown action"
	}

	if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, answer)); err != nil {
		logger.Error("answer callback failed", zap.Error(err))
	}
}

// withID разбирает числовой идентификатор после префикса и вызывает fn.
func (b *Bot) withID(data, prefix string, fn func(id uint)) string {
	id, err := strconv.ParseUint(strings.TrimPrefix(data, prefix), 10, 64)
	if err != nil || id == 0 {
		return "Invalid selection"
	}
	fn(uint(id))
	return ""
}

func (b *Bot) showProducts(ctx context.Context, user services.User) {
	products, err := b.store.ListProducts(ctx)
	if err != nil {
		logger.Error("list products failed", zap.Error(err))
		b.sendText(user.ChatID, "Could not load products. Please try again later.")
		return
	}
	if len(products) == 0 {
		b.sendText(user.ChatID, "No products are available right now.")
		return
	}
	choices := make([]services.Choice, 0, len(products))
	for _, p := range products {
		choices = append(choices, services.Choice{Label: fmt.Sprintf("%s - ₦%d", p.Title, p.Price), Data: cbProduct + strconv.FormatUint(uint64(p.ID), 10)})
	}
	msg := tgbotapi.NewMessage(user.ChatID, "Available products:")
	msg.ReplyMarkup = singleColumn(choices)
	b.send(msg)
}

func (b *Bot) showProduct(ctx context.Context, user services.User, id uint) {
	p, err := b.store.GetProduct(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		b.sendText(user.ChatID, "Product not found. Use /products to see what is available.")
		return
	}
	if err != nil {
		logger.Error("get product failed", zap.Uint("product_id", id), zap.Error(err))
		b.sendText(user.ChatID, "Could not load the product. Please try again later.")
		return
	}
	text := fmt.Sprintf("%s\nPrice: ₦%d", p.Title, p.Price)
	if p.Description != nil && *p.Description != "" {
		text += "\n\n" + *p.Description
	}
	msg := tgbotapi.NewMessage(user.ChatID, text)
	msg.ReplyMarkup = singleColumn([]services.Choice{
		{Label: "Add to Cart", Data: cbOrder + strconv.FormatUint(uint64(p.ID), 10)},
		{Label: "Back to products", Data: cbProducts},
	})
	b.send(msg)
}

func orderLines(o *db.Order) string {
	var sb strings.Builder
	for _, item := range o.Items {
		sb.WriteString(fmt.Sprintf("- %s x%d (₦%d)\n", item.Product.Title, item.Quantity, item.Product.Price*int64(item.Quantity)))
	}
	return sb.String()
}

func (b *Bot) showCart(ctx context.Context, user services.User) {
	orders, err := b.checkout.ListUnpaid(ctx, user.ID)
	if err != nil {
		logger.Error("list unpaid failed", zap.Int64("user_id", user.ID), zap.Error(err))
		b.sendText(user.ChatID, "Could not load your cart. Please try again later.")
		return
	}
	if len(orders) == 0 {
		b.sendText(user.ChatID, "Your cart is empty.")
		return
	}
	var sb strings.Builder
	sb.WriteString("Your cart:\n\n")
	for i := range orders {
		sb.WriteString(fmt.Sprintf("Order #%d:\n%s\n", orders[i].ID, orderLines(&orders[i])))
	}
	msg := tgbotapi.NewMessage(user.ChatID, sb.String())
	msg.ReplyMarkup = singleColumn([]services.Choice{
		{Label: "Checkout an Order", Data: cbCheckoutChooser},
		{Label: "Remove an Order from Cart", Data: cbRemoveChooser},
	})
	b.send(msg)
}

// chooseOrder предлагает выбрать один из неоплаченных заказов.
func (b *Bot) chooseOrder(ctx context.Context, user services.User, prefix, prompt string) {
	orders, err := b.checkout.ListUnpaid(ctx, user.ID)
	if err != nil {
		logger.Error("list unpaid failed", zap.Int64("user_id", user.ID), zap.Error(err))
		b.sendText(user.ChatID, "Could not load your orders. Please try again later.")
		return
	}
	if len(orders) == 0 {
		if prefix == cbCheckoutOrder {
			b.sendText(user.ChatID, "You have no incomplete orders to checkout.")
		} else {
			b.sendText(user.ChatID, "Your cart is empty.")
		}
		return
	}
	choices := make([]services.Choice, 0, len(orders))
	for _, o := range orders {
		choices = append(choices, services.Choice{Label: fmt.Sprintf("Order #%d", o.ID), Data: prefix + strconv.FormatUint(uint64(o.ID), 10)})
	}
	msg := tgbotapi.NewMessage(user.ChatID, prompt)
	msg.ReplyMarkup = singleColumn(choices)
	b.send(msg)
}

func (b *Bot) checkoutOrder(ctx context.Context, user services.User, orderID uint) {
	inv, err := b.checkout.Initiate(ctx, user.ID, orderID)
	var gerr *services.GatewayError
	switch {
	case err == nil:
		b.sendText(user.ChatID, fmt.Sprintf("You're checking out Order #%d:\n%s\nTotal: ₦%d\n\nClick the link below to complete your payment:\n%s",
			orderID, orderLines(inv.Order), inv.Total, inv.URL))
	case errors.Is(err, services.ErrOrderNotFound), errors.Is(err, services.ErrOrderAlreadyPaid):
		b.sendText(user.ChatID, "Order not found or already checked out.")
	case errors.As(err, &gerr):
		b.sendText(user.ChatID, "Payment could not be started: "+gerr.Message)
	default:
		b.sendText(user.ChatID, "Payment service is unavailable right now. Please try again later.")
	}
}

func (b *Bot) removeOrder(ctx context.Context, user services.User, orderID uint) {
	err := b.checkout.Remove(ctx, user.ID, orderID)
	switch {
	case err == nil:
		b.sendText(user.ChatID, fmt.Sprintf("Order #%d removed from your cart.", orderID))
	case errors.Is(err, services.ErrOrderNotFound):
		b.sendText(user.ChatID, "Order not found. Please try again.")
	case errors.Is(err, services.ErrOrderAlreadyPaid):
		b.sendText(user.ChatID, "Paid orders cannot be removed.")
	default:
		logger.Error("remove order failed", zap.Uint("order_id", orderID), zap.Error(err))
		b.sendText(user.ChatID, "Could not remove the order. Please try again later.")
	}
}

func (b *Bot) showPaid(ctx context.Context, user services.User) {
	orders, err := b.checkout.ListPaid(ctx, user.ID)
	if err != nil {
		logger.Error("list paid failed", zap.Int64("user_id", user.ID), zap.Error(err))
		b.sendText(user.ChatID, "Could not load your orders. Please try again later.")
		return
	}
	if len(orders) == 0 {
		b.sendText(user.ChatID, "You haven't checked out any orders \nUse /cart to view unpaid orders \nUse /checkout to checkout an order \nUse /products to view available products")
		return
	}
	var sb strings.Builder
	sb.WriteString("Your checked out orders\n\n")
	for i := range orders {
		o := &orders[i]
		status := "pending"
		if o.Delivered {
			status = "delivered"
		}
		sb.WriteString(fmt.Sprintf("Order #%d:\n%sDelivery: %s\n", o.ID, orderLines(&o.Order), status))
		if o.ReceiptURL != "" {
			sb.WriteString("Receipt: " + o.ReceiptURL + "\n")
		}
		sb.WriteString("\n")
	}
	b.sendText(user.ChatID, sb.String())
}
