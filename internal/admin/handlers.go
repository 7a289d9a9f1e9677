package admin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"campus-order-bot/internal/db"
	"campus-order-bot/internal/logger"
	"campus-order-bot/internal/services"

	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Handler выполняет команды администратора /admin_*.
type Handler struct {
	store     services.Store
	bot       logger.Sender
	adminID   int64
	dsn       string
	backupDir string
	now       func() time.Time
}

func NewHandler(store services.Store, bot logger.Sender, adminID int64, dsn string) *Handler {
	return &Handler{
		store:     store,
		bot:       bot,
		adminID:   adminID,
		dsn:       dsn,
		backupDir: defaultBackupDir,
		now:       time.Now,
	}
}

func (h *Handler) IsAdmin(userID int64) bool {
	return h.adminID != 0 && userID == h.adminID
}

// Handle обрабатывает команду администратора. false - сообщение не от админа или не команда /admin_*.
func (h *Handler) Handle(ctx context.Context, msg *tgbotapi.Message) bool {
	if msg == nil || msg.From == nil || !h.IsAdmin(msg.From.ID) || !strings.HasPrefix(msg.Command(), "admin_") {
		return false
	}
	cmd := msg.Command()
	args := strings.Fields(msg.CommandArguments())
	var reply string
	switch cmd {
	case "admin_stats":
		reply = h.stats(ctx)
	case "admin_delivery":
		reply = h.delivery(ctx, args)
	case "admin_deliver":
		reply = h.deliver(ctx, args)
	case "admin_order":
		reply = h.order(ctx, args)
	case "admin_addproduct":
		reply = h.addProduct(ctx, args)
	case "admin_backup":
		h.backup(ctx, msg.Chat.ID)
	default:
		reply = "Неизвестная команда. Доступно: /admin_stats, /admin_delivery, /admin_deliver, /admin_order, /admin_addproduct, /admin_backup"
	}
	if reply != "" {
		h.send(msg.Chat.ID, reply)
	}
	logger.LogAdminAction(h.adminID, cmd, msg.Text)
	return true
}

func (h *Handler) send(chatID int64, text string) {
	if _, err := h.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		logger.Error("admin reply not delivered", zap.Error(err))
	}
}

func (h *Handler) stats(ctx context.Context) string {
	st, err := h.store.Stats(ctx)
	if err != nil {
		return "Ошибка статистики: " + err.Error()
	}
	msg := fmt.Sprintf("Заказов: %d\nОплачено: %d\nВыручка: ₦%d", st.Orders, st.PaidOrders, st.PaidRevenue)
	if dd, err := h.store.CurrentDeliveryDate(ctx); err == nil {
		msg += "\nДата доставки: " + dd.Date.Format(time.DateOnly)
	}
	return msg
}

// delivery: без аргументов показывает текущую дату доставки, с аргументом YYYY-MM-DD заменяет её.
func (h *Handler) delivery(ctx context.Context, args []string) string {
	if len(args) == 0 {
		dd, err := h.store.CurrentDeliveryDate(ctx)
		if errors.Is(err, db.ErrNotFound) {
			return "Дата доставки не задана. Использование: /admin_delivery 2006-01-02"
		}
		if err != nil {
			return "Ошибка: " + err.Error()
		}
		return "Текущая дата доставки: " + dd.Date.Format(time.DateOnly)
	}
	date, err := time.Parse(time.DateOnly, args[0])
	if err != nil {
		return "Неверный формат даты, нужен YYYY-MM-DD"
	}
	dd, err := h.store.SetDeliveryDate(ctx, date, h.now())
	if errors.Is(err, db.ErrDeliveryDateInPast) {
		return "Дата доставки не может быть в прошлом"
	}
	if err != nil {
		return "Ошибка сохранения даты: " + err.Error()
	}
	return "Дата доставки установлена: " + dd.Date.Format(time.DateOnly)
}

func parseOrderID(args []string) (uint, bool) {
	if len(args) < 1 {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func (h *Handler) deliver(ctx context.Context, args []string) string {
	id, ok := parseOrderID(args)
	if !ok {
		return "Использование: /admin_deliver <order_id>"
	}
	order, err := h.store.GetOrder(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return "Заказ не найден"
	}
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	if !order.Paid {
		return fmt.Sprintf("Заказ #%d ещё не оплачен", id)
	}
	if err := h.store.MarkDelivered(ctx, id); err != nil {
		return "Ошибка: " + err.Error()
	}
	chatID := order.ChatID
	if chatID == 0 {
		chatID = order.UserID
	}
	h.send(chatID, fmt.Sprintf("Your order #%d has been delivered. Thank you!", id))
	return fmt.Sprintf("Заказ #%d отмечен как доставленный", id)
}

func (h *Handler) order(ctx context.Context, args []string) string {
	id, ok := parseOrderID(args)
	if !ok {
		return "Использование: /admin_order <order_id>"
	}
	o, err := h.store.GetOrder(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return "Заказ не найден"
	}
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Заказ #%d (@%s)\n%s, %s hall, room %s\n", o.ID, o.Username, o.DisplayName(), o.Hall, o.RoomNo))
	for _, item := range o.Items {
		sb.WriteString(fmt.Sprintf("- %s x%d\n", item.Product.Title, item.Quantity))
	}
	sb.WriteString(fmt.Sprintf("Сумма: ₦%d\nОплачен: %v, доставлен: %v", o.Total(), o.Paid, o.Delivered))
	if o.Receipt != nil {
		sb.WriteString("\nReference: " + o.Receipt.PaymentRef)
	}
	return sb.String()
}

func (h *Handler) addProduct(ctx context.Context, args []string) string {
	if len(args) < 2 {
		return "Использование: /admin_addproduct <price> <title>"
	}
	price, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || price <= 0 {
		return "Ошибка: цена должна быть целым положительным числом"
	}
	product := db.Product{Title: strings.Join(args[1:], " "), Price: price}
	if err := h.store.CreateProduct(ctx, &product); err != nil {
		return "Ошибка добавления товара: " + err.Error()
	}
	return fmt.Sprintf("Товар добавлен: #%d %s (₦%d)", product.ID, product.Title, product.Price)
}

func (h *Handler) backup(ctx context.Context, chatID int64) {
	filename, err := BackupDatabase(ctx, h.backupDir, "backup", h.dsn)
	if err != nil {
		h.send(chatID, "Ошибка резервного копирования: "+err.Error())
		return
	}
	file := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(filename))
	file.Caption = "Резервная копия БД успешно создана"
	if _, err := h.bot.Send(file); err != nil {
		logger.Error("backup not delivered", zap.Error(err))
	}
	_ = os.Remove(filename)
}
