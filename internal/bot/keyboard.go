package bot

import (
	"campus-order-bot/internal/services"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const buttonsPerRow = 2

func GetReplyKeyboard(isAdmin bool) tgbotapi.ReplyKeyboardMarkup {
	rows := [][]tgbotapi.KeyboardButton{
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/products"),
			tgbotapi.NewKeyboardButton("/cart"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/checkout"),
			tgbotapi.NewKeyboardButton("/paid_orders"),
			tgbotapi.NewKeyboardButton("/help"),
		),
	}
	if isAdmin {
		rows = append(rows,
			tgbotapi.NewKeyboardButtonRow(
				tgbotapi.NewKeyboardButton("/admin_stats"),
				tgbotapi.NewKeyboardButton("/admin_delivery"),
				tgbotapi.NewKeyboardButton("/admin_backup"),
			),
		)
	}
	return tgbotapi.NewReplyKeyboard(rows...)
}

// inlineKeyboard раскладывает кнопки по buttonsPerRow в ряд.
func inlineKeyboard(choices []services.Choice) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, c := range choices {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(c.Label, c.Data))
		if len(row) == buttonsPerRow {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// singleColumn - по одной кнопке в ряд (списки заказов и товаров).
func singleColumn(choices []services.Choice) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, c := range choices {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(c.Label, c.Data)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func replyMessage(chatID int64, reply services.Reply) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, reply.Text)
	if len(reply.Choices) > 0 {
		msg.ReplyMarkup = inlineKeyboard(reply.Choices)
	}
	return msg
}
