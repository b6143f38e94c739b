package bot

import (
	"strings"

	"fuel-control/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Callback actions. The grammar is "action:argument".
const (
	ActionVehicle = "vehicle"
	ActionPay     = "pay"
	ActionFuel    = "fuel"
	ActionBack    = "back"
	ActionManual  = "manual"
	ActionRedo    = "redo"
)

// ParseCallback splits callback data into its action and argument.
func ParseCallback(data string) (action, arg string) {
	action, arg, _ = strings.Cut(data, ":")
	return action, arg
}

func vehicleKeyboard(vehicles []*models.Vehicle) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(vehicles))
	for _, v := range vehicles {
		label := "без номера"
		if v.PlateNumber != nil && *v.PlateNumber != "" {
			label = *v.PlateNumber
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, ActionVehicle+":"+v.ID),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func paymentKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Карта", "pay:CARD"),
			tgbotapi.NewInlineKeyboardButtonData("Наличные", "pay:CASH"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("QR", "pay:QR"),
			tgbotapi.NewInlineKeyboardButtonData("Оплатил сам", "pay:SELF"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Назад", "back:MILEAGE"),
		),
	)
}

func manualKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Перефоткать чек", "redo:photo"),
			tgbotapi.NewInlineKeyboardButtonData("Ввести вручную", "manual:start"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Назад", "back:PHOTO"),
		),
	)
}

func fuelKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("АИ-92", "fuel:AI92"),
			tgbotapi.NewInlineKeyboardButtonData("АИ-95", "fuel:AI95"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("ДТ", "fuel:DIESEL"),
			tgbotapi.NewInlineKeyboardButtonData("Газ", "fuel:GAS"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Назад", "back:FUEL"),
		),
	)
}

func backKeyboard(target string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Назад", "back:"+target),
		),
	)
}
