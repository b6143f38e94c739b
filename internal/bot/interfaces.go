package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BotInterface is the outbound Telegram surface the handlers use; the
// tests substitute a fake.
type BotInterface interface {
	SendMessage(chatID int64, text string) error
	SendMessageWithInlineKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) error

	AnswerCallbackQuery(callbackQueryID string) error

	DownloadFile(ctx context.Context, fileID string) ([]byte, string, error)
}
