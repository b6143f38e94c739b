package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const ParseMode = "Markdown"

type TelegramBot struct {
	api      *tgbotapi.BotAPI
	handlers *Handlers
	log      *slog.Logger

	fileClient *http.Client
}

func NewTelegramBot(api *tgbotapi.BotAPI, handlers *Handlers, log *slog.Logger) *TelegramBot {
	return &TelegramBot{
		api:        api,
		handlers:   handlers,
		log:        log,
		fileClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Start runs the long-polling loop. Used when no webhook is configured.
func (b *TelegramBot) Start(ctx context.Context) {
	b.log.Info("Starting Telegram bot")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.log.Info("Stopping Telegram bot")
			return
		case update := <-updates:
			go b.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate dispatches one update. The webhook handler calls this
// directly instead of the polling loop.
func (b *TelegramBot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message != nil {
		b.handlers.HandleMessage(ctx, b, update)
	} else if update.CallbackQuery != nil {
		b.handlers.HandleCallback(ctx, b, update)
	}
}

func (b *TelegramBot) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = ParseMode
	_, err := b.api.Send(msg)
	return err
}

func (b *TelegramBot) SendMessageWithInlineKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = ParseMode
	msg.ReplyMarkup = keyboard
	_, err := b.api.Send(msg)
	return err
}

func (b *TelegramBot) AnswerCallbackQuery(callbackQueryID string) error {
	callback := tgbotapi.NewCallback(callbackQueryID, "")
	_, err := b.api.Request(callback)
	return err
}

// DownloadFile fetches a Telegram-hosted file by its file id and
// returns the bytes plus the remote path (for its extension).
func (b *TelegramBot) DownloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("failed to get file info: %w", err)
	}

	url := file.Link(b.api.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := b.fileClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to download file: http %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxFileSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read file body: %w", err)
	}

	return data, file.FilePath, nil
}

// SetWebhook registers the webhook URL with the optional shared
// secret. The request is built by hand: the library's WebhookConfig
// predates the secret_token parameter.
func (b *TelegramBot) SetWebhook(webhookURL, secret string) error {
	params := tgbotapi.Params{"url": webhookURL}
	params.AddNonEmpty("secret_token", secret)

	if _, err := b.api.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}
	return nil
}

func (b *TelegramBot) DeleteWebhook() error {
	_, err := b.api.Request(tgbotapi.DeleteWebhookConfig{})
	return err
}

func (b *TelegramBot) TestConnection() error {
	_, err := b.api.GetMe()
	return err
}

func (b *TelegramBot) SetDefaultCommands() error {
	commands := []tgbotapi.BotCommand{
		{Command: "start", Description: "Запустить бота"},
		{Command: "fuel", Description: "⛽ Добавить чек за топливо"},
		{Command: "help", Description: "🆘 Помощь"},
	}

	config := tgbotapi.NewSetMyCommands(commands...)
	_, err := b.api.Request(config)
	return err
}
