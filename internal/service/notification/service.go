package notification

import (
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
)

// Sender is the outbound Telegram surface the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type NotificationService struct {
	sender Sender
	log    *slog.Logger
}

func NewService(sender Sender, log *slog.Logger) *NotificationService {
	return &NotificationService{
		sender: sender,
		log:    log,
	}
}

// SendRecognitionSuccess tells the driver their receipt was recognized.
func (s *NotificationService) SendRecognitionSuccess(chatID int64, station string, total decimal.Decimal, receiptAt time.Time) error {
	if station == "" {
		station = "АЗС"
	}

	message := fmt.Sprintf(
		"✅ *Чек распознан*\n\n"+
			"🏪 %s\n"+
			"💰 %s ₽\n"+
			"🕒 %s",
		station,
		total.StringFixed(2),
		receiptAt.Format("02.01.2006 15:04"),
	)

	return s.sendSimpleMessage(chatID, message)
}

// SendRecognitionFailure asks the driver to resubmit the receipt.
func (s *NotificationService) SendRecognitionFailure(chatID int64) error {
	message := "❌ *Не удалось распознать чек*\n\n" +
		"Пришли фото ещё раз (QR-код должен быть чётким) или введи данные вручную: /fuel"

	return s.sendSimpleMessage(chatID, message)
}

func (s *NotificationService) SendMessage(chatID int64, message string) error {
	return s.sendSimpleMessage(chatID, message)
}

func (s *NotificationService) sendSimpleMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"

	_, err := s.sender.Send(msg)
	if err != nil {
		s.log.Error("Failed to send message to chat", "chatID", chatID, "error", err)
		return err
	}
	s.log.Info("Message sent to chat", "chatID", chatID)
	return nil
}
