package interfaces

import (
	"context"

	"fuel-control/internal/models"
)

// ConversationUpdate carries the conversation-state columns written by
// the bot router. Nil pointers clear the corresponding field.
type ConversationUpdate struct {
	Step          *models.ConversationStep
	VehicleID     *string
	Mileage       *int
	PaymentMethod *models.PaymentMethod
	ReceiptID     *string
	ReceiptFileID *string
}

type DriverRepository interface {
	GetByID(ctx context.Context, id string) (*models.Driver, error)
	GetByTelegramID(ctx context.Context, telegramUserID string) (*models.Driver, error)
	// UpsertByTelegramID creates the driver on first contact; an existing
	// driver keeps its stored name and is only touched (active, last seen).
	UpsertByTelegramID(ctx context.Context, telegramUserID, fullName string) (*models.Driver, error)
	TouchLastSeen(ctx context.Context, telegramUserID string) error
	UpdateConversation(ctx context.Context, driverID string, upd ConversationUpdate) error
	ClearConversation(ctx context.Context, driverID string) error
}
