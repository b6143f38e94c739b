package models

import "time"

type ConversationStep string

const (
	StepSelectVehicle ConversationStep = "SELECT_VEHICLE"
	StepMileage       ConversationStep = "MILEAGE"
	StepPayment       ConversationStep = "PAYMENT"
	StepPhoto         ConversationStep = "PHOTO"
	StepManualDate    ConversationStep = "MANUAL_DATE"
	StepManualFuel    ConversationStep = "MANUAL_FUEL"
	StepManualLiters  ConversationStep = "MANUAL_LITERS"
	StepManualTotal   ConversationStep = "MANUAL_TOTAL"
)

func (s ConversationStep) IsValid() bool {
	switch s {
	case StepSelectVehicle, StepMileage, StepPayment, StepPhoto,
		StepManualDate, StepManualFuel, StepManualLiters, StepManualTotal:
		return true
	default:
		return false
	}
}

func (s ConversationStep) String() string {
	return string(s)
}

type Driver struct {
	ID             string    `json:"id"`
	TelegramUserID string    `json:"telegram_user_id"`
	FullName       string    `json:"full_name"`
	IsActive       bool      `json:"is_active"`
	IsPinned       bool      `json:"is_pinned"`
	LastSeenAt     time.Time `json:"last_seen_at"`
	CreatedAt      time.Time `json:"created_at"`

	// Conversation state of the intake flow. Mutated only by the bot
	// router and cleared when a flow completes or the worker finishes
	// the in-flight receipt.
	PendingStep          *ConversationStep `json:"pending_step"`
	PendingVehicleID     *string           `json:"pending_vehicle_id"`
	PendingMileage       *int              `json:"pending_mileage"`
	PendingPaymentMethod *PaymentMethod    `json:"pending_payment_method"`
	PendingReceiptID     *string           `json:"pending_receipt_id"`
	PendingReceiptFileID *string           `json:"pending_receipt_file_id"`
}
