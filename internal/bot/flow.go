package bot

import (
	"strconv"
	"strings"
	"time"

	"fuel-control/internal/models"

	"github.com/shopspring/decimal"
)

// ConversationState is the typed intake state of one driver. The zero
// value means "no flow in progress".
type ConversationState struct {
	Step          models.ConversationStep
	VehicleID     string
	Mileage       *int
	PaymentMethod models.PaymentMethod
	ReceiptID     string
}

// Event is one inbound driver action fed to the state machine.
type Event interface{ isEvent() }

type EventStart struct{}

type EventVehicleChosen struct{ VehicleID string }

type EventText struct{ Text string }

type EventPaymentChosen struct{ Method models.PaymentMethod }

type EventFuelChosen struct{ FuelType models.FuelType }

type EventManualStart struct{}

type EventRedoPhoto struct{}

type EventPhoto struct{}

type EventBack struct{ Target string }

func (EventStart) isEvent()         {}
func (EventVehicleChosen) isEvent() {}
func (EventText) isEvent()          {}
func (EventPaymentChosen) isEvent() {}
func (EventFuelChosen) isEvent()    {}
func (EventManualStart) isEvent()   {}
func (EventRedoPhoto) isEvent()     {}
func (EventPhoto) isEvent()         {}
func (EventBack) isEvent()          {}

// EffectKind tells the handler which message to send and which side
// effect to run after persisting the new state.
type EffectKind int

const (
	EffectNone EffectKind = iota

	EffectPromptVehicles
	EffectPromptMileage
	EffectPromptPayment
	EffectPromptPhoto
	EffectPromptManualDate
	EffectPromptFuel
	EffectPromptLiters
	EffectPromptTotal

	EffectRetryMileage
	EffectRetryDate
	EffectRetryLiters
	EffectRetryTotal

	// EffectCreateManualDraft asks the handler to create the manual draft
	// receipt before prompting for the date.
	EffectCreateManualDraft
	EffectSetReceiptDate
	EffectSetReceiptFuel
	EffectSetReceiptLiters
	EffectFinalizeManual
	EffectSavePhoto

	// EffectNeedRestart means the event arrived with required state
	// missing; the driver is told to start over with /fuel.
	EffectNeedRestart
	EffectNeedPayment
	EffectUnknown
)

// Effect carries the kind plus any value parsed out of the event.
type Effect struct {
	Kind     EffectKind
	Mileage  int
	Date     time.Time
	Liters   decimal.Decimal
	Total    decimal.Decimal
	FuelType models.FuelType
}

// Advance is the pure transition function of the intake flow: no I/O,
// no clock, no randomness. The handler persists the returned state and
// interprets the effect.
func Advance(state ConversationState, event Event) (ConversationState, Effect) {
	switch ev := event.(type) {
	case EventStart:
		return ConversationState{Step: models.StepSelectVehicle}, Effect{Kind: EffectPromptVehicles}

	case EventVehicleChosen:
		state.VehicleID = ev.VehicleID
		state.Step = models.StepMileage
		return state, Effect{Kind: EffectPromptMileage}

	case EventPaymentChosen:
		state.PaymentMethod = ev.Method
		state.Step = models.StepPhoto
		return state, Effect{Kind: EffectPromptPhoto}

	case EventManualStart:
		if state.VehicleID == "" {
			return state, Effect{Kind: EffectNeedRestart}
		}
		state.Step = models.StepManualDate
		return state, Effect{Kind: EffectCreateManualDraft}

	case EventRedoPhoto:
		if state.PaymentMethod == "" && state.ReceiptID == "" {
			return state, Effect{Kind: EffectNeedPayment}
		}
		state.Step = models.StepPhoto
		return state, Effect{Kind: EffectPromptPhoto}

	case EventFuelChosen:
		if state.Step != models.StepManualFuel {
			return state, Effect{Kind: EffectUnknown}
		}
		state.Step = models.StepManualLiters
		return state, Effect{Kind: EffectSetReceiptFuel, FuelType: ev.FuelType}

	case EventPhoto:
		// An in-flight receipt means the driver is re-shooting the photo;
		// the new image replaces the stored one on the same receipt.
		if state.ReceiptID == "" {
			if state.VehicleID == "" {
				return state, Effect{Kind: EffectNeedRestart}
			}
			if state.PaymentMethod == "" {
				return state, Effect{Kind: EffectNeedPayment}
			}
		}
		// Photo accepted: the driver is awaiting the worker now, which
		// clears the conversation when it finishes the receipt.
		state.Step = models.StepPhoto
		return state, Effect{Kind: EffectSavePhoto}

	case EventText:
		return advanceText(state, ev.Text)

	case EventBack:
		return advanceBack(state, ev.Target)
	}

	return state, Effect{Kind: EffectUnknown}
}

func advanceText(state ConversationState, text string) (ConversationState, Effect) {
	text = strings.TrimSpace(text)

	switch state.Step {
	case models.StepMileage:
		value, err := strconv.ParseFloat(strings.ReplaceAll(text, ",", "."), 64)
		if err != nil || value < 0 {
			return state, Effect{Kind: EffectRetryMileage}
		}
		mileage := int(value + 0.5)
		state.Mileage = &mileage
		state.Step = models.StepPayment
		return state, Effect{Kind: EffectPromptPayment, Mileage: mileage}

	case models.StepManualDate:
		parsed, err := time.Parse("2006-01-02 15:04", text)
		if err != nil {
			return state, Effect{Kind: EffectRetryDate}
		}
		state.Step = models.StepManualFuel
		return state, Effect{Kind: EffectSetReceiptDate, Date: parsed}

	case models.StepManualLiters:
		liters, err := decimal.NewFromString(strings.ReplaceAll(text, ",", "."))
		if err != nil || !liters.IsPositive() {
			return state, Effect{Kind: EffectRetryLiters}
		}
		state.Step = models.StepManualTotal
		return state, Effect{Kind: EffectSetReceiptLiters, Liters: liters}

	case models.StepManualTotal:
		total, err := decimal.NewFromString(strings.ReplaceAll(text, ",", "."))
		if err != nil || !total.IsPositive() {
			return state, Effect{Kind: EffectRetryTotal}
		}
		// State stays as-is: the handler clears it only after the
		// receipt commit succeeds, so a failed commit can be retried.
		return state, Effect{Kind: EffectFinalizeManual, Total: total}

	default:
		return state, Effect{Kind: EffectUnknown}
	}
}

// advanceBack rewinds to the named step, clearing everything captured
// after it. A created receipt is never deleted by going back.
func advanceBack(state ConversationState, target string) (ConversationState, Effect) {
	switch target {
	case "VEHICLE":
		state.Step = models.StepSelectVehicle
		state.VehicleID = ""
		state.Mileage = nil
		state.PaymentMethod = ""
		return state, Effect{Kind: EffectPromptVehicles}

	case "MILEAGE":
		state.Step = models.StepMileage
		state.PaymentMethod = ""
		return state, Effect{Kind: EffectPromptMileage}

	case "PHOTO":
		state.Step = models.StepPayment
		return state, Effect{Kind: EffectPromptPayment}

	case "PAYMENT":
		state.Step = models.StepPayment
		state.PaymentMethod = ""
		return state, Effect{Kind: EffectPromptPayment}

	case "FUEL":
		state.Step = models.StepManualDate
		return state, Effect{Kind: EffectPromptManualDate}

	case "MANUAL_FUEL":
		state.Step = models.StepManualFuel
		return state, Effect{Kind: EffectPromptFuel}

	case "MANUAL_LITERS":
		state.Step = models.StepManualLiters
		return state, Effect{Kind: EffectPromptLiters}
	}

	return state, Effect{Kind: EffectUnknown}
}

// StateFromDriver loads the typed state out of the driver's persisted
// conversation columns.
func StateFromDriver(driver *models.Driver) ConversationState {
	state := ConversationState{}
	if driver.PendingStep != nil {
		state.Step = *driver.PendingStep
	}
	if driver.PendingVehicleID != nil {
		state.VehicleID = *driver.PendingVehicleID
	}
	state.Mileage = driver.PendingMileage
	if driver.PendingPaymentMethod != nil {
		state.PaymentMethod = *driver.PendingPaymentMethod
	}
	if driver.PendingReceiptID != nil {
		state.ReceiptID = *driver.PendingReceiptID
	}
	return state
}
