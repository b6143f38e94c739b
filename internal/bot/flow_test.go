package bot

import (
	"testing"

	"fuel-control/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvance_CanonicalPath(t *testing.T) {
	state := ConversationState{}

	state, effect := Advance(state, EventStart{})
	assert.Equal(t, models.StepSelectVehicle, state.Step)
	assert.Equal(t, EffectPromptVehicles, effect.Kind)

	state, effect = Advance(state, EventVehicleChosen{VehicleID: "veh-1"})
	assert.Equal(t, models.StepMileage, state.Step)
	assert.Equal(t, "veh-1", state.VehicleID)
	assert.Equal(t, EffectPromptMileage, effect.Kind)

	state, effect = Advance(state, EventText{Text: "120500"})
	assert.Equal(t, models.StepPayment, state.Step)
	require.NotNil(t, state.Mileage)
	assert.Equal(t, 120500, *state.Mileage)
	assert.Equal(t, EffectPromptPayment, effect.Kind)

	state, effect = Advance(state, EventPaymentChosen{Method: models.PaymentCard})
	assert.Equal(t, models.StepPhoto, state.Step)
	assert.Equal(t, models.PaymentCard, state.PaymentMethod)
	assert.Equal(t, EffectPromptPhoto, effect.Kind)

	state, effect = Advance(state, EventPhoto{})
	assert.Equal(t, EffectSavePhoto, effect.Kind)
	assert.Equal(t, models.StepPhoto, state.Step, "driver awaits the worker, which clears the state")
	assert.Equal(t, "veh-1", state.VehicleID)
	require.NotNil(t, state.Mileage)
	assert.Equal(t, models.PaymentCard, state.PaymentMethod)
}

func TestAdvance_SecondPhotoReplacesInFlightReceipt(t *testing.T) {
	// First photo accepted, receipt created, worker still busy.
	state := ConversationState{
		Step:          models.StepPhoto,
		VehicleID:     "veh-1",
		PaymentMethod: models.PaymentCard,
		ReceiptID:     "rc-1",
	}

	state, effect := Advance(state, EventPhoto{})
	assert.Equal(t, EffectSavePhoto, effect.Kind)
	assert.Equal(t, "rc-1", state.ReceiptID)

	// Even after the worker cleared the conversation the receipt
	// reference alone is enough to accept a re-shot photo.
	state, effect = Advance(ConversationState{ReceiptID: "rc-1"}, EventPhoto{})
	assert.Equal(t, EffectSavePhoto, effect.Kind)
	assert.Equal(t, "rc-1", state.ReceiptID)
}

func TestAdvance_RedoPhotoWithReceiptOnly(t *testing.T) {
	state := ConversationState{ReceiptID: "rc-1"}

	state, effect := Advance(state, EventRedoPhoto{})
	assert.Equal(t, EffectPromptPhoto, effect.Kind)
	assert.Equal(t, models.StepPhoto, state.Step)

	state, effect = Advance(state, EventPhoto{})
	assert.Equal(t, EffectSavePhoto, effect.Kind)
	assert.Equal(t, "rc-1", state.ReceiptID)
}

func TestAdvance_ManualBranch(t *testing.T) {
	state := ConversationState{
		Step:          models.StepPhoto,
		VehicleID:     "veh-1",
		PaymentMethod: models.PaymentCash,
	}

	state, effect := Advance(state, EventManualStart{})
	assert.Equal(t, models.StepManualDate, state.Step)
	assert.Equal(t, EffectCreateManualDraft, effect.Kind)

	state, effect = Advance(state, EventText{Text: "2024-03-10 18:42"})
	assert.Equal(t, models.StepManualFuel, state.Step)
	assert.Equal(t, EffectSetReceiptDate, effect.Kind)
	assert.Equal(t, 2024, effect.Date.Year())
	assert.Equal(t, 18, effect.Date.Hour())

	state, effect = Advance(state, EventFuelChosen{FuelType: models.FuelAI95})
	assert.Equal(t, models.StepManualLiters, state.Step)
	assert.Equal(t, EffectSetReceiptFuel, effect.Kind)
	assert.Equal(t, models.FuelAI95, effect.FuelType)

	state, effect = Advance(state, EventText{Text: "30,5"})
	assert.Equal(t, models.StepManualTotal, state.Step)
	assert.Equal(t, EffectSetReceiptLiters, effect.Kind)
	assert.Equal(t, "30.5", effect.Liters.String())

	state, effect = Advance(state, EventText{Text: "1500.50"})
	assert.Equal(t, EffectFinalizeManual, effect.Kind)
	assert.Equal(t, "1500.5", effect.Total.String())
	assert.Equal(t, models.StepManualTotal, state.Step,
		"state survives until the receipt commit succeeds")
}

func TestAdvance_InvalidInputsReprompt(t *testing.T) {
	tests := []struct {
		name  string
		state ConversationState
		text  string
		want  EffectKind
	}{
		{"mileage letters", ConversationState{Step: models.StepMileage}, "abc", EffectRetryMileage},
		{"mileage negative", ConversationState{Step: models.StepMileage}, "-5", EffectRetryMileage},
		{"date garbage", ConversationState{Step: models.StepManualDate}, "10 марта", EffectRetryDate},
		{"liters zero", ConversationState{Step: models.StepManualLiters}, "0", EffectRetryLiters},
		{"liters negative", ConversationState{Step: models.StepManualLiters}, "-1", EffectRetryLiters},
		{"total zero", ConversationState{Step: models.StepManualTotal}, "0", EffectRetryTotal},
		{"total garbage", ConversationState{Step: models.StepManualTotal}, "много", EffectRetryTotal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, effect := Advance(tt.state, EventText{Text: tt.text})
			assert.Equal(t, tt.want, effect.Kind)
			assert.Equal(t, tt.state.Step, next.Step, "invalid input never advances")
		})
	}
}

func TestAdvance_MileageRounding(t *testing.T) {
	state := ConversationState{Step: models.StepMileage}

	next, _ := Advance(state, EventText{Text: "120500.7"})
	require.NotNil(t, next.Mileage)
	assert.Equal(t, 120501, *next.Mileage)
}

func TestAdvance_GuardsWithoutPriorSteps(t *testing.T) {
	_, effect := Advance(ConversationState{Step: models.StepPhoto}, EventManualStart{})
	assert.Equal(t, EffectNeedRestart, effect.Kind, "manual entry needs a vehicle")

	_, effect = Advance(ConversationState{VehicleID: "veh-1"}, EventPhoto{})
	assert.Equal(t, EffectNeedPayment, effect.Kind, "photo needs a payment method")

	_, effect = Advance(ConversationState{}, EventPhoto{})
	assert.Equal(t, EffectNeedRestart, effect.Kind, "photo needs a vehicle first")

	_, effect = Advance(ConversationState{}, EventRedoPhoto{})
	assert.Equal(t, EffectNeedPayment, effect.Kind)
}

func TestAdvance_BackNavigation(t *testing.T) {
	full := ConversationState{
		Step:          models.StepPhoto,
		VehicleID:     "veh-1",
		Mileage:       intPtr(1000),
		PaymentMethod: models.PaymentCard,
		ReceiptID:     "rc-1",
	}

	t.Run("back to vehicle clears captured fields", func(t *testing.T) {
		next, effect := Advance(full, EventBack{Target: "VEHICLE"})
		assert.Equal(t, EffectPromptVehicles, effect.Kind)
		assert.Equal(t, models.StepSelectVehicle, next.Step)
		assert.Empty(t, next.VehicleID)
		assert.Nil(t, next.Mileage)
		assert.Empty(t, next.PaymentMethod)
		assert.Equal(t, "rc-1", next.ReceiptID, "back never deletes a created receipt")
	})

	t.Run("back to mileage keeps vehicle", func(t *testing.T) {
		next, effect := Advance(full, EventBack{Target: "MILEAGE"})
		assert.Equal(t, EffectPromptMileage, effect.Kind)
		assert.Equal(t, models.StepMileage, next.Step)
		assert.Equal(t, "veh-1", next.VehicleID)
		assert.Empty(t, next.PaymentMethod)
	})

	t.Run("back from photo returns to payment", func(t *testing.T) {
		next, effect := Advance(full, EventBack{Target: "PHOTO"})
		assert.Equal(t, EffectPromptPayment, effect.Kind)
		assert.Equal(t, models.StepPayment, next.Step)
	})

	t.Run("manual branch backs", func(t *testing.T) {
		next, effect := Advance(full, EventBack{Target: "FUEL"})
		assert.Equal(t, EffectPromptManualDate, effect.Kind)
		assert.Equal(t, models.StepManualDate, next.Step)

		next, effect = Advance(full, EventBack{Target: "MANUAL_FUEL"})
		assert.Equal(t, EffectPromptFuel, effect.Kind)
		assert.Equal(t, models.StepManualFuel, next.Step)

		next, effect = Advance(full, EventBack{Target: "MANUAL_LITERS"})
		assert.Equal(t, EffectPromptLiters, effect.Kind)
		assert.Equal(t, models.StepManualLiters, next.Step)
	})
}

func TestAdvance_StartResetsMidFlow(t *testing.T) {
	state := ConversationState{
		Step:          models.StepManualLiters,
		VehicleID:     "veh-1",
		PaymentMethod: models.PaymentQR,
		ReceiptID:     "rc-1",
	}

	next, effect := Advance(state, EventStart{})
	assert.Equal(t, EffectPromptVehicles, effect.Kind)
	assert.Equal(t, ConversationState{Step: models.StepSelectVehicle}, next, "start wipes the flow including the receipt reference")
}

func TestAdvance_TextOutsideFlowIsUnknown(t *testing.T) {
	_, effect := Advance(ConversationState{}, EventText{Text: "привет"})
	assert.Equal(t, EffectUnknown, effect.Kind)
}

func TestAdvance_FuelOutsideManualFuelStep(t *testing.T) {
	state := ConversationState{Step: models.StepMileage}
	next, effect := Advance(state, EventFuelChosen{FuelType: models.FuelGas})
	assert.Equal(t, EffectUnknown, effect.Kind)
	assert.Equal(t, state, next)
}

func TestParseCallback(t *testing.T) {
	action, arg := ParseCallback("vehicle:abc-123")
	assert.Equal(t, "vehicle", action)
	assert.Equal(t, "abc-123", arg)

	action, arg = ParseCallback("manual:start")
	assert.Equal(t, "manual", action)
	assert.Equal(t, "start", arg)

	action, arg = ParseCallback("noseparator")
	assert.Equal(t, "noseparator", action)
	assert.Empty(t, arg)
}

func intPtr(v int) *int { return &v }
