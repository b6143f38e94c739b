package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type ReceiptStatus string

const (
	ReceiptStatusPending ReceiptStatus = "PENDING"
	ReceiptStatusDone    ReceiptStatus = "DONE"
	ReceiptStatusFailed  ReceiptStatus = "FAILED"
)

func (s ReceiptStatus) IsValid() bool {
	switch s {
	case ReceiptStatusPending, ReceiptStatusDone, ReceiptStatusFailed:
		return true
	default:
		return false
	}
}

func (s ReceiptStatus) String() string {
	return string(s)
}

type DataSource string

const (
	DataSourceTelegram DataSource = "TELEGRAM"
	DataSourceQR       DataSource = "QR"
	DataSourceManual   DataSource = "MANUAL"
	DataSourceAPI      DataSource = "API"
)

type PaymentMethod string

const (
	PaymentCard PaymentMethod = "CARD"
	PaymentCash PaymentMethod = "CASH"
	PaymentQR   PaymentMethod = "QR"
	PaymentSelf PaymentMethod = "SELF"
)

func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	switch PaymentMethod(s) {
	case PaymentCard, PaymentCash, PaymentQR, PaymentSelf:
		return PaymentMethod(s), true
	default:
		return "", false
	}
}

type FuelType string

const (
	FuelAI92   FuelType = "AI92"
	FuelAI95   FuelType = "AI95"
	FuelDiesel FuelType = "DIESEL"
	FuelGas    FuelType = "GAS"
	FuelOther  FuelType = "OTHER"
)

func ParseFuelType(s string) (FuelType, bool) {
	switch FuelType(s) {
	case FuelAI92, FuelAI95, FuelDiesel, FuelGas, FuelOther:
		return FuelType(s), true
	default:
		return "", false
	}
}

type FuelGroup string

const (
	FuelGroupBenzin FuelGroup = "BENZIN"
	FuelGroupDiesel FuelGroup = "DIESEL"
	FuelGroupGas    FuelGroup = "GAS"
	FuelGroupOther  FuelGroup = "OTHER"
)

// GroupForFuelType maps a fuel type to its reporting group.
func GroupForFuelType(ft FuelType) FuelGroup {
	switch ft {
	case FuelAI92, FuelAI95:
		return FuelGroupBenzin
	case FuelDiesel:
		return FuelGroupDiesel
	case FuelGas:
		return FuelGroupGas
	default:
		return FuelGroupOther
	}
}

type Receipt struct {
	ID             string           `json:"id"`
	DriverID       string           `json:"driver_id"`
	VehicleID      *string          `json:"vehicle_id"`
	ReceiptAt      time.Time        `json:"receipt_at"`
	Status         ReceiptStatus    `json:"status"`
	DataSource     DataSource       `json:"data_source"`
	QRRaw          *string          `json:"qr_raw"`
	ImagePath      *string          `json:"image_path"`
	PDFPath        *string          `json:"pdf_path"`
	StationName    *string          `json:"station_name"`
	AddressShort   *string          `json:"address_short"`
	TotalAmount    decimal.Decimal  `json:"total_amount"`
	Liters         *decimal.Decimal `json:"liters"`
	PricePerLiter  *decimal.Decimal `json:"price_per_liter"`
	FuelType       *FuelType        `json:"fuel_type"`
	FuelGroup      *FuelGroup       `json:"fuel_group"`
	Mileage        *int             `json:"mileage"`
	PaymentMethod  *PaymentMethod   `json:"payment_method"`
	PaymentComment *string          `json:"payment_comment"`
	PaidByDriver   bool             `json:"paid_by_driver"`
	Reimbursed     bool             `json:"reimbursed"`
	CreatedAt      time.Time        `json:"created_at"`
}

type ReceiptItem struct {
	ID        string           `json:"id"`
	ReceiptID string           `json:"receipt_id"`
	Name      string           `json:"name"`
	Quantity  *decimal.Decimal `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
	Amount    *decimal.Decimal `json:"amount"`
	IsFuel    bool             `json:"is_fuel"`
	CreatedAt time.Time        `json:"created_at"`
}

// ReceiptWorkerState is the recognition worker's bookkeeping for one
// receipt: attempt counter, last diagnostic note and the raw provider
// payload of the last call. Attempts never decrease.
type ReceiptWorkerState struct {
	ReceiptID       string          `json:"receipt_id"`
	Attempts        int             `json:"attempts"`
	LastNote        string          `json:"last_note"`
	ProviderPayload json.RawMessage `json:"provider_payload"`
	ManualRecognize bool            `json:"manual_recognize"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
