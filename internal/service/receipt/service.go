package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fuel-control/internal/models"
	"fuel-control/internal/repository/interfaces"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// CreateReceiptDTO is the single creation payload shared by the chat
// flow and the HTTP API.
type CreateReceiptDTO struct {
	Driver  DriverDTO        `json:"driver" validate:"required"`
	Vehicle *VehicleDTO      `json:"vehicle"`
	Receipt ReceiptDTO       `json:"receipt" validate:"required"`
	Items   []ReceiptItemDTO `json:"items" validate:"required,min=1,dive"`
}

type DriverDTO struct {
	TelegramUserID string `json:"telegramUserId" validate:"required"`
	FullName       string `json:"fullName"`
}

type VehicleDTO struct {
	PlateNumber *string `json:"plateNumber"`
	Name        *string `json:"name"`
}

type ReceiptDTO struct {
	ReceiptAt      *time.Time       `json:"receiptAt"`
	Mileage        *int             `json:"mileage"`
	StationName    string           `json:"stationName" validate:"required"`
	PaymentMethod  *string          `json:"paymentMethod"`
	PaymentComment *string          `json:"paymentComment"`
	Reimbursed     bool             `json:"reimbursed"`
	PaidByDriver   bool             `json:"paidByDriver"`
	TotalAmount    decimal.Decimal  `json:"totalAmount"`
	Liters         *decimal.Decimal `json:"liters"`
	PricePerLiter  *decimal.Decimal `json:"pricePerLiter"`
	FuelType       *string          `json:"fuelType"`
	AddressShort   *string          `json:"addressShort"`
	ImagePath      *string          `json:"imagePath"`
	PDFPath        *string          `json:"pdfPath"`
	QRRaw          *string          `json:"qrRaw"`
	DataSource     *string          `json:"dataSource"`
	Status         *string          `json:"status"`
}

type ReceiptItemDTO struct {
	Name      string           `json:"name" validate:"required"`
	Quantity  *decimal.Decimal `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unitPrice"`
	Amount    *decimal.Decimal `json:"amount"`
	IsFuel    bool             `json:"isFuel"`
}

// CreateResult is the composed outcome of one ingestion call.
type CreateResult struct {
	Receipt    *models.Receipt `json:"receipt"`
	DriverID   string          `json:"driverId"`
	VehicleID  string          `json:"vehicleId"`
	ItemsCount int             `json:"itemsCount"`
}

type Service struct {
	drivers  interfaces.DriverRepository
	vehicles interfaces.VehicleRepository
	receipts interfaces.ReceiptRepository
	validate *validator.Validate
	logger   *slog.Logger
}

func NewService(
	drivers interfaces.DriverRepository,
	vehicles interfaces.VehicleRepository,
	receipts interfaces.ReceiptRepository,
	logger *slog.Logger,
) *Service {
	return &Service{
		drivers:  drivers,
		vehicles: vehicles,
		receipts: receipts,
		validate: validator.New(),
		logger:   logger,
	}
}

// CreateFromDTO upserts the driver, resolves or creates the vehicle,
// dedups by QR payload and persists the receipt with its items.
func (s *Service) CreateFromDTO(ctx context.Context, dto CreateReceiptDTO) (*CreateResult, error) {
	if err := s.validate.Struct(dto); err != nil {
		return nil, fmt.Errorf("invalid receipt payload: %w", err)
	}

	driver, err := s.drivers.UpsertByTelegramID(ctx, dto.Driver.TelegramUserID, strings.TrimSpace(dto.Driver.FullName))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert driver: %w", err)
	}

	vehicle, err := s.resolveVehicle(ctx, dto.Vehicle)
	if err != nil {
		return nil, err
	}

	receipt := s.buildReceipt(driver.ID, vehicle.ID, dto.Receipt)
	items := buildItems(dto.Items)

	// A resubmitted QR payload updates the existing receipt instead of
	// creating a duplicate.
	if receipt.QRRaw != nil {
		existing, err := s.receipts.FindByQRRaw(ctx, *receipt.QRRaw)
		if err != nil {
			return nil, fmt.Errorf("failed to dedup by qr: %w", err)
		}
		if existing != nil {
			receipt.ID = existing.ID
			receipt.CreatedAt = existing.CreatedAt

			if err := s.receipts.Update(ctx, receipt); err != nil {
				return nil, fmt.Errorf("failed to update deduped receipt: %w", err)
			}
			if err := s.receipts.ReplaceItems(ctx, receipt.ID, items); err != nil {
				return nil, fmt.Errorf("failed to replace deduped items: %w", err)
			}

			s.logger.Info("чек обновлён по совпадению QR", "receiptID", receipt.ID, "driverID", driver.ID)

			return &CreateResult{
				Receipt:    receipt,
				DriverID:   driver.ID,
				VehicleID:  vehicle.ID,
				ItemsCount: len(items),
			}, nil
		}
	}

	if err := s.receipts.Create(ctx, receipt, items); err != nil {
		return nil, fmt.Errorf("failed to create receipt: %w", err)
	}

	s.logger.Info("чек создан", "receiptID", receipt.ID, "driverID", driver.ID, "vehicleID", vehicle.ID)

	return &CreateResult{
		Receipt:    receipt,
		DriverID:   driver.ID,
		VehicleID:  vehicle.ID,
		ItemsCount: len(items),
	}, nil
}

func (s *Service) resolveVehicle(ctx context.Context, dto *VehicleDTO) (*models.Vehicle, error) {
	var plate, name *string
	if dto != nil {
		plate = dto.PlateNumber
		name = dto.Name
	}

	vehicle, err := s.vehicles.FindByPlateOrName(ctx, plate, name)
	if err != nil {
		return nil, fmt.Errorf("failed to match vehicle: %w", err)
	}
	if vehicle != nil {
		return vehicle, nil
	}

	placeholder := &models.Vehicle{
		Name:        "Unknown vehicle",
		PlateNumber: plate,
		IsActive:    true,
	}
	if name != nil && *name != "" {
		placeholder.Name = *name
	} else if plate != nil && *plate != "" {
		placeholder.Name = *plate
	}

	if err := s.vehicles.Create(ctx, placeholder); err != nil {
		return nil, fmt.Errorf("failed to create placeholder vehicle: %w", err)
	}

	s.logger.Info("создан автомобиль-заглушка", "vehicleID", placeholder.ID, "name", placeholder.Name)

	return placeholder, nil
}

func (s *Service) buildReceipt(driverID, vehicleID string, dto ReceiptDTO) *models.Receipt {
	receipt := &models.Receipt{
		DriverID:       driverID,
		VehicleID:      &vehicleID,
		Status:         models.ReceiptStatusDone,
		DataSource:     models.DataSourceTelegram,
		QRRaw:          dto.QRRaw,
		ImagePath:      dto.ImagePath,
		PDFPath:        dto.PDFPath,
		StationName:    &dto.StationName,
		AddressShort:   dto.AddressShort,
		TotalAmount:    dto.TotalAmount,
		Liters:         dto.Liters,
		PricePerLiter:  dto.PricePerLiter,
		Mileage:        dto.Mileage,
		PaymentComment: dto.PaymentComment,
		PaidByDriver:   dto.PaidByDriver,
		Reimbursed:     dto.Reimbursed,
	}

	if dto.ReceiptAt != nil {
		receipt.ReceiptAt = *dto.ReceiptAt
	} else {
		receipt.ReceiptAt = time.Now()
	}

	if dto.Status != nil {
		if status := models.ReceiptStatus(strings.ToUpper(*dto.Status)); status.IsValid() {
			receipt.Status = status
		}
	}
	if dto.DataSource != nil {
		receipt.DataSource = models.DataSource(strings.ToUpper(*dto.DataSource))
	}
	if dto.PaymentMethod != nil {
		if pm, ok := models.ParsePaymentMethod(strings.ToUpper(*dto.PaymentMethod)); ok {
			receipt.PaymentMethod = &pm
		}
	}
	if dto.FuelType != nil && *dto.FuelType != "" {
		ft := models.FuelType(strings.ToUpper(*dto.FuelType))
		group := models.GroupForFuelType(ft)
		receipt.FuelType = &ft
		receipt.FuelGroup = &group
	}

	return receipt
}

func buildItems(dtos []ReceiptItemDTO) []models.ReceiptItem {
	items := make([]models.ReceiptItem, 0, len(dtos))
	for _, dto := range dtos {
		items = append(items, models.ReceiptItem{
			Name:      dto.Name,
			Quantity:  dto.Quantity,
			UnitPrice: dto.UnitPrice,
			Amount:    dto.Amount,
			IsFuel:    dto.IsFuel,
		})
	}
	return items
}
