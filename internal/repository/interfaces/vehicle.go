package interfaces

import (
	"context"

	"fuel-control/internal/models"
)

type VehicleRepository interface {
	GetByID(ctx context.Context, id string) (*models.Vehicle, error)
	// FindByPlateOrName matches by plate number first, then by display
	// name; returns nil without error when nothing matches.
	FindByPlateOrName(ctx context.Context, plate, name *string) (*models.Vehicle, error)
	Create(ctx context.Context, vehicle *models.Vehicle) error
	// ListChatEnabled returns up to limit active, telegram-visible
	// vehicles ordered by (sort_order desc, created_at desc).
	ListChatEnabled(ctx context.Context, limit int) ([]*models.Vehicle, error)
	UpdateOdometer(ctx context.Context, id string, odometerKm int) error
}
