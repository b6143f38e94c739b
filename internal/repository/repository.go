package repository

import (
	"database/sql"

	"fuel-control/internal/repository/interfaces"
	"fuel-control/internal/repository/postgres"
)

type Repository struct {
	Driver  interfaces.DriverRepository
	Vehicle interfaces.VehicleRepository
	Receipt interfaces.ReceiptRepository
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		Driver:  postgres.NewDriverRepository(db),
		Vehicle: postgres.NewVehicleRepository(db),
		Receipt: postgres.NewReceiptRepository(db),
	}
}
