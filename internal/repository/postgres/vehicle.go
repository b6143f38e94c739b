package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fuel-control/internal/models"
	"fuel-control/internal/repository/interfaces"

	"github.com/google/uuid"
)

var ErrVehicleNotFound = errors.New("vehicle not found")

type vehicleRepository struct {
	db *sql.DB
}

func NewVehicleRepository(db *sql.DB) interfaces.VehicleRepository {
	return &vehicleRepository{db: db}
}

const vehicleColumns = `
	id,
	name,
	plate_number,
	is_active,
	is_telegram_enabled,
	sort_order,
	current_odometer_km,
	created_at
`

func scanVehicle(row rowScanner) (*models.Vehicle, error) {
	var (
		vehicle  models.Vehicle
		plate    sql.NullString
		odometer sql.NullInt64
	)

	err := row.Scan(
		&vehicle.ID,
		&vehicle.Name,
		&plate,
		&vehicle.IsActive,
		&vehicle.IsTelegramEnabled,
		&vehicle.SortOrder,
		&odometer,
		&vehicle.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if plate.Valid {
		vehicle.PlateNumber = &plate.String
	}
	if odometer.Valid {
		km := int(odometer.Int64)
		vehicle.CurrentOdometerKm = &km
	}

	return &vehicle, nil
}

func (r *vehicleRepository) GetByID(ctx context.Context, id string) (*models.Vehicle, error) {
	query := `
		SELECT ` + vehicleColumns + `
		FROM
			vehicles
		WHERE
			id = $1
	`

	vehicle, err := scanVehicle(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVehicleNotFound
		}
		return nil, fmt.Errorf("failed to get vehicle: %w", err)
	}

	return vehicle, nil
}

func (r *vehicleRepository) FindByPlateOrName(ctx context.Context, plate, name *string) (*models.Vehicle, error) {
	if plate != nil {
		vehicle, err := r.findOne(ctx, "plate_number = $1", *plate)
		if err != nil {
			return nil, err
		}
		if vehicle != nil {
			return vehicle, nil
		}
	}

	if name != nil {
		return r.findOne(ctx, "name = $1", *name)
	}

	return nil, nil
}

func (r *vehicleRepository) findOne(ctx context.Context, cond string, arg any) (*models.Vehicle, error) {
	query := `
		SELECT ` + vehicleColumns + `
		FROM
			vehicles
		WHERE
			` + cond + `
		LIMIT 1
	`

	vehicle, err := scanVehicle(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find vehicle: %w", err)
	}

	return vehicle, nil
}

func (r *vehicleRepository) Create(ctx context.Context, vehicle *models.Vehicle) error {
	if vehicle.ID == "" {
		vehicle.ID = uuid.NewString()
	}
	if vehicle.CreatedAt.IsZero() {
		vehicle.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO
			vehicles (id, name, plate_number, is_active, is_telegram_enabled, sort_order, current_odometer_km, created_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		vehicle.ID,
		vehicle.Name,
		stringValue(vehicle.PlateNumber),
		vehicle.IsActive,
		vehicle.IsTelegramEnabled,
		vehicle.SortOrder,
		intValue(vehicle.CurrentOdometerKm),
		vehicle.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create vehicle: %w", err)
	}

	return nil
}

func (r *vehicleRepository) ListChatEnabled(ctx context.Context, limit int) ([]*models.Vehicle, error) {
	query := `
		SELECT ` + vehicleColumns + `
		FROM
			vehicles
		WHERE
			is_active = TRUE
			AND is_telegram_enabled = TRUE
		ORDER BY
			sort_order DESC,
			created_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list vehicles: %w", err)
	}
	defer rows.Close()

	var vehicles []*models.Vehicle

	for rows.Next() {
		vehicle, err := scanVehicle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vehicle: %w", err)
		}
		vehicles = append(vehicles, vehicle)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return vehicles, nil
}

func (r *vehicleRepository) UpdateOdometer(ctx context.Context, id string, odometerKm int) error {
	query := `
		UPDATE
			vehicles
		SET
			current_odometer_km = $1
		WHERE
			id = $2
	`

	if _, err := r.db.ExecContext(ctx, query, odometerKm, id); err != nil {
		return fmt.Errorf("failed to update vehicle odometer: %w", err)
	}

	return nil
}
