package models

import "time"

type Vehicle struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	PlateNumber       *string   `json:"plate_number"`
	IsActive          bool      `json:"is_active"`
	IsTelegramEnabled bool      `json:"is_telegram_enabled"`
	SortOrder         int       `json:"sort_order"`
	CurrentOdometerKm *int      `json:"current_odometer_km"`
	CreatedAt         time.Time `json:"created_at"`
}
