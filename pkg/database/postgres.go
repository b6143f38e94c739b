package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"fuel-control/internal/config"
)

func NewPostgresDB(cfg *config.Config) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

func RunMigrations(db *sql.DB, log *slog.Logger) error {
	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}

	log.Info("Migrations applied", "count", len(migrations))
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS drivers (
		id TEXT PRIMARY KEY,
		telegram_user_id TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_pinned BOOLEAN NOT NULL DEFAULT FALSE,
		last_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		pending_step TEXT,
		pending_vehicle_id TEXT,
		pending_mileage INTEGER,
		pending_payment_method TEXT,
		pending_receipt_id TEXT,
		pending_receipt_file_id TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS vehicles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		plate_number TEXT UNIQUE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_telegram_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		sort_order INTEGER NOT NULL DEFAULT 0,
		current_odometer_km INTEGER,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS receipts (
		id TEXT PRIMARY KEY,
		driver_id TEXT NOT NULL REFERENCES drivers(id),
		vehicle_id TEXT REFERENCES vehicles(id),
		receipt_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		status TEXT NOT NULL,
		data_source TEXT NOT NULL,
		qr_raw TEXT,
		image_path TEXT,
		pdf_path TEXT,
		station_name TEXT,
		address_short TEXT,
		total_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
		liters NUMERIC(10,3),
		price_per_liter NUMERIC(10,2),
		fuel_type TEXT,
		fuel_group TEXT,
		mileage INTEGER,
		payment_method TEXT,
		payment_comment TEXT,
		paid_by_driver BOOLEAN NOT NULL DEFAULT FALSE,
		reimbursed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS receipts_status_created_idx ON receipts (status, created_at)`,

	`CREATE TABLE IF NOT EXISTS receipt_items (
		id TEXT PRIMARY KEY,
		receipt_id TEXT NOT NULL REFERENCES receipts(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		quantity NUMERIC(10,3),
		unit_price NUMERIC(10,2),
		amount NUMERIC(12,2),
		is_fuel BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS receipt_worker_states (
		receipt_id TEXT PRIMARY KEY REFERENCES receipts(id) ON DELETE CASCADE,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_note TEXT NOT NULL DEFAULT '',
		provider_payload JSONB,
		manual_recognize BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}
