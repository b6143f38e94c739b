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

var ErrDriverNotFound = errors.New("driver not found")

type driverRepository struct {
	db *sql.DB
}

func NewDriverRepository(db *sql.DB) interfaces.DriverRepository {
	return &driverRepository{db: db}
}

const driverColumns = `
	id,
	telegram_user_id,
	full_name,
	is_active,
	is_pinned,
	last_seen_at,
	created_at,
	pending_step,
	pending_vehicle_id,
	pending_mileage,
	pending_payment_method,
	pending_receipt_id,
	pending_receipt_file_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDriver(row rowScanner) (*models.Driver, error) {
	var (
		driver      models.Driver
		step        sql.NullString
		vehicleID   sql.NullString
		mileage     sql.NullInt64
		payment     sql.NullString
		receiptID   sql.NullString
		receiptFile sql.NullString
	)

	err := row.Scan(
		&driver.ID,
		&driver.TelegramUserID,
		&driver.FullName,
		&driver.IsActive,
		&driver.IsPinned,
		&driver.LastSeenAt,
		&driver.CreatedAt,
		&step,
		&vehicleID,
		&mileage,
		&payment,
		&receiptID,
		&receiptFile,
	)
	if err != nil {
		return nil, err
	}

	if step.Valid {
		s := models.ConversationStep(step.String)
		driver.PendingStep = &s
	}
	if vehicleID.Valid {
		driver.PendingVehicleID = &vehicleID.String
	}
	if mileage.Valid {
		m := int(mileage.Int64)
		driver.PendingMileage = &m
	}
	if payment.Valid {
		pm := models.PaymentMethod(payment.String)
		driver.PendingPaymentMethod = &pm
	}
	if receiptID.Valid {
		driver.PendingReceiptID = &receiptID.String
	}
	if receiptFile.Valid {
		driver.PendingReceiptFileID = &receiptFile.String
	}

	return &driver, nil
}

func (r *driverRepository) GetByID(ctx context.Context, id string) (*models.Driver, error) {
	query := `
		SELECT ` + driverColumns + `
		FROM
			drivers
		WHERE
			id = $1
	`

	driver, err := scanDriver(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDriverNotFound
		}
		return nil, fmt.Errorf("failed to get driver: %w", err)
	}

	return driver, nil
}

func (r *driverRepository) GetByTelegramID(ctx context.Context, telegramUserID string) (*models.Driver, error) {
	query := `
		SELECT ` + driverColumns + `
		FROM
			drivers
		WHERE
			telegram_user_id = $1
	`

	driver, err := scanDriver(r.db.QueryRowContext(ctx, query, telegramUserID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDriverNotFound
		}
		return nil, fmt.Errorf("failed to get driver by telegram id: %w", err)
	}

	return driver, nil
}

func (r *driverRepository) UpsertByTelegramID(ctx context.Context, telegramUserID, fullName string) (*models.Driver, error) {
	if fullName == "" {
		fullName = telegramUserID
	}

	// An existing driver keeps its stored name so manual edits are not
	// overwritten by chat traffic.
	query := `
		INSERT INTO
			drivers (id, telegram_user_id, full_name, is_active, last_seen_at, created_at)
		VALUES
			($1, $2, $3, TRUE, $4, $4)
		ON CONFLICT (telegram_user_id) DO UPDATE
		SET
			is_active = TRUE,
			last_seen_at = $4
		RETURNING ` + driverColumns

	driver, err := scanDriver(r.db.QueryRowContext(ctx, query, uuid.NewString(), telegramUserID, fullName, time.Now()))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert driver: %w", err)
	}

	return driver, nil
}

func (r *driverRepository) TouchLastSeen(ctx context.Context, telegramUserID string) error {
	query := `
		UPDATE
			drivers
		SET
			last_seen_at = $1
		WHERE
			telegram_user_id = $2
	`

	if _, err := r.db.ExecContext(ctx, query, time.Now(), telegramUserID); err != nil {
		return fmt.Errorf("failed to touch last seen: %w", err)
	}

	return nil
}

func (r *driverRepository) UpdateConversation(ctx context.Context, driverID string, upd interfaces.ConversationUpdate) error {
	query := `
		UPDATE
			drivers
		SET
			pending_step = $1,
			pending_vehicle_id = $2,
			pending_mileage = $3,
			pending_payment_method = $4,
			pending_receipt_id = $5,
			pending_receipt_file_id = $6
		WHERE
			id = $7
	`

	res, err := r.db.ExecContext(
		ctx,
		query,
		stepValue(upd.Step),
		stringValue(upd.VehicleID),
		intValue(upd.Mileage),
		paymentValue(upd.PaymentMethod),
		stringValue(upd.ReceiptID),
		stringValue(upd.ReceiptFileID),
		driverID,
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation state: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDriverNotFound
	}

	return nil
}

func (r *driverRepository) ClearConversation(ctx context.Context, driverID string) error {
	return r.UpdateConversation(ctx, driverID, interfaces.ConversationUpdate{})
}

func stepValue(s *models.ConversationStep) any {
	if s == nil {
		return nil
	}
	return string(*s)
}

func paymentValue(pm *models.PaymentMethod) any {
	if pm == nil {
		return nil
	}
	return string(*pm)
}

func stringValue(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func intValue(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}
