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
	"github.com/shopspring/decimal"
)

var ErrReceiptNotFound = errors.New("receipt not found")

type receiptRepository struct {
	db *sql.DB
}

func NewReceiptRepository(db *sql.DB) interfaces.ReceiptRepository {
	return &receiptRepository{db: db}
}

const receiptColumns = `
	id,
	driver_id,
	vehicle_id,
	receipt_at,
	status,
	data_source,
	qr_raw,
	image_path,
	pdf_path,
	station_name,
	address_short,
	total_amount,
	liters,
	price_per_liter,
	fuel_type,
	fuel_group,
	mileage,
	payment_method,
	payment_comment,
	paid_by_driver,
	reimbursed,
	created_at
`

func scanReceipt(row rowScanner) (*models.Receipt, error) {
	var (
		receipt       models.Receipt
		vehicleID     sql.NullString
		qrRaw         sql.NullString
		imagePath     sql.NullString
		pdfPath       sql.NullString
		stationName   sql.NullString
		addressShort  sql.NullString
		liters        decimal.NullDecimal
		pricePerLiter decimal.NullDecimal
		fuelType      sql.NullString
		fuelGroup     sql.NullString
		mileage       sql.NullInt64
		payment       sql.NullString
		comment       sql.NullString
	)

	err := row.Scan(
		&receipt.ID,
		&receipt.DriverID,
		&vehicleID,
		&receipt.ReceiptAt,
		&receipt.Status,
		&receipt.DataSource,
		&qrRaw,
		&imagePath,
		&pdfPath,
		&stationName,
		&addressShort,
		&receipt.TotalAmount,
		&liters,
		&pricePerLiter,
		&fuelType,
		&fuelGroup,
		&mileage,
		&payment,
		&comment,
		&receipt.PaidByDriver,
		&receipt.Reimbursed,
		&receipt.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if vehicleID.Valid {
		receipt.VehicleID = &vehicleID.String
	}
	if qrRaw.Valid {
		receipt.QRRaw = &qrRaw.String
	}
	if imagePath.Valid {
		receipt.ImagePath = &imagePath.String
	}
	if pdfPath.Valid {
		receipt.PDFPath = &pdfPath.String
	}
	if stationName.Valid {
		receipt.StationName = &stationName.String
	}
	if addressShort.Valid {
		receipt.AddressShort = &addressShort.String
	}
	if liters.Valid {
		receipt.Liters = &liters.Decimal
	}
	if pricePerLiter.Valid {
		receipt.PricePerLiter = &pricePerLiter.Decimal
	}
	if fuelType.Valid {
		ft := models.FuelType(fuelType.String)
		receipt.FuelType = &ft
	}
	if fuelGroup.Valid {
		fg := models.FuelGroup(fuelGroup.String)
		receipt.FuelGroup = &fg
	}
	if mileage.Valid {
		m := int(mileage.Int64)
		receipt.Mileage = &m
	}
	if payment.Valid {
		pm := models.PaymentMethod(payment.String)
		receipt.PaymentMethod = &pm
	}
	if comment.Valid {
		receipt.PaymentComment = &comment.String
	}

	return &receipt, nil
}

func receiptArgs(receipt *models.Receipt) []any {
	return []any{
		receipt.DriverID,
		stringValue(receipt.VehicleID),
		receipt.ReceiptAt,
		string(receipt.Status),
		string(receipt.DataSource),
		stringValue(receipt.QRRaw),
		stringValue(receipt.ImagePath),
		stringValue(receipt.PDFPath),
		stringValue(receipt.StationName),
		stringValue(receipt.AddressShort),
		receipt.TotalAmount,
		decimalValue(receipt.Liters),
		decimalValue(receipt.PricePerLiter),
		fuelTypeValue(receipt.FuelType),
		fuelGroupValue(receipt.FuelGroup),
		intValue(receipt.Mileage),
		paymentValue(receipt.PaymentMethod),
		stringValue(receipt.PaymentComment),
		receipt.PaidByDriver,
		receipt.Reimbursed,
	}
}

func (r *receiptRepository) Create(ctx context.Context, receipt *models.Receipt, items []models.ReceiptItem) error {
	if receipt.ID == "" {
		receipt.ID = uuid.NewString()
	}
	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = time.Now()
	}
	if receipt.ReceiptAt.IsZero() {
		receipt.ReceiptAt = time.Now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO
			receipts (
				driver_id, vehicle_id, receipt_at, status, data_source,
				qr_raw, image_path, pdf_path, station_name, address_short,
				total_amount, liters, price_per_liter, fuel_type, fuel_group,
				mileage, payment_method, payment_comment, paid_by_driver, reimbursed,
				id, created_at
			)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`

	args := append(receiptArgs(receipt), receipt.ID, receipt.CreatedAt)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create receipt: %w", err)
	}

	if err := insertItems(ctx, tx, receipt.ID, items); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit receipt: %w", err)
	}

	return nil
}

func (r *receiptRepository) Update(ctx context.Context, receipt *models.Receipt) error {
	return updateReceipt(ctx, r.db, receipt)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateReceipt(ctx context.Context, db execer, receipt *models.Receipt) error {
	query := `
		UPDATE
			receipts
		SET
			driver_id = $1,
			vehicle_id = $2,
			receipt_at = $3,
			status = $4,
			data_source = $5,
			qr_raw = $6,
			image_path = $7,
			pdf_path = $8,
			station_name = $9,
			address_short = $10,
			total_amount = $11,
			liters = $12,
			price_per_liter = $13,
			fuel_type = $14,
			fuel_group = $15,
			mileage = $16,
			payment_method = $17,
			payment_comment = $18,
			paid_by_driver = $19,
			reimbursed = $20
		WHERE
			id = $21
	`

	args := append(receiptArgs(receipt), receipt.ID)
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update receipt: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrReceiptNotFound
	}

	return nil
}

func (r *receiptRepository) GetByID(ctx context.Context, id string) (*models.Receipt, error) {
	query := `
		SELECT ` + receiptColumns + `
		FROM
			receipts
		WHERE
			id = $1
	`

	receipt, err := scanReceipt(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReceiptNotFound
		}
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}

	return receipt, nil
}

func (r *receiptRepository) FindByQRRaw(ctx context.Context, qrRaw string) (*models.Receipt, error) {
	query := `
		SELECT ` + receiptColumns + `
		FROM
			receipts
		WHERE
			qr_raw = $1
		LIMIT 1
	`

	receipt, err := scanReceipt(r.db.QueryRowContext(ctx, query, qrRaw))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find receipt by qr: %w", err)
	}

	return receipt, nil
}

func (r *receiptRepository) ListPending(ctx context.Context, limit int) ([]*models.Receipt, error) {
	query := `
		SELECT ` + receiptColumns + `
		FROM
			receipts
		WHERE
			status = $1
		ORDER BY
			created_at ASC
		LIMIT $2
	`

	return r.list(ctx, query, string(models.ReceiptStatusPending), limit)
}

func (r *receiptRepository) ListRecent(ctx context.Context, limit int) ([]*models.Receipt, error) {
	query := `
		SELECT ` + receiptColumns + `
		FROM
			receipts
		ORDER BY
			receipt_at DESC
		LIMIT $1
	`

	return r.list(ctx, query, limit)
}

func (r *receiptRepository) list(ctx context.Context, query string, args ...any) ([]*models.Receipt, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	defer rows.Close()

	var receipts []*models.Receipt

	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		receipts = append(receipts, receipt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return receipts, nil
}

func (r *receiptRepository) ListItems(ctx context.Context, receiptID string) ([]*models.ReceiptItem, error) {
	query := `
		SELECT
			id,
			receipt_id,
			name,
			quantity,
			unit_price,
			amount,
			is_fuel,
			created_at
		FROM
			receipt_items
		WHERE
			receipt_id = $1
		ORDER BY
			created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, receiptID)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipt items: %w", err)
	}
	defer rows.Close()

	var items []*models.ReceiptItem

	for rows.Next() {
		var (
			item      models.ReceiptItem
			quantity  decimal.NullDecimal
			unitPrice decimal.NullDecimal
			amount    decimal.NullDecimal
		)

		err := rows.Scan(
			&item.ID,
			&item.ReceiptID,
			&item.Name,
			&quantity,
			&unitPrice,
			&amount,
			&item.IsFuel,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receipt item: %w", err)
		}

		if quantity.Valid {
			item.Quantity = &quantity.Decimal
		}
		if unitPrice.Valid {
			item.UnitPrice = &unitPrice.Decimal
		}
		if amount.Valid {
			item.Amount = &amount.Decimal
		}

		items = append(items, &item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func (r *receiptRepository) ReplaceItems(ctx context.Context, receiptID string, items []models.ReceiptItem) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := replaceItems(ctx, tx, receiptID, items); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit item replacement: %w", err)
	}

	return nil
}

func (r *receiptRepository) UpdateWithItems(ctx context.Context, receipt *models.Receipt, items []models.ReceiptItem) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := updateReceipt(ctx, tx, receipt); err != nil {
		return err
	}

	if err := replaceItems(ctx, tx, receipt.ID, items); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit receipt update: %w", err)
	}

	return nil
}

func replaceItems(ctx context.Context, tx *sql.Tx, receiptID string, items []models.ReceiptItem) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM receipt_items WHERE receipt_id = $1`, receiptID); err != nil {
		return fmt.Errorf("failed to delete receipt items: %w", err)
	}

	return insertItems(ctx, tx, receiptID, items)
}

func insertItems(ctx context.Context, tx *sql.Tx, receiptID string, items []models.ReceiptItem) error {
	query := `
		INSERT INTO
			receipt_items (id, receipt_id, name, quantity, unit_price, amount, is_fuel, created_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8)
	`

	for i := range items {
		item := &items[i]
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = time.Now()
		}
		item.ReceiptID = receiptID

		_, err := tx.ExecContext(
			ctx,
			query,
			item.ID,
			item.ReceiptID,
			item.Name,
			decimalValue(item.Quantity),
			decimalValue(item.UnitPrice),
			decimalValue(item.Amount),
			item.IsFuel,
			item.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert receipt item: %w", err)
		}
	}

	return nil
}

func (r *receiptRepository) SetQRRaw(ctx context.Context, receiptID, qrRaw string) error {
	query := `
		UPDATE
			receipts
		SET
			qr_raw = $1
		WHERE
			id = $2
	`

	if _, err := r.db.ExecContext(ctx, query, qrRaw, receiptID); err != nil {
		return fmt.Errorf("failed to set qr payload: %w", err)
	}

	return nil
}

func (r *receiptRepository) SetPDFPath(ctx context.Context, receiptID, pdfPath string) error {
	query := `
		UPDATE
			receipts
		SET
			pdf_path = $1
		WHERE
			id = $2
	`

	if _, err := r.db.ExecContext(ctx, query, pdfPath, receiptID); err != nil {
		return fmt.Errorf("failed to set pdf path: %w", err)
	}

	return nil
}

func (r *receiptRepository) WorkerState(ctx context.Context, receiptID string) (*models.ReceiptWorkerState, error) {
	query := `
		SELECT
			receipt_id,
			attempts,
			last_note,
			provider_payload,
			manual_recognize,
			updated_at
		FROM
			receipt_worker_states
		WHERE
			receipt_id = $1
	`

	var (
		state   models.ReceiptWorkerState
		payload sql.NullString
	)

	err := r.db.QueryRowContext(ctx, query, receiptID).Scan(
		&state.ReceiptID,
		&state.Attempts,
		&state.LastNote,
		&payload,
		&state.ManualRecognize,
		&state.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.ReceiptWorkerState{ReceiptID: receiptID}, nil
		}
		return nil, fmt.Errorf("failed to get worker state: %w", err)
	}

	if payload.Valid {
		state.ProviderPayload = []byte(payload.String)
	}

	return &state, nil
}

func (r *receiptRepository) SaveWorkerState(ctx context.Context, state *models.ReceiptWorkerState) error {
	return saveWorkerState(ctx, r.db, state)
}

func saveWorkerState(ctx context.Context, db execer, state *models.ReceiptWorkerState) error {
	// GREATEST keeps the attempt counter monotone even if a stale state
	// is written back.
	query := `
		INSERT INTO
			receipt_worker_states (receipt_id, attempts, last_note, provider_payload, manual_recognize, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6)
		ON CONFLICT (receipt_id) DO UPDATE
		SET
			attempts = GREATEST(receipt_worker_states.attempts, EXCLUDED.attempts),
			last_note = EXCLUDED.last_note,
			provider_payload = EXCLUDED.provider_payload,
			manual_recognize = EXCLUDED.manual_recognize,
			updated_at = EXCLUDED.updated_at
	`

	var payload any
	if len(state.ProviderPayload) > 0 {
		payload = string(state.ProviderPayload)
	}

	_, err := db.ExecContext(ctx, query, state.ReceiptID, state.Attempts, state.LastNote, payload, state.ManualRecognize, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save worker state: %w", err)
	}

	return nil
}

func (r *receiptRepository) MarkFailed(ctx context.Context, receiptID string, state *models.ReceiptWorkerState) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE
			receipts
		SET
			status = $1
		WHERE
			id = $2
	`

	if _, err := tx.ExecContext(ctx, query, string(models.ReceiptStatusFailed), receiptID); err != nil {
		return fmt.Errorf("failed to mark receipt failed: %w", err)
	}

	if err := saveWorkerState(ctx, tx, state); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit failure: %w", err)
	}

	return nil
}

func (r *receiptRepository) ApplyRecognition(ctx context.Context, receipt *models.Receipt, items []models.ReceiptItem, state *models.ReceiptWorkerState) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := updateReceipt(ctx, tx, receipt); err != nil {
		return err
	}

	if items != nil {
		if err := replaceItems(ctx, tx, receipt.ID, items); err != nil {
			return err
		}
	}

	if err := saveWorkerState(ctx, tx, state); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit recognition: %w", err)
	}

	return nil
}

func (r *receiptRepository) ResetForRecognition(ctx context.Context, receiptID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE
			receipts
		SET
			status = $1,
			total_amount = 0,
			liters = NULL,
			price_per_liter = NULL,
			fuel_type = NULL,
			fuel_group = NULL,
			station_name = NULL,
			address_short = NULL,
			pdf_path = NULL
		WHERE
			id = $2
	`

	res, err := tx.ExecContext(ctx, query, string(models.ReceiptStatusPending), receiptID)
	if err != nil {
		return fmt.Errorf("failed to reset receipt: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrReceiptNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM receipt_items WHERE receipt_id = $1`, receiptID); err != nil {
		return fmt.Errorf("failed to clear receipt items: %w", err)
	}

	state := `
		INSERT INTO
			receipt_worker_states (receipt_id, attempts, last_note, provider_payload, manual_recognize, updated_at)
		VALUES
			($1, 0, 'manual recognize', NULL, TRUE, $2)
		ON CONFLICT (receipt_id) DO UPDATE
		SET
			attempts = 0,
			last_note = 'manual recognize',
			provider_payload = NULL,
			manual_recognize = TRUE,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := tx.ExecContext(ctx, state, receiptID, time.Now()); err != nil {
		return fmt.Errorf("failed to reset worker state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reset: %w", err)
	}

	return nil
}

func decimalValue(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return *d
}

func fuelTypeValue(ft *models.FuelType) any {
	if ft == nil {
		return nil
	}
	return string(*ft)
}

func fuelGroupValue(fg *models.FuelGroup) any {
	if fg == nil {
		return nil
	}
	return string(*fg)
}
