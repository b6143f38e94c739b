package interfaces

import (
	"context"

	"fuel-control/internal/models"
)

type ReceiptRepository interface {
	// Create persists the receipt and its items in one transaction.
	Create(ctx context.Context, receipt *models.Receipt, items []models.ReceiptItem) error
	GetByID(ctx context.Context, id string) (*models.Receipt, error)
	// FindByQRRaw returns nil without error when no receipt carries the payload.
	FindByQRRaw(ctx context.Context, qrRaw string) (*models.Receipt, error)
	Update(ctx context.Context, receipt *models.Receipt) error

	// ListPending returns up to limit PENDING receipts, oldest first.
	ListPending(ctx context.Context, limit int) ([]*models.Receipt, error)
	ListRecent(ctx context.Context, limit int) ([]*models.Receipt, error)

	ListItems(ctx context.Context, receiptID string) ([]*models.ReceiptItem, error)
	// ReplaceItems deletes all items of the receipt and inserts the new
	// set in one transaction.
	ReplaceItems(ctx context.Context, receiptID string, items []models.ReceiptItem) error
	// UpdateWithItems persists the receipt fields and the replacement
	// item set in one transaction: the receipt is never observable with
	// new fields and stale items.
	UpdateWithItems(ctx context.Context, receipt *models.Receipt, items []models.ReceiptItem) error

	SetQRRaw(ctx context.Context, receiptID, qrRaw string) error
	SetPDFPath(ctx context.Context, receiptID, pdfPath string) error

	// WorkerState returns a zero-value state when none is stored yet.
	WorkerState(ctx context.Context, receiptID string) (*models.ReceiptWorkerState, error)
	SaveWorkerState(ctx context.Context, state *models.ReceiptWorkerState) error

	// MarkFailed sets the receipt FAILED and saves the worker state in
	// one transaction.
	MarkFailed(ctx context.Context, receiptID string, state *models.ReceiptWorkerState) error
	// ApplyRecognition commits recognized receipt fields, the replacement
	// item set (when items is non-nil) and the worker state atomically.
	ApplyRecognition(ctx context.Context, receipt *models.Receipt, items []models.ReceiptItem, state *models.ReceiptWorkerState) error
	// ResetForRecognition clears recognized fields and items and re-queues
	// the receipt as PENDING with a fresh manual-recognize worker state.
	ResetForRecognition(ctx context.Context, receiptID string) error
}
