package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"fuel-control/internal/models"
	"fuel-control/internal/recognition"
	"fuel-control/internal/repository/interfaces"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Provider is the recognition backend the worker drives.
type Provider interface {
	RecognizeByQR(ctx context.Context, qrRaw string) (recognition.Result, error)
	RecognizeByFile(ctx context.Context, filename string, image []byte) (recognition.Result, error)
}

// QRDecoder extracts a QR payload from a stored receipt photo.
type QRDecoder interface {
	DecodeFromImage(path string) (string, error)
}

// Notifier delivers worker outcomes to the driver's chat.
type Notifier interface {
	SendRecognitionSuccess(chatID int64, station string, total decimal.Decimal, receiptAt time.Time) error
	SendRecognitionFailure(chatID int64) error
}

type Config struct {
	Interval        time.Duration
	BatchSize       int
	MaxAttempts     int
	ProviderTimeout time.Duration
	FilesDir        string
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 15 * time.Second
	}
	return c
}

// Worker polls PENDING receipts and drives them to DONE or FAILED.
// One loop, receipts processed strictly sequentially: at most one
// provider call is in flight at any time and attempt accounting needs
// no extra locking.
type Worker struct {
	receipts interfaces.ReceiptRepository
	drivers  interfaces.DriverRepository
	vehicles interfaces.VehicleRepository
	decoder  QRDecoder
	provider Provider
	notifier Notifier
	cfg      Config
	log      *slog.Logger

	pdfClient *http.Client
}

func New(
	receipts interfaces.ReceiptRepository,
	drivers interfaces.DriverRepository,
	vehicles interfaces.VehicleRepository,
	decoder QRDecoder,
	provider Provider,
	notifier Notifier,
	cfg Config,
	log *slog.Logger,
) *Worker {
	return &Worker{
		receipts:  receipts,
		drivers:   drivers,
		vehicles:  vehicles,
		decoder:   decoder,
		provider:  provider,
		notifier:  notifier,
		cfg:       cfg.withDefaults(),
		log:       log,
		pdfClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Run blocks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("Starting recognition worker",
		"interval", w.cfg.Interval,
		"batchSize", w.cfg.BatchSize,
		"maxAttempts", w.cfg.MaxAttempts,
	)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Stopping recognition worker")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick processes one batch of the oldest PENDING receipts.
func (w *Worker) Tick(ctx context.Context) {
	pending, err := w.receipts.ListPending(ctx, w.cfg.BatchSize)
	if err != nil {
		w.log.Error("Failed to list pending receipts", "error", err)
		return
	}

	for _, receipt := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := w.processReceipt(ctx, receipt); err != nil {
			// Persistence trouble on one receipt must not block the rest
			// of the batch.
			w.log.Error("Failed to process receipt", "receiptID", receipt.ID, "error", err)
		}
	}
}

func (w *Worker) processReceipt(ctx context.Context, receipt *models.Receipt) error {
	log := w.log.With("receiptID", receipt.ID)

	state, err := w.receipts.WorkerState(ctx, receipt.ID)
	if err != nil {
		return err
	}

	qrRaw := ""
	if receipt.QRRaw != nil {
		qrRaw = *receipt.QRRaw
	}

	// Decode-then-persist: a successful decode must survive a crash
	// before the provider answers.
	if qrRaw == "" && receipt.ImagePath != nil {
		decoded, err := w.decoder.DecodeFromImage(*receipt.ImagePath)
		if err == nil && decoded != "" {
			qrRaw = decoded
			if err := w.receipts.SetQRRaw(ctx, receipt.ID, qrRaw); err != nil {
				return err
			}
			state.LastNote = "qr decoded from image"
			if err := w.receipts.SaveWorkerState(ctx, state); err != nil {
				return err
			}
			log.Info("QR decoded from image")
		}
	}

	if qrRaw == "" && receipt.ImagePath == nil {
		state.Attempts++
		state.LastNote = "no qr payload and no image, mark FAILED"
		return w.fail(ctx, receipt, state, log)
	}

	if state.Attempts >= w.cfg.MaxAttempts {
		state.Attempts++
		state.LastNote = fmt.Sprintf("max attempts %d reached", w.cfg.MaxAttempts)
		return w.fail(ctx, receipt, state, log)
	}

	result, err := w.callProvider(ctx, receipt, qrRaw)
	if err != nil {
		// Timeout or transport trouble: stay PENDING for a later tick.
		state.Attempts++
		state.LastNote = fmt.Sprintf("provider error: %v", err)
		log.Warn("Provider call failed", "error", err, "attempts", state.Attempts)
		return w.receipts.SaveWorkerState(ctx, state)
	}

	if !result.OK {
		state.Attempts++
		state.LastNote = result.Note
		if state.LastNote == "" {
			state.LastNote = "provider failed"
		}
		state.ProviderPayload = result.Raw
		log.Warn("Provider rejected receipt", "note", state.LastNote, "attempts", state.Attempts)
		return w.receipts.SaveWorkerState(ctx, state)
	}

	updated, items := w.applyResult(receipt, qrRaw, result)

	state.Attempts++
	state.LastNote = "provider ok"
	state.ProviderPayload = result.Raw

	if err := w.receipts.ApplyRecognition(ctx, updated, items, state); err != nil {
		return err
	}
	log.Info("Receipt recognized", "total", updated.TotalAmount, "attempts", state.Attempts)

	if result.PDFURL != nil && receipt.PDFPath == nil {
		w.downloadPDF(ctx, receipt.ID, *result.PDFURL, log)
	}

	w.refreshOdometer(ctx, updated, log)
	w.finishDriver(ctx, receipt.DriverID, updated, state, true, log)

	return nil
}

func (w *Worker) callProvider(ctx context.Context, receipt *models.Receipt, qrRaw string) (recognition.Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.ProviderTimeout)
	defer cancel()

	if receipt.ImagePath != nil {
		if image, err := os.ReadFile(*receipt.ImagePath); err == nil {
			return w.provider.RecognizeByFile(callCtx, filepath.Base(*receipt.ImagePath), image)
		}
	}

	return w.provider.RecognizeByQR(callCtx, qrRaw)
}

// applyResult merges provider values over the stored receipt: provider
// wins field by field, stored values remain as fallback.
func (w *Worker) applyResult(receipt *models.Receipt, qrRaw string, result recognition.Result) (*models.Receipt, []models.ReceiptItem) {
	updated := *receipt
	updated.Status = models.ReceiptStatusDone

	if qrRaw != "" {
		updated.QRRaw = &qrRaw
	}
	if result.TotalAmount != nil {
		updated.TotalAmount = *result.TotalAmount
	}
	if result.ReceiptAt != nil {
		updated.ReceiptAt = *result.ReceiptAt
	}
	if result.StationName != nil {
		updated.StationName = result.StationName
	}
	if result.AddressShort != nil {
		updated.AddressShort = result.AddressShort
	}
	if result.FuelType != nil {
		updated.FuelType = result.FuelType
		updated.FuelGroup = result.FuelGroup
	}
	if result.Liters != nil {
		updated.Liters = result.Liters
	}
	if result.PricePerLiter != nil {
		updated.PricePerLiter = result.PricePerLiter
	}

	// nil items leave the stored set untouched.
	var items []models.ReceiptItem
	if len(result.Items) > 0 {
		items = result.Items
	}

	return &updated, items
}

func (w *Worker) fail(ctx context.Context, receipt *models.Receipt, state *models.ReceiptWorkerState, log *slog.Logger) error {
	if err := w.receipts.MarkFailed(ctx, receipt.ID, state); err != nil {
		return err
	}
	log.Warn("Receipt failed", "note", state.LastNote, "attempts", state.Attempts)

	w.finishDriver(ctx, receipt.DriverID, receipt, state, false, log)
	return nil
}

// finishDriver notifies the driver about the outcome and clears their
// in-flight conversation state so a new intake can start. Both steps
// are best effort: the receipt's terminal status is already committed.
func (w *Worker) finishDriver(ctx context.Context, driverID string, receipt *models.Receipt, state *models.ReceiptWorkerState, success bool, log *slog.Logger) {
	driver, err := w.drivers.GetByID(ctx, driverID)
	if err != nil {
		log.Warn("Failed to load driver for notification", "driverID", driverID, "error", err)
		return
	}

	chatID, err := strconv.ParseInt(driver.TelegramUserID, 10, 64)
	if err == nil && !state.ManualRecognize {
		if success {
			station := ""
			if receipt.StationName != nil {
				station = *receipt.StationName
			}
			if err := w.notifier.SendRecognitionSuccess(chatID, station, receipt.TotalAmount, receipt.ReceiptAt); err != nil {
				log.Warn("Failed to send success notification", "chatID", chatID, "error", err)
			}
		} else {
			if err := w.notifier.SendRecognitionFailure(chatID); err != nil {
				log.Warn("Failed to send failure notification", "chatID", chatID, "error", err)
			}
		}
	}

	if err := w.drivers.ClearConversation(ctx, driver.ID); err != nil {
		log.Warn("Failed to clear conversation state", "driverID", driver.ID, "error", err)
	}
}

func (w *Worker) refreshOdometer(ctx context.Context, receipt *models.Receipt, log *slog.Logger) {
	if receipt.VehicleID == nil || receipt.Mileage == nil {
		return
	}

	vehicle, err := w.vehicles.GetByID(ctx, *receipt.VehicleID)
	if err != nil {
		log.Warn("Failed to load vehicle for odometer refresh", "vehicleID", *receipt.VehicleID, "error", err)
		return
	}

	if vehicle.CurrentOdometerKm != nil && *vehicle.CurrentOdometerKm >= *receipt.Mileage {
		return
	}

	if err := w.vehicles.UpdateOdometer(ctx, vehicle.ID, *receipt.Mileage); err != nil {
		log.Warn("Failed to refresh odometer", "vehicleID", vehicle.ID, "error", err)
		return
	}
	log.Info("Odometer refreshed", "vehicleID", vehicle.ID, "odometerKm", *receipt.Mileage)
}

// downloadPDF fetches the provider's rendered PDF. Purely best effort;
// the receipt is already DONE.
func (w *Worker) downloadPDF(ctx context.Context, receiptID, pdfURL string, log *slog.Logger) {
	if w.cfg.FilesDir == "" {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pdfURL, nil)
	if err != nil {
		return
	}

	resp, err := w.pdfClient.Do(req)
	if err != nil {
		log.Warn("Failed to download receipt pdf", "url", pdfURL, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn("Failed to download receipt pdf", "url", pdfURL, "status", resp.StatusCode)
		return
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return
	}

	if err := os.MkdirAll(w.cfg.FilesDir, 0o755); err != nil {
		return
	}

	pdfPath := filepath.Join(w.cfg.FilesDir, uuid.NewString()+".pdf")
	if err := os.WriteFile(pdfPath, data, 0o644); err != nil {
		return
	}

	if err := w.receipts.SetPDFPath(ctx, receiptID, pdfPath); err != nil {
		log.Warn("Failed to store pdf path", "receiptID", receiptID, "error", err)
		return
	}
	log.Info("Receipt pdf stored", "receiptID", receiptID, "pdfPath", pdfPath)
}
