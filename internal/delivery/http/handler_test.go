package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fuel-control/internal/models"
	"fuel-control/internal/repository/interfaces"
	"fuel-control/internal/repository/postgres"
	receiptsvc "fuel-control/internal/service/receipt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr[T any](v T) *T { return &v }

type fakeUpdates struct {
	updates []tgbotapi.Update
}

func (f *fakeUpdates) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	f.updates = append(f.updates, update)
}

type fakeDriverRepo struct {
	driver *models.Driver
}

func (f *fakeDriverRepo) GetByID(ctx context.Context, id string) (*models.Driver, error) {
	return f.driver, nil
}

func (f *fakeDriverRepo) GetByTelegramID(ctx context.Context, telegramUserID string) (*models.Driver, error) {
	return f.driver, nil
}

func (f *fakeDriverRepo) UpsertByTelegramID(ctx context.Context, telegramUserID, fullName string) (*models.Driver, error) {
	f.driver = &models.Driver{ID: "driver-1", TelegramUserID: telegramUserID, FullName: fullName, IsActive: true}
	return f.driver, nil
}

func (f *fakeDriverRepo) TouchLastSeen(ctx context.Context, telegramUserID string) error {
	return nil
}

func (f *fakeDriverRepo) UpdateConversation(ctx context.Context, driverID string, upd interfaces.ConversationUpdate) error {
	return nil
}

func (f *fakeDriverRepo) ClearConversation(ctx context.Context, driverID string) error {
	return nil
}

type fakeVehicleRepo struct {
	vehicles []*models.Vehicle
}

func (f *fakeVehicleRepo) GetByID(ctx context.Context, id string) (*models.Vehicle, error) {
	for _, v := range f.vehicles {
		if v.ID == id {
			return v, nil
		}
	}
	return nil, postgres.ErrVehicleNotFound
}

func (f *fakeVehicleRepo) FindByPlateOrName(ctx context.Context, plate, name *string) (*models.Vehicle, error) {
	return nil, nil
}

func (f *fakeVehicleRepo) Create(ctx context.Context, vehicle *models.Vehicle) error {
	f.vehicles = append(f.vehicles, vehicle)
	return nil
}

func (f *fakeVehicleRepo) ListChatEnabled(ctx context.Context, limit int) ([]*models.Vehicle, error) {
	return f.vehicles, nil
}

func (f *fakeVehicleRepo) UpdateOdometer(ctx context.Context, id string, odometerKm int) error {
	return nil
}

type fakeReceiptRepo struct {
	receipts  []*models.Receipt
	items     map[string][]models.ReceiptItem
	resets    []string
	lastLimit int
}

func newFakeReceiptRepo() *fakeReceiptRepo {
	return &fakeReceiptRepo{items: map[string][]models.ReceiptItem{}}
}

func (f *fakeReceiptRepo) Create(ctx context.Context, receipt *models.Receipt, items []models.ReceiptItem) error {
	f.receipts = append(f.receipts, receipt)
	f.items[receipt.ID] = items
	return nil
}

func (f *fakeReceiptRepo) GetByID(ctx context.Context, id string) (*models.Receipt, error) {
	for _, r := range f.receipts {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, postgres.ErrReceiptNotFound
}

func (f *fakeReceiptRepo) FindByQRRaw(ctx context.Context, qrRaw string) (*models.Receipt, error) {
	return nil, nil
}

func (f *fakeReceiptRepo) Update(ctx context.Context, receipt *models.Receipt) error {
	return nil
}

func (f *fakeReceiptRepo) ListPending(ctx context.Context, limit int) ([]*models.Receipt, error) {
	return nil, nil
}

func (f *fakeReceiptRepo) ListRecent(ctx context.Context, limit int) ([]*models.Receipt, error) {
	f.lastLimit = limit
	if limit < len(f.receipts) {
		return f.receipts[:limit], nil
	}
	return f.receipts, nil
}

func (f *fakeReceiptRepo) ListItems(ctx context.Context, receiptID string) ([]*models.ReceiptItem, error) {
	return nil, nil
}

func (f *fakeReceiptRepo) ReplaceItems(ctx context.Context, receiptID string, items []models.ReceiptItem) error {
	f.items[receiptID] = items
	return nil
}

func (f *fakeReceiptRepo) UpdateWithItems(ctx context.Context, receipt *models.Receipt, items []models.ReceiptItem) error {
	f.items[receipt.ID] = items
	return nil
}

func (f *fakeReceiptRepo) SetQRRaw(ctx context.Context, receiptID, qrRaw string) error {
	return nil
}

func (f *fakeReceiptRepo) SetPDFPath(ctx context.Context, receiptID, pdfPath string) error {
	return nil
}

func (f *fakeReceiptRepo) WorkerState(ctx context.Context, receiptID string) (*models.ReceiptWorkerState, error) {
	return &models.ReceiptWorkerState{ReceiptID: receiptID}, nil
}

func (f *fakeReceiptRepo) SaveWorkerState(ctx context.Context, state *models.ReceiptWorkerState) error {
	return nil
}

func (f *fakeReceiptRepo) MarkFailed(ctx context.Context, receiptID string, state *models.ReceiptWorkerState) error {
	return nil
}

func (f *fakeReceiptRepo) ApplyRecognition(ctx context.Context, receipt *models.Receipt, items []models.ReceiptItem, state *models.ReceiptWorkerState) error {
	return nil
}

func (f *fakeReceiptRepo) ResetForRecognition(ctx context.Context, receiptID string) error {
	if _, err := f.GetByID(ctx, receiptID); err != nil {
		return err
	}
	f.resets = append(f.resets, receiptID)
	return nil
}

type env struct {
	receipts *fakeReceiptRepo
	updates  *fakeUpdates
	mux      *http.ServeMux
}

func newEnv(t *testing.T, secret string) *env {
	t.Helper()

	receipts := newFakeReceiptRepo()
	updates := &fakeUpdates{}
	svc := receiptsvc.NewService(&fakeDriverRepo{}, &fakeVehicleRepo{}, receipts, testLogger())

	handler := NewHandler(receipts, svc, updates, secret, testLogger())
	mux := http.NewServeMux()
	handler.Register(mux)

	return &env{receipts: receipts, updates: updates, mux: mux}
}

func (e *env) do(method, target string, body []byte) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func TestTelegramWebhook_SecretGate(t *testing.T) {
	e := newEnv(t, "top-secret")

	update, err := json.Marshal(tgbotapi.Update{UpdateID: 7})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", bytes.NewReader(update))
	req.Header.Set("X-Telegram-Bot-Api-Secret-Token", "wrong")
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, e.updates.updates)

	req = httptest.NewRequest(http.MethodPost, "/telegram/webhook", bytes.NewReader(update))
	req.Header.Set("X-Telegram-Bot-Api-Secret-Token", "top-secret")
	rec = httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, e.updates.updates, 1)
	assert.Equal(t, 7, e.updates.updates[0].UpdateID)
}

func TestTelegramWebhook_BadJSON(t *testing.T) {
	e := newEnv(t, "")

	rec := e.do(http.MethodPost, "/telegram/webhook", []byte("{broken"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, e.updates.updates)
}

func TestCreateReceipt(t *testing.T) {
	e := newEnv(t, "")

	payload := []byte(`{
		"driver": {"telegramUserId": "100500", "fullName": "Иван Петров"},
		"vehicle": {"name": "Газель"},
		"receipt": {"stationName": "Лукойл", "totalAmount": "1500.50", "mileage": 120500},
		"items": [{"name": "АИ-95", "isFuel": true, "amount": "1500.50"}]
	}`)

	rec := e.do(http.MethodPost, "/api/receipts", payload)

	require.Equal(t, http.StatusCreated, rec.Code)

	var result receiptsvc.CreateResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "driver-1", result.DriverID)
	assert.Equal(t, 1, result.ItemsCount)
	require.Len(t, e.receipts.receipts, 1)
	require.NotNil(t, e.receipts.receipts[0].StationName)
	assert.Equal(t, "Лукойл", *e.receipts.receipts[0].StationName)
}

func TestCreateReceipt_Invalid(t *testing.T) {
	e := newEnv(t, "")

	payload := []byte(`{"driver": {"telegramUserId": "100500"}, "receipt": {}, "items": []}`)

	rec := e.do(http.MethodPost, "/api/receipts", payload)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, e.receipts.receipts)
}

func TestListReceipts_WithDerived(t *testing.T) {
	e := newEnv(t, "")

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	e.receipts.receipts = []*models.Receipt{
		{
			ID: "r1", VehicleID: ptr("v1"), ReceiptAt: base,
			Mileage: ptr(100000), Liters: ptr(decimal.NewFromInt(30)),
			Status: models.ReceiptStatusDone,
		},
		{
			ID: "r2", VehicleID: ptr("v1"), ReceiptAt: base.Add(48 * time.Hour),
			Mileage: ptr(100200), Liters: ptr(decimal.NewFromInt(20)),
			Status: models.ReceiptStatusDone,
		},
	}

	rec := e.do(http.MethodGet, "/api/receipts", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Receipts []struct {
			ID      string `json:"id"`
			Derived struct {
				DeltaKm        *int    `json:"deltaKm"`
				LitersPer100Km *string `json:"litersPer100Km"`
			} `json:"derived"`
		} `json:"receipts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Len(t, response.Receipts, 2)

	second := response.Receipts[1]
	assert.Equal(t, "r2", second.ID)
	require.NotNil(t, second.Derived.DeltaKm)
	assert.Equal(t, 200, *second.Derived.DeltaKm)
	require.NotNil(t, second.Derived.LitersPer100Km)
	assert.Equal(t, "10", *second.Derived.LitersPer100Km)
}

func TestListReceipts_InvalidLimit(t *testing.T) {
	e := newEnv(t, "")

	rec := e.do(http.MethodGet, "/api/receipts?limit=abc", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListReceipts_LimitClamped(t *testing.T) {
	e := newEnv(t, "")

	rec := e.do(http.MethodGet, "/api/receipts?limit=100000", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 500, e.receipts.lastLimit)
}

func TestReceiptFile(t *testing.T) {
	e := newEnv(t, "")

	dir := t.TempDir()
	imagePath := filepath.Join(dir, "receipt.png")
	require.NoError(t, os.WriteFile(imagePath, []byte("png-bytes"), 0o644))
	pdfPath := filepath.Join(dir, "receipt.pdf")
	require.NoError(t, os.WriteFile(pdfPath, []byte("pdf-bytes"), 0o644))

	e.receipts.receipts = []*models.Receipt{
		{ID: "r1", ImagePath: &imagePath, PDFPath: &pdfPath},
		{ID: "r2"},
	}

	rec := e.do(http.MethodGet, "/api/receipts/r1/file", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "png-bytes", rec.Body.String())

	rec = e.do(http.MethodGet, "/api/receipts/r1/file?type=pdf", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "pdf-bytes", rec.Body.String())

	rec = e.do(http.MethodGet, "/api/receipts/r2/file", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(http.MethodGet, "/api/receipts/missing/file", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecognizeReceipt(t *testing.T) {
	e := newEnv(t, "")

	e.receipts.receipts = []*models.Receipt{{ID: "r1"}}

	rec := e.do(http.MethodPost, "/api/receipts/r1/recognize", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"r1"}, e.receipts.resets)

	rec = e.do(http.MethodPost, "/api/receipts/missing/recognize", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	e := newEnv(t, "")

	rec := e.do(http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}
