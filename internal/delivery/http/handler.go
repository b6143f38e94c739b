package delivery

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"fuel-control/internal/models"
	"fuel-control/internal/repository/interfaces"
	"fuel-control/internal/repository/postgres"
	receiptsvc "fuel-control/internal/service/receipt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// UpdateHandler feeds a decoded Telegram update into the bot router.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update)
}

type Handler struct {
	receipts      interfaces.ReceiptRepository
	receiptSvc    *receiptsvc.Service
	updates       UpdateHandler
	webhookSecret string
	log           *slog.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHandler(
	receipts interfaces.ReceiptRepository,
	receiptSvc *receiptsvc.Service,
	updates UpdateHandler,
	webhookSecret string,
	log *slog.Logger,
) *Handler {
	return &Handler{
		receipts:      receipts,
		receiptSvc:    receiptSvc,
		updates:       updates,
		webhookSecret: webhookSecret,
		log:           log,
	}
}

// Register mounts all routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /telegram/webhook", h.HandleTelegramWebhook)
	mux.HandleFunc("POST /api/receipts", h.HandleCreateReceipt)
	mux.HandleFunc("GET /api/receipts", h.HandleListReceipts)
	mux.HandleFunc("GET /api/receipts/{id}/file", h.HandleReceiptFile)
	mux.HandleFunc("POST /api/receipts/{id}/recognize", h.HandleRecognizeReceipt)
	mux.HandleFunc("GET /health", h.HandleHealth)
}

// HandleTelegramWebhook is the push alternative to long polling: the
// update is authenticated by the shared secret header and fed to the
// same router.
func (h *Handler) HandleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	if h.webhookSecret != "" {
		incoming := r.Header.Get("X-Telegram-Bot-Api-Secret-Token")
		if subtle.ConstantTimeCompare([]byte(incoming), []byte(h.webhookSecret)) != 1 {
			h.log.Warn("Invalid webhook secret token")
			h.sendError(w, "invalid secret token", http.StatusUnauthorized)
			return
		}
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.log.Error("Failed to decode telegram update", "error", err)
		h.sendError(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	h.updates.HandleUpdate(r.Context(), update)
	h.sendJSON(w, map[string]bool{"ok": true}, http.StatusOK)
}

func (h *Handler) HandleCreateReceipt(w http.ResponseWriter, r *http.Request) {
	var dto receiptsvc.CreateReceiptDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.log.Error("Failed to decode receipt payload", "error", err)
		h.sendError(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	result, err := h.receiptSvc.CreateFromDTO(r.Context(), dto)
	if err != nil {
		h.log.Warn("Failed to create receipt", "error", err)
		h.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.sendJSON(w, result, http.StatusCreated)
}

type listReceiptsResponse struct {
	Receipts []receiptWithDerived `json:"receipts"`
}

type receiptWithDerived struct {
	*models.Receipt
	Derived receiptsvc.DerivedMetrics `json:"derived"`
}

// HandleListReceipts returns recent receipts with the fuel-economy
// projection attached. Derived values are recomputed on every call.
func (h *Handler) HandleListReceipts(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.sendError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(parsed, maxListLimit)
	}

	receipts, err := h.receipts.ListRecent(r.Context(), limit)
	if err != nil {
		h.log.Error("Failed to list receipts", "error", err)
		h.sendError(w, "internal error", http.StatusInternalServerError)
		return
	}

	derived := receiptsvc.ComputeDerived(receipts)

	response := listReceiptsResponse{Receipts: make([]receiptWithDerived, 0, len(receipts))}
	for _, receipt := range receipts {
		response.Receipts = append(response.Receipts, receiptWithDerived{
			Receipt: receipt,
			Derived: derived[receipt.ID],
		})
	}

	h.sendJSON(w, response, http.StatusOK)
}

// HandleReceiptFile streams the stored image or pdf of a receipt.
func (h *Handler) HandleReceiptFile(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.receipts.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, postgres.ErrReceiptNotFound) {
			h.sendError(w, "receipt not found", http.StatusNotFound)
			return
		}
		h.log.Error("Failed to load receipt", "error", err)
		h.sendError(w, "internal error", http.StatusInternalServerError)
		return
	}

	var target *string
	if r.URL.Query().Get("type") == "pdf" {
		target = receipt.PDFPath
	} else {
		target = receipt.ImagePath
	}

	if target == nil || *target == "" {
		h.sendError(w, "file not found", http.StatusNotFound)
		return
	}

	data, err := os.ReadFile(*target)
	if err != nil {
		h.log.Error("Failed to read receipt file", "path", *target, "error", err)
		h.sendError(w, "file not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentTypeByExt(filepath.Ext(*target)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// HandleRecognizeReceipt re-queues a receipt for a silent recognition
// pass: fields cleared, attempts reset, no driver notification.
func (h *Handler) HandleRecognizeReceipt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.receipts.ResetForRecognition(r.Context(), id); err != nil {
		if errors.Is(err, postgres.ErrReceiptNotFound) {
			h.sendError(w, "receipt not found", http.StatusNotFound)
			return
		}
		h.log.Error("Failed to reset receipt for recognition", "receiptID", id, "error", err)
		h.sendError(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.log.Info("Receipt re-queued for recognition", "receiptID", id)
	h.sendJSON(w, map[string]bool{"ok": true}, http.StatusOK)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func contentTypeByExt(ext string) string {
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	default:
		return "image/jpeg"
	}
}

func (h *Handler) sendJSON(w http.ResponseWriter, payload any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) sendError(w http.ResponseWriter, message string, statusCode int) {
	h.sendJSON(w, errorResponse{Error: message}, statusCode)
}
