package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"fuel-control/internal/models"
	"fuel-control/internal/repository/interfaces"
	"fuel-control/internal/repository/postgres"
	receiptsvc "fuel-control/internal/service/receipt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const vehicleListLimit = 10

type Handlers struct {
	drivers    interfaces.DriverRepository
	vehicles   interfaces.VehicleRepository
	receipts   interfaces.ReceiptRepository
	receiptSvc *receiptsvc.Service
	filesDir   string
	log        *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewHandlers(
	drivers interfaces.DriverRepository,
	vehicles interfaces.VehicleRepository,
	receipts interfaces.ReceiptRepository,
	receiptSvc *receiptsvc.Service,
	filesDir string,
	log *slog.Logger,
) *Handlers {
	return &Handlers{
		drivers:    drivers,
		vehicles:   vehicles,
		receipts:   receipts,
		receiptSvc: receiptSvc,
		filesDir:   filesDir,
		log:        log,
		locks:      make(map[string]*sync.Mutex),
	}
}

// lockDriver serializes event handling per driver: two updates for the
// same driver never interleave, different drivers proceed in parallel.
func (h *Handlers) lockDriver(telegramID string) func() {
	h.mu.Lock()
	lock, ok := h.locks[telegramID]
	if !ok {
		lock = &sync.Mutex{}
		h.locks[telegramID] = lock
	}
	h.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// authorize resolves the sender to an active driver. Unknown or
// deactivated senders never enter the state machine; they get a fixed
// rejection echoing their raw Telegram id.
func (h *Handlers) authorize(ctx context.Context, bot BotInterface, chatID int64, telegramID string) *models.Driver {
	driver, err := h.drivers.GetByTelegramID(ctx, telegramID)
	if err != nil {
		if !errors.Is(err, postgres.ErrDriverNotFound) {
			h.log.Error("Failed to load driver", "telegramID", telegramID, "error", err)
		}
		bot.SendMessage(chatID, fmt.Sprintf(
			"Доступ не настроен. Передай администратору свой Telegram ID: `%s`", telegramID))
		return nil
	}

	if !driver.IsActive {
		bot.SendMessage(chatID, fmt.Sprintf(
			"Доступ отключён. Передай администратору свой Telegram ID: `%s`", telegramID))
		return nil
	}

	if err := h.drivers.TouchLastSeen(ctx, telegramID); err != nil {
		h.log.Warn("Failed to touch last seen", "telegramID", telegramID, "error", err)
	}

	return driver
}

func (h *Handlers) HandleMessage(ctx context.Context, bot BotInterface, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil {
		return
	}

	chatID := msg.Chat.ID
	telegramID := strconv.FormatInt(chatID, 10)
	if msg.From != nil {
		telegramID = strconv.FormatInt(msg.From.ID, 10)
	}

	unlock := h.lockDriver(telegramID)
	defer unlock()

	driver := h.authorize(ctx, bot, chatID, telegramID)
	if driver == nil {
		return
	}

	state := StateFromDriver(driver)

	if msg.Text != "" {
		h.log.Info("Received message", "chatID", chatID, "step", state.Step.String())

		var event Event
		switch msg.Text {
		case "/start", "/help", "/fuel":
			event = EventStart{}
		default:
			event = EventText{Text: msg.Text}
		}

		next, effect := Advance(state, event)
		h.applyEffect(ctx, bot, chatID, driver, next, effect)
		return
	}

	if msg.Document != nil || len(msg.Photo) > 0 {
		h.handleAttachment(ctx, bot, chatID, driver, state, msg)
		return
	}

	bot.SendMessage(chatID, "Не нашёл файл. Пришли фото или документ чека.")
}

func (h *Handlers) HandleCallback(ctx context.Context, bot BotInterface, update tgbotapi.Update) {
	cb := update.CallbackQuery
	if cb == nil || cb.Message == nil {
		return
	}

	chatID := cb.Message.Chat.ID
	telegramID := strconv.FormatInt(chatID, 10)
	if cb.From != nil {
		telegramID = strconv.FormatInt(cb.From.ID, 10)
	}

	bot.AnswerCallbackQuery(cb.ID)

	unlock := h.lockDriver(telegramID)
	defer unlock()

	driver := h.authorize(ctx, bot, chatID, telegramID)
	if driver == nil {
		return
	}

	state := StateFromDriver(driver)
	action, arg := ParseCallback(cb.Data)

	h.log.Info("Received callback", "chatID", chatID, "action", action)

	var event Event
	switch action {
	case ActionVehicle:
		event = EventVehicleChosen{VehicleID: arg}
	case ActionPay:
		method, ok := models.ParsePaymentMethod(arg)
		if !ok {
			return
		}
		event = EventPaymentChosen{Method: method}
	case ActionFuel:
		fuelType, ok := models.ParseFuelType(arg)
		if !ok {
			return
		}
		event = EventFuelChosen{FuelType: fuelType}
	case ActionBack:
		event = EventBack{Target: arg}
	case ActionManual:
		event = EventManualStart{}
	case ActionRedo:
		// The payment may live only on the in-flight receipt after the
		// worker cleared the conversation.
		if state.PaymentMethod == "" && state.ReceiptID != "" {
			if existing, err := h.receipts.GetByID(ctx, state.ReceiptID); err == nil && existing.PaymentMethod != nil {
				state.PaymentMethod = *existing.PaymentMethod
			}
		}
		event = EventRedoPhoto{}
	default:
		return
	}

	next, effect := Advance(state, event)
	h.applyEffect(ctx, bot, chatID, driver, next, effect)
}

// applyEffect persists the advanced state and interprets the effect:
// side effects first, then the prompt for the next step.
func (h *Handlers) applyEffect(ctx context.Context, bot BotInterface, chatID int64, driver *models.Driver, state ConversationState, effect Effect) {
	switch effect.Kind {
	case EffectNeedRestart:
		bot.SendMessage(chatID, "Сначала выбери авто: напиши /fuel")
		return
	case EffectNeedPayment:
		bot.SendMessage(chatID, "Сначала выбери оплату: напиши /fuel")
		return
	case EffectUnknown:
		bot.SendMessage(chatID, "Команда не распознана. Напиши /fuel чтобы начать.")
		return
	case EffectRetryMileage:
		bot.SendMessage(chatID, "Пробег должен быть числом. Введи ещё раз.")
		return
	case EffectRetryDate:
		bot.SendMessage(chatID, "Дата/время не распознаны. Формат: YYYY-MM-DD HH:MM")
		return
	case EffectRetryLiters:
		bot.SendMessage(chatID, "Литры должны быть числом > 0. Введи ещё раз.")
		return
	case EffectRetryTotal:
		bot.SendMessage(chatID, "Сумма должна быть числом > 0. Введи ещё раз.")
		return
	}

	if effect.Kind == EffectFinalizeManual {
		// The conversation is cleared by finalizeManual itself, and only
		// after the receipt commit succeeds: a failed commit keeps the
		// state so the driver can send the total again.
		h.finalizeManual(ctx, bot, chatID, driver, effect.Total)
		return
	}

	if effect.Kind == EffectCreateManualDraft && state.ReceiptID == "" {
		receiptID, ok := h.createManualDraft(ctx, bot, chatID, driver, state)
		if !ok {
			return
		}
		state.ReceiptID = receiptID
	}

	if err := h.saveState(ctx, driver, state); err != nil {
		h.log.Error("Failed to persist conversation state", "driverID", driver.ID, "error", err)
		bot.SendMessage(chatID, "Что-то пошло не так, попробуй ещё раз: /fuel")
		return
	}

	switch effect.Kind {
	case EffectPromptVehicles:
		h.promptVehicles(ctx, bot, chatID)

	case EffectPromptMileage:
		bot.SendMessageWithInlineKeyboard(chatID, "Введи пробег (числом).", backKeyboard("VEHICLE"))

	case EffectPromptPayment:
		bot.SendMessageWithInlineKeyboard(chatID, "Выбери способ оплаты:", paymentKeyboard())

	case EffectPromptPhoto:
		bot.SendMessageWithInlineKeyboard(chatID, "Отправь фото/документ чека или выбери действие.", manualKeyboard())

	case EffectCreateManualDraft, EffectPromptManualDate:
		bot.SendMessageWithInlineKeyboard(chatID,
			"Введи дату и время чека в формате YYYY-MM-DD HH:MM (МСК).", backKeyboard("PAYMENT"))

	case EffectSetReceiptDate:
		if err := h.updateReceipt(ctx, state.ReceiptID, func(r *models.Receipt) {
			r.ReceiptAt = effect.Date
			r.Status = models.ReceiptStatusPending
		}); err != nil {
			h.log.Error("Failed to store receipt date", "receiptID", state.ReceiptID, "error", err)
		}
		bot.SendMessageWithInlineKeyboard(chatID, "Выбери тип топлива:", fuelKeyboard())

	case EffectPromptFuel:
		bot.SendMessageWithInlineKeyboard(chatID, "Выбери тип топлива:", fuelKeyboard())

	case EffectSetReceiptFuel:
		group := models.GroupForFuelType(effect.FuelType)
		if err := h.updateReceipt(ctx, state.ReceiptID, func(r *models.Receipt) {
			ft := effect.FuelType
			r.FuelType = &ft
			r.FuelGroup = &group
		}); err != nil {
			h.log.Error("Failed to store fuel type", "receiptID", state.ReceiptID, "error", err)
		}
		bot.SendMessage(chatID, "Введи литры (числом, можно с точкой).")

	case EffectPromptLiters:
		bot.SendMessageWithInlineKeyboard(chatID, "Введи литры (числом, можно с точкой).", backKeyboard("MANUAL_FUEL"))

	case EffectSetReceiptLiters:
		liters := effect.Liters
		if err := h.updateReceipt(ctx, state.ReceiptID, func(r *models.Receipt) {
			r.Liters = &liters
		}); err != nil {
			h.log.Error("Failed to store liters", "receiptID", state.ReceiptID, "error", err)
		}
		bot.SendMessageWithInlineKeyboard(chatID, "Введи сумму (руб), число.", backKeyboard("MANUAL_FUEL"))

	case EffectPromptTotal:
		bot.SendMessageWithInlineKeyboard(chatID, "Введи сумму (руб), число.", backKeyboard("MANUAL_FUEL"))
	}
}

func (h *Handlers) saveState(ctx context.Context, driver *models.Driver, state ConversationState) error {
	upd := interfaces.ConversationUpdate{
		Mileage:       state.Mileage,
		ReceiptFileID: driver.PendingReceiptFileID,
	}
	if state.Step != "" {
		step := state.Step
		upd.Step = &step
	}
	if state.VehicleID != "" {
		vehicleID := state.VehicleID
		upd.VehicleID = &vehicleID
	}
	if state.PaymentMethod != "" {
		method := state.PaymentMethod
		upd.PaymentMethod = &method
	}
	if state.ReceiptID != "" {
		receiptID := state.ReceiptID
		upd.ReceiptID = &receiptID
	}

	return h.drivers.UpdateConversation(ctx, driver.ID, upd)
}

func (h *Handlers) promptVehicles(ctx context.Context, bot BotInterface, chatID int64) {
	vehicles, err := h.vehicles.ListChatEnabled(ctx, vehicleListLimit)
	if err != nil {
		h.log.Error("Failed to list vehicles", "error", err)
		bot.SendMessage(chatID, "Не удалось загрузить список авто, попробуй позже.")
		return
	}

	bot.SendMessageWithInlineKeyboard(chatID, "Выбери авто (госномер):", vehicleKeyboard(vehicles))
}

func (h *Handlers) updateReceipt(ctx context.Context, receiptID string, mutate func(*models.Receipt)) error {
	if receiptID == "" {
		return postgres.ErrReceiptNotFound
	}

	receipt, err := h.receipts.GetByID(ctx, receiptID)
	if err != nil {
		return err
	}

	mutate(receipt)
	return h.receipts.Update(ctx, receipt)
}

// createManualDraft opens the PENDING receipt the manual branch fills
// in step by step.
func (h *Handlers) createManualDraft(ctx context.Context, bot BotInterface, chatID int64, driver *models.Driver, state ConversationState) (string, bool) {
	vehicle, err := h.vehicles.GetByID(ctx, state.VehicleID)
	if err != nil {
		bot.SendMessage(chatID, "Авто не найдено, начни сначала: /fuel")
		return "", false
	}

	status := string(models.ReceiptStatusPending)
	source := string(models.DataSourceManual)
	dto := receiptsvc.CreateReceiptDTO{
		Driver: receiptsvc.DriverDTO{TelegramUserID: driver.TelegramUserID, FullName: driver.FullName},
		Vehicle: &receiptsvc.VehicleDTO{
			Name:        &vehicle.Name,
			PlateNumber: vehicle.PlateNumber,
		},
		Receipt: receiptsvc.ReceiptDTO{
			StationName: "manual",
			TotalAmount: decimal.Zero,
			Mileage:     state.Mileage,
			Status:      &status,
			DataSource:  &source,
		},
		Items: []receiptsvc.ReceiptItemDTO{{Name: "Pending"}},
	}
	if state.PaymentMethod != "" {
		method := string(state.PaymentMethod)
		dto.Receipt.PaymentMethod = &method
	}

	result, err := h.receiptSvc.CreateFromDTO(ctx, dto)
	if err != nil {
		h.log.Error("Failed to create manual draft", "driverID", driver.ID, "error", err)
		bot.SendMessage(chatID, "Не удалось создать чек, попробуй ещё раз: /fuel")
		return "", false
	}

	return result.Receipt.ID, true
}

// finalizeManual closes the manual branch: totals on the draft, one
// synthetic fuel line, DONE, conversation cleared.
func (h *Handlers) finalizeManual(ctx context.Context, bot BotInterface, chatID int64, driver *models.Driver, total decimal.Decimal) {
	receiptID := ""
	if driver.PendingReceiptID != nil {
		receiptID = *driver.PendingReceiptID
	}
	if receiptID == "" {
		bot.SendMessage(chatID, "Чек не найден, начни заново: /fuel")
		return
	}

	receipt, err := h.receipts.GetByID(ctx, receiptID)
	if err != nil {
		bot.SendMessage(chatID, "Чек не найден, начни заново: /fuel")
		return
	}

	receipt.TotalAmount = total
	receipt.Status = models.ReceiptStatusDone
	receipt.DataSource = models.DataSourceManual
	if receipt.Liters != nil && receipt.Liters.IsPositive() {
		price := total.Div(*receipt.Liters)
		receipt.PricePerLiter = &price
	}

	itemName := "Fuel"
	if receipt.FuelType != nil {
		itemName = string(*receipt.FuelType)
	}
	item := models.ReceiptItem{
		Name:      itemName,
		Quantity:  receipt.Liters,
		UnitPrice: receipt.PricePerLiter,
		Amount:    &total,
		IsFuel:    true,
	}

	// One transaction: a DONE receipt never carries the draft placeholder item.
	if err := h.receipts.UpdateWithItems(ctx, receipt, []models.ReceiptItem{item}); err != nil {
		h.log.Error("Failed to finalize manual receipt", "receiptID", receiptID, "error", err)
		bot.SendMessage(chatID, "Не удалось сохранить чек, попробуй ещё раз.")
		return
	}

	if err := h.drivers.ClearConversation(ctx, driver.ID); err != nil {
		h.log.Error("Failed to clear conversation", "driverID", driver.ID, "error", err)
	}

	bot.SendMessage(chatID, "✅ Чек добавлен вручную.")
}

// handleAttachment stores the receipt photo and opens (or refreshes)
// the PENDING receipt for the worker.
func (h *Handlers) handleAttachment(ctx context.Context, bot BotInterface, chatID int64, driver *models.Driver, state ConversationState, msg *tgbotapi.Message) {
	fileID := ""
	fileSize := 0
	if msg.Document != nil {
		fileID = msg.Document.FileID
		fileSize = msg.Document.FileSize
	} else if len(msg.Photo) > 0 {
		// Telegram sends several resolutions; the last one is the largest.
		photo := msg.Photo[len(msg.Photo)-1]
		fileID = photo.FileID
		fileSize = photo.FileSize
	}

	if fileID == "" {
		bot.SendMessage(chatID, "Не нашёл файл. Пришли фото или документ чека.")
		return
	}
	if fileSize > MaxFileSize {
		bot.SendMessage(chatID, "Файл слишком большой (>10MB).")
		return
	}

	next, effect := Advance(state, EventPhoto{})
	if effect.Kind != EffectSavePhoto {
		h.applyEffect(ctx, bot, chatID, driver, next, effect)
		return
	}

	bot.SendMessage(chatID, "Чек принят, сохраняю…")

	data, remotePath, err := bot.DownloadFile(ctx, fileID)
	if err != nil {
		h.log.Error("Failed to download attachment", "fileID", fileID, "error", err)
		bot.SendMessage(chatID, "Не удалось скачать файл")
		return
	}
	if len(data) > MaxFileSize {
		bot.SendMessage(chatID, "Файл слишком большой (>10MB).")
		return
	}

	storedPath, err := saveFile(h.filesDir, uuid.NewString()+extFromPath(remotePath), data)
	if err != nil {
		h.log.Error("Failed to store attachment", "fileID", fileID, "error", err)
		bot.SendMessage(chatID, "Не удалось сохранить файл")
		return
	}

	receiptID, ok := h.attachToReceipt(ctx, bot, chatID, driver, state, storedPath)
	if !ok {
		return
	}

	// The conversation stays as-is until the worker finishes the
	// receipt and clears it; only the receipt reference is refreshed.
	next.ReceiptID = receiptID
	fileIDCopy := fileID
	driver.PendingReceiptFileID = &fileIDCopy
	if err := h.saveState(ctx, driver, next); err != nil {
		h.log.Error("Failed to persist conversation state", "driverID", driver.ID, "error", err)
	}

	bot.SendMessage(chatID, "Чек сохранён, распознавание в очереди.")
}

// attachToReceipt replaces the image of the driver's in-flight PENDING
// receipt when one exists, otherwise creates a fresh one. Replacing
// (rather than rejecting or queueing) keeps one receipt per submission
// even when the driver re-shoots a blurry photo.
func (h *Handlers) attachToReceipt(ctx context.Context, bot BotInterface, chatID int64, driver *models.Driver, state ConversationState, storedPath string) (string, bool) {
	if state.ReceiptID != "" {
		err := h.updateReceipt(ctx, state.ReceiptID, func(r *models.Receipt) {
			r.ImagePath = &storedPath
			r.Status = models.ReceiptStatusPending
			if state.PaymentMethod != "" {
				method := state.PaymentMethod
				r.PaymentMethod = &method
			}
			if state.Mileage != nil {
				r.Mileage = state.Mileage
			}
		})
		if err != nil {
			h.log.Error("Failed to refresh in-flight receipt", "receiptID", state.ReceiptID, "error", err)
			bot.SendMessage(chatID, "Не удалось сохранить чек, попробуй ещё раз.")
			return "", false
		}
		return state.ReceiptID, true
	}

	vehicle, err := h.vehicles.GetByID(ctx, state.VehicleID)
	if err != nil {
		bot.SendMessage(chatID, "Авто не найдено, начни сначала: /fuel")
		return "", false
	}

	status := string(models.ReceiptStatusPending)
	method := string(state.PaymentMethod)
	dto := receiptsvc.CreateReceiptDTO{
		Driver: receiptsvc.DriverDTO{TelegramUserID: driver.TelegramUserID, FullName: driver.FullName},
		Vehicle: &receiptsvc.VehicleDTO{
			Name:        &vehicle.Name,
			PlateNumber: vehicle.PlateNumber,
		},
		Receipt: receiptsvc.ReceiptDTO{
			StationName:   "telegram",
			TotalAmount:   decimal.Zero,
			Mileage:       state.Mileage,
			Status:        &status,
			PaymentMethod: &method,
			ImagePath:     &storedPath,
		},
		Items: []receiptsvc.ReceiptItemDTO{{Name: "Pending"}},
	}

	result, err := h.receiptSvc.CreateFromDTO(ctx, dto)
	if err != nil {
		h.log.Error("Failed to create receipt from attachment", "driverID", driver.ID, "error", err)
		bot.SendMessage(chatID, "Не удалось сохранить чек, попробуй ещё раз.")
		return "", false
	}

	return result.Receipt.ID, true
}
