package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fuel-control/internal/bot"
	"fuel-control/internal/config"
	delivery "fuel-control/internal/delivery/http"
	"fuel-control/internal/logger"
	"fuel-control/internal/qr"
	"fuel-control/internal/recognition"
	"fuel-control/internal/repository"
	"fuel-control/internal/service/notification"
	receiptsvc "fuel-control/internal/service/receipt"
	"fuel-control/internal/worker"
	"fuel-control/pkg/database"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	_ "github.com/lib/pq"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger(cfg.Env)
	if cfg.Env != "prod" {
		log.Info("Debug messages are enable")
	}

	migrationDB, err := database.NewPostgresDB(cfg)
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := database.RunMigrations(migrationDB, log); err != nil {
		log.Error("Failed to run migrations", "error", err)
		if err := migrationDB.Close(); err != nil {
			log.Error("Failed to close migration db", "error", err)
		}
		os.Exit(1)
	}

	appDB, err := database.NewPostgresDB(cfg)
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	repo := repository.NewRepository(appDB)

	telegramBot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Error("Failed to create Telegram bot", "error", err)
		os.Exit(1)
	}

	telegramBot.Debug = cfg.Env == "dev"
	log.Info("Authorized on account", "username", telegramBot.Self.UserName)

	notificationService := notification.NewService(telegramBot, log)
	receiptService := receiptsvc.NewService(repo.Driver, repo.Vehicle, repo.Receipt, log)

	recognitionClient := recognition.NewClient(cfg.ProviderToken, cfg.ProviderURL, cfg.ProviderTimeout, log)

	recognitionWorker := worker.New(
		repo.Receipt,
		repo.Driver,
		repo.Vehicle,
		qr.NewDecoder(),
		recognitionClient,
		notificationService,
		worker.Config{
			Interval:        cfg.WorkerInterval,
			BatchSize:       cfg.WorkerBatchSize,
			MaxAttempts:     cfg.WorkerMaxAttempts,
			ProviderTimeout: cfg.ProviderTimeout,
			FilesDir:        cfg.TelegramFilesDir,
		},
		log,
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	go recognitionWorker.Run(ctx)

	handlers := bot.NewHandlers(repo.Driver, repo.Vehicle, repo.Receipt, receiptService, cfg.TelegramFilesDir, log)
	botInstance := bot.NewTelegramBot(telegramBot, handlers, log)

	if err := botInstance.SetDefaultCommands(); err != nil {
		log.Warn("Failed to set bot commands", "error", err)
	}

	if cfg.TelegramWebhookURL != "" {
		if err := botInstance.SetWebhook(cfg.TelegramWebhookURL, cfg.TelegramWebhookSecret); err != nil {
			log.Error("Failed to set webhook", "error", err)
			os.Exit(1)
		}
		log.Info("Telegram updates via webhook", "url", cfg.TelegramWebhookURL)
	} else {
		if err := botInstance.DeleteWebhook(); err != nil {
			log.Warn("Failed to delete webhook", "error", err)
		}
		go botInstance.Start(ctx)
	}

	httpHandler := delivery.NewHandler(repo.Receipt, receiptService, botInstance, cfg.TelegramWebhookSecret, log)

	mux := http.NewServeMux()
	httpHandler.Register(mux)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Failed to start HTTP server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Server exited")
}
