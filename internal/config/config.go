package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	TelegramBotToken      string
	TelegramWebhookURL    string
	TelegramWebhookSecret string
	TelegramFilesDir      string

	ProviderToken   string
	ProviderURL     string
	ProviderTimeout time.Duration

	WorkerInterval    time.Duration
	WorkerBatchSize   int
	WorkerMaxAttempts int

	HTTPAddr string
	Env      string
}

func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "fuel-control"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		TelegramBotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramWebhookURL:    getEnv("TELEGRAM_WEBHOOK_URL", ""),
		TelegramWebhookSecret: getEnv("TELEGRAM_WEBHOOK_SECRET", ""),
		TelegramFilesDir:      getEnv("TELEGRAM_FILES_DIR", "data/telegram"),

		ProviderToken:   getEnv("RECEIPTS_API_KEY", ""),
		ProviderURL:     getEnv("RECEIPTS_API_URL", "https://proverkacheka.com/api/v1/check/get"),
		ProviderTimeout: getDurationEnv("PENDING_WORKER_TIMEOUT", 15*time.Second),

		WorkerInterval:    getDurationEnv("PENDING_WORKER_INTERVAL", 15*time.Second),
		WorkerBatchSize:   getIntEnv("PENDING_WORKER_BATCH", 2),
		WorkerMaxAttempts: getIntEnv("PENDING_WORKER_MAX_ATTEMPTS", 3),

		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		Env:      getEnv("ENV", "local"),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}

	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}

	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}

	return defaultValue
}
