package logger

import (
	"log/slog"
	"os"
)

// NewLogger returns a text logger with debug level outside prod and a
// JSON logger at info level in prod.
func NewLogger(env string) *slog.Logger {
	var handler slog.Handler

	if env == "prod" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}

	return slog.New(handler)
}
