package platform

import (
	"log/slog"
	"os"
	"strings"
)

// InitLogger configures the process-wide JSON logger.
// Level comes from CHARGEBACK_LOG_LEVEL (debug, info, warn, error).
func InitLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(GetEnv("CHARGEBACK_LOG_LEVEL", "info")),
	}))
	slog.SetDefault(logger)
	return logger
}

// ComponentLogger returns a child logger tagged with a component name.
func ComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func LogFatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
