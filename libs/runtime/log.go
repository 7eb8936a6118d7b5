package runtime

import (
	"log/slog"
	"os"
	"strings"
)

func NewLogger(service string) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParseLevel(os.Getenv("LOG_LEVEL")),
	})
	return slog.New(h).With("service", service)
}

// ParseLevel maps debug/info/warn/error to a slog level. Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
