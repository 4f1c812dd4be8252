package logging

import (
	"io"
	"log/slog"
	"os"
)

// ParseLevel maps a LOG_LEVEL value to a slog level. Unknown values fall back
// to def.
func ParseLevel(l string, def slog.Level) slog.Level {
	switch l {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	}
	return def
}

// New returns a text logger writing to w.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(
		slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: level,
		}),
	)
}

// Init installs the default logger. def is used when LOG_LEVEL is unset:
// the relay runs at info, peers only show errors.
func Init(def slog.Level) *slog.Logger {
	level := ParseLevel(os.Getenv("LOG_LEVEL"), def)

	logger := New(os.Stderr, level)
	slog.SetDefault(logger)
	return logger
}
