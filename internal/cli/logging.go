package cli

import (
	"io"
	"log/slog"
	"strings"

	"github.com/makobot/mako/internal/config"
)

// newLogger builds a text or JSON handler at the configured level. Unknown
// levels fall back to info.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(cfg.Level))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func setupLogging(cfg config.LogConfig, w io.Writer) {
	slog.SetDefault(newLogger(cfg, w))
}
