package logging

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"cloudpico-node/internal/config"
)

// New builds the process logger. Extra handlers, such as the MQTT sink, are
// fanned out next to the console handler.
func New(cfg config.Config, version string, appName string, extra ...slog.Handler) *slog.Logger {
	var h slog.Handler
	var attrs []any
	if version == "dev" {
		h = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      cfg.LogLevel,
			AddSource:  true,
			TimeFormat: time.Kitchen,
		})
		attrs = []any{"app", appName}
	} else {
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: cfg.LogLevel,
		})
		attrs = []any{
			"app", appName,
			"version", version,
			"env", cfg.AppEnv,
		}
	}

	if len(extra) > 0 {
		h = Fanout(append([]slog.Handler{h}, extra...)...)
	}
	return slog.New(h).With(attrs...)
}
