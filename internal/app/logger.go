package app

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger builds the attendance service logger. Every record carries the
// service name and APP_ENV so API and worker output can be told apart.
func NewLogger(cfg *Config) *slog.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true, Level: cfg.LogLevel()}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	env := "development"
	if cfg != nil {
		env = cfg.AppEnv
		if cfg.LogFormat == "json" {
			handler = slog.NewJSONHandler(w, opts)
		}
	}
	return slog.New(handler).With(slog.String("service", "attendance"), slog.String("env", env))
}
