// Package observability provides logging, metrics, and tracing for the engine.
package observability

import (
	"log/slog"
	"os"

	"github.com/fairyhunter13/engage-engine/internal/config"
)

// SetupLogger builds the engine's JSON logger. Dev runs at debug with
// source locations; every other environment logs info and above. The
// service and env attrs ride on every record so multi-process log
// streams stay attributable.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts)).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
}
