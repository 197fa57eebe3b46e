package telemetry

import (
	"log/slog"
	"os"
)

// InitSlog installs the process-wide default logger. Verbose mode drops
// the level to debug, which also turns on per-request logging in the
// fetch layer.
func InitSlog(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}
