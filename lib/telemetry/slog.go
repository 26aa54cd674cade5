package telemetry

import (
	"log/slog"
	"os"
)

// InitSlog installs the process-wide text handler. debug widens the level
// to include per-request logging from the resty instrumentation.
func InitSlog(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}
