package main

import (
	"context"
	"log/slog"
	"os"

	"datafetch-backend/cmd/datafetch/commands"
	"datafetch-backend/lib/serviceutil"
	"datafetch-backend/lib/telemetry"

	"github.com/joho/godotenv"
)

func main() {
	godotenv.Load()

	ctx := serviceutil.SignalContext()
	t, err := telemetry.SetupFromEnv(ctx, "datafetch")
	if err != nil {
		// telemetry.json5 is optional for the cli, spans just go nowhere
		if !os.IsNotExist(err) {
			slog.Warn("failed to setup telemetry", "error", err)
		}
	} else {
		defer t.Shutdown(context.Background())
	}

	commands.ExecuteContext(ctx)
}
