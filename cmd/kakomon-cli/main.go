package main

import (
	"context"
	"log/slog"
	"os"

	"kakomon-harvester/cmd/kakomon-cli/commands"
	"kakomon-harvester/lib/serviceutil"
	"kakomon-harvester/lib/telemetry"
)

func main() {
	ctx := serviceutil.SignalContext()
	telemetry.InitSlog(true)

	err := telemetry.SetupFromEnv(ctx, "kakomon-cli")
	if err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to setup telemetry", "err", err)
	}
	if err == nil {
		defer telemetry.Shutdown(context.Background())
		telemetry.InstrumentPerfStats(ctx)
	}

	commands.ExecuteContext(ctx)
}
