package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/WillyEverGreen/CRCE-calc/internal/components/telemetry"
	"github.com/WillyEverGreen/CRCE-calc/lib/serviceutil"
)

// InitTelemetry installs logging and exporters, the returned func flushes the exporters.
func InitTelemetry(ctx context.Context, verbose bool, cfg telemetry.Config) (telemetry.API, func()) {
	telemetry.InitSlog(verbose)

	if verbose {
		slog.DebugContext(ctx, "verbose logging enabled")
	}

	providers, err := telemetry.Setup(ctx, "crce-server", cfg)
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}

	tel := telemetry.NewMeterAPI(telemetry.SlogAPI{})
	telemetry.InstrumentPerfStats(ctx, tel, 15*time.Second)
	return tel, shutdown
}
