package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Sumatoshi-tech/maxe/pkg/config"
	"github.com/Sumatoshi-tech/maxe/pkg/coordinator"
	"github.com/Sumatoshi-tech/maxe/pkg/observability"
	"github.com/Sumatoshi-tech/maxe/pkg/version"
)

// readiness reports ready while the coordinator can still make progress.
func readiness(coord *coordinator.Coordinator) observability.ReadyCheck {
	return func(context.Context) error {
		if s := coord.State(); !s.Live() {
			return fmt.Errorf("coordinator is %s", s)
		}

		return nil
	}
}

func startDiagnostics(
	cfg *config.Config, opts Options, coord *coordinator.Coordinator,
) (*observability.DiagnosticsServer, error) {
	if cfg.Telemetry.DiagnosticsAddr == "" {
		return nil, nil //nolint:nilnil // disabled
	}

	srv, err := observability.NewDiagnosticsServer(cfg.Telemetry.DiagnosticsAddr, opts.MetricsHandler,
		opts.Logger, readiness(coord))
	if err != nil {
		return nil, err
	}

	opts.Logger.Info("diagnostics listening", slog.String("addr", srv.Addr()))

	return srv, nil
}

func stopDiagnostics(srv *observability.DiagnosticsServer, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), diagnosticsShutdownTimeout)
	defer cancel()

	err := srv.Close(ctx)
	if err != nil {
		logger.Warn("diagnostics shutdown", slog.Any("error", err))
	}
}

// Telemetry maps the configuration onto observability settings.
func Telemetry(cfg *config.Config) (observability.Config, error) {
	lvl, err := cfg.LogLevel()
	if err != nil {
		return observability.Config{}, err
	}

	oc := observability.DefaultConfig()
	oc.ServiceName = version.Program()
	oc.ServiceVersion = version.Build()
	oc.Environment = cfg.Telemetry.Environment
	oc.Mode = observability.AppMode(version.Mode())
	oc.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	oc.OTLPHeaders = observability.ParseOTLPHeaders(cfg.Telemetry.OTLPHeaders)
	oc.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	oc.SampleRatio = cfg.Telemetry.SampleRatio
	oc.Prometheus = cfg.Telemetry.Prometheus && cfg.Telemetry.DiagnosticsAddr != ""
	oc.LogLevel = lvl
	oc.LogJSON = cfg.Logging.JSON

	return oc, nil
}
