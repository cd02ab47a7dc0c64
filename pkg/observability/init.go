package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// instrumentationName names the tracer and the meter.
const instrumentationName = "github.com/Sumatoshi-tech/maxe"

// Providers is what a run needs from telemetry.
type Providers struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger *slog.Logger

	// MetricsHandler is the Prometheus scrape handler, or nil when
	// Config.Prometheus is off.
	MetricsHandler http.Handler

	// Shutdown flushes exporters. Call it once before exit.
	Shutdown func(ctx context.Context) error
}

// Init sets up the global tracer and meter providers and a logger writing
// to stderr. With neither OTLP nor Prometheus configured the providers are
// no-ops and only the logger does any work.
func Init(cfg Config) (Providers, error) {
	return initWithWriter(cfg, os.Stderr)
}

func initWithWriter(cfg Config, logOut io.Writer) (Providers, error) {
	ctx := context.Background()

	res, err := newResource(ctx, cfg)
	if err != nil {
		return Providers{}, err
	}

	tracing, err := newTracing(ctx, cfg, res)
	if err != nil {
		return Providers{}, fmt.Errorf("tracing: %w", err)
	}

	metering, err := newMetering(ctx, cfg, res)
	if err != nil {
		return Providers{}, errors.Join(fmt.Errorf("metrics: %w", err), tracing.shutdown(ctx))
	}

	otel.SetTracerProvider(tracing.provider)
	otel.SetMeterProvider(metering.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	grace := cfg.ShutdownTimeout
	if grace <= 0 {
		grace = defaultShutdownTimeout
	}

	return Providers{
		Tracer:         tracing.provider.Tracer(instrumentationName),
		Meter:          metering.provider.Meter(instrumentationName),
		Logger:         newLogger(cfg, logOut),
		MetricsHandler: metering.handler,
		Shutdown: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, grace)
			defer cancel()

			return errors.Join(tracing.shutdown(ctx), metering.shutdown(ctx))
		},
	}, nil
}

// newResource describes this process: service identity, build mode and pid.
func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}

	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}

	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}

	if cfg.Mode != "" {
		attrs = append(attrs, attribute.String("maxe.mode", string(cfg.Mode)))
	}

	res, err := resource.New(ctx, resource.WithAttributes(attrs...), resource.WithProcessPID())
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	return res, nil
}

func newLogger(cfg Config, out io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var base slog.Handler = slog.NewTextHandler(out, opts)
	if cfg.LogJSON {
		base = slog.NewJSONHandler(out, opts)
	}

	return slog.New(NewRunHandler(base, Labels{Service: cfg.ServiceName, Env: cfg.Environment, Mode: cfg.Mode}))
}
