package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

type shutdownFunc func(ctx context.Context) error

func nothingToFlush(context.Context) error { return nil }

type tracing struct {
	provider trace.TracerProvider
	shutdown shutdownFunc
}

type metering struct {
	provider metric.MeterProvider
	handler  http.Handler
	shutdown shutdownFunc
}

// newTracing exports spans over OTLP when an endpoint is configured.
func newTracing(ctx context.Context, cfg Config, res *resource.Resource) (tracing, error) {
	if cfg.OTLPEndpoint == "" {
		return tracing{provider: nooptrace.NewTracerProvider(), shutdown: nothingToFlush}, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	if len(cfg.OTLPHeaders) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.OTLPHeaders))
	}

	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return tracing{}, fmt.Errorf("otlp trace exporter: %w", err)
	}

	root := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		root = sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(root)),
	)

	return tracing{provider: tp, shutdown: tp.Shutdown}, nil
}

// newMetering attaches a Prometheus reader, an OTLP periodic reader, both,
// or neither.
func newMetering(ctx context.Context, cfg Config, res *resource.Resource) (metering, error) {
	if cfg.OTLPEndpoint == "" && !cfg.Prometheus {
		return metering{provider: noopmetric.NewMeterProvider(), shutdown: nothingToFlush}, nil
	}

	var (
		m    metering
		opts = []sdkmetric.Option{sdkmetric.WithResource(res)}
	)

	if cfg.Prometheus {
		// A private registry keeps Go runtime collectors of the default
		// registry out of the scrape.
		reg := prometheus.NewRegistry()

		reader, err := promexporter.New(promexporter.WithRegisterer(reg))
		if err != nil {
			return metering{}, fmt.Errorf("prometheus exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(reader))
		m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	if cfg.OTLPEndpoint != "" {
		exp, err := newOTLPMetricExporter(ctx, cfg)
		if err != nil {
			return metering{}, err
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	m.provider = mp
	m.shutdown = mp.Shutdown

	return m, nil
}

func newOTLPMetricExporter(ctx context.Context, cfg Config) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	if len(cfg.OTLPHeaders) > 0 {
		opts = append(opts, otlpmetricgrpc.WithHeaders(cfg.OTLPHeaders))
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp metric exporter: %w", err)
	}

	return exp, nil
}

// ParseOTLPHeaders splits "k1=v1,k2=v2" into a map. Pairs without "=" are
// skipped; nil is returned when nothing is left.
func ParseOTLPHeaders(raw string) map[string]string {
	var headers map[string]string

	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)

		if !ok || k == "" {
			continue
		}

		if headers == nil {
			headers = make(map[string]string)
		}

		headers[k] = strings.TrimSpace(v)
	}

	return headers
}
