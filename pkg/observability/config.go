// Package observability provides OpenTelemetry tracing, metrics, and
// structured logging for maxe runs.
package observability

import (
	"log/slog"
	"time"
)

// AppMode identifies the build-time execution mode.
type AppMode string

const (
	// ModeSingle is the single-worker build.
	ModeSingle AppMode = "single"
	// ModeThreaded is the worker-pool build.
	ModeThreaded AppMode = "threaded"
)

const (
	defaultServiceName     = "maxe"
	defaultShutdownTimeout = 5 * time.Second
)

// Config holds all observability configuration.
type Config struct {
	// ServiceName is the OTel resource service name.
	ServiceName string

	// ServiceVersion is the version of the running binary.
	ServiceVersion string

	// Environment is the deployment environment (e.g. "production", "dev").
	Environment string

	// Mode is the build's execution mode.
	Mode AppMode

	// OTLPEndpoint is the OTLP gRPC collector address (e.g. "localhost:4317").
	// Empty disables OTLP export.
	OTLPEndpoint string

	// OTLPHeaders are additional gRPC metadata headers for the OTLP exporter.
	OTLPHeaders map[string]string

	// OTLPInsecure disables TLS for the OTLP gRPC connection.
	OTLPInsecure bool

	// SampleRatio is the trace sampling ratio. Zero samples every root span.
	SampleRatio float64

	// Prometheus attaches a Prometheus reader to the meter provider and
	// exposes it as Providers.MetricsHandler.
	Prometheus bool

	// LogLevel controls the minimum slog severity.
	LogLevel slog.Level

	// LogJSON enables JSON-formatted log output.
	LogJSON bool

	// ShutdownTimeout bounds the telemetry flush on shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config for zero-config startup.
func DefaultConfig() Config {
	return Config{
		ServiceName:     defaultServiceName,
		Mode:            ModeSingle,
		LogLevel:        slog.LevelInfo,
		ShutdownTimeout: defaultShutdownTimeout,
	}
}

// ParseLevel maps a level name such as "debug" or "WARN" to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	var lvl slog.Level

	err := lvl.UnmarshalText([]byte(name))
	if err != nil {
		return slog.LevelInfo, err
	}

	return lvl, nil
}
