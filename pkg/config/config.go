// Package config loads and validates maxe configuration from defaults, an
// optional YAML file and MAXE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Sumatoshi-tech/maxe/pkg/persist"
	"github.com/Sumatoshi-tech/maxe/pkg/signals"
)

// Sentinel validation errors.
var (
	ErrInvalidGeneration = errors.New("search max generation out of range")
	ErrInvalidChunkSize  = errors.New("search chunk size must be positive")
	ErrInvalidWorkers    = errors.New("control workers must not be negative")
	ErrInvalidDuration   = errors.New("invalid duration")
	ErrInvalidSignals    = errors.New("invalid signal list")
	ErrInvalidCodec      = errors.New("invalid checkpoint codec")
	ErrInvalidPath       = errors.New("checkpoint path must not be empty")
	ErrInvalidLogLevel   = errors.New("invalid log level")
	ErrInvalidSampling   = errors.New("sample ratio must be within [0, 1]")
)

// Config holds all configuration for a maxe run.
type Config struct {
	Search     SearchConfig     `mapstructure:"search"`
	Control    ControlConfig    `mapstructure:"control"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// SearchConfig configures the staircase search.
type SearchConfig struct {
	Output        string `mapstructure:"output"`
	MaxGeneration int    `mapstructure:"max_generation"`
	ChunkSize     int    `mapstructure:"chunk_size"`
}

// ControlConfig configures notification routing and the coordinator.
type ControlConfig struct {
	BreakSignals    []string      `mapstructure:"break_signals"`
	DumpSignals     []string      `mapstructure:"dump_signals"`
	GracePeriod     time.Duration `mapstructure:"grace_period"`
	EscalationGrace time.Duration `mapstructure:"escalation_grace"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	Workers         int           `mapstructure:"workers"`
}

// CheckpointConfig configures the artifact.
type CheckpointConfig struct {
	Path          string        `mapstructure:"path"`
	Codec         string        `mapstructure:"codec"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	Interval      time.Duration `mapstructure:"interval"`
	LockTimeout   time.Duration `mapstructure:"lock_timeout"`
	Compress      bool          `mapstructure:"compress"`
	FlushOnBreak  bool          `mapstructure:"flush_on_break"`
	Resume        bool          `mapstructure:"resume"`
	Lock          bool          `mapstructure:"lock"`
}

// CodecName returns the payload codec name including compression.
func (c CheckpointConfig) CodecName() string {
	if c.Compress && !persist.Compressed(c.Codec) {
		return c.Codec + "+lz4"
	}

	return c.Codec
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// TelemetryConfig configures tracing, metrics and the diagnostics server.
type TelemetryConfig struct {
	Environment     string  `mapstructure:"environment"`
	OTLPEndpoint    string  `mapstructure:"otlp_endpoint"`
	OTLPHeaders     string  `mapstructure:"otlp_headers"`
	DiagnosticsAddr string  `mapstructure:"diagnostics_addr"`
	SampleRatio     float64 `mapstructure:"sample_ratio"`
	OTLPInsecure    bool    `mapstructure:"otlp_insecure"`
	Prometheus      bool    `mapstructure:"prometheus"`
}

// Load reads configuration from configPath, or from maxe.yaml in the
// usual locations when configPath is empty, then applies MAXE_*
// environment variables on top of the defaults.
func Load(configPath string) (*Config, error) {
	return Read(New(), configPath)
}

// Read is Load on a caller-supplied viper instance from New, e.g. one with
// command-line flags bound to it.
func Read(v *viper.Viper, configPath string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("maxe")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/maxe")
	}

	readErr := v.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	return Decode(v)
}

// New returns a viper instance carrying the defaults and environment
// binding. Callers may bind command-line flags to it before Decode.
func New() *viper.Viper {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("MAXE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Decode unmarshals and validates the configuration held by v.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config

	unmarshalErr := v.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("search.max_generation", DefaultMaxGeneration)
	v.SetDefault("search.chunk_size", DefaultChunkSize)
	v.SetDefault("search.output", DefaultOutput)

	v.SetDefault("control.break_signals", signalNames(signals.DefaultBreakSignals()))
	v.SetDefault("control.dump_signals", signalNames(signals.DefaultDumpSignals()))
	v.SetDefault("control.grace_period", DefaultGracePeriod)
	v.SetDefault("control.escalation_grace", DefaultEscalationGrace)
	v.SetDefault("control.poll_interval", DefaultPollInterval)
	v.SetDefault("control.workers", DefaultWorkers)

	v.SetDefault("checkpoint.path", DefaultCheckpointPath)
	v.SetDefault("checkpoint.codec", DefaultCodec)
	v.SetDefault("checkpoint.compress", DefaultCompress)
	v.SetDefault("checkpoint.flush_on_break", DefaultFlushOnBreak)
	v.SetDefault("checkpoint.retry_interval", DefaultRetryInterval)
	v.SetDefault("checkpoint.interval", DefaultDumpInterval)
	v.SetDefault("checkpoint.resume", DefaultResume)
	v.SetDefault("checkpoint.lock", DefaultLock)
	v.SetDefault("checkpoint.lock_timeout", DefaultLockTimeout)

	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("logging.json", DefaultLogJSON)

	v.SetDefault("telemetry.environment", DefaultEnvironment)
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_headers", "")
	v.SetDefault("telemetry.otlp_insecure", false)
	v.SetDefault("telemetry.sample_ratio", DefaultSampleRatio)
	v.SetDefault("telemetry.diagnostics_addr", DefaultDiagnosticsAddr)
	v.SetDefault("telemetry.prometheus", DefaultPrometheus)
}

func signalNames(sigs []os.Signal) []string {
	names := make([]string, 0, len(sigs))
	for _, sig := range sigs {
		names = append(names, signals.SignalName(sig))
	}

	return names
}

// Validate checks every field for a usable value.
func (c *Config) Validate() error {
	if c.Search.MaxGeneration < 1 || c.Search.MaxGeneration > MaxGenerationLimit {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidGeneration, c.Search.MaxGeneration, MaxGenerationLimit)
	}

	if c.Search.ChunkSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidChunkSize, c.Search.ChunkSize)
	}

	if c.Control.Workers < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, c.Control.Workers)
	}

	err := c.validateDurations()
	if err != nil {
		return err
	}

	err = c.validateSignals()
	if err != nil {
		return err
	}

	if strings.TrimSpace(c.Checkpoint.Path) == "" {
		return ErrInvalidPath
	}

	_, err = persist.CodecByName(c.Checkpoint.CodecName())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCodec, err)
	}

	_, err = c.LogLevel()
	if err != nil {
		return err
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("%w: %g", ErrInvalidSampling, c.Telemetry.SampleRatio)
	}

	return nil
}

func (c *Config) validateDurations() error {
	nonNegative := map[string]time.Duration{
		"control.grace_period":     c.Control.GracePeriod,
		"control.escalation_grace": c.Control.EscalationGrace,
		"checkpoint.interval":      c.Checkpoint.Interval,
		"checkpoint.lock_timeout":  c.Checkpoint.LockTimeout,
	}

	for key, d := range nonNegative {
		if d < 0 {
			return fmt.Errorf("%w: %s is %s", ErrInvalidDuration, key, d)
		}
	}

	if c.Control.PollInterval <= 0 {
		return fmt.Errorf("%w: control.poll_interval must be positive, got %s", ErrInvalidDuration, c.Control.PollInterval)
	}

	if c.Checkpoint.RetryInterval <= 0 {
		return fmt.Errorf("%w: checkpoint.retry_interval must be positive, got %s",
			ErrInvalidDuration, c.Checkpoint.RetryInterval)
	}

	return nil
}

func (c *Config) validateSignals() error {
	breaks, err := signals.ParseSignals(c.Control.BreakSignals)
	if err != nil {
		return fmt.Errorf("%w: break: %w", ErrInvalidSignals, err)
	}

	dumps, err := signals.ParseSignals(c.Control.DumpSignals)
	if err != nil {
		return fmt.Errorf("%w: dump: %w", ErrInvalidSignals, err)
	}

	for _, b := range breaks {
		for _, d := range dumps {
			if b == d {
				return fmt.Errorf("%w: %w: %s", ErrInvalidSignals, signals.ErrSignalConflict, signals.SignalName(b))
			}
		}
	}

	return nil
}

// LogLevel parses Logging.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var lvl slog.Level

	err := lvl.UnmarshalText([]byte(c.Logging.Level))
	if err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Logging.Level)
	}

	return lvl, nil
}

// Settings returns the configuration as nested maps keyed like the YAML
// file, with durations rendered as strings.
func (c *Config) Settings() map[string]any {
	return map[string]any{
		"search": map[string]any{
			"max_generation": c.Search.MaxGeneration,
			"chunk_size":     c.Search.ChunkSize,
			"output":         c.Search.Output,
		},
		"control": map[string]any{
			"break_signals":    c.Control.BreakSignals,
			"dump_signals":     c.Control.DumpSignals,
			"grace_period":     c.Control.GracePeriod.String(),
			"escalation_grace": c.Control.EscalationGrace.String(),
			"poll_interval":    c.Control.PollInterval.String(),
			"workers":          c.Control.Workers,
		},
		"checkpoint": map[string]any{
			"path":           c.Checkpoint.Path,
			"codec":          c.Checkpoint.Codec,
			"compress":       c.Checkpoint.Compress,
			"flush_on_break": c.Checkpoint.FlushOnBreak,
			"retry_interval": c.Checkpoint.RetryInterval.String(),
			"interval":       c.Checkpoint.Interval.String(),
			"resume":         c.Checkpoint.Resume,
			"lock":           c.Checkpoint.Lock,
			"lock_timeout":   c.Checkpoint.LockTimeout.String(),
		},
		"logging": map[string]any{
			"level": c.Logging.Level,
			"json":  c.Logging.JSON,
		},
		"telemetry": map[string]any{
			"environment":      c.Telemetry.Environment,
			"otlp_endpoint":    c.Telemetry.OTLPEndpoint,
			"otlp_headers":     c.Telemetry.OTLPHeaders,
			"otlp_insecure":    c.Telemetry.OTLPInsecure,
			"sample_ratio":     c.Telemetry.SampleRatio,
			"diagnostics_addr": c.Telemetry.DiagnosticsAddr,
			"prometheus":       c.Telemetry.Prometheus,
		},
	}
}
