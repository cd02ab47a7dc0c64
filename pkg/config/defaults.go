package config

import "time"

// Search defaults.
const (
	DefaultMaxGeneration = 60
	DefaultChunkSize     = 64
	DefaultOutput        = "-"

	// MaxGenerationLimit bounds search.max_generation; staircase rows are
	// stored in a byte.
	MaxGenerationLimit = 255
)

// Control defaults.
const (
	DefaultGracePeriod     = time.Duration(0)
	DefaultEscalationGrace = 5 * time.Second
	DefaultPollInterval    = 50 * time.Millisecond
	DefaultWorkers         = 0
)

// Checkpoint defaults.
const (
	DefaultCheckpointPath = "maxe.ckpt"
	DefaultCodec          = "gob"
	DefaultCompress       = false
	DefaultFlushOnBreak   = true
	DefaultRetryInterval  = 30 * time.Second
	DefaultDumpInterval   = time.Duration(0)
	DefaultResume         = true
	DefaultLock           = true
	DefaultLockTimeout    = 2 * time.Second
)

// Logging defaults.
const (
	DefaultLogLevel = "info"
	DefaultLogJSON  = false
)

// Telemetry defaults.
const (
	DefaultEnvironment     = "production"
	DefaultSampleRatio     = 1.0
	DefaultDiagnosticsAddr = ""
	DefaultPrometheus      = true
)
