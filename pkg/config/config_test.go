package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/maxe/pkg/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "maxe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, config.DefaultMaxGeneration, cfg.Search.MaxGeneration)
	assert.Equal(t, config.DefaultChunkSize, cfg.Search.ChunkSize)
	assert.Equal(t, config.DefaultOutput, cfg.Search.Output)
	assert.Equal(t, config.DefaultEscalationGrace, cfg.Control.EscalationGrace)
	assert.Equal(t, config.DefaultPollInterval, cfg.Control.PollInterval)
	assert.Zero(t, cfg.Control.GracePeriod)
	assert.Equal(t, config.DefaultCheckpointPath, cfg.Checkpoint.Path)
	assert.Equal(t, "gob", cfg.Checkpoint.CodecName())
	assert.True(t, cfg.Checkpoint.FlushOnBreak)
	assert.True(t, cfg.Checkpoint.Resume)
	assert.True(t, cfg.Checkpoint.Lock)
	assert.Equal(t, config.DefaultRetryInterval, cfg.Checkpoint.RetryInterval)
	assert.NotEmpty(t, cfg.Control.BreakSignals)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `search:
  max_generation: 12
  chunk_size: 8
  output: staircases.txt
control:
  break_signals: [SIGTERM]
  dump_signals: [usr2, hup]
  grace_period: 10s
  workers: 4
checkpoint:
  path: /var/lib/maxe/run.ckpt
  codec: json
  compress: true
  flush_on_break: false
  interval: 15m
logging:
  level: debug
  json: true
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Search.MaxGeneration)
	assert.Equal(t, 8, cfg.Search.ChunkSize)
	assert.Equal(t, "staircases.txt", cfg.Search.Output)
	assert.Equal(t, []string{"SIGTERM"}, cfg.Control.BreakSignals)
	assert.Equal(t, []string{"usr2", "hup"}, cfg.Control.DumpSignals)
	assert.Equal(t, 10*time.Second, cfg.Control.GracePeriod)
	assert.Equal(t, 4, cfg.Control.Workers)
	assert.Equal(t, "/var/lib/maxe/run.ckpt", cfg.Checkpoint.Path)
	assert.Equal(t, "json+lz4", cfg.Checkpoint.CodecName())
	assert.False(t, cfg.Checkpoint.FlushOnBreak)
	assert.Equal(t, 15*time.Minute, cfg.Checkpoint.Interval)
	assert.True(t, cfg.Logging.JSON)

	lvl, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", lvl.String())
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	t.Setenv("MAXE_SEARCH_MAX_GENERATION", "30")
	t.Setenv("MAXE_CHECKPOINT_PATH", "env.ckpt")
	t.Setenv("MAXE_CONTROL_ESCALATION_GRACE", "250ms")

	cfg, err := config.Load(writeConfig(t, "search:\n  max_generation: 12\n"))
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Search.MaxGeneration)
	assert.Equal(t, "env.ckpt", cfg.Checkpoint.Path)
	assert.Equal(t, 250*time.Millisecond, cfg.Control.EscalationGrace)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    error
	}{
		{"generation zero", "search:\n  max_generation: 0\n", config.ErrInvalidGeneration},
		{"generation too large", "search:\n  max_generation: 256\n", config.ErrInvalidGeneration},
		{"chunk size", "search:\n  chunk_size: 0\n", config.ErrInvalidChunkSize},
		{"workers", "control:\n  workers: -1\n", config.ErrInvalidWorkers},
		{"poll interval", "control:\n  poll_interval: 0s\n", config.ErrInvalidDuration},
		{"negative grace", "control:\n  grace_period: -1s\n", config.ErrInvalidDuration},
		{"retry interval", "checkpoint:\n  retry_interval: 0s\n", config.ErrInvalidDuration},
		{"unknown signal", "control:\n  break_signals: [SIGNOPE]\n", config.ErrInvalidSignals},
		{
			"overlapping signals",
			"control:\n  break_signals: [SIGUSR2]\n  dump_signals: [SIGUSR2]\n",
			config.ErrInvalidSignals,
		},
		{"codec", "checkpoint:\n  codec: xml\n", config.ErrInvalidCodec},
		{"empty path", "checkpoint:\n  path: \" \"\n", config.ErrInvalidPath},
		{"log level", "logging:\n  level: chatty\n", config.ErrInvalidLogLevel},
		{"sample ratio", "telemetry:\n  sample_ratio: 2\n", config.ErrInvalidSampling},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := config.Load(writeConfig(t, tt.content))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSettings_RendersDurations(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(writeConfig(t, ""))
	require.NoError(t, err)

	settings := cfg.Settings()

	control, ok := settings["control"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "5s", control["escalation_grace"])
	assert.Equal(t, "0s", control["grace_period"])

	checkpoint, ok := settings["checkpoint"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "maxe.ckpt", checkpoint["path"])
}
