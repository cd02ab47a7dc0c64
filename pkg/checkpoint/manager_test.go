package checkpoint_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/maxe/pkg/checkpoint"
	"github.com/Sumatoshi-tech/maxe/pkg/persist"
	"github.com/Sumatoshi-tech/maxe/pkg/persist/persisttest"
)

type payload struct {
	Generation int
	Pool       [][]uint8
}

func newManager(fs afero.Fs, path string) *checkpoint.Manager {
	m := checkpoint.NewManager(fs, path)
	m.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	m.Identity = checkpoint.Identity{
		Program:      "maxe",
		BuildVersion: "1.3",
		Mode:         "single",
		Workers:      1,
		RunID:        checkpoint.NewRunID(),
	}

	return m
}

var progress = checkpoint.Progress{Generation: 3, MaxGeneration: 60, PoolSize: 8, Units: 1}

func TestManager_SaveLoad(t *testing.T) {
	t.Parallel()

	for _, codec := range []string{"gob", "json", "gob+lz4", "json+lz4"} {
		t.Run(codec, func(t *testing.T) {
			t.Parallel()

			c, err := persist.CodecByName(codec)
			require.NoError(t, err)

			m := newManager(afero.NewMemMapFs(), "/ckpt/maxe.ckpt")
			m.Codec = c

			want := payload{Generation: 3, Pool: [][]uint8{{3, 2, 1, 0}}}

			saved, err := m.Save(context.Background(), 4, progress, want)
			require.NoError(t, err)
			assert.Equal(t, codec, saved.Codec)
			assert.Equal(t, uint64(4), saved.Sequence)

			var got payload

			meta, err := m.Load(&got)
			require.NoError(t, err)

			assert.Equal(t, want, got)
			assert.Equal(t, saved, meta)
			assert.Equal(t, progress, meta.Progress)

			created, err := meta.Created()
			require.NoError(t, err)
			assert.False(t, created.IsZero())
		})
	}
}

func TestManager_LoadUsesRecordedCodec(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()

	writer := newManager(fs, "/maxe.ckpt")
	writer.Codec = persist.NewJSONCodec()

	_, err := writer.Save(context.Background(), 1, progress, payload{Generation: 9})
	require.NoError(t, err)

	reader := newManager(fs, "/maxe.ckpt")

	var got payload

	_, err = reader.Load(&got)
	require.NoError(t, err)
	assert.Equal(t, 9, got.Generation)
}

func TestManager_ExistsAndClear(t *testing.T) {
	t.Parallel()

	m := newManager(afero.NewMemMapFs(), "/maxe.ckpt")

	ok, err := m.Exists()
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.LoadMetadata()
	require.ErrorIs(t, err, checkpoint.ErrNotFound)

	_, err = m.Save(context.Background(), 1, progress, payload{})
	require.NoError(t, err)

	ok, err = m.Exists()
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, m.Clear())
	require.NoError(t, m.Clear())

	ok, err = m.Exists()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_DetectsCorruption(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(data []byte) []byte
		want   error
	}{
		{"foreign file", func([]byte) []byte { return []byte("hello\n") }, checkpoint.ErrCorrupt},
		{"truncated payload", func(d []byte) []byte { return d[:len(d)-3] }, checkpoint.ErrCorrupt},
		{"trailing garbage", func(d []byte) []byte { return append(d, 'x') }, checkpoint.ErrCorrupt},
		{"flipped payload byte", func(d []byte) []byte {
			d[len(d)-1] ^= 0xff

			return d
		}, checkpoint.ErrCorrupt},
		{"schema violation", func(d []byte) []byte {
			return []byte(strings.Replace(string(d), `"mode":"single"`, `"mode":"parallel"`, 1))
		}, checkpoint.ErrCorrupt},
		{"future version", func(d []byte) []byte {
			return []byte(strings.Replace(string(d), `"version":1`, `"version":99`, 1))
		}, checkpoint.ErrVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fs := afero.NewMemMapFs()
			m := newManager(fs, "/maxe.ckpt")

			_, err := m.Save(context.Background(), 1, progress, payload{Generation: 1, Pool: [][]uint8{{1, 0}}})
			require.NoError(t, err)

			data, err := afero.ReadFile(fs, "/maxe.ckpt")
			require.NoError(t, err)
			require.NoError(t, afero.WriteFile(fs, "/maxe.ckpt", tt.mutate(data), 0o600))

			var got payload

			_, err = m.Load(&got)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

// TestManager_FaultKeepsPreviousArtifact injects a failure at every write
// boundary and checks the previous artifact is still fully loadable.
func TestManager_FaultKeepsPreviousArtifact(t *testing.T) {
	t.Parallel()

	for _, op := range persisttest.Ops {
		t.Run(string(op), func(t *testing.T) {
			t.Parallel()

			fs := persisttest.NewFaultFs(afero.NewMemMapFs())
			m := newManager(fs, "/data/maxe.ckpt")

			_, err := m.Save(context.Background(), 1, progress, payload{Generation: 1})
			require.NoError(t, err)

			fs.Arm(op)

			_, err = m.Save(context.Background(), 2, progress, payload{Generation: 2})
			require.ErrorIs(t, err, persisttest.ErrInjected)

			var got payload

			meta, err := m.Load(&got)
			require.NoError(t, err)
			assert.Equal(t, 1, got.Generation)
			assert.Equal(t, uint64(1), meta.Sequence)
		})
	}
}

func TestManager_RealFileSystem(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run", "maxe.ckpt")
	m := newManager(afero.NewOsFs(), path)
	m.Identity.ResumedFrom = checkpoint.NewRunID()

	_, err := m.Save(context.Background(), 1, progress, payload{Generation: 5})
	require.NoError(t, err)

	meta, err := m.Verify()
	require.NoError(t, err)
	assert.Equal(t, m.Identity.ResumedFrom, meta.ResumedFrom)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, meta.PayloadSize < info.Size(), true)
}
