package search_test

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/maxe/pkg/search"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// runAll drives the kernel sequentially, one unit at a time.
func runAll(t *testing.T, k *search.Kernel) {
	t.Helper()

	for !k.Done() {
		results := make([]search.ChunkResult, k.Units())
		for u := range results {
			results[u] = k.Execute(u)
		}

		require.NoError(t, k.Advance(results))
	}
}

func TestKernel_EarlyGenerationSizes(t *testing.T) {
	t.Parallel()

	k := search.NewKernel(search.Config{MaxGeneration: 4, ChunkSize: 3, Logger: quietLogger()})
	runAll(t, k)

	stats := k.Stats()
	require.Len(t, stats, 4)

	for i, want := range []int{1, 2, 4, 8} {
		assert.Equal(t, i, stats[i].Generation)
		assert.Equal(t, want, stats[i].Size, "generation %d", i)
	}

	assert.LessOrEqual(t, len(k.State().Pool), 16)
	assert.GreaterOrEqual(t, len(k.State().Pool), 8, "lifts always survive")
}

func TestKernel_EveryStaircaseClassified(t *testing.T) {
	t.Parallel()

	k := search.NewKernel(search.Config{MaxGeneration: 12, Logger: quietLogger()})
	runAll(t, k)

	for _, s := range k.Stats() {
		assert.Equal(t, s.Size, s.Plus+s.Minus, "generation %d", s.Generation)
	}
}

func TestKernel_OutputLines(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	k := search.NewKernel(search.Config{MaxGeneration: 10, Output: &out, Logger: quietLogger()})
	runAll(t, k)

	plus := 0
	for _, s := range k.Stats() {
		plus += s.Plus
	}

	assert.Equal(t, int64(out.Len()), k.State().Written)

	scanner := bufio.NewScanner(bytes.NewReader(out.Bytes()))
	lines := 0

	for scanner.Scan() {
		line := scanner.Text()
		require.True(t, strings.HasSuffix(line, "+"), line)
		require.Empty(t, strings.Trim(strings.TrimSuffix(line, "+"), "01"), line)

		lines++
	}

	assert.Equal(t, plus, lines)
}

// TestKernel_MatchesReferenceOutput pins the first twelve generations to a
// recorded run: statistics per generation and every extremal line in order.
func TestKernel_MatchesReferenceOutput(t *testing.T) {
	t.Parallel()

	want, err := os.ReadFile(filepath.Join("testdata", "extremal_12.golden"))
	require.NoError(t, err)

	var out bytes.Buffer

	k := search.NewKernel(search.Config{MaxGeneration: 12, ChunkSize: 7, Output: &out, Logger: quietLogger()})
	runAll(t, k)

	assert.Equal(t, string(want), out.String())

	expected := []search.GenerationStats{
		{Generation: 0, Size: 1, Plus: 1},
		{Generation: 1, Size: 2, Plus: 2},
		{Generation: 2, Size: 4, Plus: 4},
		{Generation: 3, Size: 8, Plus: 7, Minus: 1},
		{Generation: 4, Size: 15, Plus: 12, Minus: 3},
		{Generation: 5, Size: 27, Plus: 18, Minus: 9},
		{Generation: 6, Size: 45, Plus: 27, Minus: 18},
		{Generation: 7, Size: 72, Plus: 38, Minus: 34},
		{Generation: 8, Size: 110, Plus: 52, Minus: 58},
		{Generation: 9, Size: 162, Plus: 68, Minus: 94},
		{Generation: 10, Size: 230, Plus: 89, Minus: 141},
		{Generation: 11, Size: 319, Plus: 112, Minus: 207},
	}
	assert.Equal(t, expected, k.Stats())
}

// TestKernel_ChunkSizeDoesNotChangeResult guarantees the pool order is
// independent of how a generation is split into units.
func TestKernel_ChunkSizeDoesNotChangeResult(t *testing.T) {
	t.Parallel()

	var outputs []string

	var pools [][]search.Staircase

	for _, chunk := range []int{1, 5, 64, 1000} {
		var out bytes.Buffer

		k := search.NewKernel(search.Config{MaxGeneration: 14, ChunkSize: chunk, Output: &out, Logger: quietLogger()})
		runAll(t, k)

		outputs = append(outputs, out.String())
		pools = append(pools, k.State().Pool)
	}

	for i := 1; i < len(outputs); i++ {
		assert.Equal(t, outputs[0], outputs[i])
		assert.Equal(t, pools[0], pools[i])
	}
}

func TestKernel_RestoreValidates(t *testing.T) {
	t.Parallel()

	k := search.NewKernel(search.Config{MaxGeneration: 6, Logger: quietLogger()})
	runAll(t, k)

	good := k.State()

	fresh := search.NewKernel(search.Config{Logger: quietLogger()})
	require.NoError(t, fresh.Restore(good))
	assert.True(t, fresh.Done())

	fresh.ExtendTo(8)
	assert.False(t, fresh.Done())

	bad := []search.State{
		{ChunkSize: 0, MaxGeneration: 6, Pool: good.Pool},
		{ChunkSize: 4, MaxGeneration: 300, Pool: good.Pool},
		{ChunkSize: 4, MaxGeneration: 6, Generation: 6, Pool: good.Pool},
		{ChunkSize: 4, MaxGeneration: 6, Generation: 0},
		{ChunkSize: 4, MaxGeneration: 6, Generation: 0, Pool: good.Pool},
	}

	for i, s := range bad {
		err := fresh.Restore(s)
		require.ErrorIs(t, err, search.ErrBadState, "case %d", i)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestKernel_AdvanceReportsWriteError(t *testing.T) {
	t.Parallel()

	k := search.NewKernel(search.Config{MaxGeneration: 3, Output: failingWriter{}, Logger: quietLogger()})

	err := k.Advance([]search.ChunkResult{k.Execute(0)})
	require.Error(t, err)
}

func TestKernel_AdvanceRejectsMissingChunks(t *testing.T) {
	t.Parallel()

	k := search.NewKernel(search.Config{MaxGeneration: 3, Logger: quietLogger()})

	err := k.Advance(nil)
	require.ErrorIs(t, err, search.ErrBadState)
}

func TestOpenOutput_TruncatesToCheckpoint(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()

	f, err := search.OpenOutput(fs, "out.txt", 0)
	require.NoError(t, err)

	_, err = io.WriteString(f, "01+\n011+\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = search.OpenOutput(fs, "out.txt", 4)
	require.NoError(t, err)

	_, err = io.WriteString(f, "001+\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := afero.ReadFile(fs, "out.txt")
	require.NoError(t, err)
	assert.Equal(t, "01+\n001+\n", string(data))

	_, err = search.OpenOutput(fs, "out.txt", 100)
	require.ErrorIs(t, err, search.ErrBadState)
}
