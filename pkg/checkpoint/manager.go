package checkpoint

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/maxe/pkg/persist"
	"github.com/Sumatoshi-tech/maxe/pkg/safeconv"
)

// DefaultPath is the artifact location when none is configured.
const DefaultPath = "maxe.ckpt"

// maxHeader bounds the metadata line.
const maxHeader = 64 << 10

// Sentinel errors.
var (
	ErrNotFound = errors.New("checkpoint not found")
	ErrCorrupt  = errors.New("checkpoint corrupt")
	ErrVersion  = errors.New("checkpoint format version not supported")
)

// Manager writes and reads the artifact at Path.
type Manager struct {
	Path     string
	FS       afero.Fs
	Codec    persist.Codec
	Identity Identity
	Logger   *slog.Logger
	Tracer   trace.Tracer
}

// NewManager returns a manager for path on fs with the gob codec.
func NewManager(fs afero.Fs, path string) *Manager {
	return &Manager{
		Path:   path,
		FS:     fs,
		Codec:  persist.NewGobCodec(),
		Logger: slog.Default(),
		Tracer: tracenoop.NewTracerProvider().Tracer(""),
	}
}

// Exists reports whether an artifact is present.
func (m *Manager) Exists() (bool, error) {
	ok, err := afero.Exists(m.FS, m.Path)
	if err != nil {
		return false, fmt.Errorf("stat checkpoint: %w", err)
	}

	return ok, nil
}

// Clear removes the artifact. A missing artifact is not an error.
func (m *Manager) Clear() error {
	err := m.FS.Remove(m.Path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}

	return nil
}

// Save encodes payload and atomically replaces the artifact with it.
func (m *Manager) Save(ctx context.Context, seq uint64, progress Progress, payload any) (Metadata, error) {
	_, span := m.Tracer.Start(ctx, "maxe.checkpoint.save",
		trace.WithAttributes(
			attribute.String("checkpoint.path", m.Path),
			attribute.Int64("checkpoint.seq", safeconv.MustUint64ToInt64(seq)),
		))
	defer span.End()

	start := time.Now()

	var body bytes.Buffer

	err := m.Codec.Encode(&body, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")

		return Metadata{}, fmt.Errorf("encode payload: %w", err)
	}

	sum := sha256.Sum256(body.Bytes())

	meta := Metadata{
		Version:      MetadataVersion,
		Program:      m.Identity.Program,
		BuildVersion: m.Identity.BuildVersion,
		Mode:         m.Identity.Mode,
		Workers:      m.Identity.Workers,
		RunID:        m.Identity.RunID,
		ResumedFrom:  m.Identity.ResumedFrom,
		Sequence:     seq,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Codec:        m.Codec.Name(),
		PayloadSize:  int64(body.Len()),
		Checksum:     hex.EncodeToString(sum[:]),
		Progress:     progress,
	}

	header, err := json.Marshal(meta)
	if err != nil {
		return Metadata{}, fmt.Errorf("marshal metadata: %w", err)
	}

	size, err := persist.WriteAtomic(m.FS, m.Path, func(w io.Writer) error {
		bw := bufio.NewWriter(w)

		_, _ = bw.WriteString(magic + "\n")
		_, _ = bw.Write(header)
		_ = bw.WriteByte('\n')
		_, _ = bw.Write(body.Bytes())

		return bw.Flush()
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")

		return Metadata{}, fmt.Errorf("write checkpoint: %w", err)
	}

	span.SetAttributes(attribute.Int64("checkpoint.bytes", size))

	m.Logger.InfoContext(ctx, "artifact written",
		slog.String("path", m.Path),
		slog.Uint64("seq", seq),
		slog.String("size", humanize.IBytes(uint64(size))),
		slog.Int("generation", progress.Generation),
		slog.Int("completed_units", progress.CompletedUnits),
		slog.Duration("elapsed", time.Since(start)))

	return meta, nil
}

// LoadMetadata reads and validates the artifact header only.
func (m *Manager) LoadMetadata() (Metadata, error) {
	f, err := m.open()
	if err != nil {
		return Metadata{}, err
	}
	defer f.Close()

	meta, _, err := readHeader(bufio.NewReader(f))

	return meta, err
}

// Load reads the artifact, verifies the payload checksum and decodes it
// into payload, which must be a pointer. The codec recorded in the
// artifact is used regardless of the manager's own codec.
func (m *Manager) Load(payload any) (Metadata, error) {
	meta, body, err := m.readVerified()
	if err != nil {
		return meta, err
	}

	codec, err := persist.CodecByName(meta.Codec)
	if err != nil {
		return meta, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	err = codec.Decode(bytes.NewReader(body), payload)
	if err != nil {
		return meta, fmt.Errorf("%w: decode payload: %w", ErrCorrupt, err)
	}

	return meta, nil
}

// Verify reads the whole artifact and checks its integrity without
// decoding the payload.
func (m *Manager) Verify() (Metadata, error) {
	meta, _, err := m.readVerified()

	return meta, err
}

func (m *Manager) readVerified() (Metadata, []byte, error) {
	f, err := m.open()
	if err != nil {
		return Metadata{}, nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)

	meta, _, err := readHeader(br)
	if err != nil {
		return meta, nil, err
	}

	body, err := io.ReadAll(io.LimitReader(br, meta.PayloadSize+1))
	if err != nil {
		return meta, nil, fmt.Errorf("read payload: %w", err)
	}

	if int64(len(body)) != meta.PayloadSize {
		return meta, nil, fmt.Errorf("%w: payload has %d bytes, header says %d",
			ErrCorrupt, len(body), meta.PayloadSize)
	}

	sum := sha256.Sum256(body)
	if hex.EncodeToString(sum[:]) != meta.Checksum {
		return meta, nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	return meta, body, nil
}

func (m *Manager) open() (afero.File, error) {
	f, err := m.FS.Open(m.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, m.Path)
		}

		return nil, fmt.Errorf("open checkpoint: %w", err)
	}

	return f, nil
}

// readHeader consumes the magic and metadata lines.
func readHeader(br *bufio.Reader) (Metadata, []byte, error) {
	line, err := readLine(br)
	if err != nil || string(line) != magic {
		return Metadata{}, nil, fmt.Errorf("%w: not a maxe checkpoint", ErrCorrupt)
	}

	raw, err := readLine(br)
	if err != nil {
		return Metadata{}, nil, fmt.Errorf("%w: truncated header", ErrCorrupt)
	}

	var probe struct {
		Version int `json:"version"`
	}

	err = json.Unmarshal(raw, &probe)
	if err != nil {
		return Metadata{}, nil, fmt.Errorf("%w: metadata: %w", ErrCorrupt, err)
	}

	if probe.Version > MetadataVersion {
		return Metadata{}, nil, fmt.Errorf("%w: version %d, newest known %d",
			ErrVersion, probe.Version, MetadataVersion)
	}

	err = validateMetadata(raw)
	if err != nil {
		return Metadata{}, nil, err
	}

	var meta Metadata

	err = json.Unmarshal(raw, &meta)
	if err != nil {
		return Metadata{}, nil, fmt.Errorf("%w: metadata: %w", ErrCorrupt, err)
	}

	return meta, raw, nil
}

func readLine(br *bufio.Reader) ([]byte, error) {
	var line []byte

	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			return nil, err
		}

		line = append(line, chunk...)

		if len(line) > maxHeader {
			return nil, fmt.Errorf("%w: header line too long", ErrCorrupt)
		}

		if !isPrefix {
			return line, nil
		}
	}
}
