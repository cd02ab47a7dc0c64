// Package persist provides payload codecs and crash-safe file replacement.
package persist

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pierrec/lz4/v4"
)

// Codec names.
const (
	CodecJSON = "json"
	CodecGob  = "gob"

	lz4Suffix = "+lz4"
)

// ErrUnknownCodec is returned for an unrecognized codec name.
var ErrUnknownCodec = errors.New("unknown codec")

// Default indentation for pretty-printed JSON.
const defaultIndent = "  "

// Codec defines how a payload is serialized and deserialized.
type Codec interface {
	// Encode writes v to w.
	Encode(w io.Writer, v any) error
	// Decode reads into v, which must be a pointer.
	Decode(r io.Reader, v any) error
	// Name identifies the codec in artifact metadata.
	Name() string
}

// JSONCodec implements Codec using JSON with optional indentation.
type JSONCodec struct {
	// Indent is the indentation string. Empty means compact JSON.
	Indent string
}

// NewJSONCodec creates a JSON codec with 2-space indentation.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{Indent: defaultIndent}
}

// Encode implements Codec.
func (c *JSONCodec) Encode(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	if c.Indent != "" {
		encoder.SetIndent("", c.Indent)
	}

	err := encoder.Encode(v)
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}

	return nil
}

// Decode implements Codec.
func (c *JSONCodec) Decode(r io.Reader, v any) error {
	err := json.NewDecoder(r).Decode(v)
	if err != nil {
		return fmt.Errorf("json decode: %w", err)
	}

	return nil
}

// Name implements Codec.
func (c *JSONCodec) Name() string { return CodecJSON }

// GobCodec implements Codec using gob.
type GobCodec struct{}

// NewGobCodec creates a gob codec.
func NewGobCodec() *GobCodec {
	return &GobCodec{}
}

// Encode implements Codec.
func (c *GobCodec) Encode(w io.Writer, v any) error {
	err := gob.NewEncoder(w).Encode(v)
	if err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}

	return nil
}

// Decode implements Codec.
func (c *GobCodec) Decode(r io.Reader, v any) error {
	err := gob.NewDecoder(r).Decode(v)
	if err != nil {
		return fmt.Errorf("gob decode: %w", err)
	}

	return nil
}

// Name implements Codec.
func (c *GobCodec) Name() string { return CodecGob }

// LZ4Codec compresses the output of another codec with an LZ4 frame.
type LZ4Codec struct {
	Inner Codec
}

// NewLZ4Codec wraps inner.
func NewLZ4Codec(inner Codec) *LZ4Codec {
	return &LZ4Codec{Inner: inner}
}

// Encode implements Codec.
func (c *LZ4Codec) Encode(w io.Writer, v any) error {
	zw := lz4.NewWriter(w)

	err := c.Inner.Encode(zw, v)
	if err != nil {
		return err
	}

	err = zw.Close()
	if err != nil {
		return fmt.Errorf("lz4 close: %w", err)
	}

	return nil
}

// Decode implements Codec.
func (c *LZ4Codec) Decode(r io.Reader, v any) error {
	return c.Inner.Decode(lz4.NewReader(r), v)
}

// Name implements Codec.
func (c *LZ4Codec) Name() string { return c.Inner.Name() + lz4Suffix }

// CodecByName returns the codec for a name such as "gob" or "json+lz4".
func CodecByName(name string) (Codec, error) {
	base, compressed := strings.CutSuffix(strings.ToLower(strings.TrimSpace(name)), lz4Suffix)

	var c Codec

	switch base {
	case CodecJSON:
		c = NewJSONCodec()
	case CodecGob:
		c = NewGobCodec()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}

	if compressed {
		c = NewLZ4Codec(c)
	}

	return c, nil
}

// Compressed reports whether the codec name carries LZ4 compression.
func Compressed(name string) bool {
	return strings.HasSuffix(name, lz4Suffix)
}
