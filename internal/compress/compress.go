// Package compress provides value compressors for adapters that store
// values as named blobs.
package compress

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compressor encodes and decodes stored values. Extension is appended to
// blob names so the compression used can be recognized on disk.
type Compressor interface {
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
	Extension() string
}

// None returns a pass-through Compressor.
func None() Compressor { return none{} }

type none struct{}

func (none) Encode(data []byte) ([]byte, error) { return data, nil }
func (none) Decode(data []byte) ([]byte, error) { return data, nil }
func (none) Extension() string                  { return "" }

// S2 returns a Compressor using klauspost S2 block encoding.
func S2() Compressor { return s2c{} }

type s2c struct{}

func (s2c) Encode(data []byte) ([]byte, error) { return s2.Encode(nil, data), nil }

func (s2c) Decode(data []byte) ([]byte, error) {
	out, err := s2.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("s2 decode: %w", err)
	}
	return out, nil
}

func (s2c) Extension() string { return ".s" }

// Zstd returns a Compressor using zstd at the given level (1-22).
func Zstd(level int) Compressor {
	return &zstdc{level: zstd.EncoderLevelFromZstd(level)}
}

type zstdc struct {
	level zstd.EncoderLevel
}

func (z *zstdc) Encode(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(z.level))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func (*zstdc) Decode(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

func (*zstdc) Extension() string { return ".z" }

// LZ4 returns a Compressor using the LZ4 frame format.
func LZ4() Compressor { return lz4c{} }

type lz4c struct{}

func (lz4c) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 encode: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (lz4c) Decode(data []byte) ([]byte, error) {
	out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("lz4 decode: %w", err)
	}
	return out, nil
}

func (lz4c) Extension() string { return ".lz4" }

// Parse returns the Compressor for a config name: "", "none", "s2",
// "zstd" or "lz4".
func Parse(name string) (Compressor, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return None(), nil
	case "s2":
		return S2(), nil
	case "zstd":
		return Zstd(3), nil
	case "lz4":
		return LZ4(), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", name)
	}
}
