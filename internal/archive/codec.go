package archive

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec is the compression applied to a unit archive.
type Codec string

const (
	// CodecZstd favours ratio. The default.
	CodecZstd Codec = "zstd"
	// CodecLZ4 favours decode speed.
	CodecLZ4 Codec = "lz4"
)

// DefaultCodec is used when none is named.
const DefaultCodec = CodecZstd

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// ParseCodec parses a codec name. The empty name is DefaultCodec.
func ParseCodec(name string) (Codec, error) {
	switch Codec(name) {
	case "":
		return DefaultCodec, nil
	case CodecZstd, CodecLZ4:
		return Codec(name), nil
	default:
		return "", fmt.Errorf("unknown archive codec %q: must be zstd or lz4", name)
	}
}

// Extension is appended to the unit name to form the archive file name.
func (c Codec) Extension() string {
	if c == CodecLZ4 {
		return ".tar.lz4"
	}
	return ".tar.zst"
}

// FileName returns the archive file name of unit.
func (c Codec) FileName(unit string) string {
	return unit + c.Extension()
}

func (c Codec) newWriter(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CodecZstd:
		zw, err := zstd.NewWriter(w,
			zstd.WithEncoderLevel(zstd.SpeedDefault),
			zstd.WithEncoderConcurrency(1),
		)
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		return zw, nil
	case CodecLZ4:
		lw := lz4.NewWriter(w)
		if err := lw.Apply(lz4.CompressionLevelOption(lz4.Fast), lz4.ConcurrencyOption(1)); err != nil {
			return nil, fmt.Errorf("lz4 encoder: %w", err)
		}
		return lw, nil
	default:
		return nil, fmt.Errorf("unknown archive codec %q", c)
	}
}

// newReader detects the codec from the stream's magic number.
func newReader(r io.Reader) (io.ReadCloser, Codec, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, "", fmt.Errorf("read archive header: %w", err)
	}

	switch {
	case bytes.Equal(magic, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, "", fmt.Errorf("zstd decoder: %w", err)
		}
		return zr.IOReadCloser(), CodecZstd, nil
	case bytes.Equal(magic, lz4Magic):
		return io.NopCloser(lz4.NewReader(br)), CodecLZ4, nil
	default:
		return nil, "", fmt.Errorf("unrecognized archive compression (magic % x)", magic)
	}
}
