package codec

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"github.com/remoteops/distant/core/errs"
	"github.com/remoteops/distant/core/frame"
)

// CompressionType identifies one of the three supported compression
// algorithms.
type CompressionType string

const (
	Deflate CompressionType = "deflate"
	Gzip    CompressionType = "gzip"
	Zlib    CompressionType = "zlib"
)

// Compression wraps a frame's payload with one of deflate/gzip/zlib at the
// given level (0..9).
type Compression struct {
	Type  CompressionType
	Level int
}

func NewCompression(t CompressionType, level int) Compression {
	return Compression{Type: t, Level: level}
}

func (c Compression) newWriter(buf *bytes.Buffer) (io.WriteCloser, error) {
	switch c.Type {
	case Deflate:
		return flate.NewWriter(buf, c.Level)
	case Gzip:
		return gzip.NewWriterLevel(buf, c.Level)
	case Zlib:
		return zlib.NewWriterLevel(buf, c.Level)
	default:
		return nil, errs.Newf(errs.InvalidInput, "unknown compression type %q", c.Type)
	}
}

func (c Compression) newReader(r io.Reader) (io.ReadCloser, error) {
	switch c.Type {
	case Deflate:
		return flate.NewReader(r), nil
	case Gzip:
		return gzip.NewReader(r)
	case Zlib:
		return zlib.NewReader(r)
	default:
		return nil, errs.Newf(errs.InvalidInput, "unknown compression type %q", c.Type)
	}
}

func (c Compression) Encode(f frame.Frame) (frame.Frame, error) {
	var buf bytes.Buffer
	w, err := c.newWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(f); err != nil {
		return nil, errs.Wrap(errs.Other, "compression write failed", err)
	}
	if err := w.Close(); err != nil {
		return nil, errs.Wrap(errs.Other, "compression close failed", err)
	}
	return frame.New(buf.Bytes()), nil
}

func (c Compression) Decode(f frame.Frame) (frame.Frame, error) {
	r, err := c.newReader(bytes.NewReader(f))
	if err != nil {
		return nil, errs.Wrap(errs.InvalidData, "compression reader init failed", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidData, "decompression failed", err)
	}
	_ = r.Close()
	return frame.New(out), nil
}
