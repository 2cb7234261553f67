package http

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Compression algorithms accepted in Config.Compression.
const (
	CompressionNone   = "none"
	CompressionGzip   = "gzip"
	CompressionZstd   = "zstd"
	CompressionZlib   = "zlib"
	CompressionSnappy = "snappy"
)

// contentEncodings maps an algorithm to its Content-Encoding header.
var contentEncodings = map[string]string{
	CompressionNone:   "",
	CompressionGzip:   "gzip",
	CompressionZstd:   "zstd",
	CompressionZlib:   "deflate",
	CompressionSnappy: "snappy",
}

// streamWriter is implemented by the stdlib gzip and zlib writers.
type streamWriter interface {
	io.WriteCloser
	Reset(w io.Writer)
}

// Compressor compresses NDJSON batches. It is safe for concurrent use by
// the exporter's workers.
type Compressor struct {
	algorithm string
	zstd      *zstd.Encoder
	writers   sync.Pool
}

// NewCompressor creates a Compressor for algorithm. An empty algorithm
// means no compression.
func NewCompressor(algorithm string) (*Compressor, error) {
	if algorithm == "" {
		algorithm = CompressionNone
	}

	if _, ok := contentEncodings[algorithm]; !ok {
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}

	c := &Compressor{algorithm: algorithm}

	switch algorithm {
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}

		c.zstd = enc
	case CompressionGzip:
		c.writers.New = func() any { return gzip.NewWriter(io.Discard) }
	case CompressionZlib:
		c.writers.New = func() any { return zlib.NewWriter(io.Discard) }
	}

	return c, nil
}

// Compress returns data encoded with the configured algorithm.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	switch c.algorithm {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		return c.zstd.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	case CompressionSnappy:
		return snappy.Encode(nil, data), nil
	default:
		return c.compressStream(data)
	}
}

func (c *Compressor) compressStream(data []byte) ([]byte, error) {
	w, _ := c.writers.Get().(streamWriter)
	defer c.writers.Put(w)

	var buf bytes.Buffer

	w.Reset(&buf)

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("%s write: %w", c.algorithm, err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%s close: %w", c.algorithm, err)
	}

	return buf.Bytes(), nil
}

// ContentEncoding is the Content-Encoding header for compressed bodies,
// empty when uncompressed.
func (c *Compressor) ContentEncoding() string {
	return contentEncodings[c.algorithm]
}

// Close releases the zstd encoder.
func (c *Compressor) Close() error {
	if c.zstd != nil {
		return c.zstd.Close()
	}

	return nil
}
