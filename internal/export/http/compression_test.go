package http

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decompressGzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}

func decompressZlib(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}

func decompressZstd(data []byte) ([]byte, error) {
	d, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	return d.DecodeAll(data, nil)
}

func decompressSnappy(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

func ndjsonBatch() []byte {
	line := `{"event":"relay_outcome","network":"polygon","applicationId":"space-race","success":true,"gasUsed":"21000","durationMs":1200}` + "\n"

	return []byte(strings.Repeat(line, 20))
}

func TestCompressor(t *testing.T) {
	tests := []struct {
		algorithm  string
		encoding   string
		decompress func([]byte) ([]byte, error)
	}{
		{algorithm: CompressionGzip, encoding: "gzip", decompress: decompressGzip},
		{algorithm: CompressionZlib, encoding: "deflate", decompress: decompressZlib},
		{algorithm: CompressionZstd, encoding: "zstd", decompress: decompressZstd},
		{algorithm: CompressionSnappy, encoding: "snappy", decompress: decompressSnappy},
	}

	for _, tt := range tests {
		t.Run(tt.algorithm, func(t *testing.T) {
			c, err := NewCompressor(tt.algorithm)
			require.NoError(t, err)
			defer c.Close()

			assert.Equal(t, tt.encoding, c.ContentEncoding())

			batch := ndjsonBatch()

			// Twice, so pooled writers are reused.
			for i := 0; i < 2; i++ {
				compressed, err := c.Compress(batch)
				require.NoError(t, err)
				assert.Less(t, len(compressed), len(batch))

				out, err := tt.decompress(compressed)
				require.NoError(t, err)
				assert.Equal(t, batch, out)
			}
		})
	}
}

func TestCompressor_None(t *testing.T) {
	for _, algorithm := range []string{"", CompressionNone} {
		c, err := NewCompressor(algorithm)
		require.NoError(t, err)

		batch := ndjsonBatch()
		out, err := c.Compress(batch)
		require.NoError(t, err)

		assert.Equal(t, batch, out)
		assert.Empty(t, c.ContentEncoding())
		assert.NoError(t, c.Close())
	}
}

func TestCompressor_Unsupported(t *testing.T) {
	_, err := NewCompressor("brotli")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported compression algorithm")
}

func TestCompressor_Concurrent(t *testing.T) {
	c, err := NewCompressor(CompressionGzip)
	require.NoError(t, err)

	batch := ndjsonBatch()

	var wg sync.WaitGroup

	errs := make(chan error, 16)

	for i := 0; i < 16; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			compressed, err := c.Compress(batch)
			if err != nil {
				errs <- err

				return
			}

			out, err := decompressGzip(compressed)
			if err == nil && !bytes.Equal(out, batch) {
				err = io.ErrUnexpectedEOF
			}

			if err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}
