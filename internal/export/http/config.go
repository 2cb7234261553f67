package http

import (
	"fmt"
	"net/url"
	"time"
)

// Config configures outcome streaming. Every relay outcome becomes one
// NDJSON line; lines are batched and POSTed to Address.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// Address is the collector URL, http or https.
	Address string `yaml:"address"`

	// Headers are sent with every batch, typically collector credentials.
	Headers map[string]string `yaml:"headers"`

	// Compression is one of none, gzip, zstd, zlib or snappy. Defaults to gzip.
	Compression string `yaml:"compression"`

	// Instance is stamped on every event to tell relay replicas apart.
	Instance string `yaml:"instance"`

	// BatchSize caps outcomes per request. Defaults to 100.
	BatchSize int `yaml:"batch_size"`

	// FlushInterval sends a partial batch after this long. Defaults to 2s.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// RequestTimeout bounds one POST to the collector. Defaults to 10s.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// QueueSize is how many outcomes may wait for export before new ones
	// are dropped. Defaults to 10000.
	QueueSize int `yaml:"queue_size"`
}

// DefaultConfig returns streaming disabled with relay-sized batching.
func DefaultConfig() Config {
	return Config{
		Compression:    CompressionGzip,
		BatchSize:      100,
		FlushInterval:  2 * time.Second,
		RequestTimeout: 10 * time.Second,
		QueueSize:      10000,
	}
}

// withDefaults fills unset fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()

	if c.Compression == "" {
		c.Compression = d.Compression
	}

	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}

	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}

	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}

	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}

	return c
}

// Validate checks an enabled configuration. Zero numeric fields are
// accepted and take their defaults.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Address == "" {
		return fmt.Errorf("address is required when enabled")
	}

	u, err := url.Parse(c.Address)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("address %q must be an http or https URL", c.Address)
	}

	if _, ok := contentEncodings[c.Compression]; c.Compression != "" && !ok {
		return fmt.Errorf("unsupported compression %q", c.Compression)
	}

	if c.BatchSize > 0 && c.QueueSize > 0 && c.BatchSize > c.QueueSize {
		return fmt.Errorf("batch_size %d exceeds queue_size %d", c.BatchSize, c.QueueSize)
	}

	return nil
}
