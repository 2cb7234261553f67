package export

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/sirupsen/logrus"
)

// ClickHouseConfig configures the ClickHouse writer.
type ClickHouseConfig struct {
	// Endpoint is the ClickHouse native protocol address.
	Endpoint string `yaml:"endpoint"`

	// Database is the target database name.
	Database string `yaml:"database"`

	// Table is the target table name.
	Table string `yaml:"table"`

	// BatchSize is the number of rows per batch insert.
	// Defaults to 1000.
	BatchSize int `yaml:"batch_size"`

	// FlushInterval is the maximum time between flushes.
	// Defaults to 1s.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// Username for ClickHouse authentication.
	Username string `yaml:"username"`

	// Password for ClickHouse authentication.
	Password string `yaml:"password"`
}

// DSN returns the golang-migrate connection string for this config.
func (c ClickHouseConfig) DSN() string {
	auth := ""
	if c.Username != "" {
		auth = url.UserPassword(c.Username, c.Password).String() + "@"
	}

	return fmt.Sprintf("clickhouse://%s%s/%s", auth, c.Endpoint, c.Database)
}

// Validate checks the connection settings.
func (c ClickHouseConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("clickhouse endpoint is required")
	}

	if c.Database == "" {
		return fmt.Errorf("clickhouse database is required")
	}

	if c.Table == "" {
		return fmt.Errorf("clickhouse table is required")
	}

	return nil
}

// ClickHouseWriter manages writes to ClickHouse.
type ClickHouseWriter struct {
	log  logrus.FieldLogger
	cfg  ClickHouseConfig
	conn clickhouse.Conn

	health *HealthMetrics
	name   string
}

// NewClickHouseWriter creates a new ClickHouse writer.
// The name labels the connection in metrics.
func NewClickHouseWriter(
	log logrus.FieldLogger,
	cfg ClickHouseConfig,
	health *HealthMetrics,
	name string,
) *ClickHouseWriter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}

	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}

	return &ClickHouseWriter{
		log:    log.WithFields(logrus.Fields{"component": "clickhouse", "writer": name}),
		cfg:    cfg,
		health: health,
		name:   name,
	}
}

// Start opens the ClickHouse connection.
func (w *ClickHouseWriter) Start(ctx context.Context) error {
	opts := &clickhouse.Options{
		Addr: []string{w.cfg.Endpoint},
		Auth: clickhouse.Auth{
			Database: w.cfg.Database,
			Username: w.cfg.Username,
			Password: w.cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return fmt.Errorf("opening ClickHouse connection: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("pinging ClickHouse: %w", err)
	}

	w.conn = conn
	w.health.ClickHouseConnected.WithLabelValues(w.name).Set(1)

	w.log.WithField("endpoint", w.cfg.Endpoint).
		Info("ClickHouse writer connected")

	return nil
}

// Conn returns the underlying ClickHouse connection.
func (w *ClickHouseWriter) Conn() clickhouse.Conn {
	return w.conn
}

// Config returns the writer configuration.
func (w *ClickHouseWriter) Config() ClickHouseConfig {
	return w.cfg
}

// Stop closes the ClickHouse connection.
func (w *ClickHouseWriter) Stop() error {
	if w.conn == nil {
		return nil
	}

	w.health.ClickHouseConnected.WithLabelValues(w.name).Set(0)

	return w.conn.Close()
}
