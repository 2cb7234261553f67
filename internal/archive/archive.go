// Package archive writes relay outcomes to ClickHouse for offline analysis.
// The archive is write-only; the live analytics never read from it.
package archive

import (
	"context"
	"fmt"
	"strconv"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"

	"github.com/gaslessgamefi/relay/internal/analytics"
	"github.com/gaslessgamefi/relay/internal/export"
)

const exporterName = "clickhouse"

// Config configures the outcome archive.
type Config struct {
	// Enabled turns on the archive.
	Enabled bool `yaml:"enabled"`

	// ClickHouse is the target connection and table.
	ClickHouse export.ClickHouseConfig `yaml:"clickhouse"`

	// Instance is written to every row to tell deployments apart.
	Instance string `yaml:"instance"`

	// MaxQueueSize bounds queued outcomes. Defaults to 10000.
	MaxQueueSize int `yaml:"max_queue_size"`

	// Migrate applies schema migrations on start. Defaults to false.
	Migrate bool `yaml:"migrate"`
}

// Validate checks the archive configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if err := c.ClickHouse.Validate(); err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	if c.MaxQueueSize < 0 {
		return fmt.Errorf("archive: max_queue_size cannot be negative")
	}

	return nil
}

// Row is one archived outcome.
type Row struct {
	EventTime       time.Time
	Instance        string
	Network         string
	ApplicationID   string
	CallerID        string
	Success         bool
	TransactionHash string
	BlockNumber     uint64
	GasUsed         uint64
	Error           string
	DurationMs      int64
}

func toRow(o analytics.Outcome, instance string) Row {
	ts := o.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	// Malformed gas is archived as zero, matching the aggregator.
	gas, _ := strconv.ParseUint(o.GasUsed, 10, 64)

	return Row{
		EventTime:       ts.UTC(),
		Instance:        instance,
		Network:         o.Network,
		ApplicationID:   o.ApplicationID,
		CallerID:        o.CallerID,
		Success:         o.Success,
		TransactionHash: o.TransactionHash,
		BlockNumber:     o.BlockNumber,
		GasUsed:         gas,
		Error:           o.ErrorMessage,
		DurationMs:      o.DurationMs,
	}
}

// rowWriter inserts a batch of rows into a table.
type rowWriter interface {
	WriteRows(ctx context.Context, rows []*Row) error
}

// clickhouseRows inserts rows with a prepared batch.
type clickhouseRows struct {
	writer *export.ClickHouseWriter
}

func (c *clickhouseRows) WriteRows(ctx context.Context, rows []*Row) error {
	cfg := c.writer.Config()
	table := fmt.Sprintf("%s.%s", cfg.Database, cfg.Table)

	batch, err := c.writer.Conn().PrepareBatch(ctx, fmt.Sprintf(`INSERT INTO %s (
		event_time, instance, network, application_id, caller_id,
		success, transaction_hash, block_number, gas_used, error, duration_ms
	)`, table))
	if err != nil {
		return fmt.Errorf("preparing outcome batch: %w", err)
	}

	for _, r := range rows {
		if err := batch.Append(
			r.EventTime, r.Instance, r.Network, r.ApplicationID, r.CallerID,
			r.Success, r.TransactionHash, r.BlockNumber, r.GasUsed, r.Error, r.DurationMs,
		); err != nil {
			return fmt.Errorf("appending outcome row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("sending outcome batch: %w", err)
	}

	return nil
}

// exporter adapts a rowWriter to the batch processor.
type exporter struct {
	log    logrus.FieldLogger
	rows   rowWriter
	health *export.HealthMetrics
}

var _ processor.ItemExporter[Row] = (*exporter)(nil)

func (e *exporter) ExportItems(ctx context.Context, items []*Row) error {
	if len(items) == 0 {
		return nil
	}

	start := time.Now()

	if err := e.rows.WriteRows(ctx, items); err != nil {
		e.health.ExportBatchErrors.WithLabelValues(exporterName, "send").Inc()

		return err
	}

	e.health.ClickHouseBatchDuration.WithLabelValues("send").Observe(time.Since(start).Seconds())

	e.log.WithField("rows", len(items)).Debug("Archived outcomes")

	return nil
}

func (e *exporter) Shutdown(_ context.Context) error {
	return nil
}

// Archive queues outcomes and inserts them in batches.
type Archive struct {
	log    logrus.FieldLogger
	cfg    Config
	writer *export.ClickHouseWriter
	proc   *processor.BatchItemProcessor[Row]
	health *export.HealthMetrics
}

var _ analytics.Recorder = (*Archive)(nil)

// New creates an archive. Nothing connects until Start.
func New(log logrus.FieldLogger, cfg Config, health *export.HealthMetrics) (*Archive, error) {
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 10000
	}

	writer := export.NewClickHouseWriter(log, cfg.ClickHouse, health, "archive")

	return newArchive(log, cfg, writer, &clickhouseRows{writer: writer}, health)
}

func newArchive(
	log logrus.FieldLogger,
	cfg Config,
	writer *export.ClickHouseWriter,
	rows rowWriter,
	health *export.HealthMetrics,
) (*Archive, error) {
	chCfg := writer.Config()

	batchSize := chCfg.BatchSize
	if batchSize > cfg.MaxQueueSize {
		batchSize = cfg.MaxQueueSize
	}

	proc, err := processor.NewBatchItemProcessor[Row](
		&exporter{
			log:    log.WithField("component", "archive"),
			rows:   rows,
			health: health,
		},
		"outcome_archive",
		log,
		processor.WithMaxQueueSize(cfg.MaxQueueSize),
		processor.WithBatchTimeout(chCfg.FlushInterval),
		processor.WithMaxExportBatchSize(batchSize),
		processor.WithWorkers(1),
	)
	if err != nil {
		return nil, fmt.Errorf("creating archive processor: %w", err)
	}

	return &Archive{
		log:    log.WithField("component", "archive"),
		cfg:    cfg,
		writer: writer,
		proc:   proc,
		health: health,
	}, nil
}

// Name identifies the archive in logs and metrics.
func (a *Archive) Name() string {
	return exporterName
}

// Start connects to ClickHouse and starts the batch worker.
func (a *Archive) Start(ctx context.Context) error {
	if err := a.writer.Start(ctx); err != nil {
		return fmt.Errorf("starting archive writer: %w", err)
	}

	a.proc.Start(ctx)

	a.log.WithField("table", a.cfg.ClickHouse.Table).Info("Outcome archive started")

	return nil
}

// Record enqueues one outcome without blocking.
func (a *Archive) Record(o analytics.Outcome) {
	row := toRow(o, a.cfg.Instance)

	if err := a.proc.Write(context.Background(), []*Row{&row}); err != nil {
		a.health.ExportDropped.WithLabelValues(exporterName).Inc()
		a.log.WithError(err).Debug("Outcome not archived (queue may be full)")

		return
	}

	a.health.OutcomesExported.WithLabelValues(exporterName).Inc()
}

// Stop flushes the queue and closes the connection.
func (a *Archive) Stop() error {
	if err := a.proc.Shutdown(context.Background()); err != nil {
		a.log.WithError(err).Error("Archive processor shutdown failed")
	}

	return a.writer.Stop()
}
