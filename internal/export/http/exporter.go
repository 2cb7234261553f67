// Package http streams relay outcomes to an HTTP collector as NDJSON.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"

	"github.com/gaslessgamefi/relay/internal/analytics"
	"github.com/gaslessgamefi/relay/internal/export"
	"github.com/gaslessgamefi/relay/internal/version"
)

// EventRelayOutcome is the event name of exported outcomes.
const EventRelayOutcome = "relay_outcome"

const exporterName = "http"

// streamWorkers is one: outcomes arrive at relay rate, far below what a
// single collector connection sustains.
const streamWorkers = 1

// Event is one NDJSON line: the outcome plus deployment metadata.
type Event struct {
	Event    string `json:"event"`
	Instance string `json:"instance,omitempty"`
	analytics.Outcome
}

// Exporter implements processor.ItemExporter for NDJSON batches.
type Exporter struct {
	cfg        Config
	client     *http.Client
	compressor *Compressor
	health     *export.HealthMetrics
	log        logrus.FieldLogger
}

var _ processor.ItemExporter[Event] = (*Exporter)(nil)

// NewExporter creates an exporter posting to cfg.Address.
func NewExporter(
	log logrus.FieldLogger,
	cfg Config,
	health *export.HealthMetrics,
) (*Exporter, error) {
	cfg = cfg.withDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	compressor, err := NewCompressor(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}

	transport := &http.Transport{
		MaxIdleConns:        streamWorkers * 2,
		MaxIdleConnsPerHost: streamWorkers * 2,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Exporter{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		compressor: compressor,
		health:     health,
		log:        log.WithField("component", "outcome_stream"),
	}, nil
}

// ExportItems posts one batch. Non-2xx responses are errors.
func (e *Exporter) ExportItems(ctx context.Context, items []*Event) error {
	if len(items) == 0 {
		return nil
	}

	var buf bytes.Buffer
	buf.Grow(len(items) * 320)

	encoder := json.NewEncoder(&buf)

	for _, item := range items {
		if item == nil {
			continue
		}

		if err := encoder.Encode(item); err != nil {
			e.batchError("encode")

			return fmt.Errorf("encoding outcome: %w", err)
		}
	}

	data := buf.Bytes()

	compressed, err := e.compressor.Compress(data)
	if err != nil {
		e.batchError("compress")

		return fmt.Errorf("compressing batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Address, bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("User-Agent", version.UserAgent())

	if encoding := e.compressor.ContentEncoding(); encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	for k, v := range e.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		e.batchError("send")

		return fmt.Errorf("sending batch: %w", err)
	}

	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e.batchError("status")

		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	e.log.WithFields(logrus.Fields{
		"items":      len(items),
		"bytes":      len(data),
		"compressed": len(compressed),
	}).Debug("Exported outcome batch")

	return nil
}

// Shutdown releases the compressor.
func (e *Exporter) Shutdown(_ context.Context) error {
	if e.compressor != nil {
		return e.compressor.Close()
	}

	return nil
}

func (e *Exporter) batchError(kind string) {
	if e.health != nil {
		e.health.ExportBatchErrors.WithLabelValues(exporterName, kind).Inc()
	}
}

// Streamer queues outcomes and exports them in batches. It never blocks
// the caller; outcomes that do not fit the queue are dropped and counted.
type Streamer struct {
	log    logrus.FieldLogger
	cfg    Config
	proc   *processor.BatchItemProcessor[Event]
	health *export.HealthMetrics
}

var _ analytics.Recorder = (*Streamer)(nil)

// NewStreamer creates a streamer and its batch processor.
func NewStreamer(
	log logrus.FieldLogger,
	cfg Config,
	health *export.HealthMetrics,
) (*Streamer, error) {
	exporter, err := NewExporter(log, cfg, health)
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}

	cfg = exporter.cfg

	proc, err := processor.NewBatchItemProcessor[Event](
		exporter,
		"outcome_http",
		log,
		processor.WithMaxQueueSize(cfg.QueueSize),
		processor.WithBatchTimeout(cfg.FlushInterval),
		processor.WithExportTimeout(cfg.RequestTimeout),
		processor.WithMaxExportBatchSize(cfg.BatchSize),
		processor.WithWorkers(streamWorkers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processor: %w", err)
	}

	return &Streamer{
		log:    log.WithField("component", "outcome_stream"),
		cfg:    cfg,
		proc:   proc,
		health: health,
	}, nil
}

// Name identifies the streamer in logs and metrics.
func (s *Streamer) Name() string {
	return exporterName
}

// Start launches the batch workers.
func (s *Streamer) Start(ctx context.Context) error {
	s.proc.Start(ctx)

	s.log.WithField("address", s.cfg.Address).Info("Outcome streaming started")

	return nil
}

// Record enqueues one outcome.
func (s *Streamer) Record(o analytics.Outcome) {
	ev := &Event{
		Event:    EventRelayOutcome,
		Instance: s.cfg.Instance,
		Outcome:  o,
	}

	if err := s.proc.Write(context.Background(), []*Event{ev}); err != nil {
		s.health.ExportDropped.WithLabelValues(exporterName).Inc()
		s.log.WithError(err).Debug("Outcome not queued (queue may be full)")

		return
	}

	s.health.OutcomesExported.WithLabelValues(exporterName).Inc()
}

// Stop flushes queued outcomes and stops the workers.
func (s *Streamer) Stop() error {
	return s.proc.Shutdown(context.Background())
}
