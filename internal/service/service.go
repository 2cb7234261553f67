// Package service wires the relay, its analytics and its surfaces into one
// process.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/gaslessgamefi/relay/internal/analytics"
	"github.com/gaslessgamefi/relay/internal/archive"
	"github.com/gaslessgamefi/relay/internal/export"
	exporthttp "github.com/gaslessgamefi/relay/internal/export/http"
	"github.com/gaslessgamefi/relay/internal/migrate"
	"github.com/gaslessgamefi/relay/internal/network"
	"github.com/gaslessgamefi/relay/internal/relay"
	"github.com/gaslessgamefi/relay/internal/server"
)

// Service is the top-level orchestrator of the relay.
type Service interface {
	// Start connects the networks and begins serving.
	Start(ctx context.Context) error
	// Stop drains in-flight relays and shuts every component down.
	Stop() error
}

// exporter is an optional outcome consumer with a lifecycle.
type exporter interface {
	analytics.Recorder
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

// dialFunc connects one network. Replaced in tests.
type dialFunc func(ctx context.Context, log logrus.FieldLogger, cfg network.Config) (*network.Entry, error)

type service struct {
	log    logrus.FieldLogger
	cfg    *Config
	health *export.HealthMetrics
	dial   dialFunc

	aggregator *analytics.Aggregator
	registry   *network.Registry
	dispatcher *relay.Dispatcher
	exporters  []exporter
	api        *server.Server

	mu      sync.Mutex
	started []exporter
}

// New creates a Service. Nothing connects until Start.
func New(log logrus.FieldLogger, cfg *Config) (Service, error) {
	return newService(log, cfg, network.Dial)
}

func newService(log logrus.FieldLogger, cfg *Config, dial dialFunc) (*service, error) {
	s := &service{
		log:        log.WithField("component", "service"),
		cfg:        cfg,
		health:     export.NewHealthMetrics(log, cfg.Health),
		dial:       dial,
		aggregator: analytics.New(log),
		registry:   network.NewRegistry(),
	}

	if cfg.Exporters.HTTP.Enabled {
		streamer, err := exporthttp.NewStreamer(log, cfg.Exporters.HTTP, s.health)
		if err != nil {
			return nil, fmt.Errorf("creating outcome streamer: %w", err)
		}

		s.exporters = append(s.exporters, streamer)
	}

	if cfg.Exporters.Archive.Enabled {
		a, err := archive.New(log, cfg.Exporters.Archive, s.health)
		if err != nil {
			return nil, fmt.Errorf("creating outcome archive: %w", err)
		}

		s.exporters = append(s.exporters, a)
	}

	return s, nil
}

func (s *service) Start(ctx context.Context) error {
	// 1. Metrics server.
	if s.cfg.Health.Addr != "" {
		if err := s.health.Start(ctx); err != nil {
			return fmt.Errorf("starting health metrics: %w", err)
		}
	}

	// 2. Networks. A network that fails to connect is skipped.
	s.connectNetworks(ctx)

	if s.registry.Len() == 0 {
		s.log.Warn("No networks registered; every relay will be rejected")
	}

	// 3. Outcome exporters. A failing exporter is skipped.
	s.startExporters(ctx)

	// 4. Dispatcher.
	s.dispatcher = relay.NewDispatcher(
		s.log, s.cfg.Relay, s.registry, s.recorder(), s.health,
	)

	// 5. API.
	s.api = server.New(s.log, s.cfg.Server, s.dispatcher, s.aggregator, s.health)

	if err := s.api.Start(ctx); err != nil {
		return fmt.Errorf("starting api: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"networks":  s.registry.Supported(),
		"exporters": len(s.started),
	}).Info("Relay service started")

	return nil
}

func (s *service) connectNetworks(ctx context.Context) {
	for _, nc := range s.cfg.Networks {
		dctx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
		entry, err := s.dial(dctx, s.log, nc)
		cancel()

		if err != nil {
			s.log.WithError(err).WithField("network", nc.ID).Warn("Network not registered")

			continue
		}

		if err := s.registry.Register(entry); err != nil {
			entry.Chain.Close()
			s.log.WithError(err).WithField("network", nc.ID).Warn("Network not registered")
		}
	}
}

func (s *service) startExporters(ctx context.Context) {
	if s.cfg.Exporters.Archive.Enabled && s.cfg.Exporters.Archive.Migrate {
		m := migrate.New(s.log, s.cfg.Exporters.Archive.ClickHouse.DSN())
		if err := m.Up(ctx); err != nil {
			s.log.WithError(err).Warn("Archive migrations failed")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.exporters {
		if err := e.Start(ctx); err != nil {
			s.log.WithError(err).WithField("exporter", e.Name()).Warn("Outcome exporter disabled")

			continue
		}

		s.started = append(s.started, e)
	}
}

// recorder fans outcomes out to the aggregator and every started exporter.
func (s *service) recorder() analytics.Recorder {
	recorders := make(fanout, 0, len(s.started)+1)
	recorders = append(recorders, s.aggregator)

	for _, e := range s.started {
		recorders = append(recorders, e)
	}

	return recorders
}

func (s *service) Stop() error {
	var errs []error

	if s.api != nil {
		if err := s.api.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	if s.dispatcher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Relay.ConfirmationTimeout+s.cfg.Relay.SubmitTimeout)
		if err := s.dispatcher.Wait(ctx); err != nil {
			s.log.WithError(err).Warn("Relays still in flight at shutdown")
		}
		cancel()
	}

	s.mu.Lock()
	for i := len(s.started) - 1; i >= 0; i-- {
		if err := s.started[i].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping %s exporter: %w", s.started[i].Name(), err))
		}
	}
	s.started = nil
	s.mu.Unlock()

	s.registry.Close()

	if err := s.health.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping health metrics: %w", err))
	}

	return errors.Join(errs...)
}

// fanout delivers every outcome to each recorder in order.
type fanout []analytics.Recorder

func (f fanout) Record(o analytics.Outcome) {
	for _, r := range f {
		r.Record(o)
	}
}
