package export

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "gasless_relay"

// HealthConfig configures the operational metrics server.
type HealthConfig struct {
	// Addr is the listen address for the metrics server.
	// Defaults to ":9090".
	Addr string `yaml:"addr"`
}

// HealthMetrics exposes Prometheus metrics for the relay.
type HealthMetrics struct {
	log      logrus.FieldLogger
	addr     string
	server   *http.Server
	listener net.Listener
	registry *prometheus.Registry

	// Relay path
	RelaysTotal    *prometheus.CounterVec   // network, outcome
	RelayDuration  *prometheus.HistogramVec // network
	RelaysInFlight prometheus.Gauge

	// Networks
	NetworksRegistered prometheus.Gauge
	NetworkUp          *prometheus.GaugeVec // network
	RelayerBalance     *prometheus.GaugeVec // network

	// API
	HTTPRequestsTotal   *prometheus.CounterVec   // route, method, status
	HTTPRequestDuration *prometheus.HistogramVec // route
	RateLimited         prometheus.Counter

	// Outcome exporters
	OutcomesExported        *prometheus.CounterVec   // exporter
	ExportDropped           *prometheus.CounterVec   // exporter
	ExportBatchErrors       *prometheus.CounterVec   // exporter, error_type
	ClickHouseConnected     *prometheus.GaugeVec     // exporter
	ClickHouseBatchDuration *prometheus.HistogramVec // operation

	AnalyticsResets prometheus.Counter

	running atomic.Bool
}

// NewHealthMetrics creates the metrics set and its private registry.
func NewHealthMetrics(
	log logrus.FieldLogger,
	cfg HealthConfig,
) *HealthMetrics {
	reg := prometheus.NewRegistry()

	h := &HealthMetrics{
		log:      log.WithField("component", "health"),
		addr:     cfg.Addr,
		registry: reg,

		RelaysTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relays_total",
				Help:      "Total relay attempts by network and outcome.",
			},
			[]string{"network", "outcome"},
		),
		RelayDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "relay_duration_seconds",
				Help:      "Time from request to confirmation or failure by network.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120}, // 500ms-2m
			},
			[]string{"network"},
		),
		RelaysInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relays_in_flight",
			Help:      "Relay attempts submitted but not yet finished.",
		}),
		NetworksRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "networks_registered",
			Help:      "Number of networks available for relaying.",
		}),
		NetworkUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "network_up",
				Help:      "Whether the last health probe succeeded (1=yes, 0=no).",
			},
			[]string{"network"},
		),
		RelayerBalance: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "relayer_balance_ether",
				Help:      "Last observed relayer balance in ether.",
			},
			[]string{"network"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total API requests by route, method and status.",
			},
			[]string{"route", "method", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "API request duration by route.",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
			},
			[]string{"route"},
		),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Total requests rejected by the rate limiter.",
		}),
		OutcomesExported: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outcomes_exported_total",
				Help:      "Total relay outcomes handed to an exporter.",
			},
			[]string{"exporter"},
		),
		ExportDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "export_dropped_total",
				Help:      "Total relay outcomes an exporter could not accept.",
			},
			[]string{"exporter"},
		),
		ExportBatchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "export_batch_errors_total",
				Help:      "Total export batch errors by exporter and error type.",
			},
			[]string{"exporter", "error_type"},
		),
		ClickHouseConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "clickhouse_connected",
				Help:      "Whether ClickHouse connection is established (1=yes, 0=no).",
			},
			[]string{"exporter"},
		),
		ClickHouseBatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "clickhouse_batch_duration_seconds",
				Help:      "Time to write a batch to ClickHouse by operation.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5}, // 1ms-500ms
			},
			[]string{"operation"},
		),
		AnalyticsResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analytics_resets_total",
			Help:      "Total resets of the in-memory usage analytics.",
		}),
	}

	reg.MustRegister(
		h.RelaysTotal,
		h.RelayDuration,
		h.RelaysInFlight,
		h.NetworksRegistered,
		h.NetworkUp,
		h.RelayerBalance,
	)

	reg.MustRegister(
		h.HTTPRequestsTotal,
		h.HTTPRequestDuration,
		h.RateLimited,
	)

	reg.MustRegister(
		h.OutcomesExported,
		h.ExportDropped,
		h.ExportBatchErrors,
		h.ClickHouseConnected,
		h.ClickHouseBatchDuration,
		h.AnalyticsResets,
	)

	return h
}

// Registry returns the registry the metrics are registered with.
func (h *HealthMetrics) Registry() *prometheus.Registry {
	return h.registry
}

// Start begins serving /metrics, /healthz and pprof.
func (h *HealthMetrics) Start(_ context.Context) error {
	if h.addr == "" {
		h.addr = ":9090"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		h.registry,
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}

	h.listener = ln

	h.server = &http.Server{
		Handler: mux,
	}

	h.running.Store(true)

	go func() {
		h.log.WithField("addr", ln.Addr().String()).
			Info("Health metrics server started")

		if err := h.server.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			h.log.WithError(err).
				Error("Health metrics server error")
		}

		h.running.Store(false)
	}()

	return nil
}

// Addr returns the actual listener address. Useful when started
// with ":0" to get the OS-assigned port.
func (h *HealthMetrics) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}

	return h.addr
}

// Stop shuts down the metrics server.
func (h *HealthMetrics) Stop() error {
	if h.server == nil {
		return nil
	}

	return h.server.Close()
}
