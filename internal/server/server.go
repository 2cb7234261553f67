// Package server exposes the relay and its analytics over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/gaslessgamefi/relay/internal/analytics"
	"github.com/gaslessgamefi/relay/internal/export"
	"github.com/gaslessgamefi/relay/internal/relay"
)

// Relayer is the dispatcher as seen by the API.
type Relayer interface {
	Relay(ctx context.Context, req relay.Request, caller relay.Caller) (*relay.Result, error)
	BalanceOf(ctx context.Context, networkID string) (*relay.Balance, error)
	Estimate(ctx context.Context, req relay.Request) (*relay.Estimate, error)
	Probe(ctx context.Context) *relay.Health
	Networks() []string
	Forwarders() map[string]string
}

// Analytics is the aggregator as seen by the API.
type Analytics interface {
	Snapshot() analytics.Snapshot
	Application(id string) (*analytics.ApplicationView, error)
	TopApplications(limit int) []analytics.ApplicationRank
	Reset() analytics.Snapshot
}

// Server is the public HTTP API.
type Server struct {
	log       logrus.FieldLogger
	cfg       Config
	relayer   Relayer
	analytics Analytics
	health    *export.HealthMetrics
	limiter   *ipLimiter
	handler   http.Handler
	startTime time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New builds the API and its routes. Nothing listens until Start.
func New(
	log logrus.FieldLogger,
	cfg Config,
	relayer Relayer,
	stats Analytics,
	health *export.HealthMetrics,
) *Server {
	s := &Server{
		log:       log.WithField("component", "api"),
		cfg:       cfg,
		relayer:   relayer,
		analytics: stats,
		health:    health,
		startTime: time.Now(),
	}

	if cfg.RateLimit.Requests > 0 {
		s.limiter = newIPLimiter(cfg.RateLimit)
	}

	s.handler = s.corsHandler(s.routes())

	return s
}

// Handler returns the full middleware chain, CORS included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) corsHandler(next http.Handler) http.Handler {
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "X-API-Key"},
		AllowCredentials: true,
	}).Handler(next)
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()

	if err := r.SetTrustedProxies(s.cfg.TrustedProxies); err != nil {
		s.log.WithError(err).Warn("Invalid trusted proxies, using the socket peer as client")

		_ = r.SetTrustedProxies(nil)
	}

	r.Use(s.recovery(), s.observe(), securityHeaders(), s.rateLimit())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	r.GET("/", s.handleRoot)

	r.POST("/relay", validateRelay("applicationId"), s.handleRelay)
	r.GET("/networks", s.handleNetworks)
	r.GET("/balance/:network", s.handleBalance)
	r.POST("/estimate", validateRelay("applicationId"), s.handleEstimate)

	r.GET("/metrics", s.handleMetrics)
	r.GET("/metrics/applications/:id", s.handleApplication("Application not found"))
	r.GET("/metrics/top", s.handleTop)
	r.POST("/metrics/reset", s.requireAPIKey(), s.handleReset)

	r.GET("/health", s.handleHealth)
	r.GET("/health/detailed", s.handleHealthDetailed)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/relay/transaction", validateRelay("gameId"), s.handleRelay)
		v1.GET("/relay/networks", s.handleNetworks)
		v1.GET("/relay/balance/:network", s.handleBalance)
		v1.POST("/relay/estimate", validateRelay("gameId"), s.handleEstimate)

		v1.GET("/analytics/metrics", s.handleMetrics)
		v1.GET("/analytics/games/:id", s.handleApplication("Game not found"))
		v1.GET("/analytics/top-games", s.handleTopGames)
		v1.POST("/analytics/reset", s.requireAPIKey(), s.handleReset)

		v1.GET("/health", s.handleHealth)
		v1.GET("/health/detailed", s.handleHealthDetailed)
	}

	return r
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.New("api server already started")
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.listener = listener
	s.cancel = cancel
	s.server = &http.Server{
		Handler:           s.handler,
		BaseContext:       func(_ net.Listener) context.Context { return runCtx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Relays wait for confirmation, so writes get the longest budget.
		WriteTimeout: 5 * time.Minute,
	}

	if s.limiter != nil {
		go s.limiter.run(runCtx)
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("API server failed")
		}
	}()

	s.log.WithField("addr", listener.Addr().String()).Info("API server started")

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := s.server.Shutdown(ctx)

	s.cancel()
	s.server = nil

	if err != nil {
		return fmt.Errorf("shutting down api server: %w", err)
	}

	return nil
}
