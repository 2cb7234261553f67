package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gaslessgamefi/relay/internal/analytics"
	"github.com/gaslessgamefi/relay/internal/relay"
	"github.com/gaslessgamefi/relay/internal/version"
)

// statusClientClosedRequest is logged when the caller leaves before a
// relay finishes. Nothing is written back.
const statusClientClosedRequest = 499

type metricsResponse struct {
	analytics.Snapshot
	Uptime    float64 `json:"uptime"`
	Timestamp string  `json:"timestamp"`
}

type healthResponse struct {
	Status    string                         `json:"status"`
	Version   string                         `json:"version"`
	Uptime    float64                        `json:"uptime"`
	Networks  map[string]relay.NetworkStatus `json:"networks"`
	Timestamp string                         `json:"timestamp"`
}

// gameRank is the legacy shape of a top application row.
type gameRank struct {
	GameID      string `json:"gameId"`
	Total       uint64 `json:"total"`
	Success     uint64 `json:"success"`
	UniqueUsers int    `json:"uniqueUsers"`
}

func (s *Server) uptime() float64 {
	return time.Since(s.startTime).Seconds()
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":          version.Service,
		"version":       version.Short(),
		"documentation": s.cfg.Documentation,
		"endpoints": gin.H{
			"relay":     "/relay",
			"networks":  "/networks",
			"balance":   "/balance/:network",
			"estimate":  "/estimate",
			"metrics":   "/metrics",
			"health":    "/health",
			"legacy":    "/api/v1",
			"analytics": "/api/v1/analytics",
		},
	})
}

// writeRelayError maps a relay error to a response. Errors the caller can
// act on carry their message; anything else is logged and reported
// generically.
func (s *Server) writeRelayError(c *gin.Context, op string, err error, body gin.H) {
	switch {
	case errors.Is(err, context.Canceled) && c.Request.Context().Err() != nil:
		s.log.WithField("op", op).Debug("Caller went away")
		c.AbortWithStatus(statusClientClosedRequest)
	case relay.IsReportable(err):
		body["error"] = err.Error()
		c.JSON(http.StatusBadRequest, body)
	default:
		s.log.WithError(err).WithField("op", op).Error("Unexpected relay error")

		body["error"] = msgInternal
		c.JSON(http.StatusInternalServerError, body)
	}
}

func (s *Server) handleRelay(c *gin.Context) {
	in := relayInputFrom(c)

	res, err := s.relayer.Relay(c.Request.Context(), in.request, in.caller)
	if err != nil {
		s.writeRelayError(c, "relay", err, gin.H{"success": false})

		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "result": res})
}

func (s *Server) handleNetworks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"networks":   s.relayer.Networks(),
		"forwarders": s.relayer.Forwarders(),
	})
}

func (s *Server) handleBalance(c *gin.Context) {
	bal, err := s.relayer.BalanceOf(c.Request.Context(), c.Param("network"))
	if err != nil {
		s.writeRelayError(c, "balance", err, gin.H{})

		return
	}

	c.JSON(http.StatusOK, bal)
}

func (s *Server) handleEstimate(c *gin.Context) {
	in := relayInputFrom(c)

	est, err := s.relayer.Estimate(c.Request.Context(), in.request)
	if err != nil {
		s.writeRelayError(c, "estimate", err, gin.H{})

		return
	}

	c.JSON(http.StatusOK, est)
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, metricsResponse{
		Snapshot:  s.analytics.Snapshot(),
		Uptime:    s.uptime(),
		Timestamp: timestamp(),
	})
}

func (s *Server) handleApplication(notFound string) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := s.analytics.Application(c.Param("id"))
		if errors.Is(err, analytics.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": notFound})

			return
		}

		if err != nil {
			s.log.WithError(err).Error("Reading application metrics failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})

			return
		}

		c.JSON(http.StatusOK, view)
	}
}

// queryLimit parses ?limit=, falling back to the default for anything that
// is not a positive integer.
func queryLimit(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return analytics.DefaultTopLimit
	}

	return n
}

func (s *Server) handleTop(c *gin.Context) {
	c.JSON(http.StatusOK, s.analytics.TopApplications(queryLimit(c)))
}

func (s *Server) handleTopGames(c *gin.Context) {
	ranks := s.analytics.TopApplications(queryLimit(c))

	rows := make([]gameRank, 0, len(ranks))
	for _, r := range ranks {
		rows = append(rows, gameRank{
			GameID:      r.ApplicationID,
			Total:       r.Total,
			Success:     r.Success,
			UniqueUsers: r.UniqueCallerCount,
		})
	}

	c.JSON(http.StatusOK, rows)
}

func (s *Server) handleReset(c *gin.Context) {
	prev := s.analytics.Reset()

	s.health.AnalyticsResets.Inc()

	s.log.WithField("total_relays", prev.TotalRelays).Warn("Analytics reset")

	c.JSON(http.StatusOK, gin.H{"message": "Metrics reset successfully"})
}

func (s *Server) handleHealth(c *gin.Context) {
	h := s.relayer.Probe(c.Request.Context())

	c.JSON(http.StatusOK, healthResponse{
		Status:    h.Status,
		Version:   version.Short(),
		Uptime:    s.uptime(),
		Networks:  h.Networks,
		Timestamp: timestamp(),
	})
}

func megabytes(b uint64) string {
	return fmt.Sprintf("%.2f MB", float64(b)/1024/1024)
}

func (s *Server) handleHealthDetailed(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.JSON(http.StatusOK, gin.H{
		"status":  relay.StatusHealthy,
		"version": version.Short(),
		"uptime":  s.uptime(),
		"memory": gin.H{
			"rss":       megabytes(m.Sys),
			"heapTotal": megabytes(m.HeapSys),
			"heapUsed":  megabytes(m.HeapAlloc),
			"external":  megabytes(m.Sys - m.HeapSys),
		},
		"cpu": gin.H{
			"cores":      runtime.NumCPU(),
			"goroutines": runtime.NumGoroutine(),
		},
		"environment": s.cfg.Environment,
		"timestamp":   timestamp(),
	})
}
