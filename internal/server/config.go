package server

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Config configures the public HTTP API.
type Config struct {
	// Addr is the listen address. Defaults to ":3000".
	Addr string `yaml:"addr"`

	// APIKey guards privileged endpoints. When empty those endpoints
	// reject every request.
	APIKey string `yaml:"api_key"`

	// AllowedOrigins lists CORS origins. Defaults to any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// RateLimit bounds requests per client IP.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// TrustedProxies lists the IPs or CIDRs of reverse proxies whose
	// X-Forwarded-For and X-Real-IP headers name the client. Empty means
	// the client is always the socket peer.
	TrustedProxies []string `yaml:"trusted_proxies"`

	// Environment is reported by /health/detailed.
	Environment string `yaml:"environment"`

	// Documentation is the link shown on the service banner.
	Documentation string `yaml:"documentation"`

	// ShutdownTimeout bounds graceful shutdown. Defaults to 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RateLimitConfig is a per-client request budget.
type RateLimitConfig struct {
	// Requests allowed per Window. Zero disables limiting.
	Requests int `yaml:"requests"`

	// Window is the period the budget refills over. Defaults to 1m.
	Window time.Duration `yaml:"window"`

	// IdleTTL drops limiters of clients not seen for this long.
	// Defaults to 10m.
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

// DefaultConfig returns the API defaults: port 3000, any origin and
// 100 requests per minute per client.
func DefaultConfig() Config {
	return Config{
		Addr:           ":3000",
		AllowedOrigins: []string{"*"},
		RateLimit: RateLimitConfig{
			Requests: 100,
			Window:   time.Minute,
			IdleTTL:  10 * time.Minute,
		},
		Environment:     "development",
		Documentation:   "https://github.com/thebunnygoyal/gaslessgamefi-relay",
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate checks the API configuration.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	for _, p := range c.TrustedProxies {
		if !validProxy(p) {
			return fmt.Errorf("server.trusted_proxies: invalid IP or CIDR %q", p)
		}
	}

	if c.RateLimit.Requests < 0 {
		return fmt.Errorf("server.rate_limit.requests cannot be negative")
	}

	if c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0 {
		return fmt.Errorf("server.rate_limit.window must be positive")
	}

	return nil
}

func validProxy(p string) bool {
	if strings.Contains(p, "/") {
		_, _, err := net.ParseCIDR(p)

		return err == nil
	}

	return net.ParseIP(p) != nil
}
