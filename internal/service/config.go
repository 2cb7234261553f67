package service

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/gaslessgamefi/relay/internal/archive"
	"github.com/gaslessgamefi/relay/internal/export"
	exporthttp "github.com/gaslessgamefi/relay/internal/export/http"
	"github.com/gaslessgamefi/relay/internal/logging"
	"github.com/gaslessgamefi/relay/internal/network"
	"github.com/gaslessgamefi/relay/internal/relay"
	"github.com/gaslessgamefi/relay/internal/server"
)

// knownNetworks can be configured purely from the environment.
var knownNetworks = []string{
	network.PolygonMumbai,
	network.Polygon,
	network.Skale,
	network.Arbitrum,
}

// Config is the top-level configuration of the relay service.
type Config struct {
	// Logging configures log level, format and files.
	Logging logging.Config `yaml:"logging"`

	// Server configures the public API.
	Server server.Config `yaml:"server"`

	// Relay configures submission and confirmation timing.
	Relay relay.Config `yaml:"relay"`

	// Networks lists the supported networks.
	Networks []network.Config `yaml:"networks"`

	// Health configures the Prometheus metrics server.
	Health export.HealthConfig `yaml:"health"`

	// Exporters configures optional outcome exporters.
	Exporters ExportersConfig `yaml:"exporters"`

	// DialTimeout bounds connecting to each network at startup.
	// Defaults to 15s.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// ExportersConfig groups the outcome exporters.
type ExportersConfig struct {
	HTTP    exporthttp.Config `yaml:"http"`
	Archive archive.Config    `yaml:"archive"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging:     logging.DefaultConfig(),
		Server:      server.DefaultConfig(),
		Relay:       relay.DefaultConfig(),
		DialTimeout: 15 * time.Second,
		Health: export.HealthConfig{
			Addr: ":9090",
		},
		Exporters: ExportersConfig{
			HTTP: exporthttp.DefaultConfig(),
		},
	}
}

// LoadConfig reads an optional YAML file, applies environment overrides
// and validates the result. An empty path uses defaults and environment
// only.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()

	applyEnv(cfg, v)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// applyEnv overlays the environment variables the service has always
// understood on top of the file configuration.
func applyEnv(cfg *Config, v *viper.Viper) {
	if port := v.GetString("port"); port != "" {
		cfg.Server.Addr = ":" + port
	}

	if key := v.GetString("master_api_key"); key != "" {
		cfg.Server.APIKey = key
	}

	if origins := v.GetString("allowed_origins"); origins != "" {
		cfg.Server.AllowedOrigins = splitList(origins)
	}

	if proxies := v.GetString("trusted_proxies"); proxies != "" {
		cfg.Server.TrustedProxies = splitList(proxies)
	}

	if level := v.GetString("log_level"); level != "" {
		cfg.Logging.Level = level
	}

	if env := v.GetString("environment"); env != "" {
		cfg.Server.Environment = env
	}

	for _, id := range knownNetworks {
		applyNetworkEnv(cfg, v, id)
	}
}

func applyNetworkEnv(cfg *Config, v *viper.Viper, id string) {
	prefix := strings.ToLower(strings.ReplaceAll(id, "-", "_")) + "_"

	get := func(key string) string {
		return v.GetString(prefix + key)
	}

	endpoint := get("endpoint")
	apiKey := get("api_key")
	apiSecret := get("api_secret")
	privateKey := get("private_key")
	forwarder := get("forwarder")

	if endpoint == "" && apiKey == "" && privateKey == "" {
		return
	}

	nc := cfg.network(id)

	if endpoint != "" {
		nc.Endpoint = endpoint
	}

	if forwarder != "" {
		nc.Forwarder = forwarder
	}

	if privateKey != "" {
		nc.Signer.PrivateKey = privateKey
	}

	if apiKey != "" {
		nc.Signer.APIKey = apiKey
	}

	if apiSecret != "" {
		nc.Signer.APISecret = apiSecret
	}
}

// network returns the config for id, adding an empty one if needed.
func (c *Config) network(id string) *network.Config {
	for i := range c.Networks {
		if c.Networks[i].ID == id {
			return &c.Networks[i]
		}
	}

	c.Networks = append(c.Networks, network.Config{ID: id})

	return &c.Networks[len(c.Networks)-1]
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}

	return out
}

// Validate checks the configuration. Individual networks are validated
// when they are dialed so one bad network does not stop the others.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	if err := c.Server.Validate(); err != nil {
		return err
	}

	if err := c.Relay.Validate(); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(c.Networks))

	for _, n := range c.Networks {
		if n.ID == "" {
			return fmt.Errorf("networks: id is required")
		}

		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("networks: duplicate id %q", n.ID)
		}

		seen[n.ID] = struct{}{}
	}

	if c.Exporters.HTTP.Enabled {
		if err := c.Exporters.HTTP.Validate(); err != nil {
			return fmt.Errorf("exporters.http: %w", err)
		}
	}

	if err := c.Exporters.Archive.Validate(); err != nil {
		return fmt.Errorf("exporters.%w", err)
	}

	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial_timeout must be positive")
	}

	return nil
}
