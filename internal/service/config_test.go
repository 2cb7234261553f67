package service

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaslessgamefi/relay/internal/network"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 100, cfg.Server.RateLimit.Requests)
	assert.Equal(t, time.Minute, cfg.Server.RateLimit.Window)
	assert.Equal(t, ":9090", cfg.Health.Addr)
	assert.Equal(t, 30*time.Second, cfg.Relay.SubmitTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Relay.ConfirmationTimeout)
	assert.False(t, cfg.Exporters.HTTP.Enabled)
	assert.False(t, cfg.Exporters.Archive.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
server:
  addr: ":8080"
  api_key: "file-key"
  allowed_origins:
    - https://play.example.com
relay:
  confirmation_timeout: 90s
  receipt_poll_interval: 1s
networks:
  - id: skale
    endpoint: https://skale.example/rpc
    forwarder: "0x2222222222222222222222222222222222222222"
    signer:
      private_key: "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
  - id: polygon
    endpoint: https://polygon.example/rpc
    signer:
      kind: remote
      api_key: k
      api_secret: s
exporters:
  http:
    enabled: true
    address: http://collector:8080/outcomes
    compression: zstd
  archive:
    enabled: true
    migrate: true
    clickhouse:
      endpoint: clickhouse:9000
      database: relay
      table: relay_outcomes
health:
  addr: ":9191"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "file-key", cfg.Server.APIKey)
	assert.Equal(t, []string{"https://play.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 90*time.Second, cfg.Relay.ConfirmationTimeout)
	assert.Equal(t, 30*time.Second, cfg.Relay.SubmitTimeout)

	require.Len(t, cfg.Networks, 2)
	assert.Equal(t, "skale", cfg.Networks[0].ID)
	assert.Equal(t, network.SignerKindKey, cfg.Networks[0].Signer.ResolvedKind())
	assert.Equal(t, network.SignerKindRemote, cfg.Networks[1].Signer.ResolvedKind())

	assert.True(t, cfg.Exporters.HTTP.Enabled)
	assert.Equal(t, "zstd", cfg.Exporters.HTTP.Compression)
	assert.Equal(t, 100, cfg.Exporters.HTTP.BatchSize)
	assert.True(t, cfg.Exporters.Archive.Migrate)
	assert.Equal(t, "clickhouse://clickhouse:9000/relay", cfg.Exporters.Archive.ClickHouse.DSN())
	assert.Equal(t, ":9191", cfg.Health.Addr)
}

func TestLoadConfig_NoFile(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Server.Addr)
}

func TestLoadConfig_Environment(t *testing.T) {
	t.Setenv("PORT", "4000")
	t.Setenv("MASTER_API_KEY", "env-key")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,192.168.1.10")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("POLYGON_MUMBAI_API_KEY", "mumbai-key")
	t.Setenv("POLYGON_MUMBAI_API_SECRET", "mumbai-secret")
	t.Setenv("POLYGON_MUMBAI_ENDPOINT", "https://mumbai.example/rpc")
	t.Setenv("SKALE_ENDPOINT", "https://skale-from-env.example")
	t.Setenv("SKALE_PRIVATE_KEY", "0xabc")

	path := writeConfig(t, `
server:
  api_key: "file-key"
networks:
  - id: skale
    endpoint: https://skale.example/rpc
    forwarder: "0x2222222222222222222222222222222222222222"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":4000", cfg.Server.Addr)
	assert.Equal(t, "env-key", cfg.Server.APIKey)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.10"}, cfg.Server.TrustedProxies)
	assert.Equal(t, "production", cfg.Server.Environment)

	require.Len(t, cfg.Networks, 2)

	skale := cfg.Networks[0]
	assert.Equal(t, "skale", skale.ID)
	assert.Equal(t, "https://skale-from-env.example", skale.Endpoint)
	assert.Equal(t, "0x2222222222222222222222222222222222222222", skale.Forwarder)
	assert.Equal(t, "0xabc", skale.Signer.PrivateKey)

	mumbai := cfg.Networks[1]
	assert.Equal(t, "polygon-mumbai", mumbai.ID)
	assert.Equal(t, "https://mumbai.example/rpc", mumbai.Endpoint)
	assert.Equal(t, "mumbai-key", mumbai.Signer.APIKey)
	assert.Equal(t, "mumbai-secret", mumbai.Signer.APISecret)
	assert.Equal(t, network.SignerKindRemote, mumbai.Signer.ResolvedKind())
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "bad yaml",
			content: "server: [",
			wantErr: "parsing config file",
		},
		{
			name:    "bad log level",
			content: "logging:\n  level: loud\n",
			wantErr: "logging",
		},
		{
			name:    "duplicate network",
			content: "networks:\n  - id: polygon\n  - id: polygon\n",
			wantErr: `duplicate id "polygon"`,
		},
		{
			name:    "network without id",
			content: "networks:\n  - endpoint: http://x\n",
			wantErr: "id is required",
		},
		{
			name:    "http exporter without address",
			content: "exporters:\n  http:\n    enabled: true\n",
			wantErr: "exporters.http",
		},
		{
			name:    "archive without endpoint",
			content: "exporters:\n  archive:\n    enabled: true\n",
			wantErr: "exporters.archive",
		},
		{
			name:    "bad trusted proxy",
			content: "server:\n  trusted_proxies:\n    - not-an-ip\n",
			wantErr: "server.trusted_proxies",
		},
		{
			name:    "poll longer than confirmation",
			content: "relay:\n  confirmation_timeout: 1s\n  receipt_poll_interval: 5s\n",
			wantErr: "relay",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading config file")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a ,b,, "))
	assert.Empty(t, splitList(""))
}
