package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"BOOKKEEPER_ENV", "BITMEX_API_KEY", "BITMEX_API_SECRET", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_SERVICE_NAME"} {
		t.Setenv(key, "")
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadOrDefault(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, EnvDev, cfg.Environment)
	require.Equal(t, "XBTUSD", cfg.Bitmex.Symbol)
	require.False(t, cfg.Bitmex.Credentials.Authenticated())

	cfg, err = LoadOrDefault(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, DefaultWebsocketURL, cfg.Bitmex.WebsocketURL)
}

func TestLoadFromYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
environment: STAGING
bitmex:
  websocketURL: wss://ws.testnet.bitmex.com/realtime
  restURL: https://testnet.bitmex.com/api/v1/
  symbol: " ethusd "
  tables: [orderBookL2, position, orderBookL2, " wallet "]
  pingInterval: 2s
  requestsPerMinute: 30
  leverage: 10
  credentials:
    apiKey: key
    apiSecret: secret
queue:
  warnBacklog: 500
report:
  depth: 10
  interval: 1s
telemetry:
  enabled: true
  serviceName: test-service
`)

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, EnvStaging, cfg.Environment)
	require.Equal(t, "https://testnet.bitmex.com/api/v1", cfg.Bitmex.RESTURL)
	require.Equal(t, "ETHUSD", cfg.Bitmex.Symbol)
	require.Equal(t, []string{"orderBookL2", "position", "wallet"}, cfg.Bitmex.Tables)
	require.Equal(t, 2*time.Second, cfg.Bitmex.PingInterval)
	require.Equal(t, 10*time.Second, cfg.Bitmex.HTTPTimeout)
	require.Equal(t, 30, cfg.Bitmex.RequestsPerMinute)
	require.Equal(t, 10.0, cfg.Bitmex.Leverage)
	require.Equal(t, 500, cfg.Queue.WarnBacklog)
	require.Equal(t, 10, cfg.Report.Depth)
	require.Equal(t, time.Second, cfg.Report.Interval)
	require.True(t, cfg.Telemetry.Enabled)
	require.Equal(t, "test-service", cfg.Telemetry.ServiceName)
}

func TestEnvironmentOverridesYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("BITMEX_API_KEY", "key")
	t.Setenv("BITMEX_API_SECRET", "secret")
	t.Setenv("BOOKKEEPER_ENV", "Prod")
	path := writeConfig(t, `
environment: dev
bitmex:
  credentials:
    apiKey: from-file
    apiSecret: from-file
`)

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, EnvProd, cfg.Environment)
	require.Equal(t, Credentials{APIKey: "key", APISecret: "secret"}, cfg.Bitmex.Credentials)
	require.True(t, cfg.Bitmex.Credentials.Authenticated())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*AppConfig){
		"environment":   func(c *AppConfig) { c.Environment = "qa" },
		"symbol":        func(c *AppConfig) { c.Bitmex.Symbol = "" },
		"tables":        func(c *AppConfig) { c.Bitmex.Tables = nil },
		"half creds":    func(c *AppConfig) { c.Bitmex.Credentials.APIKey = "key" },
		"rate":          func(c *AppConfig) { c.Bitmex.RequestsPerMinute = 0 },
		"prefix":        func(c *AppConfig) { c.Bitmex.OrderIDPrefix = "a,b" },
		"report depth":  func(c *AppConfig) { c.Report.Depth = 0 },
		"service name":  func(c *AppConfig) { c.Telemetry.ServiceName = "" },
		"ping interval": func(c *AppConfig) { c.Bitmex.PingInterval = 0 },
		"leverage":      func(c *AppConfig) { c.Bitmex.Leverage = 101 },
		"anon leverage": func(c *AppConfig) { c.Bitmex.Leverage = 10 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
	require.NoError(t, Default().Validate())
}

func TestInvalidYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "bitmex: [not, a, map]")
	_, err := Load(context.Background(), path)
	require.Error(t, err)

	_, err = LoadOrDefault(context.Background(), path)
	require.Error(t, err)
}
