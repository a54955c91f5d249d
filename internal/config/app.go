package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default endpoints of the production exchange.
const (
	DefaultWebsocketURL = "wss://ws.bitmex.com/realtime"
	DefaultRESTURL      = "https://www.bitmex.com/api/v1"
)

const maxLeverage = 100

// AppConfig is the unified bookkeeper configuration.
type AppConfig struct {
	Environment Environment     `yaml:"environment"`
	Bitmex      BitmexConfig    `yaml:"bitmex"`
	Queue       QueueConfig     `yaml:"queue"`
	Report      ReportConfig    `yaml:"report"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

// Default returns the configuration used when no file is supplied.
func Default() AppConfig {
	return AppConfig{
		Environment: EnvDev,
		Bitmex: BitmexConfig{
			WebsocketURL:      DefaultWebsocketURL,
			RESTURL:           DefaultRESTURL,
			Symbol:            "XBTUSD",
			Tables:            []string{"orderBookL2_25", "position", "wallet"},
			HandshakeTimeout:  10 * time.Second,
			HTTPTimeout:       10 * time.Second,
			PingInterval:      5 * time.Second,
			SignatureTTL:      5 * time.Second,
			RequestsPerMinute: 60,
			OrderIDPrefix:     "bk",
		},
		Queue: QueueConfig{WarnBacklog: 10000},
		Report: ReportConfig{
			Depth:    5,
			Interval: 5 * time.Second,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "http://localhost:4318",
			ServiceName:  "bookkeeper",
		},
	}
}

// Load reads configuration with precedence: defaults → YAML → env vars. A missing file is
// an error.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	cfg := Default()
	if err := cfg.loadYAML(ctx, configPath); err != nil {
		return AppConfig{}, fmt.Errorf("load yaml config: %w", err)
	}
	return cfg.finish()
}

// LoadOrDefault is Load, except a missing or unnamed file falls back to defaults.
func LoadOrDefault(ctx context.Context, configPath string) (AppConfig, error) {
	cfg := Default()
	if strings.TrimSpace(configPath) != "" {
		err := cfg.loadYAML(ctx, configPath)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return AppConfig{}, fmt.Errorf("load yaml config: %w", err)
		}
	}
	return cfg.finish()
}

func (c *AppConfig) finish() (AppConfig, error) {
	c.loadEnv()
	c.normalise()
	if err := c.Validate(); err != nil {
		return AppConfig{}, fmt.Errorf("validate config: %w", err)
	}
	return *c, nil
}

func (c *AppConfig) loadYAML(ctx context.Context, path string) error {
	_ = ctx
	reader, closer, err := openConfigFile(path)
	if err != nil {
		return err
	}
	defer closer()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

func (c *AppConfig) loadEnv() {
	if env := strings.TrimSpace(os.Getenv("BOOKKEEPER_ENV")); env != "" {
		c.Environment = Environment(env)
	}
	if v := strings.TrimSpace(os.Getenv("BITMEX_API_KEY")); v != "" {
		c.Bitmex.Credentials.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("BITMEX_API_SECRET")); v != "" {
		c.Bitmex.Credentials.APISecret = v
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")); v != "" {
		c.Telemetry.ServiceName = v
	}
}

func (c *AppConfig) normalise() {
	c.Environment = Environment(normalizeName(string(c.Environment)))
	c.Bitmex.WebsocketURL = strings.TrimSpace(c.Bitmex.WebsocketURL)
	c.Bitmex.RESTURL = strings.TrimRight(strings.TrimSpace(c.Bitmex.RESTURL), "/")
	c.Bitmex.Symbol = strings.ToUpper(strings.TrimSpace(c.Bitmex.Symbol))
	c.Bitmex.Credentials.APIKey = strings.TrimSpace(c.Bitmex.Credentials.APIKey)
	c.Bitmex.Credentials.APISecret = strings.TrimSpace(c.Bitmex.Credentials.APISecret)
	c.Bitmex.OrderIDPrefix = strings.TrimSpace(c.Bitmex.OrderIDPrefix)

	tables := make([]string, 0, len(c.Bitmex.Tables))
	for _, table := range c.Bitmex.Tables {
		table = strings.TrimSpace(table)
		if table != "" && !slices.Contains(tables, table) {
			tables = append(tables, table)
		}
	}
	c.Bitmex.Tables = tables

	if c.Queue.WarnBacklog < 0 {
		c.Queue.WarnBacklog = 0
	}
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}

	if c.Bitmex.WebsocketURL == "" {
		return fmt.Errorf("bitmex websocketURL required")
	}
	if c.Bitmex.RESTURL == "" {
		return fmt.Errorf("bitmex restURL required")
	}
	if c.Bitmex.Symbol == "" {
		return fmt.Errorf("bitmex symbol required")
	}
	if len(c.Bitmex.Tables) == 0 {
		return fmt.Errorf("bitmex tables required")
	}
	if (c.Bitmex.Credentials.APIKey == "") != (c.Bitmex.Credentials.APISecret == "") {
		return fmt.Errorf("bitmex credentials need both apiKey and apiSecret")
	}
	if c.Bitmex.HandshakeTimeout <= 0 {
		return fmt.Errorf("bitmex handshakeTimeout must be >0")
	}
	if c.Bitmex.HTTPTimeout <= 0 {
		return fmt.Errorf("bitmex httpTimeout must be >0")
	}
	if c.Bitmex.PingInterval <= 0 {
		return fmt.Errorf("bitmex pingInterval must be >0")
	}
	if c.Bitmex.SignatureTTL <= 0 {
		return fmt.Errorf("bitmex signatureTTL must be >0")
	}
	if c.Bitmex.RequestsPerMinute <= 0 {
		return fmt.Errorf("bitmex requestsPerMinute must be >0")
	}
	if strings.Contains(c.Bitmex.OrderIDPrefix, ",") {
		return fmt.Errorf("bitmex orderIDPrefix must not contain commas")
	}
	if c.Bitmex.Leverage < 0 || c.Bitmex.Leverage > maxLeverage {
		return fmt.Errorf("bitmex leverage must be within [0, %d]", maxLeverage)
	}
	if c.Bitmex.Leverage > 0 && !c.Bitmex.Credentials.Authenticated() {
		return fmt.Errorf("bitmex leverage requires credentials")
	}

	if c.Report.Depth <= 0 {
		return fmt.Errorf("report depth must be >0")
	}
	if c.Report.Interval <= 0 {
		return fmt.Errorf("report interval must be >0")
	}

	if c.Telemetry.ServiceName == "" {
		return fmt.Errorf("telemetry serviceName required")
	}
	return nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := filepath.Clean(strings.TrimSpace(path))
	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
