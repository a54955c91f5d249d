// Package config loads the bookkeeper configuration from code defaults, an optional YAML
// file and environment overrides, in that order.
package config

import (
	"strings"
	"time"
)

// Environment identifies the runtime environment.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// Credentials captures API credentials used for authenticated requests.
type Credentials struct {
	APIKey    string `yaml:"apiKey"`
	APISecret string `yaml:"apiSecret"`
}

// Authenticated reports whether both halves of the credential are set.
func (c Credentials) Authenticated() bool {
	return c.APIKey != "" && c.APISecret != ""
}

// BitmexConfig configures the exchange connection.
type BitmexConfig struct {
	WebsocketURL      string        `yaml:"websocketURL"`
	RESTURL           string        `yaml:"restURL"`
	Symbol            string        `yaml:"symbol"`
	Tables            []string      `yaml:"tables"`
	Credentials       Credentials   `yaml:"credentials"`
	HandshakeTimeout  time.Duration `yaml:"handshakeTimeout"`
	HTTPTimeout       time.Duration `yaml:"httpTimeout"`
	PingInterval      time.Duration `yaml:"pingInterval"`
	SignatureTTL      time.Duration `yaml:"signatureTTL"`
	RequestsPerMinute int           `yaml:"requestsPerMinute"`
	OrderIDPrefix     string        `yaml:"orderIDPrefix"`
	// Leverage is the isolated leverage enforced on Symbol once its position is known.
	// Zero leaves the position untouched.
	Leverage          float64       `yaml:"leverage"`
}

// QueueConfig configures the inbound message queue.
type QueueConfig struct {
	WarnBacklog int `yaml:"warnBacklog"`
}

// ReportConfig configures the periodic depth and balance report.
type ReportConfig struct {
	Depth    int           `yaml:"depth"`
	Interval time.Duration `yaml:"interval"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
	OTLPInsecure bool   `yaml:"otlpInsecure"`
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
