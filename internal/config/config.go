// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Chain modes.
const (
	ChainModeMock = "mock"
	ChainModeLive = "live"
)

// Config holds all configuration for the ledger services.
type Config struct {
	HTTPAddr      string `mapstructure:"HTTP_ADDR"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	ClickhouseDSN string `mapstructure:"CLICKHOUSE_DSN"`
	UseMemory     bool   `mapstructure:"USE_MEMORY"`
	LogMode       string `mapstructure:"LOG_MODE"`

	RedisURL       string        `mapstructure:"REDIS_URL"`
	CacheTTL       time.Duration `mapstructure:"CACHE_TTL"`
	RabbitMQURL    string        `mapstructure:"RABBITMQ_URL"`
	NotifyExchange string        `mapstructure:"NOTIFY_EXCHANGE"`

	ChainMode       string        `mapstructure:"CHAIN_MODE"`
	ChainRelayerURL string        `mapstructure:"CHAIN_RELAYER_URL"`
	ChainRPCURL     string        `mapstructure:"CHAIN_RPC_URL"`
	ChainWSURL      string        `mapstructure:"CHAIN_WS_URL"`
	TrustedSigners  []string      `mapstructure:"TRUSTED_SIGNERS"`
	ChainTimeout    time.Duration `mapstructure:"CHAIN_CALL_TIMEOUT"`
	ChainMaxRetries int           `mapstructure:"CHAIN_MAX_RETRIES"`
	ChainRetryDelay time.Duration `mapstructure:"CHAIN_RETRY_DELAY"`
	ChainMaxDelay   time.Duration `mapstructure:"CHAIN_MAX_DELAY"`

	SubmitWorkers  int           `mapstructure:"SUBMIT_WORKERS"`
	SweepSchedule  string        `mapstructure:"SWEEP_SCHEDULE"`
	PendingTimeout time.Duration `mapstructure:"PENDING_TIMEOUT"`
	AbandonTimeout time.Duration `mapstructure:"ABANDON_TIMEOUT"`

	DistributionMaxAttempts int           `mapstructure:"DISTRIBUTION_MAX_ATTEMPTS"`
	DistributionPrecision   int32         `mapstructure:"DISTRIBUTION_PRECISION"`
	TransferTimeout         time.Duration `mapstructure:"TRANSFER_TIMEOUT"`

	RiskFreeRate     float64 `mapstructure:"RISK_FREE_RATE"`
	EventBufferLimit int     `mapstructure:"EVENT_BUFFER_LIMIT"`

	// WorkerIdleTimeout retires reconciler workers of quiet assets.
	WorkerIdleTimeout time.Duration `mapstructure:"WORKER_IDLE_TIMEOUT"`
}

var defaults = map[string]any{
	"HTTP_ADDR":                 ":8080",
	"USE_MEMORY":                true,
	"LOG_MODE":                  "development",
	"CACHE_TTL":                 "5m",
	"NOTIFY_EXCHANGE":           "ledger.events",
	"CHAIN_MODE":                ChainModeMock,
	"CHAIN_CALL_TIMEOUT":        "10s",
	"CHAIN_MAX_RETRIES":         3,
	"CHAIN_RETRY_DELAY":         "500ms",
	"CHAIN_MAX_DELAY":           "10s",
	"SUBMIT_WORKERS":            4,
	"SWEEP_SCHEDULE":            "@every 1m",
	"PENDING_TIMEOUT":           "2m",
	"ABANDON_TIMEOUT":           "30m",
	"DISTRIBUTION_MAX_ATTEMPTS": 3,
	"DISTRIBUTION_PRECISION":    0,
	"TRANSFER_TIMEOUT":          "15s",
	"RISK_FREE_RATE":            0.0,
	"EVENT_BUFFER_LIMIT":        1024,
	"WORKER_IDLE_TIMEOUT":       "5m",
}

// Keys without a default still need binding to appear in Unmarshal.
var unbound = []string{
	"DATABASE_URL", "CLICKHOUSE_DSN", "REDIS_URL", "RABBITMQ_URL",
	"CHAIN_RELAYER_URL", "CHAIN_RPC_URL", "CHAIN_WS_URL", "TRUSTED_SIGNERS",
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()
	for _, key := range unbound {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.TrustedSigners = splitList(cfg.TrustedSigners)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	if !c.UseMemory {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when USE_MEMORY=false")
		}
		if c.ClickhouseDSN == "" {
			return fmt.Errorf("CLICKHOUSE_DSN is required when USE_MEMORY=false")
		}
	}
	switch c.ChainMode {
	case ChainModeMock:
	case ChainModeLive:
		if c.ChainRelayerURL == "" {
			return fmt.Errorf("CHAIN_RELAYER_URL is required when CHAIN_MODE=live")
		}
		if len(c.TrustedSigners) == 0 {
			return fmt.Errorf("TRUSTED_SIGNERS is required when CHAIN_MODE=live")
		}
	default:
		return fmt.Errorf("unknown CHAIN_MODE %q", c.ChainMode)
	}
	if c.SubmitWorkers <= 0 {
		return fmt.Errorf("SUBMIT_WORKERS must be positive")
	}
	if c.DistributionPrecision < 0 {
		return fmt.Errorf("DISTRIBUTION_PRECISION must not be negative")
	}
	return nil
}

// splitList normalises comma or whitespace separated entries.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.FieldsFunc(item, func(r rune) bool { return r == ',' || r == ' ' }) {
			out = append(out, part)
		}
	}
	return out
}
