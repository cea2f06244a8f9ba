// Package config loads amper settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/layer-3/amper/core"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
	StorageSQLite = "sqlite"
)

// Event buses.
const (
	EventsNone   = "none"
	EventsMemory = "memory"
	EventsRedis  = "redis"
)

// Config holds every setting of the amper binary.
type Config struct {
	ListenAddr string `env:"AMPER_LISTEN_ADDR" envDefault:"127.0.0.1:8402"`

	Storage    string `env:"AMPER_STORAGE" envDefault:"memory"`
	RedisURL   string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	SQLitePath string `env:"AMPER_SQLITE_PATH" envDefault:"amper.db"`

	Events            string `env:"AMPER_EVENTS" envDefault:"none"`
	EventsTopicPrefix string `env:"AMPER_EVENTS_TOPIC_PREFIX" envDefault:"amper"`

	LNDURL          string `env:"AMPER_LND_URL"`
	LNDMacaroonPath string `env:"AMPER_LND_MACAROON_PATH"`
	LNDTLSCertPath  string `env:"AMPER_LND_TLS_CERT_PATH"`

	PaymentTimeout   time.Duration `env:"AMPER_PAYMENT_TIMEOUT" envDefault:"60s"`
	MaxInvoiceSats   int64         `env:"AMPER_MAX_INVOICE_SATS" envDefault:"0"`
	TokenTTL         time.Duration `env:"AMPER_TOKEN_TTL" envDefault:"0s"`
	ScopeGranularity string        `env:"AMPER_SCOPE_GRANULARITY" envDefault:"path"`

	BridgeKeyPath  string        `env:"AMPER_BRIDGE_KEY_PATH" envDefault:"amper-bridge.pem"`
	BridgeTokenTTL time.Duration `env:"AMPER_BRIDGE_TOKEN_TTL" envDefault:"720h"`

	LogLevel  string `env:"AMPER_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"AMPER_LOG_FORMAT" envDefault:"text"`
}

// Load parses the process environment and validates the result.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses vars instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Storage = strings.ToLower(strings.TrimSpace(cfg.Storage))
	cfg.Events = strings.ToLower(strings.TrimSpace(cfg.Events))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unknown backends and out of range values.
func (c Config) Validate() error {
	switch c.Storage {
	case StorageMemory, StorageRedis, StorageSQLite:
	default:
		return fmt.Errorf("unknown storage %q", c.Storage)
	}
	switch c.Events {
	case EventsNone, EventsMemory, EventsRedis:
	default:
		return fmt.Errorf("unknown event bus %q", c.Events)
	}
	if c.Storage == StorageSQLite && strings.TrimSpace(c.SQLitePath) == "" {
		return fmt.Errorf("AMPER_SQLITE_PATH is required for sqlite storage")
	}
	if (c.Storage == StorageRedis || c.Events == EventsRedis) && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required for redis")
	}
	if c.PaymentTimeout <= 0 {
		return fmt.Errorf("payment timeout must be positive")
	}
	if c.MaxInvoiceSats < 0 {
		return fmt.Errorf("max invoice sats must not be negative")
	}
	if c.TokenTTL < 0 {
		return fmt.Errorf("token ttl must not be negative")
	}
	if c.BridgeTokenTTL <= 0 {
		return fmt.Errorf("bridge token ttl must be positive")
	}
	if _, err := c.Granularity(); err != nil {
		return err
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// Granularity returns the configured scope granularity.
func (c Config) Granularity() (core.ScopeGranularity, error) {
	return core.ParseScopeGranularity(c.ScopeGranularity)
}
