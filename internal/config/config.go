package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/honeynil/payment-ledger/internal/conversion"
	"github.com/joho/godotenv"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

type Config struct {
	HTTPAddr        string            `env:"HTTP_ADDR" envDefault:":8080"`
	StorageDriver   string            `env:"STORAGE_DRIVER" envDefault:"postgres"`
	PostgresDSN     string            `env:"POSTGRES_DSN" envDefault:"host=localhost user=postgres password=postgres dbname=ledger sslmode=disable"`
	RedisAddr       string            `env:"REDIS_ADDR"`
	KafkaBrokers    []string          `env:"KAFKA_BROKERS" envSeparator:","`
	JWTSecret       string            `env:"JWT_SECRET" envDefault:"dev-secret-key"`
	TokenTTLMinutes int               `env:"ACCESS_TOKEN_EXPIRE_MINUTES" envDefault:"60"`
	LogLevel        string            `env:"LOG_LEVEL" envDefault:"info"`
	OTLPEndpoint    string            `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName     string            `env:"SERVICE_NAME" envDefault:"payment-ledger"`
	ShutdownTimeout time.Duration     `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`
	FXRates         map[string]string `env:"FX_RATES" envSeparator:"," envKeyValSeparator:"="`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using environment and defaults", "error", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	slog.Info("config loaded",
		"http_addr", cfg.HTTPAddr,
		"storage_driver", cfg.StorageDriver,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers)
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageDriver {
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.TokenTTLMinutes <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_EXPIRE_MINUTES must be positive, got %d", c.TokenTTLMinutes)
	}
	if _, err := conversion.ParseTable(c.FXRates); err != nil {
		return fmt.Errorf("invalid FX_RATES: %w", err)
	}
	return nil
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLMinutes) * time.Minute
}

// RateTable returns the default demo rates with FX_RATES applied on top.
func (c *Config) RateTable() (conversion.Table, error) {
	overrides, err := conversion.ParseTable(c.FXRates)
	if err != nil {
		return nil, err
	}
	return conversion.Merge(conversion.DefaultTable(), overrides), nil
}
