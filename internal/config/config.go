package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	HTTPAddr           string        `env:"HTTP_ADDR" env-default:":8080"`
	PostgresDSN        string        `env:"POSTGRES_DSN" env-default:"host=localhost user=postgres password=postgres dbname=escrow sslmode=disable"`
	Storage            string        `env:"STORAGE" env-default:"postgres"`
	RedisAddr          string        `env:"REDIS_ADDR"`
	KafkaBrokers       []string      `env:"KAFKA_BROKERS" env-separator:","`
	KafkaOrdersTopic   string        `env:"KAFKA_ORDERS_TOPIC" env-default:"orders"`
	KafkaDepositsTopic string        `env:"KAFKA_DEPOSITS_TOPIC" env-default:"deposits"`
	KafkaGroupID       string        `env:"KAFKA_GROUP_ID" env-default:"escrow-service"`
	JWTSecret          string        `env:"JWT_SECRET" env-default:"supersecret"`
	OTLPEndpoint       string        `env:"OTLP_ENDPOINT"`
	LogLevel           string        `env:"LOG_LEVEL" env-default:"info"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"5s"`
}

// Load reads an optional .env file and then the process environment.
// An empty REDIS_ADDR or KAFKA_BROKERS turns the matching integration off.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using environment only", "error", err)
	}

	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("couldn't read environment variables: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	slog.Info("config loaded",
		"http_addr", cfg.HTTPAddr,
		"storage", cfg.Storage,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
	)
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage {
	case StoragePostgres, StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE %q, want %s or %s", c.Storage, StoragePostgres, StorageMemory)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %s", c.ShutdownTimeout)
	}
	return nil
}
