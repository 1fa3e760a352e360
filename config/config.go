/*
config.go - Service configuration

PURPOSE:
  Collects every tunable of the server in one struct and resolves it from,
  in increasing precedence:
    1. Built-in defaults
    2. Optional YAML file (--config / STOCK_CONFIG)
    3. .env file in the working directory (godotenv, never overrides the
       real environment)
    4. Environment variables
  Command-line flags are applied last by cmd/server.

ENVIRONMENT:
  APP_ENV                   development | production
  HTTP_PORT                 listen port (8080)
  HTTP_READ_TIMEOUT         e.g. 15s
  HTTP_WRITE_TIMEOUT        e.g. 15s
  DB_DRIVER                 sqlite | memory
  DB_PATH                   SQLite file, ":memory:" allowed
  ENGINE_MAX_RETRIES        conflict retries before PersistenceFailure
  ENGINE_BASE_BACKOFF       e.g. 10ms
  ENGINE_MAX_BACKOFF        e.g. 250ms
  ENGINE_COMMIT_TIMEOUT     e.g. 5s
  LEDGER_PAGE_SIZE          transactions per store round trip
  LOGGER_LEVEL              debug | info | warn | error
  LOGGER_ENCODING           json | console
  LOGGER_DISABLE_CALLER     bool
  LOGGER_DISABLE_STACKTRACE bool
  KAFKA_BROKERS             comma separated; empty disables the listener
  KAFKA_TOPIC_ORDERS        order events topic
  KAFKA_GROUP_INVENTORY     consumer group

SEE ALSO:
  - cmd/server/main.go: Flag overrides and wiring
  - logger/logger.go: Consumes LoggerConfig
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/warp/stock-engine/inventory"
)

type Config struct {
	AppEnv   string         `yaml:"app_env"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Engine   EngineConfig   `yaml:"engine"`
	Logger   LoggerConfig   `yaml:"logger"`
	Kafka    KafkaConfig    `yaml:"kafka"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type EngineConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	BaseBackoff    time.Duration `yaml:"base_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	CommitTimeout  time.Duration `yaml:"commit_timeout"`
	LedgerPageSize int           `yaml:"ledger_page_size"`
}

type LoggerConfig struct {
	Level             string `yaml:"level"`
	Encoding          string `yaml:"encoding"`
	DisableCaller     bool   `yaml:"disable_caller"`
	DisableStacktrace bool   `yaml:"disable_stacktrace"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// Default returns the built-in configuration.
func Default() *Config {
	engine := inventory.DefaultEngineConfig()
	return &Config{
		AppEnv: "production",
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "stock.db",
		},
		Engine: EngineConfig{
			MaxRetries:     engine.MaxRetries,
			BaseBackoff:    engine.BaseBackoff,
			MaxBackoff:     engine.MaxBackoff,
			CommitTimeout:  engine.CommitTimeout,
			LedgerPageSize: inventory.DefaultPageSize,
		},
		Logger: LoggerConfig{
			Level:             "info",
			Encoding:          "json",
			DisableStacktrace: true,
		},
		Kafka: KafkaConfig{
			Topic:   "orders.events",
			GroupID: "inventory",
		},
	}
}

// Load resolves the configuration. path may be empty; a named file that does
// not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("STOCK_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	// A missing .env is normal outside development.
	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.AppEnv = getEnv("APP_ENV", c.AppEnv)

	c.Server.Port = getEnvInt("HTTP_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", c.Server.WriteTimeout)

	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.Path = getEnv("DB_PATH", c.Database.Path)

	c.Engine.MaxRetries = getEnvInt("ENGINE_MAX_RETRIES", c.Engine.MaxRetries)
	c.Engine.BaseBackoff = getEnvDuration("ENGINE_BASE_BACKOFF", c.Engine.BaseBackoff)
	c.Engine.MaxBackoff = getEnvDuration("ENGINE_MAX_BACKOFF", c.Engine.MaxBackoff)
	c.Engine.CommitTimeout = getEnvDuration("ENGINE_COMMIT_TIMEOUT", c.Engine.CommitTimeout)
	c.Engine.LedgerPageSize = getEnvInt("LEDGER_PAGE_SIZE", c.Engine.LedgerPageSize)

	c.Logger.Level = getEnv("LOGGER_LEVEL", c.Logger.Level)
	c.Logger.Encoding = getEnv("LOGGER_ENCODING", c.Logger.Encoding)
	c.Logger.DisableCaller = getEnvBool("LOGGER_DISABLE_CALLER", c.Logger.DisableCaller)
	c.Logger.DisableStacktrace = getEnvBool("LOGGER_DISABLE_STACKTRACE", c.Logger.DisableStacktrace)

	c.Kafka.Brokers = getEnvSlice("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.Topic = getEnv("KAFKA_TOPIC_ORDERS", c.Kafka.Topic)
	c.Kafka.GroupID = getEnv("KAFKA_GROUP_INVENTORY", c.Kafka.GroupID)
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for the sqlite driver"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q must be sqlite or memory", c.Database.Driver))
	}
	if c.Engine.MaxRetries < 0 {
		errs = append(errs, errors.New("engine.max_retries must not be negative"))
	}
	if c.Engine.CommitTimeout <= 0 {
		errs = append(errs, errors.New("engine.commit_timeout must be positive"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	return errors.Join(errs...)
}

// EngineConfig converts to the engine's configuration type.
func (c *Config) EngineConfig() inventory.EngineConfig {
	return inventory.EngineConfig{
		MaxRetries:    c.Engine.MaxRetries,
		BaseBackoff:   c.Engine.BaseBackoff,
		MaxBackoff:    c.Engine.MaxBackoff,
		CommitTimeout: c.Engine.CommitTimeout,
	}
}

// IsDevelopment reports whether AppEnv selects development defaults.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development" || c.AppEnv == "dev"
}

// =============================================================================
// ENV HELPERS
// =============================================================================

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
