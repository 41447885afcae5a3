package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Driver names accepted by the store, cache and channel settings.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverAMQP     = "amqp"
)

// Config holds all configuration for the application
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	AMQP         AMQPConfig         `yaml:"amqp"`
	Cache        CacheConfig        `yaml:"cache"`
	Delivery     DeliveryConfig     `yaml:"delivery"`
	Reconciler   ReconcilerConfig   `yaml:"reconciler"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	OpenAI       OpenAIConfig       `yaml:"openai"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" env:"PORT"`
	Host            string        `yaml:"host" env:"SERVER_HOST"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins" env:"CORS_ORIGINS"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DatabaseConfig selects the segment, campaign and log store.
type DatabaseConfig struct {
	Driver       string `yaml:"driver" env:"STORE_DRIVER"`
	URL          string `yaml:"url" env:"DATABASE_URL"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`

	// CustomersFile seeds the memory customer store from a JSON array.
	CustomersFile string `yaml:"customers_file" env:"CUSTOMERS_FILE"`
}

// RedisConfig holds the Redis connection used by the cache and the
// scheduler lock.
type RedisConfig struct {
	URL string `yaml:"url" env:"REDIS_URL"`
}

// AMQPConfig holds the broker connection of the amqp channel driver.
type AMQPConfig struct {
	URL      string `yaml:"url" env:"AMQP_URL"`
	Prefetch int    `yaml:"prefetch"`
}

// CacheConfig holds segment membership cache settings.
type CacheConfig struct {
	Driver string        `yaml:"driver" env:"CACHE_DRIVER"`
	TTL    time.Duration `yaml:"ttl"`
}

// DeliveryConfig holds the delivery channel and simulated vendor settings.
type DeliveryConfig struct {
	Channel      string        `yaml:"channel" env:"CHANNEL_DRIVER"`
	Partitions   int           `yaml:"partitions"`
	Buffer       int           `yaml:"buffer"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	SuccessRate   float64       `yaml:"success_rate" env:"DELIVERY_SUCCESS_RATE"`
	MinDelay      time.Duration `yaml:"min_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	ReceiptMode   string        `yaml:"receipt_mode"`
	DeliveredRate float64       `yaml:"delivered_rate"`
	OpenRate      float64       `yaml:"open_rate"`
	ClickRate     float64       `yaml:"click_rate"`
}

// ReconcilerConfig holds receipt batching settings.
type ReconcilerConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// OrchestratorConfig holds campaign fan-out settings.
type OrchestratorConfig struct {
	Concurrency int `yaml:"concurrency"`
	BatchSize   int `yaml:"batch_size"`
}

// SchedulerConfig holds the scheduled campaign poller settings.
type SchedulerConfig struct {
	Disabled     bool          `yaml:"disabled" env:"SCHEDULER_DISABLED"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Batch        int           `yaml:"batch"`
	LockTTL      time.Duration `yaml:"lock_ttl"`
}

// OpenAIConfig holds OpenAI API configuration for the copilot
type OpenAIConfig struct {
	APIKey     string        `yaml:"api_key" env:"OPENAI_API_KEY"`
	BaseURL    string        `yaml:"base_url" env:"OPENAI_BASE_URL"`
	Model      string        `yaml:"model" env:"OPENAI_MODEL"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// Enabled reports whether an API key is configured.
func (c OpenAIConfig) Enabled() bool { return c.APIKey != "" }

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level     string `yaml:"level" env:"LOG_LEVEL"`
	RedactPII bool   `yaml:"redact_pii" env:"LOG_REDACT_PII"`
}

// Load reads and parses the configuration file. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"*"}
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverMemory
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.AMQP.Prefetch == 0 {
		cfg.AMQP.Prefetch = 50
	}
	if cfg.Cache.Driver == "" {
		cfg.Cache.Driver = DriverMemory
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 5 * time.Minute
	}
	if cfg.Delivery.Channel == "" {
		cfg.Delivery.Channel = DriverMemory
	}
	if cfg.Delivery.SuccessRate == 0 {
		cfg.Delivery.SuccessRate = 0.9
	}
	if cfg.Delivery.MinDelay == 0 {
		cfg.Delivery.MinDelay = 100 * time.Millisecond
	}
	if cfg.Delivery.MaxDelay == 0 {
		cfg.Delivery.MaxDelay = 2 * time.Second
	}
	if cfg.Delivery.ReceiptMode == "" {
		cfg.Delivery.ReceiptMode = "receipts"
	}
	if cfg.Reconciler.BatchSize == 0 {
		cfg.Reconciler.BatchSize = 100
	}
	if cfg.Reconciler.FlushInterval == 0 {
		cfg.Reconciler.FlushInterval = 250 * time.Millisecond
	}
	if cfg.Orchestrator.Concurrency == 0 {
		cfg.Orchestrator.Concurrency = 16
	}
	if cfg.Orchestrator.BatchSize == 0 {
		cfg.Orchestrator.BatchSize = 500
	}
	if cfg.Scheduler.PollInterval == 0 {
		cfg.Scheduler.PollInterval = 30 * time.Second
	}
	if cfg.Scheduler.Batch == 0 {
		cfg.Scheduler.Batch = 50
	}
	if cfg.Scheduler.LockTTL == 0 {
		cfg.Scheduler.LockTTL = 2 * time.Minute
	}
	if cfg.OpenAI.BaseURL == "" {
		cfg.OpenAI.BaseURL = "https://api.openai.com"
	}
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = "gpt-4o-mini"
	}
	if cfg.OpenAI.Timeout == 0 {
		cfg.OpenAI.Timeout = 30 * time.Second
	}
	if cfg.OpenAI.MaxRetries == 0 {
		cfg.OpenAI.MaxRetries = 3
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges and that every selected driver has what it
// needs to connect.
func (cfg *Config) Validate() error {
	d := cfg.Delivery
	switch {
	case cfg.Server.Port <= 0 || cfg.Server.Port > 65535:
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	case d.SuccessRate < 0 || d.SuccessRate > 1:
		return fmt.Errorf("delivery.success_rate %v must be within [0,1]", d.SuccessRate)
	case d.DeliveredRate < 0 || d.DeliveredRate > 1,
		d.OpenRate < 0 || d.OpenRate > 1,
		d.ClickRate < 0 || d.ClickRate > 1:
		return fmt.Errorf("delivery receipt rates must be within [0,1]")
	case d.MinDelay < 0 || d.MinDelay > d.MaxDelay:
		return fmt.Errorf("delivery.min_delay %v must not exceed max_delay %v", d.MinDelay, d.MaxDelay)
	case d.ReceiptMode != "receipts" && d.ReceiptMode != "direct":
		return fmt.Errorf("delivery.receipt_mode %q must be receipts or direct", d.ReceiptMode)
	}

	if err := oneOf("database.driver", cfg.Database.Driver, DriverMemory, DriverPostgres); err != nil {
		return err
	}
	if err := oneOf("cache.driver", cfg.Cache.Driver, DriverMemory, DriverRedis); err != nil {
		return err
	}
	if err := oneOf("delivery.channel", d.Channel, DriverMemory, DriverAMQP); err != nil {
		return err
	}
	if cfg.Database.Driver == DriverPostgres && cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required for the postgres driver")
	}
	if cfg.Cache.Driver == DriverRedis && cfg.Redis.URL == "" {
		return fmt.Errorf("redis.url is required for the redis cache")
	}
	if d.Channel == DriverAMQP && cfg.AMQP.URL == "" {
		return fmt.Errorf("amqp.url is required for the amqp channel")
	}
	return nil
}

func oneOf(name, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("%s %q must be one of %v", name, v, allowed)
}
