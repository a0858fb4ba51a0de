package config

import (
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/iconidentify/tubeconv/internal/domain"
)

// Conversion strategies. One deployment uses exactly one.
const (
	StrategyRelay = "relay"
	StrategyLocal = "local"
)

// Ledger drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Storage backends.
const (
	BackendFilesystem = "fs"
	BackendS3         = "s3"
)

// Config holds all application configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level" envconfig:"LOG_LEVEL" default:"info"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	S3        S3Config        `yaml:"s3"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Converter ConverterConfig `yaml:"converter"`
	Relay     RelayConfig     `yaml:"relay"`
	Local     LocalConfig     `yaml:"local"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host           string        `yaml:"host" envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port           int           `yaml:"port" envconfig:"SERVER_PORT" default:"5000"`
	APIKey         string        `yaml:"api_key" envconfig:"API_KEY"`
	ReadTimeout    time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout   time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT" default:"15m"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"SERVER_REQUEST_TIMEOUT" default:"15m"`
}

// StorageConfig holds artifact storage configuration.
type StorageConfig struct {
	Backend  string `yaml:"backend" envconfig:"STORAGE_BACKEND" default:"fs"`
	BasePath string `yaml:"base_path" envconfig:"STORAGE_PATH" default:"./downloads"`
	TempPath string `yaml:"temp_path" envconfig:"STORAGE_TEMP_PATH" default:"./downloads/tmp"`
}

// S3Config holds S3 artifact storage configuration.
type S3Config struct {
	Bucket       string `yaml:"bucket" envconfig:"S3_BUCKET"`
	Region       string `yaml:"region" envconfig:"S3_REGION" default:"us-east-1"`
	AccessKey    string `yaml:"access_key" envconfig:"S3_KEY"`
	SecretKey    string `yaml:"secret_key" envconfig:"S3_SECRET"`
	Endpoint     string `yaml:"endpoint" envconfig:"S3_ENDPOINT"`
	UsePathStyle bool   `yaml:"use_path_style" envconfig:"S3_USE_PATH_STYLE_ENDPOINT" default:"false"`
	Prefix       string `yaml:"prefix" envconfig:"S3_PREFIX" default:"artifacts/"`
}

// LedgerConfig holds conversion ledger configuration.
type LedgerConfig struct {
	Driver string `yaml:"driver" envconfig:"LEDGER_DRIVER" default:"sqlite"`
	DSN    string `yaml:"dsn" envconfig:"LEDGER_DSN" default:"downloads.db"`
}

// ConverterConfig selects the conversion strategy.
type ConverterConfig struct {
	Strategy string        `yaml:"strategy" envconfig:"CONVERTER_STRATEGY" default:"relay"`
	Timeout  time.Duration `yaml:"timeout" envconfig:"CONVERTER_TIMEOUT" default:"10m"`
}

// RelayConfig holds external conversion API configuration.
type RelayConfig struct {
	BaseURL     string        `yaml:"base_url" envconfig:"RELAY_BASE_URL" default:"https://loader.to/api"`
	ConvertPath string        `yaml:"convert_path" envconfig:"RELAY_CONVERT_PATH" default:"/download"`
	Timeout     time.Duration `yaml:"timeout" envconfig:"RELAY_TIMEOUT" default:"60s"`
	UserAgent   string        `yaml:"user_agent" envconfig:"RELAY_USER_AGENT" default:"tubeconv/1.0"`
}

// LocalConfig holds local extraction tool configuration.
type LocalConfig struct {
	YtDlpPath   string `yaml:"ytdlp_path" envconfig:"YTDLP_PATH"`
	FFprobePath string `yaml:"ffprobe_path" envconfig:"FFPROBE_PATH"`
}

// SweeperConfig holds cleanup sweeper configuration.
type SweeperConfig struct {
	Interval  time.Duration `yaml:"interval" envconfig:"SWEEPER_INTERVAL" default:"30m"`
	Retention time.Duration `yaml:"retention" envconfig:"SWEEPER_RETENTION" default:"30m"`
}

// CacheConfig holds format menu cache configuration.
type CacheConfig struct {
	RedisAddr     string        `yaml:"redis_addr" envconfig:"REDIS_ADDR"`
	RedisPassword string        `yaml:"redis_password" envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" envconfig:"REDIS_DB" default:"0"`
	TTL           time.Duration `yaml:"ttl" envconfig:"CACHE_TTL" default:"10m"`
}

// Enabled reports whether a Redis address is configured.
func (c CacheConfig) Enabled() bool {
	return c.RedisAddr != ""
}

// RateLimitConfig holds request rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" envconfig:"RATE_LIMIT_RPS" default:"0"`
	Burst             int     `yaml:"burst" envconfig:"RATE_LIMIT_BURST" default:"10"`
}

// Enabled reports whether rate limiting is switched on.
func (c RateLimitConfig) Enabled() bool {
	return c.RequestsPerSecond > 0
}

// Load reads configuration from file and environment variables.
// Precedence is defaults, then the YAML file, then environment variables.
func Load(configPath string) (*Config, error) {
	// Defaults and environment.
	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}

		// The file replaced environment values too; put back the ones set.
		env := &Config{}
		if err := envconfig.Process("", env); err != nil {
			return nil, fmt.Errorf("process environment: %w", err)
		}
		overlaySetEnv(reflect.ValueOf(cfg).Elem(), reflect.ValueOf(env).Elem())
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// overlaySetEnv copies into dst every field of src whose envconfig
// variable is present in the environment.
func overlaySetEnv(dst, src reflect.Value) {
	t := dst.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Type.Kind() == reflect.Struct && field.Tag.Get("envconfig") == "" {
			overlaySetEnv(dst.Field(i), src.Field(i))
			continue
		}
		key := field.Tag.Get("envconfig")
		if key == "" {
			continue
		}
		if _, ok := os.LookupEnv(key); ok {
			dst.Field(i).Set(src.Field(i))
		}
	}
}

// Validate checks that configuration values are usable.
func (c *Config) Validate() error {
	switch c.Converter.Strategy {
	case StrategyRelay, StrategyLocal:
	default:
		return fmt.Errorf("CONVERTER_STRATEGY must be %q or %q, got %q", StrategyRelay, StrategyLocal, c.Converter.Strategy)
	}

	switch c.Ledger.Driver {
	case DriverSQLite, DriverPostgres:
		if c.Ledger.DSN == "" {
			return fmt.Errorf("LEDGER_DSN is required for driver %q", c.Ledger.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown LEDGER_DRIVER %q", c.Ledger.Driver)
	}

	switch c.Storage.Backend {
	case BackendFilesystem:
	case BackendS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for storage backend s3")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}

	if c.Storage.BasePath == "" {
		return fmt.Errorf("STORAGE_PATH is required")
	}
	if c.Converter.Strategy == StrategyRelay && c.Relay.BaseURL == "" {
		return fmt.Errorf("RELAY_BASE_URL is required for the relay strategy")
	}
	if c.Sweeper.Interval <= 0 {
		return fmt.Errorf("SWEEPER_INTERVAL must be positive")
	}
	if c.Sweeper.Retention <= 0 {
		return fmt.Errorf("SWEEPER_RETENTION must be positive")
	}
	if c.RateLimit.Enabled() && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}
	return nil
}

// LedgerSchema returns the ledger schema variant implied by the strategy.
func (c *Config) LedgerSchema() domain.Schema {
	if c.Converter.Strategy == StrategyLocal {
		return domain.SchemaFile
	}
	return domain.SchemaURL
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
