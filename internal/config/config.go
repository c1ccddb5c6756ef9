// Package config provides configuration management for cadrelay using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = time.Hour
	defaultConnMaxIdleTime = 30 * time.Minute

	defaultMaxUploadSize = 100 * 1024 * 1024 // 100MiB, matches the worker's input ceiling

	defaultSubmitTimeout = 10 * time.Second
	defaultStatusTimeout = 5 * time.Second
	defaultPollInterval  = 5 * time.Second
	defaultPollStartup   = 2 * time.Second
	defaultPollAttempts  = 60

	defaultFreeTierLimit   = 5
	defaultPremiumPriority = 10

	defaultRetention = 90 * 24 * time.Hour
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Billing     BillingConfig     `mapstructure:"billing"`
	Entitlement EntitlementConfig `mapstructure:"entitlement"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds object storage and local spool configuration.
type StorageConfig struct {
	// SpoolDir is the local directory shared with the conversion worker.
	// Input files are written here and converted output is read back from it.
	SpoolDir string `mapstructure:"spool_dir"`

	// MaxUploadSize is the maximum accepted upload size.
	// Supports human-readable values like "100MB" or raw byte counts.
	MaxUploadSize ByteSize `mapstructure:"max_upload_size"`

	S3 S3Config `mapstructure:"s3"`
}

// S3Config holds S3-compatible object store configuration.
type S3Config struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"` // optional, for MinIO etc.
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	PublicURL    string `mapstructure:"public_url"` // base URL for served objects
}

// WorkerConfig holds conversion worker gateway configuration.
type WorkerConfig struct {
	// BaseURL is the address of the external conversion service.
	BaseURL string `mapstructure:"base_url"`

	SubmitTimeout time.Duration `mapstructure:"submit_timeout"`
	StatusTimeout time.Duration `mapstructure:"status_timeout"`

	// PollInterval is the delay between status polls for an in-flight job.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// PollStartupDelay is the delay before the first poll after submission.
	PollStartupDelay time.Duration `mapstructure:"poll_startup_delay"`
	// PollMaxAttempts caps the number of polls before a job is timed out.
	PollMaxAttempts int `mapstructure:"poll_max_attempts"`
}

// BillingConfig holds Stripe billing configuration.
type BillingConfig struct {
	SecretKey      string `mapstructure:"secret_key"`
	WebhookSecret  string `mapstructure:"webhook_secret"`
	PremiumPriceID string `mapstructure:"premium_price_id"`
}

// EntitlementConfig holds quota and priority configuration.
type EntitlementConfig struct {
	// FreeTierLimit is the number of conversions a free account may start
	// per calendar month.
	FreeTierLimit int `mapstructure:"free_tier_limit"`
	// PremiumPriority is the queue priority weight for premium accounts.
	PremiumPriority int `mapstructure:"premium_priority"`
}

// MaintenanceConfig holds background maintenance configuration.
type MaintenanceConfig struct {
	// RetentionCron is the cron schedule for pruning old terminal conversions.
	RetentionCron string `mapstructure:"retention_cron"`
	// Retention is how long terminal conversions are kept.
	Retention time.Duration `mapstructure:"retention"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// SetDefaults registers default values on the given Viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "cadrelay.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", defaultConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("storage.spool_dir", "/tmp/cadrelay-conversions")
	v.SetDefault("storage.max_upload_size", defaultMaxUploadSize)
	v.SetDefault("storage.s3.bucket", "cadrelay")
	v.SetDefault("storage.s3.region", "us-east-1")

	v.SetDefault("worker.base_url", "http://localhost:5000")
	v.SetDefault("worker.submit_timeout", defaultSubmitTimeout)
	v.SetDefault("worker.status_timeout", defaultStatusTimeout)
	v.SetDefault("worker.poll_interval", defaultPollInterval)
	v.SetDefault("worker.poll_startup_delay", defaultPollStartup)
	v.SetDefault("worker.poll_max_attempts", defaultPollAttempts)

	v.SetDefault("entitlement.free_tier_limit", defaultFreeTierLimit)
	v.SetDefault("entitlement.premium_priority", defaultPremiumPriority)

	v.SetDefault("maintenance.retention_cron", "0 4 * * *")
	v.SetDefault("maintenance.retention", defaultRetention)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load unmarshals the given Viper instance into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database dsn is required")
	}

	if !strings.HasPrefix(c.Worker.BaseURL, "http://") && !strings.HasPrefix(c.Worker.BaseURL, "https://") {
		return fmt.Errorf("worker base_url must be an http(s) URL: %q", c.Worker.BaseURL)
	}
	if c.Worker.PollMaxAttempts < 1 {
		return fmt.Errorf("worker poll_max_attempts must be positive: %d", c.Worker.PollMaxAttempts)
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker poll_interval must be positive: %s", c.Worker.PollInterval)
	}

	if c.Storage.MaxUploadSize <= 0 {
		return fmt.Errorf("storage max_upload_size must be positive: %d", c.Storage.MaxUploadSize)
	}

	if c.Entitlement.FreeTierLimit < 0 {
		return fmt.Errorf("entitlement free_tier_limit must not be negative: %d", c.Entitlement.FreeTierLimit)
	}

	return nil
}
