// Package config loads application configuration from environment variables,
// with an optional YAML file overlay for deployments that prefer files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Auth          AuthConfig          `yaml:"auth"`
	ObjectStore   ObjectStoreConfig   `yaml:"object_store"`
	Observability ObservabilityConfig `yaml:"observability"`
	Audit         AuditConfig         `yaml:"audit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Separate port for health and metrics (k8s probes)
	MetricsPort string `yaml:"metrics_port"`

	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds Redis settings for rate limiting and notification fan-out
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

// AuthConfig holds settings for the external OIDC credential verifier
type AuthConfig struct {
	IssuerURL string `yaml:"issuer_url"`
	ClientID  string `yaml:"client_id"`
}

// ObjectStoreConfig holds S3-compatible object storage settings
type ObjectStoreConfig struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// ObservabilityConfig holds logging, metrics and tracing settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	OTelEnabled     bool   `yaml:"otel_enabled"`
	OTelEndpoint    string `yaml:"otel_endpoint"`
	OTelServiceName string `yaml:"otel_service_name"`
	OTelInsecure    bool   `yaml:"otel_insecure"`
}

// AuditConfig holds audit trail settings
type AuditConfig struct {
	RetentionDays   int    `yaml:"retention_days"`
	RetentionSched  string `yaml:"retention_schedule"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// LoadConfig loads configuration from the environment. When KEYSTONE_CONFIG_FILE
// is set, the named YAML file is loaded first and environment variables override it.
func LoadConfig() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("KEYSTONE_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               "8080",
			ReadTimeout:        15 * time.Second,
			WriteTimeout:       15 * time.Second,
			IdleTimeout:        60 * time.Second,
			ShutdownTimeout:    30 * time.Second,
			MetricsPort:        "9090",
			CORSAllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Observability: ObservabilityConfig{
			LogLevel:        "info",
			MetricsEnabled:  true,
			OTelServiceName: "keystone",
		},
		Audit: AuditConfig{
			RetentionDays:   90,
			RetentionSched:  "0 3 * * *",
			RateLimitPerMin: 600,
		},
	}
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("KEYSTONE_HOST", c.Server.Host)
	c.Server.Port = getEnv("KEYSTONE_PORT", c.Server.Port)
	c.Server.MetricsPort = getEnv("KEYSTONE_METRICS_PORT", c.Server.MetricsPort)
	c.Server.ReadTimeout = getEnvDuration("KEYSTONE_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("KEYSTONE_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("KEYSTONE_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("KEYSTONE_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Database.URL = getEnv("KEYSTONE_POSTGRES_URL", c.Database.URL)
	c.Database.MaxOpenConns = getEnvInt("KEYSTONE_DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvInt("KEYSTONE_DB_MAX_IDLE_CONNS", c.Database.MaxIdleConns)

	c.Redis.Addr = getEnv("KEYSTONE_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("KEYSTONE_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("KEYSTONE_REDIS_DB", c.Redis.DB)
	c.Redis.Enabled = getEnvBool("KEYSTONE_REDIS_ENABLED", c.Redis.Enabled)

	c.Auth.IssuerURL = getEnv("KEYSTONE_OIDC_ISSUER", c.Auth.IssuerURL)
	c.Auth.ClientID = getEnv("KEYSTONE_OIDC_CLIENT_ID", c.Auth.ClientID)

	c.ObjectStore.Bucket = getEnv("KEYSTONE_S3_BUCKET", c.ObjectStore.Bucket)
	c.ObjectStore.Region = getEnv("KEYSTONE_S3_REGION", c.ObjectStore.Region)
	c.ObjectStore.Endpoint = getEnv("KEYSTONE_S3_ENDPOINT", c.ObjectStore.Endpoint)
	c.ObjectStore.AccessKeyID = getEnv("KEYSTONE_S3_ACCESS_KEY_ID", c.ObjectStore.AccessKeyID)
	c.ObjectStore.SecretAccessKey = getEnv("KEYSTONE_S3_SECRET_ACCESS_KEY", c.ObjectStore.SecretAccessKey)

	c.Observability.LogLevel = getEnv("KEYSTONE_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.MetricsEnabled = getEnvBool("KEYSTONE_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = getEnvBool("KEYSTONE_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("KEYSTONE_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
	c.Observability.OTelServiceName = getEnv("KEYSTONE_OTEL_SERVICE_NAME", c.Observability.OTelServiceName)
	c.Observability.OTelInsecure = getEnvBool("KEYSTONE_OTEL_INSECURE", c.Observability.OTelInsecure)

	c.Audit.RetentionDays = getEnvInt("KEYSTONE_AUDIT_RETENTION_DAYS", c.Audit.RetentionDays)
	c.Audit.RetentionSched = getEnv("KEYSTONE_AUDIT_RETENTION_SCHEDULE", c.Audit.RetentionSched)
	c.Audit.RateLimitPerMin = getEnvInt("KEYSTONE_API_RATE_LIMIT_PER_MIN", c.Audit.RateLimitPerMin)
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port must not be empty")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("KEYSTONE_POSTGRES_URL is required")
	}
	if c.Audit.RetentionDays < 0 {
		return fmt.Errorf("audit retention days must not be negative")
	}
	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		return fmt.Errorf("KEYSTONE_OTEL_ENDPOINT is required when tracing is enabled")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
