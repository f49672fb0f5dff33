// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/doorstep-crm/doorstep/pkg/observability"
	"github.com/doorstep-crm/doorstep/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       storage.Config
	Auth          AuthConfig
	Dialer        DialerConfig
	Observability ObservabilityConfig

	// Path to the YAML feature catalog; watched for changes at runtime
	CatalogPath string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	CORSAllowedOrigins []string
}

// AuthConfig holds session and OIDC settings
type AuthConfig struct {
	SessionTTL time.Duration

	OIDCEnabled      bool
	OIDCIssuerURL    string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCRedirectURL  string
}

// DialerConfig holds campaign dialer settings
type DialerConfig struct {
	Enabled          bool
	TickSchedule     string // cron expression for the dispatch tick
	MaxConcurrent    int    // per-process dial workers
	OrgConcurrency   int    // per-org simultaneous calls (redis-enforced)
	SimulatedLatency time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Auth:          loadAuthConfig(),
		Dialer:        loadDialerConfig(),
		Observability: loadObservabilityConfig(),
		CatalogPath:   getEnv("DOORSTEP_CATALOG_PATH", "config/features.yaml"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	origins := strings.Split(getEnv("DOORSTEP_CORS_ORIGINS", "*"), ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}

	return ServerConfig{
		Host:               getEnv("DOORSTEP_HOST", "0.0.0.0"),
		Port:               getEnv("DOORSTEP_PORT", "8080"),
		ReadTimeout:        getEnvDuration("DOORSTEP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:       getEnvDuration("DOORSTEP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:        getEnvDuration("DOORSTEP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:    getEnvDuration("DOORSTEP_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:         getEnv("DOORSTEP_HEALTH_PORT", "9090"),
		CORSAllowedOrigins: origins,
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if pgURL := getEnv("DOORSTEP_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if maxConns := getEnvInt("DOORSTEP_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("DOORSTEP_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("DOORSTEP_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	if redisURL := getEnv("DOORSTEP_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("DOORSTEP_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("DOORSTEP_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisPoolSize := getEnvInt("DOORSTEP_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	if backend := getEnv("DOORSTEP_RECORDINGS_BACKEND", ""); backend != "" {
		cfg.RecordingsBackend = backend
	}
	if fsRoot := getEnv("DOORSTEP_RECORDINGS_ROOT", ""); fsRoot != "" {
		cfg.FilesystemRoot = fsRoot
	}

	if s3Endpoint := getEnv("DOORSTEP_S3_ENDPOINT", ""); s3Endpoint != "" {
		cfg.S3Endpoint = s3Endpoint
	}
	if s3Region := getEnv("DOORSTEP_S3_REGION", ""); s3Region != "" {
		cfg.S3Region = s3Region
	}
	if s3Bucket := getEnv("DOORSTEP_S3_BUCKET", ""); s3Bucket != "" {
		cfg.S3Bucket = s3Bucket
	}
	if s3AccessKey := getEnv("DOORSTEP_S3_ACCESS_KEY", ""); s3AccessKey != "" {
		cfg.S3AccessKey = s3AccessKey
	}
	if s3SecretKey := getEnv("DOORSTEP_S3_SECRET_KEY", ""); s3SecretKey != "" {
		cfg.S3SecretKey = s3SecretKey
	}
	if s3UsePathStyle := getEnv("DOORSTEP_S3_USE_PATH_STYLE", ""); s3UsePathStyle != "" {
		cfg.S3UsePathStyle = strings.ToLower(s3UsePathStyle) == "true"
	}

	return cfg
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		SessionTTL:       getEnvDuration("DOORSTEP_SESSION_TTL", 24*time.Hour),
		OIDCEnabled:      getEnvBool("DOORSTEP_OIDC_ENABLED", false),
		OIDCIssuerURL:    getEnv("DOORSTEP_OIDC_ISSUER_URL", ""),
		OIDCClientID:     getEnv("DOORSTEP_OIDC_CLIENT_ID", ""),
		OIDCClientSecret: getEnv("DOORSTEP_OIDC_CLIENT_SECRET", ""),
		OIDCRedirectURL:  getEnv("DOORSTEP_OIDC_REDIRECT_URL", ""),
	}
}

func loadDialerConfig() DialerConfig {
	return DialerConfig{
		Enabled:          getEnvBool("DOORSTEP_DIALER_ENABLED", true),
		TickSchedule:     getEnv("DOORSTEP_DIALER_SCHEDULE", "@every 1m"),
		MaxConcurrent:    getEnvInt("DOORSTEP_DIALER_MAX_CONCURRENT", 8),
		OrgConcurrency:   getEnvInt("DOORSTEP_DIALER_ORG_CONCURRENCY", 3),
		SimulatedLatency: getEnvDuration("DOORSTEP_DIALER_SIMULATED_LATENCY", 150*time.Millisecond),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("DOORSTEP_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("DOORSTEP_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("DOORSTEP_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("DOORSTEP_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("DOORSTEP_OTEL_SERVICE_NAME", "doorstep"),
		OTelServiceVersion: getEnv("DOORSTEP_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("DOORSTEP_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	switch c.Storage.RecordingsBackend {
	case "filesystem":
		if c.Storage.FilesystemRoot == "" {
			return fmt.Errorf("recordings root is required for filesystem backend")
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 backend")
		}
	default:
		return fmt.Errorf("invalid recordings backend: %s (must be filesystem or s3)", c.Storage.RecordingsBackend)
	}

	if c.Auth.OIDCEnabled {
		if c.Auth.OIDCIssuerURL == "" || c.Auth.OIDCClientID == "" {
			return fmt.Errorf("OIDC issuer URL and client ID are required when OIDC is enabled")
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
