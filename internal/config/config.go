package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the orchestrator.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Runpod   RunpodConfig
	Webhook  WebhookConfig
	Internal InternalConfig
	AWS      AWSConfig
	RateLimit RateLimitConfig
	WarmPool WarmPoolConfig
	Monitoring MonitoringConfig
	Tracing  TracingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	// CacheTTL controls how long a deployment read-through cache entry lives.
	CacheTTL time.Duration
}

// RunpodConfig holds defaults used when creating Runpod endpoints.
type RunpodConfig struct {
	GraphQLURL      string
	TemplateID      string
	DockerImage     string
	DefaultLocations string
	VolumeSizeGB    int
	MaxRetries      int
}

type WebhookConfig struct {
	TimeoutSeconds int
	MaxRetries     int
}

// InternalConfig covers the worker-callback contract (secret, base URL for
// VISGATE_WEBHOOK/VISGATE_LOG_TUNNEL env vars passed into created endpoints).
type InternalConfig struct {
	Secret                    string
	BaseURL                   string
	CleanupIdleTimeoutSeconds int
	CleanupFailureThreshold   int
}

type AWSConfig struct {
	AccessKeyID     string
	SecretAccessKey string
	EndpointURL     string
	S3ModelURL      string
}

type RateLimitConfig struct {
	RequestsPerMinutePerUser int
	RequestsPerMinutePerIP   int
	WindowSeconds            int
}

type WarmPoolConfig struct {
	AlwaysOnModels   string
	ScheduledModels  string
	ScheduleHours    string
	ScheduleTimezone string
}

type MonitoringConfig struct {
	Enabled        bool
	PrometheusPort int
	MetricsPath    string
	LogLevel       string
}

// TracingConfig controls the OpenTelemetry TracerProvider wired up at
// startup: its service identity and the fraction of traces sampled.
type TracingConfig struct {
	ServiceName string
	Environment string
	SampleRate  float64
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", "30s"),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", "30s"),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", "120s"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "visgate"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "visgate_deploy"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", "5m"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 10),
			CacheTTL: getEnvAsDuration("DEPLOYMENT_CACHE_TTL", "60s"),
		},
		Runpod: RunpodConfig{
			GraphQLURL:       getEnv("RUNPOD_GRAPHQL_URL", "https://api.runpod.io/graphql"),
			TemplateID:       getEnv("RUNPOD_TEMPLATE_ID", ""),
			DockerImage:      getEnv("DOCKER_IMAGE", "visgateai/inference:latest"),
			DefaultLocations: getEnv("RUNPOD_DEFAULT_LOCATIONS", "US"),
			VolumeSizeGB:     getEnvAsInt("RUNPOD_VOLUME_SIZE_GB", 20),
			MaxRetries:       getEnvAsInt("RUNPOD_MAX_RETRIES", 3),
		},
		Webhook: WebhookConfig{
			TimeoutSeconds: getEnvAsInt("WEBHOOK_TIMEOUT_SECONDS", 10),
			MaxRetries:     getEnvAsInt("WEBHOOK_MAX_RETRIES", 3),
		},
		Internal: InternalConfig{
			Secret:                    getEnv("INTERNAL_WEBHOOK_SECRET", ""),
			BaseURL:                   getEnv("INTERNAL_WEBHOOK_BASE_URL", ""),
			CleanupIdleTimeoutSeconds: getEnvAsInt("CLEANUP_IDLE_TIMEOUT_SECONDS", 0),
			CleanupFailureThreshold:   getEnvAsInt("CLEANUP_FAILURE_THRESHOLD", 0),
		},
		AWS: AWSConfig{
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			EndpointURL:     getEnv("AWS_ENDPOINT_URL", ""),
			S3ModelURL:      getEnv("S3_MODEL_URL", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinutePerUser: getEnvAsInt("RATE_LIMIT_PER_USER", 100),
			RequestsPerMinutePerIP:   getEnvAsInt("RATE_LIMIT_PER_IP", 200),
			WindowSeconds:            getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		},
		WarmPool: WarmPoolConfig{
			AlwaysOnModels:   getEnv("WARM_POOL_ALWAYS_ON_MODELS", ""),
			ScheduledModels:  getEnv("WARM_POOL_SCHEDULED_MODELS", ""),
			ScheduleHours:    getEnv("WARM_POOL_SCHEDULE_HOURS", ""),
			ScheduleTimezone: getEnv("WARM_POOL_SCHEDULE_TIMEZONE", "UTC"),
		},
		Monitoring: MonitoringConfig{
			Enabled:        getEnvAsBool("MONITORING_ENABLED", true),
			PrometheusPort: getEnvAsInt("PROMETHEUS_PORT", 9090),
			MetricsPath:    getEnv("METRICS_PATH", "/metrics"),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
		},
		Tracing: TracingConfig{
			ServiceName: getEnv("OTEL_SERVICE_NAME", "deploy-orchestrator"),
			Environment: getEnv("DEPLOY_ENVIRONMENT", "production"),
			SampleRate:  getEnvAsFloat("OTEL_TRACE_SAMPLE_RATE", 0.1),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	if cfg.Runpod.TemplateID == "" {
		return nil, fmt.Errorf("RUNPOD_TEMPLATE_ID is required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ := time.ParseDuration(defaultValue)
		return duration
	}
	return value
}
