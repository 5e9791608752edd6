// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// GatewayConfig provides settings for the external media gateway.
type GatewayConfig interface {
	GetGatewayURL() string
	GetGatewayAPIKey() string
	GetGatewayRatePerSecond() float64
	GetGatewayBurst() int
	IsGatewayEnabled() bool
}

// DeliveryConfig provides settings for outbound media delivery retries.
type DeliveryConfig interface {
	GetSendRetryBaseDelay() time.Duration
}

// PipelineConfig provides settings for the hybrid recovery pipeline.
type PipelineConfig interface {
	GetFunctionsBaseURL() string
	GetFunctionsAPIKey() string
	GetStageDelay() time.Duration
	GetPipelineRunInterval() time.Duration
	IsPipelineEnabled() bool
}

// MonitorConfig provides settings for the emergency batch monitor.
type MonitorConfig interface {
	GetMonitorInterval() time.Duration
	GetBatchStalenessThreshold() time.Duration
	GetMonitorSettleDelay() time.Duration
}

// ReconcilerConfig provides settings for the ticket change reconciler.
type ReconcilerConfig interface {
	GetReconcilerSettleDelay() time.Duration
}

// SchedulerConfig provides settings for the background job scheduler.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// BrokerConfig provides settings for the outbound event broker.
type BrokerConfig interface {
	GetBrokerURL() string
	GetBrokerExchange() string
	IsBrokerEnabled() bool
}

// TenantConfig identifies the workspace this deployment serves.
type TenantConfig interface {
	GetDefaultTenantID() string
}

// MediaStoreConfig provides settings for MinIO S3-compatible media storage.
type MediaStoreConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinIOMaxFileSize() int64
	GetMinioBucketMedia() string
	IsMinIOEnabled() bool
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                     string
	HTTPAddr                string
	DatabaseURL             string
	CORSAllowAll            bool
	CORSOrigins             []string
	CORSAllowCreds          bool
	GatewayURL              string
	GatewayAPIKey           string
	GatewayRatePerSecond    float64
	GatewayBurst            int
	SendRetryBaseDelay      time.Duration
	FunctionsBaseURL        string
	FunctionsAPIKey         string
	StageDelay              time.Duration
	PipelineRunInterval     time.Duration
	MonitorInterval         time.Duration
	BatchStalenessThreshold time.Duration
	MonitorSettleDelay      time.Duration
	ReconcilerSettleDelay   time.Duration
	RedisURL                string
	RedisTLSInsecure        bool
	AsynqQueueName          string
	AsynqConcurrency        int
	BrokerURL               string
	BrokerExchange          string
	MinIOEndpoint           string
	MinIOAccessKey          string
	MinIOSecretKey          string
	MinIOUseSSL             bool
	MinIOMaxFileSize        int64
	MinioBucketMedia        string
	DefaultTenantID         string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// GatewayConfig implementation
func (c *Config) GetGatewayURL() string           { return c.GatewayURL }
func (c *Config) GetGatewayAPIKey() string        { return c.GatewayAPIKey }
func (c *Config) GetGatewayRatePerSecond() float64 { return c.GatewayRatePerSecond }
func (c *Config) GetGatewayBurst() int            { return c.GatewayBurst }
func (c *Config) IsGatewayEnabled() bool          { return c.GatewayURL != "" }

// DeliveryConfig implementation
func (c *Config) GetSendRetryBaseDelay() time.Duration { return c.SendRetryBaseDelay }

// PipelineConfig implementation
func (c *Config) GetFunctionsBaseURL() string  { return c.FunctionsBaseURL }
func (c *Config) GetFunctionsAPIKey() string   { return c.FunctionsAPIKey }
func (c *Config) GetStageDelay() time.Duration         { return c.StageDelay }
func (c *Config) GetPipelineRunInterval() time.Duration { return c.PipelineRunInterval }
func (c *Config) IsPipelineEnabled() bool              { return c.FunctionsBaseURL != "" }

// MonitorConfig implementation
func (c *Config) GetMonitorInterval() time.Duration         { return c.MonitorInterval }
func (c *Config) GetBatchStalenessThreshold() time.Duration { return c.BatchStalenessThreshold }
func (c *Config) GetMonitorSettleDelay() time.Duration      { return c.MonitorSettleDelay }

// ReconcilerConfig implementation
func (c *Config) GetReconcilerSettleDelay() time.Duration { return c.ReconcilerSettleDelay }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string      { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// BrokerConfig implementation
func (c *Config) GetBrokerURL() string      { return c.BrokerURL }
func (c *Config) GetBrokerExchange() string { return c.BrokerExchange }
func (c *Config) IsBrokerEnabled() bool     { return c.BrokerURL != "" }

// TenantConfig implementation
func (c *Config) GetDefaultTenantID() string { return c.DefaultTenantID }

// MediaStoreConfig implementation
func (c *Config) GetMinIOEndpoint() string   { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string  { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string  { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool       { return c.MinIOUseSSL }
func (c *Config) GetMinIOMaxFileSize() int64 { return c.MinIOMaxFileSize }
func (c *Config) GetMinioBucketMedia() string { return c.MinioBucketMedia }
func (c *Config) IsMinIOEnabled() bool       { return c.MinIOEndpoint != "" }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:5173"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                     getEnv("APP_ENV", "development"),
		HTTPAddr:                getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		CORSAllowAll:            corsAllowAll,
		CORSOrigins:             corsOrigins,
		CORSAllowCreds:          strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		GatewayURL:              getEnv("GATEWAY_URL", ""),
		GatewayAPIKey:           getEnv("GATEWAY_API_KEY", ""),
		GatewayRatePerSecond:    mustFloat64(getEnv("GATEWAY_RATE_PER_SECOND", "5")),
		GatewayBurst:            int(mustInt64(getEnv("GATEWAY_BURST", "10"))),
		SendRetryBaseDelay:      mustDuration(getEnv("SEND_RETRY_BASE_DELAY", "1s")),
		FunctionsBaseURL:        getEnv("FUNCTIONS_BASE_URL", ""),
		FunctionsAPIKey:         getEnv("FUNCTIONS_API_KEY", ""),
		StageDelay:              mustDuration(getEnv("PIPELINE_STAGE_DELAY", "5s")),
		PipelineRunInterval:     mustDuration(getEnv("PIPELINE_RUN_INTERVAL", "5m")),
		MonitorInterval:         mustDuration(getEnv("BATCH_MONITOR_INTERVAL", "30s")),
		BatchStalenessThreshold: mustDuration(getEnv("BATCH_STALENESS_THRESHOLD", "5m")),
		MonitorSettleDelay:      mustDuration(getEnv("BATCH_MONITOR_SETTLE_DELAY", "3s")),
		ReconcilerSettleDelay:   mustDuration(getEnv("TICKET_SETTLE_DELAY", "500ms")),
		RedisURL:                getEnv("REDIS_URL", ""),
		RedisTLSInsecure:        strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:          getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:        int(mustInt64(getEnv("ASYNQ_CONCURRENCY", "10"))),
		BrokerURL:               getEnv("BROKER_URL", ""),
		BrokerExchange:          getEnv("BROKER_EXCHANGE", "chathub.events"),
		MinIOEndpoint:           getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:          getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:          getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:             strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinIOMaxFileSize:        mustInt64(getEnv("MINIO_MAX_FILE_SIZE", "104857600")),
		MinioBucketMedia:        getEnv("MINIO_BUCKET_MEDIA", "chat-media"),
		DefaultTenantID:         getEnv("DEFAULT_TENANT_ID", ""),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt64(value string) int64 {
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return result
}

func mustFloat64(value string) float64 {
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
