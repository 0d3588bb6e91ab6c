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
	GetAdminAPIKey() string
}

// SchedulerConfig provides settings for the asynq queue and the periodic jobs.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetReengagementCron() string
}

// LockConfig controls the optional per-session processing lock.
type LockConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	IsSessionLockEnabled() bool
	GetSessionLockTTL() time.Duration
}

// TelegramConfig provides Telegram Bot API settings.
type TelegramConfig interface {
	GetTelegramBotToken() string
	GetTelegramAPIURL() string
	GetTelegramWebhookSecret() string
}

// WhatsAppConfig provides WhatsApp Cloud API settings.
type WhatsAppConfig interface {
	GetWhatsAppAPIURL() string
	GetWhatsAppToken() string
	GetWhatsAppPhoneNumberID() string
	GetWhatsAppVerifyToken() string
}

// PaymentConfig provides payment provider settings.
type PaymentConfig interface {
	GetPaymentAPIURL() string
	GetPaymentAPIKey() string
	GetPaymentPayerDomain() string
}

// GeminiConfig provides reply generation settings.
type GeminiConfig interface {
	GetGeminiAPIKey() string
	GetGeminiModel() string
	GetGeminiRetryBaseDelay() time.Duration
	GetGeminiHistoryLimit() int
}

// MinIOConfig provides settings for MinIO S3-compatible storage.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinIOMaxFileSize() int64
	GetMinioBucketInboundMedia() string
	GetMinioBucketPaymentCodes() string
	IsMinIOEnabled() bool
}

// CatalogConfig points at an optional override for the built-in media catalog.
type CatalogConfig interface {
	GetMediaCatalogPath() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env            string
	HTTPAddr       string
	DatabaseURL    string
	CORSAllowAll   bool
	CORSOrigins    []string
	CORSAllowCreds bool
	AdminAPIKey    string

	RedisURL          string
	RedisTLSInsecure  bool
	AsynqQueueName    string
	AsynqConcurrency  int
	ReengagementCron  string
	SessionLockEnable bool
	SessionLockTTL    time.Duration

	TelegramBotToken      string
	TelegramAPIURL        string
	TelegramWebhookSecret string

	WhatsAppAPIURL        string
	WhatsAppToken         string
	WhatsAppPhoneNumberID string
	WhatsAppVerifyToken   string

	PaymentAPIURL      string
	PaymentAPIKey      string
	PaymentPayerDomain string

	GeminiAPIKey         string
	GeminiModel          string
	GeminiRetryBaseDelay time.Duration
	GeminiHistoryLimit   int

	MinIOEndpoint           string
	MinIOAccessKey          string
	MinIOSecretKey          string
	MinIOUseSSL             bool
	MinIOMaxFileSize        int64
	MinioBucketInboundMedia string
	MinioBucketPaymentCodes string

	MediaCatalogPath string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// HTTPConfig
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }
func (c *Config) GetAdminAPIKey() string   { return c.AdminAPIKey }

// SchedulerConfig
func (c *Config) GetRedisURL() string         { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool   { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string   { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int    { return c.AsynqConcurrency }
func (c *Config) GetReengagementCron() string { return c.ReengagementCron }

// LockConfig
func (c *Config) IsSessionLockEnabled() bool       { return c.SessionLockEnable && c.RedisURL != "" }
func (c *Config) GetSessionLockTTL() time.Duration { return c.SessionLockTTL }

// TelegramConfig
func (c *Config) GetTelegramBotToken() string      { return c.TelegramBotToken }
func (c *Config) GetTelegramAPIURL() string        { return c.TelegramAPIURL }
func (c *Config) GetTelegramWebhookSecret() string { return c.TelegramWebhookSecret }

// WhatsAppConfig
func (c *Config) GetWhatsAppAPIURL() string        { return c.WhatsAppAPIURL }
func (c *Config) GetWhatsAppToken() string         { return c.WhatsAppToken }
func (c *Config) GetWhatsAppPhoneNumberID() string { return c.WhatsAppPhoneNumberID }
func (c *Config) GetWhatsAppVerifyToken() string   { return c.WhatsAppVerifyToken }

// PaymentConfig
func (c *Config) GetPaymentAPIURL() string      { return c.PaymentAPIURL }
func (c *Config) GetPaymentAPIKey() string      { return c.PaymentAPIKey }
func (c *Config) GetPaymentPayerDomain() string { return c.PaymentPayerDomain }

// GeminiConfig
func (c *Config) GetGeminiAPIKey() string                { return c.GeminiAPIKey }
func (c *Config) GetGeminiModel() string                 { return c.GeminiModel }
func (c *Config) GetGeminiRetryBaseDelay() time.Duration { return c.GeminiRetryBaseDelay }
func (c *Config) GetGeminiHistoryLimit() int             { return c.GeminiHistoryLimit }

// MinIOConfig
func (c *Config) GetMinIOEndpoint() string           { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string          { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string          { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool               { return c.MinIOUseSSL }
func (c *Config) GetMinIOMaxFileSize() int64         { return c.MinIOMaxFileSize }
func (c *Config) GetMinioBucketInboundMedia() string { return c.MinioBucketInboundMedia }
func (c *Config) GetMinioBucketPaymentCodes() string { return c.MinioBucketPaymentCodes }
func (c *Config) IsMinIOEnabled() bool               { return c.MinIOEndpoint != "" }

// CatalogConfig
func (c *Config) GetMediaCatalogPath() string { return c.MediaCatalogPath }

// Load reads configuration from the environment, optionally seeded by a .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:3000"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:            getEnv("APP_ENV", "development"),
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		CORSAllowAll:   corsAllowAll,
		CORSOrigins:    corsOrigins,
		CORSAllowCreds: strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "false"), "true"),
		AdminAPIKey:    getEnv("ADMIN_API_KEY", ""),

		RedisURL:          getEnv("REDIS_URL", ""),
		RedisTLSInsecure:  strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:    getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:  mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		ReengagementCron:  getEnv("REENGAGEMENT_CRON", "@every 1m"),
		SessionLockEnable: strings.EqualFold(getEnv("SESSION_LOCK_ENABLED", "false"), "true"),
		SessionLockTTL:    mustDuration(getEnv("SESSION_LOCK_TTL", "2m")),

		TelegramBotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramAPIURL:        getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
		TelegramWebhookSecret: getEnv("TELEGRAM_WEBHOOK_SECRET", ""),

		WhatsAppAPIURL:        getEnv("WHATSAPP_API_URL", "https://graph.facebook.com/v19.0"),
		WhatsAppToken:         getEnv("WHATSAPP_TOKEN", ""),
		WhatsAppPhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
		WhatsAppVerifyToken:   getEnv("WHATSAPP_VERIFY_TOKEN", ""),

		PaymentAPIURL:      getEnv("PAYMENT_API_URL", "https://api-v2.wiinpay.com.br"),
		PaymentAPIKey:      getEnv("PAYMENT_API_KEY", ""),
		PaymentPayerDomain: getEnv("PAYMENT_PAYER_DOMAIN", "telegram.com"),

		GeminiAPIKey:         getEnv("GEMINI_API_KEY", ""),
		GeminiModel:          getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiRetryBaseDelay: mustDuration(getEnv("GEMINI_RETRY_BASE_DELAY", "2s")),
		GeminiHistoryLimit:   mustInt(getEnv("GEMINI_HISTORY_LIMIT", "40")),

		MinIOEndpoint:           getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:          getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:          getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:             strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinIOMaxFileSize:        mustInt64(getEnv("MINIO_MAX_FILE_SIZE", "52428800")),
		MinioBucketInboundMedia: getEnv("MINIO_BUCKET_INBOUND_MEDIA", "inbound-media"),
		MinioBucketPaymentCodes: getEnv("MINIO_BUCKET_PAYMENT_CODES", "payment-codes"),

		MediaCatalogPath: getEnv("MEDIA_CATALOG_PATH", ""),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if cfg.TelegramBotToken == "" && cfg.WhatsAppToken == "" {
		return nil, fmt.Errorf("at least one of TELEGRAM_BOT_TOKEN or WHATSAPP_TOKEN is required")
	}
	if cfg.GeminiRetryBaseDelay <= 0 {
		cfg.GeminiRetryBaseDelay = 2 * time.Second
	}
	if cfg.SessionLockTTL <= 0 {
		cfg.SessionLockTTL = 2 * time.Minute
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

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustInt64(value string) int64 {
	result, err := strconv.ParseInt(value, 10, 64)
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
