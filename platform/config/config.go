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
	"github.com/shopspring/decimal"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
	IsDevelopment() bool
}

// PricingConfig provides the order pricing policy.
type PricingConfig interface {
	GetTaxRate() decimal.Decimal
	GetShippingThreshold() decimal.Decimal
	GetShippingFee() decimal.Decimal
}

// RetellConfig provides settings for the outbound calling provider.
type RetellConfig interface {
	GetRetellAPIKey() string
	GetRetellBaseURL() string
	GetRetellAgentID() string
	GetRetellFromNumber() string
	GetRetellTimeout() time.Duration
	GetRetellMaxAttempts() int
}

// WebhookConfig provides settings for authenticating provider webhooks.
type WebhookConfig interface {
	GetRetellWebhookSecret() string
}

// CallPolicyConfig provides the call lifecycle policy knobs.
type CallPolicyConfig interface {
	GetCallExpiry() time.Duration
	GetIdempotencyTTL() time.Duration
}

// SchedulerConfig provides settings for the asynq scheduler.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// EmailConfig provides settings for email sending.
type EmailConfig interface {
	GetEmailEnabled() bool
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                 string
	HTTPAddr            string
	DatabaseURL         string
	JWTAccessSecret     string
	CORSAllowAll        bool
	CORSOrigins         []string
	CORSAllowCreds      bool
	TaxRate             decimal.Decimal
	ShippingThreshold   decimal.Decimal
	ShippingFee         decimal.Decimal
	RetellAPIKey        string
	RetellBaseURL       string
	RetellAgentID       string
	RetellFromNumber    string
	RetellTimeout       time.Duration
	RetellMaxAttempts   int
	RetellWebhookSecret string
	CallExpiry          time.Duration
	IdempotencyTTL      time.Duration
	RedisURL            string
	RedisTLSInsecure    bool
	AsynqQueueName      string
	AsynqConcurrency    int
	EmailEnabled        bool
	SMTPHost            string
	SMTPPort            int
	SMTPUsername        string
	SMTPPassword        string
	EmailFromName       string
	EmailFromAddress    string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }
func (c *Config) IsDevelopment() bool      { return strings.EqualFold(c.Env, "development") }

// PricingConfig implementation
func (c *Config) GetTaxRate() decimal.Decimal           { return c.TaxRate }
func (c *Config) GetShippingThreshold() decimal.Decimal { return c.ShippingThreshold }
func (c *Config) GetShippingFee() decimal.Decimal       { return c.ShippingFee }

// RetellConfig implementation
func (c *Config) GetRetellAPIKey() string         { return c.RetellAPIKey }
func (c *Config) GetRetellBaseURL() string        { return c.RetellBaseURL }
func (c *Config) GetRetellAgentID() string        { return c.RetellAgentID }
func (c *Config) GetRetellFromNumber() string     { return c.RetellFromNumber }
func (c *Config) GetRetellTimeout() time.Duration { return c.RetellTimeout }
func (c *Config) GetRetellMaxAttempts() int       { return c.RetellMaxAttempts }

// WebhookConfig implementation
func (c *Config) GetRetellWebhookSecret() string { return c.RetellWebhookSecret }

// CallPolicyConfig implementation
func (c *Config) GetCallExpiry() time.Duration     { return c.CallExpiry }
func (c *Config) GetIdempotencyTTL() time.Duration { return c.IdempotencyTTL }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// EmailConfig implementation
func (c *Config) GetEmailEnabled() bool       { return c.EmailEnabled }
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from the given lookup function.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	getEnv := func(key, fallback string) string {
		if val, ok := lookup(key); ok {
			return val
		}
		return fallback
	}

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:5173"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	smtpHost := getEnv("SMTP_HOST", "")
	emailEnabled := strings.EqualFold(getEnv("EMAIL_ENABLED", "false"), "true")

	cfg := &Config{
		Env:                 getEnv("APP_ENV", "development"),
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		JWTAccessSecret:     getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:        corsAllowAll,
		CORSOrigins:         corsOrigins,
		CORSAllowCreds:      strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		RetellAPIKey:        getEnv("RETELL_API_KEY", ""),
		RetellBaseURL:       getEnv("RETELL_BASE_URL", "https://api.retellai.com"),
		RetellAgentID:       getEnv("RETELL_AGENT_ID", ""),
		RetellFromNumber:    getEnv("COMPANY_PHONE_NUMBER", ""),
		RetellTimeout:       mustDuration(getEnv("RETELL_TIMEOUT", "10s")),
		RetellMaxAttempts:   mustInt(getEnv("RETELL_MAX_ATTEMPTS", "2")),
		RetellWebhookSecret: getEnv("RETELL_WEBHOOK_SECRET", ""),
		CallExpiry:          mustDuration(getEnv("CALL_EXPIRY", "30m")),
		IdempotencyTTL:      mustDuration(getEnv("IDEMPOTENCY_TTL", "24h")),
		RedisURL:            getEnv("REDIS_URL", ""),
		RedisTLSInsecure:    strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:      getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:    mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		EmailEnabled:        emailEnabled && smtpHost != "",
		SMTPHost:            smtpHost,
		SMTPPort:            mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:        getEnv("SMTP_USERNAME", ""),
		SMTPPassword:        getEnv("SMTP_PASSWORD", ""),
		EmailFromName:       getEnv("EMAIL_FROM_NAME", "CRM Store"),
		EmailFromAddress:    getEnv("EMAIL_FROM_ADDRESS", ""),
	}

	var err error
	if cfg.TaxRate, err = decimal.NewFromString(getEnv("TAX_RATE", "0.10")); err != nil {
		return nil, fmt.Errorf("TAX_RATE: %w", err)
	}
	if cfg.ShippingThreshold, err = decimal.NewFromString(getEnv("SHIPPING_THRESHOLD", "100")); err != nil {
		return nil, fmt.Errorf("SHIPPING_THRESHOLD: %w", err)
	}
	if cfg.ShippingFee, err = decimal.NewFromString(getEnv("SHIPPING_FEE", "10")); err != nil {
		return nil, fmt.Errorf("SHIPPING_FEE: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.TaxRate.IsNegative() || cfg.ShippingThreshold.IsNegative() || cfg.ShippingFee.IsNegative() {
		return nil, fmt.Errorf("TAX_RATE, SHIPPING_THRESHOLD and SHIPPING_FEE must not be negative")
	}
	if cfg.RetellTimeout <= 0 {
		return nil, fmt.Errorf("RETELL_TIMEOUT must be a positive duration")
	}
	if cfg.RetellMaxAttempts < 1 {
		cfg.RetellMaxAttempts = 1
	}
	if !cfg.IsDevelopment() && cfg.RetellWebhookSecret == "" {
		return nil, fmt.Errorf("RETELL_WEBHOOK_SECRET is required outside development")
	}
	if cfg.EmailEnabled && cfg.EmailFromAddress == "" {
		return nil, fmt.Errorf("EMAIL_FROM_ADDRESS is required when email is enabled")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}

	return cfg, nil
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
