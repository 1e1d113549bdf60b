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
	GetPublicBaseURL() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
}

// TelephonyConfig provides settings for the telephony provider boundary.
type TelephonyConfig interface {
	GetTwilioAccountSID() string
	GetTwilioAuthToken() string
	GetOutboundNumber() string
	GetPublicBaseURL() string
	GetSignatureMode() string
	GetCallTimeout() time.Duration
}

// LLMConfig provides settings for the LLM completion boundary.
type LLMConfig interface {
	GetOpenAIAPIKey() string
	GetLLMModel() string
	GetLLMTimeout() time.Duration
}

// DialerConfig provides settings for the outbound call scheduler.
type DialerConfig interface {
	GetTickInterval() time.Duration
	GetMaxConcurrentCalls() int
	GetDialerBatchSize() int
	GetPrefetchFactor() int
	GetInitiationsPerSecond() float64
	GetRequeueStaleAfter() time.Duration
}

// SchedulerConfig provides settings for the asynq task queue.
type SchedulerConfig interface {
	GetRedisURL() string
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// TranscriptConfig provides settings for the live transcript cache.
type TranscriptConfig interface {
	GetRedisURL() string
	GetTranscriptTTL() time.Duration
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                  string
	HTTPAddr             string
	PublicBaseURL        string
	DatabaseURL          string
	RedisURL             string
	CORSAllowAll         bool
	CORSOrigins          []string
	TwilioAccountSID     string
	TwilioAuthToken      string
	OutboundNumber       string
	SignatureMode        string
	CallTimeout          time.Duration
	OpenAIAPIKey         string
	LLMModel             string
	LLMTimeout           time.Duration
	TickInterval         time.Duration
	MaxConcurrentCalls   int
	DialerBatchSize      int
	PrefetchFactor       int
	InitiationsPerSecond float64
	RequeueStaleAfter    time.Duration
	AsynqQueueName       string
	AsynqConcurrency     int
	TranscriptTTL        time.Duration
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetPublicBaseURL() string { return c.PublicBaseURL }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }

// TelephonyConfig implementation
func (c *Config) GetTwilioAccountSID() string   { return c.TwilioAccountSID }
func (c *Config) GetTwilioAuthToken() string    { return c.TwilioAuthToken }
func (c *Config) GetOutboundNumber() string     { return c.OutboundNumber }
func (c *Config) GetSignatureMode() string      { return c.SignatureMode }
func (c *Config) GetCallTimeout() time.Duration { return c.CallTimeout }

// LLMConfig implementation
func (c *Config) GetOpenAIAPIKey() string      { return c.OpenAIAPIKey }
func (c *Config) GetLLMModel() string          { return c.LLMModel }
func (c *Config) GetLLMTimeout() time.Duration { return c.LLMTimeout }

// DialerConfig implementation
func (c *Config) GetTickInterval() time.Duration      { return c.TickInterval }
func (c *Config) GetMaxConcurrentCalls() int          { return c.MaxConcurrentCalls }
func (c *Config) GetDialerBatchSize() int             { return c.DialerBatchSize }
func (c *Config) GetPrefetchFactor() int              { return c.PrefetchFactor }
func (c *Config) GetInitiationsPerSecond() float64    { return c.InitiationsPerSecond }
func (c *Config) GetRequeueStaleAfter() time.Duration { return c.RequeueStaleAfter }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// TranscriptConfig implementation
func (c *Config) GetTranscriptTTL() time.Duration { return c.TranscriptTTL }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:                  getEnv("APP_ENV", "development"),
		HTTPAddr:             getEnv("HTTP_ADDR", ":8080"),
		PublicBaseURL:        strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		RedisURL:             getEnv("REDIS_URL", "redis://localhost:6379/0"),
		CORSAllowAll:         strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true"),
		CORSOrigins:          splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200")),
		TwilioAccountSID:     getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:      getEnv("TWILIO_AUTH_TOKEN", ""),
		OutboundNumber:       getEnv("TWILIO_FROM_NUMBER", ""),
		SignatureMode:        getEnv("TELEPHONY_SIGNATURE_MODE", "warn"),
		CallTimeout:          mustDuration(getEnv("TELEPHONY_CALL_TIMEOUT", "45s")),
		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		LLMModel:             getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMTimeout:           mustDuration(getEnv("LLM_TIMEOUT", "12s")),
		TickInterval:         mustDuration(getEnv("DIALER_TICK_INTERVAL", "60s")),
		MaxConcurrentCalls:   mustInt(getEnv("DIALER_MAX_CONCURRENT_CALLS", "10")),
		DialerBatchSize:      mustInt(getEnv("DIALER_BATCH_SIZE", "50")),
		PrefetchFactor:       mustInt(getEnv("DIALER_PREFETCH_FACTOR", "3")),
		InitiationsPerSecond: mustFloat(getEnv("DIALER_INITIATIONS_PER_SECOND", "1")),
		RequeueStaleAfter:    mustDuration(getEnv("DIALER_REQUEUE_STALE_AFTER", "15m")),
		AsynqQueueName:       getEnv("ASYNQ_QUEUE", "voice"),
		AsynqConcurrency:     mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		TranscriptTTL:        mustDuration(getEnv("TRANSCRIPT_TTL", "1h")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SignatureMode != "warn" && cfg.SignatureMode != "reject" {
		return nil, fmt.Errorf("TELEPHONY_SIGNATURE_MODE must be warn or reject, got %q", cfg.SignatureMode)
	}
	if cfg.MaxConcurrentCalls < 1 {
		return nil, fmt.Errorf("DIALER_MAX_CONCURRENT_CALLS must be positive")
	}
	if cfg.PrefetchFactor < 1 {
		cfg.PrefetchFactor = 1
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
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
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
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
