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
	GetCORSOrigins() []string
	GetWebhookRateLimit() float64
	GetAdminAPIKey() string
}

// SchedulerConfig provides settings for the redis-backed batch queue.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetDialogWorkTimeout() time.Duration
}

// BitrixConfig provides settings for the CRM REST client.
type BitrixConfig interface {
	GetBitrixWebhookURL() string
	GetBitrixApplicationToken() string
}

// WazzupConfig provides settings for the chat delivery client.
type WazzupConfig interface {
	GetWazzupAPIURL() string
	GetWazzupAPIKey() string
	GetWazzupChannelID() string
	GetWazzupChatType() string
}

// OracleConfig provides settings for the decision model.
type OracleConfig interface {
	GetOpenAIAPIKey() string
	GetOpenAIBaseURL() string
	GetOpenAIModel() string
	GetOpenAIProxyURL() string
	GetOracleTimeout() time.Duration
	GetDialogWorkTimeout() time.Duration
}

// PolicyConfig provides settings for the policy document cache.
type PolicyConfig interface {
	GetPolicyCacheTTL() time.Duration
	GetGoogleDocID() string
	GetKnowledgeBaseDocID() string
	GetGoogleCredentialsFile() string
	GetPolicyFile() string
}

// DebounceConfig provides the quiet-period and scan interval of the pending inbox.
type DebounceConfig interface {
	GetGracePeriod() time.Duration
	GetPollInterval() time.Duration
}

// TriggerConfig provides the CRM funnel/stage combination that seeds dialogs.
type TriggerConfig interface {
	GetTargetFunnelID() string
	GetWelcomeStageID() string
	GetTouchTodayStageID() string
	GetNewLotStageID() string
	GetCRMEventDedupeWindow() time.Duration
}

// PhoneConfig provides the default region used to canonicalize chat ids.
type PhoneConfig interface {
	GetPhoneDefaultRegion() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                    string
	HTTPAddr               string
	DatabaseURL            string
	CORSOrigins            []string
	WebhookRateLimit       float64
	AdminAPIKey            string
	RedisURL               string
	RedisTLSInsecure       bool
	AsynqQueueName         string
	AsynqConcurrency       int
	BitrixWebhookURL       string
	BitrixApplicationToken string
	WazzupAPIURL           string
	WazzupAPIKey           string
	WazzupChannelID        string
	WazzupChatType         string
	OpenAIAPIKey           string
	OpenAIBaseURL          string
	OpenAIModel            string
	OpenAIProxyURL         string
	OracleTimeout          time.Duration
	DialogWorkTimeout      time.Duration
	PolicyCacheTTL         time.Duration
	GoogleDocID            string
	KnowledgeBaseDocID     string
	GoogleCredentialsFile  string
	PolicyFile             string
	GracePeriod            time.Duration
	PollInterval           time.Duration
	TargetFunnelID         string
	WelcomeStageID         string
	TouchTodayStageID      string
	NewLotStageID          string
	CRMEventDedupeWindow   time.Duration
	PhoneDefaultRegion     string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string          { return c.HTTPAddr }
func (c *Config) GetCORSOrigins() []string     { return c.CORSOrigins }
func (c *Config) GetWebhookRateLimit() float64 { return c.WebhookRateLimit }
func (c *Config) GetAdminAPIKey() string       { return c.AdminAPIKey }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }
func (c *Config) IsRedisEnabled() bool      { return c.RedisURL != "" }

// BitrixConfig implementation
func (c *Config) GetBitrixWebhookURL() string       { return c.BitrixWebhookURL }
func (c *Config) GetBitrixApplicationToken() string { return c.BitrixApplicationToken }

// WazzupConfig implementation
func (c *Config) GetWazzupAPIURL() string    { return c.WazzupAPIURL }
func (c *Config) GetWazzupAPIKey() string    { return c.WazzupAPIKey }
func (c *Config) GetWazzupChannelID() string { return c.WazzupChannelID }
func (c *Config) GetWazzupChatType() string  { return c.WazzupChatType }

// OracleConfig implementation
func (c *Config) GetOpenAIAPIKey() string         { return c.OpenAIAPIKey }
func (c *Config) GetOpenAIBaseURL() string        { return c.OpenAIBaseURL }
func (c *Config) GetOpenAIModel() string          { return c.OpenAIModel }
func (c *Config) GetOpenAIProxyURL() string       { return c.OpenAIProxyURL }
func (c *Config) GetOracleTimeout() time.Duration { return c.OracleTimeout }

// GetDialogWorkTimeout bounds one dialog turn from lock to commit. It also sets
// the worker shutdown grace and, plus a margin, the redis lock TTL.
func (c *Config) GetDialogWorkTimeout() time.Duration { return c.DialogWorkTimeout }

// PolicyConfig implementation
func (c *Config) GetPolicyCacheTTL() time.Duration { return c.PolicyCacheTTL }
func (c *Config) GetGoogleDocID() string           { return c.GoogleDocID }
func (c *Config) GetKnowledgeBaseDocID() string    { return c.KnowledgeBaseDocID }
func (c *Config) GetGoogleCredentialsFile() string { return c.GoogleCredentialsFile }
func (c *Config) GetPolicyFile() string            { return c.PolicyFile }

// DebounceConfig implementation
func (c *Config) GetGracePeriod() time.Duration  { return c.GracePeriod }
func (c *Config) GetPollInterval() time.Duration { return c.PollInterval }

// TriggerConfig implementation
func (c *Config) GetTargetFunnelID() string              { return c.TargetFunnelID }
func (c *Config) GetWelcomeStageID() string              { return c.WelcomeStageID }
func (c *Config) GetTouchTodayStageID() string           { return c.TouchTodayStageID }
func (c *Config) GetNewLotStageID() string               { return c.NewLotStageID }
func (c *Config) GetCRMEventDedupeWindow() time.Duration { return c.CRMEventDedupeWindow }

// PhoneConfig implementation
func (c *Config) GetPhoneDefaultRegion() string { return c.PhoneDefaultRegion }

// Load reads configuration from environment variables and validates the
// settings the api and scheduler processes cannot run without.
func Load() (*Config, error) {
	cfg := LoadUnchecked()

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.BitrixWebhookURL == "" {
		return nil, fmt.Errorf("BITRIX_WEBHOOK_URL is required")
	}
	if cfg.TargetFunnelID == "" {
		return nil, fmt.Errorf("TARGET_FUNNEL_ID is required")
	}
	if cfg.GracePeriod <= 0 || cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("DEBOUNCE_GRACE_PERIOD and DEBOUNCE_POLL_INTERVAL must be positive durations")
	}
	if cfg.OracleTimeout <= 0 {
		return nil, fmt.Errorf("ORACLE_TIMEOUT must be a positive duration")
	}
	if cfg.DialogWorkTimeout <= cfg.OracleTimeout {
		return nil, fmt.Errorf("DIALOG_WORK_TIMEOUT (%s) must exceed ORACLE_TIMEOUT (%s)", cfg.DialogWorkTimeout, cfg.OracleTimeout)
	}

	return cfg, nil
}

// LoadUnchecked reads configuration without validation. Used by the CLI tools,
// which each need only one provider's settings.
func LoadUnchecked() *Config {
	_ = godotenv.Load()

	funnelID := strings.TrimSpace(getEnv("TARGET_FUNNEL_ID", ""))

	return &Config{
		Env:                    getEnv("APP_ENV", "development"),
		HTTPAddr:               getEnv("HTTP_ADDR", ":8000"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		CORSOrigins:            splitCSV(getEnv("CORS_ORIGINS", "")),
		WebhookRateLimit:       mustFloat(getEnv("WEBHOOK_RATE_LIMIT", "20")),
		AdminAPIKey:            getEnv("ADMIN_API_KEY", ""),
		RedisURL:               getEnv("REDIS_URL", ""),
		RedisTLSInsecure:       strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:         getEnv("ASYNQ_QUEUE", "dialogs"),
		AsynqConcurrency:       mustInt(getEnv("ASYNQ_CONCURRENCY", "1")),
		BitrixWebhookURL:       getEnv("BITRIX_WEBHOOK_URL", ""),
		BitrixApplicationToken: getEnv("BITRIX_APPLICATION_TOKEN", ""),
		WazzupAPIURL:           getEnv("WAZZUP_API_URL", "https://api.wazzup24.com/v3"),
		WazzupAPIKey:           getEnv("WAZZUP_API_KEY", ""),
		WazzupChannelID:        getEnv("WAZZUP_CHANNEL_ID", ""),
		WazzupChatType:         getEnv("WAZZUP_CHAT_TYPE", "whatsapp"),
		OpenAIAPIKey:           getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:          getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:            getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIProxyURL:         getEnv("OPENAI_PROXY_URL", ""),
		OracleTimeout:          mustDuration(getEnv("ORACLE_TIMEOUT", "30s")),
		DialogWorkTimeout:      mustDuration(getEnv("DIALOG_WORK_TIMEOUT", "90s")),
		PolicyCacheTTL:         mustDuration(getEnv("POLICY_CACHE_TTL", "120s")),
		GoogleDocID:            getEnv("GOOGLE_DOC_ID", ""),
		KnowledgeBaseDocID:     getEnv("KNOWLEDGE_BASE_DOC_ID", ""),
		GoogleCredentialsFile:  getEnv("GOOGLE_CREDENTIALS_FILE", "credentials.json"),
		PolicyFile:             getEnv("POLICY_FILE", ""),
		GracePeriod:            mustDuration(getEnv("DEBOUNCE_GRACE_PERIOD", "10s")),
		PollInterval:           mustDuration(getEnv("DEBOUNCE_POLL_INTERVAL", "5s")),
		TargetFunnelID:         funnelID,
		WelcomeStageID:         getEnv("WELCOME_STAGE_ID", defaultWelcomeStage(funnelID)),
		TouchTodayStageID:      getEnv("TOUCH_TODAY_STAGE_ID", ""),
		NewLotStageID:          getEnv("NEW_LOT_STAGE_ID", ""),
		CRMEventDedupeWindow:   mustDuration(getEnv("CRM_EVENT_DEDUPE_WINDOW", "30s")),
		PhoneDefaultRegion:     getEnv("PHONE_DEFAULT_REGION", "RU"),
	}
}

func defaultWelcomeStage(funnelID string) string {
	if funnelID == "" {
		return ""
	}
	return "C" + funnelID + ":NEW"
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

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
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
