// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/easely-bot/internal/canvas"
	"github.com/ashureev/easely-bot/internal/conversation"
	"github.com/ashureev/easely-bot/internal/messenger"
	"github.com/ashureev/easely-bot/internal/retry"
	"github.com/ashureev/easely-bot/internal/timewindow"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	DBPath          string
	LogLevel        slog.Level
	Timezone        string
	FrontendURL     string
	ConsoleEnabled  bool
	AdminToken      string
	Messenger       MessengerConfig
	Canvas          canvas.Config
	Conversation    conversation.Config
	SweepInterval   time.Duration
	ConversationLog ConversationLogConfig
}

// MessengerConfig holds Messenger platform credentials.
type MessengerConfig struct {
	PageAccessToken string
	VerifyToken     string
	AppSecret       string
	GraphAPIURL     string
}

// ConversationLogConfig controls the NDJSON transcript log.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1024)
	if queueSize <= 0 {
		queueSize = 1024
	}

	canvasCfg := canvas.DefaultConfig()
	canvasCfg.BaseURL = getEnv("CANVAS_BASE_URL", canvasCfg.BaseURL)
	canvasCfg.APIVersion = getEnv("CANVAS_API_VERSION", canvasCfg.APIVersion)
	canvasCfg.Timeout = getEnvDuration("CANVAS_TIMEOUT", canvasCfg.Timeout)
	canvasCfg.MaxConcurrency = getEnvInt("CANVAS_MAX_CONCURRENCY", canvasCfg.MaxConcurrency)
	canvasCfg.RequestsPerSecond = getEnvFloat("CANVAS_REQUESTS_PER_SECOND", canvasCfg.RequestsPerSecond)
	canvasCfg.Burst = getEnvInt("CANVAS_BURST", canvasCfg.Burst)

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = getEnvInt("RETRY_MAX_ATTEMPTS", retryCfg.MaxAttempts)
	retryCfg.BaseDelay = getEnvDuration("RETRY_BASE_DELAY", retryCfg.BaseDelay)
	retryCfg.MaxDelay = getEnvDuration("RETRY_MAX_DELAY", retryCfg.MaxDelay)
	canvasCfg.Retry = retryCfg

	conv := conversation.DefaultConfig()
	conv.SessionTTL = getEnvDuration("SESSION_TTL", conv.SessionTTL)
	conv.DraftTTL = getEnvDuration("DRAFT_TTL", conv.DraftTTL)
	conv.ConsentPromptDelay = getEnvDuration("CONSENT_PROMPT_DELAY", conv.ConsentPromptDelay)
	conv.PrivacyPolicyURL = getEnv("PRIVACY_POLICY_URL", conv.PrivacyPolicyURL)
	conv.TermsOfUseURL = getEnv("TERMS_OF_USE_URL", conv.TermsOfUseURL)
	conv.TutorialVideoURL = getEnv("TUTORIAL_VIDEO_URL", conv.TutorialVideoURL)
	conv.PremiumURL = getEnv("PREMIUM_URL", conv.PremiumURL)

	logDir := getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations")

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		DBPath:         getEnv("DB_PATH", "./data/easely.db"),
		LogLevel:       parseLevel(getEnv("LOG_LEVEL", "info")),
		Timezone:       getEnv("DEFAULT_TIMEZONE", timewindow.DefaultZone),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		ConsoleEnabled: getEnvBool("CONSOLE_ENABLED", false),
		AdminToken:     getEnv("ADMIN_TOKEN", ""),
		Messenger: MessengerConfig{
			PageAccessToken: getEnv("PAGE_ACCESS_TOKEN", ""),
			VerifyToken:     getEnv("VERIFY_TOKEN", ""),
			AppSecret:       getEnv("APP_SECRET", ""),
			GraphAPIURL:     getEnv("GRAPH_API_URL", messenger.DefaultConfig().GraphAPIURL),
		},
		Canvas:        canvasCfg,
		Conversation:  conv,
		SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 10*time.Minute),
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           logDir,
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", logDir+"/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric: %q", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if _, err := timewindow.ParseZone(c.Timezone); err != nil || c.Timezone == "" {
		return fmt.Errorf("DEFAULT_TIMEZONE must be an IANA zone: %q", c.Timezone)
	}
	if u, err := url.Parse(c.Canvas.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("CANVAS_BASE_URL must be an absolute URL: %q", c.Canvas.BaseURL)
	}
	if c.Canvas.Retry.MaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be >= 1")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalEnabled && c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	return nil
}

// MessengerEnabled reports whether the Messenger webhook should be mounted.
func (c *Config) MessengerEnabled() bool {
	return c.Messenger.VerifyToken != "" || c.Messenger.PageAccessToken != ""
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("90s") or whole seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
