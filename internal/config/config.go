// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/tripdesk/internal/conversation"
	"github.com/ashureev/tripdesk/internal/transport"
)

// Config holds all application configuration.
type Config struct {
	Port               string
	FrontendURL        string
	DBPath             string
	LogLevel           string
	DefaultLanguage    string
	TurnPolicy         string
	SessionTTL         time.Duration
	CORSAllowedOrigins []string
	Backend            BackendConfig
	Mock               MockConfig
	RateLimit          RateLimitConfig
	SSE                SSEConfig
	Voice              VoiceConfig
}

// BackendConfig points at the orchestration backend. An empty URL selects
// the synthetic responder.
type BackendConfig struct {
	URL     string
	Timeout time.Duration
}

// MockConfig tunes the synthetic responder.
type MockConfig struct {
	Delay         time.Duration
	ResponsesFile string
}

// RateLimitConfig bounds turns per customer.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// SSEConfig controls the state event stream.
type SSEConfig struct {
	KeepaliveInterval  time.Duration
	RetryDelay         time.Duration
	MaxRequestBodySize int64
}

// VoiceConfig holds the voice loop's timings and thresholds.
type VoiceConfig struct {
	Enabled          bool
	SilenceThreshold float64
	SilenceDuration  time.Duration
	SettleDelay      time.Duration
	RetryDelay       time.Duration
	MaxUtterance     time.Duration
	SampleRate       int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		FrontendURL:        getEnv("FRONTEND_URL", ""),
		DBPath:             getEnv("DB_PATH", "./data/tripdesk.db"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DefaultLanguage:    getEnv("DEFAULT_LANGUAGE", "en"),
		TurnPolicy:         getEnv("TURN_POLICY", string(conversation.PolicyConcurrent)),
		SessionTTL:         getEnvDuration("SESSION_TTL", 60*time.Minute),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		Backend: BackendConfig{
			URL:     strings.TrimSpace(getEnv("BACKEND_URL", "")),
			Timeout: getEnvDuration("BACKEND_TIMEOUT", transport.DefaultRequestTimeout),
		},
		Mock: MockConfig{
			Delay:         getEnvDuration("MOCK_DELAY", 800*time.Millisecond),
			ResponsesFile: getEnv("MOCK_RESPONSES_FILE", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		SSE: SSEConfig{
			KeepaliveInterval:  getEnvDuration("SSE_KEEPALIVE", 15*time.Second),
			RetryDelay:         getEnvDuration("SSE_RETRY", 5*time.Second),
			MaxRequestBodySize: 1 << 20,
		},
		Voice: VoiceConfig{
			Enabled:          getEnvBool("VOICE_ENABLED", true),
			SilenceThreshold: getEnvFloat("VOICE_SILENCE_THRESHOLD", 10),
			SilenceDuration:  getEnvDuration("VOICE_SILENCE_DURATION", 2*time.Second),
			SettleDelay:      getEnvDuration("VOICE_SETTLE_DELAY", 500*time.Millisecond),
			RetryDelay:       getEnvDuration("VOICE_RETRY_DELAY", time.Second),
			MaxUtterance:     getEnvDuration("VOICE_MAX_UTTERANCE", 60*time.Second),
			SampleRate:       getEnvInt("VOICE_SAMPLE_RATE", 16000),
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
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if _, err := conversation.ParseTurnPolicy(c.TurnPolicy); err != nil {
		return fmt.Errorf("TURN_POLICY: %w", err)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	positive := []struct {
		name string
		d    time.Duration
	}{
		{"SESSION_TTL", c.SessionTTL},
		{"BACKEND_TIMEOUT", c.Backend.Timeout},
		{"RATE_LIMIT_WINDOW", c.RateLimit.WindowDuration},
		{"SSE_KEEPALIVE", c.SSE.KeepaliveInterval},
		{"SSE_RETRY", c.SSE.RetryDelay},
		{"VOICE_SILENCE_DURATION", c.Voice.SilenceDuration},
		{"VOICE_RETRY_DELAY", c.Voice.RetryDelay},
		{"VOICE_MAX_UTTERANCE", c.Voice.MaxUtterance},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return fmt.Errorf("%s must be > 0", p.name)
		}
	}
	if c.Mock.Delay < 0 {
		return fmt.Errorf("MOCK_DELAY cannot be negative")
	}
	if c.Voice.SettleDelay < 0 {
		return fmt.Errorf("VOICE_SETTLE_DELAY cannot be negative")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.Voice.SilenceThreshold <= 0 || c.Voice.SilenceThreshold > 255 {
		return fmt.Errorf("VOICE_SILENCE_THRESHOLD must be in (0, 255]")
	}
	if c.Voice.SampleRate < 8000 || c.Voice.SampleRate > 48000 {
		return fmt.Errorf("VOICE_SAMPLE_RATE must be between 8000 and 48000")
	}
	if len(c.CORSAllowedOrigins) == 0 {
		return fmt.Errorf("CORS_ALLOWED_ORIGINS cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// TransportMode reports which transport BACKEND_URL selects.
func (c *Config) TransportMode() transport.Mode {
	if c.Backend.URL == "" {
		return transport.ModeMock
	}
	return transport.ModeLive
}

// VoiceAvailable reports whether the voice loop can run. Speech needs the
// live backend.
func (c *Config) VoiceAvailable() bool {
	return c.Voice.Enabled && c.TransportMode() == transport.ModeLive
}

// Policy returns the parsed turn policy.
func (c *Config) Policy() conversation.TurnPolicy {
	p, err := conversation.ParseTurnPolicy(c.TurnPolicy)
	if err != nil {
		return conversation.PolicyConcurrent
	}
	return p
}

// SlogLevel parses LOG_LEVEL.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return lvl, nil
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

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90").
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

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
