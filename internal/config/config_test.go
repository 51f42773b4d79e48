package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/ashureev/tripdesk/internal/conversation"
	"github.com/ashureev/tripdesk/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BACKEND_URL", "")
	t.Setenv("TURN_POLICY", "")
	t.Setenv("FRONTEND_URL", "")
	t.Setenv("SESSION_TTL", "60m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, transport.ModeMock, cfg.TransportMode())
	assert.False(t, cfg.VoiceAvailable(), "voice needs the live backend")
	assert.Equal(t, conversation.PolicyConcurrent, cfg.Policy())
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BACKEND_URL", " http://backend:8000 ")
	t.Setenv("BACKEND_TIMEOUT", "45")
	t.Setenv("TURN_POLICY", "Serialized")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, ,https://b.example.com")
	t.Setenv("RATE_LIMIT_REQUESTS", "5")
	t.Setenv("VOICE_SILENCE_THRESHOLD", "12.5")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("FRONTEND_URL", "https://tripdesk.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://backend:8000", cfg.Backend.URL)
	assert.Equal(t, 45*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, transport.ModeLive, cfg.TransportMode())
	assert.True(t, cfg.VoiceAvailable())
	assert.Equal(t, conversation.PolicySerialized, cfg.Policy())
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, 5, cfg.RateLimit.RequestsPerWindow)
	assert.InDelta(t, 12.5, cfg.Voice.SilenceThreshold, 1e-9)
	assert.False(t, cfg.IsDevelopment())

	lvl, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		return &Config{
			Port:               "8080",
			DBPath:             "db",
			LogLevel:           "info",
			TurnPolicy:         "concurrent",
			SessionTTL:         time.Hour,
			CORSAllowedOrigins: []string{"*"},
			Backend:            BackendConfig{Timeout: time.Second},
			RateLimit:          RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute},
			SSE:                SSEConfig{KeepaliveInterval: time.Second, RetryDelay: time.Second},
			Voice: VoiceConfig{
				SilenceThreshold: 10,
				SilenceDuration:  time.Second,
				RetryDelay:       time.Second,
				MaxUtterance:     time.Minute,
				SampleRate:       16000,
			},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty port", func(c *Config) { c.Port = "" }, "PORT"},
		{"empty db", func(c *Config) { c.DBPath = "" }, "DB_PATH"},
		{"bad policy", func(c *Config) { c.TurnPolicy = "fifo" }, "TURN_POLICY"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "LOG_LEVEL"},
		{"zero ttl", func(c *Config) { c.SessionTTL = 0 }, "SESSION_TTL"},
		{"zero limit", func(c *Config) { c.RateLimit.RequestsPerWindow = 0 }, "RATE_LIMIT_REQUESTS"},
		{"threshold", func(c *Config) { c.Voice.SilenceThreshold = 300 }, "VOICE_SILENCE_THRESHOLD"},
		{"sample rate", func(c *Config) { c.Voice.SampleRate = 100 }, "VOICE_SAMPLE_RATE"},
		{"no origins", func(c *Config) { c.CORSAllowedOrigins = nil }, "CORS_ALLOWED_ORIGINS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
