package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultServerConfig(), cfg.Server)
	assert.Equal(t, DefaultLLMConfig(), cfg.LLM)
	assert.Equal(t, DefaultChatConfig(), cfg.Chat)
	assert.False(t, cfg.Auth.AuthEnabled())
}

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.WriteTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Zero(t, cfg.RateLimitRPS)
}

func TestDefaultLLMConfig(t *testing.T) {
	cfg := DefaultLLMConfig()
	assert.Equal(t, "http://localhost:11434", cfg.BaseURL)
	assert.Equal(t, "ollama", cfg.APIKey)
	assert.Equal(t, "llama3", cfg.Model)
	assert.Equal(t, 3, cfg.MaxRetries)
}

func TestDefaultChatConfig(t *testing.T) {
	cfg := DefaultChatConfig()
	assert.Equal(t, 12, cfg.DefaultMaxRounds)
	assert.Equal(t, "TERMINATE", cfg.TerminationWord)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, 200, cfg.Store.MaxMessages)
	assert.Equal(t, 24*time.Hour, cfg.Store.TTL)
	assert.Equal(t, 4, cfg.AsyncWorkers)
	assert.Equal(t, 256, cfg.MaxResults)
}

func TestDefaultBackends(t *testing.T) {
	assert.False(t, DefaultRedisConfig().Enabled)
	assert.Equal(t, "chatflow:", DefaultRedisConfig().KeyPrefix)
	assert.False(t, DefaultDatabaseConfig().Enabled)
	assert.Equal(t, "sqlite", DefaultDatabaseConfig().Driver)
	assert.Equal(t, "info", DefaultLogConfig().Level)
	assert.Equal(t, []string{"stdout"}, DefaultLogConfig().OutputPaths)
	assert.False(t, DefaultTelemetryConfig().Enabled)
	assert.Equal(t, "chatflow", DefaultTelemetryConfig().ServiceName)
}
