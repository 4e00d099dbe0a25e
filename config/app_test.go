package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitApp_Defaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("PORT", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("REDIS_URI", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("WS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")

	cfg, err := InitApp()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "intervue", cfg.MongoDB)
	assert.Equal(t, "Zephyr", cfg.GeminiLiveVoice)
	assert.True(t, cfg.RedisConfigured)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestInitApp_RequiresGeminiKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	_, err := InitApp()
	assert.ErrorContains(t, err, "GEMINI_API_KEY")
}

func TestInitRedis_NotConfigured(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("REDIS_URI", "")
	t.Setenv("REDIS_URL", "")
	assert.ErrorIs(t, InitRedis(), ErrRedisNotConfigured)
}
