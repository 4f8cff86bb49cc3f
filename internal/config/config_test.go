package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/caminando")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, 1, cfg.BrowserMin)
	assert.Equal(t, 4, cfg.BrowserMax)
	assert.Equal(t, 60*time.Second, cfg.BrowserAcquireTimeout)
	assert.True(t, cfg.BrowserHeadless)
	assert.Equal(t, cfg.BrowserMax, cfg.Workers, "workers follow the browser cap by default")
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.PageTimeout)
	assert.Equal(t, "caminando", cfg.QueuePrefix)
	assert.Equal(t, "0 3 * * *", cfg.DiscoverSpec)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.False(t, cfg.Debug)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/caminando")
	t.Setenv("BROWSER_MAX", "8")
	t.Setenv("WORKERS", "3")
	t.Setenv("PAGE_TIMEOUT", "45s")
	t.Setenv("BROWSER_HEADLESS", "false")
	t.Setenv("DEBUG", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.BrowserMax)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 45*time.Second, cfg.PageTimeout)
	assert.False(t, cfg.BrowserHeadless)
	assert.True(t, cfg.Debug)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadPoolBounds(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/caminando")
	t.Setenv("BROWSER_MIN", "5")
	t.Setenv("BROWSER_MAX", "2")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/caminando")
	t.Setenv("BROWSER_MAX", "muchos")
	t.Setenv("PAGE_TIMEOUT", "pronto")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.BrowserMax)
	assert.Equal(t, 30*time.Second, cfg.PageTimeout)
}
