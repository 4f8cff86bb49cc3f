// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the ingest daemon needs to start.
type Config struct {
	DatabaseURL string
	RedisURL    string

	// Browser pool
	BrowserMin            int
	BrowserMax            int
	BrowserAcquireTimeout time.Duration
	BrowserIdleTimeout    time.Duration
	BrowserSweepInterval  time.Duration
	BrowserHeadless       bool

	// Workers / queue
	Workers      int
	MaxAttempts  int
	PageTimeout  time.Duration
	QueuePrefix  string
	DiscoverSpec string // cron expression for scheduled re-discovery

	// Read API
	HTTPAddr string
	Debug    bool
}

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisURL:              getenv("REDIS_URL", "redis://localhost:6379/0"),
		BrowserMin:            getenvInt("BROWSER_MIN", 1),
		BrowserMax:            getenvInt("BROWSER_MAX", 4),
		BrowserAcquireTimeout: getenvDuration("BROWSER_ACQUIRE_TIMEOUT", 60*time.Second),
		BrowserIdleTimeout:    getenvDuration("BROWSER_IDLE_TIMEOUT", 10*time.Minute),
		BrowserSweepInterval:  getenvDuration("BROWSER_SWEEP_INTERVAL", 2*time.Minute),
		BrowserHeadless:       getenvBool("BROWSER_HEADLESS", true),
		Workers:               getenvInt("WORKERS", 0), // 0 = follow BROWSER_MAX
		MaxAttempts:           getenvInt("JOB_MAX_ATTEMPTS", 3),
		PageTimeout:           getenvDuration("PAGE_TIMEOUT", 30*time.Second),
		QueuePrefix:           getenv("QUEUE_PREFIX", "caminando"),
		DiscoverSpec:          getenv("DISCOVER_CRON", "0 3 * * *"),
		HTTPAddr:              getenv("HTTP_ADDR", ":8080"),
		Debug:                 getenvBool("DEBUG", false),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL no definido")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = cfg.BrowserMax
	}
	if cfg.BrowserMin < 0 || cfg.BrowserMax < 1 || cfg.BrowserMin > cfg.BrowserMax {
		return Config{}, fmt.Errorf("invalid browser pool bounds min=%d max=%d", cfg.BrowserMin, cfg.BrowserMax)
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
