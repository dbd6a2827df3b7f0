// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Store     StoreConfig     `mapstructure:"store"`
	Publish   PublishConfig   `mapstructure:"publish"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port              int `mapstructure:"port"`
	ClientRPM         int `mapstructure:"client_rpm"`
	ClientBurst       int `mapstructure:"client_burst"`
	RequestTimeoutSec int `mapstructure:"request_timeout_seconds"`
}

// ScraperConfig governs the render pool and scrape pipeline.
type ScraperConfig struct {
	MaxConcurrentBrowsers int    `mapstructure:"max_concurrent_browsers"`
	PageTimeoutSeconds    int    `mapstructure:"page_timeout_seconds"`
	AcquireTimeoutSeconds int    `mapstructure:"acquire_timeout_seconds"`
	RecycleAfterPages     int    `mapstructure:"recycle_after_pages"`
	Workers               int    `mapstructure:"workers"`
	QueueDepth            int    `mapstructure:"queue_depth"`
	MaxRequeues           int    `mapstructure:"max_requeues"`
	RespectRobots         bool   `mapstructure:"respect_robots"`
	Headless              bool   `mapstructure:"headless"`
	Renderer              string `mapstructure:"renderer"`
	UserAgent             string `mapstructure:"user_agent"`
}

// RateLimitConfig bounds outbound requests per target domain.
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	RequestsPerHour   int `mapstructure:"requests_per_hour"`
	Burst             int `mapstructure:"burst"`
}

// CacheConfig selects and tunes the result cache backend.
type CacheConfig struct {
	Backend   string `mapstructure:"backend"`
	RedisAddr string `mapstructure:"redis_addr"`
	TTLHours  int    `mapstructure:"ttl_hours"`
}

// StoreConfig selects the job store backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	DSN     string `mapstructure:"dsn"`
}

// PublishConfig controls completion-event publishing.
type PublishConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// environment variable aliases required by the deployment surface.
var envAliases = map[string]string{
	"scraper.max_concurrent_browsers": "MAX_CONCURRENT_BROWSERS",
	"scraper.page_timeout_seconds":    "SCRAPING_TIMEOUT_SECONDS",
	"rate_limit.requests_per_minute":  "MAX_REQUESTS_PER_MINUTE",
	"rate_limit.requests_per_hour":    "MAX_REQUESTS_PER_HOUR",
	"cache.redis_addr":                "REDIS_ADDR",
	"cache.ttl_hours":                 "CACHE_TTL_HOURS",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REVIEWLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for key, env := range envAliases {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.client_rpm", 60)
	v.SetDefault("server.client_burst", 10)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("scraper.max_concurrent_browsers", 3)
	v.SetDefault("scraper.page_timeout_seconds", 30)
	v.SetDefault("scraper.acquire_timeout_seconds", 30)
	v.SetDefault("scraper.recycle_after_pages", 50)
	v.SetDefault("scraper.workers", 4)
	v.SetDefault("scraper.queue_depth", 64)
	v.SetDefault("scraper.max_requeues", 5)
	v.SetDefault("scraper.respect_robots", true)
	v.SetDefault("scraper.headless", true)
	v.SetDefault("scraper.renderer", "chromedp")
	v.SetDefault("rate_limit.requests_per_minute", 10)
	v.SetDefault("rate_limit.requests_per_hour", 300)
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl_hours", 24)
	v.SetDefault("store.backend", "memory")
	v.SetDefault("publish.backend", "memory")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.MaxConcurrentBrowsers <= 0 {
		return fmt.Errorf("scraper.max_concurrent_browsers must be > 0")
	}
	if c.Scraper.PageTimeoutSeconds <= 0 {
		return fmt.Errorf("scraper.page_timeout_seconds must be > 0")
	}
	if c.Scraper.Workers <= 0 {
		return fmt.Errorf("scraper.workers must be > 0")
	}
	if c.Scraper.Renderer != "chromedp" && c.Scraper.Renderer != "noop" {
		return fmt.Errorf("scraper.renderer must be chromedp or noop, got %q", c.Scraper.Renderer)
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must be > 0")
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		return fmt.Errorf("cache.redis_addr must be set when cache.backend is redis")
	}
	if c.Store.Backend == "postgres" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn must be set when store.backend is postgres")
	}
	if c.Publish.Backend == "pubsub" && (c.Publish.ProjectID == "" || c.Publish.Topic == "") {
		return fmt.Errorf("publish.project_id and publish.topic must be set when publish.backend is pubsub")
	}
	return nil
}

// PageTimeout returns the per-page render deadline.
func (c Config) PageTimeout() time.Duration {
	return time.Duration(c.Scraper.PageTimeoutSeconds) * time.Second
}

// AcquireTimeout returns how long a job waits for a render slot.
func (c Config) AcquireTimeout() time.Duration {
	return time.Duration(c.Scraper.AcquireTimeoutSeconds) * time.Second
}

// CacheTTL returns the result cache time-to-live.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLHours) * time.Hour
}
