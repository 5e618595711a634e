package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Sync      SyncConfig      `yaml:"sync"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Insights  InsightsConfig  `yaml:"insights"`
	JWT       JWTConfig       `yaml:"jwt"`
	Redis     RedisConfig     `yaml:"redis"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      string `yaml:"port"`
	Mode      string `yaml:"mode"` // debug, release, test
	StaticDir string `yaml:"static_dir"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

// UpstreamConfig points at the CLI Proxy API instance being monitored.
type UpstreamConfig struct {
	BaseURL                 string `yaml:"base_url"`
	AuthToken               string `yaml:"auth_token"`
	ManualTimeoutSeconds    int    `yaml:"manual_timeout_seconds"`
	ScheduledTimeoutSeconds int    `yaml:"scheduled_timeout_seconds"`
}

type SyncConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalMinutes int  `yaml:"interval_minutes"`
	LookbackDays    int  `yaml:"lookback_days"`
}

// AnalyticsConfig tunes window resolution and the query cache.
// Timezone is an IANA name; all calendar math uses it, never the host zone.
type AnalyticsConfig struct {
	Timezone        string `yaml:"timezone"`
	DefaultDays     int    `yaml:"default_days"`
	MaxDays         int    `yaml:"max_days"`
	TopRoutes       int    `yaml:"top_routes"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	CacheMaxEntries int    `yaml:"cache_max_entries"`
	MaxFilterLen    int    `yaml:"max_filter_len"`
}

// PricingConfig holds the fallback rates applied when no price row matches.
type PricingConfig struct {
	DefaultInputPer1M  float64 `yaml:"default_input_per_1m"`
	DefaultCachedPer1M float64 `yaml:"default_cached_per_1m"`
	DefaultOutputPer1M float64 `yaml:"default_output_per_1m"`
}

// InsightsConfig enables LLM-generated usage summaries through the
// monitored proxy's OpenAI-compatible endpoint.
type InsightsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
}

type JWTConfig struct {
	Secret            string `yaml:"secret"`
	ExpireHour        int    `yaml:"expire_hour"`
	RefreshExpireHour int    `yaml:"refresh_expire_hour"`
}

// RedisConfig for optional async task queue
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

var GlobalConfig *Config

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.overrideFromEnv()
	cfg.applyBounds()
	GlobalConfig = cfg
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8080",
			Mode: "release",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "monitor.db",
		},
		Upstream: UpstreamConfig{
			BaseURL:                 "http://127.0.0.1:8317",
			ManualTimeoutSeconds:    10,
			ScheduledTimeoutSeconds: 60,
		},
		Sync: SyncConfig{
			Enabled:         true,
			IntervalMinutes: 5,
			LookbackDays:    2,
		},
		Analytics: AnalyticsConfig{
			Timezone:        "UTC",
			DefaultDays:     14,
			MaxDays:         90,
			TopRoutes:       10,
			CacheTTLSeconds: 30,
			CacheMaxEntries: 128,
			MaxFilterLen:    200,
		},
		Pricing: PricingConfig{
			DefaultInputPer1M:  1.0,
			DefaultCachedPer1M: 0.5,
			DefaultOutputPer1M: 4.0,
		},
		Insights: InsightsConfig{
			Enabled: false,
			Model:   "gpt-4o-mini",
		},
		JWT: JWTConfig{
			Secret:            "cliproxy-monitor-secret-change-in-production",
			ExpireHour:        24,
			RefreshExpireHour: 24 * 7,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if dir := os.Getenv("STATIC_DIR"); dir != "" {
		c.Server.StaticDir = dir
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if baseURL := os.Getenv("UPSTREAM_BASE_URL"); baseURL != "" {
		c.Upstream.BaseURL = baseURL
	}
	if token := os.Getenv("UPSTREAM_AUTH_TOKEN"); token != "" {
		c.Upstream.AuthToken = token
	}
	if tz := os.Getenv("ANALYTICS_TIMEZONE"); tz != "" {
		c.Analytics.Timezone = tz
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	if key := os.Getenv("INSIGHTS_API_KEY"); key != "" {
		c.Insights.APIKey = key
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

// applyBounds backfills zero values left by partial config files.
func (c *Config) applyBounds() {
	def := DefaultConfig()
	if c.Upstream.ManualTimeoutSeconds <= 0 {
		c.Upstream.ManualTimeoutSeconds = def.Upstream.ManualTimeoutSeconds
	}
	if c.Upstream.ScheduledTimeoutSeconds <= 0 {
		c.Upstream.ScheduledTimeoutSeconds = def.Upstream.ScheduledTimeoutSeconds
	}
	if c.Sync.IntervalMinutes <= 0 {
		c.Sync.IntervalMinutes = def.Sync.IntervalMinutes
	}
	if c.Sync.LookbackDays <= 0 {
		c.Sync.LookbackDays = def.Sync.LookbackDays
	}
	if c.Analytics.Timezone == "" {
		c.Analytics.Timezone = def.Analytics.Timezone
	}
	if c.Analytics.DefaultDays <= 0 {
		c.Analytics.DefaultDays = def.Analytics.DefaultDays
	}
	if c.Analytics.MaxDays <= 0 {
		c.Analytics.MaxDays = def.Analytics.MaxDays
	}
	if c.Analytics.TopRoutes <= 0 {
		c.Analytics.TopRoutes = def.Analytics.TopRoutes
	}
	if c.Analytics.CacheTTLSeconds <= 0 {
		c.Analytics.CacheTTLSeconds = def.Analytics.CacheTTLSeconds
	}
	if c.Analytics.CacheMaxEntries <= 0 {
		c.Analytics.CacheMaxEntries = def.Analytics.CacheMaxEntries
	}
	if c.Analytics.MaxFilterLen <= 0 {
		c.Analytics.MaxFilterLen = def.Analytics.MaxFilterLen
	}
	if c.JWT.ExpireHour <= 0 {
		c.JWT.ExpireHour = def.JWT.ExpireHour
	}
	if c.JWT.RefreshExpireHour <= 0 {
		c.JWT.RefreshExpireHour = def.JWT.RefreshExpireHour
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}
