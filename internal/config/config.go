package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Browser  BrowserConfig  `yaml:"browser"`
	Pacing   PacingConfig   `yaml:"pacing"`
	Executor ExecutorConfig `yaml:"executor"`
	Media    MediaConfig    `yaml:"media"`
	Feed     FeedConfig     `yaml:"feed"`
	Admin    AdminConfig    `yaml:"admin"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection.
func (c ServerConfig) GetHost() string {
	// In a container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifeMins int    `yaml:"conn_max_life_minutes"`
}

// ConnMaxLifetime returns the connection lifetime as a duration.
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifeMins) * time.Minute
}

// RedisConfig holds Redis settings for the duplicate-guard fast path,
// pacing cache, locks, and event publishing. Everything degrades to the
// primary store when disabled or unreachable.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// BrowserConfig holds driver binaries and messenger web app settings.
type BrowserConfig struct {
	ChromeDriverPath  string `yaml:"chrome_driver_path"`
	FirefoxDriverPath string `yaml:"firefox_driver_path"`
	AppURL            string `yaml:"app_url"`
	PortBase          int    `yaml:"port_base"`
	BootTimeoutSecs   int    `yaml:"boot_timeout_seconds"`
	ShutdownTimeoutMS int    `yaml:"shutdown_timeout_ms"`
	SendTimeoutSecs   int    `yaml:"send_timeout_seconds"`
	SettleDelayMS     int    `yaml:"settle_delay_ms"`
	ProfileDir        string `yaml:"profile_dir"`
}

// BootTimeout returns how long Acquire waits for a driver to come up.
func (c BrowserConfig) BootTimeout() time.Duration {
	return time.Duration(c.BootTimeoutSecs) * time.Second
}

// ShutdownTimeout bounds the polite tier of ForceClose.
func (c BrowserConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMS) * time.Millisecond
}

// SendTimeout bounds one whole Messenger.Send including attachment upload.
func (c BrowserConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSecs) * time.Second
}

// SettleDelay is slept after each send so the external UI can commit.
func (c BrowserConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMS) * time.Millisecond
}

// PacingConfig holds the hardcoded last-resort tier and cache TTLs. The
// real rules live in the database and per-owner settings.
type PacingConfig struct {
	FallbackMinDelaySecs int `yaml:"fallback_min_delay_seconds"`
	FallbackMaxDelaySecs int `yaml:"fallback_max_delay_seconds"`
	FallbackMinMessages  int `yaml:"fallback_min_messages_before_break"`
	FallbackMaxMessages  int `yaml:"fallback_max_messages_before_break"`
	FallbackMinBreakMins int `yaml:"fallback_min_break_minutes"`
	FallbackMaxBreakMins int `yaml:"fallback_max_break_minutes"`
	LocalCacheTTLSecs    int `yaml:"local_cache_ttl_seconds"`
	RedisCacheTTLSecs    int `yaml:"redis_cache_ttl_seconds"`
}

// LocalCacheTTL returns the in-process settings cache TTL.
func (c PacingConfig) LocalCacheTTL() time.Duration {
	return time.Duration(c.LocalCacheTTLSecs) * time.Second
}

// RedisCacheTTL returns the Redis settings cache TTL.
func (c PacingConfig) RedisCacheTTL() time.Duration {
	return time.Duration(c.RedisCacheTTLSecs) * time.Second
}

// ExecutorConfig tunes the per-campaign executor loop.
type ExecutorConfig struct {
	BatchSize          int `yaml:"batch_size"`
	SignalCheckMS      int `yaml:"signal_check_ms"`
	JanitorIntervalSec int `yaml:"janitor_interval_seconds"`
	StartLockTTLSecs   int `yaml:"start_lock_ttl_seconds"`
}

// SignalCheck is the maximum time a sleep runs before re-checking
// pause/stop signals. Must stay at or below one second.
func (c ExecutorConfig) SignalCheck() time.Duration {
	return time.Duration(c.SignalCheckMS) * time.Millisecond
}

// JanitorInterval returns how often dead executors are swept.
func (c ExecutorConfig) JanitorInterval() time.Duration {
	return time.Duration(c.JanitorIntervalSec) * time.Second
}

// StartLockTTL bounds the distributed campaign-start lock.
func (c ExecutorConfig) StartLockTTL() time.Duration {
	return time.Duration(c.StartLockTTLSecs) * time.Second
}

// MediaConfig holds attachment limits and archive settings.
type MediaConfig struct {
	Dir              string `yaml:"dir"`
	MaxSizeMB        int    `yaml:"max_size_mb"`
	OffloadAboveKB   int    `yaml:"offload_above_kb"`
	S3Enabled        bool   `yaml:"s3_enabled"`
	S3Bucket         string `yaml:"s3_bucket"`
	S3Region         string `yaml:"s3_region"`
	S3Endpoint       string `yaml:"s3_endpoint"` // set for S3-compatible stores (MinIO etc.)
	S3AccessKey      string `yaml:"s3_access_key"`
	S3SecretKey      string `yaml:"s3_secret_key"`
	S3ForcePathStyle bool   `yaml:"s3_force_path_style"`
}

// FeedConfig holds RSS/Atom source settings.
type FeedConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
	MaxItems       int `yaml:"max_items"`
}

// Timeout returns the feed fetch timeout as a duration.
func (c FeedConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AdminConfig guards the privileged operations (force-close all browsers).
type AdminConfig struct {
	Token string `yaml:"token"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifeMins == 0 {
		cfg.Database.ConnMaxLifeMins = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Browser.AppURL == "" {
		cfg.Browser.AppURL = "https://web.whatsapp.com"
	}
	if cfg.Browser.PortBase == 0 {
		cfg.Browser.PortBase = 9515
	}
	if cfg.Browser.BootTimeoutSecs == 0 {
		cfg.Browser.BootTimeoutSecs = 30
	}
	if cfg.Browser.ShutdownTimeoutMS == 0 {
		cfg.Browser.ShutdownTimeoutMS = 5000
	}
	if cfg.Browser.SendTimeoutSecs == 0 {
		cfg.Browser.SendTimeoutSecs = 120
	}
	if cfg.Browser.SettleDelayMS == 0 {
		cfg.Browser.SettleDelayMS = 1500
	}
	if cfg.Pacing.FallbackMinDelaySecs == 0 {
		cfg.Pacing.FallbackMinDelaySecs = 1
	}
	if cfg.Pacing.FallbackMaxDelaySecs == 0 {
		cfg.Pacing.FallbackMaxDelaySecs = 3
	}
	if cfg.Pacing.FallbackMinMessages == 0 {
		cfg.Pacing.FallbackMinMessages = 8
	}
	if cfg.Pacing.FallbackMaxMessages == 0 {
		cfg.Pacing.FallbackMaxMessages = 15
	}
	if cfg.Pacing.FallbackMinBreakMins == 0 {
		cfg.Pacing.FallbackMinBreakMins = 5
	}
	if cfg.Pacing.FallbackMaxBreakMins == 0 {
		cfg.Pacing.FallbackMaxBreakMins = 15
	}
	if cfg.Pacing.LocalCacheTTLSecs == 0 {
		cfg.Pacing.LocalCacheTTLSecs = 30
	}
	if cfg.Pacing.RedisCacheTTLSecs == 0 {
		cfg.Pacing.RedisCacheTTLSecs = 300
	}
	if cfg.Executor.BatchSize == 0 {
		cfg.Executor.BatchSize = 50
	}
	if cfg.Executor.SignalCheckMS == 0 {
		cfg.Executor.SignalCheckMS = 1000
	}
	if cfg.Executor.JanitorIntervalSec == 0 {
		cfg.Executor.JanitorIntervalSec = 60
	}
	if cfg.Executor.StartLockTTLSecs == 0 {
		cfg.Executor.StartLockTTLSecs = 30
	}
	if cfg.Media.Dir == "" {
		cfg.Media.Dir = "./media"
	}
	if cfg.Media.MaxSizeMB == 0 {
		cfg.Media.MaxSizeMB = 16
	}
	if cfg.Media.OffloadAboveKB == 0 {
		cfg.Media.OffloadAboveKB = 512
	}
	if cfg.Feed.TimeoutSeconds == 0 {
		cfg.Feed.TimeoutSeconds = 30
	}
	if cfg.Feed.MaxItems == 0 {
		cfg.Feed.MaxItems = 10
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CHROME_DRIVER_PATH"); v != "" {
		cfg.Browser.ChromeDriverPath = v
	}
	if v := os.Getenv("FIREFOX_DRIVER_PATH"); v != "" {
		cfg.Browser.FirefoxDriverPath = v
	}
	if v := os.Getenv("MESSENGER_APP_URL"); v != "" {
		cfg.Browser.AppURL = v
	}
	if v := os.Getenv("MORSEL_ADMIN_TOKEN"); v != "" {
		cfg.Admin.Token = v
	}
	if v := os.Getenv("MEDIA_S3_BUCKET"); v != "" {
		cfg.Media.S3Bucket = v
		cfg.Media.S3Enabled = true
	}
	if v := os.Getenv("MEDIA_S3_REGION"); v != "" {
		cfg.Media.S3Region = v
	}
	if v := os.Getenv("MEDIA_S3_ENDPOINT"); v != "" {
		cfg.Media.S3Endpoint = v
	}
	if v := os.Getenv("MEDIA_S3_ACCESS_KEY"); v != "" {
		cfg.Media.S3AccessKey = v
	}
	if v := os.Getenv("MEDIA_S3_SECRET_KEY"); v != "" {
		cfg.Media.S3SecretKey = v
	}

	return cfg, nil
}
