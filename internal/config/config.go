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
	Auth      AuthConfig      `mapstructure:"auth"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs crawl task behavior.
type CrawlerConfig struct {
	MaxDepthDefault          int    `mapstructure:"max_depth_default"`
	MaxThreadsDefault        int    `mapstructure:"max_threads_default"`
	CheckIntervalSeconds     int    `mapstructure:"check_interval_seconds"`
	InactivityTimeoutSeconds int    `mapstructure:"inactivity_timeout_seconds"`
	RetryFailedURLs          bool   `mapstructure:"retry_failed_urls"`
	MaxRetries               int    `mapstructure:"max_retries"`
	UserAgent                string `mapstructure:"user_agent"`
	FeatureRenderEnabled     bool   `mapstructure:"feature_render_enabled"`
}

// HTTPConfig configures the outbound HTTP clients used by the fetchers.
type HTTPConfig struct {
	TimeoutSeconds     int  `mapstructure:"timeout_seconds"`
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`
}

// HeadlessConfig configures the opt-in headless rendering subsystem.
type HeadlessConfig struct {
	MaxParallel     int `mapstructure:"max_parallel"`
	NavTimeoutSec   int `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int `mapstructure:"promotion_threshold"`
}

// StorageConfig sets where repositories and their artifacts live.
type StorageConfig struct {
	DataDir   string `mapstructure:"data_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// DatabaseConfig controls the optional Postgres fetch log and run history.
type DatabaseConfig struct {
	DSN           string `mapstructure:"dsn"`
	FetchLogTable string `mapstructure:"fetch_log_table"`
}

// PubSubConfig holds metadata for task completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the progress event hub.
type ProgressConfig struct {
	BufferSize      int `mapstructure:"buffer_size"`
	MaxBatchEvents  int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs  int `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutSecs int `mapstructure:"sink_timeout_seconds"`
}

// SchedulerConfig toggles repository auto-updates.
type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("crawler.max_depth_default", 3)
	v.SetDefault("crawler.max_threads_default", 10)
	v.SetDefault("crawler.check_interval_seconds", 30)
	v.SetDefault("crawler.inactivity_timeout_seconds", 180)
	v.SetDefault("crawler.retry_failed_urls", false)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.user_agent", "crawld/0.1")
	v.SetDefault("crawler.feature_render_enabled", false)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.insecure_skip_verify", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("database.fetch_log_table", "fetch_log")
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 1000)
	v.SetDefault("progress.max_batch_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_seconds", 5)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.MaxDepthDefault < 0 {
		return fmt.Errorf("crawler.max_depth_default must be >= 0")
	}
	if c.Crawler.MaxThreadsDefault <= 0 {
		return fmt.Errorf("crawler.max_threads_default must be > 0")
	}
	if c.Crawler.RetryFailedURLs && c.Crawler.MaxRetries <= 0 {
		return fmt.Errorf("crawler.max_retries must be > 0 when retries are enabled")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Crawler.FeatureRenderEnabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when rendering is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if strings.TrimSpace(c.Storage.DataDir) == "" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.data_dir or storage.gcs_bucket must be set")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	return nil
}

// HTTPTimeout returns the outbound client timeout as a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// CheckInterval returns the inactivity monitor tick as a duration.
func (c Config) CheckInterval() time.Duration {
	return time.Duration(c.Crawler.CheckIntervalSeconds) * time.Second
}

// InactivityTimeout returns the artifact staleness bound as a duration.
func (c Config) InactivityTimeout() time.Duration {
	return time.Duration(c.Crawler.InactivityTimeoutSeconds) * time.Second
}
