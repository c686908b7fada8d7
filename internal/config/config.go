// Package config loads and validates scanner configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all scanner configuration knobs loaded via Viper.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Probe   ProbeConfig   `mapstructure:"probe"`
	Capture CaptureConfig `mapstructure:"capture"`
	Output  OutputConfig  `mapstructure:"output"`
	Server  ServerConfig  `mapstructure:"server"`
	DB      DBConfig      `mapstructure:"db"`
	Storage StorageConfig `mapstructure:"storage"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CrawlerConfig governs the discovery crawl.
type CrawlerConfig struct {
	StartURL          string            `mapstructure:"start_url"`
	MaxDepth          int               `mapstructure:"max_depth"`
	MaxPages          int               `mapstructure:"max_pages"`
	NavTimeoutSeconds int               `mapstructure:"nav_timeout_seconds"`
	PolitenessQPS     float64           `mapstructure:"politeness_qps"`
	RenderEnabled     bool              `mapstructure:"render_enabled"`
	SubmitForms       bool              `mapstructure:"submit_forms"`
	UserAgent         string            `mapstructure:"user_agent"`
	Headers           map[string]string `mapstructure:"headers"`
	Cookies           map[string]string `mapstructure:"cookies"`
	StateFile         string            `mapstructure:"state_file"`
	Resume            bool              `mapstructure:"resume"`
}

// ProbeConfig governs dispatcher behavior.
type ProbeConfig struct {
	Concurrency        int     `mapstructure:"concurrency"`
	PerHostQPS         float64 `mapstructure:"per_host_qps"`
	PerHostBurst       int     `mapstructure:"per_host_burst"`
	PerHostMaxInflight int     `mapstructure:"per_host_max_inflight"`
	TimeoutSeconds     int     `mapstructure:"timeout_seconds"`
	MaxRetries         int     `mapstructure:"max_retries"`
	BackoffInitialMs   int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs       int     `mapstructure:"backoff_max_ms"`
	Seed               int64   `mapstructure:"seed"`
	BudgetSeconds      int     `mapstructure:"budget_seconds"`
	MaxVariants        int     `mapstructure:"max_variants"`
	SpecFile           string  `mapstructure:"spec_file"`
}

// CaptureConfig controls the traffic capture sink.
type CaptureConfig struct {
	HARFile      string `mapstructure:"har_file"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
	ProxyURL     string `mapstructure:"proxy_url"`
}

// OutputConfig sets artifact destinations.
type OutputConfig struct {
	StatsFile string `mapstructure:"stats_file"`
}

// ServerConfig controls the optional status HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// DBConfig controls the optional relational result log.
type DBConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// StorageConfig selects the artifact blob backend.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for run-completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCANNER")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("crawler.max_depth", 2)
	v.SetDefault("crawler.max_pages", 200)
	v.SetDefault("crawler.nav_timeout_seconds", 10)
	v.SetDefault("crawler.politeness_qps", 2.0)
	v.SetDefault("crawler.render_enabled", true)
	v.SetDefault("crawler.submit_forms", true)
	v.SetDefault("crawler.user_agent", "knowlet-scanner/0.1")
	v.SetDefault("crawler.state_file", "scanner_state.db")
	v.SetDefault("probe.concurrency", 4)
	v.SetDefault("probe.per_host_qps", 10.0)
	v.SetDefault("probe.per_host_burst", 1)
	v.SetDefault("probe.per_host_max_inflight", 2)
	v.SetDefault("probe.timeout_seconds", 10)
	v.SetDefault("probe.max_retries", 2)
	v.SetDefault("probe.backoff_initial_ms", 250)
	v.SetDefault("probe.backoff_max_ms", 2000)
	v.SetDefault("probe.max_variants", 48)
	v.SetDefault("capture.har_file", "captured_traffic.har")
	v.SetDefault("capture.max_body_bytes", 1<<20)
	v.SetDefault("output.stats_file", "endpoint_stats.yaml")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.table", "probe_results")
	v.SetDefault("storage.backend", "fs")
	v.SetDefault("storage.dir", ".")
	v.SetDefault("storage.prefix", "scans")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	if c.Crawler.MaxPages <= 0 {
		return fmt.Errorf("crawler.max_pages must be > 0")
	}
	if c.Crawler.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.nav_timeout_seconds must be > 0")
	}
	if c.Crawler.UserAgent == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if c.Probe.Concurrency <= 0 {
		return fmt.Errorf("probe.concurrency must be > 0")
	}
	if c.Probe.PerHostQPS <= 0 {
		return fmt.Errorf("probe.per_host_qps must be > 0")
	}
	if c.Probe.PerHostMaxInflight <= 0 {
		return fmt.Errorf("probe.per_host_max_inflight must be > 0")
	}
	if c.Probe.TimeoutSeconds <= 0 {
		return fmt.Errorf("probe.timeout_seconds must be > 0")
	}
	if c.Probe.MaxRetries < 0 {
		return fmt.Errorf("probe.max_retries must be >= 0")
	}
	if c.Capture.HARFile == "" {
		return fmt.Errorf("capture.har_file must be set")
	}
	if c.Capture.MaxBodyBytes <= 0 {
		return fmt.Errorf("capture.max_body_bytes must be > 0")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	switch c.Storage.Backend {
	case "fs", "memory":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of fs, gcs, memory")
	}
	return nil
}

// AttemptTimeout converts the probe timeout into a duration.
func (c Config) AttemptTimeout() time.Duration {
	return time.Duration(c.Probe.TimeoutSeconds) * time.Second
}

// RunBudget converts the advisory run budget into a duration; zero means no budget.
func (c Config) RunBudget() time.Duration {
	return time.Duration(c.Probe.BudgetSeconds) * time.Second
}
