// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/gazette-ingest/internal/stitch"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging      LoggingConfig      `mapstructure:"logging"`
	Server       ServerConfig       `mapstructure:"server"`
	Source       SourceConfig       `mapstructure:"source"`
	Stitch       StitchConfig       `mapstructure:"stitch"`
	Session      SessionConfig      `mapstructure:"session"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Delivery     DeliveryConfig     `mapstructure:"delivery"`
	Archive      ArchiveConfig      `mapstructure:"archive"`
	DB           DBConfig           `mapstructure:"db"`
	Alerts       AlertsConfig       `mapstructure:"alerts"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls the status HTTP server. Port 0 disables it.
type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

// SourceConfig describes the gazette site.
type SourceConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	PagePath       string `mapstructure:"page_path"`
	ListPath       string `mapstructure:"list_path"`
	UserAgent      string `mapstructure:"user_agent"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	// Headless renders pages with Chrome instead of plain HTTP.
	Headless          bool `mapstructure:"headless"`
	HeadlessParallel  int  `mapstructure:"headless_parallel"`
	NavTimeoutSeconds int  `mapstructure:"nav_timeout_seconds"`
}

// StitchConfig holds stitcher thresholds and pattern overrides.
type StitchConfig struct {
	MaxWindow         int      `mapstructure:"max_window"`
	MinScore          float64  `mapstructure:"min_score"`
	MinLength         int      `mapstructure:"min_length"`
	AnchorPattern     string   `mapstructure:"anchor_pattern"`
	IdentifierPattern string   `mapstructure:"identifier_pattern"`
	DomainKeywords    []string `mapstructure:"domain_keywords"`
	CounselMarkers    []string `mapstructure:"counsel_markers"`
	MoneyMarkers      []string `mapstructure:"money_markers"`
}

// SessionConfig tunes each scraping session.
type SessionConfig struct {
	OutputDir         string  `mapstructure:"output_dir"`
	CacheSize         int     `mapstructure:"cache_size"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// OrchestratorConfig controls the date worker pool.
type OrchestratorConfig struct {
	Workers             int    `mapstructure:"workers"`
	LedgerPath          string `mapstructure:"ledger_path"`
	DateTimeoutSeconds  int    `mapstructure:"date_timeout_seconds"`
	MaxRetries          int    `mapstructure:"max_retries"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
	IdleTimeoutMs       int    `mapstructure:"idle_timeout_ms"`
}

// QueueConfig selects the durable queue backend.
type QueueConfig struct {
	// Backend is "redis" or "memory".
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	Prefix        string `mapstructure:"prefix"`
}

// DeliveryConfig controls the delivery worker and its HTTP client.
type DeliveryConfig struct {
	Endpoint             string  `mapstructure:"endpoint"`
	APIKey               string  `mapstructure:"api_key"`
	WorkerID             string  `mapstructure:"worker_id"`
	TimeoutSeconds       int     `mapstructure:"timeout_seconds"`
	MaxRetries           int     `mapstructure:"max_retries"`
	ClaimTimeoutSeconds  int     `mapstructure:"claim_timeout_seconds"`
	FailureLogDir        string  `mapstructure:"failure_log_dir"`
	BackoffBase          float64 `mapstructure:"backoff_base"`
	RateLimitCapSeconds  int     `mapstructure:"rate_limit_cap_seconds"`
	ConnectionCapSeconds int     `mapstructure:"connection_cap_seconds"`
	DefaultCapSeconds    int     `mapstructure:"default_cap_seconds"`
}

// ArchiveConfig selects where dead-letter payloads are kept.
type ArchiveConfig struct {
	// Backend is "local", "gcs" or "none".
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls the optional Postgres failure mirror.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// AlertsConfig controls where alerts go besides the log.
type AlertsConfig struct {
	PubSubProject string `mapstructure:"pubsub_project"`
	PubSubTopic   string `mapstructure:"pubsub_topic"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GAZETTE")
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
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("source.base_url", "")
	v.SetDefault("source.page_path", "")
	v.SetDefault("source.list_path", "")
	v.SetDefault("source.user_agent", "gazette-ingest/0.1")
	v.SetDefault("source.respect_robots", true)
	v.SetDefault("source.timeout_seconds", 30)
	v.SetDefault("source.headless", false)
	v.SetDefault("source.headless_parallel", 1)
	v.SetDefault("source.nav_timeout_seconds", 45)
	v.SetDefault("stitch.max_window", stitch.DefaultMaxWindow)
	v.SetDefault("stitch.min_score", stitch.DefaultMinScore)
	v.SetDefault("stitch.min_length", stitch.DefaultMinLength)
	v.SetDefault("stitch.anchor_pattern", "")
	v.SetDefault("stitch.identifier_pattern", "")
	v.SetDefault("stitch.domain_keywords", []string{})
	v.SetDefault("stitch.counsel_markers", []string{})
	v.SetDefault("stitch.money_markers", []string{})
	v.SetDefault("session.output_dir", "data/records")
	v.SetDefault("session.cache_size", 50)
	v.SetDefault("session.requests_per_second", 2.0)
	v.SetDefault("session.burst", 1)
	v.SetDefault("orchestrator.workers", 3)
	v.SetDefault("orchestrator.ledger_path", "data/progress.json")
	v.SetDefault("orchestrator.date_timeout_seconds", 300)
	v.SetDefault("orchestrator.max_retries", 3)
	v.SetDefault("orchestrator.poll_interval_seconds", 30)
	v.SetDefault("orchestrator.idle_timeout_ms", 1000)
	v.SetDefault("queue.backend", "redis")
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_password", "")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.prefix", "gazette:queue")
	v.SetDefault("delivery.endpoint", "")
	v.SetDefault("delivery.api_key", "")
	v.SetDefault("delivery.worker_id", "")
	v.SetDefault("delivery.timeout_seconds", 30)
	v.SetDefault("delivery.max_retries", 5)
	v.SetDefault("delivery.claim_timeout_seconds", 5)
	v.SetDefault("delivery.failure_log_dir", "data/failures")
	v.SetDefault("delivery.backoff_base", 2.0)
	v.SetDefault("delivery.rate_limit_cap_seconds", 120)
	v.SetDefault("delivery.connection_cap_seconds", 60)
	v.SetDefault("delivery.default_cap_seconds", 60)
	v.SetDefault("archive.backend", "local")
	v.SetDefault("archive.base_dir", "data/archive")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "delivery_failures")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("alerts.pubsub_project", "")
	v.SetDefault("alerts.pubsub_topic", "")
}

// Validate enforces required values and reasonable limits. Settings needed
// only by one command (source URL, delivery endpoint) are checked by
// ValidateSource and ValidateDelivery.
func (c Config) Validate() error {
	if c.Server.Port < 0 {
		return fmt.Errorf("server.port must be >= 0")
	}
	if c.Orchestrator.Workers <= 0 {
		return fmt.Errorf("orchestrator.workers must be > 0")
	}
	if c.Orchestrator.DateTimeoutSeconds <= 0 {
		return fmt.Errorf("orchestrator.date_timeout_seconds must be > 0")
	}
	if c.Orchestrator.MaxRetries <= 0 {
		return fmt.Errorf("orchestrator.max_retries must be > 0")
	}
	if strings.TrimSpace(c.Orchestrator.LedgerPath) == "" {
		return fmt.Errorf("orchestrator.ledger_path is required")
	}
	if strings.TrimSpace(c.Session.OutputDir) == "" {
		return fmt.Errorf("session.output_dir is required")
	}
	if c.Delivery.MaxRetries < 0 {
		return fmt.Errorf("delivery.max_retries must be >= 0")
	}
	if c.Delivery.BackoffBase < 1 {
		return fmt.Errorf("delivery.backoff_base must be >= 1")
	}
	switch c.Queue.Backend {
	case "redis":
		if c.Queue.RedisAddr == "" {
			return fmt.Errorf("queue.redis_addr is required for the redis backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown queue.backend %q", c.Queue.Backend)
	}
	switch c.Archive.Backend {
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required for the local backend")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket is required for the gcs backend")
		}
	case "none":
	default:
		return fmt.Errorf("unknown archive.backend %q", c.Archive.Backend)
	}
	if (c.Alerts.PubSubProject == "") != (c.Alerts.PubSubTopic == "") {
		return fmt.Errorf("alerts.pubsub_project and alerts.pubsub_topic must be set together")
	}
	return nil
}

// ValidateSource checks the settings the scraping commands need.
func (c Config) ValidateSource() error {
	u, err := url.Parse(c.Source.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("source.base_url must be an absolute URL")
	}
	return nil
}

// ValidateDelivery checks the settings the delivery worker needs.
func (c Config) ValidateDelivery() error {
	u, err := url.Parse(c.Delivery.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("delivery.endpoint must be an absolute URL")
	}
	return nil
}

// PatternConfig converts the stitch section into stitcher pattern settings.
func (c Config) PatternConfig() stitch.PatternConfig {
	return stitch.PatternConfig{
		AnchorPattern:     c.Stitch.AnchorPattern,
		IdentifierPattern: c.Stitch.IdentifierPattern,
		DomainKeywords:    c.Stitch.DomainKeywords,
		CounselMarkers:    c.Stitch.CounselMarkers,
		MoneyMarkers:      c.Stitch.MoneyMarkers,
	}
}

// StitchThresholds returns the stitcher's numeric settings.
func (c Config) StitchThresholds() stitch.Config {
	return stitch.Config{
		MaxWindow: c.Stitch.MaxWindow,
		MinScore:  c.Stitch.MinScore,
		MinLength: c.Stitch.MinLength,
	}
}

// Seconds converts a whole-second setting into a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
