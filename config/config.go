package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the pipeline service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Sources   []SourceConfig  `mapstructure:"sources"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// StorageConfig groups the durable store and cache settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig describes the durable item/result store
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a postgres connection string from the configured fields.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig describes the fingerprint cache / scheduler lock backend
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SourceConfig declares one content source and its adapter
type SourceConfig struct {
	ID       string `mapstructure:"id"`
	Name     string `mapstructure:"name"`
	Kind     string `mapstructure:"kind"` // "httpfeed", "static"
	Category string `mapstructure:"category"`
	Endpoint string `mapstructure:"endpoint"`
}

// DedupConfig controls the deduplication gate
type DedupConfig struct {
	// Items with a known published date older than this are rejected.
	// Format: 2006-01-02. Empty disables the age policy.
	MinimumPublishedAt string `mapstructure:"minimum_published_at"`
	// Fingerprint pre-filter cache TTL in Redis.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// MinimumDate parses the configured minimum published date.
func (d DedupConfig) MinimumDate() (time.Time, bool, error) {
	if d.MinimumPublishedAt == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse("2006-01-02", d.MinimumPublishedAt)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("dedup.minimum_published_at: %w", err)
	}
	return t, true, nil
}

// LLMConfig contains the AI backend settings
type LLMConfig struct {
	Provider string              `mapstructure:"provider"` // "openai"
	APIKey   string              `mapstructure:"api_key"`
	BaseURL  string              `mapstructure:"base_url"`
	Models   map[string]LLMModel `mapstructure:"models"`
	Routing  LLMRoutingConfig    `mapstructure:"routing"`
	Timeout  time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig maps agent capabilities to model names
type LLMRoutingConfig struct {
	Quality  string `mapstructure:"quality"`
	Summary  string `mapstructure:"summary"`
	Trends   string `mapstructure:"trends"`
	Alerts   string `mapstructure:"alerts"`
	Fallback string `mapstructure:"fallback"`
}

// ModelFor returns the routed model for an agent capability.
func (r LLMRoutingConfig) ModelFor(capability string) string {
	var m string
	switch capability {
	case "content_quality":
		m = r.Quality
	case "summary":
		m = r.Summary
	case "trend_synthesis":
		m = r.Trends
	case "alert_prioritization":
		m = r.Alerts
	}
	if m == "" {
		m = r.Fallback
	}
	return m
}

// RetryConfig parameterizes the backoff controller and circuit breaker
type RetryConfig struct {
	MaxRetries       int           `mapstructure:"max_retries"`
	BaseDelay        time.Duration `mapstructure:"base_delay"`
	Factor           float64       `mapstructure:"factor"`
	Timeout          time.Duration `mapstructure:"timeout"`
	CircuitThreshold int           `mapstructure:"circuit_threshold"`
	CircuitCooldown  time.Duration `mapstructure:"circuit_cooldown"`
}

func (r RetryConfig) Validate() error {
	if r.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries cannot be negative")
	}
	if r.Factor < 1 {
		return fmt.Errorf("retry.factor must be >= 1")
	}
	if r.CircuitThreshold <= 0 {
		return fmt.Errorf("retry.circuit_threshold must be > 0")
	}
	return nil
}

// PipelineConfig parameterizes the processing orchestrator
type PipelineConfig struct {
	MaxBatchSize     int           `mapstructure:"max_batch_size"`
	StageWorkers     int           `mapstructure:"stage_workers"`
	QualityThreshold float64       `mapstructure:"quality_threshold"`
	MaxCycleRetries  int           `mapstructure:"max_cycle_retries"`
	CycleDeadline    time.Duration `mapstructure:"cycle_deadline"`
	// "category" groups trend synthesis strictly by category; "keyword"
	// additionally merges categories whose top keywords overlap.
	TrendGrouping    string        `mapstructure:"trend_grouping"`
	TrendWindow      time.Duration `mapstructure:"trend_window"`
	AlertDedupWindow time.Duration `mapstructure:"alert_dedup_window"`
}

func (p PipelineConfig) Validate() error {
	if p.MaxBatchSize <= 0 {
		return fmt.Errorf("pipeline.max_batch_size must be > 0")
	}
	if p.StageWorkers <= 0 {
		return fmt.Errorf("pipeline.stage_workers must be > 0")
	}
	if p.QualityThreshold < 0 || p.QualityThreshold > 1 {
		return fmt.Errorf("pipeline.quality_threshold must be within [0,1]")
	}
	switch p.TrendGrouping {
	case "category", "keyword":
	default:
		return fmt.Errorf("pipeline.trend_grouping must be \"category\" or \"keyword\"")
	}
	return nil
}

// SchedulerConfig declares per-job-kind trigger intervals
type SchedulerConfig struct {
	// Cron spec or "@hourly"/"@daily" per job kind; collection jobs are
	// keyed "collect:<source id>", processing is keyed "process".
	CollectSchedule string        `mapstructure:"collect_schedule"`
	ProcessSchedule string        `mapstructure:"process_schedule"`
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	// Distributed lock TTL; zero disables the Redis lock.
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// TelemetryConfig contains ledger and metrics settings
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PeriodicLogs bool `mapstructure:"periodic_logs"`
}

// LoadConfig reads configuration from file and environment.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "30s")
	viper.SetDefault("server.address", ":10030")
	viper.SetDefault("dedup.cache_ttl", "24h")
	viper.SetDefault("retry.max_retries", 3)
	viper.SetDefault("retry.base_delay", "500ms")
	viper.SetDefault("retry.factor", 2.0)
	viper.SetDefault("retry.timeout", "30s")
	viper.SetDefault("retry.circuit_threshold", 3)
	viper.SetDefault("retry.circuit_cooldown", "5m")
	viper.SetDefault("pipeline.max_batch_size", 50)
	viper.SetDefault("pipeline.stage_workers", 4)
	viper.SetDefault("pipeline.quality_threshold", 0.4)
	viper.SetDefault("pipeline.max_cycle_retries", 3)
	viper.SetDefault("pipeline.trend_grouping", "category")
	viper.SetDefault("pipeline.trend_window", "24h")
	viper.SetDefault("pipeline.alert_dedup_window", "6h")
	viper.SetDefault("scheduler.collect_schedule", "@hourly")
	viper.SetDefault("scheduler.process_schedule", "@hourly")
	viper.SetDefault("scheduler.tick_interval", "1m")
	viper.SetDefault("telemetry.enabled", true)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("INTELBRIEF")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// config file is optional; defaults + env cover a minimal run
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Retry.Validate(); err != nil {
		panic(err)
	}
	if err := config.Pipeline.Validate(); err != nil {
		panic(err)
	}
	if _, _, err := config.Dedup.MinimumDate(); err != nil {
		panic(err)
	}

	return &config
}
