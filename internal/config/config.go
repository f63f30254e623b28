// Package config provides configuration loading for Aegis Moderation.
package config

import (
	"time"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Budget   BudgetConfig   `mapstructure:"budget"`
	Platform PlatformConfig `mapstructure:"platform"`
	AI       AIConfig       `mapstructure:"ai"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
	Rollup   RollupConfig   `mapstructure:"rollup"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Policy   PolicyConfig   `mapstructure:"policy"`
}

// ServerConfig holds the observability HTTP endpoint settings.
type ServerConfig struct {
	// HTTPAddr serves /metrics, /healthz, and /stats.
	HTTPAddr string `mapstructure:"http_addr" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// QueueConfig tunes the sharded message queue.
type QueueConfig struct {
	PartitionCount int `mapstructure:"partition_count" validate:"required,min=1,max=64"`
	Concurrency    int `mapstructure:"concurrency" validate:"required,min=1"`
	// MaxConcurrencyPerShard optionally caps workers per shard; zero means
	// uncapped.
	MaxConcurrencyPerShard int           `mapstructure:"max_concurrency_per_shard" validate:"omitempty,min=1"`
	HighWatermark          int           `mapstructure:"high_watermark" validate:"required,min=1"`
	PublishWait            time.Duration `mapstructure:"publish_wait"`
	MaxJobRetries          int           `mapstructure:"max_job_retries" validate:"omitempty,min=0"`
	RetryBaseDelay         time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay          time.Duration `mapstructure:"retry_max_delay"`
	// ShardRate limits jobs per second per shard; zero disables limiting.
	ShardRate     float64       `mapstructure:"shard_rate" validate:"omitempty,min=0"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

// CacheConfig tunes the verdict cache.
type CacheConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	MaxEntries      int           `mapstructure:"max_entries" validate:"omitempty,min=1"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// BudgetConfig selects and tunes the budget store.
type BudgetConfig struct {
	// Mode is "http" (external budget service), "sqlite", or "memory".
	Mode        string        `mapstructure:"mode" validate:"omitempty,oneof=http sqlite memory"`
	ServiceURL  string        `mapstructure:"service_url" validate:"omitempty,url"`
	APIKey      string        `mapstructure:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
}

// PlatformConfig holds the Bot API client settings.
type PlatformConfig struct {
	BotToken                string        `mapstructure:"bot_token" validate:"required"`
	APIURL                  string        `mapstructure:"api_url" validate:"omitempty,url"`
	MaxRetries              int           `mapstructure:"max_retries" validate:"omitempty,min=0"`
	BaseDelay               time.Duration `mapstructure:"base_delay"`
	MaxDelay                time.Duration `mapstructure:"max_delay"`
	CircuitBreakerThreshold int           `mapstructure:"circuit_breaker_threshold" validate:"omitempty,min=1"`
	CircuitBreakerResetTime time.Duration `mapstructure:"circuit_breaker_reset_time"`
	RateLimit               float64       `mapstructure:"rate_limit" validate:"omitempty,min=0"`
}

// AIConfig configures the spam-scoring stage.
type AIConfig struct {
	// Enabled turns the AI stage on. The external scorer is wired by the
	// caller; without it the pipeline runs rules-only.
	Enabled bool   `mapstructure:"enabled"`
	Model   string `mapstructure:"model"`
}

// OutboxConfig tunes the action outbox.
type OutboxConfig struct {
	MaxRetries       int           `mapstructure:"max_retries" validate:"omitempty,min=1"`
	DispatchInterval time.Duration `mapstructure:"dispatch_interval"`
	Retention        time.Duration `mapstructure:"retention"`
}

// RollupConfig tunes the daily usage rollup.
type RollupConfig struct {
	// ScheduleCron is a standard 5-field cron expression, evaluated in UTC.
	ScheduleCron  string `mapstructure:"schedule_cron"`
	RetentionDays int    `mapstructure:"retention_days" validate:"omitempty,min=1"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Mode is "sqlite" or "memory".
	Mode string `mapstructure:"mode" validate:"omitempty,oneof=sqlite memory"`
	// Path is the sqlite database file.
	Path string `mapstructure:"path" validate:"required_if=Mode sqlite"`
}

// PolicyConfig points at the tenant policy file.
type PolicyConfig struct {
	// TenantRulesFile is a YAML file of per-tenant rules; empty means
	// defaults only.
	TenantRulesFile string  `mapstructure:"tenant_rules_file"`
	BlockThreshold  float64 `mapstructure:"block_threshold" validate:"omitempty,gt=0"`
	ReviewThreshold float64 `mapstructure:"review_threshold" validate:"omitempty,gt=0"`
}

// SetDefaults fills optional fields with the shipped defaults.
func (c *Config) SetDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:9090"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Queue.PartitionCount == 0 {
		c.Queue.PartitionCount = 4
	}
	if c.Queue.Concurrency == 0 {
		c.Queue.Concurrency = 16
	}
	if c.Queue.HighWatermark == 0 {
		c.Queue.HighWatermark = 1000
	}
	if c.Queue.PublishWait == 0 {
		c.Queue.PublishWait = 2 * time.Second
	}
	if c.Queue.MaxJobRetries == 0 {
		c.Queue.MaxJobRetries = 3
	}
	if c.Queue.RetryBaseDelay == 0 {
		c.Queue.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.Queue.RetryMaxDelay == 0 {
		c.Queue.RetryMaxDelay = 30 * time.Second
	}
	if c.Queue.ShutdownGrace == 0 {
		c.Queue.ShutdownGrace = 10 * time.Second
	}

	if c.Cache.TTL == 0 {
		c.Cache.TTL = 10 * time.Minute
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 10000
	}
	if c.Cache.CleanupInterval == 0 {
		c.Cache.CleanupInterval = time.Minute
	}

	if c.Budget.Mode == "" {
		c.Budget.Mode = "memory"
	}
	if c.Budget.Timeout == 0 {
		c.Budget.Timeout = 10 * time.Second
	}
	if c.Budget.SnapshotTTL == 0 {
		c.Budget.SnapshotTTL = 30 * time.Second
	}

	if c.Platform.MaxRetries == 0 {
		c.Platform.MaxRetries = 3
	}
	if c.Platform.BaseDelay == 0 {
		c.Platform.BaseDelay = 250 * time.Millisecond
	}
	if c.Platform.MaxDelay == 0 {
		c.Platform.MaxDelay = 30 * time.Second
	}
	if c.Platform.CircuitBreakerThreshold == 0 {
		c.Platform.CircuitBreakerThreshold = 5
	}
	if c.Platform.CircuitBreakerResetTime == 0 {
		c.Platform.CircuitBreakerResetTime = 30 * time.Second
	}

	if c.Outbox.MaxRetries == 0 {
		c.Outbox.MaxRetries = 3
	}
	if c.Outbox.DispatchInterval == 0 {
		c.Outbox.DispatchInterval = time.Second
	}
	if c.Outbox.Retention == 0 {
		c.Outbox.Retention = 7 * 24 * time.Hour
	}

	if c.Rollup.RetentionDays == 0 {
		c.Rollup.RetentionDays = 90
	}

	if c.Storage.Mode == "" {
		c.Storage.Mode = "memory"
	}

	if c.Policy.BlockThreshold == 0 {
		c.Policy.BlockThreshold = 80
	}
	if c.Policy.ReviewThreshold == 0 {
		c.Policy.ReviewThreshold = 40
	}
}
