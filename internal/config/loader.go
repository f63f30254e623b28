package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, aegis.yaml/.yml is searched in standard
// locations. The search requires an explicit YAML extension so the binary
// itself (same base name, no extension) is never matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		viper.SetConfigName("aegis")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: AEGIS_QUEUE_PARTITION_COUNT
	viper.SetEnvPrefix("AEGIS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for aegis.yaml or aegis.yml.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".aegis"),
		"/etc/aegis",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "aegis"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested config keys for environment override.
// Example: AEGIS_PLATFORM_BOT_TOKEN overrides platform.bot_token.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")

	_ = viper.BindEnv("queue.partition_count")
	_ = viper.BindEnv("queue.concurrency")
	_ = viper.BindEnv("queue.max_concurrency_per_shard")
	_ = viper.BindEnv("queue.high_watermark")
	_ = viper.BindEnv("queue.publish_wait")
	_ = viper.BindEnv("queue.max_job_retries")
	_ = viper.BindEnv("queue.shard_rate")
	_ = viper.BindEnv("queue.shutdown_grace")

	_ = viper.BindEnv("cache.ttl")
	_ = viper.BindEnv("cache.max_entries")
	_ = viper.BindEnv("cache.cleanup_interval")

	_ = viper.BindEnv("budget.mode")
	_ = viper.BindEnv("budget.service_url")
	_ = viper.BindEnv("budget.api_key")
	_ = viper.BindEnv("budget.timeout")
	_ = viper.BindEnv("budget.snapshot_ttl")

	_ = viper.BindEnv("platform.bot_token")
	_ = viper.BindEnv("platform.api_url")
	_ = viper.BindEnv("platform.max_retries")
	_ = viper.BindEnv("platform.base_delay")
	_ = viper.BindEnv("platform.max_delay")
	_ = viper.BindEnv("platform.circuit_breaker_threshold")
	_ = viper.BindEnv("platform.circuit_breaker_reset_time")
	_ = viper.BindEnv("platform.rate_limit")

	_ = viper.BindEnv("ai.enabled")
	_ = viper.BindEnv("ai.model")

	_ = viper.BindEnv("outbox.max_retries")
	_ = viper.BindEnv("outbox.dispatch_interval")
	_ = viper.BindEnv("outbox.retention")

	_ = viper.BindEnv("rollup.schedule_cron")
	_ = viper.BindEnv("rollup.retention_days")

	_ = viper.BindEnv("storage.mode")
	_ = viper.BindEnv("storage.path")

	_ = viper.BindEnv("policy.tenant_rules_file")
	_ = viper.BindEnv("policy.block_threshold")
	_ = viper.BindEnv("policy.review_threshold")
}

// LoadConfig reads the configuration file, applies environment overrides and
// defaults, and validates the result. A missing config file is not an error;
// pure env-var configuration is supported.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path of the loaded config file, or "" when
// running on environment variables alone.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
