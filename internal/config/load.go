package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load configuration from environment variables and optionally a config file.
// Environment variables (prefixed SNAPFORGE_, nested keys joined with "_")
// take precedence over values from config.yaml in the working directory.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, the environment can carry everything
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("SNAPFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without defaults must be bound explicitly or Unmarshal never sees
	// them. These are the secrets setDefaults leaves out.
	bindEnvs := []struct {
		key    string
		envVar string
	}{
		{"database.url", "SNAPFORGE_DATABASE_URL"},
		{"redis.password", "SNAPFORGE_REDIS_PASSWORD"},
		{"storage.url", "SNAPFORGE_STORAGE_URL"},
		{"storage.service_key", "SNAPFORGE_STORAGE_SERVICE_KEY"},
		{"storage.bucket", "SNAPFORGE_STORAGE_BUCKET"},
	}
	for _, env := range bindEnvs {
		if err := v.BindEnv(env.key, env.envVar); err != nil {
			return nil, fmt.Errorf("error binding environment variable %s: %w", env.envVar, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults seeds viper with the defaults every deployment can fall back
// on. Secrets (database URL, storage key) have no defaults on purpose.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("task.worker_count", 2)
	v.SetDefault("task.queue_size", 100)
	v.SetDefault("task.stuck_task_age_minutes", 30)

	v.SetDefault("worker.transforms_per_second", 5)
	v.SetDefault("worker.download_timeout_seconds", 15)
	v.SetDefault("worker.jpeg_quality", 50)

	v.SetDefault("webhook.timeout_seconds", 5)
	v.SetDefault("webhook.retry_timeout_seconds", 10)
	v.SetDefault("webhook.sweep_interval_minutes", 5)
	v.SetDefault("webhook.max_attempts", 10)
	v.SetDefault("webhook.backoff_base_seconds", 1)
	v.SetDefault("webhook.backoff_cap_seconds", 3600)

	v.SetDefault("rate_limit.limit", 5)
	v.SetDefault("rate_limit.window_seconds", 60)
	v.SetDefault("rate_limit.fail_open", false)
}
