package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Redis     RedisConfig     `mapstructure:"redis" validate:"required"`
	Storage   StorageConfig   `mapstructure:"storage" validate:"required"`
	Task      TaskConfig      `mapstructure:"task" validate:"required"`
	Worker    WorkerConfig    `mapstructure:"worker" validate:"required"`
	Webhook   WebhookConfig   `mapstructure:"webhook" validate:"required"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" validate:"required"`
}

// ServerConfig contains all HTTP server related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// RedisConfig contains connection settings for the shared redis instance
// backing the rate limiter.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"   validate:"gte=0"`
}

// StorageConfig contains object storage settings for processed images.
type StorageConfig struct {
	URL        string `mapstructure:"url"         validate:"required,url"`
	ServiceKey string `mapstructure:"service_key" validate:"required"`
	Bucket     string `mapstructure:"bucket"      validate:"required"`
}

// TaskConfig contains settings for the durable background task queue.
type TaskConfig struct {
	WorkerCount         int `mapstructure:"worker_count"           validate:"required,gt=0"`
	QueueSize           int `mapstructure:"queue_size"             validate:"required,gt=0"`
	StuckTaskAgeMinutes int `mapstructure:"stuck_task_age_minutes" validate:"required,gt=0"`
}

// WorkerConfig contains settings for the image processing pipeline.
type WorkerConfig struct {
	// TransformsPerSecond caps how many image transforms may start per second
	// across all workers, protecting downstream transform/storage capacity.
	TransformsPerSecond    int `mapstructure:"transforms_per_second"    validate:"required,gt=0"`
	DownloadTimeoutSeconds int `mapstructure:"download_timeout_seconds" validate:"required,gt=0"`
	JPEGQuality            int `mapstructure:"jpeg_quality"             validate:"required,gt=0,lte=100"`
}

// WebhookConfig contains settings for webhook delivery and retry scheduling.
type WebhookConfig struct {
	TimeoutSeconds       int `mapstructure:"timeout_seconds"        validate:"required,gt=0"`
	RetryTimeoutSeconds  int `mapstructure:"retry_timeout_seconds"  validate:"required,gt=0"`
	SweepIntervalMinutes int `mapstructure:"sweep_interval_minutes" validate:"required,gt=0"`
	MaxAttempts          int `mapstructure:"max_attempts"           validate:"required,gt=0"`
	BackoffBaseSeconds   int `mapstructure:"backoff_base_seconds"   validate:"required,gt=0"`
	BackoffCapSeconds    int `mapstructure:"backoff_cap_seconds"    validate:"required,gt=0"`
}

// RateLimitConfig contains settings for ingestion admission control.
type RateLimitConfig struct {
	Limit         int `mapstructure:"limit"          validate:"required,gt=0"`
	WindowSeconds int `mapstructure:"window_seconds" validate:"required,gt=0"`
	// FailOpen decides what happens when the counting store is unreachable:
	// true admits traffic without counting, false rejects it. There is
	// deliberately no middle ground.
	FailOpen bool `mapstructure:"fail_open"`
}
