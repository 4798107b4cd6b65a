package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

// Config is loaded from the environment. DATABASE_DSN, REDIS_URL and
// RABBITMQ_URL are optional: without them the process runs on in-memory
// stores and does not publish lifecycle events.
type Config struct {
	DatabaseDSN  string `env:"DATABASE_DSN"`
	RedisURL     string `env:"REDIS_URL"`
	RabbitMQURL  string `env:"RABBITMQ_URL"`
	DirectoryURL string `env:"DIRECTORY_URL,required=true" validate:"url"`
	ExecutionURL string `env:"EXECUTION_URL,required=true" validate:"url"`

	JobsConfigPath         string        `env:"JOBS_CONFIG_PATH,default=config/jobs.json"`
	MaxConcurrentItems     int           `env:"MAX_CONCURRENT_ITEMS,default=5" validate:"min=1,max=1000"`
	PreferencePollInterval time.Duration `env:"PREFERENCE_POLL_INTERVAL,default=60s" validate:"min=1s"`
	ItemTimeout            time.Duration `env:"ITEM_TIMEOUT,default=0s" validate:"min=0"`
	ItemMaxRetries         int           `env:"ITEM_MAX_RETRIES,default=0" validate:"min=0,max=10"`
	ShutdownGracePeriod    time.Duration `env:"SHUTDOWN_GRACE_PERIOD,default=30s" validate:"min=0"`
	SchedulerTimezone      string        `env:"SCHEDULER_TIMEZONE,default=UTC"`
	StrictBatchTypes       bool          `env:"STRICT_BATCH_TYPES,default=false"`
	ConsumeTriggers        bool          `env:"CONSUME_TRIGGERS,default=true"`

	RateLimitPerSec int    `env:"RATE_LIMIT_PER_SEC,default=100" validate:"min=1"`
	APIPort         int    `env:"API_PORT,default=8080" validate:"min=1,max=65535"`
	LogLevel        string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
