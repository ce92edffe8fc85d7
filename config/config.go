package config

import (
	"errors"
	"time"
)

// ErrInvalid is returned when loaded settings fail validation.
// Selector code treats any error wrapping ErrInvalid as a configuration
// problem rather than a transient dependency failure.
var ErrInvalid = errors.New("invalid configuration")

// Settings holds all platform configuration.
// It organizes settings into one group per façade; each backend selector
// reads exactly its own group.
type Settings struct {
	Log       LogConfig       `mapstructure:"log" validate:"required"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit" validate:"required"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch" validate:"required"`
	Storage   StorageConfig   `mapstructure:"storage" validate:"required"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	// Format selects the handler: "json" for production, "text" for a
	// colorized development handler.
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	// Backend selects the implementation: "local" keeps counters in
	// process memory, "shared" uses the Redis counter store.
	Backend string `mapstructure:"backend" validate:"required,oneof=local shared"`

	// MaxCount is the number of events allowed per key within Window.
	MaxCount int           `mapstructure:"max_count" validate:"required,gt=0"`
	Window   time.Duration `mapstructure:"window" validate:"required,gt=0"`

	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig contains connection settings for the shared counter store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TLS      bool   `mapstructure:"tls"`
}

// DispatchConfig contains task dispatch settings.
type DispatchConfig struct {
	// Mode selects the implementation: "inline" executes caller-driven,
	// "queued" posts to the external durable queue.
	Mode string `mapstructure:"mode" validate:"required,oneof=inline queued"`

	// QueueURL is the base URL of the durable queue service.
	// Required when Mode is "queued".
	QueueURL string `mapstructure:"queue_url" validate:"omitempty,url"`

	// QueueID identifies the queue tasks are submitted to.
	QueueID string `mapstructure:"queue_id"`

	// CallbackBaseURL is joined with each task's handler address to form
	// the absolute callback URL delivered by the queue.
	CallbackBaseURL string `mapstructure:"callback_base_url" validate:"omitempty,url"`

	// SigningSecret signs submitted tasks so the callback router can
	// verify that a delivery originated from this layer.
	SigningSecret string `mapstructure:"signing_secret"`
}

// StorageConfig contains object storage settings.
type StorageConfig struct {
	// Backend selects the implementation: "local" uses the filesystem
	// under Root, "remote" uses the S3-compatible object store.
	Backend string `mapstructure:"backend" validate:"required,oneof=local remote"`

	// Root is the directory all logical paths resolve under.
	Root string `mapstructure:"root" validate:"required"`

	// CacheDir is where the remote backend caches downloaded objects.
	CacheDir string `mapstructure:"cache_dir"`

	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseTLS    bool   `mapstructure:"use_tls"`
}
