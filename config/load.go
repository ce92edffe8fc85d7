package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and an optional
// config.yaml in the working directory. Environment variables use the
// STUDYLOOP_ prefix with dots replaced by underscores (for example
// STUDYLOOP_RATELIMIT_BACKEND) and take precedence over file values.
// Returns a populated Settings struct or an error wrapping ErrInvalid if
// validation fails.
func Load() (*Settings, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; everything can come from the
		// environment. Any other read error is a real problem.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("STUDYLOOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv alone does not surface env-only keys through Unmarshal,
	// so bind each key explicitly.
	for _, key := range settingsKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("error binding environment variable for %s: %w", key, err)
		}
	}

	var cfg Settings
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// settingsKeys is the closed set of configuration keys this layer reads.
var settingsKeys = []string{
	"log.level",
	"log.format",
	"ratelimit.backend",
	"ratelimit.max_count",
	"ratelimit.window",
	"ratelimit.redis.addr",
	"ratelimit.redis.password",
	"ratelimit.redis.db",
	"ratelimit.redis.tls",
	"dispatch.mode",
	"dispatch.queue_url",
	"dispatch.queue_id",
	"dispatch.callback_base_url",
	"dispatch.signing_secret",
	"storage.backend",
	"storage.root",
	"storage.cache_dir",
	"storage.endpoint",
	"storage.bucket",
	"storage.access_key",
	"storage.secret_key",
	"storage.use_tls",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("ratelimit.backend", "local")
	v.SetDefault("ratelimit.max_count", 10)
	v.SetDefault("ratelimit.window", "60s")
	v.SetDefault("dispatch.mode", "inline")
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.root", "./data")
}

// validate checks structural constraints on the loaded settings.
func validate(cfg *Settings) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
