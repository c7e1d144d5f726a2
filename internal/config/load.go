package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const envPrefix = "RELYQ"

var defaults = map[string]any{
	"store.backend":            "sqlite",
	"store.redis.addr":         "localhost:6379",
	"store.redis.password":     "",
	"store.redis.db":           0,
	"store.sqlite.path":        "relyq.db",
	"store.postgres.dsn":       "",
	"store.mongo.uri":          "mongodb://localhost:27017/?directConnection=true",
	"store.mongo.database":     "relyq",
	"queue.name":               "relyq",
	"queue.reliable":           true,
	"queue.abandoned_ms":       30_000,
	"queue.sweep_batch_size":   512,
	"worker.concurrency":       4,
	"worker.sweep_interval_ms": 1_000,
	"worker.poll_min_ms":       5,
	"worker.poll_max_ms":       500,
	"log.level":                "info",
	"log.format":               "json",
}

// Load reads the configuration. path may be empty, in which case only
// defaults and environment variables are used. Environment variables take
// precedence over values from the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %q: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the settings required by the
// selected backend.
func Validate(cfg *Config) error {
	validate := validator.New()
	validate.RegisterStructValidation(validateStore, StoreConfig{})
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

func validateStore(sl validator.StructLevel) {
	sc := sl.Current().Interface().(StoreConfig)
	switch sc.Backend {
	case "redis":
		if sc.Redis.Addr == "" {
			sl.ReportError(sc.Redis.Addr, "Redis.Addr", "addr", "required_for_backend", sc.Backend)
		}
	case "sqlite":
		if sc.SQLite.Path == "" {
			sl.ReportError(sc.SQLite.Path, "SQLite.Path", "path", "required_for_backend", sc.Backend)
		}
	case "postgres":
		if sc.Postgres.DSN == "" {
			sl.ReportError(sc.Postgres.DSN, "Postgres.DSN", "dsn", "required_for_backend", sc.Backend)
		}
	case "mongo":
		if sc.Mongo.URI == "" {
			sl.ReportError(sc.Mongo.URI, "Mongo.URI", "uri", "required_for_backend", sc.Backend)
		}
	}
}

// IsValidationError reports whether err came from field validation rather
// than from reading the file.
func IsValidationError(err error) bool {
	var ve validator.ValidationErrors
	return errors.As(err, &ve)
}
