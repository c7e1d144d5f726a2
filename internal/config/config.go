package config

import "time"

// Config holds all relyq configuration.
type Config struct {
	Store  StoreConfig  `mapstructure:"store"`
	Queue  QueueConfig  `mapstructure:"queue"`
	Worker WorkerConfig `mapstructure:"worker"`
	Log    LogConfig    `mapstructure:"log"`
}

// StoreConfig selects the backend and holds its connection settings. Only
// the section of the selected backend is validated.
type StoreConfig struct {
	Backend  string         `mapstructure:"backend" validate:"required,oneof=memory redis sqlite postgres mongo"`
	Redis    RedisConfig    `mapstructure:"redis"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// QueueConfig describes the queue every command operates on.
type QueueConfig struct {
	Name string `mapstructure:"name" validate:"required"`
	// Reliable selects the reliable engine; false selects the simple queue
	// without a working set.
	Reliable       bool  `mapstructure:"reliable"`
	AbandonedMs    int64 `mapstructure:"abandoned_ms" validate:"gt=0"`
	SweepBatchSize int   `mapstructure:"sweep_batch_size" validate:"gte=1"`
}

// Abandoned returns the checkout age after which an item is reclaimed.
func (q QueueConfig) Abandoned() time.Duration {
	return time.Duration(q.AbandonedMs) * time.Millisecond
}

// WorkerConfig tunes the worker pool started by the work command.
type WorkerConfig struct {
	Concurrency     int   `mapstructure:"concurrency" validate:"gte=1"`
	SweepIntervalMs int64 `mapstructure:"sweep_interval_ms" validate:"gt=0"`
	PollMinMs       int64 `mapstructure:"poll_min_ms" validate:"gt=0"`
	PollMaxMs       int64 `mapstructure:"poll_max_ms" validate:"gtefield=PollMinMs"`
}

func (w WorkerConfig) SweepInterval() time.Duration {
	return time.Duration(w.SweepIntervalMs) * time.Millisecond
}

func (w WorkerConfig) PollMin() time.Duration {
	return time.Duration(w.PollMinMs) * time.Millisecond
}

func (w WorkerConfig) PollMax() time.Duration {
	return time.Duration(w.PollMaxMs) * time.Millisecond
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}
