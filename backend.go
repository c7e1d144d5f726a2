package relyq

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/relyq/internal/config"
	"github.com/petrijr/relyq/internal/store"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type (
	Config      = config.Config
	StoreConfig = config.StoreConfig
	QueueConfig = config.QueueConfig
)

// LoadConfig reads configuration from defaults, the optional file at path
// and RELYQ_* environment variables.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// Backend is an opened store together with the connection behind it.
type Backend struct {
	Store Store
	Kind  string

	close func() error
}

// Close releases the underlying connection.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// Queue returns the queue described by cfg over this backend.
func (b *Backend) Queue(cfg QueueConfig, opts ...Option) Queue {
	if cfg.SweepBatchSize > 0 {
		opts = append([]Option{WithSweepBatchSize(cfg.SweepBatchSize)}, opts...)
	}
	if cfg.Reliable {
		return NewQueue(b.Store, cfg.Name, opts...)
	}
	return NewSimpleQueue(b.Store, cfg.Name, opts...)
}

// OpenBackend connects to the backend selected by cfg.Backend. Connection
// failures are reported as ErrStoreUnavailable.
func OpenBackend(ctx context.Context, cfg StoreConfig) (*Backend, error) {
	switch cfg.Backend {
	case "memory":
		return &Backend{Store: NewMemoryStore(), Kind: cfg.Backend}, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, &store.UnavailableError{Backend: "redis", Err: err}
		}
		return &Backend{Store: NewRedisStore(client), Kind: cfg.Backend, close: client.Close}, nil

	case "sqlite":
		return openSQL(ctx, cfg.Backend, "sqlite", SQLiteDSN(cfg.SQLite.Path), NewSQLiteStore)

	case "postgres":
		return openSQL(ctx, cfg.Backend, "pgx", cfg.Postgres.DSN, NewPostgresStore)

	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, &store.UnavailableError{Backend: "mongo", Err: err}
		}
		disconnect := func() error { return client.Disconnect(context.Background()) }
		if err := client.Ping(ctx, nil); err != nil {
			_ = disconnect()
			return nil, &store.UnavailableError{Backend: "mongo", Err: err}
		}
		st, err := NewMongoStore(ctx, client, cfg.Mongo.Database)
		if err != nil {
			_ = disconnect()
			return nil, err
		}
		return &Backend{Store: st, Kind: cfg.Backend, close: disconnect}, nil

	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidArgument, cfg.Backend)
	}
}

func openSQL(ctx context.Context, kind, driver, dsn string, newStore func(context.Context, *sql.DB) (Store, error)) (*Backend, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &store.UnavailableError{Backend: kind, Err: err}
	}
	st, err := newStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Backend{Store: st, Kind: kind, close: db.Close}, nil
}
