package relyq

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/relyq/internal/engine"
	"github.com/petrijr/relyq/internal/store"
	"github.com/petrijr/relyq/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Item                 = api.Item
	Stats                = api.Stats
	ConsistencyError     = api.ConsistencyError
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
	Store                = store.Store
	Option               = engine.Option
)

var (
	ErrStoreUnavailable     = api.ErrStoreUnavailable
	ErrConsistencyViolation = api.ErrConsistencyViolation
	ErrNotImplemented       = api.ErrNotImplemented
	ErrEmptyKey             = api.ErrEmptyKey
	ErrInvalidArgument      = api.ErrInvalidArgument
)

// Re-export common observer helpers and engine options.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver

	WithObserver       = engine.WithObserver
	WithClock          = engine.WithClock
	WithSweepBatchSize = engine.WithSweepBatchSize
)

// Queue is an api.Queue that can also report its size.
type Queue interface {
	api.Queue
	Stats(ctx context.Context) (Stats, error)
}

// Store constructors
// These wrap the internal/store package so external callers
// never need to import internal packages.

// NewMemoryStore returns a store that lives in this process only.
func NewMemoryStore() Store {
	return store.NewMemoryStore()
}

// NewRedisStore returns a store over the given Redis client.
func NewRedisStore(client *redis.Client) Store {
	return store.NewRedisStore(client)
}

// NewSQLiteStore creates the relyq tables in db if needed. db must use the
// modernc.org/sqlite driver; SQLiteDSN builds a suitable DSN.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (Store, error) {
	return store.NewSQLStore(ctx, db, store.DialectSQLite)
}

// SQLiteDSN returns a DSN for path with immediate transactions, a busy
// timeout and WAL journaling.
func SQLiteDSN(path string) string {
	return store.SQLiteDSN(path)
}

// NewPostgresStore creates the relyq tables in db if needed. db must use the
// pgx stdlib driver.
func NewPostgresStore(ctx context.Context, db *sql.DB) (Store, error) {
	return store.NewSQLStore(ctx, db, store.DialectPostgres)
}

// NewMongoStore prepares the relyq collections in database dbName. The
// deployment must support transactions (a replica set or sharded cluster).
func NewMongoStore(ctx context.Context, client *mongo.Client, dbName string) (Store, error) {
	return store.NewMongoStore(ctx, client, dbName)
}

// Queue constructors

// NewQueue returns the reliable queue called name over st.
func NewQueue(st Store, name string, opts ...Option) Queue {
	return engine.New(st, name, opts...)
}

// NewSimpleQueue returns a queue without a working set: dequeued items
// leave the store immediately and Sweep reports ErrNotImplemented.
func NewSimpleQueue(st Store, name string, opts ...Option) Queue {
	return engine.NewSimple(st, name, opts...)
}

// NewInMemoryQueue returns a reliable queue over a fresh in-memory store.
func NewInMemoryQueue(name string, opts ...Option) Queue {
	return engine.New(store.NewMemoryStore(), name, opts...)
}
