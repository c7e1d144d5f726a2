package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/relyq/internal/testutil"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type SQLiteStoreTestSuite struct {
	storeSuite
}

func TestSQLiteStoreSuite(t *testing.T) {
	db, err := sql.Open("sqlite", SQLiteDSN(filepath.Join(t.TempDir(), "relyq.db")))
	require.NoError(t, err, "sql.Open failed")
	t.Cleanup(func() { _ = db.Close() })

	st, err := NewSQLStore(context.Background(), db, DialectSQLite)
	require.NoError(t, err, "NewSQLStore failed")

	s := new(SQLiteStoreTestSuite)
	s.store = st
	suite.Run(t, s)
}

type PostgresStoreTestSuite struct {
	storeSuite
}

func TestPostgresStoreSuite(t *testing.T) {
	dsn := testutil.GetPostgresDSN(t)

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err, "sql.Open failed")
	t.Cleanup(func() { _ = db.Close() })

	st, err := NewSQLStore(context.Background(), db, DialectPostgres)
	require.NoError(t, err, "NewSQLStore failed")

	s := new(PostgresStoreTestSuite)
	s.store = st
	suite.Run(t, s)
}

func TestNewSQLStore_RejectsUnknownDialect(t *testing.T) {
	_, err := NewSQLStore(context.Background(), nil, Dialect("oracle"))
	require.Error(t, err)
}

func TestSQLiteDSN(t *testing.T) {
	require.Equal(t, "a.db?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", SQLiteDSN("a.db"))
	require.Equal(t, "file:a.db?mode=rwc&_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", SQLiteDSN("file:a.db?mode=rwc"))
}
