package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Dialect selects the SQL flavour spoken by SQLStore.
type Dialect string

const (
	// DialectSQLite expects a database/sql handle using modernc.org/sqlite
	// (driver name "sqlite").
	DialectSQLite Dialect = "sqlite"
	// DialectPostgres expects a database/sql handle using the pgx stdlib
	// driver (driver name "pgx").
	DialectPostgres Dialect = "postgres"
)

// SQLStore is a Store backed by a relational database. Every batch runs in
// one SQL transaction.
//
// Schema (created automatically if missing):
//
//	relyq_seq    (id, name, member)          ordered by id
//	relyq_scored (name, member, score)       primary key (name, member)
//	relyq_kv     (name, member, value)       primary key (name, member)
//
// For SQLite the handle should be opened with _txlock=immediate so that
// concurrent batches serialize on BEGIN instead of failing on upgrade.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore initializes the schema in db and returns a new SQLStore.
// The caller owns db.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	switch dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}
	s := &SQLStore{db: db, dialect: dialect}
	if err := s.initSchema(ctx); err != nil {
		return nil, unavailable(string(dialect), err)
	}
	return s, nil
}

// SQLiteDSN returns a modernc.org/sqlite DSN for path with the pragmas the
// store relies on.
func SQLiteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	idCol := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	blob := "BLOB"
	if s.dialect == DialectPostgres {
		idCol = "id BIGSERIAL PRIMARY KEY"
		blob = "BYTEA"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS relyq_seq (
			` + idCol + `,
			name   TEXT NOT NULL,
			member TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_relyq_seq_name_id ON relyq_seq(name, id)`,
		`CREATE TABLE IF NOT EXISTS relyq_scored (
			name   TEXT NOT NULL,
			member TEXT NOT NULL,
			score  BIGINT NOT NULL,
			PRIMARY KEY (name, member)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_relyq_scored_name_score ON relyq_scored(name, score)`,
		`CREATE TABLE IF NOT EXISTS relyq_kv (
			name   TEXT NOT NULL,
			member TEXT NOT NULL,
			value  ` + blob + ` NOT NULL,
			PRIMARY KEY (name, member)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) Exec(ctx context.Context, b *Batch) (res Results, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable(string(s.dialect), err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err = run(ctx, b, sqlTx{tx: tx, dialect: s.dialect})
	if err != nil {
		return nil, unavailable(string(s.dialect), err)
	}
	if err = tx.Commit(); err != nil {
		return nil, unavailable(string(s.dialect), err)
	}
	return res, nil
}

func (s *SQLStore) RangeByScore(ctx context.Context, assoc string, min, max int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, rebind(s.dialect, `
		SELECT member FROM relyq_scored
		WHERE name = ? AND score >= ? AND score <= ?
		ORDER BY score, member`), assoc, min, max)
	if err != nil {
		return nil, unavailable(string(s.dialect), err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, unavailable(string(s.dialect), err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(string(s.dialect), err)
	}
	return out, nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func rebind(d Dialect, query string) string {
	if d != DialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

type sqlTx struct {
	tx      *sql.Tx
	dialect Dialect
}

func (t sqlTx) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, rebind(t.dialect, query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t sqlTx) queryString(ctx context.Context, query string, args ...any) (string, bool, error) {
	var v []byte
	err := t.tx.QueryRowContext(ctx, rebind(t.dialect, query), args...).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(v), true, nil
}

func (t sqlTx) queryCount(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	err := t.tx.QueryRowContext(ctx, rebind(t.dialect, query), args...).Scan(&n)
	return n, err
}

func (t sqlTx) append(ctx context.Context, seq, member string) error {
	_, err := t.exec(ctx, `INSERT INTO relyq_seq (name, member) VALUES (?, ?)`, seq, member)
	return err
}

func (t sqlTx) popHead(ctx context.Context, seq string) (string, bool, error) {
	lock := ""
	if t.dialect == DialectPostgres {
		lock = " FOR UPDATE SKIP LOCKED"
	}
	return t.queryString(ctx, `
		DELETE FROM relyq_seq
		WHERE id = (
			SELECT id FROM relyq_seq
			WHERE name = ?
			ORDER BY id
			LIMIT 1`+lock+`
		)
		RETURNING member`, seq)
}

func (t sqlTx) scoreAdd(ctx context.Context, assoc, member string, score int64) (bool, error) {
	existed, err := t.queryCount(ctx, `SELECT COUNT(*) FROM relyq_scored WHERE name = ? AND member = ?`, assoc, member)
	if err != nil {
		return false, err
	}
	_, err = t.exec(ctx, `
		INSERT INTO relyq_scored (name, member, score) VALUES (?, ?, ?)
		ON CONFLICT (name, member) DO UPDATE SET score = excluded.score`, assoc, member, score)
	return existed == 0, err
}

func (t sqlTx) scoreRemove(ctx context.Context, assoc, member string, max *int64) (int64, error) {
	if max != nil {
		return t.exec(ctx, `DELETE FROM relyq_scored WHERE name = ? AND member = ? AND score <= ?`, assoc, member, *max)
	}
	return t.exec(ctx, `DELETE FROM relyq_scored WHERE name = ? AND member = ?`, assoc, member)
}

func (t sqlTx) set(ctx context.Context, m, member, value string) (bool, error) {
	existed, err := t.queryCount(ctx, `SELECT COUNT(*) FROM relyq_kv WHERE name = ? AND member = ?`, m, member)
	if err != nil {
		return false, err
	}
	_, err = t.exec(ctx, `
		INSERT INTO relyq_kv (name, member, value) VALUES (?, ?, ?)
		ON CONFLICT (name, member) DO UPDATE SET value = excluded.value`, m, member, []byte(value))
	return existed == 0, err
}

func (t sqlTx) get(ctx context.Context, m, member string) (string, bool, error) {
	return t.queryString(ctx, `SELECT value FROM relyq_kv WHERE name = ? AND member = ?`, m, member)
}

func (t sqlTx) del(ctx context.Context, m, member string) (int64, error) {
	return t.exec(ctx, `DELETE FROM relyq_kv WHERE name = ? AND member = ?`, m, member)
}

func (t sqlTx) exists(ctx context.Context, m, member string) (bool, error) {
	n, err := t.queryCount(ctx, `SELECT COUNT(*) FROM relyq_kv WHERE name = ? AND member = ?`, m, member)
	return n > 0, err
}

func (t sqlTx) seqLen(ctx context.Context, seq string) (int64, error) {
	return t.queryCount(ctx, `SELECT COUNT(*) FROM relyq_seq WHERE name = ?`, seq)
}

func (t sqlTx) scoreCard(ctx context.Context, assoc string) (int64, error) {
	return t.queryCount(ctx, `SELECT COUNT(*) FROM relyq_scored WHERE name = ?`, assoc)
}
