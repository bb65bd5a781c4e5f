// Package store persists entities, snapshots, line items, deltas and job
// records. It runs over database/sql with two dialects: SQLite (the default,
// also used by tests) and PostgreSQL through the pgx stdlib driver.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Dialect selects the SQL backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect accepts the configured driver name.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	}
	return "", fmt.Errorf("unknown database driver %q", s)
}

func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite3"
}

// Options configures Open.
type Options struct {
	Dialect      Dialect
	DSN          string
	MaxOpenConns int
	Logger       *zap.Logger
	// Clock overrides time.Now, mostly for tests.
	Clock func() time.Time
}

// WriteHook is called between the stages of a Persist transaction. A non-nil
// error aborts the transaction.
type WriteHook func(stage string) error

// Persist stages passed to a WriteHook.
const (
	StageSnapshot = "snapshot"
	StageItems    = "items"
	StageDeltas   = "deltas"
	StagePointer  = "pointer"
)

// Store is the persistence layer. It is safe for concurrent use.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
	hook    WriteHook
	now     func() time.Time
}

// Open connects to the database and applies pending migrations.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Dialect == "" {
		opts.Dialect = DialectSQLite
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	dsn := opts.DSN
	if opts.Dialect == DialectSQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(opts.Dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", opts.Dialect, err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s database: %w", opts.Dialect, err)
	}

	s := &Store{
		db:      db,
		dialect: opts.Dialect,
		logger:  opts.Logger.Named("store"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	if opts.Clock != nil {
		s.now = func() time.Time { return opts.Clock().UTC() }
	}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// sqliteDSN turns a bare path into a DSN with foreign keys, WAL, a busy
// timeout and immediate write transactions so concurrent writers queue.
func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = "filingwatch.db"
	}
	if strings.Contains(dsn, "?") {
		return dsn
	}
	return dsn + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
}

// WithWriteHook returns a store sharing the connection pool whose Persist
// calls invoke hook between stages.
func (s *Store) WithWriteHook(hook WriteHook) *Store {
	cp := *s
	cp.hook = hook
	return &cp
}

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the pool to packages that own their own tables.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect reports the backend in use.
func (s *Store) Dialect() Dialect { return s.dialect }

// Now is the store clock, UTC.
func (s *Store) Now() time.Time { return s.now() }

// Rebind rewrites ? placeholders into the dialect's form.
func (s *Store) Rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) exec(ctx context.Context, q execer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.Rebind(query), args...)
}

func (s *Store) query(ctx context.Context, q execer, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.Rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, q execer, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.Rebind(query), args...)
}

// insertID runs an INSERT ... RETURNING id.
func (s *Store) insertID(ctx context.Context, q execer, query string, args ...any) (int64, error) {
	var id int64
	if err := s.queryRow(ctx, q, query+" RETURNING id", args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// Exec, Query and QueryRow run rebound statements on the pool.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.exec(ctx, s.db, query, args...)
}

func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.query(ctx, s.db, query, args...)
}

func (s *Store) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.queryRow(ctx, s.db, query, args...)
}

// InsertID runs an INSERT on the pool and returns the new row id.
func (s *Store) InsertID(ctx context.Context, query string, args ...any) (int64, error) {
	return s.insertID(ctx, s.db, query, args...)
}

// InTx runs fn inside a transaction, committing when it returns nil.
func (s *Store) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// TxExec, TxQueryRow and TxInsertID are the rebound forms for use inside InTx.
func (s *Store) TxExec(ctx context.Context, tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	return s.exec(ctx, tx, query, args...)
}

func (s *Store) TxQueryRow(ctx context.Context, tx *sql.Tx, query string, args ...any) *sql.Row {
	return s.queryRow(ctx, tx, query, args...)
}

func (s *Store) TxInsertID(ctx context.Context, tx *sql.Tx, query string, args ...any) (int64, error) {
	return s.insertID(ctx, tx, query, args...)
}
