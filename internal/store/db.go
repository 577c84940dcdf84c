package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a lookup by identity finds nothing.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a memory repeats a source_url already
	// stored in its community.
	ErrDuplicate = errors.New("duplicate source url")
)

// DB is the hypermem SQLite database. All communities share one file.
type DB struct {
	*sql.DB
	Path string
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// connPragmas apply to every pooled connection through the DSN.
const connPragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

// DefaultDBPath is ~/.hypermem/hypermem.db.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".hypermem", "hypermem.db"), nil
}

// Open opens or creates the database file at path and brings its schema
// up to date.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return open(path, path+"?"+connPragmas, 0)
}

// OpenMemory opens a private in-memory database, used by tests.
func OpenMemory() (*DB, error) {
	// every connection to :memory: sees its own database
	return open(":memory:", ":memory:?"+connPragmas, 1)
}

func open(path, dsn string, maxConns int) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if maxConns > 0 {
		sqlDB.SetMaxOpenConns(maxConns)
	}

	db := &DB{DB: sqlDB, Path: path}
	if err := db.tune(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// tune sets the database-wide pragmas. journal_mode is a no-op in memory.
func (db *DB) tune() error {
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	} {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// WithTx runs fn inside a transaction and commits when fn returns nil.
// fn must only touch tx; using db inside fn deadlocks a single-connection pool.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
