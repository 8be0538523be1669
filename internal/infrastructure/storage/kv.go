package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	recordsTable = "records"
)

const createRecordsSQL = `CREATE TABLE IF NOT EXISTS records (
	name TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// Open connects to the configured database and prepares the records table.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	switch driver {
	case "", DriverSQLite:
		driver = DriverSQLite
		if dir := filepath.Dir(dsn); dsn != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// SQLite allows one writer at a time.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=10000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("apply %q: %w", pragma, err)
			}
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	if _, err := db.ExecContext(ctx, createRecordsSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create records table: %w", err)
	}

	return db, nil
}

// KV stores named JSON records in a single table.
type KV struct {
	db      *sql.DB
	builder sq.StatementBuilderType
	now     func() time.Time
}

// NewKV wires a sql.DB; driver selects the placeholder format.
func NewKV(db *sql.DB, driver string) *KV {
	var format sq.PlaceholderFormat = sq.Question
	if strings.EqualFold(driver, DriverPostgres) {
		format = sq.Dollar
	}
	return &KV{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(format),
		now:     time.Now,
	}
}

// Get returns the stored value and whether the record exists.
func (s *KV) Get(ctx context.Context, name string) ([]byte, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, fmt.Errorf("kv store is not configured")
	}

	query, args, err := s.builder.
		Select("value").
		From(recordsTable).
		Where(sq.Eq{"name": name}).
		ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("build select: %w", err)
	}

	var value string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select %s: %w", name, err)
	}

	return []byte(value), true, nil
}

// Put replaces the record with the given value.
func (s *KV) Put(ctx context.Context, name string, value []byte) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("kv store is not configured")
	}

	query, args, err := s.builder.
		Insert(recordsTable).
		Columns("name", "value", "updated_at").
		Values(name, string(value), s.now().UTC().Format(time.RFC3339Nano)).
		Suffix("ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert %s: %w", name, err)
	}

	return nil
}
