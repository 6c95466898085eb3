// Package store is the single persistence layer: candles, download jobs,
// signal configs, signals, simulated and real trades, notifications and
// derived metrics. The default backend is a local SQLite file; setting
// DATABASE_URL to a postgres URL switches to PostgreSQL via pgx, with
// placeholders rebound from ? to $n.
//
// All engines coordinate exclusively through this store: there is no other
// shared state between processes.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Config selects the backend.
type Config struct {
	// DatabaseURL, when a postgres URL, selects PostgreSQL. The schema is
	// assumed managed externally (migrations are out of scope).
	DatabaseURL string
	// DBPath is the SQLite file path used when DatabaseURL is empty.
	// ":memory:" is valid and used by tests.
	DBPath string
}

// Store wraps a database/sql handle plus the dialect flag.
type Store struct {
	db *sql.DB
	pg bool
}

// Open connects to the configured backend. The SQLite schema is created on
// first open (WAL, busy timeout, foreign keys), matching single-writer use.
func Open(cfg Config) (*Store, error) {
	if strings.HasPrefix(cfg.DatabaseURL, "postgres://") || strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres open: %w", err)
		}
		log.Printf("[store] using postgres backend")
		return &Store{db: db, pg: true}, nil
	}

	path := cfg.DBPath
	if path == "" {
		path = "data/trading_tools.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single connection: serializes writers and keeps :memory: databases
	// from evaporating between pool checkouts.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[store] opened sqlite database at %s", path)
	return s, nil
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// rebind translates ? placeholders to $1..$n for the postgres backend.
func (s *Store) rebind(query string) string {
	if !s.pg {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

// exec runs a statement with dialect-rebound placeholders.
func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

// query runs a query with dialect-rebound placeholders.
func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

// queryRow runs a single-row query with dialect-rebound placeholders.
func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// insertReturningID inserts one row and returns its surrogate id. SQLite
// reports it through LastInsertId, postgres needs RETURNING.
func (s *Store) insertReturningID(ctx context.Context, tx *sql.Tx, query string, args ...any) (int64, error) {
	if s.pg {
		q := strings.TrimRight(strings.TrimSpace(s.rebind(query)), ";") + " RETURNING id"
		var id int64
		var err error
		if tx != nil {
			err = tx.QueryRowContext(ctx, q, args...).Scan(&id)
		} else {
			err = s.db.QueryRowContext(ctx, q, args...).Scan(&id)
		}
		return id, err
	}

	var res sql.Result
	var err error
	if tx != nil {
		res, err = tx.ExecContext(ctx, query, args...)
	} else {
		res, err = s.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// isUniqueViolation classifies duplicate-key failures across both drivers
// (sqlite reports "UNIQUE constraint failed", pgx SQLSTATE 23505 renders
// as "duplicate key value violates unique constraint").
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "SQLSTATE 23505")
}
