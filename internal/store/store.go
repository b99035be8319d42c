package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"stock-ledger/config"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
)

// Dialect selects DDL types and introspection queries.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

func init() {
	sqlx.BindDriver("libsql", sqlx.QUESTION)
}

type Store struct {
	db      *sqlx.DB
	dialect Dialect
}

// Statement is one SQL statement submitted to the store, named so failures
// can point at the offending table and step.
type Statement struct {
	Name  string
	Table string
	SQL   string
}

// NewStore opens the store described by creds and verifies it is reachable.
// SQLite-family stores get a single connection so per-connection pragmas
// hold for the whole run.
func NewStore(ctx context.Context, creds config.Credentials) (*Store, error) {
	driver, dsn, dialect, err := driverFor(creds)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, &ConnectionError{Op: "open", Err: err}
	}

	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &ConnectionError{Op: "ping", Err: err}
	}

	s := &Store{db: db, dialect: dialect}
	if err := s.EnableForeignKeys(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Dialect returns the SQL dialect of the open store
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Ping checks the store is still reachable
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &ConnectionError{Op: "ping", Err: err}
	}
	return nil
}

// EnableForeignKeys turns on constraint enforcement for the connection.
// Postgres always enforces them.
func (s *Store) EnableForeignKeys(ctx context.Context) error {
	if s.dialect != DialectSQLite {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return wrapErr("enable foreign keys", err)
	}
	return nil
}

// ForeignKeysEnabled reports whether the connection enforces foreign keys
func (s *Store) ForeignKeysEnabled(ctx context.Context) (bool, error) {
	if s.dialect != DialectSQLite {
		return true, nil
	}
	var on int
	if err := s.db.GetContext(ctx, &on, "PRAGMA foreign_keys"); err != nil {
		return false, wrapErr("read foreign_keys pragma", err)
	}
	return on == 1, nil
}

// Exec runs a single statement
func (s *Store) Exec(ctx context.Context, stmt Statement) error {
	if _, err := s.db.ExecContext(ctx, stmt.SQL); err != nil {
		return statementErr(stmt, err)
	}
	return nil
}

// ExecBatch submits the statements as one unit: all of them commit or none do.
func (s *Store) ExecBatch(ctx context.Context, stmts []Statement) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapErr("begin batch", err)
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt.SQL); err != nil {
			return statementErr(stmt, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("commit batch", err)
	}
	return nil
}

func driverFor(creds config.Credentials) (driver, dsn string, dialect Dialect, err error) {
	raw := strings.TrimSpace(creds.URL)
	scheme, rest, hasScheme := strings.Cut(raw, "://")

	switch {
	case raw == "":
		return "", "", "", &config.ConfigurationError{Source: "store url", Err: config.ErrCredentialsNotFound}
	case !hasScheme:
		// ":memory:", "file:stock.db" and bare paths
		return "sqlite3", withParam(raw, "_foreign_keys", "on"), DialectSQLite, nil
	}

	switch strings.ToLower(scheme) {
	case "sqlite", "sqlite3":
		return "sqlite3", withParam(rest, "_foreign_keys", "on"), DialectSQLite, nil
	case "postgres", "postgresql":
		return "postgres", raw, DialectPostgres, nil
	case "libsql", "https", "http", "wss", "ws":
		target := config.NormalizeURL(raw)
		if creds.Token != "" {
			target = withParam(target, "authToken", creds.Token)
		}
		return "libsql", target, DialectSQLite, nil
	default:
		return "", "", "", &config.ConfigurationError{
			Source: "store url",
			Err:    fmt.Errorf("unsupported scheme %q", scheme),
		}
	}
}

func withParam(dsn, key, value string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + key + "=" + url.QueryEscape(value)
}
