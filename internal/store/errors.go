package store

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrForeignKey        = errors.New("referential integrity violation")
	ErrDuplicate         = errors.New("duplicate key")
	ErrCheck             = errors.New("check constraint violation")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// ConnectionError means the store could not be reached. The store does not
// retry; callers decide.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("store unreachable during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SchemaConflictError means an existing table does not match the expected
// definition. Incompatible tables are never migrated automatically.
type SchemaConflictError struct {
	Table     string
	Statement string
	Reason    string
	Err       error
}

func (e *SchemaConflictError) Error() string {
	msg := fmt.Sprintf("schema conflict on table %s", e.Table)
	if e.Statement != "" {
		msg += fmt.Sprintf(" (statement %s)", e.Statement)
	}
	return msg + ": " + e.Reason
}

func (e *SchemaConflictError) Unwrap() error { return e.Err }

// wrapErr classifies a driver error. Connection failures become
// ConnectionError, constraint failures wrap one of the sentinels above.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isConnectionErr(err) {
		return &ConnectionError{Op: op, Err: err}
	}
	if kind := constraintKind(err); kind != nil {
		return fmt.Errorf("%s: %w: %w", op, kind, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func statementErr(stmt Statement, err error) error {
	op := stmt.Name
	if stmt.Table != "" {
		op = fmt.Sprintf("%s on %s", stmt.Name, stmt.Table)
	}
	return wrapErr(op, err)
}

func isConnectionErr(err error) bool {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func constraintKind(err error) error {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintForeignKey:
			return ErrForeignKey
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return ErrDuplicate
		case sqlite3.ErrConstraintCheck, sqlite3.ErrConstraintNotNull:
			return ErrCheck
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23503", "23001":
			return ErrForeignKey
		case "23505":
			return ErrDuplicate
		case "23514", "23502":
			return ErrCheck
		}
	}

	// libsql reports constraint failures as plain text
	msg := err.Error()
	switch {
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return ErrForeignKey
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return ErrDuplicate
	case strings.Contains(msg, "CHECK constraint failed"), strings.Contains(msg, "NOT NULL constraint failed"):
		return ErrCheck
	}
	return nil
}
