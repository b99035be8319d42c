package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stock-ledger/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// SchemaState is either uninitialized or initialized; there is no visible
// in-between state.
type SchemaState string

const (
	SchemaUninitialized SchemaState = "uninitialized"
	SchemaInitialized   SchemaState = "initialized"
)

type migration struct {
	Version    int
	Name       string
	Statements func(Dialect) []Statement
}

// migrations is the ordered schema chain. Every statement is conditional so
// a step re-run against an existing table is a no-op.
var migrations = []migration{
	{Version: 1, Name: "catalog", Statements: catalogStatements},
	{Version: 2, Name: "loans", Statements: loanStatements},
	{Version: 3, Name: "loan_indexes", Statements: loanIndexStatements},
}

// LatestSchemaVersion is the version EnsureSchema brings a store to
var LatestSchemaVersion = migrations[len(migrations)-1].Version

func (d Dialect) integer() string {
	if d == DialectPostgres {
		return "BIGINT"
	}
	return "INTEGER"
}

func (d Dialect) blob() string {
	if d == DialectPostgres {
		return "BYTEA"
	}
	return "BLOB"
}

func (d Dialect) forUpdate() string {
	if d == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func versionTableStatement() Statement {
	return Statement{
		Name:  "create_schema_migrations",
		Table: "schema_migrations",
		SQL: `CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY NOT NULL,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)`,
	}
}

func catalogStatements(d Dialect) []Statement {
	return []Statement{
		{
			Name:  "create_product",
			Table: "Product",
			SQL: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS Product (
				name TEXT PRIMARY KEY NOT NULL,
				price %s,
				picture %s,
				type TEXT
			)`, d.integer(), d.blob()),
		},
		{
			Name:  "create_stock",
			Table: "Stock",
			SQL: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS Stock (
				id TEXT PRIMARY KEY NOT NULL,
				name TEXT NOT NULL,
				expiry TEXT NOT NULL,
				quantity %s DEFAULT 0,
				FOREIGN KEY (name) REFERENCES Product(name)
					ON UPDATE CASCADE
					ON DELETE RESTRICT
			)`, d.integer()),
		},
		{
			Name:  "create_stock_name_expiry_uq",
			Table: "Stock",
			SQL:   `CREATE UNIQUE INDEX IF NOT EXISTS stock_name_expiry_uq ON Stock(name, expiry)`,
		},
	}
}

func loanStatements(d Dialect) []Statement {
	return []Statement{
		{
			Name:  "create_loan_header",
			Table: "LoanHeader",
			SQL: `CREATE TABLE IF NOT EXISTS LoanHeader (
				id TEXT PRIMARY KEY NOT NULL,
				date TEXT NOT NULL,
				direction TEXT NOT NULL CHECK (direction IN ('loan_in', 'loan_out', 'return_in', 'return_out')),
				counterparty TEXT NOT NULL,
				note TEXT
			)`,
		},
		{
			Name:  "create_loan_item",
			Table: "LoanItem",
			SQL: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS LoanItem (
				id TEXT PRIMARY KEY NOT NULL,
				loan_id TEXT NOT NULL,
				product_name TEXT NOT NULL,
				quantity %s NOT NULL CHECK (quantity > 0),
				expiry TEXT NOT NULL,
				FOREIGN KEY (loan_id) REFERENCES LoanHeader(id)
					ON DELETE CASCADE,
				FOREIGN KEY (product_name) REFERENCES Product(name)
					ON UPDATE CASCADE
					ON DELETE RESTRICT
			)`, d.integer()),
		},
	}
}

func loanIndexStatements(Dialect) []Statement {
	return []Statement{
		{Name: "create_idx_loanheader_date", Table: "LoanHeader", SQL: `CREATE INDEX IF NOT EXISTS idx_loanheader_date ON LoanHeader(date)`},
		{Name: "create_idx_loanheader_counterparty", Table: "LoanHeader", SQL: `CREATE INDEX IF NOT EXISTS idx_loanheader_counterparty ON LoanHeader(counterparty)`},
		{Name: "create_idx_loanheader_direction", Table: "LoanHeader", SQL: `CREATE INDEX IF NOT EXISTS idx_loanheader_direction ON LoanHeader(direction)`},
		{Name: "create_idx_loanitem_loan_id", Table: "LoanItem", SQL: `CREATE INDEX IF NOT EXISTS idx_loanitem_loan_id ON LoanItem(loan_id)`},
		{Name: "create_idx_loanitem_product_name", Table: "LoanItem", SQL: `CREATE INDEX IF NOT EXISTS idx_loanitem_product_name ON LoanItem(product_name)`},
	}
}

// EnsureSchema brings the store to the latest schema version. It is safe to
// call on an empty store, an initialized store, or a store created by the
// unversioned bootstrap script. Each migration step commits its statements
// and its version row together, so the loan index batch is all-or-nothing.
//
// Tables that already exist are checked before any step runs. A prior Stock
// table without its foreign key or without the (name, expiry) uniqueness is
// a SchemaConflictError and the store is left untouched.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "Store.EnsureSchema", attribute.String("db.dialect", string(s.dialect)))
	defer span.End()

	logger := util.GetLogger()
	start := time.Now()

	err := util.FailSpan(span, s.ensureSchema(ctx, logger))
	util.SchemaEnsureLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		util.SchemaEnsureFailedTotal.WithLabelValues(schemaFailureReason(err)).Inc()
		return err
	}
	util.SchemaEnsureTotal.Inc()
	return nil
}

func (s *Store) ensureSchema(ctx context.Context, logger *zap.Logger) error {
	if err := s.EnableForeignKeys(ctx); err != nil {
		return err
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if current > LatestSchemaVersion {
		return &SchemaConflictError{
			Table:  "schema_migrations",
			Reason: fmt.Sprintf("store is at schema version %d, newest known version is %d", current, LatestSchemaVersion),
		}
	}

	if err := s.verifyExistingTables(ctx); err != nil {
		logger.Error("Existing tables are incompatible, schema left unchanged", zap.Error(err))
		return err
	}

	if err := s.Exec(ctx, versionTableStatement()); err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			logger.Error("Schema migration failed",
				zap.Int("version", m.Version),
				zap.String("name", m.Name),
				zap.Error(err))
			return err
		}
		logger.Info("Schema migration applied",
			zap.Int("version", m.Version),
			zap.String("name", m.Name))
	}

	return s.verifySchema(ctx)
}

func (s *Store) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapErr("begin migration "+m.Name, err)
	}
	defer tx.Rollback()

	for _, stmt := range m.Statements(s.dialect) {
		if _, err := tx.ExecContext(ctx, stmt.SQL); err != nil {
			return migrationErr(stmt, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		s.db.Rebind(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)
			ON CONFLICT (version) DO NOTHING`),
		m.Version, m.Name, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return wrapErr("record migration "+m.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("commit migration "+m.Name, err)
	}
	return nil
}

// migrationErr reports a failed DDL statement. Existing rows that break a
// new uniqueness rule are a schema conflict, not a transient failure.
func migrationErr(stmt Statement, err error) error {
	wrapped := statementErr(stmt, err)
	if errors.Is(wrapped, ErrDuplicate) {
		return &SchemaConflictError{
			Table:     stmt.Table,
			Statement: stmt.Name,
			Reason:    "existing rows violate the uniqueness constraint",
			Err:       wrapped,
		}
	}
	return wrapped
}

// SchemaVersion returns the highest applied migration, 0 for a store that
// has never been versioned.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	cols, err := s.tableColumns(ctx, "schema_migrations")
	if err != nil {
		return 0, err
	}
	if len(cols) == 0 {
		return 0, nil
	}

	var version int
	if err := s.db.GetContext(ctx, &version, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations"); err != nil {
		return 0, wrapErr("read schema version", err)
	}
	return version, nil
}

// SchemaState reports whether EnsureSchema has completed on this store. A
// store at the latest version whose tables no longer verify is uninitialized.
func (s *Store) SchemaState(ctx context.Context) (SchemaState, error) {
	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return "", err
	}
	if version < LatestSchemaVersion {
		return SchemaUninitialized, nil
	}

	var conflict *SchemaConflictError
	if err := s.verifySchema(ctx); err != nil {
		if errors.As(err, &conflict) {
			return SchemaUninitialized, nil
		}
		return "", err
	}
	return SchemaInitialized, nil
}

func schemaFailureReason(err error) string {
	var connErr *ConnectionError
	var conflictErr *SchemaConflictError
	switch {
	case errors.As(err, &connErr):
		return "connection"
	case errors.As(err, &conflictErr):
		return "conflict"
	default:
		return "statement"
	}
}
