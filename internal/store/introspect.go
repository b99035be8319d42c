package store

import (
	"context"
	"fmt"
	"strings"
)

type foreignKey struct {
	Column    string `db:"column_name"`
	RefTable  string `db:"ref_table"`
	RefColumn string `db:"ref_column"`
	OnUpdate  string `db:"on_update"`
	OnDelete  string `db:"on_delete"`
}

type indexColumn struct {
	Index  string `db:"index_name"`
	Column string `db:"column_name"`
}

// tableShape is the structure EnsureSchema expects to find after migrating.
// An empty OnUpdate/OnDelete means any action is accepted.
type tableShape struct {
	Name          string
	Columns       []string
	ForeignKeys   []foreignKey
	UniqueIndexes [][]string
}

var expectedTables = []tableShape{
	{
		Name:    "Product",
		Columns: []string{"name", "price", "picture", "type"},
	},
	{
		Name:    "Stock",
		Columns: []string{"id", "name", "expiry", "quantity"},
		ForeignKeys: []foreignKey{
			{Column: "name", RefTable: "Product", RefColumn: "name", OnUpdate: "CASCADE", OnDelete: "RESTRICT"},
		},
		UniqueIndexes: [][]string{{"name", "expiry"}},
	},
	{
		Name:    "LoanHeader",
		Columns: []string{"id", "date", "direction", "counterparty", "note"},
	},
	{
		Name:    "LoanItem",
		Columns: []string{"id", "loan_id", "product_name", "quantity", "expiry"},
		ForeignKeys: []foreignKey{
			{Column: "loan_id", RefTable: "LoanHeader", RefColumn: "id", OnDelete: "CASCADE"},
			{Column: "product_name", RefTable: "Product", RefColumn: "name", OnUpdate: "CASCADE", OnDelete: "RESTRICT"},
		},
	},
}

func (s *Store) verifySchema(ctx context.Context) error {
	for _, shape := range expectedTables {
		if err := s.verifyTable(ctx, shape); err != nil {
			return err
		}
	}
	return nil
}

// verifyExistingTables checks only the tables already present, so it can run
// before any migration step touches the store.
func (s *Store) verifyExistingTables(ctx context.Context) error {
	for _, shape := range expectedTables {
		cols, err := s.tableColumns(ctx, shape.Name)
		if err != nil {
			return err
		}
		if len(cols) == 0 {
			continue
		}
		if err := s.verifyTable(ctx, shape); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) verifyTable(ctx context.Context, shape tableShape) error {
	cols, err := s.tableColumns(ctx, shape.Name)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return &SchemaConflictError{Table: shape.Name, Reason: "table is missing although its migration is recorded"}
	}

	present := make(map[string]bool, len(cols))
	for _, c := range cols {
		present[strings.ToLower(c)] = true
	}
	var missing []string
	for _, c := range shape.Columns {
		if !present[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return &SchemaConflictError{
			Table:  shape.Name,
			Reason: "missing columns: " + strings.Join(missing, ", "),
		}
	}

	if len(shape.ForeignKeys) > 0 {
		fks, err := s.foreignKeys(ctx, shape.Name)
		if err != nil {
			return err
		}
		for _, want := range shape.ForeignKeys {
			if !hasForeignKey(fks, want) {
				return &SchemaConflictError{Table: shape.Name, Reason: describeForeignKey(want)}
			}
		}
	}

	if len(shape.UniqueIndexes) > 0 {
		idx, err := s.uniqueIndexes(ctx, shape.Name)
		if err != nil {
			return err
		}
		for _, want := range shape.UniqueIndexes {
			if !hasIndex(idx, want) {
				return &SchemaConflictError{
					Table:  shape.Name,
					Reason: fmt.Sprintf("missing unique constraint on (%s)", strings.Join(want, ", ")),
				}
			}
		}
	}
	return nil
}

func hasForeignKey(fks []foreignKey, want foreignKey) bool {
	for _, fk := range fks {
		if !strings.EqualFold(fk.Column, want.Column) || !strings.EqualFold(fk.RefTable, want.RefTable) {
			continue
		}
		if fk.RefColumn != "" && !strings.EqualFold(fk.RefColumn, want.RefColumn) {
			continue
		}
		if want.OnUpdate != "" && !strings.EqualFold(fk.OnUpdate, want.OnUpdate) {
			continue
		}
		if want.OnDelete != "" && !strings.EqualFold(fk.OnDelete, want.OnDelete) {
			continue
		}
		return true
	}
	return false
}

func describeForeignKey(fk foreignKey) string {
	msg := fmt.Sprintf("missing foreign key %s -> %s(%s)", fk.Column, fk.RefTable, fk.RefColumn)
	if fk.OnUpdate != "" {
		msg += " ON UPDATE " + fk.OnUpdate
	}
	if fk.OnDelete != "" {
		msg += " ON DELETE " + fk.OnDelete
	}
	return msg
}

func hasIndex(cols []indexColumn, want []string) bool {
	byIndex := make(map[string][]string)
	var order []string
	for _, c := range cols {
		if _, ok := byIndex[c.Index]; !ok {
			order = append(order, c.Index)
		}
		byIndex[c.Index] = append(byIndex[c.Index], strings.ToLower(c.Column))
	}
	for _, name := range order {
		if strings.Join(byIndex[name], ",") == strings.Join(want, ",") {
			return true
		}
	}
	return false
}

func (s *Store) physicalName(table string) string {
	if s.dialect == DialectPostgres {
		return strings.ToLower(table)
	}
	return table
}

func (s *Store) tableColumns(ctx context.Context, table string) ([]string, error) {
	var q string
	switch s.dialect {
	case DialectPostgres:
		q = `SELECT column_name FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = ?
			ORDER BY ordinal_position`
	default:
		q = `SELECT name FROM pragma_table_info(?) ORDER BY cid`
	}

	var cols []string
	if err := s.db.SelectContext(ctx, &cols, s.db.Rebind(q), s.physicalName(table)); err != nil {
		return nil, wrapErr("inspect columns of "+table, err)
	}
	return cols, nil
}

func (s *Store) foreignKeys(ctx context.Context, table string) ([]foreignKey, error) {
	var q string
	switch s.dialect {
	case DialectPostgres:
		q = `SELECT kcu.column_name AS column_name,
				ccu.table_name AS ref_table,
				ccu.column_name AS ref_column,
				rc.update_rule AS on_update,
				rc.delete_rule AS on_delete
			FROM information_schema.referential_constraints rc
			JOIN information_schema.key_column_usage kcu
				ON kcu.constraint_schema = rc.constraint_schema AND kcu.constraint_name = rc.constraint_name
			JOIN information_schema.constraint_column_usage ccu
				ON ccu.constraint_schema = rc.constraint_schema AND ccu.constraint_name = rc.constraint_name
			WHERE kcu.table_schema = current_schema() AND kcu.table_name = ?`
	default:
		q = `SELECT "from" AS column_name,
				"table" AS ref_table,
				COALESCE("to", '') AS ref_column,
				on_update,
				on_delete
			FROM pragma_foreign_key_list(?)`
	}

	var fks []foreignKey
	if err := s.db.SelectContext(ctx, &fks, s.db.Rebind(q), s.physicalName(table)); err != nil {
		return nil, wrapErr("inspect foreign keys of "+table, err)
	}
	return fks, nil
}

func (s *Store) uniqueIndexes(ctx context.Context, table string) ([]indexColumn, error) {
	var q string
	switch s.dialect {
	case DialectPostgres:
		q = `SELECT i.relname AS index_name, a.attname AS column_name
			FROM pg_index x
			JOIN pg_class t ON t.oid = x.indrelid
			JOIN pg_class i ON i.oid = x.indexrelid
			JOIN pg_namespace n ON n.oid = t.relnamespace
			JOIN LATERAL unnest(x.indkey::int2[]) WITH ORDINALITY AS k(attnum, ord) ON true
			JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
			WHERE x.indisunique AND n.nspname = current_schema() AND t.relname = ?
			ORDER BY i.relname, k.ord`
	default:
		q = `SELECT il.name AS index_name, COALESCE(ii.name, '') AS column_name
			FROM pragma_index_list(?) AS il, pragma_index_info(il.name) AS ii
			WHERE il."unique" = 1
			ORDER BY il.name, ii.seqno`
	}

	var cols []indexColumn
	if err := s.db.SelectContext(ctx, &cols, s.db.Rebind(q), s.physicalName(table)); err != nil {
		return nil, wrapErr("inspect indexes of "+table, err)
	}
	return cols, nil
}
