// Package sqlite implements record.Store over a single generic records
// table. Field values live in a JSON document per row and are filtered
// and joined with json_extract, which keeps configurable lookup field
// names out of the schema.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/gyaneshwarpardhi/subwatch/internal/record"
)

// Store is a SQLite-backed record.Store.
type Store struct {
	db *sql.DB
}

// Open connects to the SQLite database at dsn and applies the schema.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Query returns matching records in rowid order, with joined columns
// materialized under "alias.column" field names.
func (s *Store) Query(ctx context.Context, entity string, filter record.Filter) ([]*record.Record, error) {
	q, err := buildQuery(entity, filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", entity, err)
	}
	defer rows.Close()

	var out []*record.Record
	for rows.Next() {
		rec, err := scanRecord(rows, q.joinCols)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", entity, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", entity, err)
	}
	return out, nil
}

// Create inserts a new record and returns its generated id.
func (s *Store) Create(ctx context.Context, entity string, fields map[string]any) (uuid.UUID, error) {
	doc, err := json.Marshal(fields)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create %s: marshal fields: %w", entity, err)
	}
	id := uuid.New()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, entity, fields) VALUES (?, ?, ?)`,
		id.String(), entity, string(doc))
	if err != nil {
		return uuid.Nil, fmt.Errorf("create %s: %w", entity, err)
	}
	return id, nil
}

// Delete removes a record by id.
func (s *Store) Delete(ctx context.Context, entity string, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE entity = ? AND id = ?`, entity, id.String())
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", entity, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", entity, id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s %s: not found", entity, id)
	}
	return nil
}

// Seed inserts a record keeping its id. Intended for fixtures and
// import tooling.
func (s *Store) Seed(ctx context.Context, rec *record.Record) error {
	doc, err := json.Marshal(rec.Fields())
	if err != nil {
		return fmt.Errorf("seed %s: %w", rec.Entity, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, entity, fields) VALUES (?, ?, ?)`,
		rec.ID.String(), rec.Entity, string(doc))
	if err != nil {
		return fmt.Errorf("seed %s: %w", rec.Entity, err)
	}
	return nil
}

// ---------------------------------------------------------------------
// SQL building
// ---------------------------------------------------------------------

type builtQuery struct {
	sql      string
	args     []any
	joinCols []string // aliased output columns, in select order
}

func buildQuery(entity string, filter record.Filter) (*builtQuery, error) {
	for _, c := range filter.Conditions {
		if err := checkFieldName(c.Field); err != nil {
			return nil, err
		}
	}

	sel := []string{"r.id", "r.entity", "r.fields"}
	var joins []string
	var joinCols []string
	if err := buildJoins("r", filter.Joins, &sel, &joins, &joinCols); err != nil {
		return nil, err
	}

	where := []string{"r.entity = ?"}
	args := []any{entity}
	for _, c := range filter.Conditions {
		expr, condArgs, err := buildCondition(c)
		if err != nil {
			return nil, err
		}
		where = append(where, expr)
		args = append(args, condArgs...)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(sel, ", "))
	b.WriteString(" FROM records AS r")
	for _, j := range joins {
		b.WriteString(" ")
		b.WriteString(j)
	}
	b.WriteString(" WHERE ")
	b.WriteString(strings.Join(where, " AND "))
	b.WriteString(" ORDER BY r.rowid")

	return &builtQuery{sql: b.String(), args: args, joinCols: joinCols}, nil
}

// idExpr reads a field that may be either a lookup object or a scalar:
// the nested id wins when present.
func idExpr(alias, field string) string {
	return fmt.Sprintf(
		"COALESCE(json_extract(%s.fields, '$.%s.id'), json_extract(%s.fields, '$.%s'))",
		alias, field, alias, field)
}

func buildCondition(c record.Condition) (string, []any, error) {
	val, idLike := normalizeValue(c.Value)
	var expr string
	if idLike {
		expr = idExpr("r", c.Field)
	} else {
		expr = fmt.Sprintf("json_extract(r.fields, '$.%s')", c.Field)
	}
	switch c.Op {
	case record.OpEqual:
		return expr + " = ?", []any{val}, nil
	case record.OpNotEqual:
		// IS NOT so that rows with a missing field still match.
		return expr + " IS NOT ?", []any{val}, nil
	default:
		return "", nil, fmt.Errorf("unsupported operator %q", c.Op)
	}
}

func buildJoins(parentAlias string, specs []record.Join, sel, joins *[]string, joinCols *[]string) error {
	for _, j := range specs {
		if err := checkFieldName(j.Alias); err != nil {
			return err
		}
		if err := checkFieldName(j.ToEntity); err != nil {
			return err
		}
		if j.FromField != "id" {
			if err := checkFieldName(j.FromField); err != nil {
				return err
			}
		}
		if j.ToField != "id" {
			if err := checkFieldName(j.ToField); err != nil {
				return err
			}
		}

		src := parentAlias + ".id"
		if j.FromField != "id" {
			src = idExpr(parentAlias, j.FromField)
		}
		dst := j.Alias + ".id"
		if j.ToField != "id" {
			dst = idExpr(j.Alias, j.ToField)
		}
		*joins = append(*joins, fmt.Sprintf(
			"LEFT OUTER JOIN records AS %s ON %s.entity = '%s' AND %s = %s",
			j.Alias, j.Alias, j.ToEntity, dst, src))

		for _, col := range j.Columns {
			if err := checkFieldName(col); err != nil {
				return err
			}
			*sel = append(*sel, fmt.Sprintf("json_extract(%s.fields, '$.%s')", j.Alias, col))
			*joinCols = append(*joinCols, j.Alias+"."+col)
		}
		if err := buildJoins(j.Alias, j.Joins, sel, joins, joinCols); err != nil {
			return err
		}
	}
	return nil
}

// checkFieldName guards identifiers that are interpolated into SQL.
// Field and alias names come from configuration, not user input, but a
// stray quote would still corrupt the statement.
func checkFieldName(name string) error {
	if name == "" {
		return fmt.Errorf("empty field name in query")
	}
	for _, ch := range name {
		if ch == '\'' || ch == '"' || ch == '`' || ch == ';' || ch == '$' {
			return fmt.Errorf("invalid field name %q", name)
		}
	}
	return nil
}

// normalizeValue converts a filter value to something bindable, and
// reports whether it identifies a record (so lookup objects match too).
func normalizeValue(v any) (any, bool) {
	switch t := v.(type) {
	case uuid.UUID:
		return t.String(), true
	case record.Reference:
		return t.ID.String(), true
	case *record.Reference:
		if t == nil {
			return nil, false
		}
		return t.ID.String(), true
	case string:
		if id, err := uuid.Parse(t); err == nil {
			return id.String(), true
		}
		return t, false
	default:
		return v, false
	}
}

func scanRecord(rows *sql.Rows, joinCols []string) (*record.Record, error) {
	var idStr, entity, fieldsDoc string
	dest := []any{&idStr, &entity, &fieldsDoc}
	joined := make([]any, len(joinCols))
	for i := range joined {
		joined[i] = new(any)
	}
	dest = append(dest, joined...)

	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("bad record id %q: %w", idStr, err)
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(fieldsDoc), &fields); err != nil {
		return nil, fmt.Errorf("bad fields document for %s: %w", idStr, err)
	}

	rec := record.New(entity, id)
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rec.Set(name, fields[name])
	}
	for i, col := range joinCols {
		v := *(joined[i].(*any))
		if v == nil {
			continue
		}
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		rec.Set(col, v)
	}
	return rec, nil
}
