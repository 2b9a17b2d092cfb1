package store

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/grainplan/internal/ir"
	"github.com/roach88/grainplan/internal/model"
)

// CreateTables creates one table per base datasource in env.
// Column affinity follows the concept's declared type.
func (s *Store) CreateTables(ctx context.Context, env *model.Environment) error {
	for _, ds := range env.Datasources() {
		cols := make([]string, 0, len(ds.Columns))
		for _, col := range ds.Columns {
			def := quoteIdent(col.Name)
			if affinity := columnAffinity(col.Concept.DataType); affinity != "" {
				def += " " + affinity
			}
			cols = append(cols, def)
		}
		stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(ds.TableName()), strings.Join(cols, ", "))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table %s: %w", ds.TableName(), err)
		}
	}
	return nil
}

func columnAffinity(dataType string) string {
	switch strings.ToLower(dataType) {
	case "int", "integer", "bool", "boolean":
		return "INTEGER"
	case "string", "text":
		return "TEXT"
	default:
		return ""
	}
}

// Seed inserts rows for each named datasource. Row keys are physical
// column names or concept references; values must be strings, integers,
// booleans or null.
func (s *Store) Seed(ctx context.Context, env *model.Environment, rows map[string][]map[string]any) error {
	names := make([]string, 0, len(rows))
	for name := range rows {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		ds, ok := env.Datasource(name)
		if !ok {
			return fmt.Errorf("seed: unknown datasource %q", name)
		}
		for i, row := range rows[name] {
			if err := s.insertRow(ctx, ds, row); err != nil {
				return fmt.Errorf("seed %s[%d]: %w", name, i, err)
			}
		}
	}
	return nil
}

func (s *Store) insertRow(ctx context.Context, ds *model.BaseDatasource, row map[string]any) error {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	cols := make([]string, 0, len(keys))
	vals := make([]any, 0, len(keys))
	for _, k := range keys {
		col, ok := columnFor(ds, k)
		if !ok {
			return fmt.Errorf("no column or concept %q in %s", k, ds.Name)
		}
		lit, err := ir.FromAny(row[k])
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		param, err := ir.ToParam(lit)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		cols = append(cols, quoteIdent(col))
		vals = append(vals, param)
	}
	if len(cols) == 0 {
		return fmt.Errorf("empty row")
	}

	_, err := s.builder.Insert(quoteIdent(ds.TableName())).
		Columns(cols...).
		Values(vals...).
		ExecContext(ctx)
	return err
}

// columnFor matches a seed key against physical columns first, then
// concept references.
func columnFor(ds *model.BaseDatasource, key string) (string, bool) {
	for _, col := range ds.Columns {
		if col.Name == key {
			return col.Name, true
		}
	}
	return ds.ColumnFor(model.Address(key))
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
