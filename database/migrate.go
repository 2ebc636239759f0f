package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/hatlonely/relstore/errs"
	"github.com/hatlonely/relstore/schema"
)

// CreateTableStatements 按依赖顺序生成建表语句，被引用的表先创建
// 自引用关系不参与排序
func CreateTableStatements(d Dialect, sch *schema.Schema) ([]string, error) {
	ordered, err := dependencyOrder(sch)
	if err != nil {
		return nil, err
	}

	var statements []string
	for _, t := range ordered {
		statements = append(statements, createTableSQL(d, t))
		for _, f := range t.Fields() {
			if !f.IsRelation() || d == DialectMySQL {
				// InnoDB 会为外键自动建索引
				continue
			}
			statements = append(statements, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
				d.Quote("idx_"+t.Name()+"_"+f.Name), d.Quote(t.Name()), d.Quote(f.Name)))
		}
	}
	return statements, nil
}

func createTableSQL(d Dialect, t *schema.Table) string {
	columns := []string{fmt.Sprintf("%s VARCHAR(64) NOT NULL PRIMARY KEY", d.Quote(schema.IDField))}
	var constraints []string
	for _, f := range t.Fields() {
		column := d.Quote(f.Name) + " " + d.ColumnType(f)
		if f.Mandatory() {
			column += " NOT NULL"
		}
		columns = append(columns, column)

		if f.IsRelation() {
			constraints = append(constraints, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s",
				d.Quote(f.Name), d.Quote(f.References), d.Quote(schema.IDField), onDeleteClause(f.OnDelete)))
		}
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)",
		d.Quote(t.Name()), strings.Join(append(columns, constraints...), ",\n  "))
}

func dependencyOrder(sch *schema.Schema) ([]*schema.Table, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := map[string]int{}
	var ordered []*schema.Table

	var visit func(t *schema.Table) error
	visit = func(t *schema.Table) error {
		switch state[t.Name()] {
		case done:
			return nil
		case visiting:
			return errs.Schema(t.Name(), "circular references between tables")
		}
		state[t.Name()] = visiting
		for _, ref := range t.References() {
			if ref == t.Name() {
				continue
			}
			target, err := sch.Table(ref)
			if err != nil {
				return err
			}
			if err := visit(target); err != nil {
				return err
			}
		}
		state[t.Name()] = done
		ordered = append(ordered, t)
		return nil
	}

	for _, t := range sch.Tables() {
		if err := visit(t); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// Migrate 创建 Schema 中全部的表，已存在的表保持不变
func Migrate(ctx context.Context, db Executor, d Dialect, sch *schema.Schema) error {
	statements, err := CreateTableStatements(d, sch)
	if err != nil {
		return err
	}
	for _, statement := range statements {
		if _, err := db.Exec(ctx, statement); err != nil {
			return err
		}
	}
	return nil
}
