package database

import (
	"fmt"
	"strings"

	"github.com/hatlonely/relstore/schema"
)

// Dialect SQL 方言，决定标识符引用、列类型和锁语法
type Dialect string

const (
	DialectSQLite Dialect = "sqlite3"
	DialectMySQL  Dialect = "mysql"
)

// Quote 引用标识符，标识符已经通过 schema.ValidIdentifier 校验
func (d Dialect) Quote(name string) string {
	if d == DialectMySQL {
		return "`" + name + "`"
	}
	return `"` + name + `"`
}

// QuoteColumn alias.column
func (d Dialect) QuoteColumn(alias, column string) string {
	return d.Quote(alias) + "." + d.Quote(column)
}

// SupportsForUpdate SQLite 写事务本身是串行的，不支持 FOR UPDATE
func (d Dialect) SupportsForUpdate() bool {
	return d == DialectMySQL
}

// ColumnType 字段在 DDL 中的列类型
func (d Dialect) ColumnType(f *schema.Field) string {
	switch f.Type {
	case schema.FieldTypeShortText:
		size := f.Size
		if size <= 0 {
			size = schema.DefaultShortTextSize
		}
		return fmt.Sprintf("VARCHAR(%d)", size)
	case schema.FieldTypeLongText:
		return "TEXT"
	case schema.FieldTypeBoolean:
		return "BOOLEAN"
	case schema.FieldTypeDateTime:
		if d == DialectMySQL {
			return "DATETIME(6)"
		}
		// mattn/go-sqlite3 按声明类型 DATETIME 读回 time.Time
		return "DATETIME"
	case schema.FieldTypeEnum, schema.FieldTypeRelation:
		return "VARCHAR(64)"
	}
	return "TEXT"
}

// onDeleteClause 外键删除动作
func onDeleteClause(action schema.OnDelete) string {
	switch action {
	case schema.OnDeleteSetNull:
		return "SET NULL"
	case schema.OnDeleteRestrict:
		return "RESTRICT"
	}
	return "CASCADE"
}

// Placeholders n 个逗号分隔的 ?
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// SQLiteDSN 缺少外键参数时补上 _foreign_keys=1
// go-sqlite3 在连接池的每个新连接上应用 DSN 参数，PRAGMA 只对当前连接生效
func SQLiteDSN(dsn string) string {
	base, query, ok := strings.Cut(dsn, "?")
	if ok {
		for _, kv := range strings.Split(query, "&") {
			key, _, _ := strings.Cut(kv, "=")
			if key == "_foreign_keys" || key == "_fk" {
				return dsn
			}
		}
		if query == "" {
			return base + "?_foreign_keys=1"
		}
		return dsn + "&_foreign_keys=1"
	}
	return dsn + "?_foreign_keys=1"
}
