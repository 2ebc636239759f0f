package database

import (
	"context"

	"github.com/hatlonely/relstore/ref"
	"github.com/pkg/errors"
)

func init() {
	ref.MustRegisterT[*SQL](NewSQLWithOptions)
	ref.MustRegisterT[*Gorm](NewGormWithOptions)
	ref.MustRegisterT[*ObservableDatabase](NewObservableDatabaseWithOptions)
}

// Row 一行查询结果，key 为列标签
type Row map[string]any

// Executor 单一的语句执行原语，语句使用 ? 占位符
type Executor interface {
	// Query 执行查询并读出全部行
	Query(ctx context.Context, query string, args ...any) ([]Row, error)
	// Exec 执行写语句，返回受影响的行数
	Exec(ctx context.Context, query string, args ...any) (int64, error)
}

// Database 关系型存储
type Database interface {
	Executor

	Dialect() Dialect

	// WithTx 在一个事务中执行 fn，fn 返回错误时回滚
	// fn 内部只能使用传入的 tx
	WithTx(ctx context.Context, fn func(tx Executor) error) error

	Close() error
}

// NewDatabaseWithOptions 根据 TypeOptions 创建 Database，namespace 为空时使用本包
//
//	database:
//	  type: SQL
//	  options:
//	    driver: sqlite3
//	    dsn: file:relstore.db?_foreign_keys=1
func NewDatabaseWithOptions(options *ref.TypeOptions) (Database, error) {
	if options == nil {
		return nil, errors.New("database options is nil")
	}
	typeOptions := *options
	if typeOptions.Namespace == "" {
		typeOptions.Namespace = "github.com/hatlonely/relstore/database"
	}
	db, err := ref.NewWithTypeOptions[Database](&typeOptions)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create database")
	}
	return db, nil
}
