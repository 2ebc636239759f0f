package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/hatlonely/relstore/errs"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SQLOptions struct {
	Driver   string `cfg:"driver" def:"sqlite3" validate:"oneof=mysql sqlite3"`
	DSN      string `cfg:"dsn"`
	Host     string `cfg:"host" def:"localhost"`
	Port     string `cfg:"port" def:"3306"`
	Database string `cfg:"database"`
	Username string `cfg:"username"`
	Password string `cfg:"password"`
	Charset  string `cfg:"charset" def:"utf8mb4"`
	MaxConns int    `cfg:"maxConns" def:"10"`
	MaxIdle  int    `cfg:"maxIdle" def:"5"`
}

// dsn 未指定 DSN 时根据连接参数拼接
// sqlite3 总是打开外键约束，onDelete 依赖它
func (o *SQLOptions) dsn() (string, error) {
	if o.DSN != "" {
		if o.Driver == "sqlite3" {
			return SQLiteDSN(o.DSN), nil
		}
		return o.DSN, nil
	}
	switch o.Driver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=%s&parseTime=True&loc=UTC",
			o.Username, o.Password, o.Host, o.Port, o.Database, o.Charset), nil
	case "sqlite3":
		if o.Database == "" {
			return "", errors.New("sqlite3 requires database or dsn")
		}
		return SQLiteDSN(o.Database), nil
	}
	return "", errors.Errorf("unsupported driver: %s", o.Driver)
}

// SQL 基于 database/sql 的 Database
type SQL struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLWithOptions(options *SQLOptions) (*SQL, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	dsn, err := options.dsn()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(options.Driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s failed", options.Driver)
	}
	db.SetMaxOpenConns(options.MaxConns)
	db.SetMaxIdleConns(options.MaxIdle)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "ping %s failed", options.Driver)
	}

	return &SQL{db: db, dialect: Dialect(options.Driver)}, nil
}

// NewSQL 包装已经打开的连接
func NewSQL(db *sql.DB, dialect Dialect) *SQL {
	return &SQL{db: db, dialect: dialect}
}

func (s *SQL) Dialect() Dialect {
	return s.dialect
}

func (s *SQL) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	return queryRows(ctx, s.db, query, args)
}

func (s *SQL) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execStatement(ctx, s.db, query, args)
}

func (s *SQL) WithTx(ctx context.Context, fn func(tx Executor) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Storage("begin transaction", err)
	}

	if err := fn(&sqlTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.WithMessagef(err, "rollback failed: %v", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errs.Storage("commit transaction", err)
	}
	return nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	return queryRows(ctx, t.tx, query, args)
}

func (t *sqlTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execStatement(ctx, t.tx, query, args)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func queryRows(ctx context.Context, q queryer, query string, args []any) ([]Row, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Storage("query", err)
	}
	defer rows.Close()
	result, err := scanRows(rows)
	if err != nil {
		return nil, errs.Storage("scan", err)
	}
	return result, nil
}

func execStatement(ctx context.Context, q queryer, query string, args []any) (int64, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errs.Storage("exec", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errs.Storage("rows affected", err)
	}
	return n, nil
}

// scanRows 读出全部行，[]byte 转成 string
func scanRows(rows *sql.Rows) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []Row
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}

		row := make(Row, len(columns))
		for i, column := range columns {
			if b, ok := values[i].([]byte); ok {
				row[column] = string(b)
			} else {
				row[column] = values[i]
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
