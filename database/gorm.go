package database

import (
	"context"

	"github.com/hatlonely/relstore/errs"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormOptions 使用 gorm 管理连接，语句仍由上层生成
type GormOptions struct {
	Driver   string `cfg:"driver" def:"sqlite3" validate:"oneof=mysql sqlite3"`
	DSN      string `cfg:"dsn" validate:"required"`
	MaxConns int    `cfg:"maxConns" def:"10"`
	MaxIdle  int    `cfg:"maxIdle" def:"5"`
	// LogLevel gorm 自身的日志级别：silent, error, warn, info
	LogLevel string `cfg:"logLevel" def:"silent"`
}

// Gorm 基于 gorm.DB 的 Database
type Gorm struct {
	db      *gorm.DB
	dialect Dialect
}

func NewGormWithOptions(options *GormOptions) (*Gorm, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}

	var dialector gorm.Dialector
	switch options.Driver {
	case "mysql":
		dialector = mysql.Open(options.DSN)
	case "sqlite3":
		dialector = sqlite.Open(SQLiteDSN(options.DSN))
	default:
		return nil, errors.Errorf("unsupported driver: %s", options.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(parseGormLogLevel(options.LogLevel)),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s failed", options.Driver)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql.DB failed")
	}
	sqlDB.SetMaxOpenConns(options.MaxConns)
	sqlDB.SetMaxIdleConns(options.MaxIdle)

	return &Gorm{db: db, dialect: Dialect(options.Driver)}, nil
}

func parseGormLogLevel(level string) logger.LogLevel {
	switch level {
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	}
	return logger.Silent
}

func (g *Gorm) Dialect() Dialect {
	return g.dialect
}

func (g *Gorm) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	return gormQuery(g.db.WithContext(ctx), query, args)
}

func (g *Gorm) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return gormExec(g.db.WithContext(ctx), query, args)
}

func (g *Gorm) WithTx(ctx context.Context, fn func(tx Executor) error) error {
	var fnErr error
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&gormTx{db: tx})
		return fnErr
	})
	if err != nil && fnErr == nil {
		return errs.Storage("transaction", err)
	}
	return err
}

func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	return gormQuery(t.db.WithContext(ctx), query, args)
}

func (t *gormTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return gormExec(t.db.WithContext(ctx), query, args)
}

func gormQuery(db *gorm.DB, query string, args []any) ([]Row, error) {
	rows, err := db.Raw(query, args...).Rows()
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

func gormExec(db *gorm.DB, query string, args []any) (int64, error) {
	res := db.Exec(query, args...)
	if res.Error != nil {
		return 0, errs.Storage("exec", res.Error)
	}
	return res.RowsAffected, nil
}
