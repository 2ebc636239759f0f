package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hatlonely/relstore/log"
	"github.com/hatlonely/relstore/log/logger"
	"github.com/hatlonely/relstore/ref"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type ObservableOptions struct {
	// Database 被包装的底层数据库配置
	Database *ref.TypeOptions `cfg:"database" validate:"required"`

	// Logger 日志记录器配置，为空时使用 log.Default()
	Logger *ref.TypeOptions `cfg:"logger"`

	EnableMetrics bool `cfg:"enableMetrics" def:"true"`
	EnableLogging bool `cfg:"enableLogging" def:"true"`
	EnableTracing bool `cfg:"enableTracing"`

	// Name 组件名称，作为指标名前缀、日志 component 字段和 span 属性
	Name string `cfg:"name" def:"relstore_db"`
}

// ObservableMetrics 封装 prometheus 指标
type ObservableMetrics struct {
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	activeOperations  *prometheus.GaugeVec
	rowsHistogram     *prometheus.HistogramVec
}

// NewObservableMetrics 创建并注册指标，同名指标已注册时复用
func NewObservableMetrics(name string) *ObservableMetrics {
	return &ObservableMetrics{
		operationCounter: registerOrReuse(prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: name + "_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		)),
		operationDuration: registerOrReuse(prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_operation_duration_seconds",
				Help:    "Duration of database operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"operation"},
		)),
		activeOperations: registerOrReuse(prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: name + "_active_operations",
				Help: "Number of active database operations",
			},
			[]string{"operation"},
		)),
		rowsHistogram: registerOrReuse(prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_rows",
				Help:    "Rows returned or affected per operation",
				Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000},
			},
			[]string{"operation"},
		)),
	}
}

func registerOrReuse[C prometheus.Collector](c C) C {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObservableDatabase 装饰器，为任何 Database 添加指标、日志和追踪
type ObservableDatabase struct {
	db Database

	logger        logger.Logger
	metrics       *ObservableMetrics
	tracer        trace.Tracer
	name          string
	enableMetrics bool
	enableLogging bool
	enableTracing bool
}

func NewObservableDatabaseWithOptions(options *ObservableOptions) (*ObservableDatabase, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}

	db, err := NewDatabaseWithOptions(options.Database)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create underlying database")
	}
	obs, err := NewObservableDatabase(db, options)
	if err != nil {
		db.Close()
		return nil, err
	}
	return obs, nil
}

// NewObservableDatabase 包装已经创建的 Database，options.Database 被忽略
func NewObservableDatabase(db Database, options *ObservableOptions) (*ObservableDatabase, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	name := options.Name
	if name == "" {
		name = "relstore_db"
	}

	obs := &ObservableDatabase{
		db:            db,
		name:          name,
		enableMetrics: options.EnableMetrics,
		enableLogging: options.EnableLogging,
		enableTracing: options.EnableTracing,
	}

	if options.EnableLogging {
		l := log.Default()
		if options.Logger != nil {
			var err error
			if l, err = log.NewLoggerWithOptions(options.Logger); err != nil {
				return nil, errors.WithMessage(err, "failed to create logger")
			}
		}
		obs.logger = l.WithGroup("observableDatabase")
	}
	if options.EnableMetrics {
		obs.metrics = NewObservableMetrics(name)
	}
	if options.EnableTracing {
		obs.tracer = otel.Tracer(fmt.Sprintf("database.%s", name))
	}
	return obs, nil
}

// observeOperation 统一的操作观测逻辑，fn 返回影响的行数
func (obs *ObservableDatabase) observeOperation(ctx context.Context, operation string, statement string, fn func(context.Context) (int, error)) error {
	start := time.Now()

	var span trace.Span
	if obs.enableTracing && obs.tracer != nil {
		ctx, span = obs.tracer.Start(ctx, fmt.Sprintf("database.%s", operation),
			trace.WithAttributes(
				attribute.String("component", obs.name),
				attribute.String("operation", operation),
				attribute.String("db.statement", statement),
			),
		)
		defer span.End()
	}

	if obs.enableMetrics && obs.metrics != nil {
		obs.metrics.activeOperations.WithLabelValues(operation).Inc()
		defer obs.metrics.activeOperations.WithLabelValues(operation).Dec()
	}

	rows, err := fn(ctx)
	duration := time.Since(start)

	if span != nil {
		span.SetAttributes(
			attribute.Int64("duration_ms", duration.Milliseconds()),
			attribute.Int("rows", rows),
		)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	if obs.enableMetrics && obs.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		obs.metrics.operationCounter.WithLabelValues(operation, status).Inc()
		obs.metrics.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
		if err == nil {
			obs.metrics.rowsHistogram.WithLabelValues(operation).Observe(float64(rows))
		}
	}

	if obs.enableLogging && obs.logger != nil {
		if err != nil {
			obs.logger.ErrorContext(ctx, "database operation failed",
				"component", obs.name,
				"operation", operation,
				"statement", statement,
				"duration_ms", duration.Milliseconds(),
				"error", err.Error(),
			)
		} else if obs.logger.Enabled(ctx, slog.LevelDebug) {
			obs.logger.DebugContext(ctx, "database operation completed",
				"component", obs.name,
				"operation", operation,
				"statement", statement,
				"rows", rows,
				"duration_ms", duration.Milliseconds(),
			)
		}
	}

	return err
}

func (obs *ObservableDatabase) Dialect() Dialect {
	return obs.db.Dialect()
}

func (obs *ObservableDatabase) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	var result []Row
	err := obs.observeOperation(ctx, "query", query, func(ctx context.Context) (int, error) {
		var err error
		result, err = obs.db.Query(ctx, query, args...)
		return len(result), err
	})
	return result, err
}

func (obs *ObservableDatabase) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	var affected int64
	err := obs.observeOperation(ctx, "exec", query, func(ctx context.Context) (int, error) {
		var err error
		affected, err = obs.db.Exec(ctx, query, args...)
		return int(affected), err
	})
	return affected, err
}

// WithTx 事务整体作为一次 tx 操作观测，事务内的语句单独观测
func (obs *ObservableDatabase) WithTx(ctx context.Context, fn func(tx Executor) error) error {
	return obs.observeOperation(ctx, "tx", "", func(ctx context.Context) (int, error) {
		return 0, obs.db.WithTx(ctx, func(tx Executor) error {
			return fn(&observableTx{obs: obs, tx: tx})
		})
	})
}

func (obs *ObservableDatabase) Close() error {
	return obs.observeOperation(context.Background(), "close", "", func(ctx context.Context) (int, error) {
		return 0, obs.db.Close()
	})
}

type observableTx struct {
	obs *ObservableDatabase
	tx  Executor
}

func (t *observableTx) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	var result []Row
	err := t.obs.observeOperation(ctx, "tx_query", query, func(ctx context.Context) (int, error) {
		var err error
		result, err = t.tx.Query(ctx, query, args...)
		return len(result), err
	})
	return result, err
}

func (t *observableTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	var affected int64
	err := t.obs.observeOperation(ctx, "tx_exec", query, func(ctx context.Context) (int, error) {
		var err error
		affected, err = t.tx.Exec(ctx, query, args...)
		return int(affected), err
	})
	return affected, err
}
