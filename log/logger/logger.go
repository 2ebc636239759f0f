package logger

import (
	"context"
	"log/slog"
)

// Logger entity 引擎、数据库装饰器和 CLI 共用的日志接口
// args 为 slog 风格的 key/value 对，如 "table", "tasks", "count", 3
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)

	// Enabled 调用方在拼装 SQL 等较大字段前先判断级别
	Enabled(ctx context.Context, level slog.Level) bool

	// With 附加固定字段，WithGroup 为后续字段加前缀，如 entity.table
	With(args ...any) Logger
	WithGroup(name string) Logger
}
