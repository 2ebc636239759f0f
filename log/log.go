package log

import (
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/hatlonely/relstore/log/logger"
	"github.com/hatlonely/relstore/ref"
	"github.com/pkg/errors"
)

var defaultLogger atomic.Pointer[logger.Logger]

func init() {
	// 默认向 stderr 输出 text 格式日志
	l, err := logger.NewSLogWithOptions(&logger.SLogOptions{Level: "info", Format: "text"})
	if err != nil {
		panic("failed to initialize default logger: " + err.Error())
	}
	SetDefault(l)
}

func Default() logger.Logger {
	return *defaultLogger.Load()
}

func SetDefault(l logger.Logger) {
	if l != nil {
		defaultLogger.Store(&l)
	}
}

// NewLoggerWithOptions 根据配置创建日志器，namespace 为空时使用 SLog
//
//	logger:
//	  type: SLog
//	  options:
//	    level: debug
//	    format: json
func NewLoggerWithOptions(options *ref.TypeOptions) (logger.Logger, error) {
	if options == nil {
		return nil, errors.New("logger options is nil")
	}
	typeOptions := *options
	if typeOptions.Namespace == "" {
		typeOptions.Namespace = "github.com/hatlonely/relstore/log/logger"
	}
	if typeOptions.Type == "" {
		typeOptions.Type = "SLog"
	}
	l, err := ref.NewWithTypeOptions[logger.Logger](&typeOptions)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create logger")
	}
	return l, nil
}

// Discard 丢弃全部输出的日志器
func Discard() logger.Logger {
	l, _ := logger.NewSLog(io.Discard, slog.LevelError+1, "text", false, nil)
	return l
}
