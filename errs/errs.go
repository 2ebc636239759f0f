package errs

import (
	"errors"
	"fmt"
)

// Kind 错误分类
type Kind string

const (
	// KindSchema 表/字段/关系定义错误，启动阶段致命
	KindSchema Kind = "SchemaError"
	// KindValidation 输入校验失败，不会产生任何写入
	KindValidation Kind = "ValidationError"
	// KindNotFound 调用方要求严格匹配但作用域没有命中任何实体
	KindNotFound Kind = "NotFoundError"
	// KindStorage 底层存储失败，原样向上传递，不重试
	KindStorage Kind = "StorageError"
)

// Error 统一错误类型
type Error struct {
	Kind  Kind
	Table string
	Field string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Field != "" {
		if e.Table != "" {
			msg = fmt.Sprintf("%s.%s: %s", e.Table, e.Field, msg)
		} else {
			msg = fmt.Sprintf("%s: %s", e.Field, msg)
		}
	} else if e.Table != "" {
		msg = fmt.Sprintf("%s: %s", e.Table, msg)
	}
	if e.Err != nil {
		if msg == "" {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Cause 兼容 github.com/pkg/errors
func (e *Error) Cause() error {
	return e.Err
}

// Schema 创建 SchemaError
func Schema(table string, format string, args ...any) *Error {
	return &Error{Kind: KindSchema, Table: table, Msg: fmt.Sprintf(format, args...)}
}

// SchemaField 创建指向具体字段的 SchemaError
func SchemaField(table, field string, format string, args ...any) *Error {
	return &Error{Kind: KindSchema, Table: table, Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Validation 创建 ValidationError，field 为校验失败的字段名
func Validation(field string, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Field: field, Msg: fmt.Sprintf(format, args...)}
}

// NotFound 创建 NotFoundError
func NotFound(table string, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Table: table, Msg: fmt.Sprintf(format, args...)}
}

// Storage 包装底层存储错误，保留原始错误链
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindStorage, Msg: op, Err: err}
}

// KindOf 返回错误链上第一个 *Error 的分类
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// FieldOf 返回错误关联的字段名
func FieldOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Field
	}
	return ""
}

func IsSchema(err error) bool     { return KindOf(err) == KindSchema }
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsStorage(err error) bool    { return KindOf(err) == KindStorage }
