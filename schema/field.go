package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hatlonely/relstore/errs"
)

// FieldType 字段类型
type FieldType string

const (
	FieldTypeShortText FieldType = "short-text"
	FieldTypeLongText  FieldType = "long-text"
	FieldTypeBoolean   FieldType = "boolean"
	FieldTypeDateTime  FieldType = "datetime"
	FieldTypeEnum      FieldType = "enum"
	FieldTypeRelation  FieldType = "relation"
)

// Cardinality 关系基数
type Cardinality string

const (
	ManyToOne Cardinality = "many-to-one"
	OneToMany Cardinality = "one-to-many"
)

// OnDelete 被引用实体删除时的外键动作
type OnDelete string

const (
	OnDeleteCascade  OnDelete = "cascade"
	OnDeleteSetNull  OnDelete = "set-null"
	OnDeleteRestrict OnDelete = "restrict"
)

// IDField 每张表隐含的主键字段
const IDField = "id"

// DefaultShortTextSize short-text 字段的默认长度
const DefaultShortTextSize = 255

// Field 字段定义
type Field struct {
	Name string
	Type FieldType

	// Size 文本长度上限，仅 short-text 使用
	Size int

	// Values/Default 枚举取值和默认值
	Values     []string
	Default    any
	HasDefault bool

	// References/Cardinality/Inverse/OnDelete 关系字段使用
	References  string
	Cardinality Cardinality
	Inverse     string
	OnDelete    OnDelete

	Validations []Validation
}

// Option 字段构造选项
type Option func(*Field)

// WithValidations 为字段附加校验规则
func WithValidations(validations ...Validation) Option {
	return func(f *Field) {
		f.Validations = append(f.Validations, validations...)
	}
}

// WithDefault 设置字段默认值
func WithDefault(value any) Option {
	return func(f *Field) {
		f.Default = value
		f.HasDefault = true
	}
}

// WithSize 设置 short-text 长度
func WithSize(size int) Option {
	return func(f *Field) {
		f.Size = size
	}
}

// WithInverse 指定反向 one-to-many 视图的名字
func WithInverse(name string) Option {
	return func(f *Field) {
		f.Inverse = name
	}
}

// WithOnDelete 指定外键删除动作
func WithOnDelete(action OnDelete) Option {
	return func(f *Field) {
		f.OnDelete = action
	}
}

func newField(name string, typ FieldType, opts ...Option) *Field {
	f := &Field{Name: name, Type: typ}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func ShortText(name string, opts ...Option) *Field {
	return newField(name, FieldTypeShortText, append([]Option{WithSize(DefaultShortTextSize)}, opts...)...)
}

func LongText(name string, opts ...Option) *Field {
	return newField(name, FieldTypeLongText, opts...)
}

func Boolean(name string, opts ...Option) *Field {
	return newField(name, FieldTypeBoolean, opts...)
}

func DateTime(name string, opts ...Option) *Field {
	return newField(name, FieldTypeDateTime, opts...)
}

// Enum 枚举字段，创建时缺省取 defaultValue
func Enum(name string, values []string, defaultValue string, opts ...Option) *Field {
	f := newField(name, FieldTypeEnum, opts...)
	f.Values = append([]string(nil), values...)
	if defaultValue != "" {
		f.Default = defaultValue
		f.HasDefault = true
	}
	return f
}

// RelationField 关系字段，字段值为被引用实体的 id
func RelationField(name string, references string, cardinality Cardinality, opts ...Option) *Field {
	f := newField(name, FieldTypeRelation, opts...)
	f.References = references
	f.Cardinality = cardinality
	return f
}

// Mandatory 字段是否带有 mandatory 校验
func (f *Field) Mandatory() bool {
	for _, v := range f.Validations {
		if v.Name() == mandatoryName {
			return true
		}
	}
	return false
}

// IsRelation 是否关系字段
func (f *Field) IsRelation() bool {
	return f.Type == FieldTypeRelation
}

// Coerce 把候选值转换成字段类型的规范表示，nil 原样返回
func (f *Field) Coerce(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch f.Type {
	case FieldTypeShortText, FieldTypeLongText:
		s, ok := asString(value)
		if !ok {
			return nil, errs.Validation(f.Name, "expected string, got %T", value)
		}
		return s, nil
	case FieldTypeBoolean:
		b, ok := asBool(value)
		if !ok {
			return nil, errs.Validation(f.Name, "expected boolean, got %T", value)
		}
		return b, nil
	case FieldTypeDateTime:
		t, ok := asTime(value)
		if !ok {
			return nil, errs.Validation(f.Name, "expected datetime, got %v", value)
		}
		return t, nil
	case FieldTypeEnum:
		s, ok := asString(value)
		if !ok {
			return nil, errs.Validation(f.Name, "expected string, got %T", value)
		}
		for _, v := range f.Values {
			if v == s {
				return s, nil
			}
		}
		return nil, errs.Validation(f.Name, "value %q not in [%s]", s, strings.Join(f.Values, ", "))
	case FieldTypeRelation:
		id, ok := AsID(value)
		if !ok {
			return nil, errs.Validation(f.Name, "expected identifier, got %T", value)
		}
		return id, nil
	}
	return nil, errs.Validation(f.Name, "unsupported field type %s", f.Type)
}

// Validate 依次执行字段上的校验规则
func (f *Field) Validate(value any) error {
	for _, v := range f.Validations {
		if err := v.Validate(f.Name, value); err != nil {
			return err
		}
	}
	if f.Type == FieldTypeShortText && f.Size > 0 {
		if s, ok := value.(string); ok && len([]rune(s)) > f.Size {
			return errs.Validation(f.Name, "length exceeds %d", f.Size)
		}
	}
	return nil
}

// AsID 把标识转换为字符串形式
func AsID(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	case fmt.Stringer:
		return v.String(), true
	}
	return "", false
}

func asString(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	}
	return "", false
}

func asBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case int64:
		return v != 0, true
	case int:
		return v != 0, true
	case []byte:
		b, err := strconv.ParseBool(string(v))
		return b, err == nil
	case string:
		b, err := strconv.ParseBool(v)
		return b, err == nil
	}
	return false, false
}

var timeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func asTime(value any) (time.Time, bool) {
	var s string
	switch v := value.(type) {
	case time.Time:
		return v, true
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return *v, true
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return time.Time{}, false
	}
	for _, format := range timeFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
