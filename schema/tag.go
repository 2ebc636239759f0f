package schema

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/hatlonely/relstore/errs"
)

// TableNamer 结构体通过 TableName 方法指定表名
type TableNamer interface {
	TableName() string
}

// DefineStruct 从结构体定义一张表
// 支持的 tag 格式：
// - `rel:"name,type=short-text,size=120,mandatory"`
// - `rel:"status,values=todo|completed,default=todo"`
// - `rel:"list,references=lists,inverse=tasks,onDelete=cascade,mandatory"`
// - `rel:"email,rule=email"`
// - `rel:"-"` 忽略字段；名为 id 的字段视为主键，不参与定义
func (b *Builder) DefineStruct(v any) (*Table, error) {
	name, fields, err := FromStruct(v)
	if err != nil {
		return nil, err
	}
	return b.DefineTable(name, fields...)
}

// FromStruct 解析结构体的 rel tag，返回表名和字段列表
func FromStruct(v any) (string, []*Field, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return "", nil, errs.Schema("", "expected struct, got %T", v)
	}
	rt := rv.Type()

	tableName := strings.ToLower(rt.Name())
	if namer, ok := v.(TableNamer); ok {
		tableName = namer.TableName()
	}

	var fields []*Field
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := sf.Tag.Get("rel")
		if tag == "-" {
			continue
		}
		f, err := parseFieldTag(tableName, sf, tag)
		if err != nil {
			return "", nil, err
		}
		if f.Name == IDField {
			continue
		}
		fields = append(fields, f)
	}
	return tableName, fields, nil
}

func parseFieldTag(table string, sf reflect.StructField, tag string) (*Field, error) {
	f := &Field{Name: sf.Name, Type: inferFieldType(sf.Type)}
	if tag == "" {
		if f.Type == FieldTypeShortText {
			f.Size = DefaultShortTextSize
		}
		return f, nil
	}

	parts := strings.Split(tag, ",")
	if parts[0] != "" && !strings.Contains(parts[0], "=") {
		f.Name = parts[0]
		parts = parts[1:]
	}

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "=") {
			switch part {
			case mandatoryName, "required":
				f.Validations = append(f.Validations, Mandatory())
			default:
				return nil, errs.SchemaField(table, f.Name, "unknown tag option %q", part)
			}
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		key, value := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		switch key {
		case "type":
			f.Type = FieldType(value)
		case "size":
			size, err := strconv.Atoi(value)
			if err != nil {
				return nil, errs.SchemaField(table, f.Name, "invalid size %q", value)
			}
			f.Size = size
		case "values":
			f.Type = FieldTypeEnum
			f.Values = strings.Split(value, "|")
		case "default":
			f.Default = value
			f.HasDefault = true
		case "references":
			f.Type = FieldTypeRelation
			f.References = value
			f.Cardinality = ManyToOne
		case "inverse":
			f.Inverse = value
		case "onDelete":
			f.OnDelete = OnDelete(value)
		case "rule":
			f.Validations = append(f.Validations, Rule(value))
		default:
			return nil, errs.SchemaField(table, f.Name, "unknown tag option %q", key)
		}
	}

	if f.Type == FieldTypeShortText && f.Size == 0 {
		f.Size = DefaultShortTextSize
	}
	return f, nil
}

// inferFieldType 从 Go 类型推断字段类型
func inferFieldType(t reflect.Type) FieldType {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == reflect.TypeOf(time.Time{}) {
		return FieldTypeDateTime
	}
	switch t.Kind() {
	case reflect.Bool:
		return FieldTypeBoolean
	default:
		return FieldTypeShortText
	}
}
