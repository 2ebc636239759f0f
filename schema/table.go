package schema

import (
	"sort"

	"github.com/hatlonely/relstore/errs"
)

// Table 表定义，Build 之后只读
type Table struct {
	name   string
	fields []*Field
	index  map[string]*Field

	// relations 通过字段名或反向名字索引的关系
	relations map[string]*Relation
	// inverses 按声明顺序排列的 one-to-many 视图
	inverses []*Relation
}

func (t *Table) Name() string {
	return t.name
}

// Fields 按声明顺序返回字段，不含 id
func (t *Table) Fields() []*Field {
	return t.fields
}

// Field 根据名字查找字段
func (t *Table) Field(name string) (*Field, bool) {
	f, ok := t.index[name]
	return f, ok
}

// HasColumn 是否存在该列，包括 id
func (t *Table) HasColumn(name string) bool {
	if name == IDField {
		return true
	}
	_, ok := t.index[name]
	return ok
}

// Columns 返回 id 加上全部声明字段
func (t *Table) Columns() []string {
	columns := make([]string, 0, len(t.fields)+1)
	columns = append(columns, IDField)
	for _, f := range t.fields {
		columns = append(columns, f.Name)
	}
	return columns
}

// Relation 根据名字查找关系，包括派生的反向关系
func (t *Table) Relation(name string) (*Relation, bool) {
	r, ok := t.relations[name]
	return r, ok
}

// Inverses 返回以本表为 "one" 端的 one-to-many 视图
func (t *Table) Inverses() []*Relation {
	return t.inverses
}

// References 返回本表 many-to-one 字段引用的表名
func (t *Table) References() []string {
	var refs []string
	for _, f := range t.fields {
		if f.IsRelation() {
			refs = append(refs, f.References)
		}
	}
	return refs
}

// ValidateCreate 填充默认值并执行全部校验，返回可写入的字段值
// 未声明的字段、非法取值、缺失的 mandatory 字段都会返回 ValidationError
func (t *Table) ValidateCreate(values map[string]any) (map[string]any, error) {
	if err := t.checkKeys(values); err != nil {
		return nil, err
	}
	result := make(map[string]any, len(t.fields))
	for _, f := range t.fields {
		value := values[f.Name]
		if value == nil && f.HasDefault {
			value = f.Default
		}
		v, err := f.Coerce(value)
		if err != nil {
			return nil, err
		}
		if err := f.Validate(v); err != nil {
			return nil, err
		}
		result[f.Name] = v
	}
	return result, nil
}

// ValidatePatch 只校验出现在 values 中的字段
func (t *Table) ValidatePatch(values map[string]any) (map[string]any, error) {
	if err := t.checkKeys(values); err != nil {
		return nil, err
	}
	result := make(map[string]any, len(values))
	for _, f := range t.fields {
		value, ok := values[f.Name]
		if !ok {
			continue
		}
		v, err := f.Coerce(value)
		if err != nil {
			return nil, err
		}
		if err := f.Validate(v); err != nil {
			return nil, err
		}
		result[f.Name] = v
	}
	return result, nil
}

func (t *Table) checkKeys(values map[string]any) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == IDField {
			return errs.Validation(k, "is generated and cannot be written")
		}
		if _, ok := t.index[k]; !ok {
			return errs.Validation(k, "is not declared on table %s", t.name)
		}
	}
	return nil
}

// Decode 把存储层读出的原始值转换成字段类型的规范表示
func (t *Table) Decode(column string, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if column == IDField {
		id, ok := AsID(value)
		if !ok {
			return nil, errs.SchemaField(t.name, column, "cannot decode identifier of type %T", value)
		}
		return id, nil
	}
	f, ok := t.index[column]
	if !ok {
		return nil, errs.SchemaField(t.name, column, "unknown column")
	}
	if f.Type == FieldTypeEnum {
		// 读取时不做成员校验
		s, ok := asString(value)
		if !ok {
			return nil, errs.SchemaField(t.name, column, "cannot decode %T", value)
		}
		return s, nil
	}
	return f.Coerce(value)
}
