package schema

import (
	"regexp"
	"strings"

	"github.com/hatlonely/relstore/errs"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier 表名、字段名、别名的合法性检查，"__" 保留给生成的列标签
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name) && !strings.Contains(name, "__")
}

// Relation 表之间的一条有向边
//
// many-to-one: Source 持有外键列 Field.Name，连接条件 Target.id = Source.<Field.Name>
// one-to-many: Target 持有外键列 Field.Name，连接条件 Target.<Field.Name> = Source.id
type Relation struct {
	Name        string
	Source      *Table
	Target      *Table
	Cardinality Cardinality
	Field       *Field
}

// Schema 启动时构建一次，之后只读，可以被并发请求共享
type Schema struct {
	tables []*Table
	byName map[string]*Table
}

// Table 根据表名查找
func (s *Schema) Table(name string) (*Table, error) {
	t, ok := s.byName[name]
	if !ok {
		return nil, errs.Schema(name, "table is not declared")
	}
	return t, nil
}

// Tables 按声明顺序返回全部表
func (s *Schema) Tables() []*Table {
	return s.tables
}

// ResolveRelation 解析 table 上名为 name 的关系，包括派生的 one-to-many 视图
func (s *Schema) ResolveRelation(table string, name string) (*Relation, error) {
	t, err := s.Table(table)
	if err != nil {
		return nil, err
	}
	r, ok := t.relations[name]
	if !ok {
		return nil, errs.SchemaField(table, name, "relation is not declared")
	}
	return r, nil
}

// Builder 收集表定义，Build 时解析关系
type Builder struct {
	tables []*Table
	byName map[string]*Table
	built  bool
}

func NewBuilder() *Builder {
	return &Builder{byName: map[string]*Table{}}
}

// DefineTable 定义一张表，字段按传入顺序保存
// 关系目标表允许稍后定义，在 Build 时检查
func (b *Builder) DefineTable(name string, fields ...*Field) (*Table, error) {
	if b.built {
		return nil, errs.Schema(name, "schema is already built")
	}
	if !ValidIdentifier(name) {
		return nil, errs.Schema(name, "invalid table name")
	}
	if _, ok := b.byName[name]; ok {
		return nil, errs.Schema(name, "table is declared twice")
	}

	t := &Table{
		name:      name,
		index:     map[string]*Field{},
		relations: map[string]*Relation{},
	}
	for _, f := range fields {
		if f == nil {
			return nil, errs.Schema(name, "nil field")
		}
		if err := checkField(name, f); err != nil {
			return nil, err
		}
		if _, ok := t.index[f.Name]; ok {
			return nil, errs.SchemaField(name, f.Name, "field is declared twice")
		}
		t.fields = append(t.fields, f)
		t.index[f.Name] = f
	}

	b.tables = append(b.tables, t)
	b.byName[name] = t
	return t, nil
}

func checkField(table string, f *Field) error {
	if f.Name == IDField {
		return errs.SchemaField(table, f.Name, "id is reserved")
	}
	if !ValidIdentifier(f.Name) {
		return errs.SchemaField(table, f.Name, "invalid field name")
	}
	switch f.Type {
	case FieldTypeShortText, FieldTypeLongText, FieldTypeBoolean, FieldTypeDateTime:
	case FieldTypeEnum:
		if len(f.Values) == 0 {
			return errs.SchemaField(table, f.Name, "enum requires values")
		}
		seen := map[string]bool{}
		for _, v := range f.Values {
			if seen[v] {
				return errs.SchemaField(table, f.Name, "enum value %q is declared twice", v)
			}
			seen[v] = true
		}
		if f.HasDefault {
			d, ok := f.Default.(string)
			if !ok || !seen[d] {
				return errs.SchemaField(table, f.Name, "default value %v not in enum values", f.Default)
			}
		}
	case FieldTypeRelation:
		if f.References == "" {
			return errs.SchemaField(table, f.Name, "relation requires references")
		}
		if f.Cardinality == "" {
			f.Cardinality = ManyToOne
		}
		if f.Cardinality != ManyToOne {
			return errs.SchemaField(table, f.Name, "only many-to-one relations can be declared, got %s", f.Cardinality)
		}
		if f.Inverse != "" && !ValidIdentifier(f.Inverse) {
			return errs.SchemaField(table, f.Name, "invalid inverse name %q", f.Inverse)
		}
		if f.OnDelete == "" {
			if f.Mandatory() {
				f.OnDelete = OnDeleteCascade
			} else {
				f.OnDelete = OnDeleteSetNull
			}
		}
		switch f.OnDelete {
		case OnDeleteCascade, OnDeleteRestrict:
		case OnDeleteSetNull:
			if f.Mandatory() {
				return errs.SchemaField(table, f.Name, "mandatory relation cannot use set-null")
			}
		default:
			return errs.SchemaField(table, f.Name, "unknown onDelete action %q", f.OnDelete)
		}
	default:
		return errs.SchemaField(table, f.Name, "unknown field type %q", f.Type)
	}
	return nil
}

// Build 解析全部关系并生成只读的 Schema
func (b *Builder) Build() (*Schema, error) {
	if b.built {
		return nil, errs.Schema("", "schema is already built")
	}

	for _, t := range b.tables {
		for _, f := range t.fields {
			if !f.IsRelation() {
				continue
			}
			target, ok := b.byName[f.References]
			if !ok {
				return nil, errs.SchemaField(t.name, f.Name, "references undeclared table %s", f.References)
			}
			t.relations[f.Name] = &Relation{
				Name:        f.Name,
				Source:      t,
				Target:      target,
				Cardinality: ManyToOne,
				Field:       f,
			}
		}
	}

	for _, t := range b.tables {
		// 同一张源表第一次引用目标表时使用源表名作为反向名字
		named := map[string]bool{}
		for _, f := range t.fields {
			if !f.IsRelation() {
				continue
			}
			target := b.byName[f.References]
			name := f.Inverse
			if name == "" {
				if !named[target.name] {
					name = t.name
				} else {
					name = t.name + strings.ToUpper(f.Name[:1]) + f.Name[1:]
				}
			}
			named[target.name] = true

			if target.HasColumn(name) {
				return nil, errs.SchemaField(target.name, name, "inverse of %s.%s collides with a field", t.name, f.Name)
			}
			if _, ok := target.relations[name]; ok {
				return nil, errs.SchemaField(target.name, name, "inverse of %s.%s is declared twice", t.name, f.Name)
			}
			inverse := &Relation{
				Name:        name,
				Source:      target,
				Target:      t,
				Cardinality: OneToMany,
				Field:       f,
			}
			target.relations[name] = inverse
			target.inverses = append(target.inverses, inverse)
		}
	}

	b.built = true
	return &Schema{tables: b.tables, byName: b.byName}, nil
}
