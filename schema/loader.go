package schema

import (
	"io"
	"os"

	"github.com/hatlonely/relstore/errs"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// fieldSpec 声明式字段定义
//
//	list:
//	  type: relation
//	  references: lists
//	  relationship: many-to-one
//	  validations: [mandatory]
type fieldSpec struct {
	Type         FieldType `yaml:"type"`
	Size         int       `yaml:"size"`
	Values       []string  `yaml:"values"`
	DefaultValue *string   `yaml:"defaultValue"`
	References   string    `yaml:"references"`
	Relationship string    `yaml:"relationship"`
	Inverse      string    `yaml:"inverse"`
	OnDelete     string    `yaml:"onDelete"`
	Validations  []string  `yaml:"validations"`
}

// LoadFile 从 YAML 文件加载 Schema
func LoadFile(path string) (*Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open schema file %s failed", path)
	}
	defer f.Close()
	return LoadYAML(f)
}

// LoadYAML 解析声明式 Schema，表和字段保持文件中的声明顺序
func LoadYAML(r io.Reader) (*Schema, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errs.Schema("", "decode yaml: %v", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errs.Schema("", "empty schema document")
	}
	tablesNode, err := lookup(doc.Content[0], "tables")
	if err != nil {
		return nil, err
	}
	if tablesNode.Kind != yaml.MappingNode {
		return nil, errs.Schema("", "tables must be a mapping")
	}

	builder := NewBuilder()
	for i := 0; i+1 < len(tablesNode.Content); i += 2 {
		tableName := tablesNode.Content[i].Value
		fieldsNode, err := lookup(tablesNode.Content[i+1], "fields")
		if err != nil {
			return nil, errs.Schema(tableName, "%v", err)
		}
		if fieldsNode.Kind != yaml.MappingNode {
			return nil, errs.Schema(tableName, "fields must be a mapping")
		}

		var fields []*Field
		for j := 0; j+1 < len(fieldsNode.Content); j += 2 {
			fieldName := fieldsNode.Content[j].Value
			var spec fieldSpec
			if err := fieldsNode.Content[j+1].Decode(&spec); err != nil {
				return nil, errs.SchemaField(tableName, fieldName, "decode field: %v", err)
			}
			fields = append(fields, spec.toField(fieldName))
		}

		if _, err := builder.DefineTable(tableName, fields...); err != nil {
			return nil, err
		}
	}

	return builder.Build()
}

func lookup(node *yaml.Node, key string) (*yaml.Node, error) {
	if node.Kind != yaml.MappingNode {
		return nil, errs.Schema("", "expected mapping with key %q", key)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1], nil
		}
	}
	return nil, errs.Schema("", "missing key %q", key)
}

func (s *fieldSpec) toField(name string) *Field {
	var validations []Validation
	for _, v := range s.Validations {
		validations = append(validations, ParseValidation(v))
	}
	opts := []Option{WithValidations(validations...)}

	typ := s.Type
	if typ == "" && len(s.Values) > 0 {
		typ = FieldTypeEnum
	}
	if typ == "" && s.References != "" {
		typ = FieldTypeRelation
	}

	switch typ {
	case FieldTypeShortText:
		if s.Size > 0 {
			opts = append(opts, WithSize(s.Size))
		}
		return ShortText(name, opts...)
	case FieldTypeEnum:
		defaultValue := ""
		if s.DefaultValue != nil {
			defaultValue = *s.DefaultValue
		}
		return Enum(name, s.Values, defaultValue, opts...)
	case FieldTypeRelation:
		if s.Inverse != "" {
			opts = append(opts, WithInverse(s.Inverse))
		}
		if s.OnDelete != "" {
			opts = append(opts, WithOnDelete(OnDelete(s.OnDelete)))
		}
		return RelationField(name, s.References, Cardinality(s.Relationship), opts...)
	}
	return newField(name, typ, opts...)
}
