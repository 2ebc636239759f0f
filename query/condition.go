package query

import (
	"fmt"
	"strings"

	"github.com/hatlonely/relstore/database"
)

// ConditionType 条件类型
type ConditionType string

const (
	ConditionTypeBool     ConditionType = "bool"
	ConditionTypeTerm     ConditionType = "term"
	ConditionTypeTerms    ConditionType = "terms"
	ConditionTypeMatch    ConditionType = "match"
	ConditionTypeRange    ConditionType = "range"
	ConditionTypeExists   ConditionType = "exists"
	ConditionTypeWildcard ConditionType = "wildcard"
	ConditionTypePrefix   ConditionType = "prefix"
	ConditionTypeTemplate ConditionType = "template"
)

// Resolver 把条件中的字段引用解析为带引号的列
//
// 字段引用可以是根表字段 "name"，也可以是 "alias.field"
type Resolver interface {
	Column(ref string) (string, error)
	IsAlias(name string) bool
	Dialect() database.Dialect
}

// Condition 过滤条件，ToSQL 生成使用 ? 占位符的片段
type Condition interface {
	Type() ConditionType
	ToSQL(r Resolver) (string, []any, error)
}

// TermCondition 精确匹配，Value 为 nil 时匹配 NULL
type TermCondition struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

func Term(field string, value any) *TermCondition {
	return &TermCondition{Field: field, Value: value}
}

func (c *TermCondition) Type() ConditionType {
	return ConditionTypeTerm
}

func (c *TermCondition) ToSQL(r Resolver) (string, []any, error) {
	column, err := r.Column(c.Field)
	if err != nil {
		return "", nil, err
	}
	if c.Value == nil {
		return column + " IS NULL", nil, nil
	}
	return column + " = ?", []any{c.Value}, nil
}

// TermsCondition 匹配任意一个取值
type TermsCondition struct {
	Field  string `json:"field"`
	Values []any  `json:"values"`
}

func Terms(field string, values ...any) *TermsCondition {
	return &TermsCondition{Field: field, Values: values}
}

func (c *TermsCondition) Type() ConditionType {
	return ConditionTypeTerms
}

func (c *TermsCondition) ToSQL(r Resolver) (string, []any, error) {
	column, err := r.Column(c.Field)
	if err != nil {
		return "", nil, err
	}
	if len(c.Values) == 0 {
		return "1=0", nil, nil
	}
	args := make([]any, len(c.Values))
	copy(args, c.Values)
	return fmt.Sprintf("%s IN (%s)", column, database.Placeholders(len(args))), args, nil
}

// RangeCondition 范围查询，未设置的边界不参与比较
type RangeCondition struct {
	Field string `json:"field"`
	Gt    any    `json:"gt,omitempty"`
	Gte   any    `json:"gte,omitempty"`
	Lt    any    `json:"lt,omitempty"`
	Lte   any    `json:"lte,omitempty"`
}

func (c *RangeCondition) Type() ConditionType {
	return ConditionTypeRange
}

func (c *RangeCondition) ToSQL(r Resolver) (string, []any, error) {
	column, err := r.Column(c.Field)
	if err != nil {
		return "", nil, err
	}

	var conditions []string
	var args []any
	if c.Gt != nil {
		conditions = append(conditions, column+" > ?")
		args = append(args, c.Gt)
	}
	if c.Gte != nil {
		conditions = append(conditions, column+" >= ?")
		args = append(args, c.Gte)
	}
	if c.Lt != nil {
		conditions = append(conditions, column+" < ?")
		args = append(args, c.Lt)
	}
	if c.Lte != nil {
		conditions = append(conditions, column+" <= ?")
		args = append(args, c.Lte)
	}

	if len(conditions) == 0 {
		return "1=1", nil, nil
	}
	return strings.Join(conditions, " AND "), args, nil
}

// ExistsCondition 字段非空
type ExistsCondition struct {
	Field string `json:"field"`
}

func Exists(field string) *ExistsCondition {
	return &ExistsCondition{Field: field}
}

func (c *ExistsCondition) Type() ConditionType {
	return ConditionTypeExists
}

func (c *ExistsCondition) ToSQL(r Resolver) (string, []any, error) {
	column, err := r.Column(c.Field)
	if err != nil {
		return "", nil, err
	}
	return column + " IS NOT NULL", nil, nil
}
