package query

import (
	"reflect"
	"strings"

	"github.com/hatlonely/relstore/database"
	"github.com/hatlonely/relstore/errs"
)

// TemplateCondition 带命名占位符的谓词模板
//
//	task.list = :listId AND status = :status
//	task.id IN (:...ids)
//
// :name 替换为一个绑定参数，:...name 把切片展开为多个绑定参数
// "alias.field" 和根表字段名被改写为带引号的限定列，字符串字面量原样保留
type TemplateCondition struct {
	Template string         `json:"template"`
	Params   map[string]any `json:"params,omitempty"`
}

func Template(template string, params map[string]any) *TemplateCondition {
	return &TemplateCondition{Template: template, Params: params}
}

func (c *TemplateCondition) Type() ConditionType {
	return ConditionTypeTemplate
}

// 这些单词即使和字段同名也不会被限定
var keywords = map[string]bool{
	"AND": true, "OR": true, "NOT": true, "IS": true, "NULL": true, "IN": true,
	"LIKE": true, "BETWEEN": true, "TRUE": true, "FALSE": true, "EXISTS": true,
	"CASE": true, "WHEN": true, "THEN": true, "ELSE": true, "END": true,
	"ESCAPE": true, "COLLATE": true, "DISTINCT": true, "AS": true,
}

func (c *TemplateCondition) ToSQL(r Resolver) (string, []any, error) {
	s := c.Template
	if strings.TrimSpace(s) == "" {
		return "", nil, errs.Validation("", "empty where template")
	}

	var sb strings.Builder
	var args []any
	for i := 0; i < len(s); {
		ch := s[i]
		switch {
		case ch == '\'' || ch == '"' || ch == '`':
			j, ok := scanQuoted(s, i)
			if !ok {
				return "", nil, errs.Validation("", "unterminated quote in %q", s)
			}
			sb.WriteString(s[i:j])
			i = j

		case ch == '?':
			return "", nil, errs.Validation("", "positional placeholder in %q, use :name", s)

		case ch == ':':
			if i+1 < len(s) && s[i+1] == ':' {
				sb.WriteString("::")
				i += 2
				continue
			}
			start := i + 1
			spread := strings.HasPrefix(s[start:], "...")
			if spread {
				start += 3
			}
			j := scanIdentifier(s, start)
			if j == start {
				if spread {
					return "", nil, errs.Validation("", "spread placeholder without a name in %q", s)
				}
				sb.WriteByte(ch)
				i++
				continue
			}
			name := s[start:j]
			value, ok := c.Params[name]
			if !ok {
				return "", nil, errs.Validation(name, "missing parameter")
			}
			if spread {
				values, err := spreadValues(name, value)
				if err != nil {
					return "", nil, err
				}
				if len(values) == 0 {
					// IN (NULL) 不匹配任何行
					sb.WriteString("NULL")
				} else {
					sb.WriteString(database.Placeholders(len(values)))
					args = append(args, values...)
				}
			} else {
				sb.WriteByte('?')
				args = append(args, value)
			}
			i = j

		case isIdentifierStart(ch):
			j := scanIdentifier(s, i)
			ident := s[i:j]
			if j+1 < len(s) && s[j] == '.' && isIdentifierStart(s[j+1]) {
				k := scanIdentifier(s, j+1)
				if !r.IsAlias(ident) {
					return "", nil, errs.Schema("", "unknown alias %q in %q", ident, s)
				}
				column, err := r.Column(ident + "." + s[j+1:k])
				if err != nil {
					return "", nil, err
				}
				sb.WriteString(column)
				i = k
				continue
			}
			if keywords[strings.ToUpper(ident)] || nextNonSpace(s, j) == '(' {
				sb.WriteString(ident)
			} else if column, err := r.Column(ident); err == nil {
				sb.WriteString(column)
			} else {
				sb.WriteString(ident)
			}
			i = j

		case ch >= '0' && ch <= '9':
			j := i
			for j < len(s) && (isIdentifierPart(s[j]) || s[j] == '.') {
				j++
			}
			sb.WriteString(s[i:j])
			i = j

		default:
			sb.WriteByte(ch)
			i++
		}
	}
	return sb.String(), args, nil
}

// scanQuoted 返回闭合引号之后的位置，两个连续引号视为转义
func scanQuoted(s string, i int) (int, bool) {
	quote := s[i]
	for j := i + 1; j < len(s); j++ {
		if s[j] != quote {
			continue
		}
		if j+1 < len(s) && s[j+1] == quote {
			j++
			continue
		}
		return j + 1, true
	}
	return 0, false
}

func scanIdentifier(s string, i int) int {
	if i >= len(s) || !isIdentifierStart(s[i]) {
		return i
	}
	j := i + 1
	for j < len(s) && isIdentifierPart(s[j]) {
		j++
	}
	return j
}

func isIdentifierStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentifierPart(ch byte) bool {
	return isIdentifierStart(ch) || (ch >= '0' && ch <= '9')
}

func nextNonSpace(s string, i int) byte {
	for ; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return s[i]
	}
	return 0
}

func spreadValues(name string, value any) ([]any, error) {
	if values, ok := value.([]any); ok {
		return values, nil
	}
	rv := reflect.ValueOf(value)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, errs.Validation(name, "spread parameter must be a slice, got %T", value)
	}
	values := make([]any, rv.Len())
	for i := range values {
		values[i] = rv.Index(i).Interface()
	}
	return values, nil
}
