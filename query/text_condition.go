package query

import (
	"strings"
)

// likeEscape 在 mysql 和 sqlite 中含义一致的转义字符
const likeEscape = "!"

var likeReplacer = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func escapeLike(s string) string {
	return likeReplacer.Replace(s)
}

func likeSQL(r Resolver, field string, pattern string) (string, []any, error) {
	column, err := r.Column(field)
	if err != nil {
		return "", nil, err
	}
	return column + " LIKE ? ESCAPE '" + likeEscape + "'", []any{pattern}, nil
}

// PrefixCondition 前缀匹配
type PrefixCondition struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func Prefix(field string, value string) *PrefixCondition {
	return &PrefixCondition{Field: field, Value: value}
}

func (c *PrefixCondition) Type() ConditionType {
	return ConditionTypePrefix
}

func (c *PrefixCondition) ToSQL(r Resolver) (string, []any, error) {
	return likeSQL(r, c.Field, escapeLike(c.Value)+"%")
}

// MatchCondition 包含子串
type MatchCondition struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func Match(field string, value string) *MatchCondition {
	return &MatchCondition{Field: field, Value: value}
}

func (c *MatchCondition) Type() ConditionType {
	return ConditionTypeMatch
}

func (c *MatchCondition) ToSQL(r Resolver) (string, []any, error) {
	return likeSQL(r, c.Field, "%"+escapeLike(c.Value)+"%")
}

// WildcardCondition 通配符匹配
// * 匹配任意数量字符，? 匹配单个字符
type WildcardCondition struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func Wildcard(field string, value string) *WildcardCondition {
	return &WildcardCondition{Field: field, Value: value}
}

func (c *WildcardCondition) Type() ConditionType {
	return ConditionTypeWildcard
}

func (c *WildcardCondition) ToSQL(r Resolver) (string, []any, error) {
	pattern := escapeLike(c.Value)
	pattern = strings.ReplaceAll(pattern, "*", "%")
	pattern = strings.ReplaceAll(pattern, "?", "_")
	return likeSQL(r, c.Field, pattern)
}
