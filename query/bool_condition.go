package query

import (
	"fmt"
	"strings"
)

// BoolCondition 布尔组合
//
// Must 之间是 AND，Should 之间是 OR，MustNot 中每一项取反后 AND
// MinShouldMatch 大于 1 时要求至少满足指定数量的 Should
type BoolCondition struct {
	Must           []Condition `json:"must,omitempty"`
	Should         []Condition `json:"should,omitempty"`
	MustNot        []Condition `json:"must_not,omitempty"`
	MinShouldMatch *int        `json:"minimum_should_match,omitempty"`
}

func (c *BoolCondition) Type() ConditionType {
	return ConditionTypeBool
}

func (c *BoolCondition) ToSQL(r Resolver) (string, []any, error) {
	var conditions []string
	var args []any

	if len(c.Must) > 0 {
		mustConditions := make([]string, 0, len(c.Must))
		for _, cond := range c.Must {
			sql, condArgs, err := cond.ToSQL(r)
			if err != nil {
				return "", nil, err
			}
			mustConditions = append(mustConditions, sql)
			args = append(args, condArgs...)
		}
		conditions = append(conditions, "("+strings.Join(mustConditions, " AND ")+")")
	}

	if len(c.Should) > 0 {
		shouldConditions := make([]string, 0, len(c.Should))
		for _, cond := range c.Should {
			sql, condArgs, err := cond.ToSQL(r)
			if err != nil {
				return "", nil, err
			}
			shouldConditions = append(shouldConditions, sql)
			args = append(args, condArgs...)
		}

		if c.MinShouldMatch != nil && *c.MinShouldMatch != 1 {
			caseConditions := make([]string, len(shouldConditions))
			for i, condition := range shouldConditions {
				caseConditions[i] = fmt.Sprintf("CASE WHEN (%s) THEN 1 ELSE 0 END", condition)
			}
			conditions = append(conditions, fmt.Sprintf("(%s) >= %d", strings.Join(caseConditions, " + "), *c.MinShouldMatch))
		} else {
			conditions = append(conditions, "("+strings.Join(shouldConditions, " OR ")+")")
		}
	}

	if len(c.MustNot) > 0 {
		mustNotConditions := make([]string, 0, len(c.MustNot))
		for _, cond := range c.MustNot {
			sql, condArgs, err := cond.ToSQL(r)
			if err != nil {
				return "", nil, err
			}
			mustNotConditions = append(mustNotConditions, "NOT ("+sql+")")
			args = append(args, condArgs...)
		}
		conditions = append(conditions, "("+strings.Join(mustNotConditions, " AND ")+")")
	}

	if len(conditions) == 0 {
		return "1=1", nil, nil
	}
	return strings.Join(conditions, " AND "), args, nil
}
