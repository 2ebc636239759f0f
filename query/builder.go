package query

import (
	"slices"
	"strings"

	"github.com/hatlonely/relstore/errs"
)

// Direction 排序方向
type Direction string

const (
	ASC  Direction = "ASC"
	DESC Direction = "DESC"
)

// Join 沿关系的 left join，Path 为 "alias.relation"，省略 alias 时从根表出发
type Join struct {
	Path   string
	Alias  string
	Select bool
}

// Order 根表上的排序字段
type Order struct {
	Field     string
	Direction Direction
}

// Builder 查询构建器
//
// Builder 是值类型，每个方法返回新的 Builder，原 Builder 不受影响，
// 因此可以在多个请求之间共享一个基础查询。构建过程中的错误会延迟到 Plan 时返回。
type Builder struct {
	table      string
	alias      string
	conditions []Condition
	joins      []Join
	order      *Order
	limit      int
	offset     int
	paged      bool
	err        error
}

// New 创建以 table 为根表的查询
func New(table string, alias string) Builder {
	return Builder{table: table, alias: alias}
}

func (b Builder) Table() string {
	return b.table
}

func (b Builder) Alias() string {
	return b.alias
}

// Conditions 返回过滤条件的副本
func (b Builder) Conditions() []Condition {
	return slices.Clone(b.conditions)
}

// Joins 返回 join 的副本
func (b Builder) Joins() []Join {
	return slices.Clone(b.joins)
}

func (b Builder) Order() (Order, bool) {
	if b.order == nil {
		return Order{}, false
	}
	return *b.order, true
}

// Page 返回分页参数，ok 为 false 表示没有分页
func (b Builder) Page() (limit int, offset int, ok bool) {
	return b.limit, b.offset, b.paged
}

// Err 构建过程中记录的第一个错误
func (b Builder) Err() error {
	return b.err
}

// Where 追加一个模板条件，多个条件之间是 AND
func (b Builder) Where(template string, params map[string]any) Builder {
	return b.AndWhere(Template(template, params))
}

// AndWhere 追加任意条件
func (b Builder) AndWhere(cond Condition) Builder {
	if cond == nil {
		return b.fail(errs.Validation("", "nil condition"))
	}
	b.conditions = append(slices.Clip(b.conditions), cond)
	return b
}

// LeftJoinAndSelect 追加 left join，目标表的字段出现在结果中
func (b Builder) LeftJoinAndSelect(path string, alias string) Builder {
	return b.join(Join{Path: path, Alias: alias, Select: true})
}

// LeftJoin 追加只用于过滤的 left join
func (b Builder) LeftJoin(path string, alias string) Builder {
	return b.join(Join{Path: path, Alias: alias})
}

func (b Builder) join(j Join) Builder {
	b.joins = append(slices.Clip(b.joins), j)
	return b
}

// OrderBy 设置排序，重复调用时后一次覆盖前一次
func (b Builder) OrderBy(field string, direction Direction) Builder {
	direction = Direction(strings.ToUpper(string(direction)))
	if direction == "" {
		direction = ASC
	}
	if direction != ASC && direction != DESC {
		return b.fail(errs.Validation("direction", "must be ASC or DESC, got %q", direction))
	}
	b.order = &Order{Field: field, Direction: direction}
	return b
}

// Paginate 限制返回的根实体数量
func (b Builder) Paginate(limit int, offset int) Builder {
	if limit <= 0 {
		return b.fail(errs.Validation("limit", "must be greater than 0"))
	}
	if offset < 0 {
		return b.fail(errs.Validation("offset", "must not be negative"))
	}
	b.limit, b.offset, b.paged = limit, offset, true
	return b
}

// Unpaginated 去掉分页参数
func (b Builder) Unpaginated() Builder {
	b.limit, b.offset, b.paged = 0, 0, false
	return b
}

func (b Builder) fail(err error) Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}
