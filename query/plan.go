package query

import (
	"fmt"
	"strings"

	"github.com/hatlonely/relstore/database"
	"github.com/hatlonely/relstore/errs"
	"github.com/hatlonely/relstore/schema"
)

const (
	// CountLabel 计数语句返回的列名
	CountLabel = "total"
	// ScopeLabel 作用域语句返回的列名
	ScopeLabel = "id"

	pageAlias = "__page"
	pageID    = "__rid"
)

// Label 结果列的标签，"__" 不会出现在合法的标识符中
func Label(alias string, column string) string {
	return alias + "__" + column
}

// Statement 可以直接交给 database.Executor 执行的语句
type Statement struct {
	SQL  string
	Args []any
}

// Node 查询中的一个别名，根表的 Parent 和 Relation 为 nil
type Node struct {
	Alias    string
	Table    *schema.Table
	Parent   *Node
	Relation *schema.Relation
	Selected bool
}

// FansOut 沿 one-to-many 关系 join 会让根行重复
func (n *Node) FansOut() bool {
	return n.Relation != nil && n.Relation.Cardinality == schema.OneToMany
}

// Plan 针对某个方言编译好的查询，只读，不做任何 I/O
type Plan struct {
	dialect database.Dialect
	root    *Node
	joins   []*Node
	aliases map[string]*Node

	where     string
	whereArgs []any
	// filterJoins 过滤条件引用到的 join 及其祖先，按声明顺序
	filterJoins []*Node

	order  *Order
	limit  int
	offset int
	paged  bool
}

// Plan 根据 schema 解析表、关系和字段引用，生成指定方言的执行计划
func (b Builder) Plan(sch *schema.Schema, d database.Dialect) (*Plan, error) {
	if b.err != nil {
		return nil, b.err
	}
	table, err := sch.Table(b.table)
	if err != nil {
		return nil, err
	}
	if !schema.ValidIdentifier(b.alias) {
		return nil, errs.Schema(b.table, "invalid alias %q", b.alias)
	}

	p := &Plan{
		dialect: d,
		root:    &Node{Alias: b.alias, Table: table, Selected: true},
		aliases: map[string]*Node{},
		limit:   b.limit,
		offset:  b.offset,
		paged:   b.paged,
	}
	p.aliases[b.alias] = p.root

	for _, j := range b.joins {
		node, err := p.resolveJoin(sch, j)
		if err != nil {
			return nil, err
		}
		p.joins = append(p.joins, node)
		p.aliases[node.Alias] = node
	}

	if b.order != nil {
		field := b.order.Field
		if alias, name, ok := strings.Cut(field, "."); ok {
			if alias != b.alias {
				return nil, errs.Schema(b.table, "order by %q must reference the root alias %q", field, b.alias)
			}
			field = name
		}
		if !table.HasColumn(field) {
			return nil, errs.SchemaField(b.table, field, "unknown order by column")
		}
		p.order = &Order{Field: field, Direction: b.order.Direction}
	}

	r := &resolver{plan: p, used: map[string]bool{}}
	var conditions []string
	for _, cond := range b.conditions {
		sql, args, err := cond.ToSQL(r)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, "("+sql+")")
		p.whereArgs = append(p.whereArgs, args...)
	}
	p.where = strings.Join(conditions, " AND ")

	needed := map[*Node]bool{}
	for alias := range r.used {
		for n := p.aliases[alias]; n != nil && n.Parent != nil; n = n.Parent {
			needed[n] = true
		}
	}
	for _, n := range p.joins {
		if needed[n] {
			p.filterJoins = append(p.filterJoins, n)
		}
	}
	return p, nil
}

func (p *Plan) resolveJoin(sch *schema.Schema, j Join) (*Node, error) {
	if !schema.ValidIdentifier(j.Alias) {
		return nil, errs.Schema(p.root.Table.Name(), "invalid alias %q", j.Alias)
	}
	if _, ok := p.aliases[j.Alias]; ok {
		return nil, errs.Schema(p.root.Table.Name(), "alias %q is used twice", j.Alias)
	}

	parent := p.root
	relation := j.Path
	if alias, name, ok := strings.Cut(j.Path, "."); ok {
		parent, ok = p.aliases[alias]
		if !ok {
			return nil, errs.Schema(p.root.Table.Name(), "join path %q starts from unknown alias %q", j.Path, alias)
		}
		relation = name
	}
	rel, err := sch.ResolveRelation(parent.Table.Name(), relation)
	if err != nil {
		return nil, err
	}
	if j.Select && !parent.Selected {
		return nil, errs.Schema(p.root.Table.Name(), "cannot select %q through join %q that is not selected", j.Alias, parent.Alias)
	}
	return &Node{
		Alias:    j.Alias,
		Table:    rel.Target,
		Parent:   parent,
		Relation: rel,
		Selected: j.Select,
	}, nil
}

func (p *Plan) Dialect() database.Dialect {
	return p.dialect
}

func (p *Plan) Root() *Node {
	return p.root
}

// Joins 按声明顺序返回全部 join
func (p *Plan) Joins() []*Node {
	return p.joins
}

// Selected 根表和所有被选择的 join
func (p *Plan) Selected() []*Node {
	nodes := []*Node{p.root}
	for _, n := range p.joins {
		if n.Selected {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

func (p *Plan) Paged() bool {
	return p.paged
}

// Count 统计满足条件的不同根实体数量，忽略分页和只用于展示的 join
func (p *Plan) Count() Statement {
	d := p.dialect
	expr := "COUNT(*)"
	if fansOut(p.filterJoins) {
		expr = fmt.Sprintf("COUNT(DISTINCT %s)", d.QuoteColumn(p.root.Alias, schema.IDField))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s AS %s FROM %s", expr, d.Quote(CountLabel), p.fromRoot())
	p.writeJoins(&sb, p.filterJoins)
	args := p.writeWhere(&sb)
	return Statement{SQL: sb.String(), Args: args}
}

// Select 查询根实体和被选择的 join
//
// 分页时先在派生表中选出当前页的根 id，再与根表和全部 join 连接，
// 这样 LIMIT 约束的是根实体的数量，而不是 join 之后的行数
func (p *Plan) Select() Statement {
	d := p.dialect

	var columns []string
	for _, n := range p.Selected() {
		for _, c := range n.Table.Columns() {
			columns = append(columns, fmt.Sprintf("%s AS %s", d.QuoteColumn(n.Alias, c), d.Quote(Label(n.Alias, c))))
		}
	}

	var sb strings.Builder
	var args []any
	fmt.Fprintf(&sb, "SELECT %s FROM %s", strings.Join(columns, ", "), p.fromRoot())
	if p.paged {
		page := p.pageIDs()
		fmt.Fprintf(&sb, " INNER JOIN (%s) AS %s ON %s = %s", page.SQL, d.Quote(pageAlias),
			d.QuoteColumn(pageAlias, pageID), d.QuoteColumn(p.root.Alias, schema.IDField))
		args = append(args, page.Args...)
		p.writeJoins(&sb, p.joins)
		// 条件只涉及根表时派生表已经完成了过滤
		if len(p.filterJoins) > 0 {
			args = append(args, p.writeWhere(&sb)...)
		}
	} else {
		p.writeJoins(&sb, p.joins)
		args = append(args, p.writeWhere(&sb)...)
	}

	orders := p.rootOrder()
	for _, n := range p.joins {
		if n.Selected {
			orders = append(orders, d.QuoteColumn(n.Alias, schema.IDField)+" ASC")
		}
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(strings.Join(orders, ", "))
	return Statement{SQL: sb.String(), Args: args}
}

// pageIDs 当前页的根 id，只包含过滤需要的 join
func (p *Plan) pageIDs() Statement {
	d := p.dialect
	rootID := d.QuoteColumn(p.root.Alias, schema.IDField)

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s AS %s FROM %s", rootID, d.Quote(pageID), p.fromRoot())
	p.writeJoins(&sb, p.filterJoins)
	args := p.writeWhere(&sb)
	if fansOut(p.filterJoins) {
		groups := []string{rootID}
		if p.order != nil && p.order.Field != schema.IDField {
			groups = append(groups, d.QuoteColumn(p.root.Alias, p.order.Field))
		}
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(groups, ", "))
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(strings.Join(p.rootOrder(), ", "))
	fmt.Fprintf(&sb, " LIMIT %d OFFSET %d", p.limit, p.offset)
	return Statement{SQL: sb.String(), Args: args}
}

// Scope 查询满足条件的根 id，用于 patch 和 remove，忽略分页
// 同一个 id 可能因为 join 出现多次，由调用方去重
func (p *Plan) Scope(forUpdate bool) Statement {
	d := p.dialect

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s AS %s FROM %s", d.QuoteColumn(p.root.Alias, schema.IDField), d.Quote(ScopeLabel), p.fromRoot())
	p.writeJoins(&sb, p.filterJoins)
	args := p.writeWhere(&sb)
	if forUpdate && d.SupportsForUpdate() {
		sb.WriteString(" FOR UPDATE")
	}
	return Statement{SQL: sb.String(), Args: args}
}

func (p *Plan) fromRoot() string {
	return fmt.Sprintf("%s AS %s", p.dialect.Quote(p.root.Table.Name()), p.dialect.Quote(p.root.Alias))
}

func (p *Plan) writeJoins(sb *strings.Builder, nodes []*Node) {
	d := p.dialect
	for _, n := range nodes {
		var on string
		if n.Relation.Cardinality == schema.ManyToOne {
			on = fmt.Sprintf("%s = %s", d.QuoteColumn(n.Alias, schema.IDField), d.QuoteColumn(n.Parent.Alias, n.Relation.Field.Name))
		} else {
			on = fmt.Sprintf("%s = %s", d.QuoteColumn(n.Alias, n.Relation.Field.Name), d.QuoteColumn(n.Parent.Alias, schema.IDField))
		}
		fmt.Fprintf(sb, " LEFT JOIN %s AS %s ON %s", d.Quote(n.Table.Name()), d.Quote(n.Alias), on)
	}
}

func (p *Plan) writeWhere(sb *strings.Builder) []any {
	if p.where == "" {
		return nil
	}
	sb.WriteString(" WHERE ")
	sb.WriteString(p.where)
	return append([]any(nil), p.whereArgs...)
}

// rootOrder 排序字段加上根 id，保证分页稳定
func (p *Plan) rootOrder() []string {
	d := p.dialect
	var orders []string
	if p.order != nil && p.order.Field != schema.IDField {
		orders = append(orders, d.QuoteColumn(p.root.Alias, p.order.Field)+" "+string(p.order.Direction))
	}
	idDirection := ASC
	if p.order != nil && p.order.Field == schema.IDField {
		idDirection = p.order.Direction
	}
	return append(orders, d.QuoteColumn(p.root.Alias, schema.IDField)+" "+string(idDirection))
}

func fansOut(nodes []*Node) bool {
	for _, n := range nodes {
		if n.FansOut() {
			return true
		}
	}
	return false
}

type resolver struct {
	plan *Plan
	used map[string]bool
}

func (r *resolver) Column(ref string) (string, error) {
	alias, field := r.plan.root.Alias, ref
	if a, f, ok := strings.Cut(ref, "."); ok {
		alias, field = a, f
	}
	node, ok := r.plan.aliases[alias]
	if !ok {
		return "", errs.Schema(r.plan.root.Table.Name(), "unknown alias %q", alias)
	}
	if !node.Table.HasColumn(field) {
		return "", errs.SchemaField(node.Table.Name(), field, "unknown column")
	}
	r.used[alias] = true
	return r.plan.dialect.QuoteColumn(alias, field), nil
}

func (r *resolver) IsAlias(name string) bool {
	_, ok := r.plan.aliases[name]
	return ok
}

func (r *resolver) Dialect() database.Dialect {
	return r.plan.dialect
}
