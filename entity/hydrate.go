package entity

import (
	"github.com/hatlonely/relstore/database"
	"github.com/hatlonely/relstore/errs"
	"github.com/hatlonely/relstore/query"
	"github.com/hatlonely/relstore/schema"
)

type childKey struct {
	parent *Record
	alias  string
	id     string
}

// hydrate 把 join 之后的扁平行还原为根实体和嵌套集合
// 每个根实体和每个父实体下的子实体只出现一次，顺序与行顺序一致
func hydrate(plan *query.Plan, rows []database.Row) ([]*Record, error) {
	nodes := plan.Selected()
	root := nodes[0]

	children := map[*query.Node][]*query.Node{}
	for _, n := range nodes[1:] {
		children[n.Parent] = append(children[n.Parent], n)
	}

	records := []*Record{}
	roots := map[string]*Record{}
	seen := map[childKey]*Record{}

	for _, row := range rows {
		current := map[*query.Node]*Record{}

		id, err := rowID(root, row)
		if err != nil {
			return nil, err
		}
		if id == "" {
			continue
		}
		rec, ok := roots[id]
		if !ok {
			if rec, err = decode(root, row, children[root]); err != nil {
				return nil, err
			}
			roots[id] = rec
			records = append(records, rec)
		}
		current[root] = rec

		for _, n := range nodes[1:] {
			parent := current[n.Parent]
			if parent == nil {
				continue
			}
			id, err := rowID(n, row)
			if err != nil {
				return nil, err
			}
			if id == "" {
				// left join 没有匹配
				continue
			}
			key := childKey{parent: parent, alias: n.Alias, id: id}
			child, ok := seen[key]
			if !ok {
				if child, err = decode(n, row, children[n]); err != nil {
					return nil, err
				}
				seen[key] = child
				if n.FansOut() {
					parent.Set(n.Relation.Name, append(parent.Records(n.Relation.Name), child))
				} else {
					parent.Set(n.Relation.Name, child)
				}
			}
			current[n] = child
		}
	}
	return records, nil
}

func rowID(n *query.Node, row database.Row) (string, error) {
	v := row[query.Label(n.Alias, schema.IDField)]
	if v == nil {
		return "", nil
	}
	id, ok := schema.AsID(v)
	if !ok {
		return "", errs.SchemaField(n.Table.Name(), schema.IDField, "cannot decode identifier of type %T", v)
	}
	return id, nil
}

func decode(n *query.Node, row database.Row, children []*query.Node) (*Record, error) {
	rec := NewRecord()
	for _, c := range n.Table.Columns() {
		v, err := n.Table.Decode(c, row[query.Label(n.Alias, c)])
		if err != nil {
			return nil, err
		}
		rec.Set(c, v)
	}
	for _, c := range children {
		if c.FansOut() {
			rec.Set(c.Relation.Name, []*Record{})
		} else {
			rec.Set(c.Relation.Name, nil)
		}
	}
	return rec, nil
}
