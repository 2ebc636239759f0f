package entity

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hatlonely/relstore/database"
	"github.com/hatlonely/relstore/errs"
	"github.com/hatlonely/relstore/log"
	"github.com/hatlonely/relstore/log/logger"
	"github.com/hatlonely/relstore/pagination"
	"github.com/hatlonely/relstore/query"
	"github.com/hatlonely/relstore/schema"
	"github.com/hatlonely/relstore/uid"
)

// removeBatchSize 每条 DELETE 语句绑定的 id 数量上限
const removeBatchSize = 500

// Engine 基于 Schema 的实体读写
//
// Engine 本身没有可变状态，可以被并发请求共享
type Engine struct {
	db     database.Database
	schema *schema.Schema
	ids    uid.Generator
	logger logger.Logger
}

type Option func(*Engine)

func WithIDGenerator(g uid.Generator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

func NewEngine(db database.Database, sch *schema.Schema, opts ...Option) *Engine {
	e := &Engine{db: db, schema: sch}
	for _, opt := range opts {
		opt(e)
	}
	if e.ids == nil {
		e.ids, _ = uid.NewUUIDGeneratorWithOptions(nil)
	}
	if e.logger == nil {
		e.logger = log.Default()
	}
	e.logger = e.logger.WithGroup("entity")
	return e
}

func (e *Engine) Schema() *schema.Schema {
	return e.schema
}

// Page 列表接口的返回结构
type Page struct {
	Meta    pagination.Metadata `json:"meta"`
	Records []*Record           `json:"records"`
}

// CreateQueryBuilder 创建以 table 为根表的查询
func (e *Engine) CreateQueryBuilder(table string, alias string) query.Builder {
	return query.New(table, alias)
}

func (e *Engine) plan(b query.Builder) (*query.Plan, error) {
	return b.Plan(e.schema, e.db.Dialect())
}

// GetCount 满足条件的不同根实体数量，不受分页影响
func (e *Engine) GetCount(ctx context.Context, b query.Builder) (int64, error) {
	p, err := e.plan(b)
	if err != nil {
		return 0, err
	}
	return e.count(ctx, e.db, p)
}

func (e *Engine) count(ctx context.Context, exec database.Executor, p *query.Plan) (int64, error) {
	st := p.Count()
	if e.logger.Enabled(ctx, slog.LevelDebug) {
		e.logger.DebugContext(ctx, "count", "table", p.Root().Table.Name(), "sql", st.SQL, "args", len(st.Args))
	}
	rows, err := exec.Query(ctx, st.SQL, st.Args...)
	if err != nil {
		return 0, err
	}
	if len(rows) != 1 {
		return 0, errs.Storage("count", fmt.Errorf("expected 1 row, got %d", len(rows)))
	}
	switch v := rows[0][query.CountLabel].(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		// mysql 文本协议
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, errs.Storage("count", err)
		}
		return n, nil
	default:
		return 0, errs.Storage("count", fmt.Errorf("unexpected count type %T", v))
	}
}

// Execute 执行查询，返回去重后的根实体，每个被选择的 join 展开为嵌套字段
func (e *Engine) Execute(ctx context.Context, b query.Builder) ([]*Record, error) {
	p, err := e.plan(b)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, e.db, p)
}

func (e *Engine) execute(ctx context.Context, exec database.Executor, p *query.Plan) ([]*Record, error) {
	st := p.Select()
	if e.logger.Enabled(ctx, slog.LevelDebug) {
		e.logger.DebugContext(ctx, "select", "table", p.Root().Table.Name(), "sql", st.SQL, "args", len(st.Args))
	}
	rows, err := exec.Query(ctx, st.SQL, st.Args...)
	if err != nil {
		return nil, err
	}
	return hydrate(p, rows)
}

// Paginate 先统计根实体数量，再按根实体分页查询
// 两次查询之间没有快照隔离，并发写入可能导致 totalCount 与 records 不一致
func (e *Engine) Paginate(ctx context.Context, b query.Builder, pageSize int, pageNo int) (*Page, error) {
	// 参数错误不需要访问存储
	if _, err := pagination.PlanPage(0, pageSize, pageNo); err != nil {
		return nil, err
	}

	count, err := e.GetCount(ctx, b)
	if err != nil {
		return nil, err
	}
	plan, err := pagination.PlanPage(count, pageSize, pageNo)
	if err != nil {
		return nil, err
	}

	records := []*Record{}
	if !plan.Beyond() {
		if records, err = e.Execute(ctx, plan.Apply(b)); err != nil {
			return nil, err
		}
	}
	return &Page{Meta: pagination.FinalizeMeta(plan, len(records)), Records: records}, nil
}

// SaveEntity 填充默认值、校验并插入一个新实体，返回包含 id 的完整实体
func (e *Engine) SaveEntity(ctx context.Context, table string, fields map[string]any) (*Record, error) {
	t, err := e.schema.Table(table)
	if err != nil {
		return nil, err
	}
	values, err := t.ValidateCreate(fields)
	if err != nil {
		return nil, err
	}
	id, err := e.ids.Generate(ctx)
	if err != nil {
		return nil, errs.Storage("generate id", err)
	}

	d := e.db.Dialect()
	columns := t.Columns()
	quoted := make([]string, len(columns))
	args := make([]any, len(columns))
	rec := NewRecord()
	for i, c := range columns {
		quoted[i] = d.Quote(c)
		if c == schema.IDField {
			args[i] = id
		} else {
			args[i] = values[c]
		}
		rec.Set(c, args[i])
	}

	statement := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.Quote(table), strings.Join(quoted, ", "), database.Placeholders(len(columns)))
	if _, err := e.db.Exec(ctx, statement, args...); err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "entity saved", "table", table, "id", id)
	return rec, nil
}

// ScopeOptions patch 和 remove 的作用域策略
type ScopeOptions struct {
	// Strict 作用域没有命中任何实体时返回 NotFoundError
	Strict bool
	// AllowMany 允许 patch 同时修改多个实体，remove 总是允许
	AllowMany bool
}

type ScopeOption func(*ScopeOptions)

func Strict() ScopeOption {
	return func(o *ScopeOptions) {
		o.Strict = true
	}
}

func AllowMany() ScopeOption {
	return func(o *ScopeOptions) {
		o.AllowMany = true
	}
}

func scopeOptions(opts []ScopeOption) ScopeOptions {
	var o ScopeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// scope 在事务中锁定并返回作用域内的 id，保持首次出现的顺序
func (e *Engine) scope(ctx context.Context, tx database.Executor, p *query.Plan) ([]any, error) {
	st := p.Scope(true)
	if e.logger.Enabled(ctx, slog.LevelDebug) {
		e.logger.DebugContext(ctx, "scope", "table", p.Root().Table.Name(), "sql", st.SQL, "args", len(st.Args))
	}
	rows, err := tx.Query(ctx, st.SQL, st.Args...)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var ids []any
	for _, row := range rows {
		id, ok := schema.AsID(row[query.ScopeLabel])
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// PatchEntity 只修改 partial 中出现的字段，返回修改后的实体
//
// 作用域没有命中时默认是成功的空操作，返回 nil。
// 作用域命中多个实体时返回 ValidationError，除非指定 AllowMany，
// 此时全部实体被修改，返回值为 nil。
func (e *Engine) PatchEntity(ctx context.Context, b query.Builder, partial map[string]any, opts ...ScopeOption) (*Record, error) {
	o := scopeOptions(opts)
	p, err := e.plan(b.Unpaginated())
	if err != nil {
		return nil, err
	}
	t := p.Root().Table
	values, err := t.ValidatePatch(partial)
	if err != nil {
		return nil, err
	}

	var result *Record
	var updated int
	err = e.db.WithTx(ctx, func(tx database.Executor) error {
		ids, err := e.scope(ctx, tx, p)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			if o.Strict {
				return errs.NotFound(t.Name(), "no entity matched the patch scope")
			}
			return nil
		}
		if len(ids) > 1 && !o.AllowMany {
			return errs.Validation("", "patch scope matched %d entities of %s, expected at most one", len(ids), t.Name())
		}

		if len(values) > 0 {
			d := e.db.Dialect()
			var sets []string
			var args []any
			for _, f := range t.Fields() {
				if v, ok := values[f.Name]; ok {
					sets = append(sets, d.Quote(f.Name)+" = ?")
					args = append(args, v)
				}
			}
			statement := fmt.Sprintf("UPDATE %s SET %s WHERE %s IN (%s)",
				d.Quote(t.Name()), strings.Join(sets, ", "), d.Quote(schema.IDField), database.Placeholders(len(ids)))
			if _, err := tx.Exec(ctx, statement, append(args, ids...)...); err != nil {
				return err
			}
		}
		updated = len(ids)

		if len(ids) == 1 {
			readBack, err := query.New(t.Name(), p.Root().Alias).AndWhere(query.Term(schema.IDField, ids[0])).Plan(e.schema, e.db.Dialect())
			if err != nil {
				return err
			}
			records, err := e.execute(ctx, tx, readBack)
			if err != nil {
				return err
			}
			if len(records) == 1 {
				result = records[0]
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if updated > 0 {
		e.logger.InfoContext(ctx, "entity patched", "table", t.Name(), "count", updated, "fields", len(values))
	}
	return result, nil
}

// RemoveEntity 删除作用域内的全部实体，忽略分页，返回删除的数量
func (e *Engine) RemoveEntity(ctx context.Context, table string, b query.Builder, opts ...ScopeOption) (int64, error) {
	o := scopeOptions(opts)
	if b.Table() != table {
		return 0, errs.Schema(table, "remove scope is rooted at %s", b.Table())
	}
	p, err := e.plan(b.Unpaginated())
	if err != nil {
		return 0, err
	}

	var removed int64
	err = e.db.WithTx(ctx, func(tx database.Executor) error {
		ids, err := e.scope(ctx, tx, p)
		if err != nil {
			return err
		}
		if len(ids) == 0 && o.Strict {
			return errs.NotFound(table, "no entity matched the remove scope")
		}

		d := e.db.Dialect()
		for start := 0; start < len(ids); start += removeBatchSize {
			batch := ids[start:min(start+removeBatchSize, len(ids))]
			statement := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
				d.Quote(table), d.Quote(schema.IDField), database.Placeholders(len(batch)))
			n, err := tx.Exec(ctx, statement, batch...)
			if err != nil {
				return err
			}
			removed += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		e.logger.InfoContext(ctx, "entity removed", "table", table, "count", removed)
	}
	return removed, nil
}
