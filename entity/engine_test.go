package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hatlonely/relstore/database"
	"github.com/hatlonely/relstore/errs"
	"github.com/hatlonely/relstore/log"
	"github.com/hatlonely/relstore/query"
	"github.com/hatlonely/relstore/schema"
	. "github.com/smartystreets/goconvey/convey"
)

var dbSeq atomic.Int64

func tasksSchema() *schema.Schema {
	b := schema.NewBuilder()
	_, _ = b.DefineTable("tasks",
		schema.ShortText("name", schema.WithValidations(schema.Mandatory())),
		schema.RelationField("list", "lists", schema.ManyToOne, schema.WithValidations(schema.Mandatory())),
		schema.RelationField("subList", "lists", schema.ManyToOne),
		schema.Enum("status", []string{"todo", "completed"}, "todo"),
		schema.DateTime("dueDate"),
		schema.Boolean("favourite"),
	)
	_, _ = b.DefineTable("lists", schema.ShortText("name"), schema.Boolean("innerList"))
	sch, err := b.Build()
	if err != nil {
		panic(err)
	}
	return sch
}

// sequenceGenerator 生成有序的 id，便于断言
type sequenceGenerator struct {
	prefix string
	n      atomic.Int64
}

func (g *sequenceGenerator) Generate(ctx context.Context) (string, error) {
	return fmt.Sprintf("%s%03d", g.prefix, g.n.Add(1)), nil
}

func newEngine(gorm bool) (*Engine, database.Database) {
	dsn := fmt.Sprintf("file:entity_test_%d?mode=memory&cache=shared&_foreign_keys=1", dbSeq.Add(1))
	var db database.Database
	var err error
	if gorm {
		db, err = database.NewGormWithOptions(&database.GormOptions{Driver: "sqlite3", DSN: dsn, MaxConns: 1, MaxIdle: 1})
	} else {
		db, err = database.NewSQLWithOptions(&database.SQLOptions{Driver: "sqlite3", DSN: dsn, MaxConns: 1, MaxIdle: 1})
	}
	So(err, ShouldBeNil)
	sch := tasksSchema()
	So(database.Migrate(context.Background(), db, db.Dialect(), sch), ShouldBeNil)
	return NewEngine(db, sch, WithIDGenerator(&sequenceGenerator{prefix: "id"}), WithLogger(log.Discard())), db
}

func TestEngine(t *testing.T) {
	for _, useGorm := range []bool{false, true} {
		Convey(fmt.Sprintf("Engine gorm=%v", useGorm), t, func() {
			ctx := context.Background()
			engine, db := newEngine(useGorm)
			defer db.Close()

			Convey("缺少 mandatory 关系时创建失败", func() {
				_, err := engine.SaveEntity(ctx, "tasks", map[string]any{"name": "x"})
				So(errs.IsValidation(err), ShouldBeTrue)
				So(errs.FieldOf(err), ShouldEqual, "list")

				count, err := engine.GetCount(ctx, engine.CreateQueryBuilder("tasks", "task"))
				So(err, ShouldBeNil)
				So(count, ShouldEqual, int64(0))

				list, err := engine.SaveEntity(ctx, "lists", map[string]any{"name": "inbox"})
				So(err, ShouldBeNil)
				task, err := engine.SaveEntity(ctx, "tasks", map[string]any{"name": "x", "list": list.ID()})
				So(err, ShouldBeNil)
				So(task.ID(), ShouldNotBeEmpty)
				So(task.GetString("status"), ShouldEqual, "todo")
				So(task.Keys(), ShouldResemble, []string{"id", "name", "list", "subList", "status", "dueDate", "favourite"})
			})

			Convey("创建时校验枚举和未声明字段", func() {
				list, _ := engine.SaveEntity(ctx, "lists", map[string]any{"name": "inbox"})
				_, err := engine.SaveEntity(ctx, "tasks", map[string]any{"name": "x", "list": list.ID(), "status": "doing"})
				So(errs.FieldOf(err), ShouldEqual, "status")
				_, err = engine.SaveEntity(ctx, "tasks", map[string]any{"name": "x", "list": list.ID(), "owner": "me"})
				So(errs.FieldOf(err), ShouldEqual, "owner")
				_, err = engine.SaveEntity(ctx, "missing", map[string]any{})
				So(errs.IsSchema(err), ShouldBeTrue)
			})

			Convey("引用不存在的实体返回存储错误", func() {
				_, err := engine.SaveEntity(ctx, "tasks", map[string]any{"name": "x", "list": "nope"})
				So(errs.IsStorage(err), ShouldBeTrue)
			})

			Convey("计数按根实体去重", func() {
				list, _ := engine.SaveEntity(ctx, "lists", map[string]any{"name": "inbox"})
				_, _ = engine.SaveEntity(ctx, "lists", map[string]any{"name": "empty"})
				for i := 0; i < 5; i++ {
					_, err := engine.SaveEntity(ctx, "tasks", map[string]any{"name": fmt.Sprintf("t%d", i), "list": list.ID()})
					So(err, ShouldBeNil)
				}

				b := engine.CreateQueryBuilder("lists", "list").LeftJoinAndSelect("list.tasks", "task")
				count, err := engine.GetCount(ctx, b)
				So(err, ShouldBeNil)
				So(count, ShouldEqual, int64(2))

				count, err = engine.GetCount(ctx, b.Where("task.status = :status", map[string]any{"status": "todo"}))
				So(err, ShouldBeNil)
				So(count, ShouldEqual, int64(1))

				count, err = engine.GetCount(ctx, b.LeftJoinAndSelect("task.list", "owner").LeftJoinAndSelect("owner.tasks", "sibling"))
				So(err, ShouldBeNil)
				So(count, ShouldEqual, int64(2))
			})

			Convey("展开的关系被嵌套并去重", func() {
				inbox, _ := engine.SaveEntity(ctx, "lists", map[string]any{"name": "inbox"})
				work, _ := engine.SaveEntity(ctx, "lists", map[string]any{"name": "work", "innerList": true})
				for i := 0; i < 3; i++ {
					_, err := engine.SaveEntity(ctx, "tasks", map[string]any{"name": fmt.Sprintf("t%d", i), "list": inbox.ID(), "subList": work.ID()})
					So(err, ShouldBeNil)
				}

				records, err := engine.Execute(ctx, engine.CreateQueryBuilder("lists", "list").
					LeftJoinAndSelect("list.tasks", "task").
					LeftJoinAndSelect("list.tasksSubList", "sub").
					OrderBy("name", query.ASC))
				So(err, ShouldBeNil)
				So(len(records), ShouldEqual, 2)
				So(records[0].ID(), ShouldEqual, inbox.ID())
				So(len(records[0].Records("tasks")), ShouldEqual, 3)
				So(len(records[0].Records("tasksSubList")), ShouldEqual, 0)
				So(len(records[1].Records("tasks")), ShouldEqual, 0)
				So(len(records[1].Records("tasksSubList")), ShouldEqual, 3)
				So(records[0].Keys(), ShouldResemble, []string{"id", "name", "innerList", "tasks", "tasksSubList"})
				So(records[1].GetString("name"), ShouldEqual, "work")
				innerList, _ := records[1].Get("innerList")
				So(innerList, ShouldEqual, true)

				tasks, err := engine.Execute(ctx, engine.CreateQueryBuilder("tasks", "task").
					LeftJoinAndSelect("task.list", "owner").
					LeftJoinAndSelect("task.subList", "sub").
					Where("task.name = :name", map[string]any{"name": "t1"}))
				So(err, ShouldBeNil)
				So(len(tasks), ShouldEqual, 1)
				So(tasks[0].Record("list").GetString("name"), ShouldEqual, "inbox")
				So(tasks[0].Record("subList").GetString("name"), ShouldEqual, "work")
				So(tasks[0].Keys(), ShouldResemble, []string{"id", "name", "list", "subList", "status", "dueDate", "favourite"})

				buf, err := json.Marshal(tasks[0])
				So(err, ShouldBeNil)
				So(string(buf), ShouldStartWith, `{"id":"`)
				So(string(buf), ShouldContainSubstring, `"name":"t1","list":{"id":"`+inbox.ID()+`","name":"inbox","innerList":null}`)
			})

			Convey("逐页读取得到全部根实体且不重复", func() {
				for i := 0; i < 7; i++ {
					list, err := engine.SaveEntity(ctx, "lists", map[string]any{"name": fmt.Sprintf("list %d", i%3)})
					So(err, ShouldBeNil)
					for j := 0; j < i%4; j++ {
						_, err := engine.SaveEntity(ctx, "tasks", map[string]any{"name": fmt.Sprintf("task %d", j), "list": list.ID()})
						So(err, ShouldBeNil)
					}
				}

				b := engine.CreateQueryBuilder("lists", "list").LeftJoinAndSelect("list.tasks", "task").OrderBy("name", query.DESC)
				seen := map[string]bool{}
				var ordered []string
				for pageNo := 1; ; pageNo++ {
					page, err := engine.Paginate(ctx, b, 3, pageNo)
					So(err, ShouldBeNil)
					So(page.Meta.TotalCount, ShouldEqual, int64(7))
					So(page.Meta.TotalPages, ShouldEqual, int64(3))
					if int64(pageNo) > page.Meta.TotalPages {
						So(page.Records, ShouldBeEmpty)
						So(page.Meta.CurrentCount, ShouldEqual, 0)
						break
					}
					So(page.Meta.CurrentCount, ShouldEqual, len(page.Records))
					for _, r := range page.Records {
						So(seen[r.ID()], ShouldBeFalse)
						seen[r.ID()] = true
						ordered = append(ordered, r.GetString("name"))
					}
				}
				So(len(seen), ShouldEqual, 7)
				So(ordered[0], ShouldEqual, "list 2")
				So(ordered[6], ShouldEqual, "list 0")
			})

			Convey("分页参数非法", func() {
				_, err := engine.Paginate(ctx, engine.CreateQueryBuilder("lists", "list"), 0, 1)
				So(errs.FieldOf(err), ShouldEqual, "pageSize")
				_, err = engine.Paginate(ctx, engine.CreateQueryBuilder("lists", "list"), 5, 0)
				So(errs.FieldOf(err), ShouldEqual, "pageNo")
			})

			Convey("部分更新只修改指定字段", func() {
				list, _ := engine.SaveEntity(ctx, "lists", map[string]any{"name": "inbox"})
				due := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
				task, err := engine.SaveEntity(ctx, "tasks", map[string]any{"name": "write", "list": list.ID(), "dueDate": due, "favourite": true})
				So(err, ShouldBeNil)

				scope := engine.CreateQueryBuilder("tasks", "task").Where("task.id = :id", map[string]any{"id": task.ID()})
				updated, err := engine.PatchEntity(ctx, scope, map[string]any{"status": "completed"})
				So(err, ShouldBeNil)
				So(updated.GetString("status"), ShouldEqual, "completed")
				So(updated.GetString("name"), ShouldEqual, "write")
				So(updated.GetString("list"), ShouldEqual, list.ID())
				favourite, _ := updated.Get("favourite")
				So(favourite, ShouldEqual, true)
				dueDate, _ := updated.Get("dueDate")
				So(dueDate.(time.Time).Equal(due), ShouldBeTrue)

				again, err := engine.PatchEntity(ctx, scope, map[string]any{"status": "completed"})
				So(err, ShouldBeNil)
				So(again.Map(), ShouldResemble, updated.Map())

				_, err = engine.PatchEntity(ctx, scope, map[string]any{"status": "unknown"})
				So(errs.IsValidation(err), ShouldBeTrue)
				_, err = engine.PatchEntity(ctx, scope, map[string]any{"id": "other"})
				So(errs.IsValidation(err), ShouldBeTrue)
				_, err = engine.PatchEntity(ctx, scope, map[string]any{"list": nil})
				So(errs.FieldOf(err), ShouldEqual, "list")

				records, _ := engine.Execute(ctx, scope)
				So(records[0].GetString("status"), ShouldEqual, "completed")
			})

			Convey("作用域没有命中时不报错", func() {
				list, _ := engine.SaveEntity(ctx, "lists", map[string]any{"name": "inbox"})
				scope := engine.CreateQueryBuilder("lists", "list").Where("list.id = :id", map[string]any{"id": "missing"})

				updated, err := engine.PatchEntity(ctx, scope, map[string]any{"name": "x"})
				So(err, ShouldBeNil)
				So(updated, ShouldBeNil)

				n, err := engine.RemoveEntity(ctx, "lists", scope)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, int64(0))

				_, err = engine.PatchEntity(ctx, scope, map[string]any{"name": "x"}, Strict())
				So(errs.IsNotFound(err), ShouldBeTrue)
				_, err = engine.RemoveEntity(ctx, "lists", scope, Strict())
				So(errs.IsNotFound(err), ShouldBeTrue)

				records, _ := engine.Execute(ctx, engine.CreateQueryBuilder("lists", "list"))
				So(len(records), ShouldEqual, 1)
				So(records[0].Map(), ShouldResemble, list.Map())
			})

			Convey("作用域命中多个实体", func() {
				for _, name := range []string{"a", "b", "c"} {
					_, err := engine.SaveEntity(ctx, "lists", map[string]any{"name": name})
					So(err, ShouldBeNil)
				}
				scope := engine.CreateQueryBuilder("lists", "list").Where("list.name IN (:...names)", map[string]any{"names": []string{"a", "b"}})

				_, err := engine.PatchEntity(ctx, scope, map[string]any{"innerList": true})
				So(errs.IsValidation(err), ShouldBeTrue)
				count, _ := engine.GetCount(ctx, engine.CreateQueryBuilder("lists", "list").AndWhere(query.Term("innerList", true)))
				So(count, ShouldEqual, int64(0))

				updated, err := engine.PatchEntity(ctx, scope, map[string]any{"innerList": true}, AllowMany())
				So(err, ShouldBeNil)
				So(updated, ShouldBeNil)
				count, _ = engine.GetCount(ctx, engine.CreateQueryBuilder("lists", "list").AndWhere(query.Term("innerList", true)))
				So(count, ShouldEqual, int64(2))
			})

			Convey("删除忽略分页并级联", func() {
				list, _ := engine.SaveEntity(ctx, "lists", map[string]any{"name": "inbox"})
				for i := 0; i < 4; i++ {
					status := "todo"
					if i%2 == 0 {
						status = "completed"
					}
					_, err := engine.SaveEntity(ctx, "tasks", map[string]any{"name": fmt.Sprintf("t%d", i), "list": list.ID(), "status": status})
					So(err, ShouldBeNil)
				}

				completed := engine.CreateQueryBuilder("tasks", "task").
					Where("task.list = :list AND task.status = :status", map[string]any{"list": list.ID(), "status": "completed"}).
					Paginate(1, 0)
				n, err := engine.RemoveEntity(ctx, "tasks", completed)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, int64(2))

				_, err = engine.RemoveEntity(ctx, "lists", completed)
				So(errs.IsSchema(err), ShouldBeTrue)

				n, err = engine.RemoveEntity(ctx, "lists", engine.CreateQueryBuilder("lists", "list").Where("list.id = :id", map[string]any{"id": list.ID()}))
				So(err, ShouldBeNil)
				So(n, ShouldEqual, int64(1))
				count, _ := engine.GetCount(ctx, engine.CreateQueryBuilder("tasks", "task"))
				So(count, ShouldEqual, int64(0))
			})

			Convey("根据 join 条件删除", func() {
				inner, _ := engine.SaveEntity(ctx, "lists", map[string]any{"name": "inner", "innerList": true})
				outer, _ := engine.SaveEntity(ctx, "lists", map[string]any{"name": "outer"})
				for _, l := range []*Record{inner, outer, inner} {
					_, err := engine.SaveEntity(ctx, "tasks", map[string]any{"name": "t", "list": l.ID()})
					So(err, ShouldBeNil)
				}
				n, err := engine.RemoveEntity(ctx, "lists", engine.CreateQueryBuilder("lists", "list").
					LeftJoin("list.tasks", "task").
					Where("task.name = :name AND list.innerList = :inner", map[string]any{"name": "t", "inner": true}))
				So(err, ShouldBeNil)
				So(n, ShouldEqual, int64(1))
				count, _ := engine.GetCount(ctx, engine.CreateQueryBuilder("tasks", "task"))
				So(count, ShouldEqual, int64(1))
			})
		})
	}
}

func TestScenario(t *testing.T) {
	Convey("按名称分页列出任务", t, func() {
		ctx := context.Background()
		engine, db := newEngine(false)
		defer db.Close()

		l1, err := engine.SaveEntity(ctx, "lists", map[string]any{"name": "L1"})
		So(err, ShouldBeNil)
		for _, name := range []string{"T4", "T2", "T6", "T1", "T5", "T3"} {
			_, err := engine.SaveEntity(ctx, "tasks", map[string]any{"name": name, "list": l1.ID()})
			So(err, ShouldBeNil)
		}

		b := engine.CreateQueryBuilder("tasks", "task").
			Where("task.list = :listId", map[string]any{"listId": l1.ID()}).
			OrderBy("name", query.ASC)

		page, err := engine.Paginate(ctx, b, 5, 1)
		So(err, ShouldBeNil)
		So(page.Meta.TotalCount, ShouldEqual, int64(6))
		So(page.Meta.TotalPages, ShouldEqual, int64(2))
		So(page.Meta.CurrentCount, ShouldEqual, 5)
		var names []string
		for _, r := range page.Records {
			names = append(names, r.GetString("name"))
		}
		So(names, ShouldResemble, []string{"T1", "T2", "T3", "T4", "T5"})

		page, err = engine.Paginate(ctx, b, 5, 2)
		So(err, ShouldBeNil)
		So(page.Meta.CurrentCount, ShouldEqual, 1)
		So(page.Records[0].GetString("name"), ShouldEqual, "T6")

		page, err = engine.Paginate(ctx, b, 5, 3)
		So(err, ShouldBeNil)
		So(page.Records, ShouldBeEmpty)
		So(page.Meta.TotalCount, ShouldEqual, int64(6))

		buf, err := json.Marshal(page)
		So(err, ShouldBeNil)
		So(string(buf), ShouldEqual, `{"meta":{"pageNo":3,"pageSize":5,"totalCount":6,"totalPages":2,"currentCount":0},"records":[]}`)
	})
}

// brokenDatabase 所有语句都失败
type brokenDatabase struct {
	execs int
}

func (b *brokenDatabase) Query(ctx context.Context, q string, args ...any) ([]database.Row, error) {
	return nil, errs.Storage("query", sql.ErrConnDone)
}

func (b *brokenDatabase) Exec(ctx context.Context, q string, args ...any) (int64, error) {
	b.execs++
	return 0, errs.Storage("exec", sql.ErrConnDone)
}

func (b *brokenDatabase) Dialect() database.Dialect {
	return database.DialectSQLite
}

func (b *brokenDatabase) WithTx(ctx context.Context, fn func(tx database.Executor) error) error {
	return fn(b)
}

func (b *brokenDatabase) Close() error {
	return nil
}

func TestStorageErrors(t *testing.T) {
	Convey("存储错误原样返回", t, func() {
		ctx := context.Background()
		db := &brokenDatabase{}
		engine := NewEngine(db, tasksSchema(), WithLogger(log.Discard()))

		_, err := engine.GetCount(ctx, engine.CreateQueryBuilder("tasks", "task"))
		So(errs.IsStorage(err), ShouldBeTrue)
		So(errors.Is(err, sql.ErrConnDone), ShouldBeTrue)

		_, err = engine.Paginate(ctx, engine.CreateQueryBuilder("tasks", "task"), 5, 1)
		So(errs.IsStorage(err), ShouldBeTrue)

		_, err = engine.SaveEntity(ctx, "lists", map[string]any{"name": "x"})
		So(errs.IsStorage(err), ShouldBeTrue)
		So(db.execs, ShouldEqual, 1)

		// 校验失败时不会访问存储
		_, err = engine.SaveEntity(ctx, "tasks", map[string]any{"name": "x"})
		So(errs.IsValidation(err), ShouldBeTrue)
		So(db.execs, ShouldEqual, 1)

		_, err = engine.PatchEntity(ctx, engine.CreateQueryBuilder("tasks", "task"), map[string]any{"status": "completed"})
		So(errs.IsStorage(err), ShouldBeTrue)
		_, err = engine.RemoveEntity(ctx, "tasks", engine.CreateQueryBuilder("tasks", "task"))
		So(errs.IsStorage(err), ShouldBeTrue)
		So(db.execs, ShouldEqual, 1)
	})
}
