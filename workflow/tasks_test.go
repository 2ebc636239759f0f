package workflow

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/hatlonely/relstore/database"
	"github.com/hatlonely/relstore/entity"
	"github.com/hatlonely/relstore/errs"
	"github.com/hatlonely/relstore/log"
	"github.com/hatlonely/relstore/pagination"
	"github.com/hatlonely/relstore/ref"
	"github.com/hatlonely/relstore/uid"
	. "github.com/smartystreets/goconvey/convey"
)

var dbSeq atomic.Int64

func newFeature() (*Feature, *entity.Engine, func()) {
	sch, err := TasksSchema()
	So(err, ShouldBeNil)

	db, err := database.NewSQLWithOptions(&database.SQLOptions{
		Driver:   "sqlite3",
		DSN:      fmt.Sprintf("file:workflow_test_%d?mode=memory&cache=shared&_foreign_keys=1", dbSeq.Add(1)),
		MaxConns: 1,
		MaxIdle:  1,
	})
	So(err, ShouldBeNil)
	So(database.Migrate(context.Background(), db, db.Dialect(), sch), ShouldBeNil)

	engine := entity.NewEngine(db, sch, entity.WithIDGenerator(uid.NewSnowflakeGeneratorWithOptions(nil)), entity.WithLogger(log.Discard()))
	return NewTasksFeature(engine, pagination.Options{PageNo: 1, PageSize: 20}), engine, func() { db.Close() }
}

func run(f *Feature, name string, trigger Trigger) (any, error) {
	w, ok := f.Workflow(name)
	So(ok, ShouldBeTrue)
	return w.Execute(context.Background(), trigger)
}

func mustRecord(v any, err error) *entity.Record {
	So(err, ShouldBeNil)
	r, ok := v.(*entity.Record)
	So(ok, ShouldBeTrue)
	return r
}

func mustPage(v any, err error) *entity.Page {
	So(err, ShouldBeNil)
	p, ok := v.(*entity.Page)
	So(ok, ShouldBeTrue)
	return p
}

func names(page *entity.Page) []string {
	var result []string
	for _, r := range page.Records {
		result = append(result, r.GetString("name"))
	}
	return result
}

func TestTasksSchema(t *testing.T) {
	Convey("内置的 tasks schema", t, func() {
		sch, err := TasksSchema()
		So(err, ShouldBeNil)

		tasks, err := sch.Table("tasks")
		So(err, ShouldBeNil)
		So(tasks.Columns(), ShouldResemble, []string{"id", "name", "description", "list", "subList", "status", "dueDate", "favourite"})
		list, _ := tasks.Field("list")
		So(list.Mandatory(), ShouldBeTrue)

		lists, err := sch.Table("lists")
		So(err, ShouldBeNil)
		_, ok := lists.Relation("tasks")
		So(ok, ShouldBeTrue)
	})
}

func TestFeature(t *testing.T) {
	Convey("Tasks workflows", t, func() {
		f, engine, closeFn := newFeature()
		defer closeFn()

		So(f.Name, ShouldEqual, "Tasks")
		So(len(f.Workflows), ShouldEqual, 13)
		_, ok := f.Workflow("Missing")
		So(ok, ShouldBeFalse)

		Convey("按名称分页列出清单中的任务", func() {
			l1 := mustRecord(run(f, "CreateList", Trigger{Body: map[string]any{"name": "L1"}}))
			l2 := mustRecord(run(f, "CreateList", Trigger{Body: map[string]any{"name": "L2"}}))
			for _, name := range []string{"T3", "T1", "T6", "T2", "T5", "T4"} {
				mustRecord(run(f, "CreateTask", Trigger{Body: map[string]any{"name": name, "listId": l1.ID()}}))
			}
			mustRecord(run(f, "CreateTask", Trigger{Body: map[string]any{"name": "T0", "listId": l2.ID()}}))

			page := mustPage(run(f, "ListTasks", Trigger{Query: map[string]any{"listId": l1.ID(), "pageSize": "5", "pageNo": "1"}}))
			So(names(page), ShouldResemble, []string{"T1", "T2", "T3", "T4", "T5"})
			So(page.Meta, ShouldResemble, pagination.Metadata{PageNo: 1, PageSize: 5, TotalCount: 6, TotalPages: 2, CurrentCount: 5})

			page = mustPage(run(f, "ListTasks", Trigger{Query: map[string]any{"listId": l1.ID(), "pageSize": "5", "pageNo": "2"}}))
			So(names(page), ShouldResemble, []string{"T6"})
			So(page.Meta, ShouldResemble, pagination.Metadata{PageNo: 2, PageSize: 5, TotalCount: 6, TotalPages: 2, CurrentCount: 1})

			// 默认分页参数
			page = mustPage(run(f, "ListTasks", Trigger{}))
			So(page.Meta.PageSize, ShouldEqual, 20)
			So(page.Meta.PageNo, ShouldEqual, 1)
			So(page.Meta.TotalCount, ShouldEqual, int64(7))
			So(names(page)[0], ShouldEqual, "T0")

			_, err := run(f, "ListTasks", Trigger{Query: map[string]any{"pageSize": "abc"}})
			So(errs.IsValidation(err), ShouldBeTrue)
			_, err = run(f, "ListTasks", Trigger{Query: map[string]any{"status": "doing"}})
			So(errs.FieldOf(err), ShouldEqual, "status")
		})

		Convey("清单带上展开的任务分页", func() {
			for i := 0; i < 3; i++ {
				l := mustRecord(run(f, "CreateList", Trigger{Body: map[string]any{"name": fmt.Sprintf("L%d", i)}}))
				for j := 0; j < 4; j++ {
					mustRecord(run(f, "CreateTask", Trigger{Body: map[string]any{"name": fmt.Sprintf("T%d", j), "listId": l.ID()}}))
				}
			}

			page := mustPage(run(f, "ListLists", Trigger{Query: map[string]any{"withTasks": "true", "pageSize": "2"}}))
			So(names(page), ShouldResemble, []string{"L0", "L1"})
			So(page.Meta.TotalCount, ShouldEqual, int64(3))
			So(page.Meta.TotalPages, ShouldEqual, int64(2))
			So(len(page.Records[0].Records("tasks")), ShouldEqual, 4)
			So(len(page.Records[1].Records("tasks")), ShouldEqual, 4)

			page = mustPage(run(f, "ListLists", Trigger{Query: map[string]any{"withTasks": "true", "pageSize": "2", "pageNo": "2"}}))
			So(names(page), ShouldResemble, []string{"L2"})
			So(page.Meta.CurrentCount, ShouldEqual, 1)

			page = mustPage(run(f, "ListLists", Trigger{}))
			So(page.Records[0].Keys(), ShouldResemble, []string{"id", "name", "innerList"})
		})

		Convey("任务的状态切换和移动", func() {
			inbox := mustRecord(run(f, "CreateList", Trigger{Body: map[string]any{"name": "inbox"}}))
			work := mustRecord(run(f, "CreateList", Trigger{Body: map[string]any{"name": "work", "innerList": "true"}}))
			task := mustRecord(run(f, "CreateTask", Trigger{Body: map[string]any{"name": "write", "listId": inbox.ID()}}))
			So(task.GetString("status"), ShouldEqual, "todo")
			path := map[string]string{"id": task.ID()}

			load := func() *entity.Record {
				records, err := engine.Execute(context.Background(), engine.CreateQueryBuilder("tasks", "t").Where("id = :id", map[string]any{"id": task.ID()}))
				So(err, ShouldBeNil)
				So(len(records), ShouldEqual, 1)
				return records[0]
			}

			_, err := run(f, "CompleteTask", Trigger{Path: path})
			So(err, ShouldBeNil)
			So(load().GetString("status"), ShouldEqual, "completed")

			_, err = run(f, "UncompleteTask", Trigger{Path: path})
			So(err, ShouldBeNil)
			So(load().GetString("status"), ShouldEqual, "todo")

			_, err = run(f, "StarTask", Trigger{Path: path})
			So(err, ShouldBeNil)
			favourite, _ := load().Get("favourite")
			So(favourite, ShouldEqual, true)

			_, err = run(f, "MoveTask", Trigger{Path: path, Body: map[string]any{"listId": work.ID()}})
			So(err, ShouldBeNil)
			So(load().GetString("list"), ShouldEqual, work.ID())

			_, err = run(f, "MoveTask", Trigger{Path: path, Body: map[string]any{}})
			So(errs.FieldOf(err), ShouldEqual, "listId")

			_, err = run(f, "CompleteTask", Trigger{})
			So(errs.FieldOf(err), ShouldEqual, "id")

			// 不存在的 id 是空操作
			_, err = run(f, "CompleteTask", Trigger{Path: map[string]string{"id": "missing"}})
			So(err, ShouldBeNil)
		})

		Convey("更新任务只修改给出的字段", func() {
			inbox := mustRecord(run(f, "CreateList", Trigger{Body: map[string]any{"name": "inbox"}}))
			task := mustRecord(run(f, "CreateTask", Trigger{Body: map[string]any{"name": "write", "description": "draft", "listId": inbox.ID()}}))

			v, err := run(f, "UpdateTask", Trigger{Path: map[string]string{"id": task.ID()}, Body: map[string]any{"name": "rewrite", "owner": "me"}})
			So(err, ShouldBeNil)
			updated := v.(map[string]any)["task"].(*entity.Record)
			So(updated.GetString("name"), ShouldEqual, "rewrite")
			So(updated.GetString("description"), ShouldEqual, "draft")
			So(updated.GetString("list"), ShouldEqual, inbox.ID())

			_, err = run(f, "UpdateTask", Trigger{Path: map[string]string{"id": task.ID()}, Body: map[string]any{"status": "unknown"}})
			So(errs.FieldOf(err), ShouldEqual, "status")

			_, err = run(f, "UpdateList", Trigger{Path: map[string]string{"id": inbox.ID()}, Body: map[string]any{"name": "today"}})
			So(err, ShouldBeNil)
			page := mustPage(run(f, "ListLists", Trigger{}))
			So(names(page), ShouldResemble, []string{"today"})
		})

		Convey("创建时的校验", func() {
			_, err := run(f, "CreateTask", Trigger{Body: map[string]any{"name": "orphan"}})
			So(errs.FieldOf(err), ShouldEqual, "list")

			_, err = run(f, "CreateList", Trigger{Body: map[string]any{}})
			So(errs.FieldOf(err), ShouldEqual, "name")
		})

		Convey("删除任务和清单", func() {
			inbox := mustRecord(run(f, "CreateList", Trigger{Body: map[string]any{"name": "inbox"}}))
			work := mustRecord(run(f, "CreateList", Trigger{Body: map[string]any{"name": "work"}}))
			var ids []string
			for i := 0; i < 4; i++ {
				task := mustRecord(run(f, "CreateTask", Trigger{Body: map[string]any{"name": fmt.Sprintf("T%d", i), "listId": inbox.ID(), "subList": work.ID()}}))
				ids = append(ids, task.ID())
			}
			for _, id := range ids[:2] {
				_, err := run(f, "CompleteTask", Trigger{Path: map[string]string{"id": id}})
				So(err, ShouldBeNil)
			}

			_, err := run(f, "DeleteCompletedTasks", Trigger{})
			So(err, ShouldBeNil)
			page := mustPage(run(f, "ListTasks", Trigger{}))
			So(names(page), ShouldResemble, []string{"T2", "T3"})

			_, err = run(f, "RemoveTask", Trigger{Path: map[string]string{"id": ids[2]}})
			So(err, ShouldBeNil)
			_, err = run(f, "RemoveTask", Trigger{Path: map[string]string{"id": ids[2]}})
			So(err, ShouldBeNil)

			// subList 引用的清单被删除时置空
			_, err = run(f, "DeleteList", Trigger{Path: map[string]string{"id": work.ID()}})
			So(err, ShouldBeNil)
			page = mustPage(run(f, "ListTasks", Trigger{}))
			So(names(page), ShouldResemble, []string{"T3"})
			subList, _ := page.Records[0].Get("subList")
			So(subList, ShouldBeNil)

			// list 引用的清单被删除时级联删除任务
			_, err = run(f, "DeleteList", Trigger{Path: map[string]string{"id": inbox.ID()}})
			So(err, ShouldBeNil)
			page = mustPage(run(f, "ListTasks", Trigger{}))
			So(page.Records, ShouldBeEmpty)
			So(page.Meta.TotalCount, ShouldEqual, int64(0))
		})
	})
}

func TestDeleteListOnPooledConnections(t *testing.T) {
	for _, typ := range []string{"SQL", "Gorm"} {
		Convey(typ+" 默认连接池下删除清单", t, func() {
			ctx := context.Background()
			sch, err := TasksSchema()
			So(err, ShouldBeNil)
			db, err := database.NewDatabaseWithOptions(&ref.TypeOptions{
				Type:    typ,
				Options: map[string]any{"driver": "sqlite3", "dsn": filepath.Join(t.TempDir(), "tasks.db")},
			})
			So(err, ShouldBeNil)
			defer db.Close()
			So(database.Migrate(ctx, db, db.Dialect(), sch), ShouldBeNil)

			engine := entity.NewEngine(db, sch, entity.WithIDGenerator(uid.NewSnowflakeGeneratorWithOptions(nil)), entity.WithLogger(log.Discard()))
			f := NewTasksFeature(engine, pagination.Options{PageNo: 1, PageSize: 20})

			inbox := mustRecord(run(f, "CreateList", Trigger{Body: map[string]any{"name": "inbox"}}))
			work := mustRecord(run(f, "CreateList", Trigger{Body: map[string]any{"name": "work"}}))
			mustRecord(run(f, "CreateTask", Trigger{Body: map[string]any{"name": "a", "listId": inbox.ID()}}))
			mustRecord(run(f, "CreateTask", Trigger{Body: map[string]any{"name": "b", "listId": work.ID(), "subList": inbox.ID()}}))

			// 事务占住一个连接，workflow 的语句使用池中的其它连接
			err = db.WithTx(ctx, func(tx database.Executor) error {
				_, err := run(f, "CreateTask", Trigger{Body: map[string]any{"name": "c", "listId": "missing"}})
				So(errs.IsStorage(err), ShouldBeTrue)

				_, err = run(f, "DeleteList", Trigger{Path: map[string]string{"id": inbox.ID()}})
				return err
			})
			So(err, ShouldBeNil)

			page := mustPage(run(f, "ListTasks", Trigger{}))
			So(names(page), ShouldResemble, []string{"b"})
			subList, _ := page.Records[0].Get("subList")
			So(subList, ShouldBeNil)
		})
	}
}
