package workflow

import (
	"bytes"
	"context"
	_ "embed"

	"github.com/hatlonely/relstore/entity"
	"github.com/hatlonely/relstore/pagination"
	"github.com/hatlonely/relstore/query"
	"github.com/hatlonely/relstore/schema"
)

//go:embed tasks.yaml
var tasksYAML []byte

// TasksSchema tasks 和 lists 两张表
func TasksSchema() (*schema.Schema, error) {
	return schema.LoadYAML(bytes.NewReader(tasksYAML))
}

type idPath struct {
	ID string `json:"id" validate:"required"`
}

// 未给出的分页参数为 0，使用配置的默认值
type listTasksQuery struct {
	PageSize int    `json:"pageSize" validate:"gte=0"`
	PageNo   int    `json:"pageNo" validate:"gte=0"`
	ListID   string `json:"listId"`
	Status   string `json:"status" validate:"omitempty,oneof=todo completed"`
}

type listListsQuery struct {
	PageSize  int  `json:"pageSize" validate:"gte=0"`
	PageNo    int  `json:"pageNo" validate:"gte=0"`
	WithTasks bool `json:"withTasks"`
}

type createListBody struct {
	Name      string `json:"name" validate:"required"`
	InnerList bool   `json:"innerList"`
}

type moveTaskBody struct {
	ListID string `json:"listId" validate:"required"`
}

type tasks struct {
	engine     *entity.Engine
	pagination pagination.Options
}

// NewTasksFeature 任务清单的全部 workflow
func NewTasksFeature(engine *entity.Engine, options pagination.Options) *Feature {
	t := &tasks{engine: engine, pagination: options}
	return &Feature{
		Name: "Tasks",
		Workflows: []Workflow{
			{Name: "CreateTask", Tag: "tasks", Method: "POST", Path: "/tasks", Execute: t.createTask},
			{Name: "UpdateTask", Tag: "tasks", Method: "PUT", Path: "/tasks/:id", Execute: t.updateTask},
			{Name: "RemoveTask", Tag: "tasks", Method: "DELETE", Path: "/tasks/:id", Execute: t.removeTask},
			{Name: "CompleteTask", Tag: "tasks", Method: "POST", Path: "/tasks/:id/complete", Execute: t.patchTask(map[string]any{"status": "completed"})},
			{Name: "UncompleteTask", Tag: "tasks", Method: "POST", Path: "/tasks/:id/uncomplete", Execute: t.patchTask(map[string]any{"status": "todo"})},
			{Name: "MoveTask", Tag: "tasks", Method: "POST", Path: "/tasks/:id/move", Execute: t.moveTask},
			{Name: "StarTask", Tag: "tasks", Method: "POST", Path: "/tasks/:id/star", Execute: t.patchTask(map[string]any{"favourite": true})},
			{Name: "CreateList", Tag: "lists", Method: "POST", Path: "/lists", Execute: t.createList},
			{Name: "UpdateList", Tag: "lists", Method: "PUT", Path: "/lists/:id", Execute: t.updateList},
			{Name: "DeleteCompletedTasks", Tag: "tasks", Method: "DELETE", Path: "/tasks/completed", Execute: t.deleteCompletedTasks},
			{Name: "DeleteList", Tag: "lists", Method: "DELETE", Path: "/lists/:id", Execute: t.deleteList},
			{Name: "ListLists", Tag: "lists", Method: "GET", Path: "/lists", Execute: t.listLists},
			{Name: "ListTasks", Tag: "tasks", Method: "GET", Path: "/tasks", Execute: t.listTasks},
		},
	}
}

func (t *tasks) byID(table string, alias string, trigger Trigger) (query.Builder, error) {
	var path idPath
	if err := bind(trigger.Path, &path); err != nil {
		return query.Builder{}, err
	}
	return t.engine.CreateQueryBuilder(table, alias).Where("id = :id", map[string]any{"id": path.ID}), nil
}

func (t *tasks) createTask(ctx context.Context, trigger Trigger) (any, error) {
	fields := pick(trigger.Body, "name", "description", "status", "dueDate", "favourite", "subList")
	if listID, ok := trigger.Body["listId"]; ok {
		fields["list"] = listID
	}
	if list, ok := trigger.Body["list"]; ok {
		fields["list"] = list
	}
	return t.engine.SaveEntity(ctx, "tasks", fields)
}

func (t *tasks) updateTask(ctx context.Context, trigger Trigger) (any, error) {
	b, err := t.byID("tasks", "tasks", trigger)
	if err != nil {
		return nil, err
	}
	task, err := t.engine.PatchEntity(ctx, b, pick(trigger.Body, "name", "description", "status", "dueDate", "favourite"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"task": task}, nil
}

func (t *tasks) removeTask(ctx context.Context, trigger Trigger) (any, error) {
	b, err := t.byID("tasks", "tasks", trigger)
	if err != nil {
		return nil, err
	}
	_, err = t.engine.RemoveEntity(ctx, "tasks", b)
	return nil, err
}

// patchTask 固定字段的状态切换
func (t *tasks) patchTask(fields map[string]any) func(ctx context.Context, trigger Trigger) (any, error) {
	return func(ctx context.Context, trigger Trigger) (any, error) {
		b, err := t.byID("tasks", "tasks", trigger)
		if err != nil {
			return nil, err
		}
		_, err = t.engine.PatchEntity(ctx, b, fields)
		return nil, err
	}
}

func (t *tasks) moveTask(ctx context.Context, trigger Trigger) (any, error) {
	var body moveTaskBody
	if err := bind(trigger.Body, &body); err != nil {
		return nil, err
	}
	b, err := t.byID("tasks", "tasks", trigger)
	if err != nil {
		return nil, err
	}
	_, err = t.engine.PatchEntity(ctx, b, map[string]any{"list": body.ListID})
	return nil, err
}

func (t *tasks) createList(ctx context.Context, trigger Trigger) (any, error) {
	var body createListBody
	if err := bind(trigger.Body, &body); err != nil {
		return nil, err
	}
	return t.engine.SaveEntity(ctx, "lists", map[string]any{"name": body.Name, "innerList": body.InnerList})
}

func (t *tasks) updateList(ctx context.Context, trigger Trigger) (any, error) {
	b, err := t.byID("lists", "lists", trigger)
	if err != nil {
		return nil, err
	}
	_, err = t.engine.PatchEntity(ctx, b, pick(trigger.Body, "name"))
	return nil, err
}

func (t *tasks) deleteCompletedTasks(ctx context.Context, trigger Trigger) (any, error) {
	b := t.engine.CreateQueryBuilder("tasks", "tasks").Where("status = :status", map[string]any{"status": "completed"})
	_, err := t.engine.RemoveEntity(ctx, "tasks", b)
	return nil, err
}

func (t *tasks) deleteList(ctx context.Context, trigger Trigger) (any, error) {
	b, err := t.byID("lists", "lists", trigger)
	if err != nil {
		return nil, err
	}
	_, err = t.engine.RemoveEntity(ctx, "lists", b)
	return nil, err
}

func (t *tasks) listLists(ctx context.Context, trigger Trigger) (any, error) {
	var q listListsQuery
	if err := bind(trigger.Query, &q); err != nil {
		return nil, err
	}
	b := t.engine.CreateQueryBuilder("lists", "lists").OrderBy("name", query.ASC)
	if q.WithTasks {
		b = b.LeftJoinAndSelect("lists.tasks", "task")
	}
	pageSize, pageNo := t.pagination.Resolve(q.PageSize, q.PageNo)
	return t.engine.Paginate(ctx, b, pageSize, pageNo)
}

func (t *tasks) listTasks(ctx context.Context, trigger Trigger) (any, error) {
	var q listTasksQuery
	if err := bind(trigger.Query, &q); err != nil {
		return nil, err
	}
	b := t.engine.CreateQueryBuilder("tasks", "tasks").OrderBy("name", query.ASC)
	if q.ListID != "" {
		b = b.AndWhere(query.Term("list", q.ListID))
	}
	if q.Status != "" {
		b = b.AndWhere(query.Term("status", q.Status))
	}
	pageSize, pageNo := t.pagination.Resolve(q.PageSize, q.PageNo)
	return t.engine.Paginate(ctx, b, pageSize, pageNo)
}
