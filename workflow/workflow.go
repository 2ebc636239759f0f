package workflow

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/hatlonely/relstore/errs"
)

// Trigger 一次调用的输入，由外部的路由层解析后传入
type Trigger struct {
	Path  map[string]string `json:"path"`
	Query map[string]any    `json:"query"`
	Body  map[string]any    `json:"body"`
}

// Workflow 绑定到一个 HTTP 路由的处理函数
type Workflow struct {
	Name    string
	Tag     string
	Method  string
	Path    string
	Execute func(ctx context.Context, trigger Trigger) (any, error)
}

// Feature 一组共享 Schema 的 workflow
type Feature struct {
	Name      string
	Workflows []Workflow
}

// Workflow 按名字查找
func (f *Feature) Workflow(name string) (Workflow, bool) {
	for _, w := range f.Workflows {
		if w.Name == name {
			return w, true
		}
	}
	return Workflow{}, false
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidate() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// bind 把路径、查询或 body 参数解码到带 json tag 的结构体并校验
// 字符串形式的数字和布尔值会被转换
func bind(source any, dest any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           dest,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(source); err != nil {
		return errs.Validation("", "%v", err)
	}
	if err := getValidate().Struct(dest); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
			fe := fieldErrors[0]
			return errs.Validation(fe.Field(), "failed on %s", fe.Tag())
		}
		return errs.Validation("", "%v", err)
	}
	return nil
}

// pick 只保留 body 中出现的 keys，用于部分更新
func pick(body map[string]any, keys ...string) map[string]any {
	result := map[string]any{}
	for _, k := range keys {
		if v, ok := body[k]; ok {
			result[k] = v
		}
	}
	return result
}
