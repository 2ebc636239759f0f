package schema

import (
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/hatlonely/relstore/errs"
)

const mandatoryName = "mandatory"

// Validation 附加在字段上的纯谓词
type Validation interface {
	Name() string
	// Validate 校验候选值，缺失的字段以 nil 传入
	Validate(field string, value any) error
}

type mandatory struct{}

// Mandatory 字段必须出现且非空
func Mandatory() Validation {
	return mandatory{}
}

func (mandatory) Name() string { return mandatoryName }

func (mandatory) Validate(field string, value any) error {
	if value == nil {
		return errs.Validation(field, "is mandatory")
	}
	if s, ok := value.(string); ok && s == "" {
		return errs.Validation(field, "is mandatory")
	}
	return nil
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidate() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

type rule struct {
	tag string
}

// Rule 使用 validator 的 tag 语法做值校验，例如 "max=120"、"email"
// nil 值跳过，是否必填由 Mandatory 决定
func Rule(tag string) Validation {
	return rule{tag: tag}
}

func (r rule) Name() string { return r.tag }

func (r rule) Validate(field string, value any) error {
	if value == nil {
		return nil
	}
	if err := getValidate().Var(value, r.tag); err != nil {
		return errs.Validation(field, "violates rule %q", r.tag)
	}
	return nil
}

// ParseValidation 把声明式配置中的名字转换为校验规则
func ParseValidation(name string) Validation {
	if name == mandatoryName {
		return Mandatory()
	}
	return Rule(name)
}
