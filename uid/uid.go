package uid

import (
	"context"

	"github.com/hatlonely/relstore/ref"
	"github.com/pkg/errors"
)

func init() {
	ref.MustRegisterT[*UUIDGenerator](NewUUIDGeneratorWithOptions)
	ref.MustRegisterT[*SnowflakeGenerator](NewSnowflakeGeneratorWithOptions)
	ref.MustRegisterT[*RedisGenerator](NewRedisGeneratorWithOptions)
}

// Generator 为新实体生成唯一 id
type Generator interface {
	Generate(ctx context.Context) (string, error)
}

// NewGeneratorWithOptions 根据配置创建生成器，type 为空时使用 UUIDGenerator
//
//	idGenerator:
//	  type: SnowflakeGenerator
//	  options:
//	    machineId: 7
func NewGeneratorWithOptions(options *ref.TypeOptions) (Generator, error) {
	typeOptions := ref.TypeOptions{}
	if options != nil {
		typeOptions = *options
	}
	if typeOptions.Namespace == "" {
		typeOptions.Namespace = "github.com/hatlonely/relstore/uid"
	}
	if typeOptions.Type == "" {
		typeOptions.Type = "UUIDGenerator"
	}
	g, err := ref.NewWithTypeOptions[Generator](&typeOptions)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create id generator")
	}
	return g, nil
}
