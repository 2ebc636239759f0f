package config

import (
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/hatlonely/relstore/config/def"
	"github.com/hatlonely/relstore/pagination"
	"github.com/hatlonely/relstore/ref"
	"github.com/pkg/errors"
)

// EnvPrefix 环境变量覆盖使用的前缀
const EnvPrefix = "RELSTORE_"

// Options 应用配置
//
//	database:
//	  type: SQL
//	  options:
//	    driver: sqlite3
//	    dsn: file:relstore.db?_foreign_keys=1
//	schema: schema.yaml
//	idGenerator:
//	  type: SnowflakeGenerator
//	logger:
//	  options:
//	    level: debug
//	pagination:
//	  pageSize: 20
type Options struct {
	Database ref.TypeOptions `cfg:"database"`
	// Schema 表定义文件，相对路径相对于配置文件所在目录
	Schema      string             `cfg:"schema" env:"SCHEMA"`
	IDGenerator ref.TypeOptions    `cfg:"idGenerator" validate:"-"`
	Logger      ref.TypeOptions    `cfg:"logger" validate:"-"`
	Pagination  pagination.Options `cfg:"pagination" envPrefix:"PAGINATION_"`
	// Migrate 启动时创建缺失的表
	Migrate bool `cfg:"migrate" env:"MIGRATE"`
}

// Load 读取配置文件到 v
//
// 依次执行：按扩展名解码、通过 cfg tag 转换、环境变量覆盖、def 默认值、validate 校验
func Load(filename string, v any) error {
	format, err := FormatOf(filename)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrapf(err, "read config file %s failed", filename)
	}
	return Unmarshal(data, format, v)
}

// Unmarshal 同 Load，数据来自内存
func Unmarshal(data []byte, format Format, v any) error {
	m, err := decode(data, format)
	if err != nil {
		return err
	}
	if err := Convert(m, v); err != nil {
		return err
	}
	if err := env.ParseWithOptions(v, env.Options{Prefix: EnvPrefix}); err != nil {
		return errors.Wrap(err, "apply environment overrides failed")
	}
	if err := def.SetDefaults(v); err != nil {
		return errors.WithMessage(err, "set defaults failed")
	}
	return Validate(v)
}

// Convert 通过 cfg tag 把通用结构转换成 v
func Convert(input any, v any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "cfg",
		WeaklyTypedInput: true,
		Result:           v,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return errors.Wrap(err, "create decoder failed")
	}
	if err := decoder.Decode(input); err != nil {
		return errors.Wrap(err, "decode config failed")
	}
	return nil
}

var validate = validator.New()

// Validate 按 validate tag 校验结构体
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return errors.Wrap(err, "validate config failed")
	}
	return nil
}
