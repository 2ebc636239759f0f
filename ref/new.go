package ref

import (
	"reflect"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/hatlonely/relstore/config/def"
	"github.com/pkg/errors"
)

// TypeOptions 通过名字选择一个已注册的实现
//
//	idGenerator:
//	  namespace: github.com/hatlonely/relstore/uid
//	  type: SnowflakeGenerator
//	  options:
//	    machineId: 3
type TypeOptions struct {
	Namespace string `cfg:"namespace"`
	Type      string `cfg:"type" validate:"required"`
	Options   any    `cfg:"options"`
}

type constructor struct {
	originalFunc any
	newFunc      reflect.Value
	paramType    reflect.Type
	returnsError bool
}

var errorInterface = reflect.TypeOf((*error)(nil)).Elem()

func newConstructor(newFunc any) (*constructor, error) {
	funcValue := reflect.ValueOf(newFunc)
	if funcValue.Kind() != reflect.Func {
		return nil, errors.New("newFunc must be a function")
	}

	funcType := funcValue.Type()
	if funcType.NumIn() > 1 {
		return nil, errors.Errorf("newFunc must have 0 or 1 input parameters, got %d", funcType.NumIn())
	}
	if funcType.NumOut() != 1 && funcType.NumOut() != 2 {
		return nil, errors.Errorf("newFunc must have 1 or 2 return values, got %d", funcType.NumOut())
	}
	if funcType.NumOut() == 2 && !funcType.Out(1).Implements(errorInterface) {
		return nil, errors.New("second return value must be error type")
	}

	c := &constructor{
		originalFunc: newFunc,
		newFunc:      funcValue,
		returnsError: funcType.NumOut() == 2,
	}
	if funcType.NumIn() == 1 {
		c.paramType = funcType.In(0)
	}
	return c, nil
}

func (c *constructor) new(options any) (any, error) {
	var args []reflect.Value
	if c.paramType != nil {
		param, err := convertOptions(options, c.paramType)
		if err != nil {
			return nil, errors.WithMessagef(err, "convert options to %v failed", c.paramType)
		}
		args = append(args, param)
	}

	results := c.newFunc.Call(args)
	if c.returnsError && !results[1].IsNil() {
		return nil, results[1].Interface().(error)
	}
	return results[0].Interface(), nil
}

// convertOptions 把配置数据转换成构造函数的参数类型
// 已经是目标类型的直接使用，map 等结构通过 cfg tag 解码后填充 def 默认值
func convertOptions(options any, paramType reflect.Type) (reflect.Value, error) {
	if options != nil {
		if v := reflect.ValueOf(options); v.Type().AssignableTo(paramType) {
			return v, nil
		}
	}

	target := paramType
	if paramType.Kind() == reflect.Ptr {
		target = paramType.Elem()
	}
	ptr := reflect.New(target)
	if options == nil {
		if err := def.SetDefaults(ptr.Interface()); err != nil {
			return reflect.Value{}, err
		}
		return elemIfNeeded(ptr, paramType), nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "cfg",
		WeaklyTypedInput: true,
		Result:           ptr.Interface(),
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return reflect.Value{}, errors.Wrap(err, "create decoder failed")
	}
	if err := decoder.Decode(options); err != nil {
		return reflect.Value{}, errors.Wrap(err, "decode options failed")
	}
	if err := def.SetDefaults(ptr.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return elemIfNeeded(ptr, paramType), nil
}

func elemIfNeeded(ptr reflect.Value, paramType reflect.Type) reflect.Value {
	if paramType.Kind() == reflect.Ptr {
		return ptr
	}
	return ptr.Elem()
}

var nameConstructorMap sync.Map

func isSameFunc(func1, func2 any) bool {
	return reflect.ValueOf(func1).Pointer() == reflect.ValueOf(func2).Pointer()
}

// Register 注册构造函数，同一个 key 重复注册同一个函数是幂等的
func Register(namespace string, type_ string, newFunc any) error {
	key := namespace + ":" + type_

	if existing, ok := nameConstructorMap.Load(key); ok {
		if isSameFunc(existing.(*constructor).originalFunc, newFunc) {
			return nil
		}
		return errors.Errorf("constructor for %s already registered with different function", key)
	}

	c, err := newConstructor(newFunc)
	if err != nil {
		return errors.WithMessage(err, "failed to create constructor")
	}
	nameConstructorMap.Store(key, c)
	return nil
}

// RegisterT 以 T 的包路径和类型名注册
func RegisterT[T any](newFunc any) error {
	namespace, typeName, err := typeKey[T]()
	if err != nil {
		return err
	}
	return Register(namespace, typeName, newFunc)
}

func MustRegister(namespace string, type_ string, newFunc any) {
	if err := Register(namespace, type_, newFunc); err != nil {
		panic(err)
	}
}

func MustRegisterT[T any](newFunc any) {
	if err := RegisterT[T](newFunc); err != nil {
		panic(err)
	}
}

func typeKey[T any]() (string, string, error) {
	tType := reflect.TypeOf((*T)(nil)).Elem()
	for tType.Kind() == reflect.Ptr {
		tType = tType.Elem()
	}
	if tType.PkgPath() == "" || tType.Name() == "" {
		return "", "", errors.Errorf("cannot determine package path or type name for type %v", tType)
	}
	return tType.PkgPath(), tType.Name(), nil
}

// New 调用注册的构造函数创建对象
func New(namespace string, type_ string, options any) (any, error) {
	key := namespace + ":" + type_
	value, ok := nameConstructorMap.Load(key)
	if !ok {
		return nil, errors.Errorf("constructor not found for %s", key)
	}
	return value.(*constructor).new(options)
}

// NewT 创建对象并断言为 T
func NewT[T any](options any) (T, error) {
	var zero T
	namespace, typeName, err := typeKey[T]()
	if err != nil {
		return zero, err
	}
	obj, err := New(namespace, typeName, options)
	if err != nil {
		return zero, err
	}
	result, ok := obj.(T)
	if !ok {
		return zero, errors.Errorf("created object is not of type %T", zero)
	}
	return result, nil
}

// NewWithTypeOptions 根据 TypeOptions 创建对象并断言为 T
func NewWithTypeOptions[T any](options *TypeOptions) (T, error) {
	var zero T
	if options == nil {
		return zero, errors.New("type options is nil")
	}
	obj, err := New(options.Namespace, options.Type, options.Options)
	if err != nil {
		return zero, err
	}
	result, ok := obj.(T)
	if !ok {
		return zero, errors.Errorf("%s:%s does not implement %v", options.Namespace, options.Type, reflect.TypeOf((*T)(nil)).Elem())
	}
	return result, nil
}
