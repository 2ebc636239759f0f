package entity

import (
	"bytes"
	"encoding/json"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// Record 一个实体，字段保持插入顺序
//
// 顺序为 id、声明的字段，然后是展开的 one-to-many 关系。
// many-to-one 关系展开后替换原位置上的外键值。
type Record struct {
	keys   []string
	values map[string]any
}

func NewRecord() *Record {
	return &Record{values: map[string]any{}}
}

// Set 新 key 追加到末尾，已有 key 保持原位置
func (r *Record) Set(key string, value any) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

func (r *Record) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// GetString 不存在或不是字符串时返回空串
func (r *Record) GetString(key string) string {
	s, _ := r.values[key].(string)
	return s
}

// Records 返回展开的 one-to-many 关系
func (r *Record) Records(key string) []*Record {
	records, _ := r.values[key].([]*Record)
	return records
}

// Record 返回展开的 many-to-one 关系
func (r *Record) Record(key string) *Record {
	record, _ := r.values[key].(*Record)
	return record
}

func (r *Record) ID() string {
	return r.GetString("id")
}

func (r *Record) Keys() []string {
	return append([]string(nil), r.keys...)
}

func (r *Record) Len() int {
	return len(r.keys)
}

// Map 转换为普通 map，嵌套的 Record 同样被转换
func (r *Record) Map() map[string]any {
	m := make(map[string]any, len(r.keys))
	for _, k := range r.keys {
		m[k] = plain(r.values[k])
	}
	return m
}

func plain(v any) any {
	switch x := v.(type) {
	case *Record:
		if x == nil {
			return nil
		}
		return x.Map()
	case []*Record:
		items := make([]any, len(x))
		for i, item := range x {
			items[i] = item.Map()
		}
		return items
	}
	return v
}

func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, errors.Wrapf(err, "marshal field %s", k)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Scan 把 Record 解码到带 json tag 的结构体
func (r *Record) Scan(dest any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           dest,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Wrap(err, "create decoder failed")
	}
	if err := decoder.Decode(r.Map()); err != nil {
		return errors.Wrap(err, "decode record failed")
	}
	return nil
}
