package config

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// Format 配置文件格式
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
	FormatINI  Format = "ini"
)

// FormatOf 根据扩展名判断格式
func FormatOf(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	case ".ini":
		return FormatINI, nil
	}
	return "", errors.Errorf("unsupported config file extension: %q", filepath.Ext(filename))
}

// decode 解析为通用的 map，交给 mapstructure 转换
func decode(data []byte, format Format) (map[string]any, error) {
	result := map[string]any{}
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &result); err != nil {
			return nil, errors.Wrap(err, "failed to decode YAML")
		}
	case FormatJSON:
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.UseNumber()
		if err := decoder.Decode(&result); err != nil {
			return nil, errors.Wrap(err, "failed to decode JSON")
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &result); err != nil {
			return nil, errors.Wrap(err, "failed to decode TOML")
		}
	case FormatINI:
		m, err := decodeINI(data)
		if err != nil {
			return nil, err
		}
		result = m
	default:
		return nil, errors.Errorf("unsupported config format: %q", format)
	}
	if result == nil {
		result = map[string]any{}
	}
	return result, nil
}

// decodeINI section 名中的 "." 表示嵌套，[database.options] 对应 database: {options: {...}}
func decodeINI(data []byte) (map[string]any, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		AllowBooleanKeys:         true,
		SpaceBeforeInlineComment: true,
	}, data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode INI")
	}

	result := map[string]any{}
	for _, section := range file.Sections() {
		target := result
		if section.Name() != ini.DefaultSection {
			for _, part := range strings.Split(section.Name(), ".") {
				next, ok := target[part].(map[string]any)
				if !ok {
					next = map[string]any{}
					target[part] = next
				}
				target = next
			}
		}
		for _, key := range section.Keys() {
			target[key.Name()] = parseINIValue(key.String())
		}
	}
	return result, nil
}

func parseINIValue(value string) any {
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}
