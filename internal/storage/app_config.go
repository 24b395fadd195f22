package storage

import (
	"encoding/json"
	"strconv"
)

// AppConfigRepository stores typed singleton settings, one row per key,
// mirroring AppConfigRepository.get_config_value/set_config_value from the
// original's repositories module: values always land on disk as text, tagged
// with the type needed to decode them back.
type AppConfigRepository struct {
	*Repository[AppConfig]
}

const (
	ValueTypeString = "str"
	ValueTypeInt    = "int"
	ValueTypeFloat  = "float"
	ValueTypeBool   = "bool"
	ValueTypeList   = "list"
	ValueTypeDict   = "dict"
)

// Get returns the raw stored value and its declared type, or ("", "", false)
// if the key has never been set.
func (r *AppConfigRepository) Get(key string) (value, valueType string, ok bool) {
	row, err := r.FindOne(map[string]any{"key": key})
	if err != nil {
		return "", "", false
	}
	return row.Value, row.ValueType, true
}

// Set upserts key with value encoded per valueType, matching the
// int/float/bool/list/dict/str branches of the original's set_config_value.
func (r *AppConfigRepository) Set(key string, value any, valueType, description string) error {
	encoded, err := encodeConfigValue(value, valueType)
	if err != nil {
		return err
	}
	row := &AppConfig{Key: key, Value: encoded, ValueType: valueType, Description: description}
	return r.Upsert([]string{"key"}, row)
}

// GetInt decodes a previously-Set int value, or returns def if absent/invalid.
func (r *AppConfigRepository) GetInt(key string, def int64) int64 {
	value, valueType, ok := r.Get(key)
	if !ok || valueType != ValueTypeInt {
		return def
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// GetBool decodes a previously-Set bool value, or returns def if absent/invalid.
func (r *AppConfigRepository) GetBool(key string, def bool) bool {
	value, valueType, ok := r.Get(key)
	if !ok || valueType != ValueTypeBool {
		return def
	}
	return value == "1"
}

func encodeConfigValue(value any, valueType string) (string, error) {
	switch valueType {
	case ValueTypeInt:
		return strconv.FormatInt(toInt64(value), 10), nil
	case ValueTypeFloat:
		return strconv.FormatFloat(toFloat64(value), 'f', -1, 64), nil
	case ValueTypeBool:
		if b, _ := value.(bool); b {
			return "1", nil
		}
		return "0", nil
	case ValueTypeList, ValueTypeDict:
		encoded, err := json.Marshal(value)
		return string(encoded), err
	default:
		return toString(value), nil
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	default:
		return 0
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
