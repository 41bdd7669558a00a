package adapter

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/wilhg/toolgate/pkg/credential"
	"github.com/wilhg/toolgate/pkg/errmodel"
)

// Config is the JSON-like configuration supplied to an adapter at connect time.
// Values decoded from YAML, TOML or JSON are all accepted.
type Config map[string]any

// Resolved returns a deep copy with `${VAR}` references substituted.
func (c Config) Resolved() Config {
	return Config(credential.ResolveConfig(c))
}

// String returns the value at key as a string, or def when absent or empty.
func (c Config) String(key, def string) string {
	v, ok := c[key]
	if !ok || v == nil {
		return def
	}
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	if s == "" {
		return def
	}
	return s
}

// RequireString returns the non-empty string at key or an InvalidConfig error.
func (c Config) RequireString(key string) (string, error) {
	v, ok := c[key]
	if !ok || v == nil {
		return "", errmodel.InvalidConfig(key+" is required", map[string]any{"field": key})
	}
	s, ok := v.(string)
	if !ok {
		return "", errmodel.InvalidConfig(key+" must be a string", map[string]any{"field": key, "type": fmt.Sprintf("%T", v)})
	}
	if strings.TrimSpace(s) == "" {
		return "", errmodel.InvalidConfig(key+" must not be empty", map[string]any{"field": key})
	}
	return s, nil
}

// Int returns the integer at key, or def when absent.
func (c Config) Int(key string, def int) (int, error) {
	v, ok := c[key]
	if !ok || v == nil {
		return def, nil
	}
	n, err := toInt(v)
	if err != nil {
		return 0, errmodel.InvalidConfig(key+" must be an integer", map[string]any{"field": key, "value": fmt.Sprint(v)}, err)
	}
	return n, nil
}

// Millis reads a positive millisecond count at key as a duration.
func (c Config) Millis(key string, def int) (time.Duration, error) {
	n, err := c.Int(key, def)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errmodel.InvalidConfig(key+" must be positive", map[string]any{"field": key, "value": n})
	}
	return time.Duration(n) * time.Millisecond, nil
}

// Strings returns a list of strings at key. A single string is treated as a one-element list.
func (c Config) Strings(key string, def []string) ([]string, error) {
	v, ok := c[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case string:
		if t == "" {
			return def, nil
		}
		return []string{t}, nil
	case []string:
		return append([]string(nil), t...), nil
	case []any:
		out := make([]string, 0, len(t))
		for i, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, errmodel.InvalidConfig(key+" must be a list of strings", map[string]any{"field": key, "index": i})
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, errmodel.InvalidConfig(key+" must be a list of strings", map[string]any{"field": key, "type": fmt.Sprintf("%T", v)})
	}
}

// Map returns the nested object at key, or nil when absent.
func (c Config) Map(key string) (map[string]any, error) {
	v, ok := c[key]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := asMap(v)
	if !ok {
		return nil, errmodel.InvalidConfig(key+" must be an object", map[string]any{"field": key, "type": fmt.Sprintf("%T", v)})
	}
	return m, nil
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Config:
		return t, true
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, s := range t {
			m[k] = s
		}
		return m, true
	default:
		return nil, false
	}
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int32:
		return int(t), nil
	case int64:
		return int(t), nil
	case uint32:
		return int(t), nil
	case uint64:
		if t > uint64(math.MaxInt) {
			return 0, fmt.Errorf("value %d out of range", t)
		}
		return int(t), nil
	case float64:
		if t != math.Trunc(t) {
			return 0, fmt.Errorf("value %v is not integral", t)
		}
		return int(t), nil
	case json.Number:
		n, err := t.Int64()
		return int(n), err
	case string:
		return strconv.Atoi(strings.TrimSpace(t))
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
