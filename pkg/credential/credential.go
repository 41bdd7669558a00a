// Package credential resolves `${ENV_VAR}` indirection in adapter configuration.
//
// Resolution is a pure pass: values are read from the environment at the time
// of the call and copied into a new configuration, never kept as live references.
package credential

import (
	"os"
	"reflect"
	"strings"
)

const (
	refPrefix = "${"
	refSuffix = "}"
)

// Resolve substitutes s when it is wrapped entirely in "${" and "}". The inner
// text names an environment variable; unset variables resolve to "".
// Any other string is returned unchanged.
func Resolve(s string) string {
	name, ok := Reference(s)
	if !ok {
		return s
	}
	return os.Getenv(name)
}

// Reference reports the variable name s refers to, if any.
func Reference(s string) (string, bool) {
	if len(s) <= len(refPrefix)+len(refSuffix) {
		return "", false
	}
	if !strings.HasPrefix(s, refPrefix) || !strings.HasSuffix(s, refSuffix) {
		return "", false
	}
	return s[len(refPrefix) : len(s)-len(refSuffix)], true
}

// ResolveConfig returns a deep copy of cfg with every string value resolved,
// including strings nested in maps and lists.
func ResolveConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return nil
	}
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		out[k] = resolveValue(v)
	}
	return out
}

func resolveValue(v any) any {
	switch t := v.(type) {
	case string:
		return Resolve(t)
	case map[string]any:
		return ResolveConfig(t)
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, s := range t {
			m[k] = Resolve(s)
		}
		return m
	case []any:
		l := make([]any, len(t))
		for i, e := range t {
			l[i] = resolveValue(e)
		}
		return l
	case []string:
		l := make([]any, len(t))
		for i, s := range t {
			l[i] = Resolve(s)
		}
		return l
	default:
		return resolveReflect(v)
	}
}

// resolveReflect covers the remaining containers: named map types such as
// adapter.Config, maps with string-kinded keys, and typed slices like
// []map[string]any produced by hand-built configs.
func resolveReflect(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		if _, ok := Reference(rv.String()); ok {
			return Resolve(rv.String())
		}
		return v
	case reflect.Map:
		if rv.IsNil() || rv.Type().Key().Kind() != reflect.String {
			return v
		}
		m := make(map[string]any, rv.Len())
		for it := rv.MapRange(); it.Next(); {
			m[it.Key().String()] = resolveValue(it.Value().Interface())
		}
		return m
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && (rv.IsNil() || rv.Type().Elem().Kind() == reflect.Uint8) {
			return v
		}
		l := make([]any, rv.Len())
		for i := range l {
			l[i] = resolveValue(rv.Index(i).Interface())
		}
		return l
	default:
		return v
	}
}
