package adapter

import (
	"fmt"

	"github.com/wilhg/toolgate/pkg/errmodel"
)

// ArgString returns args[key] as a string, or def when absent or empty.
func ArgString(args map[string]any, key, def string) string {
	return Config(args).String(key, def)
}

// RequireArg returns the non-empty string argument at key or an InvalidArguments error.
func RequireArg(args map[string]any, tool, key string) (string, error) {
	s := ArgString(args, key, "")
	if s == "" {
		return "", errmodel.InvalidArguments(fmt.Sprintf("%s requires argument %q", tool, key), map[string]any{"tool": tool, "field": key})
	}
	return s, nil
}

// ArgInt returns args[key] as an int, or def when absent or malformed.
func ArgInt(args map[string]any, key string, def int) int {
	v, ok := args[key]
	if !ok || v == nil {
		return def
	}
	n, err := toInt(v)
	if err != nil {
		return def
	}
	return n
}

// ArgMap returns args[key] as an object, or nil.
func ArgMap(args map[string]any, key string) map[string]any {
	m, _ := asMap(args[key])
	return m
}

// ArgStrings returns args[key] as a list of strings. A single string yields one element.
func ArgStrings(args map[string]any, key string) []string {
	out, err := Config(args).Strings(key, nil)
	if err != nil {
		return nil
	}
	return out
}
