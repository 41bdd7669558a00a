package rest

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/wilhg/toolgate/pkg/adapter"
	"github.com/wilhg/toolgate/pkg/errmodel"
)

// Endpoint maps a tool name to a request template.
type Endpoint struct {
	Method       string
	PathTemplate string
	Description  string
	ReadOnly     bool
}

var supportedMethods = map[string]bool{
	"GET":     true,
	"POST":    true,
	"PUT":     true,
	"PATCH":   true,
	"DELETE":  true,
	"HEAD":    true,
	"OPTIONS": true,
}

// idempotentMethods follows RFC 9110 §9.2.2.
var idempotentMethods = map[string]bool{
	"GET":     true,
	"PUT":     true,
	"DELETE":  true,
	"HEAD":    true,
	"OPTIONS": true,
}

var placeholderRE = regexp.MustCompile(`\{([^{}]+)\}`)

func normalizeMethod(m string) (string, error) {
	method := strings.ToUpper(strings.TrimSpace(m))
	if method == "" {
		method = "GET"
	}
	if !supportedMethods[method] {
		return "", errmodel.OperationNotSupported(fmt.Sprintf("unsupported HTTP method %q", m), map[string]any{"method": m})
	}
	return method, nil
}

// parseEndpoints reads the `endpoints` table: tool -> {method, path, description, read_only}.
func parseEndpoints(raw map[string]any) (map[string]Endpoint, error) {
	out := make(map[string]Endpoint, len(raw))
	for tool, v := range raw {
		entry, err := adapter.Config{"endpoint": v}.Map("endpoint")
		if err != nil || entry == nil {
			return nil, errmodel.InvalidConfig("endpoint must be an object", map[string]any{"field": "endpoints." + tool})
		}
		c := adapter.Config(entry)
		method, err := normalizeMethod(c.String("method", "GET"))
		if err != nil {
			return nil, errmodel.InvalidConfig("endpoint has an unsupported method", map[string]any{"field": "endpoints." + tool + ".method", "method": c.String("method", "")}, err)
		}
		ep := Endpoint{
			Method:       method,
			PathTemplate: c.String("path", "/"),
			Description:  c.String("description", ""),
			ReadOnly:     method == "GET" || method == "HEAD" || method == "OPTIONS",
		}
		if v, ok := entry["read_only"].(bool); ok {
			ep.ReadOnly = v
		}
		out[tool] = ep
	}
	return out, nil
}

// expandPath replaces every {key} placeholder from params. Values are path-escaped,
// so substituted text never introduces a new placeholder. Placeholders without a
// matching parameter are reported as an InvalidArguments error.
func expandPath(template string, params map[string]any) (string, error) {
	var missing []string
	out := placeholderRE.ReplaceAllStringFunc(template, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := params[key]
		if !ok || v == nil {
			missing = append(missing, key)
			return m
		}
		return url.PathEscape(fmt.Sprint(v))
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", errmodel.InvalidArguments("path_params missing for placeholders", map[string]any{"path": template, "missing": missing})
	}
	return out, nil
}

// joinURL appends path to the base URL, keeping exactly one slash between them.
func joinURL(base, path string) string {
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(base, "/") + path
}
