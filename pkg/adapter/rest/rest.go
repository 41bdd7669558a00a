// Package rest implements the generic REST adapter: a table of endpoint
// templates keyed by tool name, with fully dynamic requests for anything else.
//
// Config keys:
//   - base_url (string, required)
//   - auth_header, auth_prefix, auth_token (string)
//   - timeout_ms (int, default 30000)
//   - endpoints (object): tool -> {method, path, description, read_only}
//   - headers (object): static headers sent with every request
//   - health_path (string): path probed by HealthCheck, default "/"
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	gschema "github.com/google/jsonschema-go/jsonschema"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wilhg/toolgate/pkg/adapter"
	"github.com/wilhg/toolgate/pkg/errmodel"
)

// Protocol is the registry name of this adapter.
const Protocol = "rest"

const defaultTimeoutMs = 30000

// Adapter is the generic REST adapter.
type Adapter struct {
	lc     adapter.Lifecycle
	logger *slog.Logger

	mu         sync.RWMutex
	baseURL    string
	authHeader string
	authValue  string
	headers    map[string]string
	healthPath string
	endpoints  map[string]Endpoint
	client     *http.Client
}

var _ adapter.Adapter = (*Adapter)(nil)

// New constructs an unconnected REST adapter.
func New(deps adapter.Deps) *Adapter {
	return &Adapter{logger: deps.LoggerOrDiscard().With("component", "adapter", "protocol", Protocol)}
}

// Factory is the registry factory for the REST adapter.
func Factory(deps adapter.Deps) adapter.Adapter { return New(deps) }

func (a *Adapter) Protocol() string  { return Protocol }
func (a *Adapter) IsConnected() bool { return a.lc.Connected() }

// Connect validates configuration and prepares the HTTP transport. No request
// is sent; reachability is reported by HealthCheck.
func (a *Adapter) Connect(ctx context.Context, raw adapter.Config) (err error) {
	gen, started, err := a.lc.Begin(Protocol)
	if err != nil || !started {
		return err
	}
	defer func() {
		if err != nil {
			a.lc.Abort(gen)
		}
	}()

	cfg := raw.Resolved()
	base, err := cfg.RequireString("base_url")
	if err != nil {
		return err
	}
	u, perr := url.Parse(base)
	if perr != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errmodel.InvalidConfig("base_url must be an absolute http(s) URL", map[string]any{"field": "base_url", "value": base}, perr)
	}
	timeout, err := cfg.Millis("timeout_ms", defaultTimeoutMs)
	if err != nil {
		return err
	}
	rawEndpoints, err := cfg.Map("endpoints")
	if err != nil {
		return err
	}
	endpoints, err := parseEndpoints(rawEndpoints)
	if err != nil {
		return err
	}
	rawHeaders, err := cfg.Map("headers")
	if err != nil {
		return err
	}
	headers := make(map[string]string, len(rawHeaders))
	for k, v := range rawHeaders {
		headers[k] = fmt.Sprint(v)
	}

	token := cfg.String("auth_token", "")
	header := cfg.String("auth_header", "")
	if header == "" && token != "" {
		header = "Authorization"
	}
	value := token
	if prefix := cfg.String("auth_prefix", ""); prefix != "" && token != "" {
		value = prefix + " " + token
	}

	a.mu.Lock()
	if !a.lc.Commit(gen) {
		a.mu.Unlock()
		return adapter.Superseded(Protocol)
	}
	a.baseURL = base
	a.authHeader = header
	a.authValue = value
	a.headers = headers
	a.healthPath = cfg.String("health_path", "/")
	a.endpoints = endpoints
	a.client = &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	a.mu.Unlock()

	a.logger.InfoContext(ctx, "rest adapter connected", "base_url", base, "endpoints", len(endpoints))
	return nil
}

// Disconnect drops the transport and credentials, including static headers
// that may carry keys.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		a.client.CloseIdleConnections()
	}
	a.client = nil
	a.authHeader, a.authValue = "", ""
	a.headers = nil
	a.lc.Reset()
	return nil
}

// SupportedOperations lists configured endpoints by name, followed by the
// dynamic `request` operation.
func (a *Adapter) SupportedOperations() []adapter.Operation {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.endpoints))
	for n := range a.endpoints {
		names = append(names, n)
	}
	sort.Strings(names)
	ops := make([]adapter.Operation, 0, len(names)+1)
	for _, n := range names {
		ep := a.endpoints[n]
		desc := ep.Description
		if desc == "" {
			desc = ep.Method + " " + ep.PathTemplate
		}
		ops = append(ops, adapter.Operation{
			Name:        n,
			Description: desc,
			ReadOnly:    ep.ReadOnly,
			Idempotent:  idempotentMethods[ep.Method],
		})
	}
	ops = append(ops, adapter.Operation{
		Name:        "request",
		Description: "Send an arbitrary request; method and path come from the arguments",
		InputSchema: requestSchema,
	})
	return ops
}

var requestSchema = adapter.ObjectSchema(map[string]*gschema.Schema{
	"method":       adapter.StringProp("HTTP method, default GET"),
	"path":         adapter.StringProp("path relative to base_url, default /"),
	"path_params":  adapter.ObjectProp("values for {placeholders} in path"),
	"query_params": adapter.ObjectProp("query string parameters"),
	"body":         {Description: "JSON request body"},
	"headers":      adapter.ObjectProp("headers merged last, overriding defaults"),
})

// Execute resolves the endpoint for tool (or a dynamic request) and returns {status, body}.
func (a *Adapter) Execute(ctx context.Context, tool string, args map[string]any) (any, error) {
	if err := a.lc.Require(Protocol); err != nil {
		return nil, err
	}
	a.mu.RLock()
	ep, known := a.endpoints[tool]
	base, authHeader, authValue, client := a.baseURL, a.authHeader, a.authValue, a.client
	static := a.headers
	a.mu.RUnlock()
	if client == nil {
		return nil, errmodel.ConnectionFailed("adapter is not connected", map[string]any{"protocol": Protocol})
	}

	method, tmpl := ep.Method, ep.PathTemplate
	if !known {
		method = adapter.ArgString(args, "method", "GET")
		tmpl = adapter.ArgString(args, "path", "/")
	}
	method, err := normalizeMethod(method)
	if err != nil {
		return nil, err
	}
	path, err := expandPath(tmpl, adapter.ArgMap(args, "path_params"))
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(joinURL(base, path))
	if err != nil {
		return nil, errmodel.InvalidArguments("invalid request path", map[string]any{"path": path}, err)
	}
	if qp := adapter.ArgMap(args, "query_params"); len(qp) > 0 {
		q := u.Query()
		for k, v := range qp {
			switch t := v.(type) {
			case []any:
				for _, e := range t {
					q.Add(k, fmt.Sprint(e))
				}
			case []string:
				for _, e := range t {
					q.Add(k, e)
				}
			default:
				q.Set(k, fmt.Sprint(v))
			}
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	bodyArg, hasBody := args["body"]
	if hasBody && bodyArg != nil {
		b, err := json.Marshal(bodyArg)
		if err != nil {
			return nil, errmodel.InvalidArguments("body is not JSON-serializable", map[string]any{"tool": tool}, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, errmodel.ExecutionFailed("build request", map[string]any{"url": u.String()}, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range static {
		req.Header.Set(k, v)
	}
	if authHeader != "" && authValue != "" {
		req.Header.Set(authHeader, authValue)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range adapter.ArgMap(args, "headers") {
		req.Header.Set(k, fmt.Sprint(v))
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, errmodel.Transport(errmodel.ExecutionFailed, method+" "+u.Path+" failed", map[string]any{"method": method, "url": u.String()}, err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := adapter.ReadBody(resp.Body)
	if err != nil {
		return nil, errmodel.Transport(errmodel.ExecutionFailed, "read response body", map[string]any{"method": method, "url": u.String(), "status": resp.StatusCode}, err)
	}
	a.logger.DebugContext(ctx, "rest call", "tool", tool, "method", method, "path", u.Path, "status", resp.StatusCode, "elapsed_ms", time.Since(start).Milliseconds())
	return map[string]any{"status": resp.StatusCode, "body": adapter.DecodeBody(raw)}, nil
}

// HealthCheck probes health_path. Any HTTP response counts as reachable.
func (a *Adapter) HealthCheck(ctx context.Context) (adapter.Health, error) {
	if !a.lc.Connected() {
		return adapter.Health{Connected: false, Message: "not connected"}, nil
	}
	a.mu.RLock()
	base, path, client := a.baseURL, a.healthPath, a.client
	a.mu.RUnlock()
	if client == nil {
		return adapter.Health{Connected: false, Message: "not connected"}, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(base, path), nil)
	if err != nil {
		return adapter.Health{}, errmodel.ExecutionFailed("build health request", map[string]any{"path": path}, err)
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return adapter.Health{Connected: false, Message: "unreachable: " + err.Error()}, nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	return adapter.Health{
		Connected: true,
		LatencyMs: adapter.Latency(time.Since(start).Milliseconds()),
		Message:   fmt.Sprintf("%s responded %d", base, resp.StatusCode),
	}, nil
}
