// Package mcpbridge adapts an external MCP tool host to the adapter contract.
// The host's tools are discovered at connect time and become the operation table.
package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	mcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wilhg/toolgate/pkg/adapter"
	"github.com/wilhg/toolgate/pkg/errmodel"
	"github.com/wilhg/toolgate/pkg/mcpclient"
)

// Protocol is the registry name of this adapter.
const Protocol = "mcp"

const (
	defaultTimeoutMs = 30000
	clientName       = "toolgate"
	clientVersion    = "v1"
)

// Option configures an Adapter.
type Option func(*Adapter)

// WithTransport connects over t instead of building a transport from config.
func WithTransport(t mcp.Transport) Option {
	return func(a *Adapter) { a.override = t }
}

// Adapter bridges one MCP tool host.
type Adapter struct {
	lc       adapter.Lifecycle
	logger   *slog.Logger
	override mcp.Transport

	mu      sync.RWMutex
	client  mcpclient.Client
	ops     []adapter.Operation
	index   map[string]int
	timeout time.Duration
	target  string
}

var _ adapter.Adapter = (*Adapter)(nil)

// New constructs an unconnected bridge.
func New(deps adapter.Deps, opts ...Option) *Adapter {
	a := &Adapter{logger: deps.LoggerOrDiscard().With("component", "adapter", "protocol", Protocol)}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Factory is the registry factory for the bridge.
func Factory(deps adapter.Deps) adapter.Adapter { return New(deps) }

func (a *Adapter) Protocol() string  { return Protocol }
func (a *Adapter) IsConnected() bool { return a.lc.Connected() }

// Connect performs the initialize handshake and tool discovery. A host whose
// tools cannot be listed fails the connect.
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
	timeout, err := cfg.Millis("timeout_ms", defaultTimeoutMs)
	if err != nil {
		return err
	}
	kind := cfg.String("transport", mcpclient.TransportStdio)
	target := kind
	t := a.override
	if t == nil {
		opts, err := transportOptions(cfg, kind)
		if err != nil {
			return err
		}
		if t, err = mcpclient.NewTransport(opts); err != nil {
			return errmodel.InvalidConfig(err.Error(), map[string]any{"field": "transport", "transport": kind}, err)
		}
		target = opts.Command + opts.URL
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := mcpclient.Dial(cctx, clientName, clientVersion, t)
	if err != nil {
		return errmodel.Transport(errmodel.ConnectionFailed, "mcp initialize failed", map[string]any{"transport": kind, "target": target}, err)
	}
	tools, err := client.ListTools(cctx)
	if err != nil {
		_ = client.Close()
		return errmodel.Transport(errmodel.ConnectionFailed, "mcp tool discovery failed", map[string]any{"transport": kind, "target": target}, err)
	}
	ops, index := operationTable(tools)

	a.mu.Lock()
	if !a.lc.Commit(gen) {
		a.mu.Unlock()
		_ = client.Close()
		return adapter.Superseded(Protocol)
	}
	a.client, a.ops, a.index, a.timeout, a.target = client, ops, index, timeout, target
	a.mu.Unlock()
	a.logger.InfoContext(ctx, "mcp host connected", "transport", kind, "target", target, "tools", len(ops))
	return nil
}

func transportOptions(cfg adapter.Config, kind string) (mcpclient.TransportOptions, error) {
	opts := mcpclient.TransportOptions{Kind: kind}
	switch kind {
	case mcpclient.TransportStdio:
		cmd, err := cfg.RequireString("command")
		if err != nil {
			return opts, err
		}
		args, err := cfg.Strings("args", nil)
		if err != nil {
			return opts, err
		}
		env, err := cfg.Map("env")
		if err != nil {
			return opts, err
		}
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			opts.Env = append(opts.Env, k+"="+fmt.Sprint(env[k]))
		}
		opts.Command, opts.Args = cmd, args
	case mcpclient.TransportHTTP, mcpclient.TransportSSE:
		u, err := cfg.RequireString("url")
		if err != nil {
			return opts, err
		}
		opts.URL = u
		// No client timeout: streams stay open; calls are bounded by context.
		opts.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	default:
		return opts, errmodel.InvalidConfig(fmt.Sprintf("unknown transport %q", kind), map[string]any{"field": "transport", "value": kind, "allowed": []string{"stdio", "http", "sse"}})
	}
	return opts, nil
}

func operationTable(tools []mcpclient.ToolDescriptor) ([]adapter.Operation, map[string]int) {
	ops := make([]adapter.Operation, 0, len(tools))
	index := make(map[string]int, len(tools))
	for _, t := range tools {
		if _, dup := index[t.Name]; dup {
			continue
		}
		index[t.Name] = len(ops)
		ops = append(ops, adapter.Operation{
			Name:        t.Name,
			Description: t.Description,
			ReadOnly:    t.ReadOnly,
			Idempotent:  t.Idempotent,
			InputSchema: t.InputSchema,
		})
	}
	return ops, index
}

// SupportedOperations returns the discovered tools in host order.
func (a *Adapter) SupportedOperations() []adapter.Operation {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]adapter.Operation(nil), a.ops...)
}

// Execute validates args against the discovered schema and forwards the call.
// The result is returned as {content, structured_content, is_error}.
func (a *Adapter) Execute(ctx context.Context, tool string, args map[string]any) (any, error) {
	if err := a.lc.Require(Protocol); err != nil {
		return nil, err
	}
	a.mu.RLock()
	client, timeout, target := a.client, a.timeout, a.target
	i, ok := a.index[tool]
	var op adapter.Operation
	if ok {
		op = a.ops[i]
	}
	a.mu.RUnlock()
	if client == nil {
		return nil, errmodel.ConnectionFailed("adapter is not connected", map[string]any{"protocol": Protocol})
	}
	if !ok {
		return nil, errmodel.OperationNotSupported(fmt.Sprintf("tool %q was not discovered on the host", tool), map[string]any{"protocol": Protocol, "tool": tool})
	}
	if err := adapter.ValidateArgs(op, args); err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	res, err := client.CallTool(cctx, tool, args)
	if err != nil {
		return nil, errmodel.Transport(errmodel.ExecutionFailed, "tools/call "+tool+" failed", map[string]any{"tool": tool, "target": target}, err)
	}
	return decodeResult(res)
}

func decodeResult(res mcpclient.CallResult) (any, error) {
	out := map[string]any{"is_error": res.IsError, "structured_content": nil}
	var content any
	if err := json.Unmarshal(res.Content, &content); err != nil {
		return nil, errmodel.ProtocolError("undecodable tool content", nil, err)
	}
	out["content"] = content
	if len(res.StructuredContent) > 0 {
		var sc any
		if err := json.Unmarshal(res.StructuredContent, &sc); err != nil {
			return nil, errmodel.ProtocolError("undecodable structured content", nil, err)
		}
		out["structured_content"] = sc
	}
	return out, nil
}

// Disconnect closes the session and, for stdio hosts, the subprocess.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	client := a.client
	a.client, a.ops, a.index = nil, nil, nil
	a.lc.Reset()
	a.mu.Unlock()
	if client != nil {
		if err := client.Close(); err != nil {
			a.logger.DebugContext(ctx, "mcp session close", "error", err)
		}
	}
	return nil
}

// HealthCheck pings the host.
func (a *Adapter) HealthCheck(ctx context.Context) (adapter.Health, error) {
	if !a.lc.Connected() {
		return adapter.Health{Connected: false, Message: "not connected"}, nil
	}
	a.mu.RLock()
	client, timeout, target := a.client, a.timeout, a.target
	a.mu.RUnlock()
	if client == nil {
		return adapter.Health{Connected: false, Message: "not connected"}, nil
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	if err := client.Ping(cctx); err != nil {
		return adapter.Health{Connected: false, Message: "ping failed: " + err.Error()}, nil
	}
	return adapter.Health{
		Connected: true,
		LatencyMs: adapter.Latency(time.Since(start).Milliseconds()),
		Message:   "mcp host " + target + " responded",
	}, nil
}
