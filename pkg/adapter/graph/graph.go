// Package graph implements the OAuth2 cloud API adapter for Microsoft Graph.
// It authenticates with the client-credentials grant and dispatches a fixed
// table of named operations onto Graph endpoints.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/wilhg/toolgate/pkg/adapter"
	"github.com/wilhg/toolgate/pkg/errmodel"
)

// Protocol is the registry name of this adapter.
const Protocol = "graph"

const (
	defaultAuthority  = "https://login.microsoftonline.com"
	defaultAPIBase    = "https://graph.microsoft.com"
	defaultAPIVersion = "v1.0"
	defaultScope      = "https://graph.microsoft.com/.default"
	defaultTimeoutMs  = 30000
)

// Adapter is the Graph adapter. The access token is owned exclusively by the
// adapter and never leaves it.
type Adapter struct {
	lc     adapter.Lifecycle
	logger *slog.Logger
	now    func() time.Time

	mu          sync.RWMutex
	apiRoot     string
	tenant      string
	defaultUser string
	client      *http.Client
	tokens      *tokenSource
}

var _ adapter.Adapter = (*Adapter)(nil)

// New constructs an unconnected Graph adapter.
func New(deps adapter.Deps) *Adapter {
	return &Adapter{
		logger: deps.LoggerOrDiscard().With("component", "adapter", "protocol", Protocol),
		now:    time.Now,
	}
}

// Factory is the registry factory for the Graph adapter.
func Factory(deps adapter.Deps) adapter.Adapter { return New(deps) }

func (a *Adapter) Protocol() string  { return Protocol }
func (a *Adapter) IsConnected() bool { return a.lc.Connected() }

// Connect resolves credentials, builds the transport and acquires the first token.
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
	tenant, err := cfg.RequireString("tenant_id")
	if err != nil {
		return err
	}
	clientID, err := cfg.RequireString("client_id")
	if err != nil {
		return err
	}
	secret, err := cfg.RequireString("client_secret")
	if err != nil {
		return err
	}
	scopes, err := cfg.Strings("scopes", []string{defaultScope})
	if err != nil {
		return err
	}
	timeout, err := cfg.Millis("timeout_ms", defaultTimeoutMs)
	if err != nil {
		return err
	}
	authority := strings.TrimRight(cfg.String("authority_url", defaultAuthority), "/")
	apiBase := strings.TrimRight(cfg.String("api_base_url", defaultAPIBase), "/")
	for field, v := range map[string]string{"authority_url": authority, "api_base_url": apiBase} {
		if u, perr := url.Parse(v); perr != nil || u.Scheme == "" || u.Host == "" {
			return errmodel.InvalidConfig(field+" must be an absolute URL", map[string]any{"field": field, "value": v}, perr)
		}
	}

	client := &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	tokens := &tokenSource{
		cfg: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: secret,
			TokenURL:     authority + "/" + url.PathEscape(tenant) + "/oauth2/v2.0/token",
			Scopes:       scopes,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		client:  client,
		timeout: timeout,
		now:     a.now,
	}
	if _, err := tokens.Token(ctx); err != nil {
		return err
	}

	root := apiBase + "/" + cfg.String("api_version", defaultAPIVersion)
	a.mu.Lock()
	if !a.lc.Commit(gen) {
		a.mu.Unlock()
		tokens.Clear()
		client.CloseIdleConnections()
		return adapter.Superseded(Protocol)
	}
	a.apiRoot = root
	a.defaultUser = cfg.String("default_user", "")
	a.tenant = tenant
	a.client = client
	a.tokens = tokens
	a.mu.Unlock()

	a.logger.InfoContext(ctx, "graph adapter connected", "tenant", tenant, "api_root", root)
	return nil
}

// Disconnect drops the token and the transport. A connect still acquiring
// its first token is abandoned.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tokens != nil {
		a.tokens.Clear()
	}
	if a.client != nil {
		a.client.CloseIdleConnections()
	}
	a.tokens, a.client = nil, nil
	a.lc.Reset()
	return nil
}

// TokenState reports the token sub-state.
func (a *Adapter) TokenState() TokenState {
	a.mu.RLock()
	tokens := a.tokens
	a.mu.RUnlock()
	if tokens == nil {
		return NoToken
	}
	return tokens.State()
}

func (a *Adapter) SupportedOperations() []adapter.Operation {
	out := make([]adapter.Operation, 0, len(operations))
	for _, op := range operations {
		out = append(out, op.Operation)
	}
	return out
}

// Execute dispatches tool through the operation table.
func (a *Adapter) Execute(ctx context.Context, tool string, args map[string]any) (any, error) {
	if err := a.lc.Require(Protocol); err != nil {
		return nil, err
	}
	op, ok := operationIndex[tool]
	if !ok {
		return nil, errmodel.OperationNotSupported(fmt.Sprintf("unknown graph operation %q", tool), map[string]any{"protocol": Protocol, "tool": tool})
	}
	if err := adapter.ValidateArgs(op.Operation, args); err != nil {
		return nil, err
	}
	args, err := a.withUser(tool, op, args)
	if err != nil {
		return nil, err
	}
	req, err := op.build(args)
	if err != nil {
		return nil, err
	}
	return a.do(ctx, tool, req)
}

// withUser fills user_id from default_user for operations that act on a
// user. App-only tokens have no signed-in identity, so one of the two is
// required.
func (a *Adapter) withUser(tool string, op operation, args map[string]any) (map[string]any, error) {
	if !op.user || adapter.ArgString(args, "user_id", "") != "" {
		return args, nil
	}
	a.mu.RLock()
	user := a.defaultUser
	a.mu.RUnlock()
	if user == "" {
		return nil, errmodel.InvalidArguments("user_id is required when no default_user is configured", map[string]any{"tool": tool, "field": "user_id"})
	}
	out := make(map[string]any, len(args)+1)
	for k, v := range args {
		out[k] = v
	}
	out["user_id"] = user
	return out, nil
}

func (a *Adapter) do(ctx context.Context, tool string, r request) (any, error) {
	a.mu.RLock()
	root, client, tokens := a.apiRoot, a.client, a.tokens
	a.mu.RUnlock()
	if client == nil || tokens == nil {
		return nil, errmodel.ConnectionFailed("adapter is not connected", map[string]any{"protocol": Protocol})
	}
	token, err := tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	target := root + "/" + strings.TrimLeft(r.Path, "/")
	if len(r.Query) > 0 {
		target += "?" + r.Query.Encode()
	}
	var body *bytes.Reader
	if r.Body != nil {
		b, err := json.Marshal(r.Body)
		if err != nil {
			return nil, errmodel.InvalidArguments("body is not JSON-serializable", map[string]any{"tool": tool}, err)
		}
		body = bytes.NewReader(b)
	}
	var req *http.Request
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, r.Method, target, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, r.Method, target, nil)
	}
	if err != nil {
		return nil, errmodel.InvalidArguments("invalid request", map[string]any{"tool": tool, "path": r.Path}, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, errmodel.Transport(errmodel.ExecutionFailed, r.Method+" "+r.Path+" failed", map[string]any{"tool": tool, "method": r.Method, "path": r.Path}, err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := adapter.ReadBody(resp.Body)
	if err != nil {
		return nil, errmodel.Transport(errmodel.ExecutionFailed, "read response body", map[string]any{"tool": tool, "status": resp.StatusCode}, err)
	}
	a.logger.DebugContext(ctx, "graph call", "tool", tool, "method", r.Method, "path", r.Path, "status", resp.StatusCode, "elapsed_ms", time.Since(start).Milliseconds())

	diag := map[string]any{"tool": tool, "method": r.Method, "path": r.Path, "status": resp.StatusCode, "body": string(raw)}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		tokens.Invalidate(token)
		return nil, errmodel.AuthenticationFailed("access token rejected", diag)
	case resp.StatusCode == http.StatusForbidden:
		return nil, errmodel.PermissionDenied("insufficient permissions for "+tool, diag)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, errmodel.ExecutionFailed(fmt.Sprintf("%s returned %d", r.Path, resp.StatusCode), diag)
	}
	return map[string]any{"status": resp.StatusCode, "body": adapter.DecodeBody(raw)}, nil
}

// HealthCheck reports connection and token state without a network call.
func (a *Adapter) HealthCheck(ctx context.Context) (adapter.Health, error) {
	if !a.lc.Connected() {
		return adapter.Health{Connected: false, Message: "not connected"}, nil
	}
	a.mu.RLock()
	tenant, tokens := a.tenant, a.tokens
	a.mu.RUnlock()
	if tokens == nil {
		return adapter.Health{Connected: false, Message: "not connected"}, nil
	}
	msg := fmt.Sprintf("tenant %s, token %s", tenant, tokens.State())
	if exp, ok := tokens.ExpiresAt(); ok {
		msg += ", expires " + exp.UTC().Format(time.RFC3339)
	}
	return adapter.Health{Connected: true, Message: msg}, nil
}
