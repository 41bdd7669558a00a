package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wilhg/toolgate/pkg/adapter"
	"github.com/wilhg/toolgate/pkg/errmodel"
)

type capturedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   string
}

func newCapturingServer(t *testing.T, status int, respBody string) (*httptest.Server, func() capturedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		last capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		last = capturedRequest{Method: r.Method, Path: r.URL.EscapedPath(), Query: r.URL.RawQuery, Header: r.Header.Clone(), Body: string(b)}
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(respBody))
	}))
	t.Cleanup(srv.Close)
	return srv, func() capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

func connect(t *testing.T, cfg adapter.Config) *Adapter {
	t.Helper()
	a := New(adapter.Deps{})
	if err := a.Connect(t.Context(), cfg); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = a.Disconnect(context.Background()) })
	return a
}

func TestDynamicRequestUsesArgsMethodAndPath(t *testing.T) {
	srv, last := newCapturingServer(t, 200, `{"id":42,"name":"ada"}`)
	a := connect(t, adapter.Config{"base_url": srv.URL})

	out, err := a.Execute(t.Context(), "get_user", map[string]any{"method": "GET", "path": "/users/42"})
	if err != nil {
		t.Fatal(err)
	}
	got := last()
	if got.Method != "GET" || got.Path != "/users/42" {
		t.Fatalf("request=%s %s", got.Method, got.Path)
	}
	res := out.(map[string]any)
	if res["status"] != 200 {
		t.Fatalf("status=%v", res["status"])
	}
	body := res["body"].(map[string]any)
	if body["name"] != "ada" || body["id"] != float64(42) {
		t.Fatalf("body=%v", body)
	}
}

func TestUnknownToolWithoutArgsDefaultsToGetRoot(t *testing.T) {
	srv, last := newCapturingServer(t, 204, ``)
	a := connect(t, adapter.Config{"base_url": srv.URL + "/"})

	out, err := a.Execute(t.Context(), "whatever", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := last(); got.Method != "GET" || got.Path != "/" {
		t.Fatalf("request=%s %s", got.Method, got.Path)
	}
	if out.(map[string]any)["status"] != 204 {
		t.Fatalf("out=%v", out)
	}
}

func TestNonJSONBodyReturnedAsString(t *testing.T) {
	srv, _ := newCapturingServer(t, 200, `not json`)
	a := connect(t, adapter.Config{"base_url": srv.URL})
	out, err := a.Execute(t.Context(), "request", map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if body := out.(map[string]any)["body"]; body != "not json" {
		t.Fatalf("body=%#v", body)
	}
}

func TestEndpointTableBuildsFullRequest(t *testing.T) {
	t.Setenv("TOOLGATE_REST_TOKEN", "abc123")
	srv, last := newCapturingServer(t, 201, `{"ok":true}`)
	a := connect(t, adapter.Config{
		"base_url":    srv.URL + "/api",
		"auth_token":  "${TOOLGATE_REST_TOKEN}",
		"auth_prefix": "Bearer",
		"headers":     map[string]any{"X-Static": "s"},
		"endpoints": map[string]any{
			"create_comment": map[string]any{
				"method":      "post",
				"path":        "/repos/{owner}/{repo}/issues/{number}/comments",
				"description": "Comment on an issue",
			},
		},
	})

	_, err := a.Execute(t.Context(), "create_comment", map[string]any{
		"path_params":  map[string]any{"owner": "acme", "repo": "a b", "number": float64(7)},
		"query_params": map[string]any{"notify": true, "label": []any{"x", "y"}},
		"body":         map[string]any{"text": "hi"},
		"headers":      map[string]any{"Authorization": "Token override", "X-Static": "caller"},
	})
	if err != nil {
		t.Fatal(err)
	}
	got := last()
	if got.Method != "POST" {
		t.Fatalf("method=%s", got.Method)
	}
	if got.Path != "/api/repos/acme/a%20b/issues/7/comments" {
		t.Fatalf("path=%s", got.Path)
	}
	if strings.Contains(got.Path, "{") {
		t.Fatalf("placeholder left in %s", got.Path)
	}
	if got.Query != "label=x&label=y&notify=true" {
		t.Fatalf("query=%s", got.Query)
	}
	if got.Header.Get("Authorization") != "Token override" {
		t.Fatalf("caller headers must win, got %q", got.Header.Get("Authorization"))
	}
	if got.Header.Get("X-Static") != "caller" {
		t.Fatalf("X-Static=%q", got.Header.Get("X-Static"))
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(got.Body), &body); err != nil || body["text"] != "hi" {
		t.Fatalf("body=%s err=%v", got.Body, err)
	}
}

func TestAuthHeaderAttached(t *testing.T) {
	srv, last := newCapturingServer(t, 200, `{}`)
	a := connect(t, adapter.Config{"base_url": srv.URL, "auth_header": "X-Api-Key", "auth_token": "k"})
	if _, err := a.Execute(t.Context(), "request", nil); err != nil {
		t.Fatal(err)
	}
	if got := last().Header.Get("X-Api-Key"); got != "k" {
		t.Fatalf("X-Api-Key=%q", got)
	}
}

func TestExpandPathLeavesNoPlaceholders(t *testing.T) {
	templates := []string{
		"/users/{id}",
		"/{a}/{b}/{a}",
		"/orgs/{org}/members/{user}/roles",
		"/static",
	}
	params := map[string]any{"id": "{id}", "a": "x/y", "b": 3, "org": "o", "user": "{}"}
	for _, tmpl := range templates {
		out, err := expandPath(tmpl, params)
		if err != nil {
			t.Fatalf("%s: %v", tmpl, err)
		}
		if placeholderRE.MatchString(out) {
			t.Fatalf("%s -> %s still has a placeholder", tmpl, out)
		}
	}
	if _, err := expandPath("/users/{id}/{missing}", params); !errors.Is(err, errmodel.ErrInvalidArguments) {
		t.Fatalf("missing param: %v", err)
	}
}

func TestUnsupportedMethod(t *testing.T) {
	srv, _ := newCapturingServer(t, 200, `{}`)
	a := connect(t, adapter.Config{"base_url": srv.URL})
	_, err := a.Execute(t.Context(), "request", map[string]any{"method": "TRACE"})
	if !errors.Is(err, errmodel.ErrOperationNotSupported) {
		t.Fatalf("err=%v", err)
	}
}

func TestConnectValidation(t *testing.T) {
	cases := []adapter.Config{
		{},
		{"base_url": "not a url"},
		{"base_url": "ftp://example.com"},
		{"base_url": "https://example.com", "timeout_ms": -1},
		{"base_url": "https://example.com", "endpoints": map[string]any{"x": map[string]any{"method": "BREW"}}},
	}
	for i, cfg := range cases {
		a := New(adapter.Deps{})
		err := a.Connect(t.Context(), cfg)
		if !errors.Is(err, errmodel.ErrInvalidConfig) {
			t.Errorf("case %d: err=%v", i, err)
		}
		if a.IsConnected() {
			t.Errorf("case %d: failed connect left adapter connected", i)
		}
	}
}

func TestExecuteBeforeConnect(t *testing.T) {
	a := New(adapter.Deps{})
	if _, err := a.Execute(t.Context(), "request", nil); !errors.Is(err, errmodel.ErrConnectionFailed) {
		t.Fatalf("err=%v", err)
	}
}

func TestUnreachableEndpointIsExecutionFailed(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()
	a := connect(t, adapter.Config{"base_url": base})
	_, err := a.Execute(t.Context(), "request", nil)
	if !errors.Is(err, errmodel.ErrExecutionFailed) {
		t.Fatalf("err=%v", err)
	}
}

func TestTimeoutSurfacesAsTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	a := connect(t, adapter.Config{"base_url": srv.URL, "timeout_ms": 50})
	_, err := a.Execute(t.Context(), "request", nil)
	if !errors.Is(err, errmodel.ErrTimeout) {
		t.Fatalf("err=%v", err)
	}
}

func TestHealthCheckDoesNotChangeConnection(t *testing.T) {
	srv, _ := newCapturingServer(t, 200, `ok`)
	a := New(adapter.Deps{})
	h, err := a.HealthCheck(t.Context())
	if err != nil || h.Connected || a.IsConnected() {
		t.Fatalf("health before connect: %+v err=%v", h, err)
	}
	if err := a.Connect(t.Context(), adapter.Config{"base_url": srv.URL}); err != nil {
		t.Fatal(err)
	}
	h, err = a.HealthCheck(t.Context())
	if err != nil || !h.Connected || h.LatencyMs == nil {
		t.Fatalf("health: %+v err=%v", h, err)
	}
	if !a.IsConnected() {
		t.Fatal("health check changed connection state")
	}
	srv.Close()
	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()
	h, _ = a.HealthCheck(ctx)
	if h.Connected {
		t.Fatalf("closed server reported healthy: %+v", h)
	}
	if !a.IsConnected() {
		t.Fatal("failed probe must not disconnect")
	}
}

func TestSupportedOperations(t *testing.T) {
	a := connect(t, adapter.Config{
		"base_url": "https://api.example.com",
		"endpoints": map[string]any{
			"list_users":  map[string]any{"method": "GET", "path": "/users"},
			"delete_user": map[string]any{"method": "DELETE", "path": "/users/{id}", "description": "Remove a user"},
		},
	})
	ops := a.SupportedOperations()
	if len(ops) != 3 {
		t.Fatalf("ops=%v", ops)
	}
	if ops[0].Name != "delete_user" || ops[0].ReadOnly || !ops[0].Idempotent || ops[0].Description != "Remove a user" {
		t.Fatalf("delete_user=%+v", ops[0])
	}
	if ops[1].Name != "list_users" || !ops[1].ReadOnly {
		t.Fatalf("list_users=%+v", ops[1])
	}
	if ops[2].Name != "request" {
		t.Fatalf("last=%+v", ops[2])
	}
}

func TestDisconnectDropsStaticHeaders(t *testing.T) {
	srv, last := newCapturingServer(t, 200, `{}`)
	a := New(adapter.Deps{})
	cfg := adapter.Config{"base_url": srv.URL, "headers": map[string]any{"X-Api-Key": "k-123"}}
	if err := a.Connect(t.Context(), cfg); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Execute(t.Context(), "request", nil); err != nil {
		t.Fatal(err)
	}
	if got := last().Header.Get("X-Api-Key"); got != "k-123" {
		t.Fatalf("X-Api-Key=%q", got)
	}
	if err := a.Disconnect(t.Context()); err != nil {
		t.Fatal(err)
	}
	a.mu.RLock()
	headers, authValue := a.headers, a.authValue
	a.mu.RUnlock()
	if headers != nil || authValue != "" {
		t.Fatalf("credentials retained after disconnect: headers=%v auth=%q", headers, authValue)
	}

	if err := a.Connect(t.Context(), adapter.Config{"base_url": srv.URL}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = a.Disconnect(context.Background()) })
	if _, err := a.Execute(t.Context(), "request", nil); err != nil {
		t.Fatal(err)
	}
	if got := last().Header.Get("X-Api-Key"); got != "" {
		t.Fatalf("stale header after reconnect: %q", got)
	}
}
