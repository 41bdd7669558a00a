package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, upstream string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "toolgate.yaml")
	body := `log: { level: error }
interfaces:
  - name: api
    protocol: rest
    config:
      base_url: ` + upstream + `
      endpoints:
        whoami: { method: GET, path: /user, read_only: true, description: Current user }
`
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func upstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"path": r.URL.Path, "method": r.Method})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil || !strings.HasPrefix(out, "toolgate dev") {
		t.Fatalf("out=%q err=%v", out, err)
	}
}

func TestCall(t *testing.T) {
	cfg := writeConfig(t, upstream(t).URL)
	out, err := run(t, "--config", cfg, "call", "api", "request", "--args", `{"method":"DELETE","path":"/items/3"}`)
	if err != nil {
		t.Fatal(err)
	}
	var res struct {
		Status int            `json:"status"`
		Body   map[string]any `json:"body"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if res.Status != 200 || res.Body["method"] != "DELETE" || res.Body["path"] != "/items/3" {
		t.Fatalf("res=%+v", res)
	}
}

func TestCallErrors(t *testing.T) {
	cfg := writeConfig(t, upstream(t).URL)
	if _, err := run(t, "--config", cfg, "call", "api", "request", "--args", `[1]`); err == nil {
		t.Fatal("non-object args accepted")
	}
	if _, err := run(t, "--config", cfg, "call", "nope", "request"); err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Fatalf("unknown interface: %v", err)
	}
	if _, err := run(t, "--config", cfg, "call", "api"); err == nil {
		t.Fatal("missing tool accepted")
	}
}

func TestOpsTableAndJSON(t *testing.T) {
	cfg := writeConfig(t, upstream(t).URL)
	out, err := run(t, "--config", cfg, "ops")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "INTERFACE") || !strings.Contains(out, "whoami") || !strings.Contains(out, "Current user") {
		t.Fatalf("table=%q", out)
	}
	out, err = run(t, "--config", cfg, "ops", "api", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var all map[string][]map[string]any
	if err := json.Unmarshal([]byte(out), &all); err != nil {
		t.Fatal(err)
	}
	if len(all["api"]) == 0 {
		t.Fatalf("ops=%v", all)
	}
}

func TestHealth(t *testing.T) {
	cfg := writeConfig(t, upstream(t).URL)
	out, err := run(t, "--config", cfg, "health")
	if err != nil {
		t.Fatalf("err=%v out=%s", err, out)
	}
	var hs map[string]map[string]any
	if err := json.Unmarshal([]byte(out), &hs); err != nil {
		t.Fatal(err)
	}
	if hs["api"]["connected"] != true {
		t.Fatalf("health=%v", hs)
	}
}
