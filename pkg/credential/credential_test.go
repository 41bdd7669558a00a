package credential

import (
	"encoding/json"
	"os"
	"testing"
)

func TestResolve(t *testing.T) {
	t.Setenv("TOOLGATE_TEST_SECRET", "s3cr3t")
	cases := []struct {
		in, want string
	}{
		{"${TOOLGATE_TEST_SECRET}", "s3cr3t"},
		{"${TOOLGATE_TEST_UNSET_VAR}", ""},
		{"plain", "plain"},
		{"prefix ${TOOLGATE_TEST_SECRET}", "prefix ${TOOLGATE_TEST_SECRET}"},
		{"${TOOLGATE_TEST_SECRET} suffix", "${TOOLGATE_TEST_SECRET} suffix"},
		{"${}", "${}"},
		{"", ""},
	}
	for _, c := range cases {
		if got := Resolve(c.in); got != c.want {
			t.Errorf("Resolve(%q)=%q want %q", c.in, got, c.want)
		}
	}
}

func TestResolveConfigIsDeepAndCopies(t *testing.T) {
	t.Setenv("TOOLGATE_TEST_TOKEN", "tok")
	in := map[string]any{
		"auth_token": "${TOOLGATE_TEST_TOKEN}",
		"timeout_ms": 100,
		"endpoints": map[string]any{
			"get_user": map[string]any{"path": "/users/{id}", "method": "${TOOLGATE_TEST_TOKEN}"},
		},
		"scopes": []any{"${TOOLGATE_TEST_TOKEN}", "b"},
	}
	out := ResolveConfig(in)
	if out["auth_token"] != "tok" {
		t.Fatalf("auth_token=%v", out["auth_token"])
	}
	if out["timeout_ms"] != 100 {
		t.Fatalf("timeout_ms=%v", out["timeout_ms"])
	}
	ep := out["endpoints"].(map[string]any)["get_user"].(map[string]any)
	if ep["method"] != "tok" || ep["path"] != "/users/{id}" {
		t.Fatalf("endpoint=%v", ep)
	}
	if out["scopes"].([]any)[0] != "tok" {
		t.Fatalf("scopes=%v", out["scopes"])
	}
	if in["auth_token"] != "${TOOLGATE_TEST_TOKEN}" {
		t.Fatal("input must not be mutated")
	}
}

type namedConfig map[string]any

func TestResolveConfigTypedContainers(t *testing.T) {
	t.Setenv("TOOLGATE_TEST_KEY", "k1")
	in := map[string]any{
		"servers": []map[string]any{{"token": "${TOOLGATE_TEST_KEY}"}, {"token": "plain"}},
		"nested":  namedConfig{"api_key": "${TOOLGATE_TEST_KEY}"},
		"lists":   [][]string{{"${TOOLGATE_TEST_KEY}"}},
		"raw":     []byte("${TOOLGATE_TEST_KEY}"),
		"number":  json.Number("12"),
	}
	out := ResolveConfig(in)

	servers, ok := out["servers"].([]any)
	if !ok || len(servers) != 2 {
		t.Fatalf("servers=%#v", out["servers"])
	}
	if got := servers[0].(map[string]any)["token"]; got != "k1" {
		t.Fatalf("servers[0].token=%v", got)
	}
	if got := servers[1].(map[string]any)["token"]; got != "plain" {
		t.Fatalf("servers[1].token=%v", got)
	}
	nested, ok := out["nested"].(map[string]any)
	if !ok || nested["api_key"] != "k1" {
		t.Fatalf("nested=%#v", out["nested"])
	}
	if got := out["lists"].([]any)[0].([]any)[0]; got != "k1" {
		t.Fatalf("lists=%#v", out["lists"])
	}
	if string(out["raw"].([]byte)) != "${TOOLGATE_TEST_KEY}" {
		t.Fatalf("raw bytes must pass through, got %#v", out["raw"])
	}
	if out["number"] != json.Number("12") {
		t.Fatalf("number=%#v", out["number"])
	}
	if in["servers"].([]map[string]any)[0]["token"] != "${TOOLGATE_TEST_KEY}" {
		t.Fatal("input must not be mutated")
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/test.env"
	if err := os.WriteFile(path, []byte("TOOLGATE_TEST_FROM_FILE=fromfile\nTOOLGATE_TEST_PRESET=file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TOOLGATE_TEST_PRESET", "env")
	// Registered for cleanup; godotenv sets it directly.
	t.Setenv("TOOLGATE_TEST_FROM_FILE", "")
	os.Unsetenv("TOOLGATE_TEST_FROM_FILE")

	loaded, err := LoadEnvFiles(path, dir+"/missing.env")
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 || loaded[0] != path {
		t.Fatalf("loaded=%v", loaded)
	}
	if got := Resolve("${TOOLGATE_TEST_FROM_FILE}"); got != "fromfile" {
		t.Fatalf("from file=%q", got)
	}
	if got := Resolve("${TOOLGATE_TEST_PRESET}"); got != "env" {
		t.Fatalf("preset should win, got %q", got)
	}
}
