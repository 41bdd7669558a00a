package adapter

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	gschema "github.com/google/jsonschema-go/jsonschema"

	"github.com/wilhg/toolgate/pkg/errmodel"
)

func TestLifecycleTransitions(t *testing.T) {
	var l Lifecycle
	if l.State() != Disconnected {
		t.Fatalf("initial state=%s", l.State())
	}
	if err := l.Require("rest"); !errors.Is(err, errmodel.ErrConnectionFailed) {
		t.Fatalf("Require before connect: %v", err)
	}
	gen, started, err := l.Begin("rest")
	if err != nil || !started {
		t.Fatalf("Begin: started=%v err=%v", started, err)
	}
	if _, _, err := l.Begin("rest"); !errors.Is(err, errmodel.ErrConnectionFailed) {
		t.Fatalf("concurrent Begin should fail, got %v", err)
	}
	l.Abort(gen)
	if l.State() != Disconnected {
		t.Fatalf("failed connect must return to disconnected, got %s", l.State())
	}
	gen, started, _ = l.Begin("rest")
	if !started {
		t.Fatal("Begin after failure should start")
	}
	if !l.Commit(gen) {
		t.Fatal("Commit of the current attempt should land")
	}
	if !l.Connected() {
		t.Fatal("expected connected")
	}
	if _, started, err := l.Begin("rest"); started || err != nil {
		t.Fatalf("Begin on connected adapter is a no-op, got started=%v err=%v", started, err)
	}
	l.Reset()
	if l.Connected() {
		t.Fatal("Reset should disconnect")
	}
}

func TestLifecycleResetSupersedesAttempt(t *testing.T) {
	var l Lifecycle
	stale, _, _ := l.Begin("rest")
	if !l.Pending(stale) {
		t.Fatal("attempt should be pending after Begin")
	}
	l.Reset()
	if l.Pending(stale) {
		t.Fatal("Reset must supersede the attempt")
	}
	if l.Commit(stale) {
		t.Fatal("Commit after Reset must not land")
	}
	if l.State() != Disconnected {
		t.Fatalf("state=%s, want disconnected", l.State())
	}

	// A fresh attempt started after the Reset is not disturbed by the stale one.
	fresh, started, _ := l.Begin("rest")
	if !started {
		t.Fatal("Begin after Reset should start")
	}
	l.Abort(stale)
	if l.Commit(stale) {
		t.Fatal("stale attempt must not commit the fresh one")
	}
	if l.State() != Connecting {
		t.Fatalf("stale Abort changed state to %s", l.State())
	}
	if !l.Commit(fresh) || !l.Connected() {
		t.Fatal("fresh attempt should land")
	}
	if !errors.Is(Superseded("rest"), errmodel.ErrConnectionFailed) {
		t.Fatal("Superseded should be connection_failed")
	}
}

func TestConfigAccessors(t *testing.T) {
	t.Setenv("TOOLGATE_ADAPTER_TEST", "resolved")
	cfg := Config{
		"base_url":   "${TOOLGATE_ADAPTER_TEST}",
		"timeout_ms": float64(1500),
		"port":       "25575",
		"scopes":     []any{"a", "b"},
		"endpoints":  map[string]any{"x": map[string]any{}},
		"bad_int":    1.5,
	}
	r := cfg.Resolved()
	if got, _ := r.RequireString("base_url"); got != "resolved" {
		t.Fatalf("base_url=%q", got)
	}
	if _, err := r.RequireString("missing"); !errors.Is(err, errmodel.ErrInvalidConfig) {
		t.Fatalf("missing key: %v", err)
	}
	if d, err := r.Millis("timeout_ms", 30000); err != nil || d != 1500*time.Millisecond {
		t.Fatalf("timeout=%v err=%v", d, err)
	}
	if d, _ := r.Millis("absent_ms", 5000); d != 5*time.Second {
		t.Fatalf("default timeout=%v", d)
	}
	if p, err := r.Int("port", 0); err != nil || p != 25575 {
		t.Fatalf("port=%d err=%v", p, err)
	}
	if _, err := r.Int("bad_int", 0); !errors.Is(err, errmodel.ErrInvalidConfig) {
		t.Fatalf("bad int: %v", err)
	}
	if s, _ := r.Strings("scopes", nil); len(s) != 2 || s[1] != "b" {
		t.Fatalf("scopes=%v", s)
	}
	if _, err := r.Map("base_url"); !errors.Is(err, errmodel.ErrInvalidConfig) {
		t.Fatalf("Map on string: %v", err)
	}
	if cfg["base_url"] != "${TOOLGATE_ADAPTER_TEST}" {
		t.Fatal("Resolved must not mutate the original")
	}
}

func TestValidateArgs(t *testing.T) {
	op := Operation{
		Name: "kick",
		InputSchema: ObjectSchema(map[string]*gschema.Schema{
			"player": StringProp("player name"),
			"top":    IntegerProp("page size"),
		}, "player"),
	}
	var doc map[string]any
	if err := json.Unmarshal(op.InputSchema, &doc); err != nil {
		t.Fatal(err)
	}
	if doc["type"] != "object" {
		t.Fatalf("schema=%s", op.InputSchema)
	}
	if err := ValidateArgs(op, map[string]any{"player": "steve", "top": 5}); err != nil {
		t.Fatalf("valid args rejected: %v", err)
	}
	if err := ValidateArgs(op, map[string]any{"player": "steve", "top": float64(5)}); err != nil {
		t.Fatalf("integral float rejected: %v", err)
	}
	if err := ValidateArgs(op, nil); !errors.Is(err, errmodel.ErrInvalidArguments) {
		t.Fatalf("missing player: %v", err)
	}
	if err := ValidateArgs(op, map[string]any{"player": 7}); !errors.Is(err, errmodel.ErrInvalidArguments) {
		t.Fatalf("wrong type: %v", err)
	}
	if err := ValidateArgs(Operation{Name: "free"}, map[string]any{"anything": true}); err != nil {
		t.Fatalf("schemaless op: %v", err)
	}
}

func TestArgHelpers(t *testing.T) {
	args := map[string]any{"player": "alex", "top": float64(3), "headers": map[string]any{"X": "1"}, "to": "a@example.com"}
	if _, err := RequireArg(args, "kick", "reason"); !errors.Is(err, errmodel.ErrInvalidArguments) {
		t.Fatalf("RequireArg: %v", err)
	}
	if ArgInt(args, "top", 10) != 3 || ArgInt(args, "missing", 10) != 10 {
		t.Fatal("ArgInt")
	}
	if ArgMap(args, "headers")["X"] != "1" {
		t.Fatal("ArgMap")
	}
	if got := ArgStrings(args, "to"); len(got) != 1 || got[0] != "a@example.com" {
		t.Fatalf("ArgStrings=%v", got)
	}
}
