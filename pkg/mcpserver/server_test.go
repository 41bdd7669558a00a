package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	mcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wilhg/toolgate/pkg/adapter"
	"github.com/wilhg/toolgate/pkg/errmodel"
	"github.com/wilhg/toolgate/pkg/gateway"
	"github.com/wilhg/toolgate/pkg/mcpclient"
)

type fakeRouter struct{}

func (fakeRouter) Interfaces() []gateway.InterfaceInfo {
	return []gateway.InterfaceInfo{{Name: "minecraft", Protocol: "rcon", Connected: true}}
}

func (fakeRouter) Operations(string) ([]adapter.Operation, error) {
	return []adapter.Operation{
		{Name: "list_players", Description: "List online players", ReadOnly: true},
		{Name: "say", InputSchema: adapter.ObjectSchema(nil)},
	}, nil
}

func (fakeRouter) Route(_ context.Context, name, tool string, args map[string]any) (any, error) {
	if tool == "say" {
		return nil, errmodel.ConnectionFailed("server went away", map[string]any{"interface": name})
	}
	return map[string]any{"interface": name, "tool": tool, "args": args}, nil
}

func connect(t *testing.T) mcpclient.Client {
	t.Helper()
	s, err := New(fakeRouter{})
	if err != nil {
		t.Fatal(err)
	}
	if s.Tools() != 2 {
		t.Fatalf("tools=%d", s.Tools())
	}
	ct, st := mcp.NewInMemoryTransports()
	ss, err := s.Connect(t.Context(), st)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ss.Close() })
	c, err := mcpclient.Dial(t.Context(), "test", "v0", ct)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestToolsAreNamespacedByInterface(t *testing.T) {
	c := connect(t)
	tools, err := c.ListTools(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if len(tools) != 2 {
		t.Fatalf("tools=%+v", tools)
	}
	byName := map[string]mcpclient.ToolDescriptor{}
	for _, d := range tools {
		byName[d.Name] = d
	}
	lp, ok := byName["minecraft__list_players"]
	if !ok || !lp.ReadOnly || !strings.Contains(lp.Description, "List online players") {
		t.Fatalf("list_players=%+v", lp)
	}
	if _, ok := byName["minecraft__say"]; !ok {
		t.Fatal("say missing")
	}
}

func TestCallRoutesThroughGateway(t *testing.T) {
	c := connect(t)
	res, err := c.CallTool(t.Context(), "minecraft__list_players", map[string]any{"verbose": true})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", res.Content)
	}
	var sc map[string]any
	if err := json.Unmarshal(res.StructuredContent, &sc); err != nil {
		t.Fatal(err)
	}
	if sc["interface"] != "minecraft" || sc["tool"] != "list_players" {
		t.Fatalf("structured=%v", sc)
	}
}

func TestGatewayErrorBecomesToolError(t *testing.T) {
	c := connect(t)
	res, err := c.CallTool(t.Context(), "minecraft__say", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(string(res.Content), errmodel.CodeConnectionFailed) {
		t.Fatalf("res=%+v content=%s", res, res.Content)
	}
}

func TestSplitToolName(t *testing.T) {
	iface, tool, ok := SplitToolName(ToolName("github", "list_users"))
	if !ok || iface != "github" || tool != "list_users" {
		t.Fatalf("%s %s %v", iface, tool, ok)
	}
}
