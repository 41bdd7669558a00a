// Package mcpserver exposes the gateway's interfaces as MCP tools so an agent
// runtime speaking MCP can reach every opened interface through one server.
// Tool names are "<interface>__<tool>".
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	mcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wilhg/toolgate/pkg/adapter"
	"github.com/wilhg/toolgate/pkg/errmodel"
	"github.com/wilhg/toolgate/pkg/gateway"
)

// Separator joins interface and tool names.
const Separator = "__"

// Router is the part of the gateway the server needs.
type Router interface {
	Interfaces() []gateway.InterfaceInfo
	Operations(name string) ([]adapter.Operation, error)
	Route(ctx context.Context, name, tool string, args map[string]any) (any, error)
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithVersion sets the implementation version reported at initialize.
func WithVersion(v string) Option { return func(s *Server) { s.version = v } }

// Server is an MCP server backed by a Router.
type Server struct {
	srv     *mcp.Server
	router  Router
	logger  *slog.Logger
	version string
	tools   int
}

// New builds the server and registers one tool per interface operation.
// Interfaces are read once; the gateway does not change after Open.
func New(router Router, opts ...Option) (*Server, error) {
	s := &Server{router: router, version: "dev"}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s.logger = s.logger.With("component", "mcpserver")
	s.srv = mcp.NewServer(&mcp.Implementation{Name: "toolgate", Version: s.version}, nil)

	for _, iface := range router.Interfaces() {
		ops, err := router.Operations(iface.Name)
		if err != nil {
			return nil, err
		}
		for _, op := range ops {
			tool, err := toolFor(iface.Name, op)
			if err != nil {
				return nil, err
			}
			s.srv.AddTool(tool, s.handler(iface.Name, op.Name))
			s.tools++
		}
	}
	return s, nil
}

// ToolName returns the exported name of tool on iface.
func ToolName(iface, tool string) string { return iface + Separator + tool }

func toolFor(iface string, op adapter.Operation) (*mcp.Tool, error) {
	schema := map[string]any{"type": "object"}
	if len(op.InputSchema) > 0 {
		if err := json.Unmarshal(op.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("tool %s: input schema: %w", ToolName(iface, op.Name), err)
		}
		if schema["type"] != "object" {
			schema = map[string]any{"type": "object"}
		}
	}
	desc := op.Description
	if desc == "" {
		desc = op.Name
	}
	return &mcp.Tool{
		Name:        ToolName(iface, op.Name),
		Description: fmt.Sprintf("[%s] %s", iface, desc),
		InputSchema: schema,
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: op.ReadOnly, IdempotentHint: op.Idempotent},
	}, nil
}

// handler routes a call. Gateway errors become tool results with IsError set
// so the calling model can see them.
func (s *Server) handler(iface, tool string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := map[string]any{}
		if req.Params != nil && len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return errorResult(errmodel.InvalidArguments("arguments must be a JSON object", map[string]any{"tool": tool}, err)), nil
			}
		}
		res, err := s.router.Route(ctx, iface, tool, args)
		if err != nil {
			s.logger.DebugContext(ctx, "tool call failed", "interface", iface, "tool", tool, "error", err)
			return errorResult(err), nil
		}
		text, err := json.Marshal(res)
		if err != nil {
			return errorResult(errmodel.ProtocolError("result is not JSON encodable", map[string]any{"tool": tool}, err)), nil
		}
		out := &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(text)}}}
		if m, ok := res.(map[string]any); ok {
			out.StructuredContent = m
		}
		return out, nil
	}
}

func errorResult(err error) *mcp.CallToolResult {
	b, _ := json.Marshal(errmodel.From(err))
	return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: string(b)}}}
}

// SplitToolName reverses ToolName.
func SplitToolName(name string) (iface, tool string, ok bool) {
	return strings.Cut(name, Separator)
}

// Tools returns the number of registered tools.
func (s *Server) Tools() int { return s.tools }

// Connect serves a single session over t.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.srv.Connect(ctx, t, nil)
}

// ServeStdio serves one session over stdin/stdout until the client disconnects or ctx ends.
func (s *Server) ServeStdio(ctx context.Context) error {
	s.logger.InfoContext(ctx, "serving mcp over stdio", "tools", s.tools)
	return s.srv.Run(ctx, &mcp.StdioTransport{})
}
