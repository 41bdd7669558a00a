// Package mcpclient wraps the official MCP SDK client session behind the small
// surface the bridge adapter needs: paginated discovery, tool calls and ping.
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"

	mcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Transport kinds accepted by NewTransport.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
	TransportSSE   = "sse"
)

// ToolDescriptor is a discovered tool.
type ToolDescriptor struct {
	Name         string
	Description  string
	InputSchema  []byte
	OutputSchema []byte
	ReadOnly     bool
	Idempotent   bool
}

// CallResult is a tool result in its wire shape.
type CallResult struct {
	Content           json.RawMessage `json:"content"`
	StructuredContent json.RawMessage `json:"structured_content,omitempty"`
	IsError           bool            `json:"is_error"`
}

// Client defines the MCP client capabilities the gateway uses.
type Client interface {
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	CallTool(ctx context.Context, name string, args map[string]any) (CallResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// TransportOptions describes how to reach a tool host.
type TransportOptions struct {
	Kind       string
	Command    string
	Args       []string
	Env        []string // extra KEY=VALUE pairs for stdio hosts
	URL        string
	HTTPClient *http.Client
}

// NewTransport builds the SDK transport for opts.
func NewTransport(opts TransportOptions) (mcp.Transport, error) {
	switch opts.Kind {
	case "", TransportStdio:
		if opts.Command == "" {
			return nil, fmt.Errorf("mcpclient: stdio transport requires a command")
		}
		cmd := exec.Command(opts.Command, opts.Args...)
		if len(opts.Env) > 0 {
			cmd.Env = append(os.Environ(), opts.Env...)
		}
		cmd.Stderr = os.Stderr
		return &mcp.CommandTransport{Command: cmd}, nil
	case TransportHTTP:
		if opts.URL == "" {
			return nil, fmt.Errorf("mcpclient: http transport requires a url")
		}
		return &mcp.StreamableClientTransport{Endpoint: opts.URL, HTTPClient: opts.HTTPClient}, nil
	case TransportSSE:
		if opts.URL == "" {
			return nil, fmt.Errorf("mcpclient: sse transport requires a url")
		}
		return &mcp.SSEClientTransport{Endpoint: opts.URL, HTTPClient: opts.HTTPClient}, nil
	default:
		return nil, fmt.Errorf("mcpclient: unknown transport %q", opts.Kind)
	}
}

type sdkClient struct {
	session *mcp.ClientSession
}

// Dial performs the initialize handshake over t and returns a connected client.
func Dial(ctx context.Context, name, version string, t mcp.Transport) (Client, error) {
	c := mcp.NewClient(&mcp.Implementation{Name: name, Version: version}, nil)
	session, err := c.Connect(ctx, t, nil)
	if err != nil {
		return nil, err
	}
	return &sdkClient{session: session}, nil
}

// ListTools follows pagination until the host reports no further cursor.
func (s *sdkClient) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	var (
		out    []ToolDescriptor
		cursor string
	)
	for {
		res, err := s.session.ListTools(ctx, &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, err
		}
		for _, t := range res.Tools {
			d := ToolDescriptor{Name: t.Name, Description: t.Description}
			if t.InputSchema != nil {
				if d.InputSchema, err = json.Marshal(t.InputSchema); err != nil {
					return nil, fmt.Errorf("mcpclient: tool %s input schema: %w", t.Name, err)
				}
			}
			if t.OutputSchema != nil {
				if d.OutputSchema, err = json.Marshal(t.OutputSchema); err != nil {
					return nil, fmt.Errorf("mcpclient: tool %s output schema: %w", t.Name, err)
				}
			}
			if t.Annotations != nil {
				d.ReadOnly = t.Annotations.ReadOnlyHint
				d.Idempotent = t.Annotations.IdempotentHint
			}
			out = append(out, d)
		}
		if res.NextCursor == "" {
			return out, nil
		}
		cursor = res.NextCursor
	}
}

func (s *sdkClient) CallTool(ctx context.Context, name string, args map[string]any) (CallResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	res, err := s.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return CallResult{}, err
	}
	content := json.RawMessage("[]")
	if len(res.Content) > 0 {
		if content, err = json.Marshal(res.Content); err != nil {
			return CallResult{}, fmt.Errorf("mcpclient: encode content: %w", err)
		}
	}
	out := CallResult{Content: content, IsError: res.IsError}
	if res.StructuredContent != nil {
		if out.StructuredContent, err = json.Marshal(res.StructuredContent); err != nil {
			return CallResult{}, fmt.Errorf("mcpclient: encode structured content: %w", err)
		}
	}
	return out, nil
}

func (s *sdkClient) Ping(ctx context.Context) error {
	return s.session.Ping(ctx, nil)
}

func (s *sdkClient) Close() error { return s.session.Close() }
