// Package adapter defines the uniform capability contract every protocol
// adapter implements, plus the helpers adapters share: connection lifecycle,
// configuration accessors and argument validation.
//
// An adapter is created by its Factory, connected once with its Config and then
// shared by concurrent callers until Disconnect. Implementations live in the
// subpackages rest, graph, rcon and mcpbridge.
package adapter

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
)

// Operation is the self-declared metadata of one capability tool.
// Idempotent is advisory for callers deciding retry safety; it is never verified.
type Operation struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ReadOnly    bool   `json:"read_only"`
	Idempotent  bool   `json:"idempotent"`
	// InputSchema is an optional JSON Schema (draft 2020-12) for the tool arguments.
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Health is the result of a liveness probe.
type Health struct {
	Connected bool    `json:"connected"`
	LatencyMs *uint64 `json:"latency_ms,omitempty"`
	Message   string  `json:"message"`
}

// Adapter is the capability interface for one external protocol.
type Adapter interface {
	// Protocol returns the protocol name the adapter implements (e.g., "rest").
	Protocol() string
	// Connect validates cfg, resolves credentials, establishes the transport and
	// performs any handshake. Calling it on a connected adapter is a no-op.
	Connect(ctx context.Context, cfg Config) error
	// Execute performs one logical operation. Unknown tools fail with OperationNotSupported.
	Execute(ctx context.Context, tool string, args map[string]any) (any, error)
	// Disconnect releases the transport and clears credentials. It always succeeds.
	Disconnect(ctx context.Context) error
	// HealthCheck performs a cheap liveness probe without mutating adapter state.
	HealthCheck(ctx context.Context) (Health, error)
	// SupportedOperations lists static or discovered capabilities in a stable order.
	SupportedOperations() []Operation
	// IsConnected is a pure state query.
	IsConnected() bool
}

// Deps carries shared collaborators handed to adapters at construction.
type Deps struct {
	Logger *slog.Logger
}

// LoggerOrDiscard returns d.Logger, or a logger that drops everything.
func (d Deps) LoggerOrDiscard() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Factory constructs a fresh, unconnected adapter.
type Factory func(deps Deps) Adapter

// Latency converts elapsed milliseconds into the optional Health field.
func Latency(ms int64) *uint64 {
	if ms < 0 {
		ms = 0
	}
	v := uint64(ms)
	return &v
}
