// Package gateway instantiates adapters from configuration and routes
// (interface, tool, args) calls to them.
//
// Interfaces are opened once at startup; afterwards the instance map is only
// read, so Route, Operations and Health are safe for concurrent use.
package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wilhg/toolgate/pkg/adapter"
	"github.com/wilhg/toolgate/pkg/errmodel"
	"github.com/wilhg/toolgate/pkg/journal"
)

// InterfaceConfig names one adapter instance to open.
type InterfaceConfig struct {
	Name     string         `yaml:"name" toml:"name" json:"name"`
	Protocol string         `yaml:"protocol" toml:"protocol" json:"protocol"`
	Config   adapter.Config `yaml:"config" toml:"config" json:"config"`
}

// InterfaceInfo describes an opened interface.
type InterfaceInfo struct {
	Name      string `json:"name"`
	Protocol  string `json:"protocol"`
	Connected bool   `json:"connected"`
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the gateway logger; adapters receive a child of it.
func WithLogger(l *slog.Logger) Option { return func(g *Gateway) { g.logger = l } }

// WithJournal records every routed call in j.
func WithJournal(j journal.Journal) Option { return func(g *Gateway) { g.journal = j } }

// WithTracer overrides the tracer used for gateway spans.
func WithTracer(t trace.Tracer) Option { return func(g *Gateway) { g.tracer = t } }

// Gateway owns the opened adapter instances.
type Gateway struct {
	reg     *Registry
	logger  *slog.Logger
	journal journal.Journal
	tracer  trace.Tracer
	now     func() time.Time

	instances map[string]*instance
}

type instance struct {
	name     string
	protocol string
	adapter  adapter.Adapter
}

// New returns a gateway creating adapters from reg.
func New(reg *Registry, opts ...Option) *Gateway {
	g := &Gateway{
		reg:       reg,
		now:       time.Now,
		instances: make(map[string]*instance),
	}
	for _, o := range opts {
		o(g)
	}
	if g.logger == nil {
		g.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if g.tracer == nil {
		g.tracer = otel.Tracer("gateway")
	}
	g.logger = g.logger.With("component", "gateway")
	return g
}

// Open instantiates and connects each interface. Names default to the
// protocol and must be unique. On failure the interfaces opened by this call
// are disconnected again and the error names the failing interface.
func (g *Gateway) Open(ctx context.Context, ifaces ...InterfaceConfig) (err error) {
	ctx, span := g.tracer.Start(ctx, "Gateway.Open", trace.WithAttributes(attribute.Int("interfaces", len(ifaces))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	pending := make(map[string]*instance, len(ifaces))
	order := make([]string, 0, len(ifaces))
	for _, ic := range ifaces {
		name := ic.Name
		if name == "" {
			name = ic.Protocol
		}
		if name == "" {
			return errmodel.InvalidConfig("interface needs a name or protocol", map[string]any{"field": "protocol"})
		}
		if _, dup := pending[name]; dup {
			return errmodel.InvalidConfig(fmt.Sprintf("duplicate interface name %q", name), map[string]any{"field": "name", "value": name})
		}
		if _, dup := g.instances[name]; dup {
			return errmodel.InvalidConfig(fmt.Sprintf("interface %q already open", name), map[string]any{"field": "name", "value": name})
		}
		factory, ok := g.reg.Lookup(ic.Protocol)
		if !ok {
			return errmodel.InvalidConfig(fmt.Sprintf("unknown protocol %q", ic.Protocol), map[string]any{
				"field": "protocol", "value": ic.Protocol, "interface": name,
			})
		}
		a := factory(adapter.Deps{Logger: g.logger.With("interface", name)})
		pending[name] = &instance{name: name, protocol: ic.Protocol, adapter: a}
		order = append(order, name)
	}

	for i, name := range order {
		inst := pending[name]
		cfg := ifaces[i].Config
		if cfg == nil {
			cfg = adapter.Config{}
		}
		if err := inst.adapter.Connect(ctx, cfg); err != nil {
			for _, done := range order[:i] {
				_ = pending[done].adapter.Disconnect(ctx)
			}
			g.logger.ErrorContext(ctx, "interface connect failed", "interface", name, "protocol", inst.protocol, "error", err)
			return fmt.Errorf("open interface %s: %w", name, err)
		}
		g.logger.InfoContext(ctx, "interface opened", "interface", name, "protocol", inst.protocol)
	}
	for name, inst := range pending {
		g.instances[name] = inst
	}
	return nil
}

func (g *Gateway) lookup(name string) (*instance, error) {
	inst, ok := g.instances[name]
	if !ok {
		return nil, errmodel.OperationNotSupported(fmt.Sprintf("unknown interface %q", name), map[string]any{"interface": name})
	}
	return inst, nil
}

// Route forwards one call to the named interface. It adds no retries and does
// not interpret the tool.
func (g *Gateway) Route(ctx context.Context, name, tool string, args map[string]any) (result any, err error) {
	ctx, span := g.tracer.Start(ctx, "Gateway.Route", trace.WithAttributes(
		attribute.String("gateway.interface", name),
		attribute.String("gateway.tool", tool),
	))
	defer span.End()

	inst, err := g.lookup(name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("gateway.protocol", inst.protocol))

	start := g.now()
	if !inst.adapter.IsConnected() {
		err = errmodel.ConnectionFailed(fmt.Sprintf("interface %q is not connected", name), map[string]any{"interface": name, "protocol": inst.protocol})
	} else {
		if args == nil {
			args = map[string]any{}
		}
		result, err = inst.adapter.Execute(ctx, tool, args)
	}
	elapsed := g.now().Sub(start)

	inv := journal.Invocation{
		ID:        uuid.NewString(),
		Interface: name,
		Protocol:  inst.protocol,
		Tool:      tool,
		Status:    journal.StatusOK,
		LatencyMs: elapsed.Milliseconds(),
		CreatedAt: start.UTC(),
	}
	if err != nil {
		inv.Status = journal.StatusError
		if e := errmodel.From(err); e != nil {
			inv.ErrorCode = e.Code
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.WarnContext(ctx, "route failed", "interface", name, "tool", tool, "code", inv.ErrorCode, "latency_ms", inv.LatencyMs)
	} else {
		g.logger.DebugContext(ctx, "routed", "interface", name, "tool", tool, "latency_ms", inv.LatencyMs)
	}
	g.record(ctx, inv)
	return result, err
}

func (g *Gateway) record(ctx context.Context, inv journal.Invocation) {
	if g.journal == nil {
		return
	}
	if err := g.journal.Record(context.WithoutCancel(ctx), inv); err != nil {
		g.logger.WarnContext(ctx, "journal record failed", "invocation", inv.ID, "error", err)
	}
}

// Operations lists the capabilities of the named interface.
func (g *Gateway) Operations(name string) ([]adapter.Operation, error) {
	inst, err := g.lookup(name)
	if err != nil {
		return nil, err
	}
	return inst.adapter.SupportedOperations(), nil
}

// Health probes the named interface.
func (g *Gateway) Health(ctx context.Context, name string) (adapter.Health, error) {
	inst, err := g.lookup(name)
	if err != nil {
		return adapter.Health{}, err
	}
	return inst.adapter.HealthCheck(ctx)
}

// Interfaces lists the opened interfaces sorted by name.
func (g *Gateway) Interfaces() []InterfaceInfo {
	out := make([]InterfaceInfo, 0, len(g.instances))
	for _, inst := range g.instances {
		out = append(out, InterfaceInfo{Name: inst.name, Protocol: inst.protocol, Connected: inst.adapter.IsConnected()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Journal returns the configured journal, or nil.
func (g *Gateway) Journal() journal.Journal { return g.journal }

// Close disconnects every interface.
func (g *Gateway) Close(ctx context.Context) error {
	for name, inst := range g.instances {
		if err := inst.adapter.Disconnect(ctx); err != nil {
			g.logger.WarnContext(ctx, "disconnect", "interface", name, "error", err)
		}
	}
	return nil
}
