// Package builtin registers the adapters shipped with toolgate.
package builtin

import (
	"github.com/wilhg/toolgate/pkg/adapter"
	"github.com/wilhg/toolgate/pkg/adapter/graph"
	"github.com/wilhg/toolgate/pkg/adapter/mcpbridge"
	"github.com/wilhg/toolgate/pkg/adapter/rcon"
	"github.com/wilhg/toolgate/pkg/adapter/rest"
	"github.com/wilhg/toolgate/pkg/gateway"
)

// RegisterAll adds the rest, graph, rcon and mcp protocols to reg.
func RegisterAll(reg *gateway.Registry) error {
	for _, p := range []struct {
		name string
		f    adapter.Factory
	}{
		{rest.Protocol, rest.Factory},
		{graph.Protocol, graph.Factory},
		{rcon.Protocol, rcon.Factory},
		{mcpbridge.Protocol, mcpbridge.Factory},
	} {
		if err := reg.Register(p.name, p.f); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding every built-in protocol.
func NewRegistry() *gateway.Registry {
	reg := gateway.NewRegistry()
	if err := RegisterAll(reg); err != nil {
		panic(err)
	}
	return reg
}
