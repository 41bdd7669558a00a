package gateway

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wilhg/toolgate/pkg/adapter"
	"github.com/wilhg/toolgate/pkg/errmodel"
)

// Registry maps protocol names to adapter factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]adapter.Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]adapter.Factory)}
}

// Register adds a factory for protocol. Rejections are InvalidConfig.
func (r *Registry) Register(protocol string, f adapter.Factory) error {
	if protocol == "" {
		return errmodel.InvalidConfig("protocol name is required", map[string]any{"field": "protocol"})
	}
	if f == nil {
		return errmodel.InvalidConfig(fmt.Sprintf("factory for %q is nil", protocol), map[string]any{"field": "factory", "protocol": protocol})
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[protocol]; exists {
		return errmodel.InvalidConfig(fmt.Sprintf("protocol %q already registered", protocol), map[string]any{"field": "protocol", "protocol": protocol})
	}
	r.factories[protocol] = f
	return nil
}

// Lookup returns the factory for protocol.
func (r *Registry) Lookup(protocol string) (adapter.Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[protocol]
	return f, ok
}

// Protocols returns the registered protocol names, sorted.
func (r *Registry) Protocols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for p := range r.factories {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
