// Package journal records routed tool invocations.
package journal

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Invocation outcomes.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// DefaultLimit is used by List when the filter carries no limit.
const DefaultLimit = 100

// Invocation is one routed call.
type Invocation struct {
	ID        string    `json:"id"`
	Interface string    `json:"interface"`
	Protocol  string    `json:"protocol"`
	Tool      string    `json:"tool"`
	Status    string    `json:"status"`
	ErrorCode string    `json:"error_code,omitempty"`
	LatencyMs int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Interface string
	Tool      string
	Limit     int
}

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultLimit
	}
	return f.Limit
}

// Journal stores invocations. List returns newest first.
type Journal interface {
	Record(ctx context.Context, inv Invocation) error
	List(ctx context.Context, f Filter) ([]Invocation, error)
}

// Memory is an in-process Journal bounded to the most recent entries. It is a
// fixed ring: once full, each Record overwrites the oldest entry in place.
type Memory struct {
	mu   sync.Mutex
	max  int
	ring []Invocation
	next int // slot the next Record writes once the ring is full
}

// NewMemory returns a Memory journal keeping at most max entries (DefaultLimit*10 when max <= 0).
func NewMemory(max int) *Memory {
	if max <= 0 {
		max = DefaultLimit * 10
	}
	return &Memory{max: max}
}

func (m *Memory) Record(_ context.Context, inv Invocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.ring) < m.max {
		m.ring = append(m.ring, inv)
		return nil
	}
	m.ring[m.next] = inv
	m.next = (m.next + 1) % m.max
	return nil
}

func (m *Memory) List(_ context.Context, f Filter) ([]Invocation, error) {
	m.mu.Lock()
	n := len(m.ring)
	out := make([]Invocation, 0, n)
	// Walk newest to oldest; the newest entry sits just before next.
	for i := 1; i <= n; i++ {
		inv := m.ring[(m.next-i+n)%n]
		if f.Interface != "" && inv.Interface != f.Interface {
			continue
		}
		if f.Tool != "" && inv.Tool != f.Tool {
			continue
		}
		out = append(out, inv)
	}
	m.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if n := f.limit(); len(out) > n {
		out = out[:n]
	}
	return out, nil
}
