package transport

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/dd0wney/telecom-txcore/pkg/metrics"
	"github.com/dd0wney/telecom-txcore/pkg/topology"
)

// MemoryBus is an in-process RPC substrate for the simulated network. It
// delivers messages directly to registered handlers, injecting per-node
// latency from the topology provider plus whatever failure conditions the
// simulation harness configures (unreachable nodes, omission drop rates).
type MemoryBus struct {
	mu         sync.RWMutex
	handlers   map[topology.NodeID]Handler
	conditions map[topology.NodeID]*nodeCondition
	provider   topology.Provider
	metrics    *metrics.Registry
	rng        *rand.Rand
	rngMu      sync.Mutex
}

type nodeCondition struct {
	unreachable bool
	dropRate    float64
}

// NewMemoryBus creates a bus over the given topology. The metrics registry
// may be nil.
func NewMemoryBus(provider topology.Provider, reg *metrics.Registry) *MemoryBus {
	return &MemoryBus{
		handlers:   make(map[topology.NodeID]Handler),
		conditions: make(map[topology.NodeID]*nodeCondition),
		provider:   provider,
		metrics:    reg,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Register installs the handler that receives messages addressed to node.
func (b *MemoryBus) Register(node topology.NodeID, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[node] = handler
}

// SetUnreachable marks a node as unreachable (crash or partition simulation).
func (b *MemoryBus) SetUnreachable(node topology.NodeID, unreachable bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.condition(node).unreachable = unreachable
}

// SetDropRate sets the probability that a message to node is silently
// dropped (omission simulation). Rate is clamped to [0, 1].
func (b *MemoryBus) SetDropRate(node topology.NodeID, rate float64) {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.condition(node).dropRate = rate
}

// condition returns the mutable condition entry for node. Callers must hold
// the write lock.
func (b *MemoryBus) condition(node topology.NodeID) *nodeCondition {
	c, ok := b.conditions[node]
	if !ok {
		c = &nodeCondition{}
		b.conditions[node] = c
	}
	return c
}

// Send delivers msg to the target's handler after the simulated link
// latency. It honors the context deadline and reports drops as timeouts,
// which is how an omission failure looks from the caller's side.
func (b *MemoryBus) Send(ctx context.Context, target topology.NodeID, msg Message) (Response, error) {
	start := time.Now()

	b.mu.RLock()
	handler, hasHandler := b.handlers[target]
	cond := b.conditions[target]
	unreachable := cond != nil && cond.unreachable
	dropRate := 0.0
	if cond != nil {
		dropRate = cond.dropRate
	}
	b.mu.RUnlock()

	if unreachable {
		b.record(target, "error", start)
		return Response{}, ErrUnreachable
	}
	if !hasHandler {
		b.record(target, "error", start)
		return Response{}, ErrNoHandler
	}

	if delay := b.linkLatency(target); delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			b.record(target, "timeout", start)
			return Response{}, ErrTimeout
		case <-timer.C:
		}
	} else if ctx.Err() != nil {
		b.record(target, "timeout", start)
		return Response{}, ErrTimeout
	}

	if dropRate > 0 && b.roll() < dropRate {
		// Dropped message: the caller observes nothing until its deadline.
		select {
		case <-ctx.Done():
		}
		b.record(target, "timeout", start)
		return Response{}, ErrTimeout
	}

	resp, err := handler(msg)
	if err != nil {
		b.record(target, "error", start)
		return Response{}, err
	}
	b.record(target, "ok", start)
	return resp, nil
}

func (b *MemoryBus) linkLatency(target topology.NodeID) time.Duration {
	if b.provider == nil {
		return 0
	}
	m, ok := b.provider.Metrics(target)
	if !ok {
		return 0
	}
	return m.Latency
}

func (b *MemoryBus) roll() float64 {
	b.rngMu.Lock()
	defer b.rngMu.Unlock()
	return b.rng.Float64()
}

func (b *MemoryBus) record(target topology.NodeID, result string, start time.Time) {
	if b.metrics != nil {
		b.metrics.RecordRPC(target, result, time.Since(start))
	}
}
