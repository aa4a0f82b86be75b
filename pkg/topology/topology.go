package topology

import (
	"errors"
	"sync"
	"time"
)

var ErrUnknownNode = errors.New("unknown node ID")

// NodeMetrics is the externally supplied performance profile of a node. The
// engine consumes these facts; it never computes them.
type NodeMetrics struct {
	Latency    time.Duration
	Throughput float64 // messages per second
	CPU        float64 // utilization fraction, 0..1
	Memory     float64 // utilization fraction, 0..1
}

// Provider hands out node metrics and connectivity. Implementations are
// expected to be safe for concurrent use.
type Provider interface {
	Metrics(node NodeID) (NodeMetrics, bool)
	Neighbors(node NodeID) []NodeID
	Nodes() []NodeID
}

// StaticProvider is a mutable in-memory Provider seeded with the five-node
// telecom topology. The simulation harness updates metrics as it injects
// latency; the engine only reads.
type StaticProvider struct {
	mu      sync.RWMutex
	metrics map[NodeID]NodeMetrics
	links   map[NodeID][]NodeID
}

// NewStaticProvider builds the default two-edge, two-core, one-cloud
// topology: each edge node connects to both cores, both cores connect to the
// cloud and to each other.
func NewStaticProvider() *StaticProvider {
	p := &StaticProvider{
		metrics: make(map[NodeID]NodeMetrics, 5),
		links: map[NodeID][]NodeID{
			Edge1:  {Core1, Core2},
			Edge2:  {Core1, Core2},
			Core1:  {Edge1, Edge2, Core2, Cloud1},
			Core2:  {Edge1, Edge2, Core1, Cloud1},
			Cloud1: {Core1, Core2},
		},
	}
	for _, n := range AllNodes() {
		p.metrics[n] = defaultMetrics(n)
	}
	return p
}

func defaultMetrics(n NodeID) NodeMetrics {
	switch n.Layer() {
	case LayerEdge:
		return NodeMetrics{Latency: 5 * time.Millisecond, Throughput: 500, CPU: 0.3, Memory: 0.4}
	case LayerCore:
		return NodeMetrics{Latency: 2 * time.Millisecond, Throughput: 2000, CPU: 0.5, Memory: 0.5}
	default:
		return NodeMetrics{Latency: 20 * time.Millisecond, Throughput: 5000, CPU: 0.2, Memory: 0.3}
	}
}

// Metrics returns the current metrics for a node.
func (p *StaticProvider) Metrics(node NodeID) (NodeMetrics, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.metrics[node]
	return m, ok
}

// SetMetrics replaces the metrics for a node.
func (p *StaticProvider) SetMetrics(node NodeID, m NodeMetrics) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics[node] = m
}

// Neighbors returns the nodes directly connected to the given node.
func (p *StaticProvider) Neighbors(node NodeID) []NodeID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	links := p.links[node]
	out := make([]NodeID, len(links))
	copy(out, links)
	return out
}

// Nodes returns every node known to the provider, in stable topology order.
func (p *StaticProvider) Nodes() []NodeID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	nodes := make([]NodeID, 0, len(p.metrics))
	for _, n := range AllNodes() {
		if _, ok := p.metrics[n]; ok {
			nodes = append(nodes, n)
		}
	}
	return nodes
}
