package topology

import "fmt"

// NodeID identifies one of the five simulated telecom nodes.
type NodeID string

const (
	Edge1  NodeID = "Edge1"
	Edge2  NodeID = "Edge2"
	Core1  NodeID = "Core1"
	Core2  NodeID = "Core2"
	Cloud1 NodeID = "Cloud1"
)

// AllNodes returns the fixed node set in a stable order.
func AllNodes() []NodeID {
	return []NodeID{Edge1, Edge2, Core1, Core2, Cloud1}
}

// ParseNodeID validates and returns a NodeID from its string form.
func ParseNodeID(s string) (NodeID, error) {
	switch NodeID(s) {
	case Edge1, Edge2, Core1, Core2, Cloud1:
		return NodeID(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownNode, s)
}

// Layer is the tier a node belongs to in the simulated network.
type Layer string

const (
	LayerEdge  Layer = "edge"
	LayerCore  Layer = "core"
	LayerCloud Layer = "cloud"
)

// Layer returns the network tier of the node.
func (n NodeID) Layer() Layer {
	switch n {
	case Edge1, Edge2:
		return LayerEdge
	case Core1, Core2:
		return LayerCore
	default:
		return LayerCloud
	}
}

// FailureMode is the failure class a node is expected to exhibit.
type FailureMode string

const (
	FailureCrash     FailureMode = "crash"
	FailureOmission  FailureMode = "omission"
	FailureByzantine FailureMode = "byzantine"
)

// ExpectedFailureMode returns the primary failure mode the dataset assigns to
// each node. This is a constant characteristic, not observed state: Edge1 and
// Core2 crash, Edge2 and Cloud1 drop messages, Core1 misbehaves arbitrarily.
func (n NodeID) ExpectedFailureMode() FailureMode {
	switch n {
	case Edge1, Core2:
		return FailureCrash
	case Edge2, Cloud1:
		return FailureOmission
	default:
		return FailureByzantine
	}
}

// StructurallyCritical reports whether the node sits on a path the rest of
// the topology depends on. The two core nodes carry all edge-to-cloud
// traffic, so their loss propagates.
func (n NodeID) StructurallyCritical() bool {
	return n == Core1 || n == Core2
}
