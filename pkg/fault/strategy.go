package fault

import (
	"github.com/dd0wney/telecom-txcore/pkg/logging"
	"github.com/dd0wney/telecom-txcore/pkg/topology"
)

// ReplicationType selects how replicas coordinate.
type ReplicationType string

const (
	// Active replication: all replicas process requests simultaneously.
	Active ReplicationType = "ACTIVE"
	// Passive replication: the primary processes requests, backups receive
	// state updates.
	Passive ReplicationType = "PASSIVE"
	// ByzantineTolerant replication: replicas reach agreement despite up to
	// f arbitrary failures among 3f+1 nodes.
	ByzantineTolerant ReplicationType = "BYZANTINE_TOLERANT"
)

// ConsistencyLevel selects when an operation is considered complete.
type ConsistencyLevel string

const (
	// Strong consistency: all replicas must agree before the operation
	// completes.
	Strong ConsistencyLevel = "STRONG"
	// Eventual consistency: updates propagate to replicas asynchronously.
	Eventual ConsistencyLevel = "EVENTUAL"
)

// ReplicationStrategy is a computed value object describing how a service
// should be replicated given the current failure picture. It is derived
// fresh on every request, never cached.
type ReplicationStrategy struct {
	Type           ReplicationType
	Factor         int
	PreferredNodes []topology.NodeID
	Consistency    ConsistencyLevel
	CrossLayer     bool
}

// MinimumNodes is the node count required to honor the strategy: 3f+1 for
// Byzantine-tolerant replication, otherwise the replication factor itself.
func (s ReplicationStrategy) MinimumNodes() int {
	if s.Type == ByzantineTolerant {
		return 3*s.Factor + 1
	}
	return s.Factor
}

// ReplicationStrategyFor derives the replication strategy for a service
// class from the current quarantine and health state. Preferred nodes never
// include failed, quarantined, or isolated nodes.
func (m *Manager) ReplicationStrategyFor(service ServiceClass) ReplicationStrategy {
	m.mu.RLock()
	healthy := m.healthyNodeCountLocked()
	hasByzantine := len(m.quarantined) > 0
	m.mu.RUnlock()

	var (
		rtype       ReplicationType
		consistency ConsistencyLevel
		factor      int
	)
	switch {
	case hasByzantine && m.cfg.ByzantineDetection:
		rtype = ByzantineTolerant
		consistency = Strong
		factor = m.cfg.BftToleranceLevel
		if h := healthy / 3; h < factor {
			factor = h
		}
	case service == ServiceCritical:
		rtype = Active
		consistency = Strong
		factor = 3
		if healthy < factor {
			factor = healthy
		}
	default:
		rtype = Passive
		consistency = Eventual
		factor = 2
		if healthy < factor {
			factor = healthy
		}
	}
	if factor < 1 {
		factor = 1
	}

	strategy := ReplicationStrategy{
		Type:           rtype,
		Factor:         factor,
		PreferredNodes: m.selectPreferredNodes(factor),
		Consistency:    consistency,
		CrossLayer:     true,
	}

	m.logger.Debug("derived replication strategy",
		logging.String("service", string(service)),
		logging.String("type", string(strategy.Type)),
		logging.Count(strategy.Factor))
	return strategy
}

// selectPreferredNodes picks up to count usable nodes in stable topology
// order.
func (m *Manager) selectPreferredNodes(count int) []topology.NodeID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	preferred := make([]topology.NodeID, 0, count)
	for _, node := range m.provider.Nodes() {
		if len(preferred) == count {
			break
		}
		if !m.usableLocked(node) {
			continue
		}
		preferred = append(preferred, node)
	}
	return preferred
}

// usableLocked reports whether a node may carry new work.
func (m *Manager) usableLocked(node topology.NodeID) bool {
	if _, failed := m.failures[node]; failed {
		return false
	}
	if _, q := m.quarantined[node]; q {
		return false
	}
	if _, iso := m.isolated[node]; iso {
		return false
	}
	return true
}

// healthyNodeCountLocked counts nodes that are neither failed nor
// quarantined.
func (m *Manager) healthyNodeCountLocked() int {
	healthy := 0
	for _, node := range m.provider.Nodes() {
		if _, failed := m.failures[node]; failed {
			continue
		}
		if _, q := m.quarantined[node]; q {
			continue
		}
		healthy++
	}
	return healthy
}
