package fault

import (
	"github.com/dd0wney/telecom-txcore/pkg/logging"
	"github.com/dd0wney/telecom-txcore/pkg/topology"
)

// Cascade risk contributions per detected failure type.
const (
	crashRiskIncrease     = 0.4
	omissionRiskIncrease  = 0.2
	byzantineRiskIncrease = 0.6
	partitionRiskIncrease = 0.3
)

// bumpCascadeRisk raises a node's cascade risk score by the contribution of
// the detected failure type, capped at 1.0.
func (m *Manager) bumpCascadeRisk(node topology.NodeID, ft FailureType) {
	var increase float64
	switch ft {
	case Crash:
		increase = crashRiskIncrease
	case Omission:
		increase = omissionRiskIncrease
	case Byzantine:
		increase = byzantineRiskIncrease
	case NetworkPartition:
		increase = partitionRiskIncrease
	default:
		increase = 0.1
	}

	m.mu.Lock()
	risk := m.cascadeRisk[node] + increase
	if risk > 1.0 {
		risk = 1.0
	}
	m.cascadeRisk[node] = risk
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetCascadeRisk(node, risk)
	}
}

// PreventCascadingFailure scores every non-failed node for cascade risk and
// proactively isolates those above the threshold before they are themselves
// observed to fail. Load from the failed nodes is redistributed away.
func (m *Manager) PreventCascadingFailure(failedNodes []topology.NodeID, riskThreshold float64) {
	m.logger.Info("assessing cascade risk",
		logging.Count(len(failedNodes)),
		logging.Float64("threshold", riskThreshold))

	failed := make(map[topology.NodeID]struct{}, len(failedNodes))
	for _, node := range failedNodes {
		failed[node] = struct{}{}
	}

	for _, node := range m.provider.Nodes() {
		if _, isFailed := failed[node]; isFailed {
			continue
		}
		risk := cascadeRiskFor(node, len(failedNodes))

		m.mu.Lock()
		m.cascadeRisk[node] = risk
		m.mu.Unlock()

		if m.metrics != nil {
			m.metrics.SetCascadeRisk(node, risk)
		}
		if risk > riskThreshold {
			m.isolate(node)
		}
	}

	m.redistributeLoad(failedNodes)
}

// cascadeRiskFor scores a surviving node: a base risk, plus 0.2 for every
// node already failed, plus 0.3 if the node sits on a structurally critical
// path. Capped at 1.0.
func cascadeRiskFor(node topology.NodeID, failedCount int) float64 {
	risk := 0.1 + 0.2*float64(failedCount)
	if node.StructurallyCritical() {
		risk += 0.3
	}
	if risk > 1.0 {
		risk = 1.0
	}
	return risk
}

// isolate excludes a node from new work without marking it failed.
func (m *Manager) isolate(node topology.NodeID) {
	m.mu.Lock()
	_, already := m.isolated[node]
	m.isolated[node] = struct{}{}
	quarantined, isolated := len(m.quarantined), len(m.isolated)
	m.mu.Unlock()

	if !already {
		m.logger.Info("isolating node to prevent cascade failure", logging.Node(string(node)))
	}
	if m.metrics != nil {
		m.metrics.UpdateContainment(quarantined, isolated)
	}
}

// redistributeLoad steers traffic from failed nodes to usable ones.
func (m *Manager) redistributeLoad(failedNodes []topology.NodeID) {
	if len(failedNodes) == 0 {
		return
	}

	m.mu.RLock()
	targets := make([]topology.NodeID, 0)
	for _, node := range m.provider.Nodes() {
		if m.usableLocked(node) {
			targets = append(targets, node)
		}
	}
	m.mu.RUnlock()

	m.logger.Info("redistributing load from failed nodes",
		logging.Count(len(failedNodes)),
		logging.Int("targets", len(targets)))
}
