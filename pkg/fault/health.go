package fault

import (
	"fmt"
	"sort"
	"time"

	"github.com/dd0wney/telecom-txcore/pkg/topology"
)

// HealthState is a node's operational classification.
type HealthState string

const (
	Healthy   HealthState = "HEALTHY"   // operating normally
	Degraded  HealthState = "DEGRADED"  // operational with reduced performance
	Unhealthy HealthState = "UNHEALTHY" // significant issues but still responsive
	Failed    HealthState = "FAILED"    // not responding
)

// HealthStatus is a point-in-time health reading for one node.
type HealthStatus struct {
	State       HealthState
	Message     string
	LastUpdated time.Time
	Score       float64 // 0.0 to 1.0
}

// Operational reports whether the node can still carry traffic.
func (h HealthStatus) Operational() bool {
	return h.State == Healthy || h.State == Degraded
}

// IsHealthy reports whether the node is fully healthy.
func (h HealthStatus) IsHealthy() bool {
	return h.State == Healthy
}

// ProbeFunc supplies a health reading for a node. The simulation harness
// installs probes that reflect injected failures; without one the manager
// derives health from its own failure records.
type ProbeFunc func(node topology.NodeID) HealthStatus

// SystemStatus classifies the overall system.
type SystemStatus string

const (
	SystemHealthy  SystemStatus = "HEALTHY"
	SystemDegraded SystemStatus = "DEGRADED"
	SystemCritical SystemStatus = "CRITICAL"
	SystemFailed   SystemStatus = "FAILED"
)

// CascadeRiskLevel buckets the worst per-node cascade risk score.
type CascadeRiskLevel string

const (
	RiskLow      CascadeRiskLevel = "LOW"
	RiskMedium   CascadeRiskLevel = "MEDIUM"
	RiskHigh     CascadeRiskLevel = "HIGH"
	RiskCritical CascadeRiskLevel = "CRITICAL"
)

// SystemHealthAssessment is a recomputed-on-demand snapshot of system health.
// It is never maintained incrementally, to avoid drift.
type SystemHealthAssessment struct {
	Status        SystemStatus
	NodeHealth    map[topology.NodeID]HealthStatus
	FailedNodes   []topology.NodeID
	DegradedNodes []topology.NodeID
	Reliability   float64 // mean per-node health score
	AssessedAt    time.Time
	Alerts        []string
	CascadeRisk   CascadeRiskLevel
}

// AssessSystemHealth classifies every node and the system as a whole.
// FAILED if at least half the nodes are failed, CRITICAL if more than one
// node failed or more than two degraded, DEGRADED if anything is wrong at
// all, HEALTHY otherwise.
func (m *Manager) AssessSystemHealth() SystemHealthAssessment {
	nodes := m.provider.Nodes()

	nodeHealth := make(map[topology.NodeID]HealthStatus, len(nodes))
	var failed, degraded []topology.NodeID
	var alerts []string
	total := 0.0

	for _, node := range nodes {
		h := m.healthOf(node)
		nodeHealth[node] = h
		total += h.Score

		if !h.Operational() {
			failed = append(failed, node)
			alerts = append(alerts, fmt.Sprintf("Node %s is not operational: %s", node, h.Message))
		} else if !h.IsHealthy() {
			degraded = append(degraded, node)
			alerts = append(alerts, fmt.Sprintf("Node %s is degraded: %s", node, h.Message))
		}
	}

	m.mu.RLock()
	for node := range m.quarantined {
		alerts = append(alerts, fmt.Sprintf("Node %s is quarantined due to Byzantine behavior", node))
	}
	maxRisk := 0.0
	for _, risk := range m.cascadeRisk {
		if risk > maxRisk {
			maxRisk = risk
		}
	}
	m.mu.RUnlock()

	sort.Strings(alerts)

	reliability := 0.0
	if len(nodes) > 0 {
		reliability = total / float64(len(nodes))
	}

	return SystemHealthAssessment{
		Status:        overallStatus(len(nodes), len(failed), len(degraded)),
		NodeHealth:    nodeHealth,
		FailedNodes:   failed,
		DegradedNodes: degraded,
		Reliability:   reliability,
		AssessedAt:    time.Now(),
		Alerts:        alerts,
		CascadeRisk:   riskLevel(maxRisk),
	}
}

func overallStatus(total, failed, degraded int) SystemStatus {
	switch {
	case failed >= total/2:
		return SystemFailed
	case failed > 1 || degraded > 2:
		return SystemCritical
	case failed > 0 || degraded > 0:
		return SystemDegraded
	default:
		return SystemHealthy
	}
}

func riskLevel(maxRisk float64) CascadeRiskLevel {
	switch {
	case maxRisk > 0.8:
		return RiskCritical
	case maxRisk > 0.6:
		return RiskHigh
	case maxRisk > 0.3:
		return RiskMedium
	default:
		return RiskLow
	}
}

// healthOf returns a node's health, either from the installed probe or
// derived from the manager's own failure records.
func (m *Manager) healthOf(node topology.NodeID) HealthStatus {
	if m.probe != nil {
		return m.probe(node)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.derivedHealthLocked(node)
}

func (m *Manager) derivedHealthLocked(node topology.NodeID) HealthStatus {
	now := time.Now()
	if _, q := m.quarantined[node]; q {
		return HealthStatus{State: Unhealthy, Message: "quarantined for Byzantine behavior", LastUpdated: now, Score: 0.1}
	}
	switch m.failures[node] {
	case Crash:
		return HealthStatus{State: Failed, Message: "crashed", LastUpdated: now, Score: 0.0}
	case NetworkPartition:
		return HealthStatus{State: Failed, Message: "partitioned", LastUpdated: now, Score: 0.0}
	case Omission:
		return HealthStatus{State: Degraded, Message: "dropping messages", LastUpdated: now, Score: 0.6}
	case Byzantine:
		return HealthStatus{State: Unhealthy, Message: "byzantine behavior reported", LastUpdated: now, Score: 0.3}
	}
	if _, iso := m.isolated[node]; iso {
		return HealthStatus{State: Degraded, Message: "isolated pending cascade risk", LastUpdated: now, Score: 0.7}
	}
	return HealthStatus{State: Healthy, Message: "operating normally", LastUpdated: now, Score: 1.0}
}
