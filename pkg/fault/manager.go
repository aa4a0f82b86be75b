package fault

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/exp/maps"

	"github.com/dd0wney/telecom-txcore/pkg/config"
	"github.com/dd0wney/telecom-txcore/pkg/logging"
	"github.com/dd0wney/telecom-txcore/pkg/metrics"
	"github.com/dd0wney/telecom-txcore/pkg/tasks"
	"github.com/dd0wney/telecom-txcore/pkg/topology"
	"github.com/dd0wney/telecom-txcore/pkg/transport"
	"github.com/dd0wney/telecom-txcore/pkg/validation"
)

// recoveryWorkers sizes the background pool for recovery and retry work.
const recoveryWorkers = 4

// NewManager creates a fault manager over the given topology. The rpc
// substrate is used to retry missed messages on omission failures and may be
// nil; the metrics registry may be nil.
func NewManager(cfg config.FaultConfig, provider topology.Provider, rpc transport.RPC, logger logging.Logger, reg *metrics.Registry) (*Manager, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.With(logging.Component("fault"))

	pool, err := tasks.NewPool(recoveryWorkers, logger)
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:          cfg,
		provider:     provider,
		rpc:          rpc,
		logger:       logger,
		metrics:      reg,
		pool:         pool,
		sched:        tasks.NewScheduler(),
		failures:     make(map[topology.NodeID]FailureType),
		failureTimes: make(map[topology.NodeID]time.Time),
		evidence:     make(map[topology.NodeID][]Evidence),
		quarantined:  make(map[topology.NodeID]struct{}),
		isolated:     make(map[topology.NodeID]struct{}),
		cascadeRisk:  make(map[topology.NodeID]float64),
		backupsFor:   make(map[topology.NodeID][]topology.NodeID),
		stopCh:       make(chan struct{}),
	}, nil
}

// SetProbe installs a health probe. Must be called before Start.
func (m *Manager) SetProbe(probe ProbeFunc) {
	m.probe = probe
}

// DetectFailure records a failure with a timestamp, dispatches the
// type-specific handler, and bumps the node's cascade risk score. A
// BYZANTINE report through this path is recorded but does not quarantine:
// quarantine requires corroborated evidence via HandleByzantineFailure.
func (m *Manager) DetectFailure(node topology.NodeID, ft FailureType) {
	m.logger.Info("failure detected",
		logging.Node(string(node)),
		logging.FailureKind(string(ft)))

	m.mu.Lock()
	m.failures[node] = ft
	m.failureTimes[node] = time.Now()
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordFailure(node, string(ft))
	}

	switch ft {
	case Crash:
		m.HandleCrashFailure(node)
	case Omission:
		m.HandleOmissionFailure(node, nil)
	case Byzantine:
		m.logger.Warn("byzantine failure reported without evidence",
			logging.Node(string(node)))
	case NetworkPartition:
		m.handleNetworkPartition(node)
	}

	m.bumpCascadeRisk(node, ft)
}

// HandleCrashFailure marks the node unavailable immediately (crash is
// fail-stop), then asynchronously activates backups and schedules a timed
// recovery attempt. The returned future resolves when failover completes.
func (m *Manager) HandleCrashFailure(node topology.NodeID) *tasks.Future {
	m.mu.Lock()
	if _, recorded := m.failures[node]; !recorded {
		m.failures[node] = Crash
		m.failureTimes[node] = time.Now()
	}
	m.mu.Unlock()

	f := tasks.NewFuture()
	submitted := m.pool.Submit(func() {
		m.logger.Info("handling crash failure", logging.Node(string(node)))

		backups := m.findBackupNodes(node)
		for _, backup := range backups {
			m.activateBackup(backup, node)
		}
		if len(backups) == 0 {
			m.logger.Warn("no backup nodes available", logging.Node(string(node)))
		}

		m.scheduleRecovery(node)
		f.Complete(nil)
	})
	if !submitted {
		f.Complete(ErrManagerClosed)
	}
	return f
}

// HandleOmissionFailure handles a node that drops messages. The node stays
// partially available: each missed message is retried and alternative routes
// are probed, since omission-failing nodes may still carry some traffic.
func (m *Manager) HandleOmissionFailure(node topology.NodeID, missedMessages []transport.MessageID) {
	m.logger.Info("handling omission failure",
		logging.Node(string(node)),
		logging.Count(len(missedMessages)))

	m.mu.Lock()
	if _, recorded := m.failures[node]; !recorded {
		m.failures[node] = Omission
		m.failureTimes[node] = time.Now()
	}
	m.mu.Unlock()

	if m.rpc != nil && len(missedMessages) > 0 {
		missed := append([]transport.MessageID(nil), missedMessages...)
		m.pool.Submit(func() {
			m.retryMissedMessages(node, missed)
		})
	}

	m.findAlternativeRoutes(node)
}

// retryMissedMessages re-delivers each missed message with bounded retries.
func (m *Manager) retryMissedMessages(node topology.NodeID, missed []transport.MessageID) {
	policy := transport.DefaultRetryPolicy()
	for _, id := range missed {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		msg := transport.Message{
			ID:        transport.NewMessageID(),
			To:        node,
			Type:      transport.MsgHealthPing,
			Payload:   []byte(id),
			Timestamp: time.Now(),
		}
		_, err := transport.SendWithRetry(ctx, m.rpc, node, msg, policy, m.metrics)
		cancel()
		if err != nil {
			m.logger.Warn("missed message retry failed",
				logging.Node(string(node)),
				logging.Error(err))
			continue
		}
		m.logger.Debug("missed message redelivered", logging.Node(string(node)))
	}
}

// findAlternativeRoutes probes for paths that avoid an unreliable node.
func (m *Manager) findAlternativeRoutes(node topology.NodeID) {
	alternates := 0
	for _, neighbor := range m.provider.Neighbors(node) {
		for _, hop := range m.provider.Neighbors(neighbor) {
			if hop != node {
				alternates++
			}
		}
	}
	m.logger.Debug("alternative routes assessed",
		logging.Node(string(node)),
		logging.Count(alternates))
}

// HandleByzantineFailure appends evidence against a suspect node and
// quarantines it once the evidence set holds at least two high-confidence
// reports. Evidence is never removed and there is no automatic
// un-quarantine path.
func (m *Manager) HandleByzantineFailure(suspect topology.NodeID, ev Evidence) {
	if err := validation.ValidateEvidenceReport(&validation.EvidenceReport{
		Suspect:    string(suspect),
		Reporter:   string(ev.Reporter),
		Kind:       string(ev.Kind),
		Confidence: ev.Confidence,
		Notes:      ev.Description,
	}); err != nil {
		m.logger.Warn("rejecting malformed byzantine evidence",
			logging.Node(string(suspect)),
			logging.Error(err))
		return
	}

	m.logger.Warn("byzantine evidence received",
		logging.Node(string(suspect)),
		logging.String("kind", string(ev.Kind)),
		logging.Float64("confidence", ev.Confidence))

	m.mu.Lock()
	m.evidence[suspect] = append(m.evidence[suspect], ev)
	accumulated := m.evidence[suspect]
	m.failures[suspect] = Byzantine
	m.failureTimes[suspect] = time.Now()
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ByzantineEvidenceTotal.WithLabelValues(string(suspect)).Inc()
		m.metrics.RecordFailure(suspect, string(Byzantine))
	}

	if shouldQuarantine(accumulated) {
		m.quarantine(suspect)
	}
}

// quarantine removes a node from all future replication and participant
// selection.
func (m *Manager) quarantine(node topology.NodeID) {
	m.mu.Lock()
	_, already := m.quarantined[node]
	m.quarantined[node] = struct{}{}
	m.isolated[node] = struct{}{}
	quarantined, isolated := len(m.quarantined), len(m.isolated)
	m.mu.Unlock()

	if !already {
		m.logger.Warn("quarantining byzantine node", logging.Node(string(node)))
	}
	if m.metrics != nil {
		m.metrics.UpdateContainment(quarantined, isolated)
	}
}

// handleNetworkPartition schedules a reconnect attempt. Nothing is assumed
// lost on a partition.
func (m *Manager) handleNetworkPartition(node topology.NodeID) {
	m.logger.Warn("network partition detected", logging.Node(string(node)))
	m.scheduleRecovery(node)
}

// InitiateRecovery attempts to bring a failed node back. Byzantine nodes are
// never recovered automatically.
func (m *Manager) InitiateRecovery(node topology.NodeID) *tasks.Future {
	f := tasks.NewFuture()
	submitted := m.pool.Submit(func() {
		m.mu.RLock()
		ft, recorded := m.failures[node]
		m.mu.RUnlock()

		if !recorded {
			f.Complete(fmt.Errorf("%w: %s", ErrNoFailureRecorded, node))
			return
		}
		if m.metrics != nil {
			m.metrics.RecoveryAttemptsTotal.WithLabelValues(string(ft)).Inc()
		}

		if ft == Byzantine {
			m.logger.Warn("byzantine node requires manual recovery",
				logging.Node(string(node)))
			f.Complete(fmt.Errorf("%w: %s", ErrManualRecoveryRequired, node))
			return
		}

		m.clearFailure(node, ft)
		f.Complete(nil)
	})
	if !submitted {
		f.Complete(ErrManagerClosed)
	}
	return f
}

// clearFailure restores a recovered node to the usable pool.
func (m *Manager) clearFailure(node topology.NodeID, ft FailureType) {
	m.mu.Lock()
	delete(m.failures, node)
	delete(m.failureTimes, node)
	delete(m.backupsFor, node)
	delete(m.isolated, node)
	m.cascadeRisk[node] = 0
	quarantined, isolated := len(m.quarantined), len(m.isolated)
	m.mu.Unlock()

	m.logger.Info("node recovered",
		logging.Node(string(node)),
		logging.FailureKind(string(ft)))
	if m.metrics != nil {
		m.metrics.SetCascadeRisk(node, 0)
		m.metrics.UpdateContainment(quarantined, isolated)
	}
}

// findBackupNodes picks up to the configured number of usable nodes to
// absorb a crashed node's responsibilities.
func (m *Manager) findBackupNodes(failed topology.NodeID) []topology.NodeID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	backups := make([]topology.NodeID, 0, m.cfg.MaxBackupActivations)
	for _, node := range m.provider.Nodes() {
		if len(backups) == m.cfg.MaxBackupActivations {
			break
		}
		if node == failed || !m.usableLocked(node) {
			continue
		}
		backups = append(backups, node)
	}
	return backups
}

func (m *Manager) activateBackup(backup, failed topology.NodeID) {
	m.mu.Lock()
	m.backupsFor[failed] = append(m.backupsFor[failed], backup)
	m.mu.Unlock()

	m.logger.Info("activating backup node",
		logging.Node(string(backup)),
		logging.String("for", string(failed)))
}

func (m *Manager) scheduleRecovery(node topology.NodeID) {
	m.sched.Schedule("recover-"+string(node), m.cfg.RecoveryDelay, func() {
		m.InitiateRecovery(node)
	})
}

// FailureOf returns the recorded failure type for a node, if any.
func (m *Manager) FailureOf(node topology.NodeID) (FailureType, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ft, ok := m.failures[node]
	return ft, ok
}

// FailedNodes returns every node with a recorded failure, in stable order.
func (m *Manager) FailedNodes() []topology.NodeID {
	m.mu.RLock()
	failed := maps.Keys(m.failures)
	m.mu.RUnlock()

	sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })
	return failed
}

// QuarantinedNodes returns every quarantined node, in stable order.
func (m *Manager) QuarantinedNodes() []topology.NodeID {
	m.mu.RLock()
	nodes := maps.Keys(m.quarantined)
	m.mu.RUnlock()

	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	return nodes
}

// IsQuarantined reports whether a node is quarantined.
func (m *Manager) IsQuarantined(node topology.NodeID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.quarantined[node]
	return ok
}

// IsIsolated reports whether a node has been proactively isolated.
func (m *Manager) IsIsolated(node topology.NodeID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.isolated[node]
	return ok
}

// CascadeRisk returns a node's current cascade risk score.
func (m *Manager) CascadeRisk(node topology.NodeID) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cascadeRisk[node]
}

// BackupsFor returns the backups activated for a crashed node.
func (m *Manager) BackupsFor(node topology.NodeID) []topology.NodeID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]topology.NodeID(nil), m.backupsFor[node]...)
}

// Trusted reports whether the coordinator may still commit through a node.
// Crashed, partitioned, and quarantined nodes are untrusted; a node that
// merely drops messages is retried instead of excluded.
func (m *Manager) Trusted(node topology.NodeID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, q := m.quarantined[node]; q {
		return false
	}
	switch m.failures[node] {
	case Crash, NetworkPartition:
		return false
	}
	return true
}

// Close stops the monitor loops, cancels scheduled recoveries, and drains
// the background pool.
func (m *Manager) Close() {
	m.Stop()
	m.sched.Stop()
	m.pool.Close()
}
