package fault

import (
	"time"

	"github.com/dd0wney/telecom-txcore/pkg/logging"
)

// Start launches the periodic health check and cascade assessment loops.
// Neither loop ever blocks transaction threads; both run until Stop or
// Close.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.monitorActive {
		m.mu.Unlock()
		return
	}
	m.monitorActive = true
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	m.monitorWg.Add(2)
	go m.healthCheckLoop(stopCh)
	go m.cascadeLoop(stopCh)

	m.logger.Info("fault monitor started",
		logging.Duration("heartbeat", m.cfg.HeartbeatInterval),
		logging.Duration("cascade_interval", m.cfg.CascadeCheckInterval))
}

// Stop halts the monitor loops. Safe to call multiple times.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.monitorActive {
		m.mu.Unlock()
		return
	}
	m.monitorActive = false
	close(m.stopCh)
	m.mu.Unlock()

	m.monitorWg.Wait()
}

func (m *Manager) healthCheckLoop(stopCh <-chan struct{}) {
	defer m.monitorWg.Done()

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.healthCheckOnce()
		}
	}
}

// healthCheckOnce probes every node and raises a failure for any node found
// non-operational that has no failure recorded yet. The expected failure
// mode for the node is assumed, matching how the network characterizes each
// node.
func (m *Manager) healthCheckOnce() {
	for _, node := range m.provider.Nodes() {
		h := m.healthOf(node)
		if h.Operational() {
			continue
		}

		m.mu.RLock()
		_, recorded := m.failures[node]
		m.mu.RUnlock()

		if !recorded {
			m.DetectFailure(node, ExpectedFailureType(node))
		}
	}
}

func (m *Manager) cascadeLoop(stopCh <-chan struct{}) {
	defer m.monitorWg.Done()

	ticker := time.NewTicker(m.cfg.CascadeCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if failed := m.FailedNodes(); len(failed) > 0 {
				m.PreventCascadingFailure(failed, m.cfg.CascadeRiskThreshold)
			}
		}
	}
}
