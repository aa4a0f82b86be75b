package fault

import (
	"testing"
	"time"

	"github.com/dd0wney/telecom-txcore/pkg/config"
	"github.com/dd0wney/telecom-txcore/pkg/topology"
)

func quarantineCore1(m *Manager) {
	m.HandleByzantineFailure(topology.Core1, highEvidence(topology.Core1, topology.Edge1))
	m.HandleByzantineFailure(topology.Core1, highEvidence(topology.Core1, topology.Edge2))
}

func TestReplicationStrategy_PassiveDefault(t *testing.T) {
	m := newTestManager(t, config.DefaultFaultConfig(), nil)

	s := m.ReplicationStrategyFor(ServiceStandard)
	if s.Type != Passive {
		t.Errorf("Type = %s, want PASSIVE", s.Type)
	}
	if s.Factor != 2 {
		t.Errorf("Factor = %d, want min(2, 5 healthy) = 2", s.Factor)
	}
	if s.Consistency != Eventual {
		t.Errorf("Consistency = %s, want EVENTUAL", s.Consistency)
	}
	if s.MinimumNodes() != 2 {
		t.Errorf("MinimumNodes = %d, want 2", s.MinimumNodes())
	}
}

func TestReplicationStrategy_CriticalService(t *testing.T) {
	m := newTestManager(t, config.DefaultFaultConfig(), nil)

	s := m.ReplicationStrategyFor(ServiceCritical)
	if s.Type != Active {
		t.Errorf("Type = %s, want ACTIVE", s.Type)
	}
	if s.Factor != 3 {
		t.Errorf("Factor = %d, want min(3, 5 healthy) = 3", s.Factor)
	}
	if s.Consistency != Strong {
		t.Errorf("Consistency = %s, want STRONG", s.Consistency)
	}
}

func TestReplicationStrategy_ByzantineTolerantOnQuarantine(t *testing.T) {
	m := newTestManager(t, config.DefaultFaultConfig(), nil)
	quarantineCore1(m)

	// Quarantine overrides the service class entirely.
	s := m.ReplicationStrategyFor(ServiceCritical)
	if s.Type != ByzantineTolerant {
		t.Errorf("Type = %s, want BYZANTINE_TOLERANT", s.Type)
	}
	if s.Consistency != Strong {
		t.Errorf("Consistency = %s, want STRONG", s.Consistency)
	}
	// 4 healthy nodes: min(bftLevel=1, 4/3=1) = 1
	if s.Factor != 1 {
		t.Errorf("Factor = %d, want 1", s.Factor)
	}
	if s.MinimumNodes() != 4 {
		t.Errorf("MinimumNodes = %d, want 3f+1 = 4", s.MinimumNodes())
	}
}

func TestReplicationStrategy_FactorNeverBelowOne(t *testing.T) {
	cfg := config.DefaultFaultConfig()
	cfg.RecoveryDelay = time.Hour
	m := newTestManager(t, cfg, nil)
	quarantineCore1(m)

	// Crash two more: healthy = 2, min(1, 2/3=0) would be 0 without the clamp.
	m.DetectFailure(topology.Edge1, Crash)
	m.DetectFailure(topology.Core2, Crash)

	s := m.ReplicationStrategyFor(ServiceStandard)
	if s.Factor < 1 {
		t.Errorf("Factor must be clamped to at least 1, got %d", s.Factor)
	}
}

func TestReplicationStrategy_PreferredNodesExcludeContained(t *testing.T) {
	cfg := config.DefaultFaultConfig()
	cfg.RecoveryDelay = time.Hour
	m := newTestManager(t, cfg, nil)
	quarantineCore1(m)
	m.DetectFailure(topology.Edge1, Crash)
	m.PreventCascadingFailure([]topology.NodeID{topology.Edge1}, 0.5) // isolates Core2 (risk 0.6)

	for _, class := range []ServiceClass{ServiceCritical, ServiceStandard, ServiceBackground} {
		s := m.ReplicationStrategyFor(class)
		for _, node := range s.PreferredNodes {
			if node == topology.Core1 {
				t.Errorf("%s: quarantined node in preferred set", class)
			}
			if node == topology.Edge1 {
				t.Errorf("%s: crashed node in preferred set", class)
			}
			if node == topology.Core2 {
				t.Errorf("%s: isolated node in preferred set", class)
			}
		}
	}
}

func TestReplicationStrategy_DisabledByzantineDetection(t *testing.T) {
	cfg := config.DefaultFaultConfig()
	cfg.ByzantineDetection = false
	m := newTestManager(t, cfg, nil)
	quarantineCore1(m)

	s := m.ReplicationStrategyFor(ServiceStandard)
	if s.Type == ByzantineTolerant {
		t.Error("BFT replication must not be selected with detection disabled")
	}
}
