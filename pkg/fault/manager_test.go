package fault

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dd0wney/telecom-txcore/pkg/config"
	"github.com/dd0wney/telecom-txcore/pkg/topology"
	"github.com/dd0wney/telecom-txcore/pkg/transport"
)

func newTestManager(t *testing.T, cfg config.FaultConfig, rpc transport.RPC) *Manager {
	t.Helper()
	m, err := NewManager(cfg, topology.NewStaticProvider(), rpc, nil, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func highEvidence(suspect, reporter topology.NodeID) Evidence {
	return Evidence{
		Suspect:    suspect,
		Reporter:   reporter,
		Kind:       ConflictingMessages,
		Timestamp:  time.Now(),
		Confidence: 0.9,
	}
}

func TestDetectFailure_RecordsAndBumpsRisk(t *testing.T) {
	m := newTestManager(t, config.DefaultFaultConfig(), nil)

	m.DetectFailure(topology.Edge1, Crash)

	ft, ok := m.FailureOf(topology.Edge1)
	if !ok || ft != Crash {
		t.Fatalf("Expected recorded CRASH, got %v %v", ft, ok)
	}
	if risk := m.CascadeRisk(topology.Edge1); risk != 0.4 {
		t.Errorf("Crash must bump risk by 0.4, got %f", risk)
	}
}

func TestDetectFailure_RiskIsAdditiveAndCapped(t *testing.T) {
	m := newTestManager(t, config.DefaultFaultConfig(), nil)

	m.bumpCascadeRisk(topology.Core1, Byzantine) // +0.6
	m.bumpCascadeRisk(topology.Core1, Crash)     // +0.4
	m.bumpCascadeRisk(topology.Core1, Omission)  // would exceed 1.0

	if risk := m.CascadeRisk(topology.Core1); risk != 1.0 {
		t.Errorf("Risk must cap at 1.0, got %f", risk)
	}
}

func TestHandleByzantineFailure_QuarantineThreshold(t *testing.T) {
	tests := []struct {
		name       string
		evidence   []Evidence
		quarantine bool
	}{
		{
			name:       "Single high-confidence report insufficient",
			evidence:   []Evidence{highEvidence(topology.Core1, topology.Edge1)},
			quarantine: false,
		},
		{
			name: "Two low-confidence reports insufficient",
			evidence: []Evidence{
				{Suspect: topology.Core1, Reporter: topology.Edge1, Kind: TimingAttack, Confidence: 0.5},
				{Suspect: topology.Core1, Reporter: topology.Edge2, Kind: TimingAttack, Confidence: 0.7},
			},
			quarantine: false,
		},
		{
			name: "Two high-confidence reports quarantine",
			evidence: []Evidence{
				highEvidence(topology.Core1, topology.Edge1),
				highEvidence(topology.Core1, topology.Edge2),
			},
			quarantine: true,
		},
		{
			name: "Boundary confidence 0.8 counts as high",
			evidence: []Evidence{
				{Suspect: topology.Core1, Reporter: topology.Edge1, Kind: ProtocolViolation, Confidence: 0.8},
				{Suspect: topology.Core1, Reporter: topology.Edge2, Kind: DataCorruption, Confidence: 0.8},
			},
			quarantine: true,
		},
		{
			name: "One high one low insufficient",
			evidence: []Evidence{
				highEvidence(topology.Core1, topology.Edge1),
				{Suspect: topology.Core1, Reporter: topology.Edge2, Kind: TimingAttack, Confidence: 0.3},
			},
			quarantine: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, config.DefaultFaultConfig(), nil)
			for _, ev := range tt.evidence {
				m.HandleByzantineFailure(topology.Core1, ev)
			}
			if got := m.IsQuarantined(topology.Core1); got != tt.quarantine {
				t.Errorf("Quarantined = %v, want %v", got, tt.quarantine)
			}
		})
	}
}

func TestHandleByzantineFailure_MalformedEvidenceIgnored(t *testing.T) {
	m := newTestManager(t, config.DefaultFaultConfig(), nil)

	m.HandleByzantineFailure(topology.Core1, highEvidence(topology.Core1, topology.Edge1))

	// None of these may count as the second corroborating report.
	m.HandleByzantineFailure(topology.Core1, highEvidence(topology.Core1, topology.Core1))
	m.HandleByzantineFailure(topology.Core1, Evidence{
		Suspect: topology.Core1, Reporter: topology.Edge2, Kind: ConflictingMessages, Confidence: 1.5,
	})
	m.HandleByzantineFailure(topology.Core1, Evidence{
		Suspect: topology.Core1, Reporter: topology.Edge2, Kind: "RUMOR", Confidence: 0.9,
	})
	m.HandleByzantineFailure(topology.Core1, Evidence{
		Suspect: topology.Core1, Kind: ConflictingMessages, Confidence: 0.9,
	})

	if m.IsQuarantined(topology.Core1) {
		t.Fatal("Malformed evidence must not contribute to quarantine")
	}

	// A second well-formed report still tips the threshold.
	m.HandleByzantineFailure(topology.Core1, highEvidence(topology.Core1, topology.Edge2))
	if !m.IsQuarantined(topology.Core1) {
		t.Error("Expected quarantine after two valid high-confidence reports")
	}
}

func TestHandleByzantineFailure_NoUnquarantinePath(t *testing.T) {
	m := newTestManager(t, config.DefaultFaultConfig(), nil)
	m.HandleByzantineFailure(topology.Core1, highEvidence(topology.Core1, topology.Edge1))
	m.HandleByzantineFailure(topology.Core1, highEvidence(topology.Core1, topology.Edge2))

	if !m.IsQuarantined(topology.Core1) {
		t.Fatal("Expected quarantine")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := m.InitiateRecovery(topology.Core1).Wait(ctx)
	if !errors.Is(err, ErrManualRecoveryRequired) {
		t.Errorf("Byzantine recovery must require manual intervention, got: %v", err)
	}
	if !m.IsQuarantined(topology.Core1) {
		t.Error("Recovery attempt must not lift quarantine")
	}
}

func TestHandleCrashFailure_ActivatesBackupsAndSchedulesRecovery(t *testing.T) {
	cfg := config.DefaultFaultConfig()
	cfg.RecoveryDelay = 30 * time.Millisecond
	m := newTestManager(t, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.HandleCrashFailure(topology.Edge1).Wait(ctx); err != nil {
		t.Fatalf("Crash handling failed: %v", err)
	}

	if ft, ok := m.FailureOf(topology.Edge1); !ok || ft != Crash {
		t.Fatalf("Node must be marked crashed, got %v %v", ft, ok)
	}
	backups := m.BackupsFor(topology.Edge1)
	if len(backups) != 2 {
		t.Fatalf("Expected 2 backups, got %v", backups)
	}
	for _, b := range backups {
		if b == topology.Edge1 {
			t.Error("Crashed node cannot back itself up")
		}
	}

	// Scheduled recovery clears the failure after the delay.
	deadline := time.After(time.Second)
	for {
		if _, still := m.FailureOf(topology.Edge1); !still {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Scheduled recovery never cleared the crash")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestHandleCrashFailure_BackupsExcludeFailedNodes(t *testing.T) {
	cfg := config.DefaultFaultConfig()
	cfg.RecoveryDelay = time.Hour // keep failures in place
	m := newTestManager(t, cfg, nil)

	m.DetectFailure(topology.Edge2, Omission)
	m.DetectFailure(topology.Core2, Crash)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.HandleCrashFailure(topology.Edge1).Wait(ctx); err != nil {
		t.Fatalf("Crash handling failed: %v", err)
	}

	for _, b := range m.BackupsFor(topology.Edge1) {
		if b == topology.Edge2 || b == topology.Core2 || b == topology.Edge1 {
			t.Errorf("Backup %s is not a usable node", b)
		}
	}
}

func TestHandleOmissionFailure_NodeStaysTrustedAndRetries(t *testing.T) {
	bus := transport.NewMemoryBus(topology.NewStaticProvider(), nil)
	var pings int64
	bus.Register(topology.Edge2, func(msg transport.Message) (transport.Response, error) {
		if msg.Type == transport.MsgHealthPing {
			atomic.AddInt64(&pings, 1)
		}
		return transport.Response{InReplyTo: msg.ID, From: topology.Edge2, OK: true}, nil
	})

	m := newTestManager(t, config.DefaultFaultConfig(), bus)
	missed := []transport.MessageID{transport.NewMessageID(), transport.NewMessageID()}
	m.HandleOmissionFailure(topology.Edge2, missed)

	if !m.Trusted(topology.Edge2) {
		t.Error("Omission-failing node stays partially available")
	}

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt64(&pings) < int64(len(missed)) {
		select {
		case <-deadline:
			t.Fatalf("Expected %d retries, saw %d", len(missed), atomic.LoadInt64(&pings))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPreventCascadingFailure_IsolatesAboveThreshold(t *testing.T) {
	m := newTestManager(t, config.DefaultFaultConfig(), nil)

	failed := []topology.NodeID{topology.Edge1, topology.Edge2}

	// Core nodes: 0.1 + 0.2*2 + 0.3 = 0.8; others: 0.5
	m.PreventCascadingFailure(failed, 0.7)

	if !m.IsIsolated(topology.Core1) || !m.IsIsolated(topology.Core2) {
		t.Error("Critical-path nodes above threshold must be isolated")
	}
	if m.IsIsolated(topology.Cloud1) {
		t.Error("Cloud1 risk 0.5 is below threshold")
	}
	if m.IsIsolated(topology.Edge1) {
		t.Error("Failed nodes are skipped, not isolated")
	}
	if risk := m.CascadeRisk(topology.Core1); risk != 0.8 {
		t.Errorf("Core1 risk = %f, want 0.8", risk)
	}
	if risk := m.CascadeRisk(topology.Cloud1); risk != 0.5 {
		t.Errorf("Cloud1 risk = %f, want 0.5", risk)
	}
}

func TestPreventCascadingFailure_RiskCap(t *testing.T) {
	if risk := cascadeRiskFor(topology.Core1, 4); risk != 1.0 {
		t.Errorf("Risk must cap at 1.0, got %f", risk)
	}
}

func TestInitiateRecovery_NoFailureRecorded(t *testing.T) {
	m := newTestManager(t, config.DefaultFaultConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := m.InitiateRecovery(topology.Cloud1).Wait(ctx)
	if !errors.Is(err, ErrNoFailureRecorded) {
		t.Errorf("Expected ErrNoFailureRecorded, got: %v", err)
	}
}

func TestTrusted_ExcludesCrashAndQuarantine(t *testing.T) {
	m := newTestManager(t, config.DefaultFaultConfig(), nil)

	m.DetectFailure(topology.Core2, Crash)
	m.HandleByzantineFailure(topology.Core1, highEvidence(topology.Core1, topology.Edge1))
	m.HandleByzantineFailure(topology.Core1, highEvidence(topology.Core1, topology.Edge2))
	m.DetectFailure(topology.Edge2, Omission)

	if m.Trusted(topology.Core2) {
		t.Error("Crashed node must be untrusted")
	}
	if m.Trusted(topology.Core1) {
		t.Error("Quarantined node must be untrusted")
	}
	if !m.Trusted(topology.Edge2) {
		t.Error("Omission node is retried, not excluded")
	}
	if !m.Trusted(topology.Cloud1) {
		t.Error("Healthy node must be trusted")
	}
}

func TestAssessSystemHealth_StatusThresholds(t *testing.T) {
	t.Run("All healthy", func(t *testing.T) {
		m := newTestManager(t, config.DefaultFaultConfig(), nil)
		assessment := m.AssessSystemHealth()
		if assessment.Status != SystemHealthy {
			t.Errorf("Status = %s, want HEALTHY", assessment.Status)
		}
		if assessment.Reliability != 1.0 {
			t.Errorf("Reliability = %f, want 1.0", assessment.Reliability)
		}
	})

	t.Run("One crashed is degraded", func(t *testing.T) {
		m := newTestManager(t, config.DefaultFaultConfig(), nil)
		m.DetectFailure(topology.Edge1, Crash)
		assessment := m.AssessSystemHealth()
		if assessment.Status != SystemDegraded {
			t.Errorf("Status = %s, want DEGRADED", assessment.Status)
		}
		if len(assessment.FailedNodes) != 1 {
			t.Errorf("FailedNodes = %v", assessment.FailedNodes)
		}
	})

	t.Run("Half crashed is failed", func(t *testing.T) {
		m := newTestManager(t, config.DefaultFaultConfig(), nil)
		m.DetectFailure(topology.Edge1, Crash)
		m.DetectFailure(topology.Core2, Crash)
		assessment := m.AssessSystemHealth()
		if assessment.Status != SystemFailed {
			t.Errorf("Status = %s, want FAILED", assessment.Status)
		}
	})

	t.Run("Three degraded is critical", func(t *testing.T) {
		m := newTestManager(t, config.DefaultFaultConfig(), nil)
		m.DetectFailure(topology.Edge2, Omission)
		m.DetectFailure(topology.Cloud1, Omission)
		m.DetectFailure(topology.Edge1, Omission)
		assessment := m.AssessSystemHealth()
		if assessment.Status != SystemCritical {
			t.Errorf("Status = %s, want CRITICAL", assessment.Status)
		}
	})
}

func TestAssessSystemHealth_CascadeLevels(t *testing.T) {
	tests := []struct {
		risk  float64
		level CascadeRiskLevel
	}{
		{0.0, RiskLow},
		{0.3, RiskLow},
		{0.31, RiskMedium},
		{0.6, RiskMedium},
		{0.61, RiskHigh},
		{0.8, RiskHigh},
		{0.81, RiskCritical},
		{1.0, RiskCritical},
	}
	for _, tt := range tests {
		if got := riskLevel(tt.risk); got != tt.level {
			t.Errorf("riskLevel(%f) = %s, want %s", tt.risk, got, tt.level)
		}
	}
}

func TestMonitor_ProbeDrivenDetection(t *testing.T) {
	cfg := config.DefaultFaultConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.RecoveryDelay = time.Hour
	m := newTestManager(t, cfg, nil)

	m.SetProbe(func(node topology.NodeID) HealthStatus {
		if node == topology.Edge1 {
			return HealthStatus{State: Failed, Message: "no heartbeat", LastUpdated: time.Now()}
		}
		return HealthStatus{State: Healthy, Message: "ok", LastUpdated: time.Now(), Score: 1.0}
	})
	m.Start()

	deadline := time.After(time.Second)
	for {
		if ft, ok := m.FailureOf(topology.Edge1); ok {
			if ft != Crash {
				t.Fatalf("Edge1 expected failure mode is CRASH, got %s", ft)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("Monitor never detected the failed probe")
		case <-time.After(5 * time.Millisecond):
		}
	}
	m.Stop()
}
