package fault

import (
	"sync"
	"time"

	"github.com/dd0wney/telecom-txcore/pkg/config"
	"github.com/dd0wney/telecom-txcore/pkg/logging"
	"github.com/dd0wney/telecom-txcore/pkg/metrics"
	"github.com/dd0wney/telecom-txcore/pkg/tasks"
	"github.com/dd0wney/telecom-txcore/pkg/topology"
	"github.com/dd0wney/telecom-txcore/pkg/transport"
)

// FailureType classifies a detected node failure.
//
// Each type maps to a fixed availability impact and recovery action:
//
//	| Failure type      | Availability impact                           | Recovery action                                  |
//	|-------------------|-----------------------------------------------|--------------------------------------------------|
//	| CRASH             | Node fully unavailable immediately            | Activate backups, schedule timed recovery        |
//	| OMISSION          | Node partially available                      | Retry missed messages, seek alternate routes     |
//	| BYZANTINE         | Unavailable only after evidence threshold met | Quarantine; no automatic un-quarantine (manual)  |
//	| NETWORK_PARTITION | Node unreachable from this partition          | Re-establish connectivity; no data assumed lost  |
type FailureType string

const (
	Crash            FailureType = "CRASH"
	Omission         FailureType = "OMISSION"
	Byzantine        FailureType = "BYZANTINE"
	NetworkPartition FailureType = "NETWORK_PARTITION"
)

// ExpectedFailureType returns the failure type a node is expected to exhibit,
// derived from its fixed topology characteristics.
func ExpectedFailureType(node topology.NodeID) FailureType {
	switch node.ExpectedFailureMode() {
	case topology.FailureCrash:
		return Crash
	case topology.FailureOmission:
		return Omission
	default:
		return Byzantine
	}
}

// ServiceClass categorizes a service for replication strategy selection.
type ServiceClass string

const (
	ServiceCritical   ServiceClass = "CRITICAL"
	ServiceStandard   ServiceClass = "STANDARD"
	ServiceBackground ServiceClass = "BACKGROUND"
)

// Manager tracks per-node failure state, accumulates Byzantine evidence,
// quarantines misbehaving nodes, assesses cascading-failure risk, and derives
// replication strategies for the transaction coordinator.
type Manager struct {
	cfg      config.FaultConfig
	provider topology.Provider
	rpc      transport.RPC
	probe    ProbeFunc
	logger   logging.Logger
	metrics  *metrics.Registry
	pool     *tasks.Pool
	sched    *tasks.Scheduler

	mu            sync.RWMutex
	failures      map[topology.NodeID]FailureType
	failureTimes  map[topology.NodeID]time.Time
	evidence      map[topology.NodeID][]Evidence
	quarantined   map[topology.NodeID]struct{}
	isolated      map[topology.NodeID]struct{}
	cascadeRisk   map[topology.NodeID]float64
	backupsFor    map[topology.NodeID][]topology.NodeID
	stopCh        chan struct{}
	monitorWg     sync.WaitGroup
	monitorActive bool
}
