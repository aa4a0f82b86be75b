package txn

import (
	"sync"
	"time"

	"github.com/dd0wney/telecom-txcore/pkg/config"
	"github.com/dd0wney/telecom-txcore/pkg/deadlock"
	"github.com/dd0wney/telecom-txcore/pkg/fault"
	"github.com/dd0wney/telecom-txcore/pkg/logging"
	"github.com/dd0wney/telecom-txcore/pkg/metrics"
	"github.com/dd0wney/telecom-txcore/pkg/tasks"
	"github.com/dd0wney/telecom-txcore/pkg/topology"
	"github.com/dd0wney/telecom-txcore/pkg/transport"
)

// TxID identifies one distributed transaction. The same id keys the
// coordinator's active set and the deadlock detector's lock table.
type TxID = deadlock.TxID

// Transaction is the coordinator's record of one distributed transaction.
// All protocol operations on it are linearized through its mutex.
type Transaction struct {
	ID           TxID
	Participants []topology.NodeID
	StartTime    time.Time
	Timeout      time.Duration

	mu       sync.Mutex
	state    State
	service  fault.ServiceClass
	strategy fault.ReplicationStrategy
}

// Coordinator drives the two-phase commit protocol across the simulated
// network, consulting the fault manager for participant viability and the
// deadlock detector for prepare-phase blocking.
type Coordinator struct {
	cfg      config.CoordinatorConfig
	self     topology.NodeID
	rpc      transport.RPC
	detector *deadlock.Detector
	faults   *fault.Manager
	logger   logging.Logger
	metrics  *metrics.Registry
	sched    *tasks.Scheduler

	mu     sync.RWMutex
	active map[TxID]*Transaction

	// Per-node failure probabilities and bottleneck set used to scale
	// prepare timeouts asymmetrically.
	probMu       sync.RWMutex
	failureProbs map[topology.NodeID]float64
	bottlenecks  map[topology.NodeID]struct{}

	sweepMu     sync.Mutex
	sweepStop   chan struct{}
	sweepWg     sync.WaitGroup
	sweepActive bool
}

// Statistics is a point-in-time snapshot of coordinator load.
type Statistics struct {
	ActiveTransactions    int
	LocksHeld             int
	AverageTransactionAge time.Duration
}
