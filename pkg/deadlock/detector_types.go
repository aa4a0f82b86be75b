package deadlock

import (
	"time"

	"github.com/dd0wney/telecom-txcore/pkg/topology"
)

// TxID identifies a distributed transaction. Opaque to the detector; the
// coordinator generates it.
type TxID string

// LockType distinguishes shared from exclusive resource locks.
type LockType string

const (
	LockExclusive LockType = "exclusive"
	LockShared    LockType = "shared"
)

// CompatibleWith reports whether two locks can coexist on one resource.
// Only shared/shared is compatible.
func (lt LockType) CompatibleWith(other LockType) bool {
	return lt == LockShared && other == LockShared
}

// ResourceLock records one holder of one resource.
type ResourceLock struct {
	ResourceKey string
	HolderNode  topology.NodeID
	HolderTx    TxID
	Type        LockType
}

// AcquireResult reports the outcome of a lock request.
type AcquireResult int

const (
	// Granted means the requester now holds the resource.
	Granted AcquireResult = iota
	// Blocked means the resource is held incompatibly; the requester was
	// queued and wait-for edges were recorded.
	Blocked
	// AlreadyHeld means the requester already holds a compatible lock.
	AlreadyHeld
)

// lockEntry is the live state of one resource in the lock table.
type lockEntry struct {
	lockType LockType
	holders  map[TxID]topology.NodeID
	waiters  []waitRequest // FIFO
}

// waitRequest is a queued lock request from a blocked transaction.
type waitRequest struct {
	tx       TxID
	node     topology.NodeID
	lockType LockType
	since    time.Time
}

// Config configures the detector.
type Config struct {
	// Timeout is the threshold for IsTimedOut. A transaction is timed out
	// only when its age strictly exceeds this value.
	Timeout time.Duration
}

// DefaultConfig returns the detector defaults used by the coordinator.
func DefaultConfig() Config {
	return Config{Timeout: 10 * time.Second}
}
