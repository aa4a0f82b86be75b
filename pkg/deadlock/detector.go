package deadlock

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/exp/maps"

	"github.com/dd0wney/telecom-txcore/pkg/logging"
	"github.com/dd0wney/telecom-txcore/pkg/metrics"
	"github.com/dd0wney/telecom-txcore/pkg/topology"
)

// Detector maintains the resource lock table and derives the wait-for graph
// from it on demand. A cycle in that graph is a deadlock.
//
// The graph is never stored: DetectDeadlocks rebuilds it from the live lock
// table under a single read lock, so every detection run sees the table at
// one logical instant and stale edges cannot survive a release.
type Detector struct {
	mu      sync.RWMutex
	cfg     Config
	table   map[string]*lockEntry
	held    map[TxID]map[string]struct{}
	waiting map[TxID]map[string]struct{}

	logger  logging.Logger
	metrics *metrics.Registry
}

// NewDetector creates a detector with its own empty lock table. The metrics
// registry may be nil.
func NewDetector(cfg Config, logger logging.Logger, reg *metrics.Registry) *Detector {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Detector{
		cfg:     cfg,
		table:   make(map[string]*lockEntry),
		held:    make(map[TxID]map[string]struct{}),
		waiting: make(map[TxID]map[string]struct{}),
		logger:  logger.With(logging.Component("deadlock")),
		metrics: reg,
	}
}

// RecordResourceAcquisition requests a lock on resource for tx. If the
// resource is free or compatibly held the lock is granted; otherwise the
// request is queued and wait-for edges to the current holders become visible
// to the next DetectDeadlocks run.
func (d *Detector) RecordResourceAcquisition(tx TxID, node topology.NodeID, resource string, lt LockType) (AcquireResult, error) {
	if tx == "" {
		return Blocked, ErrEmptyTxID
	}
	if resource == "" {
		return Blocked, ErrEmptyResourceKey
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.table[resource]
	if !ok {
		d.table[resource] = &lockEntry{
			lockType: lt,
			holders:  map[TxID]topology.NodeID{tx: node},
		}
		d.markHeld(tx, resource)
		d.updateGauges()
		d.logger.Debug("lock granted", logging.Txn(string(tx)), logging.Resource(resource), logging.String("lock_type", string(lt)))
		return Granted, nil
	}

	if _, holds := entry.holders[tx]; holds {
		if lt == LockExclusive && (len(entry.holders) > 1 || entry.lockType != LockExclusive) {
			// Upgrade: only possible while sole holder.
			if len(entry.holders) == 1 {
				entry.lockType = LockExclusive
				return Granted, nil
			}
			d.enqueueWait(entry, tx, node, resource, lt)
			d.updateGauges()
			return Blocked, nil
		}
		return AlreadyHeld, nil
	}

	if lt.CompatibleWith(entry.lockType) && len(entry.waiters) == 0 {
		entry.holders[tx] = node
		d.markHeld(tx, resource)
		d.updateGauges()
		return Granted, nil
	}

	d.enqueueWait(entry, tx, node, resource, lt)
	d.updateGauges()
	d.logger.Debug("lock conflict, transaction queued",
		logging.Txn(string(tx)), logging.Resource(resource), logging.Count(len(entry.holders)))
	return Blocked, nil
}

// RecordWaitFor explicitly records that waiter blocks on a resource held by
// holder. Self-waits are rejected: the wait-for graph must never contain a
// self-loop.
func (d *Detector) RecordWaitFor(waiter, holder TxID, resource string) error {
	if waiter == "" || holder == "" {
		return ErrEmptyTxID
	}
	if resource == "" {
		return ErrEmptyResourceKey
	}
	if waiter == holder {
		return fmt.Errorf("%w: %s", ErrSelfWait, waiter)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.table[resource]
	if !ok {
		entry = &lockEntry{lockType: LockExclusive, holders: make(map[TxID]topology.NodeID)}
		d.table[resource] = entry
	}
	if _, holds := entry.holders[holder]; !holds {
		entry.holders[holder] = ""
		d.markHeld(holder, resource)
	}
	d.enqueueWait(entry, waiter, "", resource, LockExclusive)
	d.updateGauges()
	return nil
}

// RecordResourceRelease releases tx's hold on resource and grants the lock to
// queued waiters in FIFO order.
func (d *Detector) RecordResourceRelease(tx TxID, resource string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releaseOne(tx, resource)
	d.updateGauges()
}

// DetectDeadlocks rebuilds the wait-for graph from the lock table and returns
// every transaction participating in at least one cycle. Acyclic graphs,
// including the empty graph and linear chains, yield an empty result.
func (d *Detector) DetectDeadlocks() map[TxID]struct{} {
	d.mu.RLock()
	adj := d.buildGraphLocked()
	d.mu.RUnlock()

	deadlocked := findCycleMembers(adj)

	if d.metrics != nil {
		d.metrics.RecordDeadlockCheck(len(deadlocked) > 0)
	}
	if len(deadlocked) > 0 {
		d.logger.Warn("deadlock detected", logging.Count(len(deadlocked)))
	}
	return deadlocked
}

// buildGraphLocked derives waiter → holder adjacency from the lock table.
// Callers must hold at least the read lock.
func (d *Detector) buildGraphLocked() map[TxID][]TxID {
	adj := make(map[TxID][]TxID)
	for _, entry := range d.table {
		for _, w := range entry.waiters {
			for holder := range entry.holders {
				if w.tx == holder {
					continue
				}
				adj[w.tx] = append(adj[w.tx], holder)
			}
		}
	}
	return adj
}

// findCycleMembers runs DFS with recursion-stack tracking and collects the
// exact member set of every cycle: on a back edge, the segment of the DFS
// stack from the edge target to the current vertex is one cycle.
func findCycleMembers(adj map[TxID][]TxID) map[TxID]struct{} {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	deadlocked := make(map[TxID]struct{})
	color := make(map[TxID]int)
	stackIndex := make(map[TxID]int)
	stack := make([]TxID, 0)

	var visit func(tx TxID)
	visit = func(tx TxID) {
		color[tx] = gray
		stackIndex[tx] = len(stack)
		stack = append(stack, tx)

		for _, next := range adj[tx] {
			switch color[next] {
			case white:
				visit(next)
			case gray:
				// Back edge: stack[idx..] is the cycle.
				for _, member := range stack[stackIndex[next]:] {
					deadlocked[member] = struct{}{}
				}
			}
		}

		stack = stack[:len(stack)-1]
		delete(stackIndex, tx)
		color[tx] = black
	}

	roots := maps.Keys(adj)
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })
	for _, tx := range roots {
		if color[tx] == white {
			visit(tx)
		}
	}
	return deadlocked
}

// SelectVictim returns the youngest transaction (latest start time) from the
// deadlocked set, the one with the least invested work. Returns the zero
// TxID for an empty set. Ties break on the larger TxID so selection is
// deterministic.
func (d *Detector) SelectVictim(deadlocked map[TxID]struct{}, startTimes map[TxID]time.Time) TxID {
	var victim TxID
	var victimStart time.Time
	for tx := range deadlocked {
		start := startTimes[tx]
		if victim == "" || start.After(victimStart) || (start.Equal(victimStart) && tx > victim) {
			victim = tx
			victimStart = start
		}
	}
	if victim != "" {
		d.logger.Info("selected deadlock victim", logging.Txn(string(victim)))
	}
	return victim
}

// IsTimedOut reports whether a transaction's age strictly exceeds the
// configured timeout. An age exactly equal to the threshold is not a
// timeout; with a zero threshold any past start time is.
func (d *Detector) IsTimedOut(tx TxID, startTime time.Time) bool {
	elapsed := time.Since(startTime)
	timedOut := elapsed > d.cfg.Timeout
	if timedOut {
		d.logger.Warn("transaction timed out",
			logging.Txn(string(tx)),
			logging.Duration("elapsed", elapsed),
			logging.Duration("threshold", d.cfg.Timeout))
	}
	return timedOut
}

// PerformRecovery releases everything the aborted victim held or waited on
// and drops it from the registry. Safe to call more than once.
func (d *Detector) PerformRecovery(tx TxID) {
	d.mu.Lock()
	removed := d.removeLocked(tx)
	d.updateGauges()
	d.mu.Unlock()

	if removed {
		if d.metrics != nil {
			d.metrics.DeadlockVictimsTotal.Inc()
		}
		d.logger.Info("recovery completed for aborted transaction", logging.Txn(string(tx)))
	}
}

// RemoveTransaction drops a normally completed transaction's graph footprint.
// Same cleanup as PerformRecovery without counting it as a victim.
func (d *Detector) RemoveTransaction(tx TxID) {
	d.mu.Lock()
	d.removeLocked(tx)
	d.updateGauges()
	d.mu.Unlock()
}

// ActiveTransactions returns every transaction holding or waiting on a
// resource.
func (d *Detector) ActiveTransactions() []TxID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[TxID]struct{}, len(d.held)+len(d.waiting))
	for tx := range d.held {
		seen[tx] = struct{}{}
	}
	for tx := range d.waiting {
		seen[tx] = struct{}{}
	}
	return maps.Keys(seen)
}

// WaitingFor returns the transactions tx is currently blocked behind.
func (d *Detector) WaitingFor(tx TxID) []TxID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[TxID]struct{})
	for resource := range d.waiting[tx] {
		entry, ok := d.table[resource]
		if !ok {
			continue
		}
		for holder := range entry.holders {
			if holder != tx {
				seen[holder] = struct{}{}
			}
		}
	}
	return maps.Keys(seen)
}

// Locks snapshots the lock table as one entry per (resource, holder) pair,
// sorted by resource key then holder for stable output.
func (d *Detector) Locks() []ResourceLock {
	d.mu.RLock()
	locks := make([]ResourceLock, 0, len(d.table))
	for resource, entry := range d.table {
		for tx, node := range entry.holders {
			locks = append(locks, ResourceLock{
				ResourceKey: resource,
				HolderNode:  node,
				HolderTx:    tx,
				Type:        entry.lockType,
			})
		}
	}
	d.mu.RUnlock()

	sort.Slice(locks, func(i, j int) bool {
		if locks[i].ResourceKey != locks[j].ResourceKey {
			return locks[i].ResourceKey < locks[j].ResourceKey
		}
		return locks[i].HolderTx < locks[j].HolderTx
	})
	return locks
}

// HeldResources returns the resource keys tx currently holds.
func (d *Detector) HeldResources(tx TxID) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return maps.Keys(d.held[tx])
}

// Internal helpers. All require the write lock.

func (d *Detector) markHeld(tx TxID, resource string) {
	if d.held[tx] == nil {
		d.held[tx] = make(map[string]struct{})
	}
	d.held[tx][resource] = struct{}{}
}

func (d *Detector) enqueueWait(entry *lockEntry, tx TxID, node topology.NodeID, resource string, lt LockType) {
	for _, w := range entry.waiters {
		if w.tx == tx {
			return
		}
	}
	entry.waiters = append(entry.waiters, waitRequest{tx: tx, node: node, lockType: lt, since: time.Now()})
	if d.waiting[tx] == nil {
		d.waiting[tx] = make(map[string]struct{})
	}
	d.waiting[tx][resource] = struct{}{}
}

func (d *Detector) releaseOne(tx TxID, resource string) {
	entry, ok := d.table[resource]
	if !ok {
		return
	}
	delete(entry.holders, tx)
	if held, ok := d.held[tx]; ok {
		delete(held, resource)
		if len(held) == 0 {
			delete(d.held, tx)
		}
	}
	d.promoteWaiters(entry, resource)
	if len(entry.holders) == 0 && len(entry.waiters) == 0 {
		delete(d.table, resource)
	}
}

// promoteWaiters grants the resource to queued waiters once the current
// holders permit it: the head of the queue first, then consecutive shared
// requests while the entry stays shared. A queued exclusive upgrade is
// granted as soon as the upgrader is the only holder left; without this a
// shared holder waiting on its own upgrade forms no wait-for edge and would
// starve once the other sharers release.
func (d *Detector) promoteWaiters(entry *lockEntry, resource string) {
	for len(entry.waiters) > 0 {
		next := entry.waiters[0]
		if len(entry.holders) > 0 && !next.lockType.CompatibleWith(entry.lockType) {
			if !d.soleHolderUpgrade(entry, next) {
				return
			}
		}
		entry.waiters = entry.waiters[1:]
		if _, holds := entry.holders[next.tx]; len(entry.holders) == 0 || (holds && len(entry.holders) == 1) {
			entry.lockType = next.lockType
		}
		entry.holders[next.tx] = next.node
		d.markHeld(next.tx, resource)
		if waiting, ok := d.waiting[next.tx]; ok {
			delete(waiting, resource)
			if len(waiting) == 0 {
				delete(d.waiting, next.tx)
			}
		}
		d.logger.Debug("lock granted to queued waiter",
			logging.Txn(string(next.tx)), logging.Resource(resource))
	}
}

// soleHolderUpgrade reports whether next is an exclusive request from the
// only remaining holder of the entry, the shared-to-exclusive upgrade case.
func (d *Detector) soleHolderUpgrade(entry *lockEntry, next waitRequest) bool {
	if next.lockType != LockExclusive || len(entry.holders) != 1 {
		return false
	}
	_, holds := entry.holders[next.tx]
	return holds
}

func (d *Detector) removeLocked(tx TxID) bool {
	heldAny := false
	for resource := range d.held[tx] {
		heldAny = true
		d.releaseOne(tx, resource)
	}
	for resource := range d.waiting[tx] {
		heldAny = true
		entry, ok := d.table[resource]
		if !ok {
			continue
		}
		kept := entry.waiters[:0]
		for _, w := range entry.waiters {
			if w.tx != tx {
				kept = append(kept, w)
			}
		}
		entry.waiters = kept
		if len(entry.holders) == 0 && len(entry.waiters) == 0 {
			delete(d.table, resource)
		}
	}
	delete(d.held, tx)
	delete(d.waiting, tx)
	return heldAny
}

func (d *Detector) updateGauges() {
	if d.metrics == nil {
		return
	}
	locks := 0
	edges := 0
	for _, entry := range d.table {
		locks += len(entry.holders)
		for _, w := range entry.waiters {
			for holder := range entry.holders {
				if w.tx != holder {
					edges++
				}
			}
		}
	}
	d.metrics.UpdateLockTable(locks, edges)
}
