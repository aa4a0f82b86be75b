package txn

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/telecom-txcore/pkg/config"
	"github.com/dd0wney/telecom-txcore/pkg/deadlock"
	"github.com/dd0wney/telecom-txcore/pkg/fault"
	"github.com/dd0wney/telecom-txcore/pkg/logging"
	"github.com/dd0wney/telecom-txcore/pkg/metrics"
	"github.com/dd0wney/telecom-txcore/pkg/tasks"
	"github.com/dd0wney/telecom-txcore/pkg/topology"
	"github.com/dd0wney/telecom-txcore/pkg/transport"
	"github.com/dd0wney/telecom-txcore/pkg/validation"
)

// NewCoordinator creates a coordinator running on self. The metrics registry
// may be nil.
func NewCoordinator(cfg config.CoordinatorConfig, self topology.NodeID, rpc transport.RPC, detector *deadlock.Detector, faults *fault.Manager, logger logging.Logger, reg *metrics.Registry) *Coordinator {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Coordinator{
		cfg:          cfg,
		self:         self,
		rpc:          rpc,
		detector:     detector,
		faults:       faults,
		logger:       logger.With(logging.Component("txn")),
		metrics:      reg,
		sched:        tasks.NewScheduler(),
		active:       make(map[TxID]*Transaction),
		failureProbs: make(map[topology.NodeID]float64),
		bottlenecks:  make(map[topology.NodeID]struct{}),
	}
}

// Begin starts a transaction for a standard-class service.
func (c *Coordinator) Begin() *Transaction {
	return c.BeginForService(fault.ServiceStandard)
}

// BeginForService starts a transaction in the ACTIVE state and schedules its
// timeout abort. The service class determines the replication strategy the
// fault manager assigns at prepare time.
func (c *Coordinator) BeginForService(service fault.ServiceClass) *Transaction {
	tx := &Transaction{
		ID:        TxID("tx-" + uuid.NewString()),
		StartTime: time.Now(),
		Timeout:   c.cfg.TransactionTimeout,
		state:     StateActive,
		service:   service,
	}

	c.mu.Lock()
	c.active[tx.ID] = tx
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.TransactionsActive.Inc()
	}

	c.sched.Schedule(timeoutTask(tx.ID), tx.Timeout, func() {
		c.abortOnTimeout(tx.ID)
	})

	c.logger.Info("transaction started",
		logging.Txn(string(tx.ID)),
		logging.String("service_class", string(service)),
		logging.Duration("timeout", tx.Timeout))
	return tx
}

// Lookup returns the active transaction with the given id.
func (c *Coordinator) Lookup(id TxID) (*Transaction, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tx, ok := c.active[id]
	return tx, ok
}

// State returns a transaction's current protocol state.
func (c *Coordinator) State(id TxID) (State, bool) {
	tx, ok := c.Lookup(id)
	if !ok {
		return "", false
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state, true
}

// Prepare runs phase one of the commit protocol: every participant is asked
// to vote, each under its own asymmetric deadline. A unanimous yes moves the
// transaction to PREPARED; anything less aborts it.
//
// Before the vote each participant's prepare slot is registered as an
// exclusive resource, so concurrent transactions contending for the same
// nodes become visible to the deadlock detector. If this transaction ends up
// in a cycle and is chosen as the victim, it is aborted and
// ErrDeadlockVictim is returned.
func (c *Coordinator) Prepare(ctx context.Context, id TxID, participants []topology.NodeID) error {
	tx, ok := c.Lookup(id)
	if !ok {
		return ErrTxNotFound
	}
	if len(participants) == 0 {
		return ErrEmptyParticipants
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if time.Since(tx.StartTime) > tx.Timeout {
		c.finishAbort(tx, "timed out before prepare")
		return ErrTxTimedOut
	}
	if !tx.state.CanTransitionTo(StatePreparing) {
		return ErrInvalidTransition
	}

	// Participant sets come from outside the engine; reject malformed ones
	// before any state changes so the caller can retry.
	names := make([]string, len(participants))
	for i, p := range participants {
		names[i] = string(p)
	}
	if err := validation.ValidateTransactionRequest(&validation.TransactionRequest{
		Class:        string(tx.service),
		Participants: names,
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParticipants, err)
	}

	tx.state = StatePreparing
	tx.Participants = participants
	tx.strategy = c.faults.ReplicationStrategyFor(tx.service)

	for _, p := range participants {
		if _, err := c.detector.RecordResourceAcquisition(tx.ID, p, prepareResource(p), deadlock.LockExclusive); err != nil {
			c.finishAbort(tx, "lock registration failed")
			return err
		}
	}

	votes := make([]bool, len(participants))
	var g errgroup.Group
	for i, p := range participants {
		i, p := i, p
		g.Go(func() error {
			votes[i] = c.requestVote(ctx, tx, p)
			return nil
		})
	}
	_ = g.Wait() // vote goroutines never return errors

	// Contention registered above may have closed a cycle with another
	// in-flight transaction. Resolve it before acting on the votes.
	deadlocked := c.detector.DetectDeadlocks()
	if _, inCycle := deadlocked[tx.ID]; inCycle {
		victim := c.resolveDeadlock(deadlocked, tx)
		if victim == tx.ID {
			c.finishAbort(tx, "selected as deadlock victim")
			return ErrDeadlockVictim
		}
	}

	for i, yes := range votes {
		if !yes {
			c.logger.Warn("participant voted no or timed out",
				logging.Txn(string(tx.ID)),
				logging.Node(string(participants[i])))
			c.finishAbort(tx, "prepare vote failed")
			return ErrPrepareFailed
		}
	}

	tx.state = StatePrepared
	c.logger.Info("transaction prepared",
		logging.Txn(string(tx.ID)),
		logging.Count(len(participants)))
	return nil
}

// Commit runs phase two. The decision to commit is only honored if every
// participant that prepared is still trusted by the fault manager, or if the
// strategy tolerates losing the excluded ones. A transaction that cannot
// commit is aborted; the returned result is the authoritative outcome.
func (c *Coordinator) Commit(ctx context.Context, id TxID) (CommitResult, error) {
	tx, ok := c.Lookup(id)
	if !ok {
		return Aborted, ErrTxNotFound
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if time.Since(tx.StartTime) > tx.Timeout {
		c.finishAbort(tx, "timed out before commit")
		return Aborted, ErrTxTimedOut
	}
	if !tx.state.CanTransitionTo(StateCommitting) {
		c.finishAbort(tx, "commit requested in invalid state")
		return Aborted, ErrInvalidTransition
	}

	trusted := make([]topology.NodeID, 0, len(tx.Participants))
	for _, p := range tx.Participants {
		if c.faults.Trusted(p) {
			trusted = append(trusted, p)
		}
	}

	if excluded := len(tx.Participants) - len(trusted); excluded > 0 {
		if c.metrics != nil {
			c.metrics.ParticipantExclusions.Add(float64(excluded))
		}
		c.logger.Warn("participants failed between prepare and commit",
			logging.Txn(string(tx.ID)),
			logging.Count(excluded))

		if tx.strategy.Consistency == fault.Strong || len(trusted) < tx.strategy.MinimumNodes() {
			c.finishAbort(tx, "surviving participants cannot satisfy strategy")
			return Aborted, nil
		}
	}

	tx.state = StateCommitting

	var g errgroup.Group
	for _, p := range trusted {
		p := p
		g.Go(func() error {
			return c.sendDecision(ctx, tx, p, transport.MsgCommit)
		})
	}
	if err := g.Wait(); err != nil {
		c.finishAbort(tx, "commit delivery failed")
		return Aborted, nil
	}

	tx.state = StateCommitted
	c.retire(tx, "committed")
	c.logger.Info("transaction committed",
		logging.Txn(string(tx.ID)),
		logging.Count(len(trusted)))
	return Committed, nil
}

// Abort aborts a transaction regardless of its phase. Aborting a transaction
// already in a terminal state is a no-op.
func (c *Coordinator) Abort(id TxID) error {
	tx, ok := c.Lookup(id)
	if !ok {
		return ErrTxNotFound
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	c.finishAbort(tx, "abort requested")
	return nil
}

// abortOnTimeout is the scheduled deadline task.
func (c *Coordinator) abortOnTimeout(id TxID) {
	tx, ok := c.Lookup(id)
	if !ok {
		return
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state.Terminal() {
		return
	}
	c.logger.Warn("transaction deadline expired", logging.Txn(string(id)))
	c.finishAbort(tx, "deadline expired")
}

// finishAbort drives tx to ABORTED, notifies participants best-effort, and
// releases every trace of the transaction. Callers must hold tx.mu. Safe to
// call on any non-terminal state; terminal transactions are left alone.
func (c *Coordinator) finishAbort(tx *Transaction, reason string) {
	if tx.state.Terminal() {
		return
	}
	tx.state = StateAborting

	if len(tx.Participants) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CommitTimeout)
		var g errgroup.Group
		for _, p := range tx.Participants {
			p := p
			g.Go(func() error {
				_ = c.sendDecision(ctx, tx, p, transport.MsgAbort) // best effort
				return nil
			})
		}
		_ = g.Wait()
		cancel()
	}

	tx.state = StateAborted
	c.detector.PerformRecovery(tx.ID)
	c.remove(tx.ID)
	c.sched.Cancel(timeoutTask(tx.ID))
	if c.metrics != nil {
		c.metrics.TransactionsActive.Dec()
		c.metrics.RecordTransaction("aborted", time.Since(tx.StartTime))
	}
	c.logger.Info("transaction aborted",
		logging.Txn(string(tx.ID)),
		logging.String("reason", reason))
}

// retire removes a committed transaction. Callers must hold tx.mu.
func (c *Coordinator) retire(tx *Transaction, outcome string) {
	c.detector.RemoveTransaction(tx.ID)
	c.remove(tx.ID)
	c.sched.Cancel(timeoutTask(tx.ID))
	if c.metrics != nil {
		c.metrics.TransactionsActive.Dec()
		c.metrics.RecordTransaction(outcome, time.Since(tx.StartTime))
	}
}

func (c *Coordinator) remove(id TxID) {
	c.mu.Lock()
	delete(c.active, id)
	c.mu.Unlock()
}

// HandleDeadlock aborts the victim of one detected cycle and returns its id.
// The victim is the youngest member; aborting it releases its locks and
// breaks the cycle, so the surviving transactions can proceed. Returns the
// zero TxID for an empty set.
func (c *Coordinator) HandleDeadlock(deadlocked map[TxID]struct{}) TxID {
	victim := c.selectVictim(deadlocked)
	if victim == "" {
		return ""
	}
	if tx, ok := c.Lookup(victim); ok {
		tx.mu.Lock()
		c.finishAbort(tx, "deadlock victim")
		tx.mu.Unlock()
	} else {
		// Not one of ours; clear its graph footprint anyway.
		c.detector.PerformRecovery(victim)
	}
	return victim
}

// resolveDeadlock is HandleDeadlock for use inside Prepare, where current's
// mutex is already held. If current is the victim the caller aborts it.
func (c *Coordinator) resolveDeadlock(deadlocked map[TxID]struct{}, current *Transaction) TxID {
	victim := c.selectVictim(deadlocked)
	if victim == "" || victim == current.ID {
		return victim
	}
	if tx, ok := c.Lookup(victim); ok {
		tx.mu.Lock()
		c.finishAbort(tx, "deadlock victim")
		tx.mu.Unlock()
	} else {
		c.detector.PerformRecovery(victim)
	}
	return victim
}

func (c *Coordinator) selectVictim(deadlocked map[TxID]struct{}) TxID {
	startTimes := make(map[TxID]time.Time, len(deadlocked))
	c.mu.RLock()
	for id := range deadlocked {
		if tx, ok := c.active[id]; ok {
			startTimes[id] = tx.StartTime
		}
	}
	c.mu.RUnlock()
	return c.detector.SelectVictim(deadlocked, startTimes)
}

// StartDeadlockSweep launches the periodic detection loop. Each sweep
// resolves at most one cycle; overlapping cycles are broken across
// consecutive sweeps.
func (c *Coordinator) StartDeadlockSweep() {
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()
	if c.sweepActive {
		return
	}
	c.sweepActive = true
	c.sweepStop = make(chan struct{})
	stopCh := c.sweepStop

	c.sweepWg.Add(1)
	go func() {
		defer c.sweepWg.Done()
		ticker := time.NewTicker(c.cfg.DeadlockSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				if deadlocked := c.detector.DetectDeadlocks(); len(deadlocked) > 0 {
					c.HandleDeadlock(deadlocked)
				}
			}
		}
	}()
}

// StopDeadlockSweep stops the detection loop and waits for it to exit.
func (c *Coordinator) StopDeadlockSweep() {
	c.sweepMu.Lock()
	if !c.sweepActive {
		c.sweepMu.Unlock()
		return
	}
	c.sweepActive = false
	close(c.sweepStop)
	c.sweepMu.Unlock()
	c.sweepWg.Wait()
}

// Statistics snapshots current coordinator load.
func (c *Coordinator) Statistics() Statistics {
	c.mu.RLock()
	count := len(c.active)
	var totalAge time.Duration
	now := time.Now()
	for _, tx := range c.active {
		totalAge += now.Sub(tx.StartTime)
	}
	c.mu.RUnlock()

	stats := Statistics{
		ActiveTransactions: count,
		LocksHeld:          len(c.detector.Locks()),
	}
	if count > 0 {
		stats.AverageTransactionAge = totalAge / time.Duration(count)
	}
	return stats
}

// Close stops the sweep loop and all pending deadline tasks. Active
// transactions are left in place; they can no longer time out.
func (c *Coordinator) Close() {
	c.StopDeadlockSweep()
	c.sched.Stop()
}

func timeoutTask(id TxID) string {
	return "timeout-" + string(id)
}

func prepareResource(p topology.NodeID) string {
	return "prepare/" + string(p)
}
