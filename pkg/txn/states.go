package txn

// State is a transaction's position in the commit protocol.
type State string

const (
	StateActive     State = "ACTIVE"
	StatePreparing  State = "PREPARING"
	StatePrepared   State = "PREPARED"
	StateCommitting State = "COMMITTING"
	StateCommitted  State = "COMMITTED"
	StateAborting   State = "ABORTING"
	StateAborted    State = "ABORTED"
)

// CanTransitionTo reports whether the protocol permits moving from s to
// next. Transitions are monotonic: nothing ever leaves a terminal state, and
// no state moves backward.
func (s State) CanTransitionTo(next State) bool {
	switch s {
	case StateActive:
		return next == StatePreparing || next == StateAborting
	case StatePreparing:
		return next == StatePrepared || next == StateAborting
	case StatePrepared:
		return next == StateCommitting || next == StateAborting
	case StateCommitting:
		return next == StateCommitted || next == StateAborting
	case StateAborting:
		return next == StateAborted
	case StateCommitted, StateAborted:
		return false
	default:
		return false
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateAborted
}

// CommitResult is the externally visible outcome of a transaction.
type CommitResult string

const (
	Committed CommitResult = "COMMITTED"
	Aborted   CommitResult = "ABORTED"
)
