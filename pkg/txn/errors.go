package txn

import "errors"

var (
	// ErrTxNotFound indicates the transaction id is not in the active set.
	ErrTxNotFound = errors.New("transaction not found")

	// ErrEmptyParticipants indicates prepare was called with no participants.
	ErrEmptyParticipants = errors.New("participant set cannot be empty")

	// ErrInvalidParticipants indicates the participant set failed validation
	// (bad node name, duplicate entry, or too many participants).
	ErrInvalidParticipants = errors.New("invalid participant set")

	// ErrInvalidTransition indicates the requested operation is not legal in
	// the transaction's current state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrTxTimedOut indicates the transaction exceeded its deadline before
	// the operation could run.
	ErrTxTimedOut = errors.New("transaction timed out")

	// ErrPrepareFailed indicates at least one participant voted no or never
	// answered; the transaction was aborted.
	ErrPrepareFailed = errors.New("prepare phase failed")

	// ErrDeadlockVictim indicates the transaction was selected as a deadlock
	// victim during the prepare phase and aborted.
	ErrDeadlockVictim = errors.New("transaction aborted as deadlock victim")
)
