package fault

import "errors"

var (
	// ErrNoFailureRecorded indicates recovery was requested for a node with
	// no detected failure.
	ErrNoFailureRecorded = errors.New("no failure recorded for node")

	// ErrManualRecoveryRequired indicates the node cannot be recovered
	// automatically. Byzantine nodes stay quarantined until an operator
	// intervenes.
	ErrManualRecoveryRequired = errors.New("node requires manual recovery")

	// ErrManagerClosed indicates the manager has been shut down.
	ErrManagerClosed = errors.New("fault manager is closed")
)
