package deadlock

import "errors"

var (
	ErrEmptyResourceKey = errors.New("resource key cannot be empty")
	ErrEmptyTxID        = errors.New("transaction ID cannot be empty")
	ErrSelfWait         = errors.New("transaction cannot wait on itself")
)
