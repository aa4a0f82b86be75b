package config

import "errors"

var (
	// ErrPrepareExceedsTransaction indicates the per-participant prepare
	// deadline does not fit inside the overall transaction timeout.
	ErrPrepareExceedsTransaction = errors.New("prepare timeout must be shorter than transaction timeout")
)
