package transport

import "errors"

var (
	ErrUnreachable      = errors.New("target node is unreachable")
	ErrTimeout          = errors.New("rpc timed out")
	ErrNoHandler        = errors.New("no handler registered for target node")
	ErrFrameTooShort    = errors.New("frame too short to decode")
	ErrRetriesExhausted = errors.New("retries exhausted")
)
