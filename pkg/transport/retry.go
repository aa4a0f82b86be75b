package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dd0wney/telecom-txcore/pkg/metrics"
	"github.com/dd0wney/telecom-txcore/pkg/topology"
)

// RetryPolicy bounds how often a send is retried and how long to wait
// between attempts.
type RetryPolicy struct {
	MaxRetries  int           // retries after the first attempt
	Backoff     time.Duration // base delay between attempts
	Exponential bool          // double the delay each retry
}

// DefaultRetryPolicy matches the protocol defaults: three retries with a
// fixed 100ms backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, Backoff: 100 * time.Millisecond}
}

// SendWithRetry sends msg through rpc, retrying timeouts and transient
// errors per the policy. An unreachable target is not retried: crash-style
// failures are fail-stop and waiting will not bring the node back within a
// transaction's lifetime. The metrics registry may be nil.
func SendWithRetry(ctx context.Context, rpc RPC, target topology.NodeID, msg Message, policy RetryPolicy, reg *metrics.Registry) (Response, error) {
	var lastErr error
	delay := policy.Backoff

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			if reg != nil {
				reg.MessageRetriesTotal.Inc()
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Response{}, fmt.Errorf("%w: %v", ErrRetriesExhausted, ctx.Err())
			case <-timer.C:
			}
			if policy.Exponential {
				delay *= 2
			}
		}

		resp, err := rpc.Send(ctx, target, msg)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, ErrUnreachable) {
			return Response{}, err
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}
	return Response{}, fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr)
}
