package txn

import (
	"context"
	"errors"
	"time"

	"github.com/dd0wney/telecom-txcore/pkg/fault"
	"github.com/dd0wney/telecom-txcore/pkg/logging"
	"github.com/dd0wney/telecom-txcore/pkg/topology"
	"github.com/dd0wney/telecom-txcore/pkg/transport"
)

// defaultFailureProbability is assumed for nodes with no configured value.
const defaultFailureProbability = 0.01

// bottleneckTimeoutFactor stretches deadlines for nodes identified as
// bottlenecks, which answer slowly but correctly.
const bottleneckTimeoutFactor = 1.5

// SetFailureProbability records the asymmetric failure probability for one
// node. Prepare deadlines scale with it.
func (c *Coordinator) SetFailureProbability(node topology.NodeID, probability float64) {
	c.probMu.Lock()
	defer c.probMu.Unlock()
	c.failureProbs[node] = probability
}

// SetBottleneck marks or unmarks a node as a bottleneck.
func (c *Coordinator) SetBottleneck(node topology.NodeID, bottleneck bool) {
	c.probMu.Lock()
	defer c.probMu.Unlock()
	if bottleneck {
		c.bottlenecks[node] = struct{}{}
	} else {
		delete(c.bottlenecks, node)
	}
}

// asymmetricTimeout computes the per-participant prepare deadline. Nodes
// with a higher failure probability get proportionally more time, and
// bottleneck nodes get half again as much.
func (c *Coordinator) asymmetricTimeout(node topology.NodeID) time.Duration {
	c.probMu.RLock()
	probability, ok := c.failureProbs[node]
	_, bottleneck := c.bottlenecks[node]
	c.probMu.RUnlock()

	if !ok {
		probability = defaultFailureProbability
	}

	multiplier := 1.0 + probability*2.0
	if bottleneck {
		multiplier *= bottleneckTimeoutFactor
	}
	return time.Duration(float64(c.cfg.PrepareTimeout) * multiplier)
}

// requestVote asks one participant to vote on a transaction. A yes vote is
// an OK response; anything else, including exhausted retries, is a no.
func (c *Coordinator) requestVote(ctx context.Context, tx *Transaction, participant topology.NodeID) bool {
	timeout := c.asymmetricTimeout(participant)
	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg := transport.Message{
		ID:        transport.NewMessageID(),
		From:      c.self,
		To:        participant,
		Type:      transport.MsgPrepare,
		Payload:   []byte(tx.ID),
		Timestamp: time.Now(),
		Priority:  1,
	}

	policy := transport.RetryPolicy{MaxRetries: c.cfg.MaxRetries, Backoff: c.cfg.RetryBackoff}
	resp, err := transport.SendWithRetry(vctx, c.rpc, participant, msg, policy, c.metrics)
	if err != nil {
		c.reportParticipantFailure(participant, err)
		c.recordVote("timeout")
		return false
	}
	if resp.OK {
		c.recordVote("yes")
		return true
	}
	c.recordVote("no")
	return false
}

// sendDecision delivers a commit or abort decision to one participant.
func (c *Coordinator) sendDecision(ctx context.Context, tx *Transaction, participant topology.NodeID, mt transport.MessageType) error {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.CommitTimeout)
	defer cancel()

	msg := transport.Message{
		ID:        transport.NewMessageID(),
		From:      c.self,
		To:        participant,
		Type:      mt,
		Payload:   []byte(tx.ID),
		Timestamp: time.Now(),
		Priority:  1,
	}

	policy := transport.RetryPolicy{MaxRetries: c.cfg.MaxRetries, Backoff: c.cfg.RetryBackoff}
	_, err := transport.SendWithRetry(dctx, c.rpc, participant, msg, policy, c.metrics)
	if err != nil {
		c.reportParticipantFailure(participant, err)
	}
	return err
}

// reportParticipantFailure forwards a mid-protocol participant failure to
// the fault manager. The failure affects this transaction's outcome only;
// it never escalates into a coordinator crash.
func (c *Coordinator) reportParticipantFailure(participant topology.NodeID, err error) {
	if _, known := c.faults.FailureOf(participant); known {
		return
	}

	switch {
	case errors.Is(err, transport.ErrUnreachable):
		c.faults.DetectFailure(participant, fault.Crash)
	case errors.Is(err, transport.ErrRetriesExhausted), errors.Is(err, transport.ErrTimeout):
		c.faults.DetectFailure(participant, fault.Omission)
	default:
		c.logger.Warn("participant error not classified",
			logging.Node(string(participant)),
			logging.Error(err))
	}
}

func (c *Coordinator) recordVote(vote string) {
	if c.metrics != nil {
		c.metrics.RecordPrepareVote(vote)
	}
}
