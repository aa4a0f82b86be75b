package fault

import (
	"time"

	"github.com/dd0wney/telecom-txcore/pkg/topology"
)

// EvidenceKind classifies what kind of Byzantine misbehavior was observed.
type EvidenceKind string

const (
	ConflictingMessages EvidenceKind = "CONFLICTING_MESSAGES"
	InvalidSignature    EvidenceKind = "INVALID_SIGNATURE"
	ProtocolViolation   EvidenceKind = "PROTOCOL_VIOLATION"
	TimingAttack        EvidenceKind = "TIMING_ATTACK"
	DataCorruption      EvidenceKind = "DATA_CORRUPTION"
)

// Evidence is one report of Byzantine behavior against a suspect node.
// Evidence is append-only: once recorded it is never mutated or removed.
type Evidence struct {
	Suspect     topology.NodeID
	Reporter    topology.NodeID
	Kind        EvidenceKind
	Witnesses   []topology.NodeID
	Description string
	Timestamp   time.Time
	Confidence  float64 // 0.0 to 1.0
}

// highConfidenceThreshold is the confidence score at or above which a single
// report counts toward quarantine.
const highConfidenceThreshold = 0.8

// quarantineReportCount is how many high-confidence reports are required to
// quarantine a node. A single report, or any number of low-confidence
// reports, is insufficient: accusations require corroboration to resist a
// single faulty reporter.
const quarantineReportCount = 2

// HighConfidence reports whether this evidence alone counts toward the
// quarantine threshold.
func (e Evidence) HighConfidence() bool {
	return e.Confidence >= highConfidenceThreshold
}

// shouldQuarantine applies the evidence threshold rule to a suspect's
// accumulated evidence set.
func shouldQuarantine(evidence []Evidence) bool {
	if len(evidence) < quarantineReportCount {
		return false
	}
	high := 0
	for _, e := range evidence {
		if e.HighConfidence() {
			high++
		}
	}
	return high >= quarantineReportCount
}
