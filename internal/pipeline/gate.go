package pipeline

import (
	"fmt"

	"github.com/gramveda/claim-intake/internal/model"
)

// GateAction is the tagged outcome of the commit gate.
type GateAction string

const (
	GateCommit GateAction = "commit"
	GateReview GateAction = "review"
)

// GateInput is an immutable snapshot of everything the gate considers.
type GateInput struct {
	Confidence       float64
	MaxSeverity      model.Severity
	MaxDuplicateProb float64
	ReviewApproved   bool

	CommitConfidence   float64
	DuplicateThreshold float64
}

// GateDecision is the gate's verdict with the reasons a job was held.
type GateDecision struct {
	Action  GateAction
	Reasons []string
}

// EvaluateGate is the pure decision function for automatic commit: commit
// only when confidence clears the bar, no conflict severity above low, and
// no duplicate candidate above the threshold. A reviewer approval bypasses
// the check once.
func EvaluateGate(in GateInput) GateDecision {
	if in.ReviewApproved {
		return GateDecision{Action: GateCommit, Reasons: []string{"review approved"}}
	}

	var reasons []string
	if in.Confidence < in.CommitConfidence {
		reasons = append(reasons,
			fmt.Sprintf("confidence %.1f below %.0f", in.Confidence, in.CommitConfidence))
	}
	if in.MaxSeverity.BlocksCommit() {
		reasons = append(reasons,
			fmt.Sprintf("conflict severity %s", in.MaxSeverity))
	}
	if in.MaxDuplicateProb > in.DuplicateThreshold {
		reasons = append(reasons,
			fmt.Sprintf("duplicate probability %.1f above %.0f", in.MaxDuplicateProb, in.DuplicateThreshold))
	}

	if len(reasons) > 0 {
		return GateDecision{Action: GateReview, Reasons: reasons}
	}
	return GateDecision{Action: GateCommit}
}
