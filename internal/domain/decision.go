package domain

// DecisionStatus is the insurer-side status of a submitted claim.
type DecisionStatus string

const (
	DecisionPending  DecisionStatus = "pending"
	DecisionApproved DecisionStatus = "approved"
	DecisionDenied   DecisionStatus = "denied"
)

// Terminal reports whether the status is a final adjudication outcome.
func (s DecisionStatus) Terminal() bool {
	return s == DecisionApproved || s == DecisionDenied
}

// Decision is one entry from the external decision source.
type Decision struct {
	ClaimID string           `json:"claim_id"`
	Status  DecisionStatus   `json:"status"`
	Payload *DecisionPayload `json:"decision_payload,omitempty"`
}

// DecisionPayload carries the adjudication summary attached to a terminal
// decision. Shape follows the insurer's adjudication result.
type DecisionPayload struct {
	PolicyID     string  `json:"policy_id,omitempty"`
	Eligible     bool    `json:"eligible"`
	Reason       string  `json:"reason,omitempty"`
	TotalPayable float64 `json:"total_payable"`
	Summary      string  `json:"summary,omitempty"`
}

// StageTagFor maps a terminal decision status to the message tag that
// records it, or "" for non-terminal statuses.
func (s DecisionStatus) StageTagFor() StageTag {
	switch s {
	case DecisionApproved:
		return TagApproved
	case DecisionDenied:
		return TagDenied
	default:
		return ""
	}
}

// StageFor maps a terminal decision status to the claim stage it advances
// to, or "" for non-terminal statuses.
func (s DecisionStatus) StageFor() Stage {
	switch s {
	case DecisionApproved:
		return StageInsurerApproved
	case DecisionDenied:
		return StageInsurerDenied
	default:
		return ""
	}
}
