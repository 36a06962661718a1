package domain

import "time"

// Stage is the claim's discrete lifecycle position. It only ever advances
// along the fixed order below; nothing moves it backward except deleting
// the whole claim.
type Stage string

const (
	StageDraft            Stage = "draft"
	StageHospitalPending  Stage = "hospital_pending"
	StageHospitalApproved Stage = "hospital_approved"
	StageInsurerPending   Stage = "insurer_pending"
	StageInsurerApproved  Stage = "insurer_approved"
	StageInsurerDenied    Stage = "insurer_denied"
)

var stageRank = map[Stage]int{
	StageDraft:            0,
	StageHospitalPending:  1,
	StageHospitalApproved: 2,
	StageInsurerPending:   3,
	StageInsurerApproved:  4,
	StageInsurerDenied:    4,
}

// Valid reports whether s is one of the closed set of stages.
func (s Stage) Valid() bool {
	_, ok := stageRank[s]
	return ok
}

// Rank returns the stage's position in the lifecycle order. Both terminal
// insurer stages share the final rank.
func (s Stage) Rank() int {
	return stageRank[s]
}

// CanAdvanceTo reports whether moving from s to next respects stage
// monotonicity. Equal rank is allowed only for the identical stage, so a
// claim can never flip between approved and denied.
func (s Stage) CanAdvanceTo(next Stage) bool {
	if !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	return next.Rank() > s.Rank()
}

// Terminal reports whether the claim has reached an insurer decision.
func (s Stage) Terminal() bool {
	return s == StageInsurerApproved || s == StageInsurerDenied
}

// StageTag marks which lifecycle transition a message represents. It is the
// structural dedup key for decision application: per claim at most one
// message may carry TagApproved and at most one TagDenied.
type StageTag string

const (
	TagPending  StageTag = "pending"
	TagApproved StageTag = "approved"
	TagDenied   StageTag = "denied"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one turn in a claim's conversation.
type Message struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`

	// Draft is the structured result attached to an assistant message,
	// when the backend (or local parsing) produced one.
	Draft *Draft `json:"draft,omitempty"`

	// Decision holds the insurer decision payload on terminal messages.
	Decision *DecisionPayload `json:"decision,omitempty"`

	// StageTag records which lifecycle transition this message represents.
	StageTag StageTag `json:"stage_tag,omitempty"`

	// PendingDecision is set while this message is the unresolved
	// sent-to-insurer marker; it is cleared once a decision lands.
	PendingDecision *PendingDecisionMeta `json:"pending_decision,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// PendingDecisionMeta is attached to the message that recorded an insurer
// submission, until the decision arrives.
type PendingDecisionMeta struct {
	SubmittedAt time.Time `json:"submitted_at"`
}

// Claim is one insurance submission tracked through its lifecycle.
type Claim struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Stage Stage  `json:"stage"`

	// Messages is append-only; entries are never reordered or removed
	// short of deleting the whole claim.
	Messages []Message `json:"messages"`

	// Transient is true for a claim created locally but not yet persisted.
	// It flips to false exactly once, with the first persisted write.
	Transient bool `json:"transient"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LatestDraft returns the draft carried by the most recent assistant
// message, or nil if no assistant message carries one.
func (c *Claim) LatestDraft() *Draft {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		m := c.Messages[i]
		if m.Role == RoleAssistant && m.Draft != nil {
			return m.Draft
		}
	}
	return nil
}

// HasStageTag reports whether any message already carries tag.
func (c *Claim) HasStageTag(tag StageTag) bool {
	for i := range c.Messages {
		if c.Messages[i].StageTag == tag {
			return true
		}
	}
	return false
}
