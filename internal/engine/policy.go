package engine

import "github.com/medbridge/claimsync/internal/domain"

// Actions are the operator actions currently permitted for a claim. They
// are recomputed from claim state on every read, never cached.
type Actions struct {
	CanApprove       bool `json:"can_approve"`
	CanSendToInsurer bool `json:"can_send_to_insurer"`
	CanSubmitInput   bool `json:"can_submit_input"`
}

// AllowedActions computes the permitted operator actions from the claim's
// current state. Pure function of its input.
func AllowedActions(c *domain.Claim) Actions {
	if c == nil {
		return Actions{}
	}

	insurerEntered := c.HasStageTag(domain.TagPending) ||
		c.HasStageTag(domain.TagApproved) ||
		c.HasStageTag(domain.TagDenied) ||
		c.Stage.Rank() >= domain.StageInsurerPending.Rank()

	var canApprove bool
	if !insurerEntered &&
		(c.Stage == domain.StageDraft || c.Stage == domain.StageHospitalPending) {
		if d := c.LatestDraft(); d != nil && d.Complete() {
			canApprove = true
		}
	}

	canSend := c.Stage == domain.StageHospitalApproved && !insurerEntered

	// A denied claim is terminal: further input is disabled pending an
	// explicit product decision on resubmission.
	canInput := c.Stage != domain.StageInsurerDenied

	return Actions{
		CanApprove:       canApprove,
		CanSendToInsurer: canSend,
		CanSubmitInput:   canInput,
	}
}
