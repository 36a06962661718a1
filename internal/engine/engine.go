package engine

import (
	"context"
	"log/slog"

	"github.com/medbridge/claimsync/internal/domain"
)

// Overrider records a manual decision with the insurer.
type Overrider interface {
	Override(ctx context.Context, claimID string, decision domain.DecisionStatus) (*domain.Decision, error)
}

// Engine bundles the store, coordinator and poller behind the operator
// verbs the HTTP layer exposes.
type Engine struct {
	store       *Store
	coordinator *Coordinator
	poller      *Poller
	overrider   Overrider
	logger      *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithOverrider sets the client used for manual decision overrides.
func WithOverrider(o Overrider) EngineOption {
	return func(e *Engine) { e.overrider = o }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// New wires the three engine components together. Deleting a claim stops
// its in-flight submission and its poll loop.
func New(store *Store, coordinator *Coordinator, poller *Poller, opts ...EngineOption) *Engine {
	e := &Engine{
		store:       store,
		coordinator: coordinator,
		poller:      poller,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	store.OnDelete(func(claimID string) {
		coordinator.Stop(claimID)
		poller.Stop(claimID)
	})
	return e
}

// Store returns the underlying claim store.
func (e *Engine) Store() *Store { return e.store }

// Poller returns the decision poller.
func (e *Engine) Poller() *Poller { return e.poller }

// Submit forwards an operator message to the hospital agent.
func (e *Engine) Submit(ctx context.Context, claimID, message string) error {
	return e.coordinator.Submit(ctx, claimID, message)
}

// Stop cancels the claim's in-flight submission, if any.
func (e *Engine) Stop(claimID string) {
	e.coordinator.Stop(claimID)
}

// Busy reports whether the claim has a submission in flight.
func (e *Engine) Busy(claimID string) bool {
	return e.coordinator.Busy(claimID)
}

// Approve asks the hospital agent to approve the current draft. The claim
// must hold a complete draft and must not have entered the insurer phase.
func (e *Engine) Approve(ctx context.Context, claimID string) error {
	c, err := e.store.Get(claimID)
	if err != nil {
		return err
	}
	if !AllowedActions(c).CanApprove {
		return domain.NewStateError(domain.ErrorTypeNotAllowed,
			"claim %s cannot be approved in stage %s", claimID, c.Stage)
	}
	return e.coordinator.Submit(ctx, claimID, "approve")
}

// SendToInsurer asks the hospital agent to forward the approved claim to
// the insurer. Only hospital-approved claims qualify.
func (e *Engine) SendToInsurer(ctx context.Context, claimID string) error {
	c, err := e.store.Get(claimID)
	if err != nil {
		return err
	}
	if !AllowedActions(c).CanSendToInsurer {
		return domain.NewStateError(domain.ErrorTypeNotAllowed,
			"claim %s cannot be sent to the insurer in stage %s", claimID, c.Stage)
	}
	return e.coordinator.Submit(ctx, claimID, "send to insurance")
}

// OverrideDecision records a manual terminal decision with the insurer and
// applies it locally. The claim must already be in the insurer phase.
func (e *Engine) OverrideDecision(ctx context.Context, claimID string, status domain.DecisionStatus) error {
	if !status.Terminal() {
		return domain.NewStateError(domain.ErrorTypeInvalidRequest,
			"override status must be approved or denied, got %q", status)
	}
	c, err := e.store.Get(claimID)
	if err != nil {
		return err
	}
	if c.Stage.Rank() < domain.StageInsurerPending.Rank() {
		return domain.NewStateError(domain.ErrorTypeNotAllowed,
			"claim %s has not been submitted to the insurer", claimID)
	}

	decision := domain.Decision{ClaimID: claimID, Status: status}
	if e.overrider != nil {
		recorded, err := e.overrider.Override(ctx, claimID, status)
		if err != nil {
			return domain.NewStateError(domain.ErrorTypeTransport,
				"insurer override failed: %v", err)
		}
		if recorded != nil {
			decision = *recorded
		}
	}

	applied, err := e.store.ApplyDecision(ctx, claimID, decision)
	if err != nil {
		return err
	}
	if applied {
		e.poller.Stop(claimID)
	}
	return nil
}

// Delete removes the claim, stopping any submission or poll loop for it.
func (e *Engine) Delete(ctx context.Context, claimID string) error {
	return e.store.DeleteClaim(ctx, claimID)
}

// Close shuts down background work.
func (e *Engine) Close() {
	e.poller.Close()
}
