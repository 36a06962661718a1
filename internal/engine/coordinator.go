package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/medbridge/claimsync/internal/domain"
	"github.com/medbridge/claimsync/internal/draft"
	"github.com/medbridge/claimsync/internal/normalize"
	"github.com/medbridge/claimsync/internal/tariff"
)

// SubmitClient sends one operator message to the hospital backend and
// returns the raw, shape-unknown response body.
type SubmitClient interface {
	Submit(ctx context.Context, claimID, message string) ([]byte, error)
}

// LocalParser extracts a partial draft from operator free text. It is the
// client-side safety net for backends that omit structure; implementations
// are external and may return nil.
type LocalParser interface {
	Parse(text string) *domain.Draft
}

// Activator is the poller-facing hook the coordinator calls when a
// response marks the claim as awaiting an insurer decision.
type Activator interface {
	Activate(claimID string)
}

// ErrCancelled reports that a submission was superseded or stopped before
// its response was applied. It is not a failure: no message was appended
// and the claim is exactly as it was before the call.
var ErrCancelled = errors.New("submission cancelled")

// Coordinator issues the one active mutating request per claim. A new
// submission for a claim cancels that claim's outstanding request;
// requests for different claims do not interfere. Results are routed
// through the normalizer and merged into the store; a cancelled request
// applies nothing.
type Coordinator struct {
	mu       sync.Mutex
	inflight map[string]*inflightRequest

	store  *Store
	client SubmitClient
	tariff tariff.Table
	parser LocalParser
	poller Activator
	logger *slog.Logger
}

type inflightRequest struct {
	cancel context.CancelFunc
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLocalParser sets the client-side free-text draft parser.
func WithLocalParser(p LocalParser) CoordinatorOption {
	return func(c *Coordinator) { c.parser = p }
}

// WithTariff sets the tariff table used to price merged drafts.
func WithTariff(t tariff.Table) CoordinatorOption {
	return func(c *Coordinator) { c.tariff = t }
}

// WithActivator sets the poller hook for insurer-pending responses.
func WithActivator(a Activator) CoordinatorOption {
	return func(c *Coordinator) { c.poller = a }
}

// WithCoordinatorLogger sets the coordinator logger.
func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = logger }
}

// NewCoordinator creates a request coordinator over store and client.
func NewCoordinator(store *Store, client SubmitClient, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		inflight: make(map[string]*inflightRequest),
		store:    store,
		client:   client,
		tariff:   tariff.Synthetic,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit sends one operator message for a claim and applies the response.
// It blocks until the exchange completes, fails, or is cancelled. The
// whole exchange is applied only on completion, so a cancelled submission
// leaves no trace in the message list.
func (c *Coordinator) Submit(ctx context.Context, claimID, message string) error {
	claim, err := c.store.Get(claimID)
	if err != nil {
		return err
	}
	if !AllowedActions(claim).CanSubmitInput {
		return domain.NewStateError(domain.ErrorTypeNotAllowed,
			"claim %s no longer accepts input", claimID)
	}

	reqCtx, token := c.register(ctx, claimID)
	raw, err := c.client.Submit(reqCtx, claimID, message)
	// Capture the cancellation state before deregister releases the
	// context; afterwards it is always cancelled.
	cancelled := reqCtx.Err() != nil
	c.deregister(claimID, token)

	if cancelled {
		// Superseded or stopped. Even a response that raced in before
		// the cancel took effect must not update the store.
		return ErrCancelled
	}
	if err != nil {
		c.logger.Warn("submission failed",
			slog.String("claim_id", claimID),
			slog.String("error", err.Error()),
		)
		if appendErr := c.applyFailure(ctx, claimID, message, err); appendErr != nil {
			return appendErr
		}
		return domain.NewStateError(domain.ErrorTypeTransport, "submission failed: %v", err)
	}

	return c.applyResponse(ctx, claimID, message, raw)
}

// Stop cancels the claim's in-flight request, if any. Stopping a claim
// with nothing in flight, or one whose request already finished, is a
// no-op.
func (c *Coordinator) Stop(claimID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if req, ok := c.inflight[claimID]; ok {
		req.cancel()
		delete(c.inflight, claimID)
	}
}

// Busy reports whether the claim has a request in flight.
func (c *Coordinator) Busy(claimID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[claimID]
	return ok
}

func (c *Coordinator) register(ctx context.Context, claimID string) (context.Context, *inflightRequest) {
	reqCtx, cancel := context.WithCancel(ctx)
	token := &inflightRequest{cancel: cancel}

	c.mu.Lock()
	if prev, ok := c.inflight[claimID]; ok {
		prev.cancel()
	}
	c.inflight[claimID] = token
	c.mu.Unlock()

	return reqCtx, token
}

func (c *Coordinator) deregister(claimID string, token *inflightRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[claimID] == token {
		delete(c.inflight, claimID)
	}
	token.cancel()
}

// applyResponse normalizes the raw body, merges server and local drafts,
// and appends the user/assistant exchange.
func (c *Coordinator) applyResponse(ctx context.Context, claimID, message string, raw []byte) error {
	res := normalize.Normalize(raw)

	var local *domain.Draft
	if c.parser != nil {
		local = c.parser.Parse(message)
	}
	merged := draft.Merge(res.Draft, local)
	if merged != nil {
		if unpriced := c.tariff.Complete(merged); len(unpriced) > 0 {
			c.logger.Info("procedures without tariff price",
				slog.String("claim_id", claimID),
				slog.Any("procedures", unpriced),
			)
		}
		merged.Recompute(c.store.TaxRate())
	}

	userMsg := domain.Message{Role: domain.RoleUser, Content: message}
	if err := c.store.AppendMessage(ctx, claimID, userMsg, ""); err != nil {
		return err
	}

	text := res.Text
	if text == "" {
		text = draft.Summarize(merged)
	}

	reply := domain.Message{
		Role:    domain.RoleAssistant,
		Content: text,
		Draft:   merged,
	}

	stage := res.Stage
	if res.InsurerPending {
		stage = domain.StageInsurerPending
		reply.StageTag = domain.TagPending
		reply.PendingDecision = &domain.PendingDecisionMeta{SubmittedAt: time.Now()}
	}

	// An envelope may imply a stage the claim already passed; the reply is
	// still recorded, the stage just stays where it is.
	if stage != "" {
		if cur, err := c.store.Get(claimID); err == nil && !cur.Stage.CanAdvanceTo(stage) {
			stage = ""
		}
	}

	if err := c.store.AppendMessage(ctx, claimID, reply, stage); err != nil {
		return err
	}

	if res.InsurerPending && c.poller != nil {
		c.poller.Activate(claimID)
	}
	return nil
}

// applyFailure records the operator input plus one system-visible error
// message. The stage is left unchanged.
func (c *Coordinator) applyFailure(ctx context.Context, claimID, message string, cause error) error {
	userMsg := domain.Message{Role: domain.RoleUser, Content: message}
	if err := c.store.AppendMessage(ctx, claimID, userMsg, ""); err != nil {
		return err
	}
	errMsg := domain.Message{
		Role:    domain.RoleSystem,
		Content: fmt.Sprintf("The request could not be completed: %v. Please try again.", cause),
	}
	return c.store.AppendMessage(ctx, claimID, errMsg, "")
}
