// Package engine implements the claim lifecycle synchronization core: the
// authoritative claim state store, the single-flight request coordinator,
// the decision poller and the lifecycle policy. All mutation goes through
// the store's documented operations; each operation is one critical
// section, so interleaved writers (operator actions and poll ticks) can
// never observe or produce a half-applied transition.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medbridge/claimsync/internal/domain"
	"github.com/medbridge/claimsync/internal/storage"
)

// Store owns the mapping from claim id to claim state. It is the single
// source of truth for the API layer; persistence is written through the
// narrow storage.ClaimStore contract and treated as best-effort mirroring
// of the in-process view, except for the first write which decides the
// transient flag.
type Store struct {
	mu      sync.Mutex
	claims  map[string]*domain.Claim
	persist storage.ClaimStore
	taxRate float64
	logger  *slog.Logger

	// onDelete hooks run after a claim is removed, outside the lock.
	// The coordinator and poller register here so deletion cancels the
	// in-flight request and stops the poll loop.
	onDelete []func(claimID string)
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithTaxRate sets the tax fraction applied when recomputing drafts.
func WithTaxRate(rate float64) StoreOption {
	return func(s *Store) { s.taxRate = rate }
}

// WithStoreLogger sets the store logger.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates a claim state store backed by persist.
func NewStore(persist storage.ClaimStore, opts ...StoreOption) *Store {
	s := &Store{
		claims:  make(map[string]*domain.Claim),
		persist: persist,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnDelete registers a hook invoked with the claim id after deletion.
func (s *Store) OnDelete(hook func(claimID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDelete = append(s.onDelete, hook)
}

// Load hydrates the in-process view from persistence. Call once at startup
// before serving.
func (s *Store) Load(ctx context.Context) error {
	records, err := s.persist.ListClaims(ctx)
	if err != nil {
		return fmt.Errorf("failed to list claims: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		msgs, err := s.persist.ListMessages(ctx, rec.ID)
		if err != nil {
			return fmt.Errorf("failed to load messages for %s: %w", rec.ID, err)
		}
		s.claims[rec.ID] = &domain.Claim{
			ID:        rec.ID,
			Title:     rec.Title,
			Stage:     rec.Stage,
			Messages:  msgs,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		}
	}
	return nil
}

// CreateDraftClaim allocates a transient claim locally. Nothing is
// persisted until the first message is appended.
func (s *Store) CreateDraftClaim(title string) *domain.Claim {
	now := time.Now()
	c := &domain.Claim{
		ID:        "clm_" + uuid.New().String(),
		Title:     title,
		Stage:     domain.StageDraft,
		Transient: true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.claims[c.ID] = c
	s.mu.Unlock()

	return snapshot(c)
}

// Get returns a copy of the claim.
func (s *Store) Get(id string) (*domain.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.claims[id]
	if !ok {
		return nil, fmt.Errorf("claim %s: %w", id, domain.ErrNotFound)
	}
	return snapshot(c), nil
}

// List returns copies of all claims, most recently updated first.
func (s *Store) List() []*domain.Claim {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Claim, 0, len(s.claims))
	for _, c := range s.claims {
		out = append(out, snapshot(c))
	}
	sortClaims(out)
	return out
}

// AppendMessage appends one message to the claim and persists it. The
// first persisted write also persists the claim record and clears the
// transient flag, exactly once. An optional stage advances the claim if it
// respects monotonicity; a backward stage is rejected.
func (s *Store) AppendMessage(ctx context.Context, id string, msg domain.Message, stage domain.Stage) error {
	s.mu.Lock()
	c, ok := s.claims[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("claim %s: %w", id, domain.ErrNotFound)
	}

	if stage != "" && !c.Stage.CanAdvanceTo(stage) {
		s.mu.Unlock()
		return domain.NewStateError(domain.ErrorTypeNotAllowed,
			"claim %s cannot move from %s to %s", id, c.Stage, stage)
	}

	if msg.ID == "" {
		msg.ID = "msg_" + uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	wasTransient := c.Transient
	c.Messages = append(c.Messages, msg)
	if stage != "" {
		c.Stage = stage
	}
	c.UpdatedAt = time.Now()
	title, st := c.Title, c.Stage
	s.mu.Unlock()

	if err := s.persistAppend(ctx, id, wasTransient, title, st, &msg); err != nil {
		return err
	}
	// The claim stops being transient only once its record actually
	// exists; a failed first write leaves it transient so the next
	// append retries the create.
	if wasTransient {
		s.markPersisted(id)
	}
	return nil
}

// ApplyDecision is the single idempotent entry point for terminal insurer
// decisions. The existing-tag check and the append happen inside one
// critical section, so two racing appliers can never both observe "no
// marker yet". The returned bool reports whether state actually changed;
// re-application of an already-recorded decision is a no-op, not an error.
func (s *Store) ApplyDecision(ctx context.Context, id string, decision domain.Decision) (bool, error) {
	tag := decision.Status.StageTagFor()
	if tag == "" {
		return false, domain.NewStateError(domain.ErrorTypeInvalidRequest,
			"decision for claim %s has non-terminal status %q", id, decision.Status)
	}

	s.mu.Lock()
	c, ok := s.claims[id]
	if !ok {
		s.mu.Unlock()
		return false, fmt.Errorf("claim %s: %w", id, domain.ErrNotFound)
	}

	if c.HasStageTag(tag) {
		s.mu.Unlock()
		return false, nil
	}

	next := decision.Status.StageFor()
	if !c.Stage.CanAdvanceTo(next) {
		// The other terminal tag is already recorded; keep the first
		// decision authoritative.
		s.mu.Unlock()
		return false, nil
	}

	msg := domain.Message{
		ID:        "msg_" + uuid.New().String(),
		Role:      domain.RoleAssistant,
		Content:   decisionText(decision),
		Decision:  decision.Payload,
		StageTag:  tag,
		CreatedAt: time.Now(),
	}

	// Resolve the sent-to-insurer marker; the metadata is cleared, the
	// message itself stays.
	for i := range c.Messages {
		c.Messages[i].PendingDecision = nil
	}

	wasTransient := c.Transient
	c.Messages = append(c.Messages, msg)
	c.Stage = next
	c.UpdatedAt = time.Now()
	title := c.Title
	s.mu.Unlock()

	if err := s.persistAppend(ctx, id, wasTransient, title, next, &msg); err != nil {
		// The in-process view already advanced; persistence is mirrored
		// best-effort and retried on the next write. A transient claim
		// stays transient so that retry is a create.
		s.logger.Error("failed to persist decision",
			slog.String("claim_id", id),
			slog.String("status", string(decision.Status)),
			slog.String("error", err.Error()),
		)
		return true, nil
	}
	if wasTransient {
		s.markPersisted(id)
	}
	return true, nil
}

// AdvanceStage moves the claim forward without appending a message.
func (s *Store) AdvanceStage(ctx context.Context, id string, stage domain.Stage) error {
	s.mu.Lock()
	c, ok := s.claims[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("claim %s: %w", id, domain.ErrNotFound)
	}
	if !c.Stage.CanAdvanceTo(stage) {
		s.mu.Unlock()
		return domain.NewStateError(domain.ErrorTypeNotAllowed,
			"claim %s cannot move from %s to %s", id, c.Stage, stage)
	}
	transient := c.Transient
	c.Stage = stage
	c.UpdatedAt = time.Now()
	s.mu.Unlock()

	if transient {
		return nil
	}
	if err := s.persist.UpdateClaim(ctx, id, storage.ClaimPatch{Stage: &stage}); err != nil {
		s.logger.Error("failed to persist stage",
			slog.String("claim_id", id),
			slog.String("stage", string(stage)),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Rename updates the claim title.
func (s *Store) Rename(ctx context.Context, id, title string) error {
	s.mu.Lock()
	c, ok := s.claims[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("claim %s: %w", id, domain.ErrNotFound)
	}
	transient := c.Transient
	c.Title = title
	c.UpdatedAt = time.Now()
	s.mu.Unlock()

	if transient {
		return nil
	}
	return s.persist.UpdateClaim(ctx, id, storage.ClaimPatch{Title: &title})
}

// DeleteClaim removes the claim and runs the registered hooks, cancelling
// its in-flight request and stopping its poller.
func (s *Store) DeleteClaim(ctx context.Context, id string) error {
	s.mu.Lock()
	c, ok := s.claims[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("claim %s: %w", id, domain.ErrNotFound)
	}
	transient := c.Transient
	delete(s.claims, id)
	hooks := append([]func(string){}, s.onDelete...)
	s.mu.Unlock()

	for _, hook := range hooks {
		hook(id)
	}

	if transient {
		return nil
	}
	if err := s.persist.DeleteClaim(ctx, id); err != nil {
		return fmt.Errorf("failed to delete persisted claim: %w", err)
	}
	return nil
}

// TaxRate returns the configured tax fraction for draft recomputation.
func (s *Store) TaxRate() float64 {
	return s.taxRate
}

// markPersisted clears the transient flag once the claim record durably
// exists. The flag flips at most once per claim.
func (s *Store) markPersisted(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.claims[id]; ok {
		c.Transient = false
	}
}

func (s *Store) persistAppend(ctx context.Context, id string, wasTransient bool, title string, stage domain.Stage, msg *domain.Message) error {
	if wasTransient {
		if err := s.persist.CreateClaim(ctx, &storage.ClaimRecord{ID: id, Title: title, Stage: stage}); err != nil {
			return fmt.Errorf("failed to persist claim: %w", err)
		}
	} else {
		if err := s.persist.UpdateClaim(ctx, id, storage.ClaimPatch{Stage: &stage}); err != nil {
			return fmt.Errorf("failed to persist stage: %w", err)
		}
	}
	if err := s.persist.AppendMessage(ctx, id, msg); err != nil {
		return fmt.Errorf("failed to persist message: %w", err)
	}
	return nil
}

func decisionText(d domain.Decision) string {
	p := d.Payload
	if p != nil && p.Summary != "" {
		return p.Summary
	}
	switch d.Status {
	case domain.DecisionApproved:
		if p != nil && p.PolicyID != "" {
			return fmt.Sprintf("Insurance decision: approved. Total payable $%.2f under policy %s.", p.TotalPayable, p.PolicyID)
		}
		if p != nil {
			return fmt.Sprintf("Insurance decision: approved. Total payable $%.2f.", p.TotalPayable)
		}
		return "Insurance decision: approved."
	case domain.DecisionDenied:
		if p != nil && p.Reason != "" {
			return fmt.Sprintf("Insurance decision: denied. Reason: %s.", p.Reason)
		}
		return "Insurance decision: denied."
	default:
		return "Insurance decision received."
	}
}

func snapshot(c *domain.Claim) *domain.Claim {
	cp := *c
	cp.Messages = make([]domain.Message, len(c.Messages))
	copy(cp.Messages, c.Messages)
	return &cp
}

func sortClaims(claims []*domain.Claim) {
	sort.Slice(claims, func(i, j int) bool {
		return claims[i].UpdatedAt.After(claims[j].UpdatedAt)
	})
}
