package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/medbridge/claimsync/internal/domain"
)

// DecisionClient fetches the insurer's decision entry for one claim. A nil
// decision with nil error means the insurer has no record yet.
type DecisionClient interface {
	FetchDecision(ctx context.Context, claimID string) (*domain.Decision, error)
}

// Poller watches claims that await an external insurer decision. One loop
// runs per active claim; ticks within a loop are strictly sequential, so
// two ticks for the same claim can never overlap. A tick that lands a
// terminal decision goes through the store's idempotent ApplyDecision and
// then deactivates the loop.
type Poller struct {
	mu     sync.Mutex
	active map[string]*pollLoop
	wg     sync.WaitGroup

	store    *Store
	client   DecisionClient
	interval time.Duration
	logger   *slog.Logger
}

type pollLoop struct {
	cancel context.CancelFunc
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithInterval sets the tick interval.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) { p.interval = d }
}

// WithPollerLogger sets the poller logger.
func WithPollerLogger(logger *slog.Logger) PollerOption {
	return func(p *Poller) { p.logger = logger }
}

// NewPoller creates a decision poller over store and client.
func NewPoller(store *Store, client DecisionClient, opts ...PollerOption) *Poller {
	p := &Poller{
		active:   make(map[string]*pollLoop),
		store:    store,
		client:   client,
		interval: 5 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Activate starts polling for the claim. Activating an already-active
// claim is a no-op.
func (p *Poller) Activate(claimID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.active[claimID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	loop := &pollLoop{cancel: cancel}
	p.active[claimID] = loop
	p.wg.Add(1)
	go p.run(ctx, claimID, loop)
}

// Stop halts polling for the claim. Stopping an inactive claim is a no-op.
func (p *Poller) Stop(claimID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if loop, ok := p.active[claimID]; ok {
		loop.cancel()
		delete(p.active, claimID)
	}
}

// Active reports whether the claim is being polled.
func (p *Poller) Active(claimID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[claimID]
	return ok
}

// Resume re-activates polling for every claim that still awaits a
// decision: stage insurer_pending, or a terminal stage whose decision
// message was never durably recorded. Call once at startup after the
// store is loaded.
func (p *Poller) Resume() {
	for _, c := range p.store.List() {
		switch {
		case c.Stage == domain.StageInsurerPending:
			p.Activate(c.ID)
		case c.Stage == domain.StageInsurerApproved && !c.HasStageTag(domain.TagApproved):
			p.Activate(c.ID)
		case c.Stage == domain.StageInsurerDenied && !c.HasStageTag(domain.TagDenied):
			p.Activate(c.ID)
		}
	}
}

// Close stops every loop and waits for them to exit.
func (p *Poller) Close() {
	p.mu.Lock()
	for id, loop := range p.active {
		loop.cancel()
		delete(p.active, id)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context, claimID string, loop *pollLoop) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if done := p.tick(ctx, claimID); done {
				p.deactivate(claimID, loop)
				return
			}
		}
	}
}

// deactivate removes the loop's own entry. If the claim was stopped and
// re-activated in the meantime, the newer loop stays.
func (p *Poller) deactivate(claimID string, loop *pollLoop) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active[claimID] == loop {
		loop.cancel()
		delete(p.active, claimID)
	}
}

// tick fetches the decision status once. It returns true when the loop
// should deactivate: a decision was applied, the decision turned out to be
// already recorded, or the claim is gone. Transport and parse failures are
// swallowed and retried on the next interval.
func (p *Poller) tick(ctx context.Context, claimID string) bool {
	decision, err := p.client.FetchDecision(ctx, claimID)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		p.logger.Warn("decision poll failed",
			slog.String("claim_id", claimID),
			slog.String("error", err.Error()),
		)
		return false
	}
	if decision == nil || !decision.Status.Terminal() {
		return false
	}

	applied, err := p.store.ApplyDecision(ctx, claimID, *decision)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Claim deleted mid-flight: quietly stop.
			return true
		}
		p.logger.Error("failed to apply decision",
			slog.String("claim_id", claimID),
			slog.String("status", string(decision.Status)),
			slog.String("error", err.Error()),
		)
		return false
	}

	if applied {
		p.logger.Info("decision applied",
			slog.String("claim_id", claimID),
			slog.String("status", string(decision.Status)),
		)
	}
	// Applied now or already recorded earlier: either way the claim no
	// longer needs watching.
	return true
}
