package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/medbridge/claimsync/internal/domain"
	"github.com/medbridge/claimsync/internal/storage"
)

// Store is an in-memory implementation of ClaimStore.
type Store struct {
	mu       sync.RWMutex
	claims   map[string]*storage.ClaimRecord
	messages map[string][]domain.Message
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		claims:   make(map[string]*storage.ClaimRecord),
		messages: make(map[string][]domain.Message),
	}
}

var _ storage.ClaimStore = (*Store)(nil)

func (s *Store) CreateClaim(ctx context.Context, rec *storage.ClaimRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.claims[rec.ID]; exists {
		return fmt.Errorf("claim %s already exists", rec.ID)
	}

	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	cp := *rec
	s.claims[rec.ID] = &cp
	s.messages[rec.ID] = nil
	return nil
}

func (s *Store) GetClaim(ctx context.Context, id string) (*storage.ClaimRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.claims[id]
	if !exists {
		return nil, fmt.Errorf("claim %s: %w", id, domain.ErrNotFound)
	}

	cp := *rec
	return &cp, nil
}

func (s *Store) ListClaims(ctx context.Context) ([]*storage.ClaimRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*storage.ClaimRecord, 0, len(s.claims))
	for _, rec := range s.claims {
		cp := *rec
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

func (s *Store) UpdateClaim(ctx context.Context, id string, patch storage.ClaimPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.claims[id]
	if !exists {
		return fmt.Errorf("claim %s: %w", id, domain.ErrNotFound)
	}

	if patch.Title != nil {
		rec.Title = *patch.Title
	}
	if patch.Stage != nil {
		rec.Stage = *patch.Stage
	}
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *Store) DeleteClaim(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.claims[id]; !exists {
		return fmt.Errorf("claim %s: %w", id, domain.ErrNotFound)
	}

	delete(s.claims, id)
	delete(s.messages, id)
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, claimID string, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.claims[claimID]
	if !exists {
		return fmt.Errorf("claim %s: %w", claimID, domain.ErrNotFound)
	}

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.messages[claimID] = append(s.messages[claimID], *msg)
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *Store) ListMessages(ctx context.Context, claimID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.claims[claimID]; !exists {
		return nil, fmt.Errorf("claim %s: %w", claimID, domain.ErrNotFound)
	}

	out := make([]domain.Message, len(s.messages[claimID]))
	copy(out, s.messages[claimID])
	return out, nil
}

func (s *Store) Close() error {
	return nil
}
