// Package storage defines the persistence contracts for claims and their
// message history. The engine owns the authoritative in-process state and
// writes through this narrow CRUD surface; implementations live in the
// memory and sqlite subpackages.
package storage

import (
	"context"
	"time"

	"github.com/medbridge/claimsync/internal/domain"
)

// ClaimRecord is the persisted per-claim row: identity, display title and
// lifecycle status. Message history is stored separately, append-only.
type ClaimRecord struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Stage     domain.Stage `json:"stage"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// ClaimPatch updates a claim record. Only title and lifecycle status are
// patchable; nil fields are left untouched.
type ClaimPatch struct {
	Title *string
	Stage *domain.Stage
}

// ClaimStore persists claim records and their append-only message history.
// Unknown ids yield an error satisfying errors.Is(err, domain.ErrNotFound).
type ClaimStore interface {
	CreateClaim(ctx context.Context, rec *ClaimRecord) error
	GetClaim(ctx context.Context, id string) (*ClaimRecord, error)
	// ListClaims returns all claims ordered by most recent update first.
	ListClaims(ctx context.Context) ([]*ClaimRecord, error)
	UpdateClaim(ctx context.Context, id string, patch ClaimPatch) error
	DeleteClaim(ctx context.Context, id string) error

	AppendMessage(ctx context.Context, claimID string, msg *domain.Message) error
	ListMessages(ctx context.Context, claimID string) ([]domain.Message, error)

	Close() error
}
