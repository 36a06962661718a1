package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/medbridge/claimsync/internal/domain"
	"github.com/medbridge/claimsync/internal/storage"
)

func TestMemoryStore_CreateAndGetClaim(t *testing.T) {
	store := New()

	rec := &storage.ClaimRecord{
		ID:    "clm-1",
		Title: "Forearm fracture",
		Stage: domain.StageDraft,
	}

	if err := store.CreateClaim(context.Background(), rec); err != nil {
		t.Fatalf("CreateClaim() error = %v", err)
	}

	retrieved, err := store.GetClaim(context.Background(), "clm-1")
	if err != nil {
		t.Fatalf("GetClaim() error = %v", err)
	}

	if retrieved.Title != rec.Title {
		t.Errorf("Title = %v, want %v", retrieved.Title, rec.Title)
	}
	if retrieved.Stage != domain.StageDraft {
		t.Errorf("Stage = %v, want %v", retrieved.Stage, domain.StageDraft)
	}
	if retrieved.CreatedAt.IsZero() || retrieved.UpdatedAt.IsZero() {
		t.Error("timestamps should be set on create")
	}
}

func TestMemoryStore_CreateDuplicate(t *testing.T) {
	store := New()
	rec := &storage.ClaimRecord{ID: "clm-1", Stage: domain.StageDraft}

	if err := store.CreateClaim(context.Background(), rec); err != nil {
		t.Fatalf("CreateClaim() error = %v", err)
	}
	if err := store.CreateClaim(context.Background(), rec); err == nil {
		t.Error("duplicate create should fail")
	}
}

func TestMemoryStore_NotFound(t *testing.T) {
	store := New()

	if _, err := store.GetClaim(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetClaim() error = %v, want ErrNotFound", err)
	}
	if err := store.DeleteClaim(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("DeleteClaim() error = %v, want ErrNotFound", err)
	}
	if err := store.AppendMessage(context.Background(), "nope", &domain.Message{ID: "m"}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("AppendMessage() error = %v, want ErrNotFound", err)
	}
	if _, err := store.ListMessages(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("ListMessages() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_AppendAndListMessages(t *testing.T) {
	store := New()
	rec := &storage.ClaimRecord{ID: "clm-1", Stage: domain.StageDraft}
	if err := store.CreateClaim(context.Background(), rec); err != nil {
		t.Fatalf("CreateClaim() error = %v", err)
	}

	msgs := []domain.Message{
		{ID: "m1", Role: domain.RoleUser, Content: "patient Mark Johnson"},
		{ID: "m2", Role: domain.RoleAssistant, Content: "noted", StageTag: domain.TagPending},
	}
	for i := range msgs {
		if err := store.AppendMessage(context.Background(), "clm-1", &msgs[i]); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}

	got, err := store.ListMessages(context.Background(), "clm-1")
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("message count = %d, want 2", len(got))
	}
	if got[0].ID != "m1" || got[1].ID != "m2" {
		t.Errorf("messages out of insertion order: %v, %v", got[0].ID, got[1].ID)
	}
	if got[1].StageTag != domain.TagPending {
		t.Errorf("StageTag = %q, want pending", got[1].StageTag)
	}
}

func TestMemoryStore_UpdateClaim(t *testing.T) {
	store := New()
	rec := &storage.ClaimRecord{ID: "clm-1", Title: "old", Stage: domain.StageDraft}
	if err := store.CreateClaim(context.Background(), rec); err != nil {
		t.Fatalf("CreateClaim() error = %v", err)
	}

	title := "new title"
	stage := domain.StageHospitalApproved
	if err := store.UpdateClaim(context.Background(), "clm-1", storage.ClaimPatch{Title: &title, Stage: &stage}); err != nil {
		t.Fatalf("UpdateClaim() error = %v", err)
	}

	got, err := store.GetClaim(context.Background(), "clm-1")
	if err != nil {
		t.Fatalf("GetClaim() error = %v", err)
	}
	if got.Title != "new title" || got.Stage != domain.StageHospitalApproved {
		t.Errorf("after patch: %+v", got)
	}
}

func TestMemoryStore_ListClaimsOrder(t *testing.T) {
	store := New()
	for _, id := range []string{"clm-1", "clm-2"} {
		if err := store.CreateClaim(context.Background(), &storage.ClaimRecord{ID: id, Stage: domain.StageDraft}); err != nil {
			t.Fatalf("CreateClaim() error = %v", err)
		}
	}
	// Touch clm-1 so it becomes the most recently updated.
	if err := store.AppendMessage(context.Background(), "clm-1", &domain.Message{ID: "m1", Role: domain.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	list, err := store.ListClaims(context.Background())
	if err != nil {
		t.Fatalf("ListClaims() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != "clm-1" {
		t.Errorf("ListClaims() order = %v, want clm-1 first", []string{list[0].ID, list[1].ID})
	}
}

func TestMemoryStore_DeleteClaimRemovesMessages(t *testing.T) {
	store := New()
	if err := store.CreateClaim(context.Background(), &storage.ClaimRecord{ID: "clm-1", Stage: domain.StageDraft}); err != nil {
		t.Fatalf("CreateClaim() error = %v", err)
	}
	if err := store.AppendMessage(context.Background(), "clm-1", &domain.Message{ID: "m1", Role: domain.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	if err := store.DeleteClaim(context.Background(), "clm-1"); err != nil {
		t.Fatalf("DeleteClaim() error = %v", err)
	}
	if _, err := store.ListMessages(context.Background(), "clm-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("messages should be gone with the claim, got %v", err)
	}
}
