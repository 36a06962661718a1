package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/medbridge/claimsync/internal/domain"
	"github.com/medbridge/claimsync/internal/engine"
)

// Handlers exposes the claim lifecycle over HTTP.
type Handlers struct {
	engine *engine.Engine
}

// NewHandlers creates the HTTP handler set over the engine.
func NewHandlers(e *engine.Engine) *Handlers {
	return &Handlers{engine: e}
}

// Mount registers all routes on r.
func (h *Handlers) Mount(r chi.Router) {
	r.Get("/healthz", h.handleHealth)

	r.Route("/claims", func(r chi.Router) {
		r.Post("/", h.handleCreateClaim)
		r.Get("/", h.handleListClaims)

		r.Route("/{claim_id}", func(r chi.Router) {
			r.Get("/", h.handleGetClaim)
			r.Patch("/", h.handlePatchClaim)
			r.Delete("/", h.handleDeleteClaim)
			r.Post("/messages", h.handleSubmitMessage)
			r.Post("/stop", h.handleStop)
			r.Post("/approve", h.handleApprove)
			r.Post("/submit", h.handleSendToInsurer)
			r.Post("/decision", h.handleOverrideDecision)
		})
	})
}

type claimSummary struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Stage     domain.Stage   `json:"stage"`
	Busy      bool           `json:"busy"`
	Actions   engine.Actions `json:"actions"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type claimDetail struct {
	claimSummary
	Messages []domain.Message `json:"messages"`
	Draft    *domain.Draft    `json:"draft,omitempty"`
}

func (h *Handlers) summary(c *domain.Claim) claimSummary {
	return claimSummary{
		ID:        c.ID,
		Title:     c.Title,
		Stage:     c.Stage,
		Busy:      h.engine.Busy(c.ID),
		Actions:   engine.AllowedActions(c),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func (h *Handlers) detail(c *domain.Claim) claimDetail {
	d := claimDetail{
		claimSummary: h.summary(c),
		Messages:     c.Messages,
		Draft:        c.LatestDraft(),
	}
	if d.Messages == nil {
		d.Messages = []domain.Message{}
	}
	return d
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createClaimRequest struct {
	Title string `json:"title"`
}

func (h *Handlers) handleCreateClaim(w http.ResponseWriter, r *http.Request) {
	var req createClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Title == "" {
		req.Title = "New claim"
	}

	c := h.engine.Store().CreateDraftClaim(req.Title)
	AddLogField(r.Context(), "claim_id", c.ID)
	writeJSON(w, http.StatusCreated, h.detail(c))
}

func (h *Handlers) handleListClaims(w http.ResponseWriter, r *http.Request) {
	claims := h.engine.Store().List()
	out := make([]claimSummary, 0, len(claims))
	for _, c := range claims {
		out = append(out, h.summary(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"claims": out})
}

func (h *Handlers) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	c, err := h.engine.Store().Get(chi.URLParam(r, "claim_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.detail(c))
}

type patchClaimRequest struct {
	Title string `json:"title"`
}

func (h *Handlers) handlePatchClaim(w http.ResponseWriter, r *http.Request) {
	claimID := chi.URLParam(r, "claim_id")

	var req patchClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Title == "" {
		writeError(w, r, domain.NewStateError(domain.ErrorTypeInvalidRequest, "title is required"))
		return
	}

	if err := h.engine.Store().Rename(r.Context(), claimID, req.Title); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.engine.Store().Get(claimID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.detail(c))
}

func (h *Handlers) handleDeleteClaim(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Delete(r.Context(), chi.URLParam(r, "claim_id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type submitMessageRequest struct {
	Message string `json:"message"`
}

func (h *Handlers) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	claimID := chi.URLParam(r, "claim_id")
	AddLogField(r.Context(), "claim_id", claimID)

	var req submitMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Message == "" {
		writeError(w, r, domain.NewStateError(domain.ErrorTypeInvalidRequest, "message is required"))
		return
	}

	h.respondAfter(w, r, claimID, h.engine.Submit(r.Context(), claimID, req.Message))
}

func (h *Handlers) handleStop(w http.ResponseWriter, r *http.Request) {
	claimID := chi.URLParam(r, "claim_id")
	if _, err := h.engine.Store().Get(claimID); err != nil {
		writeError(w, r, err)
		return
	}
	h.engine.Stop(claimID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *Handlers) handleApprove(w http.ResponseWriter, r *http.Request) {
	claimID := chi.URLParam(r, "claim_id")
	AddLogField(r.Context(), "claim_id", claimID)
	h.respondAfter(w, r, claimID, h.engine.Approve(r.Context(), claimID))
}

func (h *Handlers) handleSendToInsurer(w http.ResponseWriter, r *http.Request) {
	claimID := chi.URLParam(r, "claim_id")
	AddLogField(r.Context(), "claim_id", claimID)
	h.respondAfter(w, r, claimID, h.engine.SendToInsurer(r.Context(), claimID))
}

type overrideDecisionRequest struct {
	Status domain.DecisionStatus `json:"status"`
}

func (h *Handlers) handleOverrideDecision(w http.ResponseWriter, r *http.Request) {
	claimID := chi.URLParam(r, "claim_id")
	AddLogField(r.Context(), "claim_id", claimID)

	var req overrideDecisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	h.respondAfter(w, r, claimID, h.engine.OverrideDecision(r.Context(), claimID, req.Status))
}

// respondAfter turns the outcome of a mutating engine call into the claim's
// fresh detail view, or the mapped error.
func (h *Handlers) respondAfter(w http.ResponseWriter, r *http.Request, claimID string, opErr error) {
	if opErr != nil {
		writeError(w, r, opErr)
		return
	}
	c, err := h.engine.Store().Get(claimID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.detail(c))
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.NewStateError(domain.ErrorTypeInvalidRequest, "invalid request body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)

	var se *domain.StateError
	switch {
	case errors.As(err, &se):
		writeJSON(w, se.HTTPStatusCode(), errorResponse{Error: errorBody{
			Type:    string(se.Type),
			Message: se.Message,
		}})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: errorBody{
			Type:    string(domain.ErrorTypeNotFound),
			Message: err.Error(),
		}})
	case errors.Is(err, engine.ErrCancelled):
		writeJSON(w, http.StatusConflict, errorResponse{Error: errorBody{
			Type:    "cancelled",
			Message: "the submission was cancelled before it completed",
		}})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: errorBody{
			Type:    string(domain.ErrorTypeServer),
			Message: err.Error(),
		}})
	}
}
