package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/medbridge/claimsync/internal/domain"
	"github.com/medbridge/claimsync/internal/engine"
	"github.com/medbridge/claimsync/internal/storage/memory"
)

type stubHospital struct {
	fn func(ctx context.Context, claimID, message string) ([]byte, error)
}

func (s *stubHospital) Submit(ctx context.Context, claimID, message string) ([]byte, error) {
	return s.fn(ctx, claimID, message)
}

type stubInsurer struct {
	decision *domain.Decision
}

func (s *stubInsurer) FetchDecision(ctx context.Context, claimID string) (*domain.Decision, error) {
	return s.decision, nil
}

func (s *stubInsurer) Override(ctx context.Context, claimID string, decision domain.DecisionStatus) (*domain.Decision, error) {
	return &domain.Decision{ClaimID: claimID, Status: decision}, nil
}

func newTestRouter(t *testing.T, hospital *stubHospital) (*chi.Mux, *engine.Engine) {
	t.Helper()

	insurer := &stubInsurer{}
	store := engine.NewStore(memory.New())
	coord := engine.NewCoordinator(store, hospital)
	poller := engine.NewPoller(store, insurer, engine.WithInterval(time.Hour))
	e := engine.New(store, coord, poller, engine.WithOverrider(insurer))
	t.Cleanup(e.Close)

	r := chi.NewRouter()
	NewHandlers(e).Mount(r)
	return r, e
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func echoHospital(reply string) *stubHospital {
	return &stubHospital{fn: func(ctx context.Context, claimID, message string) ([]byte, error) {
		return []byte(`{"message": "` + reply + `"}`), nil
	}}
}

func TestCreateAndGetClaim(t *testing.T) {
	r, _ := newTestRouter(t, echoHospital("ok"))

	rec := doJSON(t, r, "POST", "/claims", map[string]string{"title": "Jane Doe visit"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	created := decodeDetail(t, rec)
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatal("created claim missing id")
	}
	if created["stage"] != "draft" {
		t.Errorf("stage = %v, want draft", created["stage"])
	}
	actions := created["actions"].(map[string]any)
	if actions["can_submit_input"] != true {
		t.Errorf("actions = %v, want can_submit_input true", actions)
	}

	rec = doJSON(t, r, "GET", "/claims/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d: %s", rec.Code, rec.Body.String())
	}
	got := decodeDetail(t, rec)
	if got["title"] != "Jane Doe visit" {
		t.Errorf("title = %v, want Jane Doe visit", got["title"])
	}
}

func TestGetUnknownClaim(t *testing.T) {
	r, _ := newTestRouter(t, echoHospital("ok"))

	rec := doJSON(t, r, "GET", "/claims/clm_missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	body := decodeDetail(t, rec)
	errBody := body["error"].(map[string]any)
	if errBody["type"] != "not_found" {
		t.Errorf("error type = %v, want not_found", errBody["type"])
	}
}

func TestSubmitMessage(t *testing.T) {
	r, _ := newTestRouter(t, echoHospital("Please provide the diagnosis."))

	rec := doJSON(t, r, "POST", "/claims", nil)
	id := decodeDetail(t, rec)["id"].(string)

	rec = doJSON(t, r, "POST", "/claims/"+id+"/messages", map[string]string{"message": "patient is John Smith"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	got := decodeDetail(t, rec)
	msgs := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	reply := msgs[1].(map[string]any)
	if reply["content"] != "Please provide the diagnosis." {
		t.Errorf("reply = %v, want the backend text", reply["content"])
	}
}

func TestSubmitMessageValidation(t *testing.T) {
	r, _ := newTestRouter(t, echoHospital("ok"))

	rec := doJSON(t, r, "POST", "/claims", nil)
	id := decodeDetail(t, rec)["id"].(string)

	rec = doJSON(t, r, "POST", "/claims/"+id+"/messages", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestApproveIncompleteDraftConflicts(t *testing.T) {
	r, _ := newTestRouter(t, echoHospital("ok"))

	rec := doJSON(t, r, "POST", "/claims", nil)
	id := decodeDetail(t, rec)["id"].(string)

	rec = doJSON(t, r, "POST", "/claims/"+id+"/approve", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusConflict, rec.Body.String())
	}
	body := decodeDetail(t, rec)
	errBody := body["error"].(map[string]any)
	if errBody["type"] != "not_allowed" {
		t.Errorf("error type = %v, want not_allowed", errBody["type"])
	}
}

func TestLifecycleToDecision(t *testing.T) {
	hospital := &stubHospital{}
	r, _ := newTestRouter(t, hospital)

	rec := doJSON(t, r, "POST", "/claims", map[string]string{"title": "forearm fracture"})
	id := decodeDetail(t, rec)["id"].(string)

	// Backend returns a complete draft in the pending envelope.
	hospital.fn = func(ctx context.Context, claimID, message string) ([]byte, error) {
		return []byte(`{
			"stage": "pending",
			"reply": "Draft ready for approval.",
			"draft": {
				"patient": {"full_name": "John Smith", "ssn": "123-45-6789"},
				"diagnoses": ["forearm fracture"],
				"procedures": [{"name": "X-ray forearm", "units": 1, "unit_price": 300}]
			}
		}`), nil
	}
	rec = doJSON(t, r, "POST", "/claims/"+id+"/messages", map[string]string{"message": "John Smith, 123-45-6789, broken forearm, x-ray"})
	if rec.Code != http.StatusOK {
		t.Fatalf("messages status = %d: %s", rec.Code, rec.Body.String())
	}
	got := decodeDetail(t, rec)
	if got["stage"] != "hospital_pending" {
		t.Fatalf("stage = %v, want hospital_pending", got["stage"])
	}
	if got["actions"].(map[string]any)["can_approve"] != true {
		t.Fatalf("actions = %v, want can_approve true", got["actions"])
	}

	// Approve via the hospital agent.
	hospital.fn = func(ctx context.Context, claimID, message string) ([]byte, error) {
		if message != "approve" {
			t.Errorf("approve verb = %q, want approve", message)
		}
		return []byte(`{"stage": "approved", "claim_id": "HOSP-42"}`), nil
	}
	rec = doJSON(t, r, "POST", "/claims/"+id+"/approve", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status = %d: %s", rec.Code, rec.Body.String())
	}
	got = decodeDetail(t, rec)
	if got["stage"] != "hospital_approved" {
		t.Fatalf("stage = %v, want hospital_approved", got["stage"])
	}
	if got["actions"].(map[string]any)["can_send_to_insurer"] != true {
		t.Fatalf("actions = %v, want can_send_to_insurer true", got["actions"])
	}

	// Forward to the insurer.
	hospital.fn = func(ctx context.Context, claimID, message string) ([]byte, error) {
		return []byte(`{"message": "Submitted to the insurer.", "insurance_status": "pending"}`), nil
	}
	rec = doJSON(t, r, "POST", "/claims/"+id+"/submit", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit status = %d: %s", rec.Code, rec.Body.String())
	}
	got = decodeDetail(t, rec)
	if got["stage"] != "insurer_pending" {
		t.Fatalf("stage = %v, want insurer_pending", got["stage"])
	}

	// Manual override lands a terminal decision.
	rec = doJSON(t, r, "POST", "/claims/"+id+"/decision", map[string]string{"status": "approved"})
	if rec.Code != http.StatusOK {
		t.Fatalf("decision status = %d: %s", rec.Code, rec.Body.String())
	}
	got = decodeDetail(t, rec)
	if got["stage"] != "insurer_approved" {
		t.Fatalf("stage = %v, want insurer_approved", got["stage"])
	}
}

func TestPatchAndDeleteClaim(t *testing.T) {
	r, _ := newTestRouter(t, echoHospital("ok"))

	rec := doJSON(t, r, "POST", "/claims", map[string]string{"title": "old title"})
	id := decodeDetail(t, rec)["id"].(string)

	rec = doJSON(t, r, "PATCH", "/claims/"+id, map[string]string{"title": "new title"})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeDetail(t, rec); got["title"] != "new title" {
		t.Errorf("title = %v, want new title", got["title"])
	}

	rec = doJSON(t, r, "PATCH", "/claims/"+id, map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty patch status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	rec = doJSON(t, r, "DELETE", "/claims/"+id, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	rec = doJSON(t, r, "GET", "/claims/"+id, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestListClaims(t *testing.T) {
	r, _ := newTestRouter(t, echoHospital("ok"))

	doJSON(t, r, "POST", "/claims", map[string]string{"title": "first"})
	doJSON(t, r, "POST", "/claims", map[string]string{"title": "second"})

	rec := doJSON(t, r, "GET", "/claims", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeDetail(t, rec)
	claims := body["claims"].([]any)
	if len(claims) != 2 {
		t.Errorf("claims = %d, want 2", len(claims))
	}
}

func TestTransportFailureMapsToBadGateway(t *testing.T) {
	hospital := &stubHospital{fn: func(ctx context.Context, claimID, message string) ([]byte, error) {
		return nil, context.DeadlineExceeded
	}}
	r, _ := newTestRouter(t, hospital)

	rec := doJSON(t, r, "POST", "/claims", nil)
	id := decodeDetail(t, rec)["id"].(string)

	rec = doJSON(t, r, "POST", "/claims/"+id+"/messages", map[string]string{"message": "hello"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusBadGateway, rec.Body.String())
	}
}

func TestStopWithoutInflight(t *testing.T) {
	r, _ := newTestRouter(t, echoHospital("ok"))

	rec := doJSON(t, r, "POST", "/claims", nil)
	id := decodeDetail(t, rec)["id"].(string)

	rec = doJSON(t, r, "POST", "/claims/"+id+"/stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = doJSON(t, r, "POST", "/claims/clm_missing/stop", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("stop unknown status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHealthz(t *testing.T) {
	r, _ := newTestRouter(t, echoHospital("ok"))
	rec := doJSON(t, r, "GET", "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
