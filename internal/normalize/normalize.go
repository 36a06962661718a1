// Package normalize converts the hospital backend's heterogeneous response
// shapes into one canonical result. The backend grew several envelope
// versions over time; rather than branching per version at the call sites,
// every raw response passes through Normalize and the rest of the engine
// only sees Result.
package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/medbridge/claimsync/internal/domain"
)

// Result is the canonical form of one backend response.
type Result struct {
	// Text is the operator-facing reply.
	Text string

	// Draft is the structured payload, when the response carried one.
	Draft *domain.Draft

	// Stage is the lifecycle stage the response implies, or "" when the
	// caller must not assume any lifecycle change.
	Stage domain.Stage

	// InsurerPending is set when the response carries an insurer-pending
	// marker, meaning the claim is awaiting an external decision.
	InsurerPending bool
}

// Envelope shapes, newest first. Unknown fields are ignored so older and
// newer backends decode into the same structs.
type envelope struct {
	Stage             string          `json:"stage"`
	Reply             string          `json:"reply"`
	Message           string          `json:"message"`
	Draft             json.RawMessage `json:"draft"`
	ClaimID           string          `json:"claim_id"`
	ReadyForInsurance json.RawMessage `json:"ready_for_insurance"`
	InsuranceStatus   string          `json:"insurance_status"`
	ToolResult        json.RawMessage `json:"tool_result"`
}

type toolResult struct {
	Summary         string          `json:"summary"`
	Draft           json.RawMessage `json:"draft"`
	InsuranceStatus string          `json:"insurance_status"`
	ResultJSON      json.RawMessage `json:"result_json"`
}

// Normalize maps one raw backend response of unknown shape to a Result.
// Recognition order: pending envelope, approved envelope, ambient
// insurer-pending marker, legacy free text. An unrecognized shape degrades
// to the legacy rule; Normalize never fails.
func Normalize(raw []byte) Result {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// Not JSON at all: surface the body verbatim, no lifecycle change.
		return Result{Text: strings.TrimSpace(string(raw))}
	}

	var tool toolResult
	if len(env.ToolResult) > 0 {
		_ = json.Unmarshal(env.ToolResult, &tool)
	}
	insurerPending := env.InsuranceStatus == string(domain.DecisionPending) ||
		tool.InsuranceStatus == string(domain.DecisionPending)

	switch env.Stage {
	case "pending":
		res := Result{
			Text:           firstNonEmpty(env.Reply, env.Message),
			Draft:          decodeDraft(env.Draft),
			Stage:          domain.StageHospitalPending,
			InsurerPending: insurerPending,
		}
		if res.Draft == nil {
			res.Draft = decodeDraft(tool.Draft)
		}
		return res

	case "approved":
		text := "Claim approved."
		if env.ClaimID != "" {
			text = fmt.Sprintf("Claim approved and recorded as %s.", env.ClaimID)
		}
		return Result{
			Text:  text,
			Draft: decodeDraft(env.ReadyForInsurance),
			Stage: domain.StageHospitalApproved,
		}
	}

	if insurerPending {
		return Result{
			Text:           firstNonEmpty(env.Reply, env.Message),
			Draft:          decodeDraft(env.Draft),
			Stage:          domain.StageInsurerPending,
			InsurerPending: true,
		}
	}

	// Legacy free-text envelope: pass the message through verbatim and
	// attach a draft only if the tool payload happens to carry one. The
	// caller must not assume any lifecycle change.
	res := Result{Text: env.Message, Draft: decodeDraft(tool.Draft)}
	if res.Draft == nil {
		res.Draft = decodeDraft(tool.ResultJSON)
	}
	return res
}

// legacyDraft is the old pretty-keyed invoice shape.
type legacyDraft struct {
	FullName      string `json:"full name"`
	PatientSSN    string `json:"patient SSN"`
	HospitalName  string `json:"hospital name"`
	DateOfService string `json:"date of service"`
	Diagnose      string `json:"diagnose"`
	Procedures    []struct {
		Name   string  `json:"name"`
		Billed float64 `json:"billed"`
	} `json:"procedures"`
}

// decodeDraft accepts either the canonical draft JSON or the legacy
// pretty-keyed invoice shape, returning nil when neither applies.
func decodeDraft(raw json.RawMessage) *domain.Draft {
	if len(raw) == 0 {
		return nil
	}

	// Canonical shape is recognizable by its nested patient record.
	var peek struct {
		Patient *domain.Patient `json:"patient"`
	}
	if err := json.Unmarshal(raw, &peek); err == nil && peek.Patient != nil {
		var d domain.Draft
		if err := json.Unmarshal(raw, &d); err == nil {
			d.Recompute(0)
			return &d
		}
	}

	var leg legacyDraft
	if err := json.Unmarshal(raw, &leg); err != nil {
		return nil
	}
	if leg.FullName == "" && leg.PatientSSN == "" && leg.Diagnose == "" && len(leg.Procedures) == 0 {
		return nil
	}

	d := &domain.Draft{
		Patient:       domain.Patient{FullName: leg.FullName, SSN: leg.PatientSSN},
		Hospital:      leg.HospitalName,
		DateOfService: leg.DateOfService,
	}
	if leg.Diagnose != "" {
		d.Diagnoses = []string{leg.Diagnose}
	}
	for _, p := range leg.Procedures {
		d.Procedures = append(d.Procedures, domain.Procedure{
			Name:      p.Name,
			Units:     1,
			UnitPrice: p.Billed,
		})
	}
	d.Recompute(0)
	return d
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
