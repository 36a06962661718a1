// Package insurer is the HTTP client for the external decision source: the
// poll endpoint listing decision statuses, and the manual override endpoint.
package insurer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/medbridge/claimsync/internal/domain"
)

const defaultTimeout = 30 * time.Second

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// Client is the insurer HTTP client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an insurer client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type decisionsResponse struct {
	Decisions []domain.Decision `json:"decisions"`
}

// FetchDecisions lists decision entries, optionally filtered by status
// (pass "" for all).
func (c *Client) FetchDecisions(ctx context.Context, status domain.DecisionStatus) ([]domain.Decision, error) {
	endpoint := c.baseURL + "/decisions"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(string(status))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("insurer returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	// Accept both the enveloped and the bare-list response body.
	var env decisionsResponse
	if err := json.Unmarshal(raw, &env); err == nil && env.Decisions != nil {
		return env.Decisions, nil
	}
	var list []domain.Decision
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("failed to decode decisions: %w", err)
	}
	return list, nil
}

// FetchDecision returns the decision entry for one claim, or nil when the
// insurer has no record for it.
func (c *Client) FetchDecision(ctx context.Context, claimID string) (*domain.Decision, error) {
	decisions, err := c.FetchDecisions(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range decisions {
		if decisions[i].ClaimID == claimID {
			return &decisions[i], nil
		}
	}
	return nil, nil
}

type overrideRequest struct {
	ClaimID  string `json:"claim_id"`
	Decision string `json:"decision"`
}

// Override forces a decision for a claim (manual approve/deny path) and
// returns the acknowledged decision entry.
func (c *Client) Override(ctx context.Context, claimID string, decision domain.DecisionStatus) (*domain.Decision, error) {
	if !decision.Terminal() {
		return nil, fmt.Errorf("override decision must be approved or denied, got %q", decision)
	}

	// The override endpoint takes the action verb, not the result status.
	verb := "approve"
	if decision == domain.DecisionDenied {
		verb = "deny"
	}

	body, err := json.Marshal(overrideRequest{ClaimID: claimID, Decision: verb})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/decisions/override", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("insurer returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var ack domain.Decision
	if err := json.Unmarshal(raw, &ack); err != nil {
		return nil, fmt.Errorf("failed to decode acknowledgement: %w", err)
	}
	if ack.ClaimID == "" {
		ack.ClaimID = claimID
	}
	if ack.Status == "" {
		ack.Status = decision
	}
	return &ack, nil
}
