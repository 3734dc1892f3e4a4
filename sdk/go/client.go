// Package goallinesdk is a small client for the goalline HTTP API.
package goallinesdk

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
)

// Client is a minimal goalline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// WorkerID is sent as X-Worker-Id when no bearer token is set.
	WorkerID   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "v0",
		Timeout:  10 * time.Second,
	}
}

// Claim is an active lease on a goal.
type Claim struct {
	ClaimedBy      string    `json:"claimed_by"`
	ClaimedAt      time.Time `json:"claimed_at"`
	ClaimExpiresAt time.Time `json:"claim_expires_at"`
}

// Goal represents the API goal model.
type Goal struct {
	ID              string         `json:"id"`
	Objective       string         `json:"objective"`
	SuccessCriteria []string       `json:"success_criteria"`
	ScopeIn         []string       `json:"scope_in"`
	ScopeOut        []string       `json:"scope_out"`
	Boundaries      []string       `json:"boundaries"`
	Planning        map[string]any `json:"planning,omitempty"`
	Status          string         `json:"status"`
	Version         uint64         `json:"version"`
	Note            string         `json:"note,omitempty"`
	NextGoalID      string         `json:"next_goal_id,omitempty"`
	ReviewTurns     int            `json:"review_turns"`
	Claim           *Claim         `json:"claim,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// NewGoal is the body of AddGoal.
type NewGoal struct {
	ID              string         `json:"id,omitempty"`
	Objective       string         `json:"objective"`
	SuccessCriteria []string       `json:"success_criteria,omitempty"`
	ScopeIn         []string       `json:"scope_in,omitempty"`
	ScopeOut        []string       `json:"scope_out,omitempty"`
	Boundaries      []string       `json:"boundaries,omitempty"`
	Planning        map[string]any `json:"planning,omitempty"`
	NextGoalID      string         `json:"next_goal_id,omitempty"`
}

// CommandResult is returned by every transition.
type CommandResult struct {
	GoalID            string `json:"goal_id"`
	Status            string `json:"status"`
	Version           uint64 `json:"version"`
	Claim             *Claim `json:"claim,omitempty"`
	NextGoalID        string `json:"next_goal_id,omitempty"`
	ReviewTurn        int    `json:"review_turn,omitempty"`
	TurnLimit         int    `json:"turn_limit,omitempty"`
	ProjectionLagging bool   `json:"projection_lagging,omitempty"`
}

// Event represents a goal event.
type Event struct {
	Type      string         `json:"type"`
	GoalID    string         `json:"goal_id"`
	Version   uint64         `json:"version"`
	Timestamp time.Time      `json:"timestamp"`
	WorkerID  string         `json:"worker_id,omitempty"`
	Payload   map[string]any `json:"payload"`
}

// GoalList is the list response.
type GoalList struct {
	Items  []Goal         `json:"items"`
	Counts map[string]int `json:"counts"`
}

// Principal is the caller as seen by the server.
type Principal struct {
	WorkerID string `json:"worker_id"`
	Source   string `json:"source"`
}

// ListOptions filter ListGoals.
type ListOptions struct {
	Status    string
	ClaimedBy string
	Limit     int
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the server sent one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Whoami returns the authenticated worker.
func (c *Client) Whoami(ctx context.Context) (Principal, error) {
	var resp Principal
	err := c.do(ctx, http.MethodGet, "whoami", nil, &resp)
	return resp, err
}

// AddGoal creates a goal.
func (c *Client) AddGoal(ctx context.Context, g NewGoal) (Goal, error) {
	var resp Goal
	err := c.do(ctx, http.MethodPost, "goals", g, &resp)
	return resp, err
}

// GetGoal fetches one goal.
func (c *Client) GetGoal(ctx context.Context, id string) (Goal, error) {
	var resp Goal
	err := c.do(ctx, http.MethodGet, "goals/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListGoals lists goals.
func (c *Client) ListGoals(ctx context.Context, opts ListOptions) (GoalList, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.ClaimedBy != "" {
		q.Set("claimed_by", opts.ClaimedBy)
	}
	if opts.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}
	endpoint := "goals"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp GoalList
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns the goal's event history.
func (c *Client) Events(ctx context.Context, id string) ([]Event, error) {
	var resp []Event
	err := c.do(ctx, http.MethodGet, "goals/"+url.PathEscape(id)+"/events", nil, &resp)
	return resp, err
}

func (c *Client) transition(ctx context.Context, id, action, note string) (CommandResult, error) {
	var body any
	if note != "" {
		body = map[string]string{"note": note}
	}
	var resp CommandResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("goals/%s/%s", url.PathEscape(id), action), body, &resp)
	return resp, err
}

func (c *Client) Start(ctx context.Context, id string) (CommandResult, error) {
	return c.transition(ctx, id, "start", "")
}

func (c *Client) Pause(ctx context.Context, id, note string) (CommandResult, error) {
	return c.transition(ctx, id, "pause", note)
}

func (c *Client) Resume(ctx context.Context, id, note string) (CommandResult, error) {
	return c.transition(ctx, id, "resume", note)
}

func (c *Client) Block(ctx context.Context, id, note string) (CommandResult, error) {
	return c.transition(ctx, id, "block", note)
}

func (c *Client) Unblock(ctx context.Context, id, note string) (CommandResult, error) {
	return c.transition(ctx, id, "unblock", note)
}

func (c *Client) SubmitForReview(ctx context.Context, id string) (CommandResult, error) {
	return c.transition(ctx, id, "submit", "")
}

func (c *Client) Qualify(ctx context.Context, id string) (CommandResult, error) {
	return c.transition(ctx, id, "qualify", "")
}

func (c *Client) Complete(ctx context.Context, id string) (CommandResult, error) {
	return c.transition(ctx, id, "complete", "")
}

func (c *Client) Reset(ctx context.Context, id string) (CommandResult, error) {
	return c.transition(ctx, id, "reset", "")
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.WorkerID != "":
		req.Header.Set("X-Worker-Id", c.WorkerID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
