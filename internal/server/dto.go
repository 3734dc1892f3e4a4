package server

import (
	"time"

	"goalline/internal/domain"
	"goalline/internal/engine"
)

// Request payloads

type CreateGoalRequest struct {
	ID              string                  `json:"id,omitempty"`
	Objective       string                  `json:"objective" minLength:"1"`
	SuccessCriteria []string                `json:"success_criteria,omitempty"`
	ScopeIn         []string                `json:"scope_in,omitempty"`
	ScopeOut        []string                `json:"scope_out,omitempty"`
	Boundaries      []string                `json:"boundaries,omitempty"`
	Planning        *domain.PlanningContext `json:"planning,omitempty"`
	NextGoalID      string                  `json:"next_goal_id,omitempty"`
}

type TransitionRequest struct {
	Note string `json:"note,omitempty"`
}

// Response payloads

type ClaimResponse struct {
	ClaimedBy      string    `json:"claimed_by"`
	ClaimedAt      time.Time `json:"claimed_at"`
	ClaimExpiresAt time.Time `json:"claim_expires_at"`
}

type GoalResponse struct {
	ID              string                  `json:"id"`
	Objective       string                  `json:"objective"`
	SuccessCriteria []string                `json:"success_criteria"`
	ScopeIn         []string                `json:"scope_in"`
	ScopeOut        []string                `json:"scope_out"`
	Boundaries      []string                `json:"boundaries"`
	Planning        *domain.PlanningContext `json:"planning,omitempty"`
	Status          string                  `json:"status"`
	Version         uint64                  `json:"version"`
	Note            string                  `json:"note,omitempty"`
	NextGoalID      string                  `json:"next_goal_id,omitempty"`
	ReviewTurns     int                     `json:"review_turns"`
	Claim           *ClaimResponse          `json:"claim,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

type GoalListResponse struct {
	Items  []GoalResponse `json:"items"`
	Counts map[string]int `json:"counts"`
}

type CommandResponse struct {
	GoalID            string         `json:"goal_id"`
	Status            string         `json:"status"`
	Version           uint64         `json:"version"`
	Claim             *ClaimResponse `json:"claim,omitempty"`
	NextGoalID        string         `json:"next_goal_id,omitempty"`
	ReviewTurn        int            `json:"review_turn,omitempty"`
	TurnLimit         int            `json:"turn_limit,omitempty"`
	ProjectionLagging bool           `json:"projection_lagging,omitempty"`
}

type EventResponse struct {
	Type      string              `json:"type"`
	GoalID    string              `json:"goal_id"`
	Version   uint64              `json:"version"`
	Timestamp time.Time           `json:"timestamp"`
	WorkerID  string              `json:"worker_id,omitempty"`
	Payload   domain.EventPayload `json:"payload"`
}

type WhoamiResponse struct {
	WorkerID string `json:"worker_id"`
	Source   string `json:"source"`
}

func orEmpty(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func goalResponse(v domain.GoalView) GoalResponse {
	resp := GoalResponse{
		ID:              string(v.ID),
		Objective:       v.Objective,
		SuccessCriteria: orEmpty(v.SuccessCriteria),
		ScopeIn:         orEmpty(v.ScopeIn),
		ScopeOut:        orEmpty(v.ScopeOut),
		Boundaries:      orEmpty(v.Boundaries),
		Planning:        v.Planning,
		Status:          string(v.Status),
		Version:         v.Version,
		Note:            v.Note,
		NextGoalID:      string(v.NextGoalID),
		ReviewTurns:     v.ReviewTurns,
		CreatedAt:       v.CreatedAt,
		UpdatedAt:       v.UpdatedAt,
	}
	if v.ClaimedBy != "" && v.ClaimedAt != nil && v.ClaimExpiresAt != nil {
		resp.Claim = &ClaimResponse{ClaimedBy: string(v.ClaimedBy), ClaimedAt: *v.ClaimedAt, ClaimExpiresAt: *v.ClaimExpiresAt}
	}
	return resp
}

func commandResponse(res engine.Result) CommandResponse {
	resp := CommandResponse{
		GoalID:            string(res.GoalID),
		Status:            string(res.Status),
		Version:           res.Version,
		NextGoalID:        string(res.NextGoalID),
		ReviewTurn:        res.ReviewTurn,
		TurnLimit:         res.TurnLimit,
		ProjectionLagging: res.ProjectionLagging,
	}
	if res.Claim != nil {
		resp.Claim = &ClaimResponse{ClaimedBy: string(res.Claim.ClaimedBy), ClaimedAt: res.Claim.ClaimedAt, ClaimExpiresAt: res.Claim.ClaimExpiresAt}
	}
	return resp
}

func eventResponse(evt domain.Event) EventResponse {
	return EventResponse{
		Type:      string(evt.Type),
		GoalID:    string(evt.AggregateID),
		Version:   evt.Version,
		Timestamp: evt.Timestamp,
		WorkerID:  string(evt.WorkerID),
		Payload:   evt.Payload,
	}
}
