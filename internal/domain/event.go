package domain

import (
	"strings"
	"time"
)

// EventType identifies the kind of goal event.
type EventType string

const (
	EventGoalAdded              EventType = "goal.added"
	EventGoalStarted            EventType = "goal.started"
	EventGoalPaused             EventType = "goal.paused"
	EventGoalResumed            EventType = "goal.resumed"
	EventGoalBlocked            EventType = "goal.blocked"
	EventGoalUnblocked          EventType = "goal.unblocked"
	EventGoalSubmittedForReview EventType = "goal.submitted_for_review"
	EventGoalQualified          EventType = "goal.qualified"
	EventGoalCompleted          EventType = "goal.completed"
	EventGoalReset              EventType = "goal.reset"
)

// EventTypes lists every goal event type.
var EventTypes = []EventType{
	EventGoalAdded,
	EventGoalStarted,
	EventGoalPaused,
	EventGoalResumed,
	EventGoalBlocked,
	EventGoalUnblocked,
	EventGoalSubmittedForReview,
	EventGoalQualified,
	EventGoalCompleted,
	EventGoalReset,
}

// Valid reports whether t is non-empty.
func (t EventType) Valid() bool {
	return strings.TrimSpace(string(t)) != ""
}

// Event is an immutable fact about one goal.
type Event struct {
	Type        EventType `json:"type"`
	AggregateID GoalID    `json:"aggregate_id"`
	// Version is the aggregate version reached after applying this event.
	Version   uint64       `json:"version"`
	Timestamp time.Time    `json:"timestamp"`
	WorkerID  WorkerID     `json:"worker_id,omitempty"`
	Payload   EventPayload `json:"payload"`
}

// EventPayload carries transition-specific fields. Status is always set;
// every other field is only present on the event types that produce it.
type EventPayload struct {
	Status Status `json:"status"`

	// goal.added
	Objective       string           `json:"objective,omitempty"`
	SuccessCriteria []string         `json:"success_criteria,omitempty"`
	ScopeIn         []string         `json:"scope_in,omitempty"`
	ScopeOut        []string         `json:"scope_out,omitempty"`
	Boundaries      []string         `json:"boundaries,omitempty"`
	Planning        *PlanningContext `json:"planning,omitempty"`
	NextGoalID      GoalID           `json:"next_goal_id,omitempty"`

	// goal.started, goal.resumed
	ClaimedBy      WorkerID   `json:"claimed_by,omitempty"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	ClaimExpiresAt *time.Time `json:"claim_expires_at,omitempty"`

	// goal.paused, goal.resumed, goal.blocked, goal.unblocked
	Note *string `json:"note,omitempty"`

	// goal.submitted_for_review
	ReviewTurn int `json:"review_turn,omitempty"`
}

// Claim rebuilds the claim snapshot embedded in a started/resumed payload.
func (p EventPayload) Claim(goalID GoalID) (Claim, bool) {
	if p.ClaimedBy == "" || p.ClaimedAt == nil || p.ClaimExpiresAt == nil {
		return Claim{}, false
	}
	return Claim{
		GoalID:         goalID,
		ClaimedBy:      p.ClaimedBy,
		ClaimedAt:      *p.ClaimedAt,
		ClaimExpiresAt: *p.ClaimExpiresAt,
	}, true
}

// WithClaim copies claim data into the payload.
func (p EventPayload) WithClaim(c Claim) EventPayload {
	claimedAt := c.ClaimedAt
	expiresAt := c.ClaimExpiresAt
	p.ClaimedBy = c.ClaimedBy
	p.ClaimedAt = &claimedAt
	p.ClaimExpiresAt = &expiresAt
	return p
}
