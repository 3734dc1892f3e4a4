package domain

import "time"

// Status is the lifecycle state of a goal.
type Status string

const (
	StatusToDo      Status = "to-do"
	StatusDoing     Status = "doing"
	StatusPaused    Status = "paused"
	StatusBlocked   Status = "blocked"
	StatusInReview  Status = "in-review"
	StatusQualified Status = "qualified"
	StatusCompleted Status = "completed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusToDo,
	StatusDoing,
	StatusPaused,
	StatusBlocked,
	StatusInReview,
	StatusQualified,
	StatusCompleted,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s == StatusCompleted }

// PlanningContext is captured once, when the goal is added.
type PlanningContext struct {
	Invariants        []string `json:"invariants,omitempty" yaml:"invariants"`
	Guidelines        []string `json:"guidelines,omitempty" yaml:"guidelines"`
	Components        []string `json:"components,omitempty" yaml:"components"`
	Dependencies      []string `json:"dependencies,omitempty" yaml:"dependencies"`
	ArchitectureNotes string   `json:"architecture_notes,omitempty" yaml:"architecture_notes"`
	FilesToCreate     []string `json:"files_to_create,omitempty" yaml:"files_to_create"`
	FilesToChange     []string `json:"files_to_change,omitempty" yaml:"files_to_change"`
}

// Empty reports whether no planning field is set.
func (p *PlanningContext) Empty() bool {
	if p == nil {
		return true
	}
	return len(p.Invariants) == 0 && len(p.Guidelines) == 0 && len(p.Components) == 0 &&
		len(p.Dependencies) == 0 && p.ArchitectureNotes == "" &&
		len(p.FilesToCreate) == 0 && len(p.FilesToChange) == 0
}

// Goal is the aggregate state derived from a goal's event stream.
type Goal struct {
	ID              GoalID           `json:"id"`
	Objective       string           `json:"objective"`
	SuccessCriteria []string         `json:"success_criteria,omitempty"`
	ScopeIn         []string         `json:"scope_in,omitempty"`
	ScopeOut        []string         `json:"scope_out,omitempty"`
	Boundaries      []string         `json:"boundaries,omitempty"`
	Status          Status           `json:"status"`
	Version         uint64           `json:"version"`
	Note            string           `json:"note,omitempty"`
	Planning        *PlanningContext `json:"planning,omitempty"`
	NextGoalID      GoalID           `json:"next_goal_id,omitempty"`
	ReviewTurns     int              `json:"review_turns"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Claim is a time-bounded lease on a goal held by one worker.
type Claim struct {
	GoalID         GoalID    `json:"goal_id"`
	ClaimedBy      WorkerID  `json:"claimed_by"`
	ClaimedAt      time.Time `json:"claimed_at"`
	ClaimExpiresAt time.Time `json:"claim_expires_at"`
}

// ActiveAt reports whether the claim is still in force at now. A claim
// expiring exactly at now is already expired.
func (c Claim) ActiveAt(now time.Time) bool {
	return now.Before(c.ClaimExpiresAt)
}

// GoalView is the read-model row: goal attributes plus denormalized claim columns.
type GoalView struct {
	Goal
	ClaimedBy      WorkerID   `json:"claimed_by,omitempty"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	ClaimExpiresAt *time.Time `json:"claim_expires_at,omitempty"`
}
